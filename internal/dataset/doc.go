// Package dataset implements the offline-first reconciliation engine for a
// single named dataset.
//
// A Dataset mirrors the remote records locally and accepts create, update
// and delete calls while offline. Every local edit is applied optimistically
// and queued as a PendingChange; Sync runs one two-phase round against the
// cloud:
//
//  1. "sync" sends the queued changes and the last known dataset hash. The
//     response resolves earlier changes (applied, failed, collisions), may
//     assign server uids to records created locally, and carries the current
//     dataset hash.
//  2. "syncRecords" runs only when that hash differs from the local one. It
//     sends every local uid with its content hash and applies the create,
//     update and delete deltas the cloud returns, skipping records that
//     still have unconfirmed local changes.
//
// # Pending-change lifecycle
//
// A change is local until a round sends it, which marks it in flight. A
// round that fails in transport marks every in-flight change crashed; later
// rounds look each crashed change up in the resolution map the cloud
// returns, and after CrashCountWait misses it is either resent or dropped.
// A change enqueued while another change on the same record is in flight is
// delayed until that predecessor resolves. Changes that are still local
// merge instead of queueing twice.
//
// # Identity
//
// Records, pending Create changes and the uid of a locally created record
// are all identified by the content hash of the payload (see
// value.Hash). Update and Delete changes use value.ChangeKey with a
// per-dataset sequence number, so concurrent changes never share a key.
//
// # Concurrency
//
// All state sits behind one mutex per dataset. The lock is released while a
// round waits on the network, so local edits proceed during a round; a
// dataset never runs two rounds at once.
package dataset
