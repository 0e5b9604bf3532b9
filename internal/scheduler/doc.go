// Package scheduler owns the managed datasets of one process and decides
// when each of them runs a sync round.
//
// Each dataset moves through Idle, Due and Running. It is due when it has
// never completed a round, when its interval has elapsed since the last
// completed round, or when a sync was requested. A due dataset starts a
// round only when it is not paused and not already running; rounds of
// different datasets run concurrently.
//
// Every dataset operation is addressed by dataset id. Ids that are not
// managed fail with ErrUnknownDataset and touch neither storage nor the
// network.
package scheduler
