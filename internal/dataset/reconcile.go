package dataset

import (
	"strconv"

	"github.com/roach88/datasync/internal/notify"
	"github.com/roach88/datasync/internal/value"
)

// applySyncResponse applies a validated phase-1 response. It returns the
// phase-2 request when the cloud's dataset hash differs from the local one.
func (d *Dataset) applySyncResponse(resp *syncResponse) (value.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	d.resolveCrashedLocked(resp)
	d.releaseDelayedLocked(resp)
	d.pruneResolvedMetaLocked(resp)

	if resp.HasUpdates {
		d.remapCreatedLocked(resp.Applied)

		acks := value.Array{}
		acks = d.processUpdatesLocked(resp.Applied, notify.RemoteUpdateApplied, acks)
		acks = d.processUpdatesLocked(resp.Failed, notify.RemoteUpdateFailed, acks)
		acks = d.processUpdatesLocked(resp.Collisions, notify.CollisionDetected, acks)
		d.acks = acks

		// Predecessors resolved above no longer hold anything back.
		d.releaseDelayedLocked(resp)
		d.pruneOrphanedMetaLocked()
	}

	if !resp.HasHash || resp.Hash == d.globalHash {
		d.logger.Debug("local dataset up to date", "global_hash", d.globalHash)
		return nil, nil
	}

	d.logger.Debug("local dataset stale, syncing records",
		"local_hash", d.globalHash,
		"remote_hash", resp.Hash)

	clientRecs := make(value.Object, len(d.records))
	for uid, rec := range d.records {
		clientRecs[uid] = value.String(rec.hash)
	}
	req := d.baseRequestLocked("syncRecords")
	req["clientRecs"] = clientRecs
	return req, nil
}

// resolveCrashedLocked settles crashed changes the cloud has an outcome for
// and ages the rest.
func (d *Dataset) resolveCrashedLocked(resp *syncResponse) {
	resolved := map[string]bool{}

	for _, p := range d.orderedPendingLocked() {
		if !p.InFlight || !p.Crashed {
			continue
		}

		entry, ok := resp.Hashes[p.Key]
		if !ok {
			p.CrashCount++
			continue
		}

		d.logger.Info("resolving crashed change",
			"key", p.Key,
			"uid", p.UID,
			"resolution", entry.Type)
		resolved[p.Key] = true

		if entry.Type == resolutionFailed {
			switch entry.Action {
			case ActionCreate:
				delete(d.records, p.UID)
			case ActionUpdate, ActionDelete:
				if p.Pre != nil {
					d.records[p.UID] = *p.Pre
				}
			}
		}

		delete(d.pending, p.Key)
		if entry.Type == resolutionApplied && entry.Action == ActionCreate && entry.UID != p.UID {
			d.remapLocked(p.UID, entry.UID)
		}

		if kind, ok := resolutionKind(entry.Type); ok {
			d.emit(kind, entry.UID, value.Format(entry.Raw))
		}
	}

	for _, p := range d.orderedPendingLocked() {
		switch {
		case p.InFlight && p.Crashed && p.CrashCount > d.config.CrashCountWait:
			if d.config.ResendCrashedUpdates {
				d.logger.Info("resending crashed change", "key", p.Key, "crash_count", p.CrashCount)
				p.Crashed = false
				p.InFlight = false
				p.CrashCount = 0
				continue
			}
			d.logger.Warn("dropping crashed change", "key", p.Key, "crash_count", p.CrashCount)
			delete(d.pending, p.Key)
			d.emit(notify.RemoteUpdateFailed, p.UID, "crashed change dropped after "+strconv.Itoa(p.CrashCount)+" rounds")

		case !p.InFlight && p.Crashed && resolved[p.WaitingOn]:
			p.Crashed = false
		}
	}
}

func resolutionKind(t string) (notify.Kind, bool) {
	switch t {
	case resolutionApplied:
		return notify.RemoteUpdateApplied, true
	case resolutionFailed:
		return notify.RemoteUpdateFailed, true
	case resolutionCollisions:
		return notify.CollisionDetected, true
	}
	return 0, false
}

// releaseDelayedLocked lets delayed changes go out once the change they
// wait on is resolved or gone.
func (d *Dataset) releaseDelayedLocked(resp *syncResponse) {
	for _, p := range d.pending {
		if !p.Delayed {
			continue
		}
		_, resolved := resp.Hashes[p.WaitingOn]
		_, stillPending := d.pending[p.WaitingOn]
		if p.WaitingOn == "" || p.WaitingOn == p.Key || resolved || !stillPending {
			p.Delayed = false
			p.WaitingOn = ""
		}
	}
}

// pruneResolvedMetaLocked drops record links to changes the cloud resolved.
func (d *Dataset) pruneResolvedMetaLocked(resp *syncResponse) {
	for uid, m := range d.meta {
		if _, ok := resp.Hashes[m.PendingKey]; ok {
			delete(d.meta, uid)
		}
	}
}

// pruneOrphanedMetaLocked drops record links to changes no longer pending.
func (d *Dataset) pruneOrphanedMetaLocked() {
	for uid, m := range d.meta {
		if _, ok := d.pending[m.PendingKey]; !ok {
			delete(d.meta, uid)
		}
	}
}

// remapCreatedLocked moves records created locally under their content
// hash to the uid the cloud assigned.
func (d *Dataset) remapCreatedLocked(applied []updateEntry) {
	for _, e := range applied {
		if e.Action != ActionCreate || e.Hash == "" || e.UID == "" || e.Hash == e.UID {
			continue
		}
		d.remapLocked(e.Hash, e.UID)
	}
}

// remapLocked replaces every reference to uid from with to.
func (d *Dataset) remapLocked(from, to string) {
	d.logger.Debug("remapping uid", "from", from, "to", to)

	if rec, ok := d.records[from]; ok {
		delete(d.records, from)
		d.records[to] = rec.withUID(to)
	}
	if m, ok := d.meta[from]; ok {
		delete(d.meta, from)
		d.meta[to] = m
	}
	for _, p := range d.pending {
		if p.UID == from {
			p.remap(to)
		}
	}
}

// processUpdatesLocked acknowledges every entry of one response bucket and
// settles the matching in-flight changes.
func (d *Dataset) processUpdatesLocked(entries []updateEntry, kind notify.Kind, acks value.Array) value.Array {
	for _, e := range entries {
		acks = append(acks, value.CloneObject(e.Raw))

		p, ok := d.pending[e.Key]
		if !ok || !p.InFlight || p.Crashed {
			continue
		}
		delete(d.pending, e.Key)
		d.emit(kind, e.UID, value.Format(e.Raw))
	}
	return acks
}

// applyRecords applies phase-2 deltas, skipping records that still have
// unconfirmed local changes.
func (d *Dataset) applyRecords(resp *recordsResponse) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	pendingUIDs := make(map[string]bool, len(d.pending))
	for _, p := range d.pending {
		pendingUIDs[p.UID] = true
	}

	for _, delta := range resp.Create {
		if pendingUIDs[delta.UID] {
			continue
		}
		rec, ok := d.deltaRecordLocked(delta)
		if !ok {
			continue
		}
		d.records[delta.UID] = rec
		d.emit(notify.DeltaReceived, delta.UID, string(ActionCreate))
	}

	for _, delta := range resp.Update {
		if pendingUIDs[delta.UID] {
			continue
		}
		if _, exists := d.records[delta.UID]; !exists {
			d.logger.Debug("ignoring update for unknown record", "uid", delta.UID)
			continue
		}
		rec, ok := d.deltaRecordLocked(delta)
		if !ok {
			continue
		}
		d.records[delta.UID] = rec
		d.emit(notify.DeltaReceived, delta.UID, string(ActionUpdate))
	}

	for _, uid := range resp.Delete {
		if pendingUIDs[uid] {
			continue
		}
		delete(d.records, uid)
		d.emit(notify.DeltaReceived, uid, string(ActionDelete))
	}

	if resp.HasHash {
		d.globalHash = resp.Hash
	}
	return nil
}

// deltaRecordLocked builds a record from cloud data. The local content
// hash is authoritative; a differing cloud hash is only logged.
func (d *Dataset) deltaRecordLocked(delta recordDelta) (Record, bool) {
	rec, err := NewRecord(delta.UID, delta.Data)
	if err != nil {
		d.logger.Warn("skipping undecodable delta", "uid", delta.UID, "error", err)
		return Record{}, false
	}
	if delta.Hash != "" && delta.Hash != rec.hash {
		d.logger.Debug("cloud record hash differs from content hash",
			"uid", delta.UID,
			"cloud_hash", delta.Hash,
			"content_hash", rec.hash)
	}
	return rec, true
}
