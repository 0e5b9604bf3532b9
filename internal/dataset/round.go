package dataset

import (
	"context"

	"github.com/roach88/datasync/internal/notify"
	"github.com/roach88/datasync/internal/value"
)

// Round completion statuses. A failed round reports the error text instead.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// RoundResult describes how a sync round ended.
type RoundResult struct {
	// Status is StatusOnline, StatusOffline, or the failure text.
	Status string
	// Err is the transport or response error that ended the round early.
	Err error
	// RecordsSynced reports whether the syncRecords phase ran and applied.
	RecordsSynced bool
}

// Sync runs one sync round. It returns an error only when the round could
// not start (ErrSyncInProgress, ErrSyncPaused, ErrClosed) or when the
// dataset was closed while the round waited on the network. Transport and
// response failures end the round normally and are reported in the result.
func (d *Dataset) Sync(ctx context.Context) (RoundResult, error) {
	req, online, err := d.beginRound()
	if err != nil {
		return RoundResult{}, err
	}
	if !online {
		return d.completeRound(ctx, RoundResult{Status: StatusOffline})
	}

	raw, err := d.client.Perform(ctx, d.id, req)
	var resp *syncResponse
	if err == nil {
		resp, err = parseSyncResponse(raw)
	}
	if err != nil {
		return d.failRound(ctx, err, true)
	}

	recordsReq, err := d.applySyncResponse(resp)
	if err != nil {
		return RoundResult{}, err
	}
	if recordsReq == nil {
		return d.completeRound(ctx, RoundResult{Status: StatusOnline})
	}

	raw, err = d.client.Perform(ctx, d.id, recordsReq)
	var recs *recordsResponse
	if err == nil {
		recs, err = parseRecordsResponse(raw)
	}
	if err != nil {
		return d.failRound(ctx, err, false)
	}

	if err := d.applyRecords(recs); err != nil {
		return RoundResult{}, err
	}
	return d.completeRound(ctx, RoundResult{Status: StatusOnline, RecordsSynced: true})
}

// beginRound checks preconditions, marks the round started and, when
// online, builds the phase-1 request, marking each sent change in flight.
func (d *Dataset) beginRound() (value.Object, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.closed:
		return nil, false, ErrClosed
	case d.syncing:
		return nil, false, ErrSyncInProgress
	case d.paused:
		return nil, false, ErrSyncPaused
	}

	d.syncing = true
	d.syncRequested = false
	d.lastSyncStart = d.clock()
	d.emit(notify.SyncStarted, "", "")

	if !d.client.IsOnline() {
		return nil, false, nil
	}

	now := d.clock()
	outgoing := value.Array{}
	for _, p := range d.orderedPendingLocked() {
		if p.InFlight || p.Crashed || p.Delayed {
			continue
		}
		p.InFlight = true
		p.InFlightAt = now
		outgoing = append(outgoing, p.toValue())
	}

	req := d.baseRequestLocked("sync")
	req["acknowledgements"] = value.Clone(d.acks)
	req["pending"] = outgoing
	if d.globalHash != "" {
		req["dataset_hash"] = value.String(d.globalHash)
	}

	d.logger.Debug("starting sync round",
		"global_hash", d.globalHash,
		"pending_sent", len(outgoing),
		"acknowledgements", len(d.acks))
	return req, true, nil
}

func (d *Dataset) baseRequestLocked(fn string) value.Object {
	req := value.Object{
		"fn":           value.String(fn),
		"dataset_id":   value.String(d.id),
		"query_params": value.Object{},
		"meta_data":    value.Object{},
	}
	if d.queryParams != nil {
		req["query_params"] = value.CloneObject(d.queryParams)
	}
	if d.metadata != nil {
		req["meta_data"] = value.CloneObject(d.metadata)
	}
	return req
}

// failRound ends a round whose request did not complete. When the phase-1
// request failed, every in-flight change has an unknown outcome and is
// marked crashed.
func (d *Dataset) failRound(ctx context.Context, cause error, markCrashed bool) (RoundResult, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return RoundResult{}, ErrClosed
	}

	crashed := 0
	if markCrashed {
		for _, p := range d.pending {
			if p.InFlight {
				p.Crashed = true
				crashed++
			}
		}
	}
	d.logger.Warn("sync round failed",
		"error", cause,
		"crashed", crashed,
		"response_error", IsResponseError(cause))
	d.emit(notify.SyncFailed, "", cause.Error())
	d.mu.Unlock()

	return d.completeRound(ctx, RoundResult{Status: cause.Error(), Err: cause})
}

// completeRound clears the running flag, persists and notifies.
func (d *Dataset) completeRound(ctx context.Context, result RoundResult) (RoundResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.syncing = false
	if d.closed {
		return RoundResult{}, ErrClosed
	}

	d.lastSyncEnd = d.clock()
	d.persistLocked(ctx)
	d.emit(notify.SyncCompleted, d.globalHash, result.Status)
	d.logger.Debug("sync round complete",
		"status", result.Status,
		"records_synced", result.RecordsSynced,
		"pending", len(d.pending))
	return result, nil
}
