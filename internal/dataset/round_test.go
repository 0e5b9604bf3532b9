package dataset

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datasync/internal/notify"
	"github.com/roach88/datasync/internal/testutil"
	"github.com/roach88/datasync/internal/value"
)

func appliedCreate(tempUID, serverUID string) string {
	return `{"hash":"g1","updates":{"applied":{"` + tempUID + `":{"uid":"` + serverUID +
		`","hash":"` + tempUID + `","action":"create","type":"applied"}}}}`
}

func TestSync_Offline(t *testing.T) {
	f := newFixture(t)
	f.net.SetOnline(false)

	res := f.sync(t)

	assert.Equal(t, StatusOffline, res.Status)
	assert.Empty(t, f.net.Requests())
	assert.Equal(t, []notify.Kind{notify.SyncStarted, notify.SyncCompleted}, f.sink.Kinds())
	assert.Equal(t, StatusOffline, f.sink.OfKind(notify.SyncCompleted)[0].Message)

	state := f.ds.State()
	assert.False(t, state.Syncing)
	assert.Equal(t, testTime(), state.LastSyncStart.UTC())
	assert.Equal(t, testTime(), state.LastSyncEnd.UTC())

	_, err := f.store.Get(context.Background(), testDatasetID)
	assert.NoError(t, err, "offline rounds still persist")
}

func TestSync_RequestShape(t *testing.T) {
	f := newFixture(t,
		WithQueryParams(value.Object{"owner": value.String("ada")}),
		WithMetadata(value.Object{"device": value.String("laptop")}))
	ctx := context.Background()

	entry, err := f.ds.Create(ctx, parse(t, `{"a":1}`))
	require.NoError(t, err)

	f.net.PushJSON(`{}`)
	res := f.sync(t)
	assert.Equal(t, StatusOnline, res.Status)
	assert.False(t, res.RecordsSynced)

	req := f.net.LastRequest()
	assert.Equal(t, testDatasetID, req.DatasetID)
	assert.Equal(t, "sync", req.Fn())
	assert.Equal(t, parse(t, `{"owner":"ada"}`), req.Params["query_params"])
	assert.Equal(t, parse(t, `{"device":"laptop"}`), req.Params["meta_data"])
	assert.Equal(t, value.Array{}, req.Params["acknowledgements"])
	_, hasHash := req.Params["dataset_hash"]
	assert.False(t, hasHash, "no dataset hash before the cloud reports one")

	sent, ok := req.Params.GetArray("pending")
	require.True(t, ok)
	require.Len(t, sent, 1)
	change := sent[0].(value.Object)
	assert.Equal(t, value.String(entry.UID), change["uid"])
	assert.Equal(t, value.String(entry.UID), change["hash"])
	assert.Equal(t, value.String("create"), change["action"])
	assert.Equal(t, parse(t, `{"a":1}`), change["post"])
	assert.Equal(t, value.Bool(true), change["inFlight"])

	pending := f.ds.Pending()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].InFlight)
	assert.False(t, pending[0].InFlightAt.IsZero())
}

func TestSync_AppliedCreateRemapsUID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.ds.Create(ctx, parse(t, `{"a":1}`))
	require.NoError(t, err)
	temp := entry.UID

	f.net.PushJSON(appliedCreate(temp, "srv-1"))
	f.net.PushJSON(`{"hash":"g1"}`)
	res := f.sync(t)
	assert.True(t, res.RecordsSynced)

	assert.Equal(t, []Entry{{UID: "srv-1", Data: parse(t, `{"a":1}`)}}, f.ds.List())
	assert.Empty(t, f.ds.Pending())
	_, err = f.ds.Read(temp)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	applied := f.sink.OfKind(notify.RemoteUpdateApplied)
	require.Len(t, applied, 1)
	assert.Equal(t, "srv-1", applied[0].UID)

	records := f.net.LastRequest()
	assert.Equal(t, "syncRecords", records.Fn())
	assert.Equal(t, value.Object{"srv-1": value.String(temp)}, records.Params["clientRecs"])

	completed := f.sink.OfKind(notify.SyncCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "g1", completed[0].UID)
	assert.Equal(t, StatusOnline, completed[0].Message)
}

func TestSync_AcknowledgementsCarryToNextRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.ds.Create(ctx, parse(t, `{"a":1}`))
	require.NoError(t, err)
	f.net.PushJSON(appliedCreate(entry.UID, "srv-1"))
	f.net.PushJSON(`{"hash":"g1"}`)
	f.sync(t)

	f.net.PushJSON(`{"hash":"g1"}`)
	f.sync(t)

	next := f.net.LastRequest()
	assert.Equal(t, "sync", next.Fn())
	assert.Equal(t, value.String("g1"), next.Params["dataset_hash"])

	acks, ok := next.Params.GetArray("acknowledgements")
	require.True(t, ok)
	require.Len(t, acks, 1)
	assert.Equal(t, value.String("srv-1"), acks[0].(value.Object)["uid"])
}

func TestSync_UnchangedGlobalHashSkipsRecords(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", `{"v":0}`)
	before := len(f.net.Requests())

	f.net.PushJSON(`{"hash":"seed-r1"}`)
	res := f.sync(t)
	f.net.PushJSON(`{"hash":"seed-r1"}`)
	f.sync(t)

	assert.False(t, res.RecordsSynced)
	reqs := f.net.Requests()[before:]
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, "sync", r.Fn())
	}
}

func TestSync_DeltasSkipPendingRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "r1", `{"v":0}`)
	f.seed(t, "r3", `{"v":0}`)

	_, err := f.ds.Update(ctx, "r1", parse(t, `{"v":1}`))
	require.NoError(t, err)
	f.sink.Reset()

	f.net.PushJSON(`{"hash":"g2"}`)
	f.net.PushJSON(`{
		"hash": "g2",
		"create": {"r2": {"data": {"b": 1}}},
		"update": {"r1": {"data": {"v": 99}}, "ghost": {"data": {}}},
		"delete": {"r3": {}}
	}`)
	res := f.sync(t)
	assert.True(t, res.RecordsSynced)

	r1, err := f.ds.Read("r1")
	require.NoError(t, err)
	assert.Equal(t, parse(t, `{"v":1}`), r1.Data, "local edit wins while unconfirmed")

	r2, err := f.ds.Read("r2")
	require.NoError(t, err)
	assert.Equal(t, parse(t, `{"b":1}`), r2.Data)

	_, err = f.ds.Read("r3")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = f.ds.Read("ghost")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	deltas := f.sink.OfKind(notify.DeltaReceived)
	require.Len(t, deltas, 2)
	assert.Equal(t, "r2", deltas[0].UID)
	assert.Equal(t, "create", deltas[0].Message)
	assert.Equal(t, "r3", deltas[1].UID)
	assert.Equal(t, "delete", deltas[1].Message)

	assert.Equal(t, "g2", f.ds.State().GlobalHash)
}

func TestSync_DeltaReplacesConfirmedRecord(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", `{"v":0}`)

	f.net.PushJSON(`{"hash":"g2"}`)
	f.net.PushJSON(`{"hash":"g2","update":{"r1":{"data":{"v":5}}}}`)
	res := f.sync(t)
	assert.True(t, res.RecordsSynced)

	r1, err := f.ds.Read("r1")
	require.NoError(t, err)
	assert.Equal(t, parse(t, `{"v":5}`), r1.Data)

	deltas := f.sink.OfKind(notify.DeltaReceived)
	require.Len(t, deltas, 1)
	assert.Equal(t, "r1", deltas[0].UID)
	assert.Equal(t, "update", deltas[0].Message)

	// The next records request reports the hash of the new content.
	f.net.PushJSON(`{"hash":"g3"}`)
	f.net.PushJSON(`{"hash":"g3"}`)
	f.sync(t)

	records := f.net.LastRequest()
	require.Equal(t, "syncRecords", records.Fn())
	want := value.MustHash(parse(t, `{"v":5}`))
	assert.Equal(t, value.Object{"r1": value.String(want)}, records.Params["clientRecs"])
	assert.NotEqual(t, value.MustHash(parse(t, `{"v":0}`)), want)
}

func TestSync_TransportFailureCrashesInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ds.Create(ctx, parse(t, `{"a":1}`))
	require.NoError(t, err)

	f.net.PushError(errors.New("connection reset"))
	res := f.sync(t)

	assert.Equal(t, "connection reset", res.Status)
	require.Error(t, res.Err)

	pending := f.ds.Pending()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].InFlight)
	assert.True(t, pending[0].Crashed)

	assert.Equal(t, []notify.Kind{
		notify.LocalUpdateApplied,
		notify.SyncStarted,
		notify.SyncFailed,
		notify.SyncCompleted,
	}, f.sink.Kinds())
	assert.Equal(t, "connection reset", f.sink.OfKind(notify.SyncCompleted)[0].Message)
	assert.False(t, f.ds.State().Syncing)
}

func TestSync_MalformedResponseAppliesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.ds.Create(ctx, parse(t, `{"a":1}`))
	require.NoError(t, err)

	// The applied entry is valid but the failed bucket is not, so neither
	// may be applied.
	f.net.PushJSON(`{"hash":"g1","updates":{
		"applied":{"` + entry.UID + `":{"uid":"srv-1","action":"create","type":"applied"}},
		"failed":"oops"}}`)
	res := f.sync(t)

	require.Error(t, res.Err)
	assert.True(t, IsResponseError(res.Err))

	assert.Equal(t, []Entry{entry}, f.ds.List())
	pending := f.ds.Pending()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Crashed)
	assert.Empty(t, f.ds.State().GlobalHash)
	assert.Len(t, f.net.Requests(), 1)
}

func TestSync_RecordsFailureKeepsChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "r1", `{"v":0}`)

	_, err := f.ds.Update(ctx, "r1", parse(t, `{"v":1}`))
	require.NoError(t, err)

	f.net.PushJSON(`{"hash":"g2"}`)
	f.net.PushError(errors.New("timeout"))
	res := f.sync(t)

	require.Error(t, res.Err)
	assert.Equal(t, "seed-r1", f.ds.State().GlobalHash)

	pending := f.ds.Pending()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].InFlight)
	assert.False(t, pending[0].Crashed, "only a failed sync request crashes changes")
	assert.Equal(t, 1, f.sink.Count(notify.SyncFailed))
}

func TestCrashRecovery_ResolvesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.ds.Create(ctx, parse(t, `{"a":1}`))
	require.NoError(t, err)
	f.net.PushError(errors.New("connection reset"))
	f.sync(t)

	resolution := `{"updates":{"hashes":{"` + entry.UID + `":{"uid":"srv-1","hash":"` +
		entry.UID + `","action":"create","type":"applied"}}}}`

	f.net.PushJSON(resolution)
	f.sync(t)

	sent, _ := f.net.LastRequest().Params.GetArray("pending")
	assert.Empty(t, sent, "crashed changes are not resent while awaiting resolution")

	assert.Empty(t, f.ds.Pending())
	assert.Equal(t, []Entry{{UID: "srv-1", Data: parse(t, `{"a":1}`)}}, f.ds.List())
	assert.Equal(t, 1, f.sink.Count(notify.RemoteUpdateApplied))

	f.net.PushJSON(resolution)
	f.sync(t)
	assert.Equal(t, 1, f.sink.Count(notify.RemoteUpdateApplied))
}

func TestCrashRecovery_FailedUpdateRestoresPreImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "r1", `{"v":0}`)

	_, err := f.ds.Update(ctx, "r1", parse(t, `{"v":1}`))
	require.NoError(t, err)
	key := f.ds.Pending()[0].Key

	f.net.PushError(errors.New("connection reset"))
	f.sync(t)

	f.net.PushJSON(`{"updates":{"hashes":{"` + key + `":{"uid":"r1","action":"update","type":"failed"}}}}`)
	f.sync(t)

	got, err := f.ds.Read("r1")
	require.NoError(t, err)
	assert.Equal(t, parse(t, `{"v":0}`), got.Data)
	assert.Empty(t, f.ds.Pending())
	assert.Equal(t, 1, f.sink.Count(notify.RemoteUpdateFailed))
}

func TestCrashRecovery_FailedCreateRemovesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.ds.Create(ctx, parse(t, `{"a":1}`))
	require.NoError(t, err)
	f.net.PushError(errors.New("connection reset"))
	f.sync(t)

	f.net.PushJSON(`{"updates":{"hashes":{"` + entry.UID + `":{"uid":"` + entry.UID +
		`","action":"create","type":"failed"}}}}`)
	f.sync(t)

	assert.Empty(t, f.ds.List())
	assert.Empty(t, f.ds.Pending())
}

func TestCrashRecovery_LimitDropsWithoutResend(t *testing.T) {
	cfg := testConfig()
	cfg.CrashCountWait = 1
	cfg.ResendCrashedUpdates = false
	f := newFixture(t, WithSyncConfig(cfg))
	ctx := context.Background()

	entry, err := f.ds.Create(ctx, parse(t, `{"a":1}`))
	require.NoError(t, err)
	f.net.PushError(errors.New("connection reset"))
	f.sync(t)

	f.net.PushJSON(`{}`)
	f.sync(t)
	require.Len(t, f.ds.Pending(), 1)
	assert.Equal(t, 1, f.ds.Pending()[0].CrashCount)

	f.net.PushJSON(`{}`)
	f.sync(t)
	assert.Empty(t, f.ds.Pending())

	failed := f.sink.OfKind(notify.RemoteUpdateFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, entry.UID, failed[0].UID)

	// The local record is left in place.
	assert.Len(t, f.ds.List(), 1)
}

func TestCrashRecovery_LimitResends(t *testing.T) {
	cfg := testConfig()
	cfg.CrashCountWait = 1
	f := newFixture(t, WithSyncConfig(cfg))
	ctx := context.Background()

	entry, err := f.ds.Create(ctx, parse(t, `{"a":1}`))
	require.NoError(t, err)
	f.net.PushError(errors.New("connection reset"))
	f.sync(t)

	f.net.PushJSON(`{}`)
	f.sync(t)
	f.net.PushJSON(`{}`)
	f.sync(t)

	pending := f.ds.Pending()
	require.Len(t, pending, 1)
	assert.False(t, pending[0].InFlight)
	assert.False(t, pending[0].Crashed)
	assert.Zero(t, pending[0].CrashCount)

	f.net.PushJSON(`{}`)
	f.sync(t)
	sent, ok := f.net.LastRequest().Params.GetArray("pending")
	require.True(t, ok)
	require.Len(t, sent, 1)
	assert.Equal(t, value.String(entry.UID), sent[0].(value.Object)["uid"])
}

func TestDelay_EditDuringRoundWaitsForPredecessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "r1", `{"v":0}`)

	_, err := f.ds.Update(ctx, "r1", parse(t, `{"v":1}`))
	require.NoError(t, err)
	firstKey := f.ds.Pending()[0].Key

	f.net.PushFunc(func(ctx context.Context, req testutil.Request) (value.Object, error) {
		_, err := f.ds.Update(ctx, "r1", parse(t, `{"v":2}`))
		require.NoError(t, err)

		pending := f.ds.Pending()
		require.Len(t, pending, 2)
		assert.True(t, pending[1].Delayed)
		assert.Equal(t, firstKey, pending[1].WaitingOn)

		return value.ParseObject([]byte(`{"updates":{"applied":{"` + firstKey +
			`":{"uid":"r1","action":"update","type":"applied"}}}}`))
	})
	f.sync(t)

	pending := f.ds.Pending()
	require.Len(t, pending, 1)
	assert.NotEqual(t, firstKey, pending[0].Key)
	assert.False(t, pending[0].Delayed)
	assert.Empty(t, pending[0].WaitingOn)
	assert.Equal(t, parse(t, `{"v":1}`), pending[0].Pre.Payload())
	assert.Equal(t, parse(t, `{"v":2}`), pending[0].Post.Payload())

	// The released change goes out on the next round.
	f.net.PushJSON(`{}`)
	f.sync(t)
	sent, _ := f.net.LastRequest().Params.GetArray("pending")
	assert.Len(t, sent, 1)
}

func TestDelay_ReleasedWhenCrashedPredecessorResolves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "r1", `{"v":0}`)

	_, err := f.ds.Update(ctx, "r1", parse(t, `{"v":1}`))
	require.NoError(t, err)
	updateKey := f.ds.Pending()[0].Key

	f.net.PushError(errors.New("connection reset"))
	f.sync(t)

	_, err = f.ds.Delete(ctx, "r1")
	require.NoError(t, err)

	pending := f.ds.Pending()
	require.Len(t, pending, 2)
	del := pending[1]
	assert.Equal(t, ActionDelete, del.Action)
	assert.True(t, del.Delayed)
	assert.Equal(t, updateKey, del.WaitingOn)

	f.sink.Reset()
	f.net.PushJSON(`{"updates":{"hashes":{"` + updateKey +
		`":{"uid":"r1","hash":"` + updateKey + `","action":"update","type":"applied"}}}}`)
	f.sync(t)

	sent, _ := f.net.LastRequest().Params.GetArray("pending")
	assert.Empty(t, sent, "a delayed change is held for the round that resolves its predecessor")

	pending = f.ds.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, del.Key, pending[0].Key)
	assert.False(t, pending[0].Delayed)
	assert.Empty(t, pending[0].WaitingOn)

	applied := f.sink.OfKind(notify.RemoteUpdateApplied)
	require.Len(t, applied, 1)
	assert.Equal(t, "r1", applied[0].UID)

	f.net.PushJSON(`{}`)
	f.sync(t)
	sent, ok := f.net.LastRequest().Params.GetArray("pending")
	require.True(t, ok)
	require.Len(t, sent, 1)
	change := sent[0].(value.Object)
	assert.Equal(t, value.String("delete"), change["action"])
	assert.Equal(t, value.String("r1"), change["uid"])
	assert.Equal(t, 1, f.sink.Count(notify.RemoteUpdateApplied))
}

func TestReleaseDelayed(t *testing.T) {
	tests := []struct {
		name        string
		predecessor bool // predecessor still queued
		resolved    bool // predecessor key reported in updates.hashes
		wantDelayed bool
	}{
		{"predecessor resolved by hashes", true, true, false},
		{"predecessor gone", false, false, false},
		{"predecessor outstanding", true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d := f.ds

			d.mu.Lock()
			defer d.mu.Unlock()

			if tt.predecessor {
				d.pending["k1"] = &PendingChange{Key: "k1", UID: "r1", Action: ActionUpdate, InFlight: true, Seq: 1}
			}
			d.pending["k2"] = &PendingChange{Key: "k2", UID: "r1", Action: ActionDelete, Delayed: true, WaitingOn: "k1", Seq: 2}

			resp := &syncResponse{Hashes: map[string]updateEntry{}}
			if tt.resolved {
				resp.Hashes["k1"] = updateEntry{Key: "k1", UID: "r1", Action: ActionUpdate}
			}
			d.releaseDelayedLocked(resp)

			assert.Equal(t, tt.wantDelayed, d.pending["k2"].Delayed)
			if tt.wantDelayed {
				assert.Equal(t, "k1", d.pending["k2"].WaitingOn)
			} else {
				assert.Empty(t, d.pending["k2"].WaitingOn)
			}
		})
	}
}

func TestRemap_NoReferenceToTemporaryUID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.ds.Create(ctx, parse(t, `{"a":1}`))
	require.NoError(t, err)
	temp := entry.UID

	f.net.PushFunc(func(ctx context.Context, req testutil.Request) (value.Object, error) {
		_, err := f.ds.Update(ctx, temp, parse(t, `{"a":2}`))
		require.NoError(t, err)
		return value.ParseObject([]byte(`{"updates":{"applied":{"` + temp + `":{"uid":"srv-1","hash":"` +
			temp + `","action":"create","type":"applied"}}}}`))
	})
	f.sync(t)

	for _, e := range f.ds.List() {
		assert.NotEqual(t, temp, e.UID)
	}
	got, err := f.ds.Read("srv-1")
	require.NoError(t, err)
	assert.Equal(t, parse(t, `{"a":2}`), got.Data)

	pending := f.ds.Pending()
	require.Len(t, pending, 1)
	p := pending[0]
	assert.Equal(t, "srv-1", p.UID)
	assert.Equal(t, "srv-1", p.Pre.UID())
	assert.Equal(t, "srv-1", p.Post.UID())
	assert.False(t, p.Delayed)

	// The follow-up update now merges through the remapped uid.
	_, err = f.ds.Update(ctx, "srv-1", parse(t, `{"a":3}`))
	require.NoError(t, err)
	assert.Len(t, f.ds.Pending(), 1)
}

func TestSync_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ds.SetPaused(true)
	_, err := f.ds.Sync(ctx)
	assert.ErrorIs(t, err, ErrSyncPaused)
	f.ds.SetPaused(false)

	var nested error
	f.net.PushFunc(func(ctx context.Context, req testutil.Request) (value.Object, error) {
		_, nested = f.ds.Sync(ctx)
		return value.Object{}, nil
	})
	f.sync(t)
	assert.ErrorIs(t, nested, ErrSyncInProgress)
}

func TestSync_CloseDuringRoundIgnoresResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ds.Create(ctx, parse(t, `{"a":1}`))
	require.NoError(t, err)
	before, err := f.store.Get(ctx, testDatasetID)
	require.NoError(t, err)

	f.net.PushFunc(func(ctx context.Context, req testutil.Request) (value.Object, error) {
		f.ds.Close()
		return value.ParseObject([]byte(`{"hash":"g9"}`))
	})
	_, err = f.ds.Sync(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	after, err := f.store.Get(ctx, testDatasetID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Zero(t, f.sink.Count(notify.SyncCompleted))
}

func TestNotify_FilteredByConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Notify = NotifyOf(notify.SyncCompleted)
	f := newFixture(t, WithSyncConfig(cfg))
	f.net.SetOnline(false)

	_, err := f.ds.Create(context.Background(), parse(t, `{"a":1}`))
	require.NoError(t, err)
	f.sync(t)

	assert.Equal(t, []notify.Kind{notify.SyncCompleted}, f.sink.Kinds())
}
