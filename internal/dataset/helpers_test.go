package dataset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/datasync/internal/store"
	"github.com/roach88/datasync/internal/testutil"
	"github.com/roach88/datasync/internal/value"
)

const testDatasetID = "tasks"

// fixture wires a Dataset to in-memory collaborators.
type fixture struct {
	store *store.MemoryStore
	net   *testutil.ScriptedNetwork
	sink  *testutil.RecordingSink
	clock *testutil.FakeClock
	ds    *Dataset
}

func testTime() time.Time {
	return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
}

func testConfig() SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.Notify = NotifyAll()
	return cfg
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		store: store.NewMemoryStore(),
		net:   testutil.NewScriptedNetwork(),
		sink:  testutil.NewRecordingSink(),
		clock: testutil.NewFakeClock(testTime()),
	}
	f.ds = f.open(t, opts...)
	return f
}

// open opens the fixture's dataset id over the fixture's collaborators.
func (f *fixture) open(t *testing.T, opts ...Option) *Dataset {
	t.Helper()
	base := []Option{WithClock(f.clock.Now), WithSyncConfig(testConfig())}
	ds, err := Open(context.Background(), testDatasetID, f.store, f.net, f.sink, append(base, opts...)...)
	require.NoError(t, err)
	return ds
}

// seed installs a confirmed record through a phase-2 delta, then clears
// the recorded notifications.
func (f *fixture) seed(t *testing.T, uid, data string) {
	t.Helper()
	hash := "seed-" + uid
	f.net.PushJSON(`{"hash":"` + hash + `"}`)
	f.net.PushJSON(`{"hash":"` + hash + `","create":{"` + uid + `":{"data":` + data + `}}}`)

	res, err := f.ds.Sync(context.Background())
	require.NoError(t, err)
	require.True(t, res.RecordsSynced)
	f.sink.Reset()
}

// sync runs one round and requires that it started.
func (f *fixture) sync(t *testing.T) RoundResult {
	t.Helper()
	res, err := f.ds.Sync(context.Background())
	require.NoError(t, err)
	return res
}

func parse(t *testing.T, text string) value.Value {
	t.Helper()
	v, err := value.Parse([]byte(text))
	require.NoError(t, err)
	return v
}

// failingStore rejects every write.
type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}
