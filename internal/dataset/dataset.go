package dataset

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/datasync/internal/notify"
	"github.com/roach88/datasync/internal/store"
	"github.com/roach88/datasync/internal/transport"
	"github.com/roach88/datasync/internal/value"
)

// recordMeta links a record to the pending change that last touched it.
type recordMeta struct {
	FromPending bool
	PendingKey  string
}

// Dataset is the local mirror of one remote dataset.
//
// Thread-safety: every exported method is safe for concurrent use.
type Dataset struct {
	id      string
	storage store.Storage
	client  transport.Client
	sink    notify.Sink
	logger  *slog.Logger
	now     func() time.Time

	mu            sync.Mutex
	records       map[string]Record
	pending       map[string]*PendingChange
	meta          map[string]recordMeta
	globalHash    string // empty until the cloud reports one
	queryParams   value.Object
	metadata      value.Object
	acks          value.Array
	lastSyncStart time.Time
	lastSyncEnd   time.Time
	syncing       bool
	syncRequested bool
	paused        bool
	closed        bool
	config        SyncConfig
	seq           int64
}

// Option configures a Dataset at Open.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	now         func() time.Time
	config      *SyncConfig
	queryParams value.Object
	metadata    value.Object
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock injects the time source used for round and change timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSyncConfig overrides the stored (or default) sync configuration.
func WithSyncConfig(cfg SyncConfig) Option {
	return func(o *options) {
		o.config = &cfg
	}
}

// WithQueryParams overrides the stored query parameters sent with every request.
func WithQueryParams(params value.Object) Option {
	return func(o *options) {
		o.queryParams = value.CloneObject(params)
	}
}

// WithMetadata overrides the stored custom metadata sent with every request.
func WithMetadata(meta value.Object) Option {
	return func(o *options) {
		o.metadata = value.CloneObject(meta)
	}
}

// Open loads the dataset snapshot from storage, or starts empty when none
// exists. A snapshot that cannot be read or decoded is reported through a
// ClientStorageFailed notification and the dataset starts empty; the next
// successful persist replaces it.
func Open(ctx context.Context, id string, storage store.Storage, client transport.Client, sink notify.Sink, opts ...Option) (*Dataset, error) {
	if id == "" {
		return nil, errors.New("dataset id is required")
	}
	if storage == nil || client == nil {
		return nil, errors.New("dataset requires storage and a network client")
	}
	if sink == nil {
		sink = notify.Discard
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Dataset{
		id:      id,
		storage: storage,
		client:  client,
		sink:    sink,
		logger:  slog.Default(),
		now:     time.Now,
		records: make(map[string]Record),
		pending: make(map[string]*PendingChange),
		meta:    make(map[string]recordMeta),
		acks:    value.Array{},
		config:  DefaultSyncConfig(),
	}
	if o.logger != nil {
		d.logger = o.logger
	}
	if o.now != nil {
		d.now = o.now
	}
	d.logger = d.logger.With("dataset_id", id)

	d.mu.Lock()
	defer d.mu.Unlock()

	loaded, loadErr := d.loadLocked(ctx)

	if o.config != nil {
		if err := o.config.Validate(); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", id, err)
		}
		d.config = *o.config
	}
	if o.queryParams != nil {
		d.queryParams = o.queryParams
	}
	if o.metadata != nil {
		d.metadata = o.metadata
	}

	if loadErr != nil {
		d.emit(notify.ClientStorageFailed, "", loadErr.Error())
	}
	if loaded {
		d.emit(notify.LocalUpdateApplied, "", "load")
	}
	return d, nil
}

// loadLocked restores the stored snapshot. It reports whether a snapshot
// was applied and any error that made the dataset start empty.
func (d *Dataset) loadLocked(ctx context.Context) (bool, error) {
	raw, err := d.storage.Get(ctx, d.id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		d.logger.Error("failed to read snapshot", "error", err)
		return false, err
	}
	if err := d.restoreLocked(raw); err != nil {
		d.logger.Error("failed to decode snapshot, starting empty", "error", err)
		return false, err
	}
	d.logger.Debug("snapshot loaded",
		"records", len(d.records),
		"pending", len(d.pending))
	return true, nil
}

// ID returns the dataset id.
func (d *Dataset) ID() string {
	return d.id
}

// clock returns the current time truncated to the millisecond, the
// resolution snapshots keep.
func (d *Dataset) clock() time.Time {
	return time.UnixMilli(d.now().UnixMilli())
}

// emit sends a notification if the config enables its kind.
func (d *Dataset) emit(kind notify.Kind, uid, message string) {
	if !d.config.Notify.Has(kind) {
		return
	}
	d.sink.Notify(notify.Notification{
		DatasetID: d.id,
		UID:       uid,
		Kind:      kind,
		Message:   message,
	})
}

// persistLocked writes the snapshot. Failures are reported, not returned:
// in-memory state stays authoritative until the next successful write.
func (d *Dataset) persistLocked(ctx context.Context) {
	data, err := d.marshalSnapshotLocked()
	if err == nil {
		err = d.storage.Put(context.WithoutCancel(ctx), d.id, data)
	}
	if err != nil {
		d.logger.Error("failed to persist snapshot", "error", err)
		d.emit(notify.ClientStorageFailed, "", err.Error())
	}
}

// Persist writes the current snapshot. Failures are reported the same way
// as for automatic writes.
func (d *Dataset) Persist(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.persistLocked(ctx)
}

// List returns a copy of every record, ordered by uid.
func (d *Dataset) List() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := make([]Entry, 0, len(d.records))
	for _, uid := range sortedKeys(d.records) {
		entries = append(entries, d.records[uid].entry())
	}
	return entries
}

// Read returns a copy of one record.
func (d *Dataset) Read(uid string) (Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[uid]
	if !ok {
		return Entry{}, fmt.Errorf("read %q: %w", uid, ErrRecordNotFound)
	}
	return rec.entry(), nil
}

// Create adds a record locally and queues it for the cloud. The returned
// uid is the payload's content hash until the cloud assigns its own.
func (d *Dataset) Create(ctx context.Context, payload value.Value) (Entry, error) {
	post, err := NewRecord("", payload)
	if err != nil {
		return Entry{}, fmt.Errorf("create: %w", err)
	}
	post = post.withUID(post.hash)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Entry{}, ErrClosed
	}

	d.enqueueLocked(ctx, &PendingChange{
		Key:    post.hash,
		UID:    post.uid,
		Action: ActionCreate,
		Post:   &post,
	})
	return post.entry(), nil
}

// Update replaces a record's payload locally and queues the change.
func (d *Dataset) Update(ctx context.Context, uid string, payload value.Value) (Entry, error) {
	post, err := NewRecord(uid, payload)
	if err != nil {
		return Entry{}, fmt.Errorf("update: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Entry{}, ErrClosed
	}
	current, ok := d.records[uid]
	if !ok {
		return Entry{}, fmt.Errorf("update %q: %w", uid, ErrRecordNotFound)
	}

	d.enqueueLocked(ctx, &PendingChange{
		Key:    d.nextKeyLocked(ActionUpdate, uid, post.hash),
		UID:    uid,
		Action: ActionUpdate,
		Pre:    &current,
		Post:   &post,
	})
	return post.entry(), nil
}

// Delete removes a record locally and queues the change. It returns the
// deleted record.
func (d *Dataset) Delete(ctx context.Context, uid string) (Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Entry{}, ErrClosed
	}
	current, ok := d.records[uid]
	if !ok {
		return Entry{}, fmt.Errorf("delete %q: %w", uid, ErrRecordNotFound)
	}

	d.enqueueLocked(ctx, &PendingChange{
		Key:    d.nextKeyLocked(ActionDelete, uid, current.hash),
		UID:    uid,
		Action: ActionDelete,
		Pre:    &current,
	})
	return current.entry(), nil
}

func (d *Dataset) nextKeyLocked(action Action, uid, imageHash string) string {
	d.seq++
	return value.ChangeKey(string(action), uid, imageHash, d.seq)
}

// enqueueLocked applies a new change to local state and queues it, merging
// with a prior change on the same record when that change is still local.
func (d *Dataset) enqueueLocked(ctx context.Context, c *PendingChange) {
	if !d.client.IsOnline() {
		d.emit(notify.OfflineUpdate, c.UID, string(c.Action))
	}

	now := d.clock()
	c.Timestamp = now
	if c.Action == ActionCreate {
		d.seq++
	}
	c.Seq = d.seq

	var prior *PendingChange
	if m, ok := d.meta[c.UID]; ok && m.FromPending {
		prior = d.pending[m.PendingKey]
	}

	switch c.Action {
	case ActionCreate:
		d.enqueueCreateLocked(c, prior)
	case ActionUpdate:
		d.enqueueUpdateLocked(c, prior)
	case ActionDelete:
		d.enqueueDeleteLocked(c, prior)
	}

	if d.config.AutoSyncLocalUpdates {
		d.syncRequested = true
	}
	d.persistLocked(ctx)
	d.emit(notify.LocalUpdateApplied, c.UID, string(c.Action))
}

func (d *Dataset) enqueueCreateLocked(c *PendingChange, prior *PendingChange) {
	d.records[c.UID] = *c.Post

	// The same content is already on its way: keep that request and only
	// reset the local record.
	if existing, ok := d.pending[c.Key]; ok && existing.InFlight {
		d.meta[c.UID] = recordMeta{FromPending: true, PendingKey: existing.Key}
		return
	}

	if prior != nil && !prior.InFlight && prior.Action == ActionCreate {
		delete(d.pending, prior.Key)
	}
	d.pending[c.Key] = c
	d.meta[c.UID] = recordMeta{FromPending: true, PendingKey: c.Key}
}

func (d *Dataset) enqueueUpdateLocked(c *PendingChange, prior *PendingChange) {
	d.records[c.UID] = *c.Post

	if prior != nil && !prior.InFlight && prior.Action != ActionDelete {
		// Still local: fold the new content into the queued change.
		prior.Post = c.Post
		prior.Timestamp = c.Timestamp
		d.meta[c.UID] = recordMeta{FromPending: true, PendingKey: prior.Key}
		return
	}

	d.delayBehindLocked(c, prior)
	d.pending[c.Key] = c
	d.meta[c.UID] = recordMeta{FromPending: true, PendingKey: c.Key}
}

func (d *Dataset) enqueueDeleteLocked(c *PendingChange, prior *PendingChange) {
	delete(d.records, c.UID)

	if prior != nil && !prior.InFlight {
		switch prior.Action {
		case ActionCreate:
			// The cloud never saw the record: both changes vanish.
			delete(d.pending, prior.Key)
			delete(d.meta, c.UID)
			return
		case ActionUpdate:
			// Delete what the cloud last saw, not the unsent update.
			c.Pre = prior.Pre
			c.Delayed, c.WaitingOn = prior.Delayed, prior.WaitingOn
			delete(d.pending, prior.Key)
		}
	} else {
		d.delayBehindLocked(c, prior)
	}

	d.pending[c.Key] = c
	d.meta[c.UID] = recordMeta{FromPending: true, PendingKey: c.Key}
}

// delayBehindLocked holds c back while prior is in flight.
func (d *Dataset) delayBehindLocked(c *PendingChange, prior *PendingChange) {
	if prior == nil || !prior.InFlight {
		return
	}
	if prior.Key == c.Key {
		d.logger.Warn("pending change would wait on itself, not delaying", "key", c.Key)
		return
	}
	c.Delayed = true
	c.WaitingOn = prior.Key
}

// Pending returns copies of every queued change in enqueue order.
func (d *Dataset) Pending() []PendingChange {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]PendingChange, 0, len(d.pending))
	for _, p := range d.orderedPendingLocked() {
		out = append(out, p.clone())
	}
	return out
}

func (d *Dataset) orderedPendingLocked() []*PendingChange {
	out := make([]*PendingChange, 0, len(d.pending))
	for _, p := range d.pending {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *PendingChange) int {
		return cmp.Or(cmp.Compare(a.Seq, b.Seq), cmp.Compare(a.Key, b.Key))
	})
	return out
}

// State is a point-in-time summary of a dataset, used by the scheduler.
type State struct {
	ID            string
	GlobalHash    string
	Records       int
	Pending       int
	LastSyncStart time.Time
	LastSyncEnd   time.Time
	Syncing       bool
	SyncRequested bool
	Paused        bool
	Closed        bool
	Interval      time.Duration
}

// State returns the current scheduling state.
func (d *Dataset) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return State{
		ID:            d.id,
		GlobalHash:    d.globalHash,
		Records:       len(d.records),
		Pending:       len(d.pending),
		LastSyncStart: d.lastSyncStart,
		LastSyncEnd:   d.lastSyncEnd,
		Syncing:       d.syncing,
		SyncRequested: d.syncRequested,
		Paused:        d.paused,
		Closed:        d.closed,
		Interval:      d.config.Interval,
	}
}

// RequestSync asks the scheduler to run a round at its next tick.
func (d *Dataset) RequestSync() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncRequested = true
}

// SetPaused stops (or resumes) new rounds. A running round is not aborted.
func (d *Dataset) SetPaused(paused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = paused
}

// Config returns the current sync configuration.
func (d *Dataset) Config() SyncConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// SetConfig replaces the sync configuration.
func (d *Dataset) SetConfig(cfg SyncConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = cfg
	return nil
}

// SetQueryParams replaces the query parameters sent with every request.
func (d *Dataset) SetQueryParams(params value.Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queryParams = value.CloneObject(params)
}

// SetMetadata replaces the custom metadata sent with every request.
func (d *Dataset) SetMetadata(meta value.Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metadata = value.CloneObject(meta)
}

// Close discards the dataset. A round still waiting on the network finishes
// without touching state or storage.
func (d *Dataset) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
