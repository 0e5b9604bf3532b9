package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/datasync/internal/dataset"
	"github.com/roach88/datasync/internal/notify"
	"github.com/roach88/datasync/internal/store"
	"github.com/roach88/datasync/internal/transport"
	"github.com/roach88/datasync/internal/value"
)

// ErrUnknownDataset is returned for operations on an id that is not managed.
var ErrUnknownDataset = errors.New("scheduler: unknown dataset")

// DefaultTick is the polling period of Run.
const DefaultTick = time.Second

// Scheduler runs sync rounds for a set of datasets sharing one storage,
// one network client and one notification sink.
//
// Thread-safety: every exported method is safe for concurrent use.
type Scheduler struct {
	storage store.Storage
	client  transport.Client
	sink    notify.Sink
	logger  *slog.Logger
	now     func() time.Time
	tick    time.Duration
	tokens  TokenGenerator

	mu       sync.Mutex
	datasets map[string]*dataset.Dataset
	running  map[string]bool
	paused   bool
	rounds   sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used by the scheduler and its datasets.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock injects the time source for due checks and dataset timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithTick sets the polling period of Run.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithTokenGenerator sets the round token source.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *Scheduler) {
		s.tokens = g
	}
}

// New creates a scheduler with no managed datasets.
func New(storage store.Storage, client transport.Client, sink notify.Sink, opts ...Option) *Scheduler {
	if sink == nil {
		sink = notify.Discard
	}
	s := &Scheduler{
		storage:  storage,
		client:   client,
		sink:     sink,
		logger:   slog.Default(),
		now:      time.Now,
		tick:     DefaultTick,
		tokens:   UUIDv7Tokens{},
		datasets: make(map[string]*dataset.Dataset),
		running:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spec describes a dataset to manage. Nil fields keep the stored (or
// current) values.
type Spec struct {
	ID          string
	Config      *dataset.SyncConfig
	QueryParams value.Object
	Metadata    value.Object
}

// Manage starts managing a dataset, loading its snapshot from storage.
// Managing an id that is already managed replaces its configuration and
// query parameters and requests a sync. Either way the snapshot is written.
//
// Storage is read and written without holding the scheduler lock, so a
// slow backend does not stall Tick or lookups of other datasets.
func (s *Scheduler) Manage(ctx context.Context, spec Spec) (*dataset.Dataset, error) {
	if spec.Config != nil {
		if err := spec.Config.Validate(); err != nil {
			return nil, fmt.Errorf("manage %s: %w", spec.ID, err)
		}
	}

	s.mu.Lock()
	existing, ok := s.datasets[spec.ID]
	s.mu.Unlock()
	if ok {
		return s.reconfigure(ctx, existing, spec)
	}

	opts := []dataset.Option{
		dataset.WithLogger(s.logger),
		dataset.WithClock(s.now),
	}
	if spec.Config != nil {
		opts = append(opts, dataset.WithSyncConfig(*spec.Config))
	}
	if spec.QueryParams != nil {
		opts = append(opts, dataset.WithQueryParams(spec.QueryParams))
	}
	if spec.Metadata != nil {
		opts = append(opts, dataset.WithMetadata(spec.Metadata))
	}

	ds, err := dataset.Open(ctx, spec.ID, s.storage, s.client, s.sink, opts...)
	if err != nil {
		return nil, fmt.Errorf("manage %s: %w", spec.ID, err)
	}

	s.mu.Lock()
	if existing, ok := s.datasets[spec.ID]; ok {
		// Lost a race with a concurrent Manage of the same id.
		s.mu.Unlock()
		ds.Close()
		return s.reconfigure(ctx, existing, spec)
	}
	if s.paused {
		ds.SetPaused(true)
	}
	s.datasets[spec.ID] = ds
	s.mu.Unlock()

	ds.Persist(ctx)
	s.logger.Info("dataset managed", "dataset_id", spec.ID)
	return ds, nil
}

func (s *Scheduler) reconfigure(ctx context.Context, ds *dataset.Dataset, spec Spec) (*dataset.Dataset, error) {
	if spec.Config != nil {
		if err := ds.SetConfig(*spec.Config); err != nil {
			return nil, fmt.Errorf("manage %s: %w", spec.ID, err)
		}
	}
	if spec.QueryParams != nil {
		ds.SetQueryParams(spec.QueryParams)
	}
	if spec.Metadata != nil {
		ds.SetMetadata(spec.Metadata)
	}
	ds.RequestSync()
	ds.Persist(ctx)
	s.logger.Info("dataset reconfigured", "dataset_id", spec.ID)
	return ds, nil
}

// Dataset returns a managed dataset.
func (s *Scheduler) Dataset(id string) (*dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, id)
	}
	return ds, nil
}

// Datasets returns the managed ids in sorted order.
func (s *Scheduler) Datasets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedIDs(s.datasets)
}

// Unmanage stops scheduling a dataset and discards its in-memory state.
// The stored snapshot survives; a round still waiting on the network is
// ignored when it returns.
func (s *Scheduler) Unmanage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDataset, id)
	}
	ds.Close()
	delete(s.datasets, id)
	s.logger.Info("dataset unmanaged", "dataset_id", id)
	return nil
}

// Destroy unmanages every dataset.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ds := range s.datasets {
		ds.Close()
		delete(s.datasets, id)
	}
	s.logger.Info("scheduler destroyed")
}

// Pause stops new rounds for every dataset. Running rounds finish.
func (s *Scheduler) Pause() {
	s.setPaused(true)
}

// Resume lets every dataset sync again.
func (s *Scheduler) Resume() {
	s.setPaused(false)
}

func (s *Scheduler) setPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = paused
	for _, ds := range s.datasets {
		ds.SetPaused(paused)
	}
	s.logger.Info("scheduler paused state changed", "paused", paused)
}

// Stop pauses one dataset.
func (s *Scheduler) Stop(id string) error {
	ds, err := s.Dataset(id)
	if err != nil {
		return err
	}
	ds.SetPaused(true)
	return nil
}

// Start resumes one dataset stopped with Stop.
func (s *Scheduler) Start(id string) error {
	ds, err := s.Dataset(id)
	if err != nil {
		return err
	}
	ds.SetPaused(false)
	return nil
}

// ForceSync makes a dataset due at the next tick.
func (s *Scheduler) ForceSync(id string) error {
	ds, err := s.Dataset(id)
	if err != nil {
		return err
	}
	ds.RequestSync()
	return nil
}

// SyncNow runs one round for a dataset and waits for it.
func (s *Scheduler) SyncNow(ctx context.Context, id string) (dataset.RoundResult, error) {
	ds, err := s.Dataset(id)
	if err != nil {
		return dataset.RoundResult{}, err
	}
	if !s.claim(id) {
		return dataset.RoundResult{}, dataset.ErrSyncInProgress
	}
	defer s.release(id)
	return s.runRound(ctx, ds)
}

// Tick starts a round for every due dataset and returns their ids. Rounds
// run in the background; Wait blocks until they finish.
func (s *Scheduler) Tick(ctx context.Context) []string {
	s.mu.Lock()
	now := s.now()
	var due []*dataset.Dataset
	for _, id := range sortedIDs(s.datasets) {
		ds := s.datasets[id]
		if s.running[id] || !isDue(ds.State(), now) {
			continue
		}
		s.running[id] = true
		due = append(due, ds)
	}
	s.mu.Unlock()

	// Rounds outlive the tick that started them.
	roundCtx := context.WithoutCancel(ctx)

	started := make([]string, 0, len(due))
	for _, ds := range due {
		started = append(started, ds.ID())
		s.rounds.Add(1)
		go func(ds *dataset.Dataset) {
			defer s.rounds.Done()
			defer s.release(ds.ID())
			_, _ = s.runRound(roundCtx, ds)
		}(ds)
	}
	return started
}

// isDue reports whether a dataset should start a round at now.
func isDue(st dataset.State, now time.Time) bool {
	if st.Closed || st.Paused || st.Syncing {
		return false
	}
	if st.SyncRequested || st.LastSyncEnd.IsZero() {
		return true
	}
	return now.Sub(st.LastSyncEnd) > st.Interval
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[id] {
		return false
	}
	s.running[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

func (s *Scheduler) runRound(ctx context.Context, ds *dataset.Dataset) (dataset.RoundResult, error) {
	logger := s.logger.With("dataset_id", ds.ID(), "round", s.tokens.Generate())
	logger.Debug("round starting")

	res, err := ds.Sync(ctx)
	switch {
	case err != nil:
		logger.Debug("round not run", "error", err)
	case res.Err != nil:
		logger.Warn("round failed", "status", res.Status, "error", res.Err)
	default:
		logger.Debug("round complete", "status", res.Status, "records_synced", res.RecordsSynced)
	}
	return res, err
}

// Wait blocks until every round started by Tick has finished.
func (s *Scheduler) Wait() {
	s.rounds.Wait()
}

// Run ticks until ctx is cancelled, then waits for running rounds.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", "tick", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping: context cancelled")
			s.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func sortedIDs(m map[string]*dataset.Dataset) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
