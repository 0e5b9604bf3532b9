package cli

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/datasync/internal/config"
	"github.com/roach88/datasync/internal/notify"
	"github.com/roach88/datasync/internal/scheduler"
	"github.com/roach88/datasync/internal/store"
	"github.com/roach88/datasync/internal/transport"
)

const (
	defaultSQLitePath    = "datasync.db"
	defaultSnapshotDir   = "snapshots"
	defaultProbeInterval = 10 * time.Second
)

// app holds the collaborators built from the configuration file.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	client *transport.HTTPClient
	hub    *notify.Hub
	sched  *scheduler.Scheduler

	hubDone chan struct{}
	closers []func() error
}

// openApp loads the configuration and manages the configured datasets.
// When ids is non-empty only those datasets are opened; ids missing from
// the configuration stay unmanaged and fail at lookup.
func openApp(ctx context.Context, opts *RootOptions, logOut io.Writer, ids ...string) (*app, error) {
	if opts.EnvFile != "" {
		if err := config.LoadDotEnv(opts.EnvFile); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load env file", err)
		}
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := newLogger(cfg.LogLevel, opts.Verbose, logOut)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, hubDone: make(chan struct{})}

	storage, closeStorage, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	a.closers = append(a.closers, closeStorage)

	a.client, err = newClient(cfg, logger)
	if err != nil {
		_ = a.closeAll()
		return nil, WrapExitError(ExitCommandError, "failed to create client", err)
	}

	a.hub = notify.NewHub(notify.WithLogger(logger))
	go func() {
		defer close(a.hubDone)
		_ = a.hub.Run(context.WithoutCancel(ctx))
	}()

	tick, _ := cfg.TickDuration()
	a.sched = scheduler.New(storage, a.client, a.hub,
		scheduler.WithLogger(logger),
		scheduler.WithTick(tick))

	if err := a.manage(ctx, ids); err != nil {
		a.Close()
		return nil, err
	}
	a.warnUnconfigured(ctx, storage)
	return a, nil
}

// warnUnconfigured logs stored snapshots that no configured dataset claims,
// usually left behind after a dataset was removed from the config file.
func (a *app) warnUnconfigured(ctx context.Context, st store.Storage) {
	stored, err := store.ListDatasets(ctx, st)
	if errors.Is(err, store.ErrListUnsupported) {
		return
	}
	if err != nil {
		a.logger.Warn("cannot list stored snapshots", "error", err)
		return
	}
	for _, id := range unconfigured(a.cfg, stored) {
		a.logger.Warn("stored snapshot has no configured dataset", "dataset", id)
	}
}

func unconfigured(cfg *config.Config, stored []string) []string {
	known := make(map[string]bool, len(cfg.Datasets))
	for _, ds := range cfg.Datasets {
		known[ds.ID] = true
	}
	var out []string
	for _, id := range stored {
		if !known[id] {
			out = append(out, id)
		}
	}
	return out
}

func (a *app) manage(ctx context.Context, ids []string) error {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	for _, ds := range a.cfg.Datasets {
		if len(wanted) > 0 && !wanted[ds.ID] {
			continue
		}
		syncCfg, err := a.cfg.SyncConfig(ds)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid dataset config", err)
		}
		params, err := ds.QueryParamsValue()
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid dataset config", err)
		}
		meta, err := ds.MetadataValue()
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid dataset config", err)
		}

		spec := scheduler.Spec{ID: ds.ID, Config: &syncCfg, QueryParams: params, Metadata: meta}
		if _, err := a.sched.Manage(ctx, spec); err != nil {
			return WrapExitError(ExitCommandError, "failed to open dataset", err)
		}
	}
	return nil
}

// Close releases every dataset, drains queued notifications and closes
// storage.
func (a *app) Close() {
	if a.sched != nil {
		a.sched.Destroy()
	}
	if a.hub != nil {
		a.hub.Close()
		<-a.hubDone
	}
	if err := a.closeAll(); err != nil {
		a.logger.Error("error closing storage", "error", err)
	}
}

func (a *app) closeAll() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newLogger builds the process logger. --verbose forces debug output.
func newLogger(level string, verbose bool, w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// openStorage builds the configured backend. Sealing wraps the backend and
// compression wraps the seal, so snapshots are compressed before they are
// encrypted.
func openStorage(ctx context.Context, cfg config.Storage) (store.Storage, func() error, error) {
	noop := func() error { return nil }

	var (
		st      store.Storage
		closeFn = noop
	)
	switch cfg.Backend {
	case "sqlite", "":
		db, err := store.Open(cmp.Or(cfg.Path, defaultSQLitePath))
		if err != nil {
			return nil, nil, err
		}
		st, closeFn = db, db.Close
	case "file":
		fs, err := store.NewFileStore(cmp.Or(cfg.Path, defaultSnapshotDir))
		if err != nil {
			return nil, nil, err
		}
		st = fs
	case "memory":
		st = store.NewMemoryStore()
	case "s3":
		if cfg.S3 == nil {
			return nil, nil, errors.New("s3 backend requires an s3 block")
		}
		s3, err := store.NewS3Store(ctx, store.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		st = s3
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.Passphrase != "" {
		sealed, err := store.NewSealed(st, cfg.Passphrase)
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		st = sealed
	}
	if cfg.Compress {
		st = store.NewCompressed(st)
	}
	return st, closeFn, nil
}

// newClient builds the HTTP transport for the configured endpoint.
func newClient(cfg *config.Config, logger *slog.Logger) (*transport.HTTPClient, error) {
	opts := []transport.Option{transport.WithLogger(logger)}

	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		opts = append(opts, transport.WithTimeout(timeout))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, transport.WithHeader(k, v))
	}
	if cfg.Probe != nil {
		interval, err := cfg.ProbeInterval()
		if err != nil {
			return nil, err
		}
		opts = append(opts, transport.WithProbe(cfg.Probe.URL, cmp.Or(interval, defaultProbeInterval)))
	}
	return transport.NewHTTPClient(cfg.Endpoint, opts...)
}
