package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/datasync/internal/notify"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Datasets []string
	Paused   []string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync the configured datasets until interrupted",
		Long: `Start the scheduler for the configured datasets.

Every tick the scheduler starts a round for each dataset whose interval has
elapsed or which has local edits waiting (auto_sync_local_updates). Dataset
notifications are printed as they happen.

Example:
  datasync run --config ./datasync.yaml
  datasync run --dataset tasks --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Datasets, "dataset", nil, "only sync these datasets (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Paused, "stopped", nil, "manage these datasets but start them stopped (repeatable)")

	return cmd
}

func runScheduler(opts *RunOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr(), opts.Datasets...)
	if err != nil {
		return err
	}
	defer a.Close()

	out := newFormatter(opts.RootOptions, cmd)
	a.hub.Subscribe(notify.SinkFunc(out.Notification))

	for _, id := range opts.Paused {
		if err := a.sched.Stop(id); err != nil {
			return WrapExitError(ExitCommandError, "cannot stop dataset", err)
		}
	}

	ids := a.sched.Datasets()
	if len(ids) == 0 {
		return NewExitError(ExitCommandError, "no datasets configured")
	}

	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		if err := a.client.RunProbe(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("probe stopped", "error", err)
		}
	}()

	slog.Info("scheduler starting", "datasets", ids, "endpoint", a.cfg.Endpoint)
	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "Syncing %d dataset(s). Press Ctrl-C to stop.\n", len(ids))
	}

	err = a.sched.Run(ctx)
	cancel()
	<-probeDone
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}

	slog.Info("scheduler stopped gracefully")
	return nil
}
