package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/datasync/internal/notify"
)

// SyncReport is the outcome of one forced round.
type SyncReport struct {
	Dataset       string `json:"dataset"`
	Status        string `json:"status"`
	RecordsSynced bool   `json:"records_synced"`
	Error         string `json:"error,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [dataset...]",
		Short: "Run one sync round now",
		Long: `Run one sync round for each named dataset, or for every configured
dataset when none are named, and wait for it to finish.

The command exits with status 1 when any round failed to reach the cloud.

Example:
  datasync sync
  datasync sync tasks notes --verbose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return syncNow(rootOpts, cmd, args)
		},
	}
}

func syncNow(opts *RootOptions, cmd *cobra.Command, ids []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts, cmd.ErrOrStderr(), ids...)
	if err != nil {
		return err
	}
	defer a.Close()

	out := newFormatter(opts, cmd)
	if opts.Verbose {
		// Close drains the hub, so events of the last round still print.
		a.hub.Subscribe(notify.SinkFunc(func(n notify.Notification) {
			out.VerboseLog("%s %s %s %s", n.Kind, n.DatasetID, n.UID, n.Message)
		}))
	}

	if len(ids) == 0 {
		ids = a.sched.Datasets()
	}

	reports := make([]SyncReport, 0, len(ids))
	failed := 0
	for _, id := range ids {
		res, err := a.sched.SyncNow(ctx, id)
		if err != nil {
			return lookupError(err)
		}
		r := SyncReport{Dataset: id, Status: res.Status, RecordsSynced: res.RecordsSynced}
		if res.Err != nil {
			r.Error = res.Err.Error()
			failed++
		}
		reports = append(reports, r)
	}

	if err := out.Result(reports, func(w io.Writer) {
		for _, r := range reports {
			if r.Error != "" {
				errStyle.Fprintf(w, "%-16s failed", r.Dataset)
				fmt.Fprintf(w, "  %s\n", r.Error)
				continue
			}
			okStyle.Fprintf(w, "%-16s %s", r.Dataset, r.Status)
			if r.RecordsSynced {
				fmt.Fprint(w, "  records refreshed")
			}
			fmt.Fprintln(w)
		}
	}); err != nil {
		return err
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d rounds failed", failed, len(reports)))
	}
	return nil
}
