package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/datasync/internal/dataset"
	"github.com/roach88/datasync/internal/scheduler"
	"github.com/roach88/datasync/internal/value"
)

// PendingView is the printable form of a queued change.
type PendingView struct {
	Key      string `json:"key"`
	UID      string `json:"uid"`
	Action   string `json:"action"`
	InFlight bool   `json:"in_flight"`
	Crashed  bool   `json:"crashed"`
	Delayed  bool   `json:"delayed"`
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Pending bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <dataset>",
		Short: "List the local records of a dataset",
		Long: `List the records of the local mirror, including edits that have not
been synced yet. With --pending, list the queued changes instead.

Example:
  datasync list tasks
  datasync list tasks --pending --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(opts.RootOptions, cmd, id, func(a *app, out *OutputFormatter) error {
				if opts.Pending {
					ds, err := a.sched.Dataset(id)
					if err != nil {
						return lookupError(err)
					}
					return printPending(out, ds.Pending())
				}
				entries, err := a.sched.List(id)
				if err != nil {
					return lookupError(err)
				}
				return out.Result(entries, func(w io.Writer) {
					for _, e := range entries {
						printEntry(w, e)
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Pending, "pending", false, "list queued changes instead of records")

	return cmd
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <dataset> <uid>",
		Short: "Print one local record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, args[0], func(a *app, out *OutputFormatter) error {
				e, err := a.sched.Read(args[0], args[1])
				if err != nil {
					return lookupError(err)
				}
				return out.Result(e, func(w io.Writer) { printEntry(w, e) })
			})
		},
	}
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <dataset> <json|->",
		Short: "Create a record locally and queue it for sync",
		Long: `Create a record in the local mirror. The record gets a temporary uid
derived from its content until the cloud assigns one.

Pass - to read the payload from stdin.

Example:
  datasync create tasks '{"title":"buy milk","done":false}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(args[1], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, args[0], func(a *app, out *OutputFormatter) error {
				e, err := a.sched.Create(cmd.Context(), args[0], payload)
				if err != nil {
					return lookupError(err)
				}
				return out.Result(e, func(w io.Writer) { printEntry(w, e) })
			})
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <dataset> <uid> <json|->",
		Short: "Replace a record locally and queue the change for sync",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(args[2], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, args[0], func(a *app, out *OutputFormatter) error {
				e, err := a.sched.Update(cmd.Context(), args[0], args[1], payload)
				if err != nil {
					return lookupError(err)
				}
				return out.Result(e, func(w io.Writer) { printEntry(w, e) })
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <dataset> <uid>",
		Short: "Delete a record locally and queue the change for sync",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, args[0], func(a *app, out *OutputFormatter) error {
				e, err := a.sched.Delete(cmd.Context(), args[0], args[1])
				if err != nil {
					return lookupError(err)
				}
				return out.Result(e, func(w io.Writer) {
					warnStyle.Fprint(w, "deleted ")
					printEntry(w, e)
				})
			})
		},
	}
}

// withApp opens the app with only dataset id managed and runs fn.
func withApp(opts *RootOptions, cmd *cobra.Command, id string, fn func(*app, *OutputFormatter) error) error {
	a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr(), id)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, newFormatter(opts, cmd))
}

// lookupError maps dataset and scheduler errors to exit codes. Unknown ids
// are usage errors; everything else is a failure.
func lookupError(err error) error {
	switch {
	case errors.Is(err, scheduler.ErrUnknownDataset):
		return WrapExitError(ExitCommandError, "dataset is not configured", err)
	case errors.Is(err, dataset.ErrRecordNotFound):
		return WrapExitError(ExitCommandError, "no such record", err)
	}
	return WrapExitError(ExitFailure, "operation failed", err)
}

// readPayload parses a JSON argument, reading stdin when arg is "-".
func readPayload(arg string, stdin io.Reader) (value.Value, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read payload", err)
		}
	}
	v, err := value.Parse(data)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid JSON payload", err)
	}
	return v, nil
}

func printEntry(w io.Writer, e dataset.Entry) {
	keyStyle.Fprint(w, e.UID)
	fmt.Fprintf(w, "  %s\n", value.Format(e.Data))
}

func printPending(out *OutputFormatter, pending []dataset.PendingChange) error {
	views := make([]PendingView, 0, len(pending))
	for _, p := range pending {
		views = append(views, PendingView{
			Key:      p.Key,
			UID:      p.UID,
			Action:   string(p.Action),
			InFlight: p.InFlight,
			Crashed:  p.Crashed,
			Delayed:  p.Delayed,
		})
	}
	return out.Result(views, func(w io.Writer) {
		for _, v := range views {
			keyStyle.Fprintf(w, "%.12s", v.Key)
			fmt.Fprintf(w, "  %-6s %s", v.Action, v.UID)
			switch {
			case v.Crashed:
				errStyle.Fprint(w, "  crashed")
			case v.InFlight:
				warnStyle.Fprint(w, "  in flight")
			case v.Delayed:
				warnStyle.Fprint(w, "  delayed")
			}
			fmt.Fprintln(w)
		}
	})
}
