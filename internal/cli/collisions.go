package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/datasync/internal/scheduler"
	"github.com/roach88/datasync/internal/value"
)

// NewCollisionsCommand creates the collisions command group.
func NewCollisionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collisions",
		Short: "Inspect and discard collisions held by the cloud",
		Long: `A collision is recorded by the cloud when a change conflicts with the
remote state. Collisions are never resolved automatically; list them and
remove the ones you have dealt with.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <dataset>",
		Short: "List the collisions of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, args[0], func(a *app, out *OutputFormatter) error {
				resp, err := a.sched.ListCollisions(cmd.Context(), args[0])
				if errors.Is(err, scheduler.ErrUnknownDataset) {
					return lookupError(err)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list collisions", err)
				}
				return out.Result(resp, func(w io.Writer) { printCollisions(w, resp) })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <dataset> <hash>",
		Short: "Discard one collision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, args[0], func(a *app, out *OutputFormatter) error {
				resp, err := a.sched.RemoveCollision(cmd.Context(), args[0], args[1])
				if errors.Is(err, scheduler.ErrUnknownDataset) {
					return lookupError(err)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "failed to remove collision", err)
				}
				return out.Result(resp, func(w io.Writer) {
					okStyle.Fprint(w, "removed ")
					fmt.Fprintln(w, args[1])
				})
			})
		},
	})

	return cmd
}

// printCollisions prints one collision per line, keyed by hash, in key
// order.
func printCollisions(w io.Writer, resp value.Object) {
	if len(resp) == 0 {
		fmt.Fprintln(w, "no collisions")
		return
	}
	for _, hash := range resp.SortedKeys() {
		keyStyle.Fprint(w, hash)
		fmt.Fprintf(w, "  %s\n", value.Format(resp[hash]))
	}
}
