package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-rewind-hook/internal/attribution"
	"github.com/nicobailon/pi-rewind-hook/internal/difflib"
	"github.com/nicobailon/pi-rewind-hook/internal/finalizer"
	"github.com/nicobailon/pi-rewind-hook/internal/ownpaths"
	"github.com/nicobailon/pi-rewind-hook/internal/snapshotstore"
	"github.com/nicobailon/pi-rewind-hook/internal/tracelog"
)

// newHooksCmd is the plumbing entrypoint a host's post-commit hook invokes
// to run the Commit Finalizer out-of-process (cmd/entire/cli/hooks_git_cmd.go's idiom).
func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hooks",
		Short:  "Internal hook handlers",
		Hidden: true,
	}
	cmd.AddCommand(newHooksFinalizeCmd())
	return cmd
}

func newHooksFinalizeCmd() *cobra.Command {
	var sessionID, entryID, openTraceBefore string

	cmd := &cobra.Command{
		Use:    "finalize",
		Short:  "Finalize the open trace against HEAD after a commit",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := initLogging(cmd.Context(), "hooks")

			store, err := snapshotstore.Open()
			if err != nil {
				return fmt.Errorf("opening snapshot store: %w", err)
			}

			logPath, err := ownpaths.TraceLogPath()
			if err != nil {
				return fmt.Errorf("resolving trace log path: %w", err)
			}
			log := tracelog.New(logPath)
			diffs := difflib.NewService(store)
			engine := attribution.NewEngine(diffs)
			f := finalizer.New(store, log, engine)

			newTraceBefore, err := f.Finalize(ctx, sessionID, entryID, openTraceBefore)
			if err != nil {
				// Commits must not be blocked by finalization failures (§7 propagation policy).
				fmt.Fprintf(cmd.ErrOrStderr(), "pi-trace: finalize failed: %v\n", err)
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), newTraceBefore)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&entryID, "entry", "", "entry id")
	cmd.Flags().StringVar(&openTraceBefore, "trace-before", "", "open trace_before snapshot id")
	return cmd
}
