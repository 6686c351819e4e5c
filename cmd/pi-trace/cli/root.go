// Package cli assembles the pi-trace command line, following
// cmd/entire/cli/root.go's construction pattern.
package cli

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-rewind-hook/internal/logging"
	"github.com/nicobailon/pi-rewind-hook/internal/settings"
	"github.com/nicobailon/pi-rewind-hook/internal/telemetry"
	"github.com/nicobailon/pi-rewind-hook/internal/versioncheck"
)

const accessibilityHelp = `
Environment Variables:
  ACCESSIBLE    Set to any value (e.g., ACCESSIBLE=1) to enable accessibility
                mode. This uses simpler text prompts instead of interactive
                TUI elements, which works better with screen readers.
`

// Version and Commit are set at build time.
var (
	Version = "dev"
	Commit  = "unknown"
)

// NewRootCmd builds the pi-trace command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pi-trace",
		Short:         "Prompt-to-code attribution for AI coding sessions",
		Long:          "pi-trace attributes committed and uncommitted lines to the prompts that produced them." + accessibilityHelp,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			s, err := settings.Load()
			var telemetryEnabled *bool
			if err == nil {
				telemetryEnabled = s.Telemetry
			}

			client := telemetry.NewClient(Version, telemetryEnabled)
			defer client.Close()
			if !cmd.Hidden {
				client.TrackCommand(cmd.Name())
				versioncheck.CheckAndNotify(context.Background(), cmd.OutOrStderr(), Version)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBrowseCmd())
	cmd.AddCommand(newBlameCmd())
	cmd.AddCommand(newHooksCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pi-trace %s (%s)\n", Version, Commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func initLogging(ctx context.Context, component string) context.Context {
	logging.SetLogLevelGetter(settings.LogLevelGetter)
	return logging.WithComponent(ctx, component)
}
