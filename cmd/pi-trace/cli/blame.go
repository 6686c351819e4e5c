package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-rewind-hook/internal/attribution"
	"github.com/nicobailon/pi-rewind-hook/internal/difflib"
	"github.com/nicobailon/pi-rewind-hook/internal/ownpaths"
	"github.com/nicobailon/pi-rewind-hook/internal/snapshotstore"
	"github.com/nicobailon/pi-rewind-hook/internal/tracelog"

	blamepkg "github.com/nicobailon/pi-rewind-hook/internal/blame"
)

func newBlameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blame <file> [start[-end]]",
		Short: "Attribute lines of a file to the prompts that produced them",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := initLogging(cmd.Context(), "blame")

			path := args[0]
			start, end, err := parseLineRange(args)
			if err != nil {
				return fmt.Errorf("invalid line range: %w", err)
			}

			store, err := snapshotstore.Open()
			if err != nil {
				return fmt.Errorf("opening snapshot store: %w", err)
			}

			root, err := ownpaths.RepoRoot()
			if err != nil {
				return fmt.Errorf("resolving repo root: %w", err)
			}

			logPath, err := ownpaths.TraceLogPath()
			if err != nil {
				return fmt.Errorf("resolving trace log path: %w", err)
			}
			log := tracelog.New(logPath)
			diffs := difflib.NewService(store)
			engine := attribution.NewEngine(diffs)
			svc := blamepkg.New(store, log, engine, root)

			clean, err := store.IsClean(ctx, path)
			if err != nil {
				return fmt.Errorf("checking working tree status: %w", err)
			}

			var lines []blamepkg.Line
			if clean {
				head, err := store.HeadCommit()
				if err != nil {
					return fmt.Errorf("resolving HEAD: %w", err)
				}
				lines, err = svc.Committed(ctx, head, path, start, end)
				if err != nil {
					return fmt.Errorf("blaming committed file: %w", err)
				}
			} else {
				lines, err = svc.Uncommitted(ctx, path, start, end)
				if err != nil {
					return fmt.Errorf("blaming uncommitted file: %w", err)
				}
			}

			for _, l := range lines {
				printBlameLine(cmd, l)
			}
			return nil
		},
	}
}

func printBlameLine(cmd *cobra.Command, l blamepkg.Line) {
	a := l.Attribution
	if a.Classification == "attributed" {
		fmt.Fprintf(cmd.OutOrStdout(), "%6d | %-10s | %s\n", l.Number, a.Classification, a.TraceID)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%6d | %-10s |\n", l.Number, a.Classification)
}

// parseLineRange parses the optional "start[-end]" second argument, returning
// (0, 0) to mean "the whole file" when omitted.
func parseLineRange(args []string) (start, end int, err error) {
	if len(args) < 2 {
		return 0, 0, nil
	}

	spec := args[1]
	parts := strings.SplitN(spec, "-", 2)

	start, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start line %q: %w", parts[0], err)
	}

	if len(parts) == 1 {
		return start, start, nil
	}

	end, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end line %q: %w", parts[1], err)
	}
	return start, end, nil
}
