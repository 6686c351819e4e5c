package cli

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-rewind-hook/internal/ownpaths"
	"github.com/nicobailon/pi-rewind-hook/internal/pager"
	"github.com/nicobailon/pi-rewind-hook/internal/snapshotstore"
	"github.com/nicobailon/pi-rewind-hook/internal/tracelog"
)

func newBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse trace records and view the diff behind one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := initLogging(cmd.Context(), "browse")

			logPath, err := ownpaths.TraceLogPath()
			if err != nil {
				return fmt.Errorf("resolving trace log path: %w", err)
			}
			log := tracelog.New(logPath)

			records, err := log.ReadAll(ctx)
			if err != nil {
				return fmt.Errorf("reading trace log: %w", err)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no trace records yet")
				return nil
			}

			rec, err := pickRecord(records)
			if err != nil {
				if err == huh.ErrUserAborted {
					return nil
				}
				return fmt.Errorf("picking trace: %w", err)
			}
			if rec == nil {
				return nil
			}

			store, err := snapshotstore.Open()
			if err != nil {
				return fmt.Errorf("opening snapshot store: %w", err)
			}

			out, err := store.UnifiedDiff(ctx, rec.Metadata.BeforeSHA, rec.Metadata.AfterSHA)
			if err != nil {
				return fmt.Errorf("diffing trace %s: %w", rec.ID, err)
			}

			return pager.Show(out)
		},
	}
}

func pickRecord(records []tracelog.Record) (*tracelog.Record, error) {
	options := make([]huh.Option[string], 0, len(records))
	byID := make(map[string]*tracelog.Record, len(records))
	for i := range records {
		rec := &records[i]
		label := fmt.Sprintf("%s  %s", rec.Timestamp, rec.Metadata.UserMessage)
		options = append(options, huh.NewOption(label, rec.ID))
		byID[rec.ID] = rec
	}

	var choice string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which trace?").
				Options(options...).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return nil, err
	}
	return byID[choice], nil
}
