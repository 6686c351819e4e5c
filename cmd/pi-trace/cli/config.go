package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-rewind-hook/internal/settings"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or write pi-trace settings",
	}
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting's current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load()
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}

			switch args[0] {
			case "silent_checkpoints":
				fmt.Fprintln(cmd.OutOrStdout(), s.SilentCheckpoints)
			case "trace_hook":
				fmt.Fprintln(cmd.OutOrStdout(), s.TraceHook)
			default:
				return fmt.Errorf("unrecognized setting %q", args[0])
			}
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a setting's value",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := settings.Load()
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}

			value, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("value %q is not a boolean: %w", args[1], err)
			}

			switch args[0] {
			case "silent_checkpoints":
				s.SilentCheckpoints = value
			case "trace_hook":
				s.TraceHook = value
			default:
				return fmt.Errorf("unrecognized setting %q", args[0])
			}

			if err := settings.Write(s); err != nil {
				return fmt.Errorf("writing settings: %w", err)
			}
			return nil
		},
	}
}
