package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, &ServeFlags{}),
		createSeedCommand(globalFlags),
		createShiftCommand(globalFlags, &ShiftFlags{}),
		createParseCommand(&ParseFlags{}),
		createPollCommand(globalFlags, &PollFlags{}),
		createStatusCommand(&StatusFlags{}),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "andon",
		Short: "Station telemetry poller and fault tracker",
		Long: `Andon polls work-station telemetry endpoints, records fault open and
close edges per category, and tracks production counts relative to the
start of each shift.

Examples:
  andon serve --config andon.toml
  andon seed --config andon.toml
  andon shift --at 00:05
  andon parse "{1,4061,1,6010,0,0,0,0}"
  andon poll 10.0.0.5
  andon status --api-url http://localhost:8080`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createServeCommand(global *GlobalFlags, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll stations and serve the status surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), global.ConfigPath, *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Seed, "seed", false, "write configured stations and shift windows to the store before polling")
	return cmd
}

func createSeedCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write configured stations and shift windows to the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cmd.OutOrStdout(), global.ConfigPath)
		},
	}
}

func createShiftCommand(global *GlobalFlags, flags *ShiftFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shift",
		Short: "Resolve the shift active at an instant",
		Long: `Resolve the shift number and shift date with the configured windows.

Examples:
  andon shift
  andon shift --at 2026-10-15T00:05:00+05:30
  andon shift --at 23:50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShift(cmd.Context(), cmd.OutOrStdout(), global.ConfigPath, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.At, "at", "", "RFC3339 instant or HH:MM today (default now)")
	return cmd
}

func createParseCommand(flags *ParseFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <frame>",
		Short: "Parse a telemetry frame and show category values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd.OutOrStdout(), args[0], flags.Map)
		},
	}
	cmd.Flags().StringSliceVar(&flags.Map, "map", nil, "category position, e.g. --map Quality=3 (repeatable)")
	return cmd
}

func createPollCommand(global *GlobalFlags, flags *PollFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll <address>",
		Short: "Fetch one frame from a station endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(cmd.Context(), cmd.OutOrStdout(), global.ConfigPath, args[0], *flags)
		},
	}
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "fetch timeout (default from poller.timeout)")
	cmd.Flags().StringSliceVar(&flags.Map, "map", nil, "category position, e.g. --map Quality=3 (repeatable)")
	return cmd
}

func createStatusCommand(flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [station]",
		Short: "Show station status from a running server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			station := ""
			if len(args) == 1 {
				station = args[0]
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), station, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.APIURL, "api-url", "http://localhost:8080", "base URL of the andon status surface")
	cmd.Flags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS verification")
	return cmd
}
