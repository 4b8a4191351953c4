package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"attendance/internal/config"
)

// newRootCmd creates the command tree. Running the binary without a
// subcommand serves.
func newRootCmd() *cobra.Command {
	build := config.NewBuildInfo()

	rootCmd := &cobra.Command{
		Use:   "checkin-agent",
		Short: "Location acquisition and check-in gating agent",
		Long: `checkin-agent - location acquisition and check-in gating for attendance

The agent samples the device position forwarded by the employee's page, checks
it against the company geofences and submits office and mission check-ins to
the attendance API on the employee's behalf.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", build.Version, build.Commit, build.BuildTime),
		SilenceErrors: true, // main prints the error
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newServeCmd(),
		newVersionCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP agent until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func newVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			build := config.NewBuildInfo()
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(map[string]string{
					"version":    build.Version,
					"commit":     build.Commit,
					"build_time": build.BuildTime,
				})
			}
			_, err := fmt.Fprintf(out, "checkin-agent %s\ncommit: %s\nbuilt:  %s\n", build.Version, build.Commit, build.BuildTime)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with secrets redacted",
		Long: `Resolve the configuration exactly as serve would and print it as JSON.
Secret values are redacted. Exits non-zero when validation fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}
