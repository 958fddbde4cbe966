package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-rules/internal/automation"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/config"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
}

// newRootCommand creates the root command and its subcommands.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "graylogic-rules",
		Short:         "Gray Logic home automation rule engine",
		Long:          "Evaluates automations against live home state and publishes device, scene and notification requests over MQTT.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", getConfigPath(), "path to config.yaml (env GRAYLOGIC_CONFIG)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newBackupCommand(opts))
	cmd.AddCommand(newParseCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// newServeCommand creates the serve command, which runs the service until
// interrupted.
func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the rule engine service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.ConfigPath)
		},
	}
}

// newCheckCommand creates the check command, which validates the config
// file without connecting to anything.
func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: %s\n", opts.ConfigPath)
			fmt.Fprintf(out, "  site:       %s (%s)\n", cfg.Site.ID, cfg.Location())
			fmt.Fprintf(out, "  database:   %s\n", cfg.Database.Path)
			fmt.Fprintf(out, "  mqtt:       %s:%d\n", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
			fmt.Fprintf(out, "  api:        %s:%d\n", cfg.API.Host, cfg.API.Port)
			fmt.Fprintf(out, "  schedule:   %s\n", cfg.Engine.EvaluationSchedule)
			fmt.Fprintf(out, "  influxdb:   %t\n", cfg.InfluxDB.Enabled)
			return nil
		},
	}
}

// newExportCommand creates the export command, which writes the stored
// automations and execution log as a JSON document.
func newExportCommand(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export automations and the execution log as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := exportDocument(cmd.Context(), opts.ConfigPath)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(output, data, 0600); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

// newImportCommand creates the import command, which replaces the stored
// automations and execution log with a document.
func newImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace stored automations with an exported document",
		Long: `Replace every stored automation and the execution log with the
contents of an exported JSON document. Stop the service first: a running
instance keeps its in-memory copy until restarted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			n, err := importDocument(cmd.Context(), opts.ConfigPath, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d automations\n", n)
			return nil
		},
	}
}

// newBackupCommand creates the backup command, which writes a consistent
// copy of the database file.
func newBackupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <dest>",
		Short: "Copy the database to a new file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := backupDatabase(cmd.Context(), opts.ConfigPath, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", args[0])
			return nil
		},
	}
}

// newParseCommand creates the parse command, which compiles a condition
// expression and prints the resulting condition tree.
func newParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <expression>",
		Short: "Compile a condition expression and print its tree",
		Example: `  graylogic-rules parse "occupied AND time 22:00-06:00"
  graylogic-rules parse "sensor thermo.temperature < 18 AND NOT (device heater on)"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, err := automation.ParseCondition(args[0])
			if err != nil {
				return err
			}
			for _, w := range automation.ConditionWarnings(group) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(group)
		},
	}
}

// newVersionCommand creates the version command.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graylogic-rules %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
