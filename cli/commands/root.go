// Package commands provides the CLI command implementations for fmodel.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-fmodel/cli/styles"
	"github.com/AshkanYarmoradi/go-fmodel/cli/ui"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the fmodel CLI
func NewRootCommand() *cobra.Command {
	var noColor bool
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "fmodel",
		Short: "Functional event sourcing for Go",
		Long: ui.Banner() + `

fmodel runs the restaurant and order deciders against a configured event
store, projects their events into views and relays them to Kafka.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("fmodel init") + `              Write fmodel.yaml
  ` + styles.Code.Render("fmodel demo") + `              Run a sample scenario
  ` + styles.Code.Render("fmodel handle cmd.json") + `   Handle JSON commands
  ` + styles.Code.Render("fmodel project") + `           Keep the view up to date`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: nearest fmodel.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.driver, "driver", "", "Override store.driver (memory, bolt, sqlite, postgres)")
	rootCmd.PersistentFlags().BoolVar(&opts.trace, "trace", false, "Print OpenTelemetry spans to stderr")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewMigrateCommand(opts))
	rootCmd.AddCommand(NewHandleCommand(opts))
	rootCmd.AddCommand(NewStreamCommand(opts))
	rootCmd.AddCommand(NewViewCommand(opts))
	rootCmd.AddCommand(NewProjectCommand(opts))
	rootCmd.AddCommand(NewRebuildCommand(opts))
	rootCmd.AddCommand(NewDemoCommand(opts))
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}

	return nil
}
