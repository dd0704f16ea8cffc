package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-fmodel/cli/styles"
	"github.com/AshkanYarmoradi/go-fmodel/cli/ui"
)

// migrator is implemented by stores with versioned SQL schemas.
type migrator interface {
	MigrationVersion(ctx context.Context) (int, error)
}

// NewMigrateCommand creates the migrate command
func NewMigrateCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the event store schema",
		Long: `Create the tables, buckets or schema used by the configured store.

Initialization is idempotent. The bolt and sqlite stores also initialize
themselves when opened.

Examples:
  fmodel migrate           # Create the schema
  fmodel migrate status    # Show the schema version`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var app *App
			err := ui.Spin(cmd.Context(), out, "Initializing store...", func(context.Context) (string, error) {
				var err error
				if app, err = newApp(cmd, opts); err != nil {
					return "", err
				}
				return fmt.Sprintf("%s store is initialized", app.Config.Store.Driver), nil
			})
			if err != nil {
				return err
			}
			defer app.Close()

			if !ui.IsTerminal(out) {
				fmt.Fprintln(out, styles.FormatSuccess(fmt.Sprintf("%s store is initialized", app.Config.Store.Driver)))
			}
			return printSchemaVersion(cmd, app)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			return printSchemaVersion(cmd, app)
		},
	})

	return cmd
}

func printSchemaVersion(cmd *cobra.Command, app *App) error {
	out := cmd.OutOrStdout()

	m, ok := app.Store.(migrator)
	if !ok {
		fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("%s store has no versioned schema", app.Config.Store.Driver)))
		return nil
	}

	version, err := m.MigrationVersion(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	fmt.Fprintln(out, styles.FormatKeyValue("Schema", app.Config.Store.Schema))
	fmt.Fprintln(out, styles.FormatKeyValue("Version", fmt.Sprint(version)))
	return nil
}
