package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
	"github.com/AshkanYarmoradi/go-fmodel/cli/styles"
	"github.com/AshkanYarmoradi/go-fmodel/cli/ui"
	"github.com/AshkanYarmoradi/go-fmodel/examples/restaurant"
)

// viewDocument is the JSON form of a fetched view.
type viewDocument struct {
	ViewID  string               `json:"viewId"`
	Version adapters.Version     `json:"version"`
	State   restaurant.ViewState `json:"state"`
}

// NewViewCommand creates the view command
func NewViewCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <view-id>",
		Short: "Show a materialized view",
		Long: `Show the restaurant or order view keyed by its identity.

Examples:
  fmodel view r1         # Restaurant view
  fmodel view status     # Projection lag of the view`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			state, version, err := app.View().Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if version == adapters.NoVersion {
				fmt.Fprintln(cmd.ErrOrStderr(), styles.FormatWarning(fmt.Sprintf("view %s does not exist yet", args[0])))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(viewDocument{ViewID: args[0], Version: version, State: state})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show how far the view lags behind the global log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			checkpoint, err := app.Checkpoint(cmd.Context(), restaurant.ViewName)
			if err != nil {
				return err
			}
			last, err := app.Store.GetLastPosition(cmd.Context())
			if err != nil {
				return err
			}

			var lag uint64
			if last > checkpoint {
				lag = last - checkpoint
			}

			status := "ok"
			if lag > 0 {
				status = "pending"
			}

			table := ui.NewTable("View", "Checkpoint", "Last Position", "Lag", "Status")
			table.AddRow(restaurant.ViewName, fmt.Sprint(checkpoint), fmt.Sprint(last), fmt.Sprint(lag), ui.StatusBadge(status))
			fmt.Fprintln(cmd.OutOrStdout(), table.Render())
			return nil
		},
	})

	return cmd
}
