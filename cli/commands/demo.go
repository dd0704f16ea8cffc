package commands

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/cli/styles"
	"github.com/AshkanYarmoradi/go-fmodel/examples/restaurant"
)

type demoStep struct {
	label   string
	command restaurant.Command
}

// demoScenario walks one restaurant and one order through their lifecycle,
// ending with a rejected duplicate.
func demoScenario(restaurantID, orderID string) []demoStep {
	items := []restaurant.MenuItem{
		{MenuItemID: "item-1", Name: "Sarma", Price: "12.50"},
		{MenuItemID: "item-2", Name: "Pljeskavica", Price: "9.90"},
	}
	menu := restaurant.RestaurantMenu{MenuID: "menu-1", Cuisine: restaurant.CuisineSerbian, MenuItems: items}
	changed := restaurant.RestaurantMenu{MenuID: "menu-2", Cuisine: restaurant.CuisineSerbian, MenuItems: items[:1]}

	return []demoStep{
		{"create restaurant", restaurant.CreateRestaurant(restaurant.CreateRestaurantCommand{ID: restaurantID, Name: "Kafana", Menu: menu})},
		{"change menu", restaurant.ChangeRestaurantMenu(restaurant.ChangeRestaurantMenuCommand{ID: restaurantID, Menu: changed})},
		{"place order", restaurant.PlaceOrder(restaurant.PlaceOrderCommand{ID: restaurantID, OrderID: orderID, MenuItems: items[:1]})},
		{"create order", restaurant.CreateOrder(restaurant.CreateOrderCommand{ID: orderID, RestaurantID: restaurantID, MenuItems: items[:1]})},
		{"mark order prepared", restaurant.MarkOrderAsPrepared(restaurant.MarkOrderAsPreparedCommand{ID: orderID})},
		{"create restaurant again", restaurant.CreateRestaurant(restaurant.CreateRestaurantCommand{ID: restaurantID, Name: "Kafana", Menu: menu})},
	}
}

// NewDemoCommand creates the demo command
func NewDemoCommand(opts *globalOptions) *cobra.Command {
	var restaurantID, orderID string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a sample scenario end to end",
		Long: `Handle a fixed sequence of restaurant and order commands against the
configured store, project the events and print both views.

Examples:
  fmodel demo --driver memory
  fmodel demo --restaurant-id r1 --order-id o1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if restaurantID == "" {
				restaurantID = uuid.NewString()
			}
			if orderID == "" {
				orderID = uuid.NewString()
			}

			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			steps := demoScenario(restaurantID, orderID)
			for i, step := range steps {
				envelopes, err := app.Handle(cmd.Context(), step.command)
				if err != nil {
					return fmt.Errorf("%s: %w", step.label, err)
				}
				for _, env := range envelopes {
					fmt.Fprintln(out, styles.FormatStep(i+1, len(steps),
						fmt.Sprintf("%-24s %s %s", step.label, styles.IconArrow, fmodel.GetEventType(env.Event.Value()))))
				}
			}

			n, err := app.Project(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to project: %w", err)
			}
			fmt.Fprintln(out, styles.FormatSuccess(fmt.Sprintf("Projected %d event(s)", n)))

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			for _, id := range []string{restaurantID, orderID} {
				state, version, err := app.View().Fetch(cmd.Context(), id)
				if err != nil {
					return err
				}
				if err := enc.Encode(viewDocument{ViewID: id, Version: version, State: state}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&restaurantID, "restaurant-id", "", "Restaurant identity (default: random)")
	cmd.Flags().StringVar(&orderID, "order-id", "", "Order identity (default: random)")

	return cmd
}
