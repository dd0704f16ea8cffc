package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/cli/styles"
	"github.com/AshkanYarmoradi/go-fmodel/cli/ui"
	"github.com/AshkanYarmoradi/go-fmodel/examples/restaurant"
)

// NewHandleCommand creates the handle command
func NewHandleCommand(opts *globalOptions) *cobra.Command {
	var (
		commandID string
		project   bool
		output    string
	)

	cmd := &cobra.Command{
		Use:   "handle [file]",
		Short: "Handle restaurant and order commands read as JSON",
		Long: `Handle commands read from a file or stdin.

The input is one JSON command, a JSON array of commands, or a sequence of
concatenated or newline-delimited JSON commands. Each command names its
decider and kind:

  {"decider": "Restaurant", "kind": "CreateRestaurantCommand", "id": "r1", "name": "Bistro",
   "menu": {"menuId": "m1", "cuisine": "SERBIAN", "menuItems": [{"menuItemId": "i1", "name": "Sarma", "price": "12.50"}]}}
  {"decider": "Order", "kind": "CreateOrderCommand", "id": "o1", "restaurantId": "r1", "menuItems": []}

Examples:
  fmodel handle commands.json
  cat commands.ndjson | fmodel handle --project
  fmodel handle cmd.json --command-id 7f3c... -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				input = f
			}

			payloads, err := readCommands(input)
			if err != nil {
				return err
			}
			if len(payloads) == 0 {
				return errors.New("no commands in input")
			}
			if commandID != "" && len(payloads) > 1 {
				return errors.New("--command-id needs exactly one command")
			}

			commands := make([]restaurant.Command, len(payloads))
			for i, payload := range payloads {
				if commands[i], err = restaurant.ParseCommand(payload); err != nil {
					return fmt.Errorf("command %d: %w", i+1, err)
				}
			}

			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			var handleOpts []fmodel.HandleOption
			if commandID != "" {
				handleOpts = append(handleOpts, fmodel.WithCommandID(commandID))
			}

			var envelopes []fmodel.Envelope[restaurant.Event]
			for i, command := range commands {
				result, err := app.Handle(cmd.Context(), command, handleOpts...)
				if err != nil {
					return fmt.Errorf("command %d: %w", i+1, err)
				}
				envelopes = append(envelopes, result...)
			}

			if err := printEnvelopes(cmd.OutOrStdout(), output, envelopes); err != nil {
				return err
			}

			if project {
				n, err := app.Project(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to project: %w", err)
				}
				if output != "json" {
					fmt.Fprintln(cmd.OutOrStdout(), styles.FormatSuccess(fmt.Sprintf("Projected %d event(s) into %s", n, restaurant.ViewName)))
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&commandID, "command-id", "", "Idempotency key of a single command")
	cmd.Flags().BoolVar(&project, "project", false, "Update the view after handling")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")

	return cmd
}

// readCommands splits input into raw JSON command payloads.
func readCommands(r io.Reader) ([]json.RawMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read commands: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var payloads []json.RawMessage
		if err := json.Unmarshal(data, &payloads); err != nil {
			return nil, fmt.Errorf("invalid command array: %w", err)
		}
		return payloads, nil
	}

	var payloads []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var payload json.RawMessage
		err := dec.Decode(&payload)
		if errors.Is(err, io.EOF) {
			return payloads, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid command %d: %w", len(payloads)+1, err)
		}
		payloads = append(payloads, payload)
	}
}

// printEnvelopes writes envelopes as a table or as JSON lines.
func printEnvelopes(w io.Writer, output string, envelopes []fmodel.Envelope[restaurant.Event]) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		for _, env := range envelopes {
			if err := enc.Encode(env.Document()); err != nil {
				return err
			}
		}
		return nil
	case "table", "":
		if len(envelopes) == 0 {
			fmt.Fprintln(w, styles.FormatInfo("No events"))
			return nil
		}
		stored := make([]fmodel.StoredEvent, len(envelopes))
		for i, env := range envelopes {
			stored[i] = env.Stored
		}
		fmt.Fprintln(w, eventTable(stored).Render())
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

// eventTable lists stored events in order.
func eventTable(events []fmodel.StoredEvent) *ui.Table {
	table := ui.NewTable("Position", "Stream", "Event", "Final", "Command", "Time")
	for _, e := range events {
		table.AddRow(
			fmt.Sprint(e.GlobalPosition),
			e.StreamID,
			e.Decider+"."+e.Type,
			fmt.Sprint(e.Final),
			short(e.CommandID),
			e.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}
	return table
}

// short abbreviates a UUID for display. UUIDv7 prefixes are timestamps, so
// the random tail is kept.
func short(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
