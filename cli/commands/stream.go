package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/adapters"
	"github.com/AshkanYarmoradi/go-fmodel/cli/styles"
)

// NewStreamCommand creates the stream command
func NewStreamCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Inspect event streams and the global log",
		Long: `Inspect event streams and the global log.

Examples:
  fmodel stream events r1            # Events of one stream
  fmodel stream events r1 -o json    # With decoded payloads
  fmodel stream version r1           # Current stream version token
  fmodel stream log --from 10        # Global log after position 10
  fmodel stream command <command-id> # Events appended by one command`,
		Aliases: []string{"streams"},
	}

	cmd.AddCommand(newStreamEventsCommand(opts))
	cmd.AddCommand(newStreamVersionCommand(opts))
	cmd.AddCommand(newStreamLogCommand(opts))
	cmd.AddCommand(newStreamCommandCommand(opts))

	return cmd
}

func newStreamEventsCommand(opts *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "events <stream-id>",
		Short: "List the events of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			envelopes, err := app.Aggregate().Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printEnvelopes(cmd.OutOrStdout(), output, envelopes)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func newStreamVersionCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version <stream-id>",
		Short: "Show the version token of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			version, err := app.Store.CurrentVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if version == adapters.NoVersion {
				fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("stream %s does not exist", args[0])))
				return nil
			}
			fmt.Fprintln(out, version)
			return nil
		},
	}
}

func newStreamLogCommand(opts *globalOptions) *cobra.Command {
	var (
		from   uint64
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List the global log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			events, err := app.Store.LoadFromPosition(cmd.Context(), from, limit)
			if err != nil {
				return err
			}
			return printStored(cmd, output, events)
		},
	}

	cmd.Flags().Uint64Var(&from, "from", 0, "List events after this global position")
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum number of events")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func newStreamCommandCommand(opts *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "command <command-id>",
		Short: "List the events appended by one command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			events, err := app.Store.LoadByCommand(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printStored(cmd, output, events)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// printStored writes raw stored events as a table or as JSON lines.
func printStored(cmd *cobra.Command, output string, events []fmodel.StoredEvent) error {
	out := cmd.OutOrStdout()
	switch output {
	case "json":
		enc := json.NewEncoder(out)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	case "table", "":
		if len(events) == 0 {
			fmt.Fprintln(out, styles.FormatInfo("No events"))
			return nil
		}
		fmt.Fprintln(out, eventTable(events).Render())
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
