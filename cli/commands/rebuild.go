package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/cli/styles"
	"github.com/AshkanYarmoradi/go-fmodel/feed/kafka"
)

// NewRebuildCommand creates the rebuild command
func NewRebuildCommand(opts *globalOptions) *cobra.Command {
	var (
		from     uint64
		to       uint64
		target   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Replay the global log into the view or the relay",
		Long: `Replay a range of the global log without touching feed checkpoints.

The view skips events it already reflects, so replaying into it only fills
gaps. Replaying into the relay republishes every event in the range.

Examples:
  fmodel rebuild                         # Whole log into the view
  fmodel rebuild --target relay --from 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			var handler fmodel.EventHandler
			switch target {
			case "view":
				handler = app.View()
			case "relay":
				if len(app.Config.Kafka.Brokers) == 0 {
					return fmt.Errorf("kafka.brokers must be configured for the relay target")
				}
				publisher := kafka.New(
					kafka.WithBrokers(app.Config.Kafka.Brokers...),
					kafka.WithTopic(app.Config.Kafka.Topic),
				)
				defer publisher.Close()
				handler = publisher
			default:
				return fmt.Errorf("unknown target %q (want view or relay)", target)
			}

			out := cmd.OutOrStdout()
			rebuilder := fmodel.NewRebuilder(app.Store, fmodel.WithRebuilderLogger(app.logger()))
			progress, err := rebuilder.Rebuild(cmd.Context(), app.wrap(handler), fmodel.RebuildOptions{
				FromPosition:     from,
				ToPosition:       to,
				ProgressInterval: interval,
				ProgressCallback: func(p fmodel.RebuildProgress) {
					if !p.Completed {
						fmt.Fprintln(out, styles.FormatStep(int(p.ProcessedEvents), int(p.TotalEvents), fmt.Sprintf("position %d", p.CurrentPosition)))
					}
				},
			})
			if err != nil {
				return fmt.Errorf("rebuild stopped at position %d: %w", progress.CurrentPosition, err)
			}

			fmt.Fprintln(out, styles.FormatSuccess(fmt.Sprintf("Replayed %d event(s) into %s", progress.ProcessedEvents, progress.Handler)))
			fmt.Fprintln(out, styles.FormatKeyValue("Position", fmt.Sprint(progress.CurrentPosition)))
			fmt.Fprintln(out, styles.FormatKeyValue("Duration", progress.Duration.Round(time.Millisecond).String()))
			return nil
		},
	}

	cmd.Flags().Uint64Var(&from, "from", 0, "Replay events after this global position")
	cmd.Flags().Uint64Var(&to, "to", 0, "Stop after this global position (0 = end)")
	cmd.Flags().StringVarP(&target, "target", "t", "view", "Handler to replay into (view, relay)")
	cmd.Flags().DurationVar(&interval, "progress", time.Second, "Progress report interval")

	return cmd
}
