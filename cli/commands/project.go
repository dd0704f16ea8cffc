package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/adapters"
	"github.com/AshkanYarmoradi/go-fmodel/cli/styles"
	"github.com/AshkanYarmoradi/go-fmodel/cli/ui"
	"github.com/AshkanYarmoradi/go-fmodel/examples/restaurant"
	"github.com/AshkanYarmoradi/go-fmodel/feed/kafka"
	"github.com/AshkanYarmoradi/go-fmodel/middleware/metrics"
)

const (
	lagInterval  = 5 * time.Second
	stopTimeout  = 10 * time.Second
	shutdownWait = 5 * time.Second
)

// NewProjectCommand creates the project command
func NewProjectCommand(opts *globalOptions) *cobra.Command {
	var (
		once         bool
		relay        bool
		fromKafka    bool
		metricsAddr  string
		batchSize    int
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Run the view projection and the Kafka relay",
		Long: `Deliver stored events to the restaurant view, and optionally relay them
to Kafka, until interrupted.

Each runner acknowledges an event only after it was handled, so a restart
resumes after the last acknowledged event.

Examples:
  fmodel project --once                  # Catch up and exit
  fmodel project --metrics-addr :9090    # Serve /metrics while running
  fmodel project --relay                 # Also publish events to Kafka
  fmodel project --from-kafka            # Feed the view from Kafka`,
		Aliases: []string{"projection"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			cfg := app.Config
			if (relay || fromKafka) && len(cfg.Kafka.Brokers) == 0 {
				return errors.New("kafka.brokers must be configured for --relay and --from-kafka")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = cfg.Metrics.Addr
			}

			var m *metrics.Metrics
			if metricsAddr != "" {
				m = metrics.New(
					metrics.WithNamespace(cfg.Metrics.Namespace),
					metrics.WithMetricsServiceName(cfg.Project.Name),
				)
				app.EnableMetrics(m)

				srv, err := serveMetrics(metricsAddr, m, app.Logger)
				if err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				fmt.Fprintln(cmd.OutOrStdout(), styles.FormatInfo("Serving metrics on http://"+metricsAddr+"/metrics"))
			}

			runnerOptions := fmodel.DefaultRunnerOptions()
			runnerOptions.BatchSize = batchSize
			runnerOptions.PollInterval = pollInterval
			runnerOpts := fmodel.WithRunnerOptions(runnerOptions)

			var viewFeed adapters.FeedAdapter = app.Store
			if fromKafka {
				consumer := kafka.NewConsumer(
					kafka.WithConsumerBrokers(cfg.Kafka.Brokers...),
					kafka.WithConsumerTopic(cfg.Kafka.Topic),
				)
				defer consumer.Close()
				viewFeed = consumer
			}

			runners := []*fmodel.ProjectionRunner{app.Runner(viewFeed, app.View(), runnerOpts)}
			if relay {
				publisher := kafka.New(
					kafka.WithBrokers(cfg.Kafka.Brokers...),
					kafka.WithTopic(cfg.Kafka.Topic),
				)
				defer publisher.Close()
				runners = append(runners, app.Runner(app.Store, publisher, runnerOpts))
			}

			if once {
				return drainAll(ctx, cmd, app, m, runners)
			}
			return runAll(ctx, cmd, app, m, runners)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Process every pending event and exit")
	cmd.Flags().BoolVar(&relay, "relay", false, "Publish stored events to kafka.topic")
	cmd.Flags().BoolVar(&fromKafka, "from-kafka", false, "Feed the view from kafka.topic instead of the store")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default: metrics.addr)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "Events polled per batch")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 100*time.Millisecond, "Wait between polls of an empty feed")

	return cmd
}

func drainAll(ctx context.Context, cmd *cobra.Command, app *App, m *metrics.Metrics, runners []*fmodel.ProjectionRunner) error {
	table := ui.NewTable("Runner", "Events", "Position", "Status")
	for _, r := range runners {
		name := r.Status().Name
		var n int
		err := ui.Spin(ctx, cmd.OutOrStdout(), "Catching up "+name+"...", func(ctx context.Context) (string, error) {
			var err error
			n, err = r.Drain(ctx)
			return fmt.Sprintf("%s processed %d events", name, n), err
		})
		status := r.Status()
		state := "done"
		if err != nil {
			state = "failed"
		}
		table.AddRow(status.Name, fmt.Sprint(n), fmt.Sprint(status.LastPosition), ui.StatusBadge(state))
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), table.Render())
			return fmt.Errorf("%s: %w", status.Name, err)
		}
	}

	if m != nil {
		recordLag(ctx, app, m)
	}

	fmt.Fprintln(cmd.OutOrStdout(), table.Render())
	return nil
}

func runAll(ctx context.Context, cmd *cobra.Command, app *App, m *metrics.Metrics, runners []*fmodel.ProjectionRunner) error {
	for _, r := range runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), styles.FormatSuccess("Started "+r.Status().Name))
	}

	if m != nil {
		go func() {
			ticker := time.NewTicker(lagInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					recordLag(ctx, app, m)
				}
			}
		}()
	}

	failed := make(chan error, len(runners))
	for _, r := range runners {
		go func(r *fmodel.ProjectionRunner) {
			select {
			case <-r.Done():
				failed <- r.Err()
			case <-ctx.Done():
			}
		}(r)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-failed:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	var errs []error
	for _, r := range runners {
		if err := r.Stop(stopCtx); err != nil {
			errs = append(errs, err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), styles.FormatInfo("Stopped"))
	return errors.Join(append(errs, runErr)...)
}

// recordLag publishes how far the view checkpoint trails the global log.
func recordLag(ctx context.Context, app *App, m *metrics.Metrics) {
	checkpoint, err := app.Checkpoint(ctx, restaurant.ViewName)
	if err != nil {
		return
	}
	last, err := app.Store.GetLastPosition(ctx)
	if err != nil {
		return
	}

	var lag uint64
	if last > checkpoint {
		lag = last - checkpoint
	}
	m.RecordProjectionLag(restaurant.ViewName, lag)
}

// serveMetrics exposes m, plus Go runtime and process collectors, on addr.
func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) (*http.Server, error) {
	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	return srv, nil
}
