package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/adapters"
	"github.com/AshkanYarmoradi/go-fmodel/adapters/bolt"
	"github.com/AshkanYarmoradi/go-fmodel/adapters/memory"
	"github.com/AshkanYarmoradi/go-fmodel/adapters/postgres"
	"github.com/AshkanYarmoradi/go-fmodel/adapters/sqlite"
	"github.com/AshkanYarmoradi/go-fmodel/cli/config"
	"github.com/AshkanYarmoradi/go-fmodel/examples/restaurant"
	"github.com/AshkanYarmoradi/go-fmodel/middleware/metrics"
	"github.com/AshkanYarmoradi/go-fmodel/middleware/tracing"
	"github.com/AshkanYarmoradi/go-fmodel/serializer/msgpack"
)

// Store combines every adapter capability the CLI needs.
type Store interface {
	adapters.EventStoreAdapter
	adapters.GlobalLogAdapter
	adapters.CommandIndexAdapter
	adapters.ViewStoreAdapter
	adapters.FeedAdapter
	adapters.HealthChecker
}

// globalOptions holds the persistent root flags.
type globalOptions struct {
	configPath string
	driver     string
	trace      bool
}

// loadConfig reads the configuration named by --config, or the nearest
// fmodel.yaml, or the defaults. Relative store paths resolve against the
// directory of the config file.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		dir string
		err error
	)

	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
		dir = filepath.Dir(o.configPath)
	} else {
		var cwd string
		if cwd, err = os.Getwd(); err != nil {
			return nil, err
		}
		dir, cfg, err = config.FindConfig(cwd)
		if errors.Is(err, os.ErrNotExist) {
			dir, cfg = cwd, config.DefaultConfig()
			err = cfg.ApplyEnv()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if o.driver != "" {
		cfg.Store.Driver = o.driver
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(dir, cfg.Store.Path)
	}

	return cfg, nil
}

// App is the wiring shared by the store-backed commands.
type App struct {
	Config *config.Config
	Store  Store
	Logger *slog.Logger

	codec    fmodel.Codec[restaurant.Event]
	states   fmodel.StateCodec[restaurant.ViewState]
	metrics  *metrics.Metrics
	tracer   *tracing.Tracer
	shutdown func(context.Context) error
}

// newApp loads the configuration and opens the store.
func newApp(cmd *cobra.Command, opts *globalOptions) (*App, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Store:  store,
		Logger: logger,
	}

	switch cfg.Serializer {
	case "msgpack":
		app.codec = restaurant.NewCodec(func() fmodel.Serializer { return msgpack.NewSerializer() })
		app.states = msgpack.State[restaurant.ViewState]()
	default:
		app.codec = restaurant.NewCodec(nil)
		app.states = fmodel.JSONState[restaurant.ViewState]()
	}

	if opts.trace {
		if err := app.enableTracing(cmd.ErrOrStderr()); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	logger.Debug("store opened", "driver", cfg.Store.Driver, "serializer", cfg.Serializer)
	return app, nil
}

// openStore opens and initializes the configured store.
func openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		store Store
		err   error
	)

	switch cfg.Store.Driver {
	case config.DriverMemory:
		store = memory.NewAdapter()
	case config.DriverBolt:
		store, err = bolt.Open(cfg.Store.Path)
	case config.DriverSQLite:
		store, err = sqlite.Open(cfg.Store.Path)
	case config.DriverPostgres:
		var adapter *postgres.PostgresAdapter
		adapter, err = postgres.NewAdapter(cfg.Store.URL, postgres.WithSchema(cfg.Store.Schema))
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = adapter.Ping(pingCtx)
			cancel()
			if err != nil {
				_ = adapter.Close()
				err = fmt.Errorf("failed to connect to postgres: %w", err)
			}
		}
		store = adapter
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.Store.Driver, err)
	}

	return store, nil
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

func (a *App) enableTracing(w io.Writer) error {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	a.tracer = tracing.NewTracer(
		tracing.WithTracerProvider(provider),
		tracing.WithServiceName(a.Config.Project.Name),
	)
	a.shutdown = provider.Shutdown
	return nil
}

// EnableMetrics records command, view and projection metrics in m.
func (a *App) EnableMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// logger returns the fmodel logger backed by the app's slog logger.
func (a *App) logger() fmodel.Logger {
	return fmodel.NewSlogLogger(a.Logger)
}

// Aggregate returns the restaurant aggregate over the instrumented store.
func (a *App) Aggregate() *restaurant.Aggregate {
	var store adapters.EventStoreAdapter = a.Store
	if a.metrics != nil {
		store = a.metrics.WrapEventStore(store)
	}
	if a.tracer != nil {
		store = tracing.NewEventStoreMiddleware(store, a.tracer)
	}

	opts := []fmodel.AggregateOption{fmodel.WithAggregateLogger(a.logger())}
	if a.metrics != nil {
		opts = append(opts, fmodel.WithCommandMetrics(a.metrics))
	}
	return restaurant.NewAggregate(store, a.codec, opts...)
}

// Handle handles one command, traced when tracing is enabled.
func (a *App) Handle(ctx context.Context, command restaurant.Command, opts ...fmodel.HandleOption) ([]fmodel.Envelope[restaurant.Event], error) {
	var handler tracing.CommandHandler[restaurant.Command, restaurant.Event] = a.Aggregate()
	if a.tracer != nil {
		handler = tracing.TraceAggregate(handler, a.tracer)
	}
	return handler.Handle(ctx, command, opts...)
}

// View returns the restaurant materialized view over the instrumented store.
func (a *App) View() *restaurant.MaterializedView {
	var store adapters.ViewStoreAdapter = a.Store
	if a.tracer != nil {
		store = tracing.NewViewStoreMiddleware(store, a.tracer)
	}

	opts := []fmodel.ViewOption{fmodel.WithViewLogger(a.logger())}
	if a.metrics != nil {
		opts = append(opts, fmodel.WithViewMetrics(a.metrics))
	}
	return restaurant.NewMaterializedView(store, a.codec, a.states, opts...)
}

// Runner returns a projection runner delivering feed to handler.
func (a *App) Runner(feed adapters.FeedAdapter, handler fmodel.EventHandler, opts ...fmodel.RunnerOption) *fmodel.ProjectionRunner {
	opts = append([]fmodel.RunnerOption{fmodel.WithRunnerLogger(a.logger())}, opts...)
	if a.metrics != nil {
		opts = append(opts, fmodel.WithRunnerMetrics(a.metrics))
	}
	return fmodel.NewProjectionRunner(feed, a.wrap(handler), opts...)
}

// wrap adds handler spans when tracing is enabled.
func (a *App) wrap(handler fmodel.EventHandler) fmodel.EventHandler {
	if a.tracer != nil {
		return tracing.NewHandlerMiddleware(handler, a.tracer)
	}
	return handler
}

// Project drains the store feed into the view.
func (a *App) Project(ctx context.Context) (int, error) {
	return a.Runner(a.Store, a.View()).Drain(ctx)
}

// Checkpoint returns the acknowledged feed position of consumer.
func (a *App) Checkpoint(ctx context.Context, consumer string) (uint64, error) {
	switch s := a.Store.(type) {
	case interface {
		Checkpoint(context.Context, string) (uint64, error)
	}:
		return s.Checkpoint(ctx, consumer)
	case interface{ Checkpoint(string) uint64 }:
		return s.Checkpoint(consumer), nil
	default:
		return 0, fmt.Errorf("store %T does not expose checkpoints", a.Store)
	}
}

// Close flushes traces and closes the store.
func (a *App) Close() error {
	var errs []error
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.Background()))
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
