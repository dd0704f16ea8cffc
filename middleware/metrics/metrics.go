// Package metrics provides Prometheus metrics integration for fmodel.
//
// This package enables observability through Prometheus metrics for
// command handling, event store operations, materialized views and
// projection runners.
//
// Basic usage:
//
//	metrics := metrics.New()
//	// Register with Prometheus
//	prometheus.MustRegister(metrics.Collectors()...)
//
//	// Use with an aggregate, a view and a runner
//	aggregate := fmodel.NewEventSourcingAggregate(decider, metrics.WrapEventStore(adapter), codec,
//	    fmodel.WithCommandMetrics(metrics))
//	view := fmodel.NewMaterializedView(name, v, store, codec, states, fmodel.WithViewMetrics(metrics))
//	runner := fmodel.NewProjectionRunner(feed, view, fmodel.WithRunnerMetrics(metrics))
//
// The metrics collected include:
//   - Command handling counts and durations by terminal stage
//   - Event store operations (append, fetch, load)
//   - View update outcomes
//   - Projection processing, checkpoints and lag
//   - Error counts by type
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Default metric labels.
const (
	LabelAggregate      = "aggregate"
	LabelStage          = "stage"
	LabelDecider        = "decider"
	LabelEventType      = "event_type"
	LabelViewName       = "view"
	LabelOutcome        = "outcome"
	LabelProjectionName = "projection_name"
	LabelOperation      = "operation"
	LabelStatus         = "status"
	LabelErrorType      = "error_type"
	LabelService        = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values.
const (
	OperationAppend         = "append"
	OperationFetch          = "fetch"
	OperationCurrentVersion = "current_version"
	OperationLoadByCommand  = "load_by_command"
	OperationLoadPosition   = "load_from_position"
)

// Metrics holds all Prometheus metrics for fmodel.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Command metrics
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// Event store metrics
	eventStoreOperationsTotal   *prometheus.CounterVec
	eventStoreOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal         *prometheus.CounterVec
	eventsLoadedTotal           *prometheus.CounterVec

	// View metrics
	viewUpdatesTotal   *prometheus.CounterVec
	viewUpdateDuration *prometheus.HistogramVec

	// Projection metrics
	projectionsProcessedTotal *prometheus.CounterVec
	projectionDuration        *prometheus.HistogramVec
	projectionLag             *prometheus.GaugeVec
	projectionCheckpoint      *prometheus.GaugeVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

var (
	_ fmodel.CommandMetrics    = (*Metrics)(nil)
	_ fmodel.ViewMetrics       = (*Metrics)(nil)
	_ fmodel.ProjectionMetrics = (*Metrics)(nil)
)

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "fmodel",
		subsystem:   "",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

func (m *Metrics) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
		},
		append([]string{LabelService}, labels...),
	)
}

func (m *Metrics) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		},
		append([]string{LabelService}, labels...),
	)
}

func (m *Metrics) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
		},
		append([]string{LabelService}, labels...),
	)
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	m.commandsTotal = m.counter("commands_total",
		"Total number of commands handled, by terminal stage.", LabelAggregate, LabelStage)
	m.commandDuration = m.histogram("command_duration_seconds",
		"Duration of command handling in seconds.", LabelAggregate)

	m.eventStoreOperationsTotal = m.counter("eventstore_operations_total",
		"Total number of event store operations.", LabelOperation, LabelStatus)
	m.eventStoreOperationDuration = m.histogram("eventstore_operation_duration_seconds",
		"Duration of event store operations in seconds.", LabelOperation)
	m.eventsAppendedTotal = m.counter("events_appended_total",
		"Total number of events appended to streams.", LabelDecider, LabelEventType)
	m.eventsLoadedTotal = m.counter("events_loaded_total",
		"Total number of events loaded from the store.")

	m.viewUpdatesTotal = m.counter("view_updates_total",
		"Total number of events handled by materialized views, by outcome.", LabelViewName, LabelOutcome)
	m.viewUpdateDuration = m.histogram("view_update_duration_seconds",
		"Duration of materialized view updates in seconds.", LabelViewName)

	m.projectionsProcessedTotal = m.counter("projections_processed_total",
		"Total number of events processed by projections.", LabelProjectionName, LabelEventType, LabelStatus)
	m.projectionDuration = m.histogram("projection_duration_seconds",
		"Duration of projection event processing in seconds.", LabelProjectionName)
	m.projectionLag = m.gauge("projection_lag_events",
		"Number of events behind the latest position for each projection.", LabelProjectionName)
	m.projectionCheckpoint = m.gauge("projection_checkpoint_position",
		"Current checkpoint position for each projection.", LabelProjectionName)

	m.errorsTotal = m.counter("errors_total",
		"Total number of errors by type.", LabelErrorType)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commandsTotal,
		m.commandDuration,
		m.eventStoreOperationsTotal,
		m.eventStoreOperationDuration,
		m.eventsAppendedTotal,
		m.eventsLoadedTotal,
		m.viewUpdatesTotal,
		m.viewUpdateDuration,
		m.projectionsProcessedTotal,
		m.projectionDuration,
		m.projectionLag,
		m.projectionCheckpoint,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// fmodel Metrics Interfaces
// =============================================================================

// RecordCommand implements fmodel.CommandMetrics.
func (m *Metrics) RecordCommand(aggregate string, stage fmodel.Stage, duration time.Duration, events int) {
	m.commandDuration.WithLabelValues(m.serviceName, aggregate).Observe(duration.Seconds())
	m.commandsTotal.WithLabelValues(m.serviceName, aggregate, stage.String()).Inc()
	if stage == fmodel.StageConflict {
		m.errorsTotal.WithLabelValues(m.serviceName, "concurrency_conflict").Inc()
	}
}

// RecordViewUpdate implements fmodel.ViewMetrics.
func (m *Metrics) RecordViewUpdate(view string, outcome fmodel.Outcome, duration time.Duration) {
	m.viewUpdateDuration.WithLabelValues(m.serviceName, view).Observe(duration.Seconds())
	m.viewUpdatesTotal.WithLabelValues(m.serviceName, view, outcome.String()).Inc()
}

// RecordEventProcessed implements fmodel.ProjectionMetrics.
func (m *Metrics) RecordEventProcessed(projectionName, eventType string, duration time.Duration, success bool) {
	m.projectionDuration.WithLabelValues(m.serviceName, projectionName).Observe(duration.Seconds())

	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.projectionsProcessedTotal.WithLabelValues(m.serviceName, projectionName, eventType, status).Inc()
}

// RecordCheckpoint implements fmodel.ProjectionMetrics.
func (m *Metrics) RecordCheckpoint(projectionName string, position uint64) {
	m.projectionCheckpoint.WithLabelValues(m.serviceName, projectionName).Set(float64(position))
}

// RecordError implements fmodel.ProjectionMetrics.
func (m *Metrics) RecordError(projectionName string, err error) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
}

// RecordProjectionLag records the current lag for a projection.
func (m *Metrics) RecordProjectionLag(projectionName string, lag uint64) {
	m.projectionLag.WithLabelValues(m.serviceName, projectionName).Set(float64(lag))
}

// errorTypeName extracts the error type name based on sentinel errors.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, fmodel.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, fmodel.ErrStoreInconsistent):
		return "store_inconsistent"
	case errors.Is(err, fmodel.ErrHandlerPanicked):
		return "handler_panicked"
	case errors.Is(err, fmodel.ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, fmodel.ErrEventTypeNotRegistered):
		return "event_type_not_registered"
	case errors.Is(err, fmodel.ErrStreamMismatch):
		return "stream_mismatch"
	case errors.Is(err, adapters.ErrEmptyStreamID):
		return "empty_stream_id"
	case errors.Is(err, adapters.ErrNoEvents):
		return "no_events"
	case errors.Is(err, adapters.ErrAdapterClosed):
		return "adapter_closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "unknown"
	}
}

// =============================================================================
// Event Store Middleware
// =============================================================================

// EventStoreMiddleware wraps an EventStoreAdapter with metrics.
// The command index and global log are forwarded when the wrapped adapter
// provides them.
type EventStoreMiddleware struct {
	adapter adapters.EventStoreAdapter
	metrics *Metrics
}

var (
	_ adapters.EventStoreAdapter   = (*EventStoreMiddleware)(nil)
	_ adapters.CommandIndexAdapter = (*EventStoreMiddleware)(nil)
	_ adapters.GlobalLogAdapter    = (*EventStoreMiddleware)(nil)
)

// WrapEventStore wraps an adapter with metrics collection.
func (m *Metrics) WrapEventStore(adapter adapters.EventStoreAdapter) *EventStoreMiddleware {
	return &EventStoreMiddleware{
		adapter: adapter,
		metrics: m,
	}
}

func (em *EventStoreMiddleware) observe(operation string, start time.Time, err error) {
	em.metrics.eventStoreOperationDuration.WithLabelValues(em.metrics.serviceName, operation).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		em.metrics.errorsTotal.WithLabelValues(em.metrics.serviceName, errorTypeName(err)).Inc()
	}
	em.metrics.eventStoreOperationsTotal.WithLabelValues(em.metrics.serviceName, operation, status).Inc()
}

// Append stores events with metrics.
func (em *EventStoreMiddleware) Append(ctx context.Context, streamID string, events []adapters.EventRecord, commandID string, expected adapters.Version) ([]adapters.StoredEvent, error) {
	start := time.Now()
	stored, err := em.adapter.Append(ctx, streamID, events, commandID, expected)
	em.observe(OperationAppend, start, err)

	if err == nil {
		for _, e := range events {
			em.metrics.eventsAppendedTotal.WithLabelValues(em.metrics.serviceName, e.Decider, e.Type).Inc()
		}
	}
	return stored, err
}

// Fetch retrieves a stream with metrics.
func (em *EventStoreMiddleware) Fetch(ctx context.Context, streamID string) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.Fetch(ctx, streamID)
	em.observe(OperationFetch, start, err)

	if err == nil {
		em.metrics.eventsLoadedTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(events)))
	}
	return events, err
}

// CurrentVersion returns the stream version with metrics.
func (em *EventStoreMiddleware) CurrentVersion(ctx context.Context, streamID string) (adapters.Version, error) {
	start := time.Now()
	version, err := em.adapter.CurrentVersion(ctx, streamID)
	em.observe(OperationCurrentVersion, start, err)
	return version, err
}

// LoadByCommand loads the events of a command with metrics.
// It returns no events when the wrapped adapter keeps no command index.
func (em *EventStoreMiddleware) LoadByCommand(ctx context.Context, commandID string) ([]adapters.StoredEvent, error) {
	index, ok := em.adapter.(adapters.CommandIndexAdapter)
	if !ok {
		return []adapters.StoredEvent{}, nil
	}

	start := time.Now()
	events, err := index.LoadByCommand(ctx, commandID)
	em.observe(OperationLoadByCommand, start, err)
	return events, err
}

// LoadFromPosition loads events from a global position with metrics.
func (em *EventStoreMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	log, ok := em.adapter.(adapters.GlobalLogAdapter)
	if !ok {
		return nil, errors.New("fmodel/metrics: wrapped adapter has no global log")
	}

	start := time.Now()
	events, err := log.LoadFromPosition(ctx, fromPosition, limit)
	em.observe(OperationLoadPosition, start, err)

	if err == nil {
		em.metrics.eventsLoadedTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(events)))
	}
	return events, err
}

// GetLastPosition returns the last global position.
func (em *EventStoreMiddleware) GetLastPosition(ctx context.Context) (uint64, error) {
	log, ok := em.adapter.(adapters.GlobalLogAdapter)
	if !ok {
		return 0, errors.New("fmodel/metrics: wrapped adapter has no global log")
	}
	return log.GetLastPosition(ctx)
}

// Initialize initializes the adapter.
func (em *EventStoreMiddleware) Initialize(ctx context.Context) error {
	return em.adapter.Initialize(ctx)
}

// Close closes the adapter.
func (em *EventStoreMiddleware) Close() error {
	return em.adapter.Close()
}

// =============================================================================
// Getters for testing
// =============================================================================

// CommandsTotal returns the commands counter.
func (m *Metrics) CommandsTotal() *prometheus.CounterVec {
	return m.commandsTotal
}

// EventStoreOperationsTotal returns the event store operations counter.
func (m *Metrics) EventStoreOperationsTotal() *prometheus.CounterVec {
	return m.eventStoreOperationsTotal
}

// EventsAppendedTotal returns the events appended counter.
func (m *Metrics) EventsAppendedTotal() *prometheus.CounterVec {
	return m.eventsAppendedTotal
}

// EventsLoadedTotal returns the events loaded counter.
func (m *Metrics) EventsLoadedTotal() *prometheus.CounterVec {
	return m.eventsLoadedTotal
}

// ViewUpdatesTotal returns the view updates counter.
func (m *Metrics) ViewUpdatesTotal() *prometheus.CounterVec {
	return m.viewUpdatesTotal
}

// ProjectionsProcessedTotal returns the projections processed counter.
func (m *Metrics) ProjectionsProcessedTotal() *prometheus.CounterVec {
	return m.projectionsProcessedTotal
}

// ProjectionLag returns the projection lag gauge.
func (m *Metrics) ProjectionLag() *prometheus.GaugeVec {
	return m.projectionLag
}

// ProjectionCheckpoint returns the projection checkpoint gauge.
func (m *Metrics) ProjectionCheckpoint() *prometheus.GaugeVec {
	return m.projectionCheckpoint
}

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec {
	return m.errorsTotal
}
