// Package tracing provides OpenTelemetry integration for fmodel.
//
// This package enables distributed tracing for event sourcing operations,
// including command handling, event store and view store operations, and
// projections.
//
// Basic usage with an aggregate:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	store := tracing.NewEventStoreMiddleware(adapter, tracer)
//	aggregate := tracing.TraceAggregate(fmodel.NewEventSourcingAggregate(decider, store, codec), tracer)
//
// The tracing middleware captures:
//   - Command type, stream identity and produced events
//   - Success/failure status and the failing stage
//   - Stream and view tokens
//   - Projection delivery per event
package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

const (
	// TracerName is the name of the fmodel tracer.
	TracerName = "github.com/AshkanYarmoradi/go-fmodel"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "fmodel"
)

// Tracer wraps OpenTelemetry tracer for fmodel operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

func (t *Tracer) client(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("fmodel.service", t.serviceName))
	span.SetAttributes(attrs...)
	return ctx, span
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// =============================================================================
// Command Tracing
// =============================================================================

// CommandHandler is the command side of an aggregate.
type CommandHandler[C, E any] interface {
	Handle(ctx context.Context, command C, opts ...fmodel.HandleOption) ([]fmodel.Envelope[E], error)
}

// TracedAggregate traces every command handled by the wrapped aggregate.
type TracedAggregate[C, E any] struct {
	handler CommandHandler[C, E]
	tracer  *Tracer
}

// TraceAggregate wraps handler with command spans.
func TraceAggregate[C, E any](handler CommandHandler[C, E], tracer *Tracer) *TracedAggregate[C, E] {
	return &TracedAggregate[C, E]{handler: handler, tracer: tracer}
}

// Handle handles command with tracing.
func (a *TracedAggregate[C, E]) Handle(ctx context.Context, command C, opts ...fmodel.HandleOption) ([]fmodel.Envelope[E], error) {
	commandType := fmodel.GetEventType(unwrap(command))
	ctx, span := a.tracer.StartSpan(ctx, fmt.Sprintf("command.%s", commandType),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("fmodel.service", a.tracer.serviceName),
		attribute.String("fmodel.command.type", commandType),
		attribute.String("fmodel.stream_id", fmodel.IdentityOf(command)),
	)

	if correlationID, ok := CorrelationID(ctx); ok {
		span.SetAttributes(attribute.String("fmodel.correlation_id", correlationID))
	}

	result, err := a.handler.Handle(ctx, command, opts...)

	var cmdErr *fmodel.CommandError
	if errors.As(err, &cmdErr) {
		span.SetAttributes(
			attribute.String("fmodel.command.stage", cmdErr.Stage.String()),
			attribute.Bool("fmodel.command.retryable", cmdErr.Retryable()),
		)
	}
	finish(span, err)

	if err == nil {
		span.SetAttributes(attribute.Int("fmodel.events.count", len(result)))
		if len(result) > 0 {
			last := result[len(result)-1].Stored
			span.SetAttributes(
				attribute.String("fmodel.stored.version", string(last.Version)),
				attribute.Int64("fmodel.stored.global_position", int64(last.GlobalPosition)),
			)
		}
	}

	return result, err
}

func unwrap(v any) any {
	for {
		s, ok := v.(interface{ Value() any })
		if !ok {
			return v
		}
		v = s.Value()
	}
}

type correlationIDContextKey struct{}

// WithCorrelationID returns a context carrying a correlation ID that
// command spans record.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDContextKey{}, id)
}

// CorrelationID returns the correlation ID carried by ctx.
func CorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDContextKey{}).(string)
	return id, ok && id != ""
}

// =============================================================================
// Event Store Middleware
// =============================================================================

// EventStoreMiddleware wraps an EventStoreAdapter with tracing.
// The command index and global log are forwarded when the wrapped adapter
// provides them.
type EventStoreMiddleware struct {
	adapter adapters.EventStoreAdapter
	tracer  *Tracer
}

var (
	_ adapters.EventStoreAdapter   = (*EventStoreMiddleware)(nil)
	_ adapters.CommandIndexAdapter = (*EventStoreMiddleware)(nil)
	_ adapters.GlobalLogAdapter    = (*EventStoreMiddleware)(nil)
)

// NewEventStoreMiddleware wraps an adapter with tracing.
func NewEventStoreMiddleware(adapter adapters.EventStoreAdapter, tracer *Tracer) *EventStoreMiddleware {
	return &EventStoreMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

// Append stores events with tracing.
func (m *EventStoreMiddleware) Append(ctx context.Context, streamID string, events []adapters.EventRecord, commandID string, expected adapters.Version) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.client(ctx, "eventstore.append",
		attribute.String("fmodel.stream_id", streamID),
		attribute.String("fmodel.command_id", commandID),
		attribute.String("fmodel.expected_version", string(expected)),
		attribute.Int("fmodel.events.count", len(events)),
	)
	defer span.End()

	if len(events) > 0 {
		eventTypes := make([]string, len(events))
		for i, e := range events {
			eventTypes[i] = e.Decider + "." + e.Type
		}
		span.SetAttributes(attribute.StringSlice("fmodel.events.types", eventTypes))
	}

	stored, err := m.adapter.Append(ctx, streamID, events, commandID, expected)
	finish(span, err)

	if err == nil && len(stored) > 0 {
		span.SetAttributes(
			attribute.String("fmodel.stored.version", string(stored[len(stored)-1].Version)),
			attribute.Int64("fmodel.stored.global_position", int64(stored[len(stored)-1].GlobalPosition)),
		)
	}

	return stored, err
}

// Fetch retrieves a stream with tracing.
func (m *EventStoreMiddleware) Fetch(ctx context.Context, streamID string) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.client(ctx, "eventstore.fetch",
		attribute.String("fmodel.stream_id", streamID),
	)
	defer span.End()

	events, err := m.adapter.Fetch(ctx, streamID)
	finish(span, err)

	if err == nil {
		span.SetAttributes(attribute.Int("fmodel.events.loaded", len(events)))
	}

	return events, err
}

// CurrentVersion returns the stream token with tracing.
func (m *EventStoreMiddleware) CurrentVersion(ctx context.Context, streamID string) (adapters.Version, error) {
	ctx, span := m.tracer.client(ctx, "eventstore.current_version",
		attribute.String("fmodel.stream_id", streamID),
	)
	defer span.End()

	version, err := m.adapter.CurrentVersion(ctx, streamID)
	finish(span, err)

	if err == nil {
		span.SetAttributes(attribute.String("fmodel.stream.version", string(version)))
	}

	return version, err
}

// LoadByCommand loads the events of a command with tracing.
// It returns no events when the wrapped adapter keeps no command index.
func (m *EventStoreMiddleware) LoadByCommand(ctx context.Context, commandID string) ([]adapters.StoredEvent, error) {
	index, ok := m.adapter.(adapters.CommandIndexAdapter)
	if !ok {
		return []adapters.StoredEvent{}, nil
	}

	ctx, span := m.tracer.client(ctx, "eventstore.load_by_command",
		attribute.String("fmodel.command_id", commandID),
	)
	defer span.End()

	events, err := index.LoadByCommand(ctx, commandID)
	finish(span, err)

	if err == nil {
		span.SetAttributes(attribute.Int("fmodel.events.loaded", len(events)))
	}

	return events, err
}

// LoadFromPosition loads events from a global position with tracing.
func (m *EventStoreMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	log, ok := m.adapter.(adapters.GlobalLogAdapter)
	if !ok {
		return nil, errors.New("fmodel/tracing: wrapped adapter has no global log")
	}

	ctx, span := m.tracer.client(ctx, "eventstore.load_from_position",
		attribute.Int64("fmodel.from_position", int64(fromPosition)),
		attribute.Int("fmodel.limit", limit),
	)
	defer span.End()

	events, err := log.LoadFromPosition(ctx, fromPosition, limit)
	finish(span, err)

	if err == nil {
		span.SetAttributes(attribute.Int("fmodel.events.loaded", len(events)))
	}

	return events, err
}

// GetLastPosition returns the last global position with tracing.
func (m *EventStoreMiddleware) GetLastPosition(ctx context.Context) (uint64, error) {
	log, ok := m.adapter.(adapters.GlobalLogAdapter)
	if !ok {
		return 0, errors.New("fmodel/tracing: wrapped adapter has no global log")
	}

	ctx, span := m.tracer.client(ctx, "eventstore.get_last_position")
	defer span.End()

	pos, err := log.GetLastPosition(ctx)
	finish(span, err)

	if err == nil {
		span.SetAttributes(attribute.Int64("fmodel.last_position", int64(pos)))
	}

	return pos, err
}

// Initialize initializes the adapter with tracing.
func (m *EventStoreMiddleware) Initialize(ctx context.Context) error {
	ctx, span := m.tracer.client(ctx, "eventstore.initialize")
	defer span.End()

	err := m.adapter.Initialize(ctx)
	finish(span, err)
	return err
}

// Close closes the adapter.
func (m *EventStoreMiddleware) Close() error {
	return m.adapter.Close()
}

// =============================================================================
// View Store Middleware
// =============================================================================

// ViewStoreMiddleware wraps a ViewStoreAdapter with tracing.
type ViewStoreMiddleware struct {
	adapter adapters.ViewStoreAdapter
	tracer  *Tracer
}

var _ adapters.ViewStoreAdapter = (*ViewStoreMiddleware)(nil)

// NewViewStoreMiddleware wraps a view store with tracing.
func NewViewStoreMiddleware(adapter adapters.ViewStoreAdapter, tracer *Tracer) *ViewStoreMiddleware {
	return &ViewStoreMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

// FetchView retrieves a view with tracing. A missing view is not an error
// on the span.
func (m *ViewStoreMiddleware) FetchView(ctx context.Context, viewName, viewID string) (*adapters.ViewRecord, error) {
	ctx, span := m.tracer.client(ctx, "viewstore.fetch",
		attribute.String("fmodel.view", viewName),
		attribute.String("fmodel.view_id", viewID),
	)
	defer span.End()

	record, err := m.adapter.FetchView(ctx, viewName, viewID)
	switch {
	case errors.Is(err, adapters.ErrViewNotFound):
		span.SetAttributes(attribute.Bool("fmodel.view.found", false))
		span.SetStatus(codes.Ok, "")
	case err != nil:
		finish(span, err)
	default:
		span.SetAttributes(
			attribute.Bool("fmodel.view.found", true),
			attribute.String("fmodel.view.version", string(record.Version)),
			attribute.Int64("fmodel.view.position", int64(record.Position)),
		)
		span.SetStatus(codes.Ok, "")
	}

	return record, err
}

// SaveView stores a view with tracing.
func (m *ViewStoreMiddleware) SaveView(ctx context.Context, record adapters.ViewRecord, prior adapters.Version) (*adapters.ViewRecord, error) {
	ctx, span := m.tracer.client(ctx, "viewstore.save",
		attribute.String("fmodel.view", record.ViewName),
		attribute.String("fmodel.view_id", record.ViewID),
		attribute.String("fmodel.prior_version", string(prior)),
		attribute.Int64("fmodel.view.position", int64(record.Position)),
	)
	defer span.End()

	saved, err := m.adapter.SaveView(ctx, record, prior)
	finish(span, err)

	if err == nil {
		span.SetAttributes(attribute.String("fmodel.view.version", string(saved.Version)))
	}

	return saved, err
}

// =============================================================================
// Handler Middleware
// =============================================================================

// HandlerMiddleware wraps an event handler with tracing.
type HandlerMiddleware struct {
	handler fmodel.EventHandler
	tracer  *Tracer
}

var _ fmodel.EventHandler = (*HandlerMiddleware)(nil)

// NewHandlerMiddleware wraps an event handler with tracing.
func NewHandlerMiddleware(handler fmodel.EventHandler, tracer *Tracer) *HandlerMiddleware {
	return &HandlerMiddleware{
		handler: handler,
		tracer:  tracer,
	}
}

// Name returns the handler name.
func (m *HandlerMiddleware) Name() string {
	return m.handler.Name()
}

// HandleEvent handles an event with tracing.
func (m *HandlerMiddleware) HandleEvent(ctx context.Context, event fmodel.StoredEvent) error {
	spanName := fmt.Sprintf("projection.%s.handle", m.handler.Name())

	ctx, span := m.tracer.StartSpan(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("fmodel.service", m.tracer.serviceName),
		attribute.String("fmodel.projection.name", m.handler.Name()),
		attribute.String("fmodel.event.decider", event.Decider),
		attribute.String("fmodel.event.type", event.Type),
		attribute.String("fmodel.event.id", event.ID),
		attribute.String("fmodel.event.stream_id", event.StreamID),
		attribute.Int64("fmodel.event.global_position", int64(event.GlobalPosition)),
	)

	err := m.handler.HandleEvent(ctx, event)
	finish(span, err)
	return err
}

// =============================================================================
// Span Helpers
// =============================================================================

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
