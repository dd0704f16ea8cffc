package fmodel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// CommandMetrics receives one observation per handled command.
type CommandMetrics interface {
	// RecordCommand records the terminal stage, duration and number of
	// events appended by a command handling invocation.
	RecordCommand(aggregate string, stage Stage, duration time.Duration, events int)
}

type noopCommandMetrics struct{}

func (noopCommandMetrics) RecordCommand(string, Stage, time.Duration, int) {}

// EventSourcingAggregate glues a Decider to an event store.
//
// Handle fetches the command's stream, folds it to the current state, decides,
// and appends the new events expecting the version observed while fetching.
// A concurrent writer makes the append fail with ErrConcurrencyConflict; the
// aggregate never retries on its own.
type EventSourcingAggregate[C, E, S any] struct {
	name    string
	decider Decider[C, E, S]
	store   adapters.EventStoreAdapter
	codec   Codec[E]
	logger  Logger
	metrics CommandMetrics
}

// AggregateOption configures an EventSourcingAggregate.
type AggregateOption func(*aggregateOptions)

type aggregateOptions struct {
	name    string
	logger  Logger
	metrics CommandMetrics
}

// WithAggregateName sets the name used in logs and metrics.
func WithAggregateName(name string) AggregateOption {
	return func(o *aggregateOptions) {
		o.name = name
	}
}

// WithAggregateLogger sets the logger.
func WithAggregateLogger(logger Logger) AggregateOption {
	return func(o *aggregateOptions) {
		o.logger = logger
	}
}

// WithCommandMetrics sets the metrics collector.
func WithCommandMetrics(metrics CommandMetrics) AggregateOption {
	return func(o *aggregateOptions) {
		o.metrics = metrics
	}
}

// NewEventSourcingAggregate creates an aggregate over store.
func NewEventSourcingAggregate[C, E, S any](
	decider Decider[C, E, S],
	store adapters.EventStoreAdapter,
	codec Codec[E],
	opts ...AggregateOption,
) *EventSourcingAggregate[C, E, S] {
	o := aggregateOptions{
		name:    "aggregate",
		logger:  &noopLogger{},
		metrics: noopCommandMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &EventSourcingAggregate[C, E, S]{
		name:    o.name,
		decider: decider,
		store:   store,
		codec:   codec,
		logger:  o.logger,
		metrics: o.metrics,
	}
}

// HandleOption configures a single Handle invocation.
type HandleOption func(*handleOptions)

type handleOptions struct {
	commandID string
}

// WithCommandID sets the causal command identity recorded on every appended
// event. When the store keeps a command index, a command ID that was already
// appended returns the stored events instead of deciding again.
func WithCommandID(id string) HandleOption {
	return func(o *handleOptions) {
		o.commandID = id
	}
}

// Handle processes command against its stream and returns the appended events.
// Errors are *CommandError values; use errors.Is with ErrConcurrencyConflict
// to detect a retryable conflict.
func (a *EventSourcingAggregate[C, E, S]) Handle(ctx context.Context, command C, opts ...HandleOption) (result []Envelope[E], err error) {
	var ho handleOptions
	for _, opt := range opts {
		opt(&ho)
	}

	commandID := ho.commandID
	if commandID == "" {
		commandID = adapters.NewEventID()
	}
	streamID := IdentityOf(command)

	start := time.Now()
	stage := StageIdle
	defer func() {
		terminal := StageDone
		if err != nil {
			terminal = StageFailed
			if errors.Is(err, ErrConcurrencyConflict) {
				terminal = StageConflict
			}
		}
		a.metrics.RecordCommand(a.name, terminal, time.Since(start), len(result))
		a.logger.Debug("Command handled",
			"aggregate", a.name,
			"command_id", commandID,
			"stream_id", streamID,
			"stage", terminal.String(),
			"events", len(result),
		)
	}()

	fail := func(cause error) ([]Envelope[E], error) {
		return nil, &CommandError{CommandID: commandID, StreamID: streamID, Stage: stage, Err: cause}
	}

	if streamID == "" {
		return fail(ErrEmptyStreamID)
	}

	stage = StageFetching
	if ho.commandID != "" {
		if prior, ok, err := a.replay(ctx, commandID); err != nil {
			return fail(err)
		} else if ok {
			return prior, nil
		}
	}

	history, err := a.store.Fetch(ctx, streamID)
	if err != nil {
		return fail(err)
	}
	events, err := a.decodeAll(history)
	if err != nil {
		return fail(err)
	}
	expected := NoVersion
	if len(history) > 0 {
		expected = history[len(history)-1].Version
	}

	stage = StageDeciding
	state := a.decider.Fold(events)
	decided := a.decider.Decide(command, state)
	if len(decided) == 0 {
		return []Envelope[E]{}, nil
	}

	records := make([]adapters.EventRecord, len(decided))
	for i, event := range decided {
		record, err := a.codec.Encode(event)
		if err != nil {
			return fail(err)
		}
		if record.StreamID != streamID {
			return fail(fmt.Errorf("%w: %s event for %q on stream %q", ErrStreamMismatch, record.Type, record.StreamID, streamID))
		}
		records[i] = record
	}

	stage = StageAppending
	stored, err := a.store.Append(ctx, streamID, records, commandID, expected)
	if err != nil {
		return fail(err)
	}
	if len(stored) != len(decided) {
		return fail(fmt.Errorf("%w: appended %d events, store returned %d", ErrStoreInconsistent, len(decided), len(stored)))
	}

	result = make([]Envelope[E], len(stored))
	for i := range stored {
		result[i] = Envelope[E]{Event: decided[i], Stored: stored[i]}
	}
	return result, nil
}

// State returns the current state of streamID and the version it was folded at.
func (a *EventSourcingAggregate[C, E, S]) State(ctx context.Context, streamID string) (S, StreamVersion, error) {
	history, err := a.store.Fetch(ctx, streamID)
	if err != nil {
		return a.decider.InitialState, NoVersion, err
	}
	events, err := a.decodeAll(history)
	if err != nil {
		return a.decider.InitialState, NoVersion, err
	}
	version := NoVersion
	if len(history) > 0 {
		version = history[len(history)-1].Version
	}
	return a.decider.Fold(events), version, nil
}

// Load returns the decoded events of streamID.
func (a *EventSourcingAggregate[C, E, S]) Load(ctx context.Context, streamID string) ([]Envelope[E], error) {
	history, err := a.store.Fetch(ctx, streamID)
	if err != nil {
		return nil, err
	}
	return a.envelopes(history)
}

func (a *EventSourcingAggregate[C, E, S]) replay(ctx context.Context, commandID string) ([]Envelope[E], bool, error) {
	index, ok := a.store.(adapters.CommandIndexAdapter)
	if !ok {
		return nil, false, nil
	}
	stored, err := index.LoadByCommand(ctx, commandID)
	if err != nil || len(stored) == 0 {
		return nil, false, err
	}
	envelopes, err := a.envelopes(stored)
	if err != nil {
		return nil, false, err
	}
	a.logger.Info("Command already processed", "aggregate", a.name, "command_id", commandID)
	return envelopes, true, nil
}

func (a *EventSourcingAggregate[C, E, S]) envelopes(stored []StoredEvent) ([]Envelope[E], error) {
	result := make([]Envelope[E], len(stored))
	for i, s := range stored {
		event, err := a.codec.Decode(s)
		if err != nil {
			return nil, err
		}
		result[i] = Envelope[E]{Event: event, Stored: s}
	}
	return result, nil
}

func (a *EventSourcingAggregate[C, E, S]) decodeAll(stored []StoredEvent) ([]E, error) {
	events := make([]E, len(stored))
	for i, s := range stored {
		event, err := a.codec.Decode(s)
		if err != nil {
			return nil, err
		}
		events[i] = event
	}
	return events, nil
}
