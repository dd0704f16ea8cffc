package fmodel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Outcome is the result of applying one event to a materialized view.
type Outcome int

const (
	// OutcomeApplied means the event was folded into the view and saved.
	OutcomeApplied Outcome = iota

	// OutcomeSkipped means the view already reflected the event.
	OutcomeSkipped

	// OutcomeConflict means every save attempt lost a race with another writer.
	// The feed's redelivery restores the view eventually.
	OutcomeConflict
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeConflict:
		return "conflict"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ViewMetrics receives one observation per handled event.
type ViewMetrics interface {
	RecordViewUpdate(view string, outcome Outcome, duration time.Duration)
}

type noopViewMetrics struct{}

func (noopViewMetrics) RecordViewUpdate(string, Outcome, time.Duration) {}

// MaterializedView glues a View to a view store.
// It is an EventHandler and can be driven by a ProjectionRunner.
type MaterializedView[S, E any] struct {
	name        string
	view        View[S, E]
	store       adapters.ViewStoreAdapter
	codec       Codec[E]
	states      StateCodec[S]
	maxAttempts int
	logger      Logger
	metrics     ViewMetrics
}

// ViewOption configures a MaterializedView.
type ViewOption func(*viewOptions)

type viewOptions struct {
	maxAttempts int
	logger      Logger
	metrics     ViewMetrics
}

// WithMaxAttempts sets how many times a conflicting save is recomputed.
// Default: 3
func WithMaxAttempts(n int) ViewOption {
	return func(o *viewOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithViewLogger sets the logger.
func WithViewLogger(logger Logger) ViewOption {
	return func(o *viewOptions) {
		o.logger = logger
	}
}

// WithViewMetrics sets the metrics collector.
func WithViewMetrics(metrics ViewMetrics) ViewOption {
	return func(o *viewOptions) {
		o.metrics = metrics
	}
}

// NewMaterializedView creates a materialized view named name.
func NewMaterializedView[S, E any](
	name string,
	view View[S, E],
	store adapters.ViewStoreAdapter,
	codec Codec[E],
	states StateCodec[S],
	opts ...ViewOption,
) *MaterializedView[S, E] {
	o := viewOptions{
		maxAttempts: 3,
		logger:      &noopLogger{},
		metrics:     noopViewMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &MaterializedView[S, E]{
		name:        name,
		view:        view,
		store:       store,
		codec:       codec,
		states:      states,
		maxAttempts: o.maxAttempts,
		logger:      o.logger,
		metrics:     o.metrics,
	}
}

// Name returns the view name. It is also the feed consumer name.
func (m *MaterializedView[S, E]) Name() string {
	return m.name
}

// Fetch returns the state of viewID and its version token.
// A missing view yields the initial state and NoVersion.
func (m *MaterializedView[S, E]) Fetch(ctx context.Context, viewID string) (S, StreamVersion, error) {
	state, record, err := m.fetch(ctx, viewID)
	if err != nil || record == nil {
		return state, NoVersion, err
	}
	return state, record.Version, nil
}

// HandleEvent implements EventHandler.
func (m *MaterializedView[S, E]) HandleEvent(ctx context.Context, stored StoredEvent) error {
	_, err := m.Handle(ctx, stored)
	return err
}

// Handle folds one stored event into the view keyed by the event's identity.
//
// An event whose global position the view already reflects is skipped. A
// conflicting save is refetched and recomputed; when attempts run out the
// conflict is logged and reported as OutcomeConflict without an error.
// Only decoding and storage failures are returned as errors.
func (m *MaterializedView[S, E]) Handle(ctx context.Context, stored StoredEvent) (outcome Outcome, err error) {
	start := time.Now()
	defer func() {
		if err == nil {
			m.metrics.RecordViewUpdate(m.name, outcome, time.Since(start))
		}
	}()

	event, err := m.codec.Decode(stored)
	if err != nil {
		return OutcomeSkipped, err
	}

	viewID := IdentityOf(event)
	if viewID == "" {
		return OutcomeSkipped, fmt.Errorf("fmodel: view %s: %w", m.name, ErrEmptyStreamID)
	}

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		state, record, err := m.fetch(ctx, viewID)
		if err != nil {
			return OutcomeSkipped, err
		}

		prior := NoVersion
		if record != nil {
			if stored.GlobalPosition <= record.Position {
				m.logger.Debug("Event already reflected in view",
					"view", m.name,
					"view_id", viewID,
					"event_id", stored.ID,
					"global_position", stored.GlobalPosition,
				)
				return OutcomeSkipped, nil
			}
			prior = record.Version
		}

		data, err := m.states.EncodeState(m.view.Evolve(state, event))
		if err != nil {
			return OutcomeSkipped, err
		}

		_, err = m.store.SaveView(ctx, adapters.ViewRecord{
			ViewName:       m.name,
			ViewID:         viewID,
			Data:           data,
			AppliedVersion: stored.Version,
			Position:       stored.GlobalPosition,
		}, prior)
		if err == nil {
			return OutcomeApplied, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return OutcomeSkipped, err
		}

		m.logger.Debug("View save conflict",
			"view", m.name,
			"view_id", viewID,
			"event_id", stored.ID,
			"attempt", attempt,
		)
	}

	m.logger.Warn("View update abandoned after concurrent saves",
		"view", m.name,
		"view_id", viewID,
		"event_id", stored.ID,
		"attempts", m.maxAttempts,
	)
	return OutcomeConflict, nil
}

func (m *MaterializedView[S, E]) fetch(ctx context.Context, viewID string) (S, *adapters.ViewRecord, error) {
	record, err := m.store.FetchView(ctx, m.name, viewID)
	if errors.Is(err, ErrViewNotFound) {
		return m.view.InitialState, nil, nil
	}
	if err != nil {
		return m.view.InitialState, nil, err
	}

	state, err := m.states.DecodeState(record.Data)
	if err != nil {
		return m.view.InitialState, nil, err
	}
	return state, record, nil
}
