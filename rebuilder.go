package fmodel

import (
	"context"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Rebuilder replays the global event log through an EventHandler without
// touching any feed checkpoint. It is used to rebuild a view from scratch or
// to catch one up after its store was restored.
//
// Handlers must tolerate redelivery; a MaterializedView skips the events its
// records already reflect.
type Rebuilder struct {
	log       adapters.GlobalLogAdapter
	logger    Logger
	metrics   ProjectionMetrics
	batchSize int
}

// RebuilderOption configures a Rebuilder.
type RebuilderOption func(*Rebuilder)

// WithRebuilderBatchSize sets the batch size for rebuilding.
func WithRebuilderBatchSize(size int) RebuilderOption {
	return func(r *Rebuilder) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithRebuilderLogger sets the logger for the rebuilder.
func WithRebuilderLogger(logger Logger) RebuilderOption {
	return func(r *Rebuilder) {
		r.logger = logger
	}
}

// WithRebuilderMetrics sets the metrics collector for the rebuilder.
func WithRebuilderMetrics(metrics ProjectionMetrics) RebuilderOption {
	return func(r *Rebuilder) {
		r.metrics = metrics
	}
}

// NewRebuilder creates a rebuilder reading from log.
func NewRebuilder(log adapters.GlobalLogAdapter, opts ...RebuilderOption) *Rebuilder {
	r := &Rebuilder{
		log:       log,
		logger:    &noopLogger{},
		metrics:   noopProjectionMetrics{},
		batchSize: 1000,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RebuildProgress tracks the progress of a rebuild.
type RebuildProgress struct {
	// Handler is the name of the handler being rebuilt.
	Handler string

	// TotalEvents is the number of events in the replayed range.
	TotalEvents uint64

	// ProcessedEvents is the number of events processed so far.
	ProcessedEvents uint64

	// CurrentPosition is the global position of the last processed event.
	CurrentPosition uint64

	// StartedAt is when the rebuild started.
	StartedAt time.Time

	// Duration is the elapsed time.
	Duration time.Duration

	// EventsPerSecond is the processing rate.
	EventsPerSecond float64

	// Completed indicates if the rebuild is complete.
	Completed bool
}

// ProgressCallback is called periodically during rebuild with progress updates.
type ProgressCallback func(progress RebuildProgress)

// RebuildOptions configures a rebuild.
type RebuildOptions struct {
	// FromPosition replays events after this global position.
	// Default: 0 (from beginning)
	FromPosition uint64

	// ToPosition stops after this global position.
	// Default: 0 (to end)
	ToPosition uint64

	// ProgressCallback is called periodically with progress updates.
	ProgressCallback ProgressCallback

	// ProgressInterval is how often to call the progress callback.
	// Default: 1 second
	ProgressInterval time.Duration
}

// DefaultRebuildOptions returns the default rebuild options.
func DefaultRebuildOptions() RebuildOptions {
	return RebuildOptions{ProgressInterval: time.Second}
}

// Rebuild delivers every event in the configured range to handler in global
// order and returns the final progress. It stops at the first handler error.
func (r *Rebuilder) Rebuild(ctx context.Context, handler EventHandler, opts ...RebuildOptions) (RebuildProgress, error) {
	options := DefaultRebuildOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	name := handler.Name()
	startTime := time.Now()
	r.logger.Info("Starting rebuild", "handler", name, "from", options.FromPosition)

	var totalEvents uint64
	if last, err := r.log.GetLastPosition(ctx); err == nil {
		end := last
		if options.ToPosition > 0 && options.ToPosition < last {
			end = options.ToPosition
		}
		if end > options.FromPosition {
			totalEvents = end - options.FromPosition
		}
	}

	var progressTicker *time.Ticker
	if options.ProgressCallback != nil && options.ProgressInterval > 0 {
		progressTicker = time.NewTicker(options.ProgressInterval)
		defer progressTicker.Stop()
	}

	var processed uint64
	position := options.FromPosition
	progress := func(completed bool) RebuildProgress {
		return buildProgress(name, totalEvents, processed, position, startTime, completed)
	}

	for {
		if err := ctx.Err(); err != nil {
			return progress(false), err
		}

		if progressTicker != nil {
			select {
			case <-progressTicker.C:
				options.ProgressCallback(progress(false))
			default:
			}
		}

		events, err := r.log.LoadFromPosition(ctx, position, r.batchSize)
		if err != nil {
			return progress(false), fmt.Errorf("failed to load events: %w", err)
		}

		done := len(events) == 0
		for _, event := range events {
			if options.ToPosition > 0 && event.GlobalPosition > options.ToPosition {
				done = true
				break
			}

			start := time.Now()
			if err := handler.HandleEvent(ctx, event); err != nil {
				r.metrics.RecordEventProcessed(name, event.Type, time.Since(start), false)
				r.metrics.RecordError(name, err)
				return progress(false), fmt.Errorf("failed to handle event %s at position %d: %w", event.ID, event.GlobalPosition, err)
			}
			r.metrics.RecordEventProcessed(name, event.Type, time.Since(start), true)

			position = event.GlobalPosition
			processed++
		}
		if done {
			break
		}
	}

	final := progress(true)
	if options.ProgressCallback != nil {
		options.ProgressCallback(final)
	}

	r.logger.Info("Rebuild completed",
		"handler", name,
		"events", processed,
		"duration", time.Since(startTime))

	return final, nil
}

func buildProgress(name string, total, processed, position uint64, startTime time.Time, completed bool) RebuildProgress {
	duration := time.Since(startTime)
	var eventsPerSecond float64
	if duration.Seconds() > 0 {
		eventsPerSecond = float64(processed) / duration.Seconds()
	}

	return RebuildProgress{
		Handler:         name,
		TotalEvents:     total,
		ProcessedEvents: processed,
		CurrentPosition: position,
		StartedAt:       startTime,
		Duration:        duration,
		EventsPerSecond: eventsPerSecond,
		Completed:       completed,
	}
}
