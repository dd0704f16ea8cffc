package fmodel

import (
	"context"
	"time"
)

// EventHandler consumes events delivered by a feed.
// HandleEvent must be idempotent: the feed delivers at least once.
type EventHandler interface {
	// Name identifies the handler. It is used as the feed consumer name.
	Name() string

	// HandleEvent processes one event. A returned error leaves the event
	// unacknowledged so it is delivered again.
	HandleEvent(ctx context.Context, event StoredEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, event StoredEvent) error
}

// Name implements EventHandler.
func (f EventHandlerFunc) Name() string {
	return f.HandlerName
}

// HandleEvent implements EventHandler.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event StoredEvent) error {
	return f.Fn(ctx, event)
}

// ProjectionState represents the current state of a projection runner.
type ProjectionState string

const (
	// ProjectionStateStopped indicates the runner is not running.
	ProjectionStateStopped ProjectionState = "stopped"

	// ProjectionStateRunning indicates the runner is actively processing events.
	ProjectionStateRunning ProjectionState = "running"

	// ProjectionStateFaulted indicates the last delivery failed and is being retried.
	ProjectionStateFaulted ProjectionState = "faulted"
)

// ProjectionStatus provides detailed information about a runner's current state.
type ProjectionStatus struct {
	// Name is the handler name.
	Name string

	// State is the current state.
	State ProjectionState

	// LastPosition is the global position of the last acknowledged event.
	LastPosition uint64

	// EventsProcessed is the number of events handled since the runner started.
	EventsProcessed uint64

	// LastProcessedAt is when the last event was acknowledged.
	LastProcessedAt time.Time

	// Error contains the last error message, if any.
	Error string
}

// ProjectionMetrics defines the interface for collecting projection metrics.
type ProjectionMetrics interface {
	// RecordEventProcessed records that an event was processed.
	RecordEventProcessed(projectionName, eventType string, duration time.Duration, success bool)

	// RecordCheckpoint records an acknowledged position.
	RecordCheckpoint(projectionName string, position uint64)

	// RecordError records a projection error.
	RecordError(projectionName string, err error)
}

type noopProjectionMetrics struct{}

func (noopProjectionMetrics) RecordEventProcessed(string, string, time.Duration, bool) {}
func (noopProjectionMetrics) RecordCheckpoint(string, uint64)                          {}
func (noopProjectionMetrics) RecordError(string, error)                                {}

// RetryPolicy defines how to handle retries for failed operations.
type RetryPolicy interface {
	// ShouldRetry returns true if the operation should be retried.
	ShouldRetry(attempt int, err error) bool

	// Delay returns the duration to wait before the next retry.
	Delay(attempt int) time.Duration
}

type exponentialBackoffRetry struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ExponentialBackoffRetry creates a new retry policy with exponential backoff.
func ExponentialBackoffRetry(maxRetries int, baseDelay, maxDelay time.Duration) RetryPolicy {
	return &exponentialBackoffRetry{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

func (r *exponentialBackoffRetry) ShouldRetry(attempt int, err error) bool {
	if err == nil {
		return false
	}
	return attempt < r.maxRetries
}

func (r *exponentialBackoffRetry) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 62 {
		return r.maxDelay
	}
	delay := r.baseDelay * (1 << uint(attempt)) // #nosec G115 - attempt is clamped to 0-62
	if delay > r.maxDelay || delay <= 0 {
		delay = r.maxDelay
	}
	return delay
}

type noRetry struct{}

// NoRetry returns a retry policy that never retries.
func NoRetry() RetryPolicy {
	return &noRetry{}
}

func (r *noRetry) ShouldRetry(attempt int, err error) bool {
	return false
}

func (r *noRetry) Delay(attempt int) time.Duration {
	return 0
}
