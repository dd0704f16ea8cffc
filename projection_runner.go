package fmodel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// RunnerOptions configures a ProjectionRunner.
type RunnerOptions struct {
	// BatchSize is the maximum number of events polled at once.
	// Default: 100
	BatchSize int

	// PollInterval is how long to wait when the feed is empty.
	// Default: 100ms
	PollInterval time.Duration

	// RetryPolicy decides how often one event is retried before the
	// batch is abandoned and polled again after a backoff.
	RetryPolicy RetryPolicy
}

// DefaultRunnerOptions returns the default runner options.
func DefaultRunnerOptions() RunnerOptions {
	return RunnerOptions{
		BatchSize:    100,
		PollInterval: 100 * time.Millisecond,
		RetryPolicy:  ExponentialBackoffRetry(3, 100*time.Millisecond, 10*time.Second),
	}
}

// ProjectionRunner consumes a feed on behalf of one EventHandler.
//
// Each event is acknowledged only after the handler returns without error, so
// a runner restarted after a crash resumes from the last acknowledged event and
// may deliver the events after it again.
type ProjectionRunner struct {
	feed    adapters.FeedAdapter
	handler EventHandler
	options RunnerOptions
	logger  Logger
	metrics ProjectionMetrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	stateMu         sync.RWMutex
	state           ProjectionState
	lastPosition    uint64
	eventsProcessed uint64
	lastProcessedAt time.Time
	lastError       error
}

// RunnerOption configures a ProjectionRunner.
type RunnerOption func(*ProjectionRunner)

// WithRunnerOptions sets the batching and retry options.
func WithRunnerOptions(options RunnerOptions) RunnerOption {
	return func(r *ProjectionRunner) {
		defaults := DefaultRunnerOptions()
		if options.BatchSize <= 0 {
			options.BatchSize = defaults.BatchSize
		}
		if options.PollInterval <= 0 {
			options.PollInterval = defaults.PollInterval
		}
		if options.RetryPolicy == nil {
			options.RetryPolicy = NoRetry()
		}
		r.options = options
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger Logger) RunnerOption {
	return func(r *ProjectionRunner) {
		r.logger = logger
	}
}

// WithRunnerMetrics sets the metrics collector.
func WithRunnerMetrics(metrics ProjectionMetrics) RunnerOption {
	return func(r *ProjectionRunner) {
		r.metrics = metrics
	}
}

// NewProjectionRunner creates a runner delivering feed events to handler.
func NewProjectionRunner(feed adapters.FeedAdapter, handler EventHandler, opts ...RunnerOption) *ProjectionRunner {
	r := &ProjectionRunner{
		feed:    feed,
		handler: handler,
		options: DefaultRunnerOptions(),
		logger:  &noopLogger{},
		metrics: noopProjectionMetrics{},
		state:   ProjectionStateStopped,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start runs the consumption loop in the background.
// A stopped runner can be started again.
func (r *ProjectionRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		select {
		case <-r.done:
		default:
			return ErrRunnerRunning
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.err = nil

	go func() {
		defer close(done)
		err := r.Run(runCtx)
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}()

	return nil
}

// Stop cancels the background loop and waits for it to exit.
func (r *ProjectionRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the background loop exits.
// It returns nil if the runner was never started.
func (r *ProjectionRunner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the error the background loop exited with, if any.
func (r *ProjectionRunner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Run consumes the feed until ctx is cancelled. Handler failures are retried
// with backoff; Run returns nil on cancellation.
func (r *ProjectionRunner) Run(ctx context.Context) error {
	name := r.handler.Name()
	if name == "" {
		return adapters.ErrEmptyConsumer
	}

	r.setState(ProjectionStateRunning)
	defer r.setState(ProjectionStateStopped)

	var consecutiveErrors int
	var firstErrorAt time.Time

	for {
		n, err := r.processBatch(ctx)
		if ctx.Err() != nil {
			return nil
		}

		wait := r.options.PollInterval
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors == 1 {
				firstErrorAt = time.Now()
			}

			// Log only at power-of-2 counts (1, 2, 4, 8, 16...) to reduce noise
			if consecutiveErrors&(consecutiveErrors-1) == 0 {
				r.logger.Error("Projection error",
					"projection", name,
					"error", err,
					"consecutive_errors", consecutiveErrors,
				)
			}

			r.setError(err)
			r.metrics.RecordError(name, err)
			wait = backoff(consecutiveErrors)
		} else {
			if consecutiveErrors > 0 {
				r.logger.Info("Projection recovered",
					"projection", name,
					"consecutive_errors", consecutiveErrors,
					"outage_duration", time.Since(firstErrorAt),
				)
				consecutiveErrors = 0
				r.clearError()
			}
			if n > 0 {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Drain delivers events until the feed has nothing left for this handler and
// returns how many were handled. It stops at the first failing event.
func (r *ProjectionRunner) Drain(ctx context.Context) (int, error) {
	if r.handler.Name() == "" {
		return 0, adapters.ErrEmptyConsumer
	}

	total := 0
	for {
		n, err := r.processBatch(ctx)
		total += n
		if err != nil {
			r.setError(err)
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

// Status returns a snapshot of the runner's state.
func (r *ProjectionRunner) Status() *ProjectionStatus {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()

	status := &ProjectionStatus{
		Name:            r.handler.Name(),
		State:           r.state,
		LastPosition:    r.lastPosition,
		EventsProcessed: r.eventsProcessed,
		LastProcessedAt: r.lastProcessedAt,
	}
	if r.lastError != nil {
		status.Error = r.lastError.Error()
	}
	return status
}

func (r *ProjectionRunner) processBatch(ctx context.Context) (int, error) {
	name := r.handler.Name()

	events, err := r.feed.Poll(ctx, name, r.options.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to poll feed: %w", err)
	}

	for i, event := range events {
		start := time.Now()
		if err := r.deliver(ctx, event); err != nil {
			r.metrics.RecordEventProcessed(name, event.Type, time.Since(start), false)
			return i, err
		}
		r.metrics.RecordEventProcessed(name, event.Type, time.Since(start), true)

		if err := r.feed.Ack(ctx, name, event.GlobalPosition); err != nil {
			return i, fmt.Errorf("failed to acknowledge position %d: %w", event.GlobalPosition, err)
		}
		r.metrics.RecordCheckpoint(name, event.GlobalPosition)

		r.stateMu.Lock()
		r.lastPosition = event.GlobalPosition
		r.eventsProcessed++
		r.lastProcessedAt = time.Now()
		r.stateMu.Unlock()
	}

	return len(events), nil
}

func (r *ProjectionRunner) deliver(ctx context.Context, event StoredEvent) error {
	for attempt := 0; ; attempt++ {
		err := r.invoke(ctx, event)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || !r.options.RetryPolicy.ShouldRetry(attempt, err) {
			return fmt.Errorf("failed to handle event %s at position %d: %w", event.ID, event.GlobalPosition, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.options.RetryPolicy.Delay(attempt)):
		}
	}
}

// invoke calls the handler, converting a panic into a PanicError.
func (r *ProjectionRunner) invoke(ctx context.Context, event StoredEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Projection panicked",
				"projection", r.handler.Name(),
				"event_type", event.Type,
				"stream_id", event.StreamID,
				"global_position", event.GlobalPosition,
				"panic", p,
			)
			err = &PanicError{Handler: r.handler.Name(), EventID: event.ID, Value: p}
		}
	}()
	return r.handler.HandleEvent(ctx, event)
}

func (r *ProjectionRunner) setState(state ProjectionState) {
	r.stateMu.Lock()
	r.state = state
	r.stateMu.Unlock()
}

func (r *ProjectionRunner) setError(err error) {
	r.stateMu.Lock()
	r.lastError = err
	if r.state == ProjectionStateRunning {
		r.state = ProjectionStateFaulted
	}
	r.stateMu.Unlock()
}

func (r *ProjectionRunner) clearError() {
	r.stateMu.Lock()
	r.lastError = nil
	r.state = ProjectionStateRunning
	r.stateMu.Unlock()
}

// backoff is exponential with a 100ms base and a 30s cap.
func backoff(consecutiveErrors int) time.Duration {
	shift := consecutiveErrors - 1
	if shift > 18 {
		shift = 18
	}
	delay := 100 * time.Millisecond * time.Duration(1<<uint(shift)) // #nosec G115 - shift is clamped to 0-18
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}
