package fmodel

import (
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
// Storage related errors are aliases to the adapters package errors.
var (
	// ErrConcurrencyConflict indicates an optimistic concurrency violation.
	// It is always safe to retry after refetching.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrStoreInconsistent indicates a committed event could not be read back.
	ErrStoreInconsistent = adapters.ErrStoreInconsistent

	// ErrEmptyStreamID indicates an empty stream ID was provided.
	ErrEmptyStreamID = adapters.ErrEmptyStreamID

	// ErrNoEvents indicates no events were provided for append.
	ErrNoEvents = adapters.ErrNoEvents

	// ErrAdapterClosed indicates the adapter has been closed.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrViewNotFound indicates the requested view does not exist.
	ErrViewNotFound = adapters.ErrViewNotFound

	// ErrEmptyViewName indicates a view record without a view name.
	ErrEmptyViewName = adapters.ErrEmptyViewName

	// ErrSerializationFailed indicates event serialization/deserialization failed.
	ErrSerializationFailed = errors.New("fmodel: serialization failed")

	// ErrEventTypeNotRegistered indicates an unknown event type was encountered.
	ErrEventTypeNotRegistered = errors.New("fmodel: event type not registered")

	// ErrStreamMismatch indicates a decided event targets a stream other than the command's.
	ErrStreamMismatch = errors.New("fmodel: event targets a different stream")

	// ErrRunnerRunning indicates Start was called on a running projection runner.
	ErrRunnerRunning = errors.New("fmodel: projection runner already running")

	// ErrHandlerPanicked indicates an event handler panicked.
	ErrHandlerPanicked = errors.New("fmodel: handler panicked")
)

// ConcurrencyError provides detailed information about a concurrency conflict.
type ConcurrencyError = adapters.ConcurrencyError

// Stage is a step of a single command handling invocation.
type Stage int

// Command handling stages.
const (
	StageIdle Stage = iota
	StageFetching
	StageDeciding
	StageAppending
	StageDone
	StageConflict
	StageFailed
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageFetching:
		return "fetching"
	case StageDeciding:
		return "deciding"
	case StageAppending:
		return "appending"
	case StageDone:
		return "done"
	case StageConflict:
		return "conflict"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// CommandError reports a failed command handling invocation.
// Stage is the step that failed; Err is the underlying cause.
type CommandError struct {
	CommandID string
	StreamID  string
	Stage     Stage
	Err       error
}

// Error returns the error message.
func (e *CommandError) Error() string {
	return fmt.Sprintf("fmodel: command %s on stream %q failed while %s: %v",
		e.CommandID, e.StreamID, e.Stage, e.Err)
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the command may be retried after refetching.
func (e *CommandError) Retryable() bool {
	return errors.Is(e.Err, ErrConcurrencyConflict)
}

// IsRetryable reports whether err is a concurrency conflict.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize", "deserialize", "encode" or "decode"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("fmodel: failed to %s event type %q: %v",
		e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{
		EventType: eventType,
		Operation: operation,
		Cause:     cause,
	}
}

// EventTypeNotRegisteredError provides detailed information about an unregistered event type.
type EventTypeNotRegisteredError struct {
	Decider   string
	EventType string
}

// Error returns the error message.
func (e *EventTypeNotRegisteredError) Error() string {
	return fmt.Sprintf("fmodel: event type %q of decider %q not registered", e.EventType, e.Decider)
}

// Is reports whether this error matches the target error.
func (e *EventTypeNotRegisteredError) Is(target error) bool {
	return target == ErrEventTypeNotRegistered
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *EventTypeNotRegisteredError) Unwrap() error {
	return ErrEventTypeNotRegistered
}

// NewEventTypeNotRegisteredError creates a new EventTypeNotRegisteredError.
func NewEventTypeNotRegisteredError(decider, eventType string) *EventTypeNotRegisteredError {
	return &EventTypeNotRegisteredError{Decider: decider, EventType: eventType}
}

// PanicError provides detailed information about an event handler panic.
type PanicError struct {
	Handler string
	EventID string
	Value   interface{}
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("fmodel: handler %s panicked while processing event %s: %v", e.Handler, e.EventID, e.Value)
}

// Is reports whether this error matches the target error.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanicked
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *PanicError) Unwrap() error {
	return ErrHandlerPanicked
}
