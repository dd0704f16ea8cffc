package memory

import (
	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Sentinel errors for the memory adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	// ErrAdapterClosed is returned when an operation is attempted on a closed adapter.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrEmptyStreamID is returned when an empty stream ID is provided.
	ErrEmptyStreamID = adapters.ErrEmptyStreamID

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = adapters.ErrNoEvents

	// ErrConcurrencyConflict is returned when optimistic concurrency check fails.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrViewNotFound is returned when a view does not exist.
	ErrViewNotFound = adapters.ErrViewNotFound

	// ErrEmptyViewName is returned when a view record has no view name.
	ErrEmptyViewName = adapters.ErrEmptyViewName
)
