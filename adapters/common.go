// Package adapters provides interfaces and shared utilities for event store backends.
package adapters

import (
	"fmt"

	"github.com/google/uuid"
)

// ConcurrencyError provides details about a concurrency conflict.
// It is returned when an optimistic concurrency check fails during Append or SaveView.
type ConcurrencyError struct {
	StreamID        string
	ExpectedVersion Version
	ActualVersion   Version
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(streamID string, expected, actual Version) *ConcurrencyError {
	return &ConcurrencyError{
		StreamID:        streamID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("fmodel: concurrency conflict on %q: expected version %s, got %s",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// Is implements errors.Is compatibility.
// Returns true when compared with ErrConcurrencyConflict.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// InconsistencyError reports an event that a committed transaction wrote
// but that could not be read back.
type InconsistencyError struct {
	StreamID string
	EventID  string
}

// Error implements the error interface.
func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("fmodel: store inconsistent: event %s of stream %q not found after commit",
		e.EventID, e.StreamID)
}

// Is implements errors.Is compatibility.
func (e *InconsistencyError) Is(target error) bool {
	return target == ErrStoreInconsistent
}

// CheckVersion validates the expected token against the current one.
// This implements the optimistic concurrency control logic shared by all adapters.
func CheckVersion(streamID string, expected, current Version) error {
	if expected != current {
		return NewConcurrencyError(streamID, expected, current)
	}
	return nil
}

// ValidateView performs the argument checks every adapter runs before SaveView.
func ValidateView(record ViewRecord) error {
	if record.ViewName == "" {
		return ErrEmptyViewName
	}
	if record.ViewID == "" {
		return ErrEmptyStreamID
	}
	return nil
}

// ViewKey is the storage key of a view record.
type ViewKey struct {
	Name string
	ID   string
}

// String returns "name/id".
func (k ViewKey) String() string {
	return k.Name + "/" + k.ID
}

// ValidateAppend performs the argument checks every adapter runs before Append.
func ValidateAppend(streamID string, events []EventRecord) error {
	if streamID == "" {
		return ErrEmptyStreamID
	}
	if len(events) == 0 {
		return ErrNoEvents
	}
	return nil
}

// NewEventID returns a new time-ordered event identifier.
// Identifiers generated by one process are monotonically increasing.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewToken returns a fresh opaque version token.
func NewToken() Version {
	return Version(NewEventID())
}

// DefaultLimit returns a default limit value if the provided limit is invalid.
// Used for pagination in LoadFromPosition and similar methods.
func DefaultLimit(limit, defaultValue int) int {
	if limit <= 0 {
		return defaultValue
	}
	return limit
}
