// Package adapters provides interfaces for event store, view store and feed backends.
package adapters

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrConcurrencyConflict is returned when optimistic concurrency check fails.
	ErrConcurrencyConflict = errors.New("fmodel: concurrency conflict")

	// ErrEmptyStreamID is returned when an empty stream ID is provided.
	ErrEmptyStreamID = errors.New("fmodel: stream ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("fmodel: no events to append")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("fmodel: adapter is closed")

	// ErrStoreInconsistent is returned when an event written by a committed
	// transaction cannot be read back. It is fatal for the current invocation.
	ErrStoreInconsistent = errors.New("fmodel: store inconsistent")

	// ErrViewNotFound is returned when a materialized view does not exist.
	ErrViewNotFound = errors.New("fmodel: view not found")

	// ErrEmptyViewName is returned when a view record has no view name.
	ErrEmptyViewName = errors.New("fmodel: view name is required")

	// ErrEmptyConsumer is returned when a feed consumer name is empty.
	ErrEmptyConsumer = errors.New("fmodel: consumer name is required")
)

// Version is an opaque stream or view version token.
// Tokens are only comparable for equality.
type Version string

// NoVersion is the token of a stream or view that has never been written.
const NoVersion Version = ""

// IsZero reports whether v is NoVersion.
func (v Version) IsZero() bool {
	return v == NoVersion
}

// String implements fmt.Stringer.
func (v Version) String() string {
	if v == NoVersion {
		return "<none>"
	}
	return string(v)
}

// EventRecord represents an event to be appended to a stream.
// This is the adapter-level representation of an event.
type EventRecord struct {
	// Decider is the domain tag of the machine that produced the event.
	Decider string

	// Type is the event kind within its domain.
	Type string

	// StreamID is the target identity the event belongs to.
	StreamID string

	// SchemaVersion is the payload schema tag.
	SchemaVersion int

	// Final marks the terminal event of a stream's lifecycle.
	Final bool

	// Data is the serialized event payload.
	Data []byte
}

// StoredEvent represents a persisted event with its storage metadata.
type StoredEvent struct {
	// ID is the unique event identifier assigned by the store.
	ID string `json:"id"`

	// StreamID is the stream this event belongs to.
	StreamID string `json:"streamId"`

	// Decider is the domain tag used to route the event to its machine.
	Decider string `json:"decider"`

	// Type is the event kind within its domain.
	Type string `json:"type"`

	// SchemaVersion is the payload schema tag.
	SchemaVersion int `json:"schemaVersion"`

	// Final marks the terminal event of a stream's lifecycle.
	Final bool `json:"final"`

	// Data is the serialized event payload.
	Data []byte `json:"data"`

	// CommandID is the causal command identity.
	CommandID string `json:"commandId"`

	// Version is the stream token after this event was appended.
	Version Version `json:"version"`

	// GlobalPosition is the strictly increasing position across all streams.
	GlobalPosition uint64 `json:"globalPosition"`

	// Timestamp is when the event was stored.
	Timestamp time.Time `json:"timestamp"`
}

// EventStoreAdapter is the interface that storage backends must implement.
// It provides the low-level operations for persisting and retrieving events.
type EventStoreAdapter interface {
	// Fetch returns all events of a stream in append order.
	// An unknown stream yields an empty slice.
	Fetch(ctx context.Context, streamID string) ([]StoredEvent, error)

	// CurrentVersion returns the stream token, or NoVersion if the stream
	// has never been written.
	CurrentVersion(ctx context.Context, streamID string) (Version, error)

	// Append stores events to the stream if the current token equals expected.
	// The per-stream index, the global index and the stream token are written
	// in a single atomic transaction; on conflict nothing is persisted.
	Append(ctx context.Context, streamID string, events []EventRecord, commandID string, expected Version) ([]StoredEvent, error)

	// Initialize sets up the required schema or buckets.
	Initialize(ctx context.Context) error

	// Close releases any resources held by the adapter.
	Close() error
}

// GlobalLogAdapter exposes the global, totally ordered event index.
type GlobalLogAdapter interface {
	// LoadFromPosition loads up to limit events with a global position
	// strictly greater than fromPosition.
	LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]StoredEvent, error)

	// GetLastPosition returns the global position of the last stored event.
	// Returns 0 if no events exist.
	GetLastPosition(ctx context.Context) (uint64, error)
}

// CommandIndexAdapter looks up events by their causal command identity.
type CommandIndexAdapter interface {
	// LoadByCommand returns the events appended for commandID, in append order.
	// An unknown command yields an empty slice.
	LoadByCommand(ctx context.Context, commandID string) ([]StoredEvent, error)
}

// ViewRecord is a persisted materialized view.
type ViewRecord struct {
	// ViewName is the name of the view the record belongs to. Records of
	// different views never share a key.
	ViewName string `json:"viewName"`

	// ViewID is the natural identity of the view.
	ViewID string `json:"viewId"`

	// Data is the serialized view state.
	Data []byte `json:"data"`

	// Version is the view's own token, replaced on every save.
	Version Version `json:"version"`

	// AppliedVersion is the version token of the last event folded into the view.
	AppliedVersion Version `json:"appliedVersion"`

	// Position is the global position of the last event folded into the view.
	Position uint64 `json:"position"`

	// UpdatedAt is when the view was last saved.
	UpdatedAt time.Time `json:"updatedAt"`
}

// ViewStoreAdapter persists materialized views with compare-and-swap saves.
type ViewStoreAdapter interface {
	// FetchView returns the record of viewID in view viewName or ErrViewNotFound.
	FetchView(ctx context.Context, viewName, viewID string) (*ViewRecord, error)

	// SaveView stores record under (record.ViewName, record.ViewID) if the
	// current token of that key equals prior.
	// NoVersion as prior requires the view to be absent.
	// The returned record carries the new token.
	SaveView(ctx context.Context, record ViewRecord, prior Version) (*ViewRecord, error)
}

// FeedAdapter is a durable, at-least-once event feed.
// Events of one stream are delivered in append order.
type FeedAdapter interface {
	// Poll returns up to limit events after the consumer's last acknowledged
	// position. Unacknowledged events are delivered again.
	Poll(ctx context.Context, consumer string, limit int) ([]StoredEvent, error)

	// Ack records that the consumer has handled every event up to position.
	Ack(ctx context.Context, consumer string, position uint64) error
}

// HealthChecker is implemented by adapters that can report connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
