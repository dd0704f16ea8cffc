// Package memory provides an in-memory implementation of the event store,
// view store and feed adapters.
// This adapter is primarily intended for testing and development purposes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Ensure MemoryAdapter implements all required interfaces.
var (
	_ adapters.EventStoreAdapter   = (*MemoryAdapter)(nil)
	_ adapters.GlobalLogAdapter    = (*MemoryAdapter)(nil)
	_ adapters.CommandIndexAdapter = (*MemoryAdapter)(nil)
	_ adapters.ViewStoreAdapter    = (*MemoryAdapter)(nil)
	_ adapters.FeedAdapter         = (*MemoryAdapter)(nil)
	_ adapters.HealthChecker       = (*MemoryAdapter)(nil)
)

// MemoryAdapter is an in-memory implementation of EventStoreAdapter.
// It is thread-safe and suitable for unit testing.
//
// The layout mirrors a keyed store: the global index holds every event by
// position, the stream index lists each stream's positions, and the version
// index holds each stream's token.
type MemoryAdapter struct {
	mu          sync.RWMutex
	global      []adapters.StoredEvent
	streams     map[string][]uint64
	versions    map[string]adapters.Version
	commands    map[string][]uint64
	views       map[adapters.ViewKey]adapters.ViewRecord
	checkpoints map[string]uint64
	closed      bool
	now         func() time.Time
}

// Option configures a MemoryAdapter.
type Option func(*MemoryAdapter)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *MemoryAdapter) {
		a.now = now
	}
}

// NewAdapter creates a new in-memory adapter.
func NewAdapter(opts ...Option) *MemoryAdapter {
	adapter := &MemoryAdapter{
		streams:     make(map[string][]uint64),
		versions:    make(map[string]adapters.Version),
		commands:    make(map[string][]uint64),
		views:       make(map[adapters.ViewKey]adapters.ViewRecord),
		checkpoints: make(map[string]uint64),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Initialize is a no-op for the memory adapter.
func (a *MemoryAdapter) Initialize(ctx context.Context) error {
	return nil
}

// Append stores events to the specified stream with optimistic concurrency control.
func (a *MemoryAdapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, commandID string, expected adapters.Version) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := adapters.ValidateAppend(streamID, events); err != nil {
		return nil, err
	}

	positions, err := a.commit(streamID, events, commandID, expected)
	if err != nil {
		return nil, err
	}

	return a.readBack(streamID, positions)
}

// commit runs the compare-and-swap transaction and returns the assigned positions.
func (a *MemoryAdapter) commit(streamID string, events []adapters.EventRecord, commandID string, expected adapters.Version) ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	if err := adapters.CheckVersion(streamID, expected, a.versions[streamID]); err != nil {
		return nil, err
	}

	now := a.now()
	positions := make([]uint64, len(events))
	var version adapters.Version

	for i, event := range events {
		id := adapters.NewEventID()
		version = adapters.Version(id)
		position := uint64(len(a.global)) + 1

		a.global = append(a.global, adapters.StoredEvent{
			ID:             id,
			StreamID:       streamID,
			Decider:        event.Decider,
			Type:           event.Type,
			SchemaVersion:  event.SchemaVersion,
			Final:          event.Final,
			Data:           event.Data,
			CommandID:      commandID,
			Version:        version,
			GlobalPosition: position,
			Timestamp:      now,
		})
		a.streams[streamID] = append(a.streams[streamID], position)
		positions[i] = position
	}

	a.versions[streamID] = version
	if commandID != "" {
		a.commands[commandID] = append(a.commands[commandID], positions...)
	}

	return positions, nil
}

func (a *MemoryAdapter) readBack(streamID string, positions []uint64) ([]adapters.StoredEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stored := make([]adapters.StoredEvent, len(positions))
	for i, position := range positions {
		event, ok := a.lookup(position)
		if !ok {
			return nil, &adapters.InconsistencyError{StreamID: streamID}
		}
		stored[i] = event
	}
	return stored, nil
}

func (a *MemoryAdapter) lookup(position uint64) (adapters.StoredEvent, bool) {
	if position == 0 || position > uint64(len(a.global)) {
		return adapters.StoredEvent{}, false
	}
	return a.global[position-1], true
}

// Fetch retrieves all events of a stream in append order.
func (a *MemoryAdapter) Fetch(ctx context.Context, streamID string) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	return a.collect(a.streams[streamID]), nil
}

// CurrentVersion returns the stream token, or NoVersion for an unknown stream.
func (a *MemoryAdapter) CurrentVersion(ctx context.Context, streamID string) (adapters.Version, error) {
	if err := ctx.Err(); err != nil {
		return adapters.NoVersion, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return adapters.NoVersion, adapters.ErrAdapterClosed
	}

	return a.versions[streamID], nil
}

// LoadByCommand returns the events appended for commandID.
func (a *MemoryAdapter) LoadByCommand(ctx context.Context, commandID string) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	return a.collect(a.commands[commandID]), nil
}

// LoadFromPosition loads events with a global position greater than fromPosition.
func (a *MemoryAdapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	return a.loadFrom(fromPosition, adapters.DefaultLimit(limit, 1000)), nil
}

func (a *MemoryAdapter) loadFrom(fromPosition uint64, limit int) []adapters.StoredEvent {
	events := make([]adapters.StoredEvent, 0)
	for position := fromPosition + 1; position <= uint64(len(a.global)) && len(events) < limit; position++ {
		events = append(events, a.global[position-1])
	}
	return events
}

// GetLastPosition returns the global position of the last stored event.
func (a *MemoryAdapter) GetLastPosition(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	return uint64(len(a.global)), nil
}

// Ping reports whether the adapter is open.
func (a *MemoryAdapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}
	return nil
}

// Close releases any resources held by the adapter.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	return nil
}

// Reset clears all data. Useful between tests.
func (a *MemoryAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.global = nil
	a.streams = make(map[string][]uint64)
	a.versions = make(map[string]adapters.Version)
	a.commands = make(map[string][]uint64)
	a.views = make(map[adapters.ViewKey]adapters.ViewRecord)
	a.checkpoints = make(map[string]uint64)
}

// EventCount returns the total number of stored events.
func (a *MemoryAdapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.global)
}

// StreamCount returns the number of streams.
func (a *MemoryAdapter) StreamCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.streams)
}

func (a *MemoryAdapter) collect(positions []uint64) []adapters.StoredEvent {
	events := make([]adapters.StoredEvent, 0, len(positions))
	for _, position := range positions {
		if event, ok := a.lookup(position); ok {
			events = append(events, event)
		}
	}
	return events
}
