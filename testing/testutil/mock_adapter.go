package testutil

import (
	"context"
	"sync/atomic"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// FailingStore wraps an event store and returns the configured errors
// instead of calling it. A nil error passes the call through.
type FailingStore struct {
	adapters.EventStoreAdapter

	AppendErr  error
	FetchErr   error
	VersionErr error

	appends atomic.Int64
}

// NewFailingStore wraps store.
func NewFailingStore(store adapters.EventStoreAdapter) *FailingStore {
	return &FailingStore{EventStoreAdapter: store}
}

// Append implements adapters.EventStoreAdapter.
func (s *FailingStore) Append(ctx context.Context, streamID string, events []adapters.EventRecord, commandID string, expected adapters.Version) ([]adapters.StoredEvent, error) {
	s.appends.Add(1)
	if s.AppendErr != nil {
		return nil, s.AppendErr
	}
	return s.EventStoreAdapter.Append(ctx, streamID, events, commandID, expected)
}

// Fetch implements adapters.EventStoreAdapter.
func (s *FailingStore) Fetch(ctx context.Context, streamID string) ([]adapters.StoredEvent, error) {
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	return s.EventStoreAdapter.Fetch(ctx, streamID)
}

// CurrentVersion implements adapters.EventStoreAdapter.
func (s *FailingStore) CurrentVersion(ctx context.Context, streamID string) (adapters.Version, error) {
	if s.VersionErr != nil {
		return adapters.NoVersion, s.VersionErr
	}
	return s.EventStoreAdapter.CurrentVersion(ctx, streamID)
}

// Appends returns the number of Append calls, failed ones included.
func (s *FailingStore) Appends() int {
	return int(s.appends.Load())
}
