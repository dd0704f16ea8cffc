// Package adaptertest provides a conformance suite shared by every adapter.
//
// Adapter packages call the Run* functions from their own tests:
//
//	func TestConformance(t *testing.T) {
//	    adaptertest.RunEventStoreSuite(t, func(t *testing.T) adaptertest.Adapter {
//	        return memory.NewAdapter()
//	    })
//	}
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Adapter is the full set of capabilities the suite exercises.
type Adapter interface {
	adapters.EventStoreAdapter
	adapters.GlobalLogAdapter
	adapters.CommandIndexAdapter
	adapters.ViewStoreAdapter
	adapters.FeedAdapter
}

// Factory returns a fresh, initialized adapter with no data.
type Factory func(t *testing.T) Adapter

// Records builds n event records for streamID.
func Records(streamID string, kinds ...string) []adapters.EventRecord {
	records := make([]adapters.EventRecord, len(kinds))
	for i, kind := range kinds {
		records[i] = adapters.EventRecord{
			Decider:       "Test",
			Type:          kind,
			StreamID:      streamID,
			SchemaVersion: 1,
			Data:          []byte(fmt.Sprintf(`{"n":%d}`, i)),
		}
	}
	return records
}

// RunEventStoreSuite runs the event store contract against adapters from factory.
func RunEventStoreSuite(t *testing.T, factory Factory) {
	t.Run("fetch of unknown stream is empty", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		events, err := a.Fetch(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, events)

		version, err := a.CurrentVersion(ctx, "unknown")
		require.NoError(t, err)
		assert.Equal(t, adapters.NoVersion, version)
	})

	t.Run("append then fetch round trip", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		records := Records("s-1", "A", "B", "C")
		stored, err := a.Append(ctx, "s-1", records, "cmd-1", adapters.NoVersion)
		require.NoError(t, err)
		require.Len(t, stored, 3)

		fetched, err := a.Fetch(ctx, "s-1")
		require.NoError(t, err)
		require.Len(t, fetched, 3)

		ids := map[string]bool{}
		for i, event := range fetched {
			assert.Equal(t, records[i].Type, event.Type)
			assert.Equal(t, records[i].Decider, event.Decider)
			assert.Equal(t, records[i].SchemaVersion, event.SchemaVersion)
			assert.JSONEq(t, string(records[i].Data), string(event.Data))
			assert.Equal(t, "s-1", event.StreamID)
			assert.Equal(t, "cmd-1", event.CommandID)
			assert.Equal(t, stored[i].ID, event.ID)
			assert.Equal(t, stored[i].GlobalPosition, event.GlobalPosition)
			assert.False(t, ids[event.ID], "event IDs must be unique")
			ids[event.ID] = true
			if i > 0 {
				assert.Greater(t, event.GlobalPosition, fetched[i-1].GlobalPosition)
			}
		}

		version, err := a.CurrentVersion(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, stored[2].Version, version)
		assert.Equal(t, adapters.Version(stored[2].ID), version)
	})

	t.Run("append with stale version conflicts and persists nothing", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		first, err := a.Append(ctx, "s-1", Records("s-1", "A"), "cmd-1", adapters.NoVersion)
		require.NoError(t, err)

		_, err = a.Append(ctx, "s-1", Records("s-1", "B", "C"), "cmd-2", adapters.NoVersion)
		require.Error(t, err)
		assert.True(t, errors.Is(err, adapters.ErrConcurrencyConflict))

		var concErr *adapters.ConcurrencyError
		require.True(t, errors.As(err, &concErr))
		assert.Equal(t, first[0].Version, concErr.ActualVersion)

		fetched, err := a.Fetch(ctx, "s-1")
		require.NoError(t, err)
		assert.Len(t, fetched, 1)

		byCommand, err := a.LoadByCommand(ctx, "cmd-2")
		require.NoError(t, err)
		assert.Empty(t, byCommand)

		last, err := a.GetLastPosition(ctx)
		require.NoError(t, err)
		assert.Equal(t, first[0].GlobalPosition, last)
	})

	t.Run("append with current version succeeds", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		first, err := a.Append(ctx, "s-1", Records("s-1", "A"), "cmd-1", adapters.NoVersion)
		require.NoError(t, err)

		second, err := a.Append(ctx, "s-1", Records("s-1", "B"), "cmd-2", first[0].Version)
		require.NoError(t, err)
		assert.NotEqual(t, first[0].Version, second[0].Version)
		assert.Greater(t, second[0].GlobalPosition, first[0].GlobalPosition)
	})

	t.Run("append validates arguments", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		_, err := a.Append(ctx, "", Records("", "A"), "cmd", adapters.NoVersion)
		assert.ErrorIs(t, err, adapters.ErrEmptyStreamID)

		_, err = a.Append(ctx, "s-1", nil, "cmd", adapters.NoVersion)
		assert.ErrorIs(t, err, adapters.ErrNoEvents)
	})

	t.Run("concurrent appenders with the same expected version", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		base, err := a.Append(ctx, "s-1", Records("s-1", "A"), "cmd-0", adapters.NoVersion)
		require.NoError(t, err)
		expected := base[0].Version

		const writers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		successes, conflicts := 0, 0

		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := a.Append(ctx, "s-1", Records("s-1", "B"), fmt.Sprintf("cmd-%d", i+1), expected)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, adapters.ErrConcurrencyConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, writers-1, conflicts)

		fetched, err := a.Fetch(ctx, "s-1")
		require.NoError(t, err)
		assert.Len(t, fetched, 2)
	})

	t.Run("global log is totally ordered across streams", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		_, err := a.Append(ctx, "s-1", Records("s-1", "A", "B"), "cmd-1", adapters.NoVersion)
		require.NoError(t, err)
		_, err = a.Append(ctx, "s-2", Records("s-2", "C"), "cmd-2", adapters.NoVersion)
		require.NoError(t, err)

		all, err := a.LoadFromPosition(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"A", "B", "C"}, []string{all[0].Type, all[1].Type, all[2].Type})

		rest, err := a.LoadFromPosition(ctx, all[0].GlobalPosition, 10)
		require.NoError(t, err)
		assert.Len(t, rest, 2)

		limited, err := a.LoadFromPosition(ctx, 0, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		last, err := a.GetLastPosition(ctx)
		require.NoError(t, err)
		assert.Equal(t, all[2].GlobalPosition, last)
	})

	t.Run("load by command", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		stored, err := a.Append(ctx, "s-1", Records("s-1", "A", "B"), "cmd-1", adapters.NoVersion)
		require.NoError(t, err)

		byCommand, err := a.LoadByCommand(ctx, "cmd-1")
		require.NoError(t, err)
		require.Len(t, byCommand, 2)
		assert.Equal(t, stored[0].ID, byCommand[0].ID)
		assert.Equal(t, stored[1].ID, byCommand[1].ID)

		none, err := a.LoadByCommand(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("cancelled context", func(t *testing.T) {
		a := factory(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := a.Fetch(ctx, "s-1")
		assert.Error(t, err)
		_, err = a.Append(ctx, "s-1", Records("s-1", "A"), "cmd", adapters.NoVersion)
		assert.Error(t, err)
	})
}

// RunViewStoreSuite runs the view store contract against adapters from factory.
func RunViewStoreSuite(t *testing.T, factory Factory) {
	t.Run("missing view", func(t *testing.T) {
		a := factory(t)
		_, err := a.FetchView(context.Background(), "orders", "v-1")
		assert.ErrorIs(t, err, adapters.ErrViewNotFound)
	})

	t.Run("create and update with compare and swap", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		created, err := a.SaveView(ctx, adapters.ViewRecord{
			ViewName:       "orders",
			ViewID:         "v-1",
			Data:           []byte(`{"n":1}`),
			AppliedVersion: "e-1",
			Position:       1,
		}, adapters.NoVersion)
		require.NoError(t, err)
		assert.NotEqual(t, adapters.NoVersion, created.Version)

		fetched, err := a.FetchView(ctx, "orders", "v-1")
		require.NoError(t, err)
		assert.Equal(t, created.Version, fetched.Version)
		assert.Equal(t, adapters.Version("e-1"), fetched.AppliedVersion)
		assert.Equal(t, uint64(1), fetched.Position)
		assert.JSONEq(t, `{"n":1}`, string(fetched.Data))

		updated, err := a.SaveView(ctx, adapters.ViewRecord{
			ViewName:       "orders",
			ViewID:         "v-1",
			Data:           []byte(`{"n":2}`),
			AppliedVersion: "e-2",
			Position:       2,
		}, created.Version)
		require.NoError(t, err)
		assert.NotEqual(t, created.Version, updated.Version)
	})

	t.Run("stale prior leaves the stored view unchanged", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		created, err := a.SaveView(ctx, adapters.ViewRecord{ViewName: "orders", ViewID: "v-1", Data: []byte(`{"n":1}`), Position: 1}, adapters.NoVersion)
		require.NoError(t, err)

		_, err = a.SaveView(ctx, adapters.ViewRecord{ViewName: "orders", ViewID: "v-1", Data: []byte(`{"n":9}`), Position: 1}, adapters.NoVersion)
		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		_, err = a.SaveView(ctx, adapters.ViewRecord{ViewName: "orders", ViewID: "v-1", Data: []byte(`{"n":9}`), Position: 1}, "stale")
		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		fetched, err := a.FetchView(ctx, "orders", "v-1")
		require.NoError(t, err)
		assert.Equal(t, created.Version, fetched.Version)
		assert.JSONEq(t, `{"n":1}`, string(fetched.Data))
	})

	t.Run("prior on a missing view conflicts", func(t *testing.T) {
		a := factory(t)
		_, err := a.SaveView(context.Background(), adapters.ViewRecord{ViewName: "orders", ViewID: "v-1", Data: []byte(`{}`)}, "v")
		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)
	})

	t.Run("views with different names are independent", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		orders, err := a.SaveView(ctx, adapters.ViewRecord{ViewName: "orders", ViewID: "v-1", Data: []byte(`{"n":1}`), Position: 1}, adapters.NoVersion)
		require.NoError(t, err)
		_, err = a.FetchView(ctx, "totals", "v-1")
		assert.ErrorIs(t, err, adapters.ErrViewNotFound)

		totals, err := a.SaveView(ctx, adapters.ViewRecord{ViewName: "totals", ViewID: "v-1", Data: []byte(`{"n":7}`), Position: 3}, adapters.NoVersion)
		require.NoError(t, err)

		fetched, err := a.FetchView(ctx, "orders", "v-1")
		require.NoError(t, err)
		assert.Equal(t, orders.Version, fetched.Version)
		assert.Equal(t, uint64(1), fetched.Position)
		assert.JSONEq(t, `{"n":1}`, string(fetched.Data))

		fetched, err = a.FetchView(ctx, "totals", "v-1")
		require.NoError(t, err)
		assert.Equal(t, "totals", fetched.ViewName)
		assert.Equal(t, totals.Version, fetched.Version)
		assert.JSONEq(t, `{"n":7}`, string(fetched.Data))
	})

	t.Run("view name is required", func(t *testing.T) {
		a := factory(t)
		_, err := a.SaveView(context.Background(), adapters.ViewRecord{ViewID: "v-1", Data: []byte(`{}`)}, adapters.NoVersion)
		assert.ErrorIs(t, err, adapters.ErrEmptyViewName)
	})
}

// RunFeedSuite runs the feed contract against adapters from factory.
func RunFeedSuite(t *testing.T, factory Factory) {
	t.Run("unacknowledged events are redelivered", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		_, err := a.Append(ctx, "s-1", Records("s-1", "A", "B", "C"), "cmd-1", adapters.NoVersion)
		require.NoError(t, err)

		batch, err := a.Poll(ctx, "consumer", 2)
		require.NoError(t, err)
		require.Len(t, batch, 2)

		again, err := a.Poll(ctx, "consumer", 2)
		require.NoError(t, err)
		require.Len(t, again, 2)
		assert.Equal(t, batch[0].ID, again[0].ID)

		require.NoError(t, a.Ack(ctx, "consumer", batch[0].GlobalPosition))

		rest, err := a.Poll(ctx, "consumer", 10)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, "B", rest[0].Type)
		assert.Equal(t, "C", rest[1].Type)
	})

	t.Run("consumers are independent", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		stored, err := a.Append(ctx, "s-1", Records("s-1", "A"), "cmd-1", adapters.NoVersion)
		require.NoError(t, err)
		require.NoError(t, a.Ack(ctx, "one", stored[0].GlobalPosition))

		forOne, err := a.Poll(ctx, "one", 10)
		require.NoError(t, err)
		assert.Empty(t, forOne)

		forTwo, err := a.Poll(ctx, "two", 10)
		require.NoError(t, err)
		assert.Len(t, forTwo, 1)
	})

	t.Run("acknowledgements never move backwards", func(t *testing.T) {
		a := factory(t)
		ctx := context.Background()

		stored, err := a.Append(ctx, "s-1", Records("s-1", "A", "B"), "cmd-1", adapters.NoVersion)
		require.NoError(t, err)

		require.NoError(t, a.Ack(ctx, "c", stored[1].GlobalPosition))
		require.NoError(t, a.Ack(ctx, "c", stored[0].GlobalPosition))

		rest, err := a.Poll(ctx, "c", 10)
		require.NoError(t, err)
		assert.Empty(t, rest)
	})

	t.Run("empty consumer is rejected", func(t *testing.T) {
		a := factory(t)
		_, err := a.Poll(context.Background(), "", 10)
		assert.ErrorIs(t, err, adapters.ErrEmptyConsumer)
	})
}

// RunAll runs every suite.
func RunAll(t *testing.T, factory Factory) {
	t.Run("EventStore", func(t *testing.T) { RunEventStoreSuite(t, factory) })
	t.Run("ViewStore", func(t *testing.T) { RunViewStoreSuite(t, factory) })
	t.Run("Feed", func(t *testing.T) { RunFeedSuite(t, factory) })
}
