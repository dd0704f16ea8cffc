package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
	"github.com/AshkanYarmoradi/go-fmodel/adapters/memory"
)

func TestMockT(t *testing.T) {
	t.Run("records errors", func(t *testing.T) {
		mt := RunWithMockT(func(m *MockT) {
			m.Errorf("bad %d", 1)
			m.Log("note")
		})
		assert.True(t, mt.Failed())
		assert.False(t, mt.Fatal_)
		assert.Equal(t, "bad %d", mt.Message)
		assert.Equal(t, []string{"note"}, mt.Logs)
	})

	t.Run("fatal stops the function", func(t *testing.T) {
		reached := false
		mt := RunWithMockT(func(m *MockT) {
			m.Fatal("stop")
			reached = true
		})
		assert.True(t, mt.Fatal_)
		assert.Equal(t, "stop", mt.Message)
		assert.False(t, reached)
	})

	t.Run("FailNow", func(t *testing.T) {
		mt := RunWithMockT(func(m *MockT) { m.FailNow() })
		assert.True(t, mt.Failed())
	})
}

func TestMockHandler(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	events := StoredEvents("s-1", 0, "A", "B")

	h := NewMockHandler("h").FailAt(2, 1, boom)
	assert.Equal(t, "h", h.Name())

	require.NoError(t, h.HandleEvent(ctx, events[0]))
	assert.ErrorIs(t, h.HandleEvent(ctx, events[1]), boom)
	require.NoError(t, h.HandleEvent(ctx, events[1]))

	assert.Equal(t, []uint64{1, 2}, h.Positions())
	assert.Len(t, h.Events(), 2)
	assert.Equal(t, 3, h.Attempts())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, h.HandleEvent(cancelled, events[0]), context.Canceled)
}

func TestFailingStore(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	store := NewFailingStore(memory.NewAdapter())
	records := []adapters.EventRecord{{Decider: FixtureDecider, Type: "A", StreamID: "s-1", Data: []byte("{}")}}

	stored, err := store.Append(ctx, "s-1", records, "cmd-1", adapters.NoVersion)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	store.AppendErr = boom
	_, err = store.Append(ctx, "s-1", records, "cmd-2", stored[0].Version)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, store.Appends())

	store.FetchErr = boom
	_, err = store.Fetch(ctx, "s-1")
	assert.ErrorIs(t, err, boom)

	version, err := store.CurrentVersion(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, stored[0].Version, version)

	store.VersionErr = boom
	_, err = store.CurrentVersion(ctx, "s-1")
	assert.ErrorIs(t, err, boom)
}

func TestStoredEvents(t *testing.T) {
	events := StoredEvents("s-1", 10, "A", "B", "C")

	require.Len(t, events, 3)
	assert.Equal(t, []uint64{11, 12, 13}, Positions(events))
	assert.Equal(t, "B", events[1].Type)
	assert.Equal(t, adapters.Version("evt-12"), events[1].Version)
	assert.Equal(t, FixtureTime.Add(2e9), events[2].Timestamp)
}
