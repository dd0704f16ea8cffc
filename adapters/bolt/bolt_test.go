package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
	"github.com/AshkanYarmoradi/go-fmodel/adapters/adaptertest"
)

func openTemp(t *testing.T, opts ...Option) *Adapter {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "fmodel.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBoltAdapter_Conformance(t *testing.T) {
	adaptertest.RunAll(t, func(t *testing.T) adaptertest.Adapter {
		return openTemp(t)
	})
}

func TestOpen(t *testing.T) {
	t.Run("requires a path", func(t *testing.T) {
		_, err := Open("  ")
		assert.Error(t, err)
	})

	t.Run("creates the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "events.db")
		a, err := Open(path)
		require.NoError(t, err)
		defer a.Close()

		assert.Equal(t, path, a.Path())
		assert.NoError(t, a.Ping(context.Background()))
		assert.NoError(t, a.Initialize(context.Background()))
	})
}

func TestBoltAdapter_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	a, err := Open(path)
	require.NoError(t, err)

	stored, err := a.Append(ctx, "Restaurant-1", adaptertest.Records("Restaurant-1", "A", "B"), "cmd-1", adapters.NoVersion)
	require.NoError(t, err)
	require.NoError(t, a.Ack(ctx, "view", stored[0].GlobalPosition))
	_, err = a.SaveView(ctx, adapters.ViewRecord{ViewName: "view", ViewID: "Restaurant-1", Data: []byte(`{}`), Position: 1}, adapters.NoVersion)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	events, err := reopened.Fetch(ctx, "Restaurant-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, stored[1].ID, events[1].ID)

	version, err := reopened.CurrentVersion(ctx, "Restaurant-1")
	require.NoError(t, err)
	assert.Equal(t, stored[1].Version, version)

	checkpoint, err := reopened.Checkpoint(ctx, "view")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), checkpoint)

	pending, err := reopened.Poll(ctx, "view", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stored[1].ID, pending[0].ID)

	view, err := reopened.FetchView(ctx, "view", "Restaurant-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), view.Position)

	more, err := reopened.Append(ctx, "Restaurant-2", adaptertest.Records("Restaurant-2", "C"), "cmd-2", adapters.NoVersion)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), more[0].GlobalPosition)
}

func TestBoltAdapter_Clock(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := openTemp(t, WithClock(func() time.Time { return fixed }))

	stored, err := a.Append(context.Background(), "s-1", adaptertest.Records("s-1", "A"), "cmd", adapters.NoVersion)
	require.NoError(t, err)
	assert.True(t, fixed.Equal(stored[0].Timestamp))
}

func TestBoltAdapter_Closed(t *testing.T) {
	ctx := context.Background()
	a := openTemp(t)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.Append(ctx, "s-1", adaptertest.Records("s-1", "A"), "cmd", adapters.NoVersion)
	assert.ErrorIs(t, err, adapters.ErrAdapterClosed)
	_, err = a.Fetch(ctx, "s-1")
	assert.ErrorIs(t, err, adapters.ErrAdapterClosed)
	_, err = a.FetchView(ctx, "view", "v")
	assert.ErrorIs(t, err, adapters.ErrAdapterClosed)
	_, err = a.Poll(ctx, "c", 1)
	assert.ErrorIs(t, err, adapters.ErrAdapterClosed)
	assert.ErrorIs(t, a.Ping(ctx), adapters.ErrAdapterClosed)
}
