package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
	"github.com/AshkanYarmoradi/go-fmodel/adapters/adaptertest"
	"github.com/AshkanYarmoradi/go-fmodel/testing/containers"
)

// newTestAdapter returns an initialized adapter on a private schema that is
// dropped when the test ends. Set TEST_DATABASE_URL to run these tests.
func newTestAdapter(t *testing.T) (*PostgresAdapter, *containers.IntegrationTest) {
	t.Helper()

	it := containers.NewIntegrationTest(t, containers.WithSchemaPrefix("fmodel_test"))

	adapter := NewAdapterWithDB(it.OpenDB(), WithSchema(it.Schema()), WithMaxConnections(16))
	require.NoError(t, adapter.Initialize(it.Context()))
	t.Cleanup(func() { _ = adapter.Close() })

	return adapter, it
}

func TestPostgresAdapter_Conformance(t *testing.T) {
	adaptertest.RunAll(t, func(t *testing.T) adaptertest.Adapter {
		adapter, _ := newTestAdapter(t)
		return adapter
	})
}

func TestPostgresAdapter_Initialize(t *testing.T) {
	adapter, it := newTestAdapter(t)
	ctx := context.Background()

	t.Run("creates schema and tables", func(t *testing.T) {
		for _, table := range []string{"events", "streams", "views", "checkpoints"} {
			assert.True(t, it.TableExists(table), table)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		assert.NoError(t, adapter.Initialize(ctx))
	})

	t.Run("reports migration version", func(t *testing.T) {
		version, err := adapter.MigrationVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, version)
	})
}

func TestPostgresAdapter_Append(t *testing.T) {
	adapter, it := newTestAdapter(t)
	ctx := context.Background()

	stored, err := adapter.Append(ctx, "Restaurant-1", adaptertest.Records("Restaurant-1", "A", "B"), "cmd-1", adapters.NoVersion)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	assert.Equal(t, "Restaurant-1", stored[0].StreamID)
	assert.Equal(t, "Test", stored[0].Decider)
	assert.Equal(t, "cmd-1", stored[0].CommandID)
	assert.Less(t, stored[0].GlobalPosition, stored[1].GlobalPosition)
	assert.Equal(t, adapters.Version(stored[1].ID), stored[1].Version)

	version, err := adapter.CurrentVersion(ctx, "Restaurant-1")
	require.NoError(t, err)
	assert.Equal(t, stored[1].Version, version)
	assert.Equal(t, 2, it.Count("events"))
	assert.Equal(t, 1, it.Count("streams"))

	t.Run("final flag round trips", func(t *testing.T) {
		records := adaptertest.Records("Order-1", "Closed")
		records[0].Final = true

		stored, err := adapter.Append(ctx, "Order-1", records, "cmd-2", adapters.NoVersion)
		require.NoError(t, err)
		assert.True(t, stored[0].Final)

		fetched, err := adapter.Fetch(ctx, "Order-1")
		require.NoError(t, err)
		require.Len(t, fetched, 1)
		assert.True(t, fetched[0].Final)
	})
}

func TestPostgresAdapter_Closed(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Close())
	require.NoError(t, adapter.Close())

	_, err := adapter.Append(ctx, "s-1", adaptertest.Records("s-1", "A"), "cmd", adapters.NoVersion)
	assert.ErrorIs(t, err, ErrAdapterClosed)

	_, err = adapter.Fetch(ctx, "s-1")
	assert.ErrorIs(t, err, ErrAdapterClosed)

	_, err = adapter.FetchView(ctx, "view", "v-1")
	assert.ErrorIs(t, err, ErrAdapterClosed)

	assert.ErrorIs(t, adapter.Ack(ctx, "c", 1), ErrAdapterClosed)
	assert.ErrorIs(t, adapter.Ping(ctx), ErrAdapterClosed)
}

func TestPostgresAdapter_Options(t *testing.T) {
	db, err := sql.Open("pgx", "postgres://localhost/unused")
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAdapterWithDB(db,
		WithSchema("custom"),
		WithMaxConnections(5),
		WithMaxIdleConnections(2),
		WithConnectionMaxLifetime(time.Minute),
	)

	assert.Equal(t, "custom", adapter.Schema())
	assert.Same(t, db, adapter.DB())
	assert.Equal(t, 5, db.Stats().MaxOpenConnections)
	assert.Equal(t, `"custom"."events"`, adapter.table("events"))
}

func TestPostgresAdapter_DefaultSchema(t *testing.T) {
	adapter, err := NewAdapter("postgres://localhost/unused")
	require.NoError(t, err)
	defer adapter.Close()

	assert.Equal(t, "fmodel", adapter.Schema())
}
