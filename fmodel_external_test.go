package fmodel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/adapters"
	"github.com/AshkanYarmoradi/go-fmodel/adapters/memory"
	"github.com/AshkanYarmoradi/go-fmodel/examples/restaurant"
	"github.com/AshkanYarmoradi/go-fmodel/testing/testutil"
)

func seedStore(t *testing.T, store *memory.MemoryAdapter, types ...string) {
	t.Helper()
	records := make([]adapters.EventRecord, len(types))
	for i, typ := range types {
		records[i] = adapters.EventRecord{Decider: testutil.FixtureDecider, Type: typ, StreamID: "s-1", SchemaVersion: 1, Data: []byte("{}")}
	}
	_, err := store.Append(context.Background(), "s-1", records, "seed", adapters.NoVersion)
	require.NoError(t, err)
}

func TestProjectionRunner_RetriesTransientFailure(t *testing.T) {
	store := memory.NewAdapter()
	seedStore(t, store, "A", "B", "C")

	handler := testutil.NewMockHandler("retrying").FailAt(2, 1, errors.New("view store busy"))
	runner := fmodel.NewProjectionRunner(store, handler, fmodel.WithRunnerOptions(fmodel.RunnerOptions{
		BatchSize:    10,
		PollInterval: time.Millisecond,
		RetryPolicy:  fmodel.ExponentialBackoffRetry(2, time.Millisecond, time.Millisecond),
	}))

	n, err := runner.Drain(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint64{1, 2, 3}, handler.Positions())
	assert.Equal(t, 4, handler.Attempts())
	assert.Equal(t, uint64(3), store.Checkpoint("retrying"))
}

func TestProjectionRunner_StopsAtPersistentFailure(t *testing.T) {
	store := memory.NewAdapter()
	seedStore(t, store, "A", "B", "C")
	boom := errors.New("view store down")

	handler := testutil.NewMockHandler("failing").FailAt(2, 10, boom)
	runner := fmodel.NewProjectionRunner(store, handler, fmodel.WithRunnerOptions(fmodel.RunnerOptions{
		BatchSize:    10,
		PollInterval: time.Millisecond,
		RetryPolicy:  fmodel.NoRetry(),
	}))

	n, err := runner.Drain(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uint64{1}, handler.Positions())
	assert.Equal(t, uint64(1), store.Checkpoint("failing"))
	assert.NotEmpty(t, runner.Status().Error)
}

func TestEventSourcingAggregate_StoreFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	store := testutil.NewFailingStore(memory.NewAdapter())
	aggregate := restaurant.NewAggregate(store, restaurant.NewCodec(nil))

	create := restaurant.CreateRestaurant(restaurant.CreateRestaurantCommand{ID: "r-1", Name: "Joes"})

	t.Run("append failure", func(t *testing.T) {
		store.AppendErr = boom
		defer func() { store.AppendErr = nil }()

		_, err := aggregate.Handle(ctx, create)

		assert.ErrorIs(t, err, boom)
		var cmdErr *fmodel.CommandError
		require.ErrorAs(t, err, &cmdErr)
		assert.Equal(t, fmodel.StageAppending, cmdErr.Stage)
		assert.Equal(t, "r-1", cmdErr.StreamID)
	})

	t.Run("fetch failure", func(t *testing.T) {
		store.FetchErr = boom
		defer func() { store.FetchErr = nil }()

		_, err := aggregate.Handle(ctx, create)

		assert.ErrorIs(t, err, boom)
		var cmdErr *fmodel.CommandError
		require.ErrorAs(t, err, &cmdErr)
		assert.Equal(t, fmodel.StageFetching, cmdErr.Stage)
	})

	t.Run("recovers once the store does", func(t *testing.T) {
		result, err := aggregate.Handle(ctx, create)

		require.NoError(t, err)
		require.Len(t, result, 1)
		assert.Equal(t, "RestaurantCreatedEvent", result[0].Stored.Type)
	})
}
