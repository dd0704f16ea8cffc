package msgpack

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/adapters/memory"
	"github.com/AshkanYarmoradi/go-fmodel/examples/restaurant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Types
// =============================================================================

type NestedData struct {
	Value int    `msgpack:"value"`
	Name  string `msgpack:"name"`
}

type ComplexEvent struct {
	ID     string      `msgpack:"id"`
	Tags   []string    `msgpack:"tags"`
	Nested *NestedData `msgpack:"nested"`
}

func testMenu() restaurant.RestaurantMenu {
	return restaurant.RestaurantMenu{
		MenuID:  "34110e19-ca72-45e7-b969-61bebf54da08",
		Cuisine: restaurant.CuisineSerbian,
		MenuItems: []restaurant.MenuItem{
			{MenuItemID: "1", Name: "Salad", Price: "8.99"},
			{MenuItemID: "2", Name: "Soup", Price: "6.99"},
			{MenuItemID: "3", Name: "Steak", Price: "19.99"},
		},
	}
}

// =============================================================================
// Serializer Tests
// =============================================================================

func TestSerializer_Register(t *testing.T) {
	t.Run("RegisterAll uses struct names", func(t *testing.T) {
		s := NewSerializer()
		s.RegisterAll(ComplexEvent{}, &NestedData{})

		assert.ElementsMatch(t, []string{"ComplexEvent", "NestedData"}, s.Registry().RegisteredTypes())
	})

	t.Run("Register uses the given name", func(t *testing.T) {
		s := NewSerializer()
		s.Register("complex", ComplexEvent{})

		_, ok := s.Registry().Lookup("complex")
		assert.True(t, ok)
	})

	t.Run("WithRegistry shares the registry", func(t *testing.T) {
		registry := fmodel.NewEventRegistry()
		registry.RegisterAll(ComplexEvent{})

		s := NewSerializerWithOptions(WithRegistry(registry))

		assert.Same(t, registry, s.Registry())
	})
}

func TestSerializer_Serialize(t *testing.T) {
	t.Run("returns error for nil", func(t *testing.T) {
		_, err := NewSerializer().Serialize(nil)
		assert.True(t, errors.Is(err, fmodel.ErrSerializationFailed))
	})

	t.Run("is smaller than JSON", func(t *testing.T) {
		event := restaurant.RestaurantCreatedEvent{ID: "r-1", Name: "Eat at Joes", Menu: testMenu()}

		packed, err := NewSerializer().Serialize(event)
		require.NoError(t, err)
		text, err := fmodel.NewJSONSerializer().Serialize(event)
		require.NoError(t, err)

		assert.Less(t, len(packed), len(text))
	})
}

func TestSerializer_Deserialize(t *testing.T) {
	t.Run("returns error for empty data", func(t *testing.T) {
		s := NewSerializer()
		s.RegisterAll(ComplexEvent{})

		_, err := s.Deserialize(nil, "ComplexEvent")
		assert.True(t, errors.Is(err, fmodel.ErrSerializationFailed))
	})

	t.Run("rejects unregistered type", func(t *testing.T) {
		_, err := NewSerializer().Deserialize([]byte{0x80}, "Unknown")
		assert.True(t, errors.Is(err, fmodel.ErrEventTypeNotRegistered))
	})

	t.Run("returns error for invalid data", func(t *testing.T) {
		s := NewSerializer()
		s.RegisterAll(ComplexEvent{})

		_, err := s.Deserialize([]byte{0xc1}, "ComplexEvent")
		assert.True(t, errors.Is(err, fmodel.ErrSerializationFailed))
	})
}

func TestSerializer_RoundTrip(t *testing.T) {
	t.Run("preserves nested data", func(t *testing.T) {
		s := NewSerializer()
		s.RegisterAll(ComplexEvent{})
		original := ComplexEvent{ID: "event-123", Tags: []string{"a", "b"}, Nested: &NestedData{Value: 100, Name: "test"}}

		data, err := s.Serialize(original)
		require.NoError(t, err)
		result, err := s.Deserialize(data, "ComplexEvent")
		require.NoError(t, err)

		assert.Equal(t, original, result)
	})

	t.Run("preserves embedded event metadata", func(t *testing.T) {
		s := NewSerializer()
		for _, e := range restaurant.RestaurantEvents() {
			s.RegisterAll(e)
		}
		original := restaurant.RestaurantNotCreatedEvent{
			EventMeta: restaurant.EventMeta{Version: 1},
			ID:        "r-1",
			Name:      "Eat at Joes",
			Menu:      testMenu(),
			Reason:    restaurant.ReasonRestaurantAlreadyExists,
		}

		data, err := s.Serialize(original)
		require.NoError(t, err)
		result, err := s.Deserialize(data, "RestaurantNotCreatedEvent")
		require.NoError(t, err)

		assert.Equal(t, original, result)
	})
}

func TestSerializer_Concurrency(t *testing.T) {
	s := NewSerializer()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RegisterAll(ComplexEvent{})
			_, _ = s.Serialize(ComplexEvent{ID: "x"})
		}()
	}
	wg.Wait()

	assert.Len(t, s.Registry().RegisteredTypes(), 1)
}

// =============================================================================
// State Codec Tests
// =============================================================================

func TestState(t *testing.T) {
	codec := State[restaurant.ViewState]()
	state := fmodel.MakePair(&restaurant.RestaurantView{ID: "r-1", Name: "Eat at Joes", Menu: testMenu()}, (*restaurant.OrderView)(nil))

	data, err := codec.EncodeState(state)
	require.NoError(t, err)

	decoded, err := codec.DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)

	_, err = codec.DecodeState([]byte{0xc1})
	assert.True(t, errors.Is(err, fmodel.ErrSerializationFailed))
}

// =============================================================================
// Application Tests
// =============================================================================

func TestApplication_WithMessagePack(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAdapter()
	codec := restaurant.NewCodec(func() fmodel.Serializer { return NewSerializer() })
	aggregate := restaurant.NewAggregate(store, codec)
	view := restaurant.NewMaterializedView(store, codec, State[restaurant.ViewState]())

	_, err := aggregate.Handle(ctx, restaurant.CreateRestaurant(restaurant.CreateRestaurantCommand{
		ID: "r-1", Name: "Eat at Joes", Menu: testMenu(),
	}))
	require.NoError(t, err)

	events, err := store.Fetch(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEqual(t, byte('{'), events[0].Data[0])

	_, err = fmodel.NewProjectionRunner(store, view).Drain(ctx)
	require.NoError(t, err)

	state, _, err := view.Fetch(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "Eat at Joes", state.First.Name)
	assert.Equal(t, testMenu(), state.First.Menu)
}
