package fmodel

import (
	"encoding/json"
	"fmt"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Codec converts domain events to adapter records and back.
type Codec[E any] interface {
	// Encode converts an event into a record tagged with its decider and kind.
	Encode(event E) (adapters.EventRecord, error)

	// Decode converts a stored record back into an event.
	Decode(stored adapters.StoredEvent) (E, error)

	// Handles reports whether records tagged with decider belong to this codec.
	Handles(decider string) bool
}

// RegistryCodec encodes the events of a single decider.
// The kind tag is the event's struct name.
type RegistryCodec[E any] struct {
	decider    string
	serializer Serializer
}

// NewRegistryCodec creates a codec for the events of decider. Every example
// is registered with the serializer when it supports registration.
func NewRegistryCodec[E any](decider string, serializer Serializer, examples ...E) *RegistryCodec[E] {
	if registrar, ok := serializer.(TypeRegistrar); ok {
		values := make([]interface{}, len(examples))
		for i, example := range examples {
			values[i] = example
		}
		registrar.RegisterAll(values...)
	}
	return &RegistryCodec[E]{decider: decider, serializer: serializer}
}

// Decider returns the decider tag of the codec.
func (c *RegistryCodec[E]) Decider() string {
	return c.decider
}

// Encode converts event into a record. The event must implement Fact.
func (c *RegistryCodec[E]) Encode(event E) (adapters.EventRecord, error) {
	value := unwrapValue(event)
	kind := GetEventType(value)

	fact, ok := value.(Fact)
	if !ok {
		return adapters.EventRecord{}, NewSerializationError(kind, "encode", fmt.Errorf("%T does not implement Fact", value))
	}

	data, err := c.serializer.Serialize(value)
	if err != nil {
		return adapters.EventRecord{}, err
	}

	return adapters.EventRecord{
		Decider:       c.decider,
		Type:          kind,
		StreamID:      fact.Identity(),
		SchemaVersion: fact.SchemaVersion(),
		Final:         fact.IsFinal(),
		Data:          data,
	}, nil
}

// Decode converts a stored record into an event of this decider.
func (c *RegistryCodec[E]) Decode(stored adapters.StoredEvent) (E, error) {
	var zero E
	if stored.Decider != c.decider {
		return zero, NewEventTypeNotRegisteredError(stored.Decider, stored.Type)
	}

	value, err := c.serializer.Deserialize(stored.Data, stored.Type)
	if err != nil {
		return zero, err
	}

	event, ok := value.(E)
	if !ok {
		return zero, NewSerializationError(stored.Type, "decode", fmt.Errorf("%T is not an event of %s", value, c.decider))
	}
	return event, nil
}

// Handles reports whether decider is this codec's tag.
func (c *RegistryCodec[E]) Handles(decider string) bool {
	return decider == c.decider
}

type sumCodec[E1, E2 any] struct {
	left  Codec[E1]
	right Codec[E2]
}

// CombineCodecs returns a codec for the events of Combine(a, b), given codecs
// for the events of a and b. Decoding routes by the record's decider tag.
func CombineCodecs[E1, E2 any](left Codec[E1], right Codec[E2]) Codec[Sum[E1, E2]] {
	return &sumCodec[E1, E2]{left: left, right: right}
}

func (c *sumCodec[E1, E2]) Encode(event Sum[E1, E2]) (adapters.EventRecord, error) {
	if e, ok := event.LeftValue(); ok {
		return c.left.Encode(e)
	}
	e, _ := event.RightValue()
	return c.right.Encode(e)
}

func (c *sumCodec[E1, E2]) Decode(stored adapters.StoredEvent) (Sum[E1, E2], error) {
	switch {
	case c.left.Handles(stored.Decider):
		e, err := c.left.Decode(stored)
		if err != nil {
			return Sum[E1, E2]{}, err
		}
		return Left[E1, E2](e), nil
	case c.right.Handles(stored.Decider):
		e, err := c.right.Decode(stored)
		if err != nil {
			return Sum[E1, E2]{}, err
		}
		return Right[E1, E2](e), nil
	default:
		return Sum[E1, E2]{}, NewEventTypeNotRegisteredError(stored.Decider, stored.Type)
	}
}

func (c *sumCodec[E1, E2]) Handles(decider string) bool {
	return c.left.Handles(decider) || c.right.Handles(decider)
}

// StateCodec serializes view states.
type StateCodec[S any] interface {
	EncodeState(state S) ([]byte, error)
	DecodeState(data []byte) (S, error)
}

type jsonStateCodec[S any] struct{}

// JSONState returns a StateCodec using encoding/json.
func JSONState[S any]() StateCodec[S] {
	return jsonStateCodec[S]{}
}

func (jsonStateCodec[S]) EncodeState(state S) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, NewSerializationError(fmt.Sprintf("%T", state), "serialize", err)
	}
	return data, nil
}

func (jsonStateCodec[S]) DecodeState(data []byte) (S, error) {
	var state S
	if err := json.Unmarshal(data, &state); err != nil {
		return state, NewSerializationError(fmt.Sprintf("%T", state), "deserialize", err)
	}
	return state, nil
}
