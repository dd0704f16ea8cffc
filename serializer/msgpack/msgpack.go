// Package msgpack provides MessagePack event and view state serialization.
//
// MessagePack is a binary serialization format that produces smaller payloads
// than JSON while maintaining similar flexibility.
//
// Basic usage:
//
//	codec := fmodel.NewRegistryCodec("Order", msgpack.NewSerializer(), OrderEvents()...)
//	view := fmodel.NewMaterializedView(name, v, store, codec, msgpack.State[ViewState]())
package msgpack

import (
	"fmt"
	"reflect"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/vmihailenco/msgpack/v5"
)

// Serializer is a MessagePack implementation of fmodel.Serializer.
// It provides efficient binary serialization with type registry support.
type Serializer struct {
	registry *fmodel.EventRegistry
}

var (
	_ fmodel.Serializer    = (*Serializer)(nil)
	_ fmodel.TypeRegistrar = (*Serializer)(nil)
)

// NewSerializer creates a new MessagePack Serializer with an empty registry.
func NewSerializer() *Serializer {
	return &Serializer{registry: fmodel.NewEventRegistry()}
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithRegistry shares registry with the serializer.
func WithRegistry(registry *fmodel.EventRegistry) SerializerOption {
	return func(s *Serializer) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// NewSerializerWithOptions creates a new Serializer with the given options.
func NewSerializerWithOptions(opts ...SerializerOption) *Serializer {
	s := NewSerializer()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a mapping from eventType to the Go type of the example.
func (s *Serializer) Register(eventType string, example interface{}) {
	s.registry.Register(eventType, example)
}

// RegisterAll registers multiple events using their struct names as kind names.
func (s *Serializer) RegisterAll(examples ...interface{}) {
	s.registry.RegisterAll(examples...)
}

// Registry returns the underlying registry.
func (s *Serializer) Registry() *fmodel.EventRegistry {
	return s.registry
}

// Serialize converts an event to MessagePack bytes.
func (s *Serializer) Serialize(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, fmodel.NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}

	data, err := msgpack.Marshal(event)
	if err != nil {
		return nil, fmodel.NewSerializationError(fmodel.GetEventType(event), "serialize", err)
	}

	return data, nil
}

// Deserialize converts MessagePack bytes back to a value of the registered type.
func (s *Serializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if len(data) == 0 {
		return nil, fmodel.NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	t, ok := s.registry.Lookup(eventType)
	if !ok {
		return nil, fmodel.NewEventTypeNotRegisteredError("", eventType)
	}

	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmodel.NewSerializationError(eventType, "deserialize", err)
	}

	return ptr.Elem().Interface(), nil
}

type stateCodec[S any] struct{}

// State returns an fmodel.StateCodec storing view states as MessagePack.
func State[S any]() fmodel.StateCodec[S] {
	return stateCodec[S]{}
}

func (stateCodec[S]) EncodeState(state S) ([]byte, error) {
	data, err := msgpack.Marshal(state)
	if err != nil {
		return nil, fmodel.NewSerializationError(fmt.Sprintf("%T", state), "serialize", err)
	}
	return data, nil
}

func (stateCodec[S]) DecodeState(data []byte) (S, error) {
	var state S
	if err := msgpack.Unmarshal(data, &state); err != nil {
		return state, fmodel.NewSerializationError(fmt.Sprintf("%T", state), "deserialize", err)
	}
	return state, nil
}
