package fmodel

import "time"

// Identifier is implemented by commands and events that target a stream.
type Identifier interface {
	// Identity returns the stream identity, which is also the natural key
	// of the views built from the stream.
	Identity() string
}

// Fact is implemented by every event type.
type Fact interface {
	Identifier

	// SchemaVersion returns the payload schema tag.
	SchemaVersion() int

	// IsFinal reports whether the event ends the stream's lifecycle.
	// It is carried for consumers and not enforced by the store.
	IsFinal() bool
}

// IdentityOf returns the stream identity of a command or event.
// Sum values are unwrapped first. It returns "" when v does not implement
// Identifier.
func IdentityOf(v any) string {
	id, ok := unwrapValue(v).(Identifier)
	if !ok {
		return ""
	}
	return id.Identity()
}

// Envelope is a decoded event together with its storage metadata.
type Envelope[E any] struct {
	// Event is the decoded domain event.
	Event E

	// Stored is the persisted record, including its global position,
	// version token and causal command identity.
	Stored StoredEvent
}

// EnvelopeDocument is the serializable form of an Envelope.
type EnvelopeDocument struct {
	ID             string        `json:"id"`
	StreamID       string        `json:"streamId"`
	Decider        string        `json:"decider"`
	Kind           string        `json:"kind"`
	SchemaVersion  int           `json:"version"`
	Final          bool          `json:"final"`
	CommandID      string        `json:"commandId"`
	StreamVersion  StreamVersion `json:"streamVersion"`
	GlobalPosition uint64        `json:"globalPosition"`
	Timestamp      time.Time     `json:"timestamp"`
	Payload        any           `json:"payload"`
}

// Document returns the response document for the envelope.
func (e Envelope[E]) Document() EnvelopeDocument {
	return EnvelopeDocument{
		ID:             e.Stored.ID,
		StreamID:       e.Stored.StreamID,
		Decider:        e.Stored.Decider,
		Kind:           e.Stored.Type,
		SchemaVersion:  e.Stored.SchemaVersion,
		Final:          e.Stored.Final,
		CommandID:      e.Stored.CommandID,
		StreamVersion:  e.Stored.Version,
		GlobalPosition: e.Stored.GlobalPosition,
		Timestamp:      e.Stored.Timestamp,
		Payload:        unwrapValue(e.Event),
	}
}

// Events returns the decoded events of envelopes.
func Events[E any](envelopes []Envelope[E]) []E {
	events := make([]E, len(envelopes))
	for i, env := range envelopes {
		events[i] = env.Event
	}
	return events
}
