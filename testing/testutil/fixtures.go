package testutil

import (
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// FixtureDecider is the decider tag of fixture events.
const FixtureDecider = "Test"

// FixtureTime is the timestamp of the first fixture event. Each following
// event is one second later.
var FixtureTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// StoredEvents returns one stored event per type on streamID, at global
// positions from+1, from+2 and so on. Payloads are empty JSON objects.
func StoredEvents(streamID string, from uint64, types ...string) []adapters.StoredEvent {
	events := make([]adapters.StoredEvent, len(types))
	for i, typ := range types {
		pos := from + uint64(i) + 1
		id := fmt.Sprintf("evt-%d", pos)
		events[i] = adapters.StoredEvent{
			ID:             id,
			StreamID:       streamID,
			Decider:        FixtureDecider,
			Type:           typ,
			SchemaVersion:  1,
			Data:           []byte("{}"),
			CommandID:      fmt.Sprintf("cmd-%d", pos),
			Version:        adapters.Version(id),
			GlobalPosition: pos,
			Timestamp:      FixtureTime.Add(time.Duration(i) * time.Second),
		}
	}
	return events
}

// Positions returns the global positions of events.
func Positions(events []adapters.StoredEvent) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		out[i] = e.GlobalPosition
	}
	return out
}
