// Package assertions provides event assertion helpers for decider outputs,
// loaded streams and feed batches. Events may be plain domain events or
// fmodel.Sum values; sums are unwrapped before types and data are compared.
package assertions

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/AshkanYarmoradi/go-fmodel"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

type valuer interface {
	Value() any
}

// Unwrap returns the domain event held by event, descending through nested
// sums.
func Unwrap(event any) any {
	for {
		v, ok := event.(valuer)
		if !ok {
			return event
		}
		event = v.Value()
	}
}

// TypeName returns the kind of event, with sums unwrapped.
func TypeName(event any) string {
	event = Unwrap(event)
	if event == nil {
		return "<nil>"
	}
	return fmodel.GetEventType(event)
}

// Types returns the kinds of events in order.
func Types[E any](events []E) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = TypeName(e)
	}
	return types
}

// Unwrapped returns the domain events of envelopes in order.
func Unwrapped[E any](envelopes []fmodel.Envelope[E]) []any {
	out := make([]any, len(envelopes))
	for i, env := range envelopes {
		out[i] = Unwrap(env.Event)
	}
	return out
}

// AssertEventTypes checks that the events have the expected kinds in order.
func AssertEventTypes[E any](t TB, events []E, types ...string) {
	t.Helper()

	if len(events) != len(types) {
		t.Fatalf("Expected %d events, got %d: %v", len(types), len(events), Types(events))
	}

	for i, expected := range types {
		if actual := TypeName(events[i]); actual != expected {
			t.Errorf("Event %d: expected type %s, got %s", i, expected, actual)
		}
	}
}

// AssertEventCount checks the number of events.
func AssertEventCount[E any](t TB, events []E, expected int) {
	t.Helper()

	if len(events) != expected {
		t.Errorf("Expected %d events, got %d", expected, len(events))
	}
}

// AssertNoEvents checks that no events were produced.
func AssertNoEvents[E any](t TB, events []E) {
	t.Helper()

	if len(events) > 0 {
		t.Errorf("Expected no events, got %d: %v", len(events), Types(events))
	}
}

// AssertEventData checks that event holds a value of type T equal to expected.
func AssertEventData[T any](t TB, event any, expected T) {
	t.Helper()

	actual, ok := Unwrap(event).(T)
	if !ok {
		t.Fatalf("Event is not of expected type %T, got %T", expected, Unwrap(event))
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("Event data mismatch:\nExpected: %+v\nActual: %+v", expected, actual)
	}
}

// AssertLastEvent checks the last event against expected.
func AssertLastEvent[E, T any](t TB, events []E, expected T) {
	t.Helper()

	if len(events) == 0 {
		t.Fatal("Expected at least one event, got none")
	}

	AssertEventData(t, events[len(events)-1], expected)
}

// AssertContainsEvent checks that some event equals expected.
func AssertContainsEvent[E, T any](t TB, events []E, expected T) {
	t.Helper()

	if CountMatches(events, MatchEvent(expected)) == 0 {
		t.Errorf("Events do not contain expected event: %+v", expected)
	}
}

// AssertStreamIdentity checks that every event belongs to stream id.
func AssertStreamIdentity[E any](t TB, events []E, id string) {
	t.Helper()

	for i, e := range events {
		if actual := fmodel.IdentityOf(e); actual != id {
			t.Errorf("Event %d (%s): expected stream %q, got %q", i, TypeName(e), id, actual)
		}
	}
}

// DiffType represents the type of difference.
type DiffType int

const (
	// DiffMissing indicates an expected event was not present.
	DiffMissing DiffType = iota
	// DiffExtra indicates an unexpected event was present.
	DiffExtra
	// DiffMismatch indicates event data did not match.
	DiffMismatch
)

// String returns a human-readable representation of the diff type.
func (d DiffType) String() string {
	switch d {
	case DiffMissing:
		return "missing"
	case DiffExtra:
		return "extra"
	case DiffMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// EventDiff is one difference between expected and actual events.
type EventDiff struct {
	Index    int
	Expected any
	Actual   any
	Type     DiffType
}

// DiffEvents compares two event slices position by position.
func DiffEvents[E any](expected, actual []E) []EventDiff {
	var diffs []EventDiff

	for i := 0; i < max(len(expected), len(actual)); i++ {
		switch {
		case i >= len(expected):
			diffs = append(diffs, EventDiff{Index: i, Actual: Unwrap(actual[i]), Type: DiffExtra})
		case i >= len(actual):
			diffs = append(diffs, EventDiff{Index: i, Expected: Unwrap(expected[i]), Type: DiffMissing})
		default:
			exp, act := Unwrap(expected[i]), Unwrap(actual[i])
			if !reflect.DeepEqual(exp, act) {
				diffs = append(diffs, EventDiff{Index: i, Expected: exp, Actual: act, Type: DiffMismatch})
			}
		}
	}

	return diffs
}

// FormatDiffs formats event diffs as a human-readable string.
func FormatDiffs(diffs []EventDiff) string {
	if len(diffs) == 0 {
		return "no differences"
	}

	var buf strings.Builder
	buf.WriteString("Event differences:\n")

	for _, diff := range diffs {
		fmt.Fprintf(&buf, "  Event %d (%s):\n", diff.Index, diff.Type)
		switch diff.Type {
		case DiffExtra:
			fmt.Fprintf(&buf, "    + %T %+v (unexpected)\n", diff.Actual, diff.Actual)
		case DiffMissing:
			fmt.Fprintf(&buf, "    - %T %+v (missing)\n", diff.Expected, diff.Expected)
		case DiffMismatch:
			fmt.Fprintf(&buf, "    - %T %+v\n", diff.Expected, diff.Expected)
			fmt.Fprintf(&buf, "    + %T %+v\n", diff.Actual, diff.Actual)
		}
	}

	return buf.String()
}

// AssertEventsEqual fails with a diff when expected and actual differ.
func AssertEventsEqual[E any](t TB, expected, actual []E) {
	t.Helper()

	if diffs := DiffEvents(expected, actual); len(diffs) > 0 {
		t.Error(FormatDiffs(diffs))
	}
}

// EventMatcher reports whether an event matches some criteria.
type EventMatcher func(event any) bool

// MatchEventType matches events of kind typeName.
func MatchEventType(typeName string) EventMatcher {
	return func(event any) bool {
		return TypeName(event) == typeName
	}
}

// MatchEvent matches events equal to expected.
func MatchEvent[T any](expected T) EventMatcher {
	return func(event any) bool {
		actual, ok := Unwrap(event).(T)
		return ok && reflect.DeepEqual(actual, expected)
	}
}

// MatchStream matches events whose identity is id.
func MatchStream(id string) EventMatcher {
	return func(event any) bool {
		return fmodel.IdentityOf(event) == id
	}
}

// MatchFinal matches events flagged as final.
func MatchFinal() EventMatcher {
	return func(event any) bool {
		f, ok := Unwrap(event).(fmodel.Fact)
		return ok && f.IsFinal()
	}
}

// AssertAnyMatch checks that at least one event matches.
func AssertAnyMatch[E any](t TB, events []E, matcher EventMatcher) {
	t.Helper()

	if CountMatches(events, matcher) == 0 {
		t.Error("No event matched the criteria")
	}
}

// AssertNoneMatch checks that no event matches.
func AssertNoneMatch[E any](t TB, events []E, matcher EventMatcher) {
	t.Helper()

	for i, event := range events {
		if matcher(event) {
			t.Errorf("Event %d unexpectedly matched: %+v", i, Unwrap(event))
		}
	}
}

// CountMatches returns the number of matching events.
func CountMatches[E any](events []E, matcher EventMatcher) int {
	count := 0
	for _, event := range events {
		if matcher(event) {
			count++
		}
	}
	return count
}

// FilterEvents returns the matching events in order.
func FilterEvents[E any](events []E, matcher EventMatcher) []E {
	var result []E
	for _, event := range events {
		if matcher(event) {
			result = append(result, event)
		}
	}
	return result
}
