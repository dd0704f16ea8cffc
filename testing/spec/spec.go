// Package spec provides Given-When-Then specifications for deciders and views.
//
//	spec.ForDecider(t, decider).
//	    Given(RestaurantCreatedEvent{...}).
//	    When(CreateRestaurantCommand{...}).
//	    Then(RestaurantNotCreatedEvent{...})
//
//	spec.ForView(t, view).
//	    Given(RestaurantCreatedEvent{...}).
//	    Then(&RestaurantView{...})
package spec

import (
	"reflect"
	"testing"

	"github.com/AshkanYarmoradi/go-fmodel"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// DeciderSpecification checks the events a decider produces for a command
// given a history of events.
type DeciderSpecification[C, E, S any] struct {
	t        TB
	decider  fmodel.Decider[C, E, S]
	given    []E
	result   []E
	executed bool
}

// ForDecider starts a specification for decider.
func ForDecider[C, E, S any](t TB, decider fmodel.Decider[C, E, S]) *DeciderSpecification[C, E, S] {
	t.Helper()
	return &DeciderSpecification[C, E, S]{t: t, decider: decider}
}

// Given sets the stream history the command is decided against.
func (s *DeciderSpecification[C, E, S]) Given(events ...E) *DeciderSpecification[C, E, S] {
	s.t.Helper()
	s.given = append(s.given, events...)
	return s
}

// When decides command against the state folded from the given events.
// The decision is made twice; differing results fail the test because
// decide must be deterministic.
func (s *DeciderSpecification[C, E, S]) When(command C) *DeciderSpecification[C, E, S] {
	s.t.Helper()

	first := s.decider.ComputeNewEvents(s.given, command)
	second := s.decider.ComputeNewEvents(s.given, command)
	if !reflect.DeepEqual(first, second) {
		s.t.Errorf("spec: decide is not deterministic:\nFirst: %+v\nSecond: %+v", first, second)
	}

	s.result = first
	s.executed = true
	return s
}

// Then asserts that the decision produced exactly the expected events.
func (s *DeciderSpecification[C, E, S]) Then(expected ...E) {
	s.t.Helper()

	if !s.executed {
		s.t.Fatal("spec: Then() must be called after When() - no command was decided")
	}

	if len(s.result) != len(expected) {
		s.t.Fatalf("Expected %d events, got %d.\nExpected: %+v\nActual: %+v",
			len(expected), len(s.result), expected, s.result)
	}

	for i := range expected {
		if !reflect.DeepEqual(s.result[i], expected[i]) {
			s.t.Errorf("Event %d mismatch:\nExpected: %+v\nActual: %+v",
				i, expected[i], s.result[i])
		}
	}
}

// ThenNoEvents asserts that the decision produced no events.
func (s *DeciderSpecification[C, E, S]) ThenNoEvents() {
	s.t.Helper()

	if !s.executed {
		s.t.Fatal("spec: ThenNoEvents() must be called after When() - no command was decided")
	}

	if len(s.result) > 0 {
		s.t.Errorf("Expected no events, got %d: %+v", len(s.result), s.result)
	}
}

// ThenState asserts the state folded from the given and the produced events.
func (s *DeciderSpecification[C, E, S]) ThenState(expected S) {
	s.t.Helper()

	if !s.executed {
		s.t.Fatal("spec: ThenState() must be called after When() - no command was decided")
	}

	history := make([]E, 0, len(s.given)+len(s.result))
	history = append(history, s.given...)
	history = append(history, s.result...)

	actual := s.decider.Fold(history)
	if !reflect.DeepEqual(actual, expected) {
		s.t.Errorf("State mismatch:\nExpected: %+v\nActual: %+v", expected, actual)
	}
}

// Events returns the produced events.
func (s *DeciderSpecification[C, E, S]) Events() []E {
	return s.result
}

// ViewSpecification checks the state a view folds from events.
type ViewSpecification[S, E any] struct {
	t     TB
	view  fmodel.View[S, E]
	given []E
}

// ForView starts a specification for view.
func ForView[S, E any](t TB, view fmodel.View[S, E]) *ViewSpecification[S, E] {
	t.Helper()
	return &ViewSpecification[S, E]{t: t, view: view}
}

// Given appends events to fold.
func (s *ViewSpecification[S, E]) Given(events ...E) *ViewSpecification[S, E] {
	s.t.Helper()
	s.given = append(s.given, events...)
	return s
}

// Then asserts the state folded from the given events.
func (s *ViewSpecification[S, E]) Then(expected S) {
	s.t.Helper()

	actual := s.view.Fold(s.given)
	if !reflect.DeepEqual(actual, expected) {
		s.t.Errorf("View state mismatch:\nExpected: %+v\nActual: %+v", expected, actual)
	}
}
