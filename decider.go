package fmodel

// Decider is a pure command handling state machine.
//
// Decide turns a command and the current state into zero or more events.
// Evolve folds one event into the state. InitialState is the state of a
// stream that has no events. Both functions must be total and free of side
// effects; rule violations are expressed as events, not errors.
type Decider[C, E, S any] struct {
	Decide       func(command C, state S) []E
	Evolve       func(state S, event E) S
	InitialState S
}

// Fold rebuilds the state from InitialState by evolving every event in order.
func (d Decider[C, E, S]) Fold(events []E) S {
	state := d.InitialState
	for _, event := range events {
		state = d.Evolve(state, event)
	}
	return state
}

// ComputeNewEvents decides command against the state folded from events.
func (d Decider[C, E, S]) ComputeNewEvents(events []E, command C) []E {
	return d.Decide(command, d.Fold(events))
}

// AsView returns the event folding half of the decider.
func (d Decider[C, E, S]) AsView() View[S, E] {
	return View[S, E]{
		Evolve:       d.Evolve,
		InitialState: d.InitialState,
	}
}
