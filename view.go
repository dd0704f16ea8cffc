package fmodel

// View is a pure event projection state machine.
// It has no command handling and is used to build read models.
type View[S, E any] struct {
	Evolve       func(state S, event E) S
	InitialState S
}

// Fold rebuilds the state from InitialState by evolving every event in order.
func (v View[S, E]) Fold(events []E) S {
	state := v.InitialState
	for _, event := range events {
		state = v.Evolve(state, event)
	}
	return state
}
