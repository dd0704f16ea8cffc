package fmodel

// Combine merges two deciders into one operating on the union of their
// commands and events and the product of their states.
//
// Decide routes a command by its tag to exactly one constituent, passing only
// that constituent's slice of the state. Evolve updates only the slice owned
// by the event's tag and leaves the other slice unchanged.
func Combine[C1, E1, S1, C2, E2, S2 any](
	a Decider[C1, E1, S1],
	b Decider[C2, E2, S2],
) Decider[Sum[C1, C2], Sum[E1, E2], Pair[S1, S2]] {
	return Decider[Sum[C1, C2], Sum[E1, E2], Pair[S1, S2]]{
		Decide: func(command Sum[C1, C2], state Pair[S1, S2]) []Sum[E1, E2] {
			if c, ok := command.LeftValue(); ok {
				return mapEvents(a.Decide(c, state.First), Left[E1, E2])
			}
			c, _ := command.RightValue()
			return mapEvents(b.Decide(c, state.Second), Right[E1, E2])
		},
		Evolve: func(state Pair[S1, S2], event Sum[E1, E2]) Pair[S1, S2] {
			return evolvePair(state, event, a.Evolve, b.Evolve)
		},
		InitialState: MakePair(a.InitialState, b.InitialState),
	}
}

// CombineViews merges two views into one over the union of their events
// and the product of their states.
func CombineViews[S1, E1, S2, E2 any](
	a View[S1, E1],
	b View[S2, E2],
) View[Pair[S1, S2], Sum[E1, E2]] {
	return View[Pair[S1, S2], Sum[E1, E2]]{
		Evolve: func(state Pair[S1, S2], event Sum[E1, E2]) Pair[S1, S2] {
			return evolvePair(state, event, a.Evolve, b.Evolve)
		},
		InitialState: MakePair(a.InitialState, b.InitialState),
	}
}

func evolvePair[S1, E1, S2, E2 any](
	state Pair[S1, S2],
	event Sum[E1, E2],
	left func(S1, E1) S1,
	right func(S2, E2) S2,
) Pair[S1, S2] {
	if e, ok := event.LeftValue(); ok {
		return Pair[S1, S2]{First: left(state.First, e), Second: state.Second}
	}
	e, _ := event.RightValue()
	return Pair[S1, S2]{First: state.First, Second: right(state.Second, e)}
}

func mapEvents[E, T any](events []E, tag func(E) T) []T {
	out := make([]T, 0, len(events))
	for _, event := range events {
		out = append(out, tag(event))
	}
	return out
}
