package spec

import (
	"strings"
	"testing"

	"github.com/AshkanYarmoradi/go-fmodel"
	"github.com/AshkanYarmoradi/go-fmodel/testing/testutil"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Test Domain
// =============================================================================

type increment struct{ By int }

type incremented struct{ By int }

type rejected struct{ Reason string }

func counterDecider() fmodel.Decider[increment, any, int] {
	return fmodel.Decider[increment, any, int]{
		Decide: func(c increment, total int) []any {
			if c.By <= 0 {
				return []any{rejected{Reason: "non-positive"}}
			}
			if c.By == 100 {
				return nil
			}
			return []any{incremented{By: c.By}}
		},
		Evolve: func(total int, e any) int {
			if inc, ok := e.(incremented); ok {
				return total + inc.By
			}
			return total
		},
	}
}

// =============================================================================
// Decider Specification Tests
// =============================================================================

func TestDeciderSpecification_Then(t *testing.T) {
	t.Run("passes on matching events", func(t *testing.T) {
		ForDecider(t, counterDecider()).
			Given(incremented{By: 2}).
			When(increment{By: 3}).
			Then(incremented{By: 3})
	})

	t.Run("fails on count mismatch", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(mt *testutil.MockT) {
			ForDecider(mt, counterDecider()).
				When(increment{By: 3}).
				Then(incremented{By: 3}, incremented{By: 3})
		})

		assert.True(t, mt.Fatal_)
		assert.True(t, strings.HasPrefix(mt.Message, "Expected %d events"))
	})

	t.Run("fails on event mismatch", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(mt *testutil.MockT) {
			ForDecider(mt, counterDecider()).
				When(increment{By: -1}).
				Then(rejected{Reason: "other"})
		})

		assert.True(t, mt.Failed_)
		assert.False(t, mt.Fatal_)
		assert.Contains(t, mt.Message, "mismatch")
	})

	t.Run("fails without When", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(mt *testutil.MockT) {
			ForDecider(mt, counterDecider()).Then(incremented{By: 1})
		})

		assert.True(t, mt.Fatal_)
		assert.Contains(t, mt.Message, "must be called after When()")
	})
}

func TestDeciderSpecification_ThenNoEvents(t *testing.T) {
	t.Run("passes when nothing is decided", func(t *testing.T) {
		ForDecider(t, counterDecider()).
			When(increment{By: 100}).
			ThenNoEvents()
	})

	t.Run("fails when events are decided", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(mt *testutil.MockT) {
			ForDecider(mt, counterDecider()).
				When(increment{By: 1}).
				ThenNoEvents()
		})

		assert.True(t, mt.Failed_)
	})
}

func TestDeciderSpecification_ThenState(t *testing.T) {
	ForDecider(t, counterDecider()).
		Given(incremented{By: 2}, rejected{}, incremented{By: 5}).
		When(increment{By: 3}).
		ThenState(10)

	mt := testutil.RunWithMockT(func(mt *testutil.MockT) {
		ForDecider(mt, counterDecider()).
			When(increment{By: 3}).
			ThenState(4)
	})
	assert.True(t, mt.Failed_)
}

func TestDeciderSpecification_Deterministic(t *testing.T) {
	calls := 0
	decider := counterDecider()
	decider.Decide = func(c increment, total int) []any {
		calls++
		return []any{incremented{By: calls}}
	}

	mt := testutil.RunWithMockT(func(mt *testutil.MockT) {
		ForDecider(mt, decider).When(increment{By: 1})
	})

	assert.True(t, mt.Failed_)
	assert.Contains(t, mt.Message, "not deterministic")
}

func TestDeciderSpecification_Events(t *testing.T) {
	s := ForDecider(t, counterDecider()).When(increment{By: 4})
	assert.Equal(t, []any{incremented{By: 4}}, s.Events())
}

// =============================================================================
// View Specification Tests
// =============================================================================

func TestViewSpecification(t *testing.T) {
	view := counterDecider().AsView()

	t.Run("passes on matching state", func(t *testing.T) {
		ForView(t, view).
			Given(incremented{By: 1}).
			Given(incremented{By: 2}).
			Then(3)
	})

	t.Run("initial state without events", func(t *testing.T) {
		ForView(t, view).Then(0)
	})

	t.Run("fails on state mismatch", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(mt *testutil.MockT) {
			ForView(mt, view).Given(incremented{By: 1}).Then(2)
		})

		assert.True(t, mt.Failed_)
		assert.Contains(t, mt.Message, "View state mismatch")
	})
}
