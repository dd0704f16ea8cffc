package fmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecider_Fold(t *testing.T) {
	d := counterDecider()

	t.Run("empty history yields initial state", func(t *testing.T) {
		assert.Equal(t, 0, d.Fold(nil))
	})

	t.Run("evolves events in order", func(t *testing.T) {
		events := []counterEvent{added{ID: "c", N: 2}, added{ID: "c", N: 5}}
		assert.Equal(t, 7, d.Fold(events))
	})
}

func TestDecider_ComputeNewEvents(t *testing.T) {
	d := switchDecider()

	t.Run("decides against initial state", func(t *testing.T) {
		events := d.ComputeNewEvents(nil, turnOn{ID: "s-1"})
		assert.Equal(t, []switchEvent{turnedOn{ID: "s-1"}}, events)
	})

	t.Run("rule violations are events", func(t *testing.T) {
		events := d.ComputeNewEvents([]switchEvent{turnedOn{ID: "s-1"}}, turnOn{ID: "s-1"})
		assert.Equal(t, []switchEvent{notTurnedOn{ID: "s-1", Reason: "already on"}}, events)
	})

	t.Run("is deterministic", func(t *testing.T) {
		history := []switchEvent{turnedOn{ID: "s-1"}}
		first := d.ComputeNewEvents(history, turnOn{ID: "s-1"})
		second := d.ComputeNewEvents(history, turnOn{ID: "s-1"})
		assert.Equal(t, first, second)
	})
}

func TestDecider_AsView(t *testing.T) {
	v := counterDecider().AsView()

	assert.Equal(t, 0, v.InitialState)
	assert.Equal(t, 3, v.Fold([]counterEvent{added{ID: "c", N: 1}, added{ID: "c", N: 2}}))
}

func TestView_Fold(t *testing.T) {
	v := View[[]string, string]{
		Evolve: func(s []string, e string) []string {
			return append(append([]string(nil), s...), e)
		},
		InitialState: []string{},
	}

	assert.Equal(t, []string{}, v.Fold(nil))
	assert.Equal(t, []string{"a", "b"}, v.Fold([]string{"a", "b"}))
	require.Empty(t, v.InitialState)
}
