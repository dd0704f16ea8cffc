package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinnerModel(t *testing.T) {
	t.Run("shows the message while running", func(t *testing.T) {
		m := NewSpinner("Opening store...")

		assert.NotNil(t, m.Init())
		assert.Contains(t, m.View(), "Opening store...")
	})

	t.Run("done message quits with the result", func(t *testing.T) {
		model, cmd := NewSpinner("Opening store...").Update(SpinnerDoneMsg{Result: "bolt store is initialized"})

		require.NotNil(t, cmd)
		assert.Equal(t, tea.Quit(), cmd())
		assert.Contains(t, model.View(), "bolt store is initialized")
	})

	t.Run("failed work renders the error line", func(t *testing.T) {
		model, _ := NewSpinner("Opening store...").Update(SpinnerDoneMsg{Result: "connection refused", Err: errors.New("connection refused")})

		assert.Contains(t, model.View(), "connection refused")
	})

	t.Run("escape cancels", func(t *testing.T) {
		model, cmd := NewSpinner("Opening store...").Update(tea.KeyMsg{Type: tea.KeyEsc})

		require.NotNil(t, cmd)
		assert.Contains(t, model.View(), "Cancelled")
	})
}

func TestSpin_WithoutTerminal(t *testing.T) {
	var out bytes.Buffer
	assert.False(t, IsTerminal(&out))

	t.Run("runs the work silently", func(t *testing.T) {
		calls := 0
		err := Spin(context.Background(), &out, "Working...", func(context.Context) (string, error) {
			calls++
			return "done", nil
		})

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, out.String())
	})

	t.Run("returns the work error", func(t *testing.T) {
		boom := errors.New("boom")
		err := Spin(context.Background(), &out, "Working...", func(context.Context) (string, error) {
			return "", boom
		})

		assert.ErrorIs(t, err, boom)
	})
}
