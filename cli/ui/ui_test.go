package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable(t *testing.T) {
	t.Run("renders headers and rows", func(t *testing.T) {
		table := NewTable("Position", "Type")
		table.AddRow("1", "RestaurantCreatedEvent")
		table.AddRow("2", "RestaurantMenuChangedEvent")

		out := table.Render()

		assert.Equal(t, 2, table.Len())
		assert.Contains(t, out, "Position")
		assert.Contains(t, out, "RestaurantCreatedEvent")
		assert.Contains(t, out, "RestaurantMenuChangedEvent")
		assert.True(t, strings.HasPrefix(out, "┌"))
		assert.True(t, strings.HasSuffix(out, "┘"))
	})

	t.Run("pads missing cells and drops extra ones", func(t *testing.T) {
		table := NewTable("A", "B")
		table.AddRow("only")
		table.AddRow("x", "y", "ignored")

		out := table.Render()
		assert.Contains(t, out, "only")
		assert.NotContains(t, out, "ignored")
	})

	t.Run("empty headers", func(t *testing.T) {
		assert.Empty(t, NewTable().Render())
	})
}

func TestStatusBadge(t *testing.T) {
	for _, status := range []string{"done", "skipped", "conflict", "unknown"} {
		assert.Contains(t, StatusBadge(status), status)
	}
}

func TestBannerAndDivider(t *testing.T) {
	assert.Contains(t, Banner(), "fmodel")
	assert.Equal(t, 10, strings.Count(Divider(10), "─"))
}

func TestNumberedList(t *testing.T) {
	out := NumberedList([]string{"create", "order"})
	assert.Contains(t, out, "1.")
	assert.Contains(t, out, "2.")
	assert.Contains(t, out, "order")
}
