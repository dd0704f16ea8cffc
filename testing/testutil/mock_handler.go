package testutil

import (
	"context"
	"sync"

	"github.com/AshkanYarmoradi/go-fmodel"
)

// MockHandler is an fmodel.EventHandler that records what it is given and
// can be told to fail.
type MockHandler struct {
	HandlerName string

	mu       sync.Mutex
	events   []fmodel.StoredEvent
	failAt   map[uint64]int
	failErr  error
	attempts int
}

// NewMockHandler returns a handler named name.
func NewMockHandler(name string) *MockHandler {
	return &MockHandler{HandlerName: name, failAt: make(map[uint64]int)}
}

// Name implements fmodel.EventHandler.
func (h *MockHandler) Name() string { return h.HandlerName }

// FailAt makes the handler return err for the event at position, times
// times in a row. The following attempt succeeds.
func (h *MockHandler) FailAt(position uint64, times int, err error) *MockHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failAt[position] = times
	h.failErr = err
	return h
}

// HandleEvent implements fmodel.EventHandler.
func (h *MockHandler) HandleEvent(ctx context.Context, event fmodel.StoredEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts++
	if n := h.failAt[event.GlobalPosition]; n > 0 {
		h.failAt[event.GlobalPosition] = n - 1
		return h.failErr
	}
	h.events = append(h.events, event)
	return nil
}

// Events returns the events handled successfully, in order.
func (h *MockHandler) Events() []fmodel.StoredEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]fmodel.StoredEvent(nil), h.events...)
}

// Positions returns the global positions of the handled events.
func (h *MockHandler) Positions() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, len(h.events))
	for i, e := range h.events {
		out[i] = e.GlobalPosition
	}
	return out
}

// Attempts returns the number of HandleEvent calls, failed ones included.
func (h *MockHandler) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}
