package memory

import (
	"context"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Poll returns up to limit events after the consumer's checkpoint.
// The global index doubles as the durable queue.
func (a *MemoryAdapter) Poll(ctx context.Context, consumer string, limit int) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if consumer == "" {
		return nil, adapters.ErrEmptyConsumer
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	return a.loadFrom(a.checkpoints[consumer], adapters.DefaultLimit(limit, 100)), nil
}

// Ack advances the consumer's checkpoint. Positions never move backwards.
func (a *MemoryAdapter) Ack(ctx context.Context, consumer string, position uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if consumer == "" {
		return adapters.ErrEmptyConsumer
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	if position > a.checkpoints[consumer] {
		a.checkpoints[consumer] = position
	}
	return nil
}

// Checkpoint returns the consumer's last acknowledged position.
func (a *MemoryAdapter) Checkpoint(consumer string) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.checkpoints[consumer]
}
