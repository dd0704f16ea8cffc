package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Poll returns up to limit events after the consumer's checkpoint.
func (a *Adapter) Poll(ctx context.Context, consumer string, limit int) ([]adapters.StoredEvent, error) {
	if consumer == "" {
		return nil, adapters.ErrEmptyConsumer
	}

	position, err := a.Checkpoint(ctx, consumer)
	if err != nil {
		return nil, err
	}
	return a.LoadFromPosition(ctx, position, adapters.DefaultLimit(limit, 100))
}

// Ack advances the consumer's checkpoint. Positions never move backwards.
func (a *Adapter) Ack(ctx context.Context, consumer string, position uint64) error {
	if consumer == "" {
		return adapters.ErrEmptyConsumer
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO fmodel_checkpoints (consumer, position, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (consumer) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at
		WHERE excluded.position > fmodel_checkpoints.position`,
		consumer, int64(position), toMillis(a.now()))
	if err != nil {
		return wrap("failed to acknowledge", err)
	}
	return nil
}

// Checkpoint returns the consumer's last acknowledged position.
func (a *Adapter) Checkpoint(ctx context.Context, consumer string) (uint64, error) {
	var position int64
	err := a.db.QueryRowContext(ctx, `SELECT position FROM fmodel_checkpoints WHERE consumer = ?`, consumer).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("failed to read checkpoint", err)
	}
	return uint64(position), nil
}
