package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Poll returns up to limit events after the consumer's checkpoint.
func (a *PostgresAdapter) Poll(ctx context.Context, consumer string, limit int) ([]adapters.StoredEvent, error) {
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
func (a *PostgresAdapter) Ack(ctx context.Context, consumer string, position uint64) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}

	if consumer == "" {
		return adapters.ErrEmptyConsumer
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (consumer, position)
		VALUES ($1, $2)
		ON CONFLICT (consumer) DO UPDATE SET
			position = GREATEST(%[1]s.position, EXCLUDED.position),
			updated_at = NOW()`, a.table("checkpoints")), consumer, int64(position))
	if err != nil {
		return fmt.Errorf("fmodel/postgres: failed to set checkpoint: %w", err)
	}

	return nil
}

// Checkpoint returns the last acknowledged position for a consumer.
func (a *PostgresAdapter) Checkpoint(ctx context.Context, consumer string) (uint64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	var pos int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT position FROM %s
		WHERE consumer = $1`, a.table("checkpoints")), consumer).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("fmodel/postgres: failed to get checkpoint: %w", err)
	}

	return uint64(pos), nil
}
