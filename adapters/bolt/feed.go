package bolt

import (
	"context"
	"encoding/binary"

	"go.etcd.io/bbolt"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// Poll returns up to limit events after the consumer's checkpoint.
func (a *Adapter) Poll(ctx context.Context, consumer string, limit int) ([]adapters.StoredEvent, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}
	if consumer == "" {
		return nil, adapters.ErrEmptyConsumer
	}

	var events []adapters.StoredEvent
	err := a.db.View(func(tx *bbolt.Tx) error {
		var err error
		events, err = loadFrom(tx, checkpoint(tx, consumer), adapters.DefaultLimit(limit, 100))
		return err
	})
	return events, err
}

// Ack advances the consumer's checkpoint. Positions never move backwards.
func (a *Adapter) Ack(ctx context.Context, consumer string, position uint64) error {
	if err := a.check(ctx); err != nil {
		return err
	}
	if consumer == "" {
		return adapters.ErrEmptyConsumer
	}

	return a.db.Update(func(tx *bbolt.Tx) error {
		if position <= checkpoint(tx, consumer) {
			return nil
		}
		return tx.Bucket(bucketCheckpoints).Put([]byte(consumer), positionKey(position))
	})
}

// Checkpoint returns the consumer's last acknowledged position.
func (a *Adapter) Checkpoint(ctx context.Context, consumer string) (uint64, error) {
	if err := a.check(ctx); err != nil {
		return 0, err
	}

	var position uint64
	err := a.db.View(func(tx *bbolt.Tx) error {
		position = checkpoint(tx, consumer)
		return nil
	})
	return position, err
}

func checkpoint(tx *bbolt.Tx, consumer string) uint64 {
	v := tx.Bucket(bucketCheckpoints).Get([]byte(consumer))
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}
