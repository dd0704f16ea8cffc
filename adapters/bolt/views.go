package bolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// FetchView returns the view or ErrViewNotFound.
func (a *Adapter) FetchView(ctx context.Context, viewName, viewID string) (*adapters.ViewRecord, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}

	var record *adapters.ViewRecord
	err := a.db.View(func(tx *bbolt.Tx) error {
		var err error
		record, err = getView(tx, viewName, viewID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, adapters.ErrViewNotFound
	}
	return record, nil
}

// SaveView stores record if the current view token equals prior.
func (a *Adapter) SaveView(ctx context.Context, record adapters.ViewRecord, prior adapters.Version) (*adapters.ViewRecord, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}
	if err := adapters.ValidateView(record); err != nil {
		return nil, err
	}

	err := a.db.Update(func(tx *bbolt.Tx) error {
		existing, err := getView(tx, record.ViewName, record.ViewID)
		if err != nil {
			return err
		}
		current := adapters.NoVersion
		if existing != nil {
			current = existing.Version
		}
		key := adapters.ViewKey{Name: record.ViewName, ID: record.ViewID}
		if err := adapters.CheckVersion(key.String(), prior, current); err != nil {
			return err
		}

		record.Version = adapters.NewToken()
		record.UpdatedAt = a.now()
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("fmodel/bolt: failed to encode view: %w", err)
		}
		views, err := tx.Bucket(bucketViews).CreateBucketIfNotExists([]byte(record.ViewName))
		if err != nil {
			return fmt.Errorf("fmodel/bolt: failed to create view bucket %q: %w", record.ViewName, err)
		}
		return views.Put([]byte(record.ViewID), payload)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// getView reads viewID from the nested bucket of viewName.
func getView(tx *bbolt.Tx, viewName, viewID string) (*adapters.ViewRecord, error) {
	views := tx.Bucket(bucketViews).Bucket([]byte(viewName))
	if views == nil {
		return nil, nil
	}
	payload := views.Get([]byte(viewID))
	if payload == nil {
		return nil, nil
	}
	var record adapters.ViewRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("fmodel/bolt: failed to decode view %s/%s: %w", viewName, viewID, err)
	}
	return &record, nil
}
