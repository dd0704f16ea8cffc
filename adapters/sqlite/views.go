package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// FetchView returns the view or ErrViewNotFound.
func (a *Adapter) FetchView(ctx context.Context, viewName, viewID string) (*adapters.ViewRecord, error) {
	var (
		record    adapters.ViewRecord
		version   string
		applied   string
		position  int64
		updatedAt int64
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT view_name, view_id, data, version, applied_version, position, updated_at
		FROM fmodel_views WHERE view_name = ? AND view_id = ?`, viewName, viewID).
		Scan(&record.ViewName, &record.ViewID, &record.Data, &version, &applied, &position, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adapters.ErrViewNotFound
	}
	if err != nil {
		return nil, wrap("failed to fetch view", err)
	}

	record.Version = adapters.Version(version)
	record.AppliedVersion = adapters.Version(applied)
	record.Position = uint64(position)
	record.UpdatedAt = fromMillis(updatedAt)
	return &record, nil
}

// SaveView stores record if the current view token equals prior.
func (a *Adapter) SaveView(ctx context.Context, record adapters.ViewRecord, prior adapters.Version) (*adapters.ViewRecord, error) {
	if err := adapters.ValidateView(record); err != nil {
		return nil, err
	}

	record.Version = adapters.NewToken()
	record.UpdatedAt = fromMillis(toMillis(a.now()))
	data := record.Data
	if data == nil {
		data = []byte{}
	}

	var (
		result sql.Result
		err    error
	)
	if prior == adapters.NoVersion {
		result, err = a.db.ExecContext(ctx, `
			INSERT INTO fmodel_views (view_name, view_id, data, version, applied_version, position, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (view_name, view_id) DO NOTHING`,
			record.ViewName, record.ViewID, data, string(record.Version), string(record.AppliedVersion),
			int64(record.Position), toMillis(record.UpdatedAt))
	} else {
		result, err = a.db.ExecContext(ctx, `
			UPDATE fmodel_views
			SET data = ?, version = ?, applied_version = ?, position = ?, updated_at = ?
			WHERE view_name = ? AND view_id = ? AND version = ?`,
			data, string(record.Version), string(record.AppliedVersion),
			int64(record.Position), toMillis(record.UpdatedAt), record.ViewName, record.ViewID, string(prior))
	}
	if err != nil {
		return nil, wrap("failed to save view", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, wrap("failed to save view", err)
	}
	if affected == 0 {
		return nil, a.viewConflict(ctx, record.ViewName, record.ViewID, prior)
	}
	return &record, nil
}

func (a *Adapter) viewConflict(ctx context.Context, viewName, viewID string, prior adapters.Version) error {
	current := adapters.NoVersion
	if existing, err := a.FetchView(ctx, viewName, viewID); err == nil {
		current = existing.Version
	}
	return adapters.NewConcurrencyError(adapters.ViewKey{Name: viewName, ID: viewID}.String(), prior, current)
}
