package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// FetchView returns the view or ErrViewNotFound.
func (a *PostgresAdapter) FetchView(ctx context.Context, viewName, viewID string) (*adapters.ViewRecord, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	var (
		record   adapters.ViewRecord
		version  string
		applied  string
		position int64
	)
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT view_name, view_id, data, version, applied_version, position, updated_at
		FROM %s WHERE view_name = $1 AND view_id = $2`, a.table("views")), viewName, viewID).Scan(
		&record.ViewName,
		&record.ViewID,
		&record.Data,
		&version,
		&applied,
		&position,
		&record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrViewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fmodel/postgres: failed to fetch view: %w", err)
	}

	record.Version = adapters.Version(version)
	record.AppliedVersion = adapters.Version(applied)
	record.Position = uint64(position)
	return &record, nil
}

// SaveView stores record if the current view token equals prior.
func (a *PostgresAdapter) SaveView(ctx context.Context, record adapters.ViewRecord, prior adapters.Version) (*adapters.ViewRecord, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if err := adapters.ValidateView(record); err != nil {
		return nil, err
	}

	record.Version = adapters.NewToken()
	data := record.Data
	if data == nil {
		data = []byte{}
	}

	var row *sql.Row
	if prior == adapters.NoVersion {
		row = a.db.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (view_name, view_id, data, version, applied_version, position)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (view_name, view_id) DO NOTHING
			RETURNING updated_at`, a.table("views")),
			record.ViewName, record.ViewID, data, string(record.Version), string(record.AppliedVersion), int64(record.Position))
	} else {
		row = a.db.QueryRowContext(ctx, fmt.Sprintf(`
			UPDATE %s
			SET data = $3, version = $4, applied_version = $5, position = $6, updated_at = NOW()
			WHERE view_name = $1 AND view_id = $2 AND version = $7
			RETURNING updated_at`, a.table("views")),
			record.ViewName, record.ViewID, data, string(record.Version), string(record.AppliedVersion), int64(record.Position), string(prior))
	}

	err := row.Scan(&record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, a.viewConflict(ctx, record.ViewName, record.ViewID, prior)
	}
	if err != nil {
		return nil, fmt.Errorf("fmodel/postgres: failed to save view: %w", err)
	}
	return &record, nil
}

func (a *PostgresAdapter) viewConflict(ctx context.Context, viewName, viewID string, prior adapters.Version) error {
	current := adapters.NoVersion
	if existing, err := a.FetchView(ctx, viewName, viewID); err == nil {
		current = existing.Version
	}
	return adapters.NewConcurrencyError(adapters.ViewKey{Name: viewName, ID: viewID}.String(), prior, current)
}
