// Package postgres provides a PostgreSQL implementation of the event store,
// view store and feed adapters.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

// Sentinel errors for the postgres adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrAdapterClosed       = adapters.ErrAdapterClosed
	ErrEmptyStreamID       = adapters.ErrEmptyStreamID
	ErrNoEvents            = adapters.ErrNoEvents
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrViewNotFound        = adapters.ErrViewNotFound
)

// Ensure PostgresAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter   = (*PostgresAdapter)(nil)
	_ adapters.GlobalLogAdapter    = (*PostgresAdapter)(nil)
	_ adapters.CommandIndexAdapter = (*PostgresAdapter)(nil)
	_ adapters.ViewStoreAdapter    = (*PostgresAdapter)(nil)
	_ adapters.FeedAdapter         = (*PostgresAdapter)(nil)
	_ adapters.HealthChecker       = (*PostgresAdapter)(nil)
)

// PostgresAdapter is a PostgreSQL implementation of EventStoreAdapter.
//
// Appends serialize on one transaction-scoped advisory lock per schema, so
// global positions become visible to feed readers in commit order.
type PostgresAdapter struct {
	db     *sql.DB
	schema string
	closed atomic.Bool
}

// Option configures a PostgresAdapter.
type Option func(*PostgresAdapter)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(a *PostgresAdapter) {
		a.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *PostgresAdapter) {
		a.db.SetConnMaxLifetime(d)
	}
}

// NewAdapter creates a new PostgreSQL adapter.
func NewAdapter(connStr string, opts ...Option) (*PostgresAdapter, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("fmodel/postgres: failed to open database: %w", err)
	}

	return NewAdapterWithDB(db, opts...), nil
}

// NewAdapterWithDB creates a new adapter with an existing database connection.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *PostgresAdapter {
	adapter := &PostgresAdapter{
		db:     db,
		schema: "fmodel",
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// table returns the quoted, schema-qualified name of table.
func (a *PostgresAdapter) table(name string) string {
	return pq.QuoteIdentifier(a.schema) + "." + pq.QuoteIdentifier(name)
}

// Initialize creates the required database schema and tables.
func (a *PostgresAdapter) Initialize(ctx context.Context) error {
	return a.Migrate(ctx)
}

// Migrate runs database migrations.
func (a *PostgresAdapter) Migrate(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}

	statements := []struct {
		what string
		sql  string
	}{
		{"schema", fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(a.schema))},
		{"events table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				global_position BIGSERIAL PRIMARY KEY,
				event_id        TEXT NOT NULL UNIQUE,
				stream_id       TEXT NOT NULL,
				decider         TEXT NOT NULL,
				event_type      TEXT NOT NULL,
				schema_version  INTEGER NOT NULL,
				final           BOOLEAN NOT NULL DEFAULT FALSE,
				data            BYTEA NOT NULL,
				command_id      TEXT NOT NULL DEFAULT '',
				version         TEXT NOT NULL,
				timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.table("events"))},
		{"streams table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				stream_id  TEXT PRIMARY KEY,
				version    TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.table("streams"))},
		{"views table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				view_name       TEXT NOT NULL,
				view_id         TEXT NOT NULL,
				data            BYTEA NOT NULL,
				version         TEXT NOT NULL,
				applied_version TEXT NOT NULL DEFAULT '',
				position        BIGINT NOT NULL DEFAULT 0,
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (view_name, view_id)
			)`, a.table("views"))},
		{"checkpoints table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				consumer   TEXT PRIMARY KEY,
				position   BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.table("checkpoints"))},
		{"index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_stream ON %s (stream_id, global_position)`, a.table("events"))},
		{"index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_command ON %s (command_id, global_position)`, a.table("events"))},
		{"index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON %s (timestamp)`, a.table("events"))},
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("fmodel/postgres: failed to create %s: %w", stmt.what, err)
		}
	}
	return nil
}

// MigrationVersion returns 1 when the tables exist and 0 otherwise.
func (a *PostgresAdapter) MigrationVersion(ctx context.Context) (int, error) {
	var exists bool
	err := a.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = 'events'
		)`, a.schema).Scan(&exists)
	if err != nil {
		return 0, err
	}

	if exists {
		return 1, nil
	}
	return 0, nil
}

// Append stores events to the specified stream with optimistic concurrency control.
func (a *PostgresAdapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, commandID string, expected adapters.Version) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if err := adapters.ValidateAppend(streamID, events); err != nil {
		return nil, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fmodel/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, a.schema+".append"); err != nil {
		return nil, fmt.Errorf("fmodel/postgres: failed to lock: %w", err)
	}

	var current string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT version FROM %s WHERE stream_id = $1`, a.table("streams")), streamID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fmodel/postgres: failed to get stream version: %w", err)
	}

	if err := adapters.CheckVersion(streamID, expected, adapters.Version(current)); err != nil {
		return nil, err
	}

	ids := make([]string, len(events))
	var version string
	for i, event := range events {
		ids[i] = adapters.NewEventID()
		version = ids[i]

		data := event.Data
		if data == nil {
			data = []byte{}
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (event_id, stream_id, decider, event_type, schema_version, final, data, command_id, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, a.table("events")),
			ids[i], streamID, event.Decider, event.Type, event.SchemaVersion, event.Final, data, commandID, version,
		)
		if err != nil {
			return nil, fmt.Errorf("fmodel/postgres: failed to insert event: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (stream_id, version) VALUES ($1, $2)
		ON CONFLICT (stream_id) DO UPDATE SET
			version = EXCLUDED.version,
			updated_at = NOW()`, a.table("streams")), streamID, version)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, adapters.NewConcurrencyError(streamID, expected, adapters.NoVersion)
		}
		return nil, fmt.Errorf("fmodel/postgres: failed to update stream version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, adapters.NewConcurrencyError(streamID, expected, adapters.NoVersion)
		}
		return nil, fmt.Errorf("fmodel/postgres: failed to commit transaction: %w", err)
	}

	return a.readBack(ctx, streamID, ids)
}

func (a *PostgresAdapter) readBack(ctx context.Context, streamID string, ids []string) ([]adapters.StoredEvent, error) {
	stored, err := a.query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE event_id = ANY($1)
		ORDER BY global_position`, eventColumns, a.table("events")), ids)
	if err != nil {
		return nil, err
	}

	for i, id := range ids {
		if i >= len(stored) || stored[i].ID != id {
			return nil, &adapters.InconsistencyError{StreamID: streamID, EventID: id}
		}
	}
	return stored, nil
}

const eventColumns = `global_position, event_id, stream_id, decider, event_type, schema_version, final, data, command_id, version, timestamp`

// Fetch retrieves all events of a stream in append order.
func (a *PostgresAdapter) Fetch(ctx context.Context, streamID string) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if streamID == "" {
		return nil, ErrEmptyStreamID
	}

	return a.query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE stream_id = $1
		ORDER BY global_position`, eventColumns, a.table("events")), streamID)
}

// CurrentVersion returns the stream token, or NoVersion for an unknown stream.
func (a *PostgresAdapter) CurrentVersion(ctx context.Context, streamID string) (adapters.Version, error) {
	if a.closed.Load() {
		return adapters.NoVersion, ErrAdapterClosed
	}

	var version string
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT version FROM %s WHERE stream_id = $1`, a.table("streams")), streamID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return adapters.NoVersion, nil
	}
	if err != nil {
		return adapters.NoVersion, fmt.Errorf("fmodel/postgres: failed to get stream version: %w", err)
	}
	return adapters.Version(version), nil
}

// LoadByCommand returns the events appended for commandID.
func (a *PostgresAdapter) LoadByCommand(ctx context.Context, commandID string) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if commandID == "" {
		return []adapters.StoredEvent{}, nil
	}

	return a.query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE command_id = $1
		ORDER BY global_position`, eventColumns, a.table("events")), commandID)
}

// LoadFromPosition loads events with a global position greater than fromPosition.
func (a *PostgresAdapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	return a.query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE global_position > $1
		ORDER BY global_position
		LIMIT $2`, eventColumns, a.table("events")), int64(fromPosition), adapters.DefaultLimit(limit, 1000))
}

// GetLastPosition returns the global position of the last stored event.
func (a *PostgresAdapter) GetLastPosition(ctx context.Context) (uint64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	var pos sql.NullInt64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(global_position) FROM %s`, a.table("events"))).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("fmodel/postgres: failed to get last position: %w", err)
	}

	if pos.Valid {
		return uint64(pos.Int64), nil
	}
	return 0, nil
}

// Close releases the database connection.
func (a *PostgresAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.db.Close()
}

// Ping checks database connectivity.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// DB returns the underlying database connection.
func (a *PostgresAdapter) DB() *sql.DB {
	return a.db
}

// Schema returns the schema name.
func (a *PostgresAdapter) Schema() string {
	return a.schema
}

func (a *PostgresAdapter) query(ctx context.Context, query string, args ...any) ([]adapters.StoredEvent, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fmodel/postgres: failed to load events: %w", err)
	}
	defer rows.Close()

	events := make([]adapters.StoredEvent, 0)
	for rows.Next() {
		var (
			event    adapters.StoredEvent
			position int64
			version  string
		)
		err := rows.Scan(
			&position,
			&event.ID,
			&event.StreamID,
			&event.Decider,
			&event.Type,
			&event.SchemaVersion,
			&event.Final,
			&event.Data,
			&event.CommandID,
			&version,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("fmodel/postgres: failed to scan event: %w", err)
		}
		event.GlobalPosition = uint64(position)
		event.Version = adapters.Version(version)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fmodel/postgres: error iterating events: %w", err)
	}

	return events, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
