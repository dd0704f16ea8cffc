// Package sqlite provides an embedded event store, view store and feed backed
// by modernc.org/sqlite.
//
// Writers take the database lock when their transaction begins
// (_txlock=immediate), so the version check and the inserts of one append
// cannot interleave with another writer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

var (
	_ adapters.EventStoreAdapter   = (*Adapter)(nil)
	_ adapters.GlobalLogAdapter    = (*Adapter)(nil)
	_ adapters.CommandIndexAdapter = (*Adapter)(nil)
	_ adapters.ViewStoreAdapter    = (*Adapter)(nil)
	_ adapters.FeedAdapter         = (*Adapter)(nil)
	_ adapters.HealthChecker       = (*Adapter)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS fmodel_events (
	global_position INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT    NOT NULL UNIQUE,
	stream_id       TEXT    NOT NULL,
	decider         TEXT    NOT NULL,
	type            TEXT    NOT NULL,
	schema_version  INTEGER NOT NULL,
	final           INTEGER NOT NULL DEFAULT 0,
	data            BLOB    NOT NULL,
	command_id      TEXT    NOT NULL DEFAULT '',
	version         TEXT    NOT NULL,
	timestamp       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fmodel_events_stream ON fmodel_events (stream_id, global_position);
CREATE INDEX IF NOT EXISTS idx_fmodel_events_command ON fmodel_events (command_id, global_position);

CREATE TABLE IF NOT EXISTS fmodel_streams (
	stream_id TEXT PRIMARY KEY,
	version   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fmodel_views (
	view_name       TEXT    NOT NULL,
	view_id         TEXT    NOT NULL,
	data            BLOB    NOT NULL,
	version         TEXT    NOT NULL,
	applied_version TEXT    NOT NULL DEFAULT '',
	position        INTEGER NOT NULL DEFAULT 0,
	updated_at      INTEGER NOT NULL,
	PRIMARY KEY (view_name, view_id)
);

CREATE TABLE IF NOT EXISTS fmodel_checkpoints (
	consumer   TEXT    PRIMARY KEY,
	position   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const eventColumns = `id, stream_id, decider, type, schema_version, final, data, command_id, version, global_position, timestamp`

// Adapter is a SQLite-backed adapter.
type Adapter struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// Open opens the database at path and applies the schema.
func Open(path string, opts ...Option) (*Adapter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("fmodel/sqlite: storage path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("fmodel/sqlite: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fmodel/sqlite: failed to ping database: %w", err)
	}

	a := &Adapter{db: db, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.Initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// Initialize creates the tables if they do not exist.
func (a *Adapter) Initialize(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return wrap("failed to apply schema", err)
	}
	return nil
}

// DB returns the underlying database handle.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Append stores events to the stream if its token equals expected.
func (a *Adapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, commandID string, expected adapters.Version) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := adapters.ValidateAppend(streamID, events); err != nil {
		return nil, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT version FROM fmodel_streams WHERE stream_id = ?`, streamID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("failed to read stream version", err)
	}
	if err := adapters.CheckVersion(streamID, expected, adapters.Version(current)); err != nil {
		return nil, err
	}

	now := toMillis(a.now())
	ids := make([]string, len(events))
	var version string
	for i, record := range events {
		ids[i] = adapters.NewEventID()
		version = ids[i]

		data := record.Data
		if data == nil {
			data = []byte{}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fmodel_events (id, stream_id, decider, type, schema_version, final, data, command_id, version, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ids[i], streamID, record.Decider, record.Type, record.SchemaVersion, record.Final, data, commandID, version, now)
		if err != nil {
			return nil, wrap("failed to insert event", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fmodel_streams (stream_id, version) VALUES (?, ?)
		ON CONFLICT (stream_id) DO UPDATE SET version = excluded.version`,
		streamID, version)
	if err != nil {
		return nil, wrap("failed to update stream version", err)
	}

	if err := tx.Commit(); err != nil {
		if isConstraintError(err) {
			return nil, adapters.NewConcurrencyError(streamID, expected, adapters.NoVersion)
		}
		return nil, wrap("failed to commit", err)
	}

	return a.readBack(ctx, streamID, ids)
}

func (a *Adapter) readBack(ctx context.Context, streamID string, ids []string) ([]adapters.StoredEvent, error) {
	stored := make([]adapters.StoredEvent, len(ids))
	for i, id := range ids {
		event, err := scanEvent(a.db.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM fmodel_events WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &adapters.InconsistencyError{StreamID: streamID, EventID: id}
		}
		if err != nil {
			return nil, wrap("failed to read back event", err)
		}
		stored[i] = event
	}
	return stored, nil
}

// Fetch retrieves all events of a stream in append order.
func (a *Adapter) Fetch(ctx context.Context, streamID string) ([]adapters.StoredEvent, error) {
	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}
	return a.query(ctx, `SELECT `+eventColumns+` FROM fmodel_events
		WHERE stream_id = ? ORDER BY global_position`, streamID)
}

// CurrentVersion returns the stream token, or NoVersion for an unknown stream.
func (a *Adapter) CurrentVersion(ctx context.Context, streamID string) (adapters.Version, error) {
	var version string
	err := a.db.QueryRowContext(ctx, `SELECT version FROM fmodel_streams WHERE stream_id = ?`, streamID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return adapters.NoVersion, nil
	}
	if err != nil {
		return adapters.NoVersion, wrap("failed to read stream version", err)
	}
	return adapters.Version(version), nil
}

// LoadByCommand returns the events appended for commandID.
func (a *Adapter) LoadByCommand(ctx context.Context, commandID string) ([]adapters.StoredEvent, error) {
	if commandID == "" {
		return []adapters.StoredEvent{}, nil
	}
	return a.query(ctx, `SELECT `+eventColumns+` FROM fmodel_events
		WHERE command_id = ? ORDER BY global_position`, commandID)
}

// LoadFromPosition loads events with a global position greater than fromPosition.
func (a *Adapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	return a.query(ctx, `SELECT `+eventColumns+` FROM fmodel_events
		WHERE global_position > ? ORDER BY global_position LIMIT ?`,
		int64(fromPosition), adapters.DefaultLimit(limit, 1000))
}

// GetLastPosition returns the global position of the last stored event.
func (a *Adapter) GetLastPosition(ctx context.Context) (uint64, error) {
	var last int64
	err := a.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(global_position), 0) FROM fmodel_events`).Scan(&last)
	if err != nil {
		return 0, wrap("failed to read last position", err)
	}
	return uint64(last), nil
}

// Ping checks database connectivity.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return wrap("failed to ping", err)
	}
	return nil
}

// Close closes the database.
func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) query(ctx context.Context, query string, args ...any) ([]adapters.StoredEvent, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("failed to query events", err)
	}
	defer rows.Close()

	events := make([]adapters.StoredEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, wrap("failed to scan event", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("failed to iterate events", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (adapters.StoredEvent, error) {
	var (
		event     adapters.StoredEvent
		version   string
		position  int64
		timestamp int64
	)
	err := row.Scan(&event.ID, &event.StreamID, &event.Decider, &event.Type, &event.SchemaVersion,
		&event.Final, &event.Data, &event.CommandID, &version, &position, &timestamp)
	if err != nil {
		return event, err
	}
	event.Version = adapters.Version(version)
	event.GlobalPosition = uint64(position)
	event.Timestamp = fromMillis(timestamp)
	return event, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// wrap maps driver errors onto the adapter sentinels.
func wrap(action string, err error) error {
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "sql: database is closed") {
		return fmt.Errorf("fmodel/sqlite: %s: %w", action, errors.Join(adapters.ErrAdapterClosed, err))
	}
	return fmt.Errorf("fmodel/sqlite: %s: %w", action, err)
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
