// Package containers provides PostgreSQL fixtures for integration tests.
//
// Tests connect to the database named by TEST_DATABASE_URL, or to one
// assembled from the TEST_POSTGRES_* variables, and skip when neither is
// available. Each IntegrationTest works in its own schema, dropped on cleanup.
package containers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

// DatabaseURLEnv names the variable holding a full connection string.
const DatabaseURLEnv = "TEST_DATABASE_URL"

var schemaSeq atomic.Int64

// PostgresDatabase is a reachable PostgreSQL server.
type PostgresDatabase struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	connStr  string
}

// PostgresOption configures a PostgresDatabase.
type PostgresOption func(*postgresConfig)

type postgresConfig struct {
	url      string
	host     string
	database string
	user     string
	password string
	port     string
	wait     time.Duration
}

// WithPostgresURL sets the full connection string.
func WithPostgresURL(url string) PostgresOption {
	return func(c *postgresConfig) {
		c.url = url
	}
}

// WithPostgresDatabase sets the database name.
func WithPostgresDatabase(database string) PostgresOption {
	return func(c *postgresConfig) {
		c.database = database
	}
}

// WithPostgresUser sets the database user.
func WithPostgresUser(user string) PostgresOption {
	return func(c *postgresConfig) {
		c.user = user
	}
}

// WithPostgresPassword sets the database password.
func WithPostgresPassword(password string) PostgresOption {
	return func(c *postgresConfig) {
		c.password = password
	}
}

// WithPostgresPort sets the server port.
func WithPostgresPort(port string) PostgresOption {
	return func(c *postgresConfig) {
		c.port = port
	}
}

// WithWait sets how long StartPostgres waits for the server.
func WithWait(d time.Duration) PostgresOption {
	return func(c *postgresConfig) {
		c.wait = d
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// defaultPostgresConfig reads the environment:
//   - TEST_DATABASE_URL: full connection string, wins over the rest
//   - TEST_POSTGRES_HOST (default: localhost)
//   - TEST_POSTGRES_DB (default: fmodel_test)
//   - TEST_POSTGRES_USER (default: postgres)
//   - TEST_POSTGRES_PASSWORD (default: postgres)
//   - TEST_POSTGRES_PORT (default: 5432)
func defaultPostgresConfig() *postgresConfig {
	return &postgresConfig{
		url:      os.Getenv(DatabaseURLEnv),
		host:     getEnvOrDefault("TEST_POSTGRES_HOST", "localhost"),
		database: getEnvOrDefault("TEST_POSTGRES_DB", "fmodel_test"),
		user:     getEnvOrDefault("TEST_POSTGRES_USER", "postgres"),
		password: getEnvOrDefault("TEST_POSTGRES_PASSWORD", "postgres"),
		port:     getEnvOrDefault("TEST_POSTGRES_PORT", "5432"),
		wait:     10 * time.Second,
	}
}

// configured reports whether the environment asks for a database at all.
func (c *postgresConfig) configured() bool {
	return c.url != "" || os.Getenv("TEST_POSTGRES_HOST") != ""
}

func newPostgresDatabase(cfg *postgresConfig) *PostgresDatabase {
	return &PostgresDatabase{
		Host:     cfg.host,
		Port:     cfg.port,
		Database: cfg.database,
		User:     cfg.user,
		Password: cfg.password,
		connStr:  cfg.url,
	}
}

// StartPostgres returns the configured server once it answers a ping. The
// test is skipped in short mode, when no server is configured, or when the
// server does not come up in time.
func StartPostgres(t testing.TB, opts ...PostgresOption) *PostgresDatabase {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := defaultPostgresConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if !cfg.configured() {
		t.Skipf("%s not set, skipping integration test", DatabaseURLEnv)
	}

	pg := newPostgresDatabase(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.wait)
	defer cancel()

	if err := waitForPostgres(ctx, pg.ConnectionString()); err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}

	return pg
}

// ConnectionString returns the PostgreSQL connection string.
func (p *PostgresDatabase) ConnectionString() string {
	if p.connStr != "" {
		return p.connStr
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Database,
	)
}

// DB opens and pings a new connection pool.
func (p *PostgresDatabase) DB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("pgx", p.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("containers: failed to open connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("containers: failed to ping database: %w", err)
	}

	return db, nil
}

// CreateSchema creates a schema named prefix plus a unique suffix.
func (p *PostgresDatabase) CreateSchema(ctx context.Context, db *sql.DB, prefix string) (string, error) {
	schema := fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), schemaSeq.Add(1))
	_, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema))
	if err != nil {
		return "", fmt.Errorf("containers: failed to create schema: %w", err)
	}
	return schema, nil
}

// DropSchema drops schema and everything in it.
func (p *PostgresDatabase) DropSchema(ctx context.Context, db *sql.DB, schema string) error {
	_, err := db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+pq.QuoteIdentifier(schema)+" CASCADE")
	return err
}

func waitForPostgres(ctx context.Context, connStr string) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		db, err := sql.Open("pgx", connStr)
		if err == nil {
			err = db.PingContext(ctx)
			_ = db.Close()
			if err == nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Integration Test Helper
// =============================================================================

// IntegrationTest is a database connection scoped to a private schema.
type IntegrationTest struct {
	t        testing.TB
	ctx      context.Context
	database *PostgresDatabase
	db       *sql.DB
	schema   string
}

// IntegrationTestOption configures an integration test.
type IntegrationTestOption func(*integrationTestConfig)

type integrationTestConfig struct {
	schemaPrefix string
	timeout      time.Duration
	postgres     []PostgresOption
}

// WithSchemaPrefix sets the schema prefix.
func WithSchemaPrefix(prefix string) IntegrationTestOption {
	return func(c *integrationTestConfig) {
		c.schemaPrefix = prefix
	}
}

// WithTimeout bounds the test context.
func WithTimeout(timeout time.Duration) IntegrationTestOption {
	return func(c *integrationTestConfig) {
		c.timeout = timeout
	}
}

// WithPostgresOptions passes options to StartPostgres.
func WithPostgresOptions(opts ...PostgresOption) IntegrationTestOption {
	return func(c *integrationTestConfig) {
		c.postgres = append(c.postgres, opts...)
	}
}

// NewIntegrationTest connects to the test server and creates a private
// schema, dropped when the test ends.
func NewIntegrationTest(t testing.TB, opts ...IntegrationTestOption) *IntegrationTest {
	t.Helper()

	cfg := &integrationTestConfig{
		schemaPrefix: "test",
		timeout:      time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	database := StartPostgres(t, cfg.postgres...)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	t.Cleanup(cancel)

	db, err := database.DB(ctx)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	schema, err := database.CreateSchema(ctx, db, cfg.schemaPrefix)
	if err != nil {
		_ = db.Close()
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		if err := database.DropSchema(context.Background(), db, schema); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schema, err)
		}
		_ = db.Close()
	})

	return &IntegrationTest{
		t:        t,
		ctx:      ctx,
		database: database,
		db:       db,
		schema:   schema,
	}
}

// Context returns the test context.
func (it *IntegrationTest) Context() context.Context {
	return it.ctx
}

// DB returns the admin connection. It stays open until cleanup.
func (it *IntegrationTest) DB() *sql.DB {
	return it.db
}

// OpenDB opens a separate pool, for code under test that closes its own.
func (it *IntegrationTest) OpenDB() *sql.DB {
	it.t.Helper()
	db, err := it.database.DB(it.ctx)
	if err != nil {
		it.t.Fatalf("Failed to connect to database: %v", err)
	}
	it.t.Cleanup(func() { _ = db.Close() })
	return db
}

// Schema returns the private schema name.
func (it *IntegrationTest) Schema() string {
	return it.schema
}

// Database returns the server the test runs against.
func (it *IntegrationTest) Database() *PostgresDatabase {
	return it.database
}

// Exec executes a SQL statement.
func (it *IntegrationTest) Exec(query string, args ...interface{}) {
	it.t.Helper()
	if _, err := it.db.ExecContext(it.ctx, query, args...); err != nil {
		it.t.Fatalf("Failed to execute SQL: %v", err)
	}
}

// TableExists reports whether table exists in the private schema.
func (it *IntegrationTest) TableExists(table string) bool {
	it.t.Helper()
	var exists bool
	err := it.db.QueryRowContext(it.ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, it.schema, table).Scan(&exists)
	if err != nil {
		it.t.Fatalf("Failed to query tables: %v", err)
	}
	return exists
}

// Count returns the row count of table in the private schema.
func (it *IntegrationTest) Count(table string) int {
	it.t.Helper()
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", pq.QuoteIdentifier(it.schema), pq.QuoteIdentifier(table))
	if err := it.db.QueryRowContext(it.ctx, query).Scan(&n); err != nil {
		it.t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}
