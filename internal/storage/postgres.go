package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DBConfig holds database configuration
type DBConfig struct {
	DSN string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

const (
	createTableQuery = `CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	getQuery         = `SELECT value FROM kv_entries WHERE key = $1`
	putQuery         = `INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now()) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	deleteQuery      = `DELETE FROM kv_entries WHERE key = $1`
	listQuery        = `SELECT key FROM kv_entries WHERE key LIKE $1 ESCAPE '\' ORDER BY key COLLATE "C"`
	putIfAbsentQuery = `INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now()) ON CONFLICT (key) DO NOTHING`
	compareSwapQuery = `UPDATE kv_entries SET value = $3, updated_at = now() WHERE key = $1 AND value = $2`
	healthCheckQuery = `SELECT 1`
)

// PostgresStore implements ConditionalStore on a single key/value table.
type PostgresStore struct {
	conn *sqlx.DB
}

var _ ConditionalStore = (*PostgresStore)(nil)

// NewPostgresStore connects, configures the pool and creates the table if needed.
func NewPostgresStore(ctx context.Context, cfg DBConfig) (*PostgresStore, error) {
	conn, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := NewPostgresStoreFromDB(conn)
	if err := store.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing connection without touching the schema.
func NewPostgresStoreFromDB(conn *sqlx.DB) *PostgresStore {
	return &PostgresStore{conn: conn}
}

// EnsureSchema creates the kv_entries table.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, createTableQuery); err != nil {
		return fmt.Errorf("failed to create kv_entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.conn.GetContext(ctx, &value, getQuery, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	if _, err := s.conn.ExecContext(ctx, putQuery, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, deleteQuery, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	if err := s.conn.SelectContext(ctx, &keys, listQuery, escapeLike(prefix)+"%"); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	res, err := s.conn.ExecContext(ctx, putIfAbsentQuery, key, value)
	if err != nil {
		return false, fmt.Errorf("put-if-absent %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put-if-absent %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	res, err := s.conn.ExecContext(ctx, compareSwapQuery, key, old, new)
	if err != nil {
		return false, fmt.Errorf("cas %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cas %s: %w", key, err)
	}
	return n == 1, nil
}

// Ping runs a trivial query, not just a connection check.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var result int
	if err := s.conn.GetContext(ctx, &result, healthCheckQuery); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.conn.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
