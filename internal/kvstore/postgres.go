package kvstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/kueccha/poimap/internal/db"
)

// PostgresStorage implements Storage on a shared Postgres table, so several
// poimap processes can share one local area.
type PostgresStorage struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStorage over pool. The caller keeps
// ownership of the pool unless it calls Close.
func NewPostgres(pool db.Pool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate creates the kv_entries table.
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "kvstore: postgres migrate")
}

// Close closes the underlying pool.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// Get implements Storage.
func (s *PostgresStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "kvstore: postgres get %s", key)
	}
	return value, true, nil
}

// Set implements Storage.
func (s *PostgresStorage) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return eris.Wrapf(err, "kvstore: postgres set %s", key)
}

// Remove implements Storage.
func (s *PostgresStorage) Remove(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key)
	return eris.Wrapf(err, "kvstore: postgres remove %s", key)
}

// Clear implements Storage.
func (s *PostgresStorage) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv_entries`)
	return eris.Wrap(err, "kvstore: postgres clear")
}

// Keys implements Storage.
func (s *PostgresStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM kv_entries ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "kvstore: postgres keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "kvstore: postgres scan key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "kvstore: postgres keys iterate")
}
