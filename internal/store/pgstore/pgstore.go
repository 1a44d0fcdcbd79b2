// Package pgstore implements store.Store on a single PostgreSQL table.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"ctf-bot/internal/store"
)

type Store struct {
	conn *sql.DB
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is empty")
	}
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	conn.SetMaxOpenConns(50)
	conn.SetMaxIdleConns(10)

	s := &Store{conn: conn}
	if err := s.createTables(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kv_key_prefix ON kv (key text_pattern_ops)`,
	}
	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.Unavailable("get", err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return store.Unavailable("set", err)
}

func (s *Store) CompareAndSet(ctx context.Context, key string, expected, value []byte) (bool, error) {
	var res sql.Result
	var err error
	if expected == nil {
		res, err = s.conn.ExecContext(ctx,
			`INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, value)
	} else {
		res, err = s.conn.ExecContext(ctx,
			`UPDATE kv SET value = $3 WHERE key = $1 AND value = $2`, key, expected, value)
	}
	if err != nil {
		return false, store.Unavailable("cas", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, store.Unavailable("cas", err)
	}
	return n == 1, nil
}

// Increment keeps counters as decimal text so Get sees the same
// representation as the other backends.
func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	var n int64
	err := s.conn.QueryRowContext(ctx,
		`INSERT INTO kv (key, value) VALUES ($1, convert_to($2::bigint::text, 'UTF8'))
		 ON CONFLICT (key) DO UPDATE
		   SET value = convert_to((convert_from(kv.value, 'UTF8')::bigint + $2::bigint)::text, 'UTF8')
		 RETURNING convert_from(value, 'UTF8')::bigint`, key, delta).Scan(&n)
	if err != nil {
		return 0, store.Unavailable("increment", err)
	}
	return n, nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT key FROM kv WHERE left(key, char_length($1)) = $1`, prefix)
	if err != nil {
		return nil, store.Unavailable("keys", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, store.Unavailable("keys", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("keys", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = $1`, key)
	return store.Unavailable("delete", err)
}

// Update locks the watched rows that exist with SELECT ... FOR UPDATE.
// Watched keys that were absent are inserted with a plain INSERT, so a
// concurrent insert of the same key surfaces as a unique violation and the
// attempt is retried.
func (s *Store) Update(ctx context.Context, keys []string, fn func(tx store.Txn) error) error {
	for attempt := 0; attempt < store.MaxAttempts; attempt++ {
		retry, err := s.updateOnce(ctx, keys, fn)
		if err != nil {
			return err
		}
		if !retry {
			return nil
		}
	}
	return store.ErrConflict
}

func (s *Store) updateOnce(ctx context.Context, keys []string, fn func(tx store.Txn) error) (bool, error) {
	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, store.Unavailable("begin", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	rows, err := sqlTx.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key = ANY($1) FOR UPDATE`, pq.Array(keys))
	if err != nil {
		return false, store.Unavailable("select", err)
	}
	t := &txn{snapshot: map[string][]byte{}, writes: map[string][]byte{}}
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return false, store.Unavailable("select", err)
		}
		t.snapshot[k] = v
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return false, store.Unavailable("select", err)
	}
	rows.Close()

	if err := fn(t); err != nil {
		return false, err
	}
	if len(t.writes) == 0 {
		return false, nil
	}

	watched := map[string]bool{}
	for _, k := range keys {
		watched[k] = true
	}
	for k, v := range t.writes {
		var q string
		switch _, existed := t.snapshot[k]; {
		case existed:
			q = `UPDATE kv SET value = $2 WHERE key = $1`
		case watched[k]:
			q = `INSERT INTO kv (key, value) VALUES ($1, $2)`
		default:
			q = `INSERT INTO kv (key, value) VALUES ($1, $2)
			     ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
		}
		if _, err := sqlTx.ExecContext(ctx, q, k, v); err != nil {
			if isUniqueViolation(err) {
				return true, nil
			}
			return false, store.Unavailable("write", err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return false, store.Unavailable("commit", err)
	}
	return false, nil
}

func (s *Store) Close() error { return s.conn.Close() }

type txn struct {
	snapshot map[string][]byte
	writes   map[string][]byte
}

func (t *txn) Get(key string) ([]byte, bool) {
	v, ok := t.snapshot[key]
	return v, ok
}

func (t *txn) Set(key string, value []byte) {
	t.writes[key] = value
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
