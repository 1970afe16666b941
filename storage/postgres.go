package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/soycyj/unline/domain"
)

// PostgresStore is a key/value store with per key expiry backed by the
// kv_store table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func wrapStoreError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.UnexpectedStoreError, err)
}

func (ps *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	row := ps.pool.QueryRow(ctx, "SELECT value FROM kv_store WHERE key = $1 AND expires_at > now()", key)

	var value []byte
	err := row.Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, wrapStoreError(err)
	}

	return value, nil
}

func (ps *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO kv_store(key, value, expires_at) VALUES($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, time.Now().Add(ttl))
	if err != nil {
		return wrapStoreError(err)
	}
	return nil
}

func (ps *PostgresStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	tag, err := ps.pool.Exec(ctx, "UPDATE kv_store SET expires_at = $2 WHERE key = $1 AND expires_at > now()", key, time.Now().Add(ttl))
	if err != nil {
		return wrapStoreError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSnapshotNotFound
	}
	return nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
func (ps *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := ps.pool.Exec(ctx, "DELETE FROM kv_store WHERE expires_at <= now()")
	if err != nil {
		return 0, wrapStoreError(err)
	}
	return tag.RowsAffected(), nil
}

func (ps *PostgresStore) Close() {
	ps.pool.Close()
}
