package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// KVRepository is the durable key-value store backing timer documents.
type KVRepository struct {
	db *sql.DB
}

func NewKVRepository(db *sql.DB) *KVRepository {
	return &KVRepository{db: db}
}

func (r *KVRepository) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := r.db.QueryRowContext(
		ctx,
		`SELECT value FROM kv_store WHERE key = ?`,
		key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load key %s: %w", key, err)
	}
	return []byte(value), true, nil
}

func (r *KVRepository) Save(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		string(value),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save key %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys starting with prefix, in key order.
func (r *KVRepository) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT key FROM kv_store WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix),
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}
