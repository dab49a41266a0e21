package store

import (
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
)

// KV is the best-effort key-value contract used by the outbox and draft
// keepers. Failures are logged by the implementation, never returned.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// Get returns the value stored under key, or false if absent or unreadable.
func (db *DB) Get(key string) (string, bool) {
	var value string
	err := db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		db.logger.Error("kv get failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return value, true
}

// Set writes value under key. The write is committed before Set returns.
func (db *DB) Set(key, value string) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		db.logger.Error("kv set failed", zap.String("key", key), zap.Int("bytes", len(value)), zap.Error(err))
	}
}

// Remove deletes key. Removing a missing key is not an error.
func (db *DB) Remove(key string) {
	if _, err := db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		db.logger.Error("kv remove failed", zap.String("key", key), zap.Error(err))
	}
}
