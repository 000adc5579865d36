package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ReindexNewIndexKey names the setting that holds the index a running
// reindex is building. It is absent when no reindex is running.
const ReindexNewIndexKey = "reindex.new_index"

// GetSetting returns the value stored under key and whether it was present
func (d *DB) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PutSetting stores value under key, replacing any previous value
func (d *DB) PutSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// PutSettingIfAbsent stores value under key only if the key is unset.
// It reports whether the value was written.
func (d *DB) PutSettingIfAbsent(ctx context.Context, key, value string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO NOTHING
	`, key, value)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteSetting removes key. Removing a missing key is not an error.
func (d *DB) DeleteSetting(ctx context.Context, key string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key)
	return err
}

// Settings answers whether a reindex is running and under which index name.
// The value is read from the database on every call since an operator can
// start or finish a reindex at any moment.
type Settings struct {
	db *DB
}

// NewSettings creates a settings lookup backed by db
func NewSettings(db *DB) *Settings {
	return &Settings{db: db}
}

// ActiveShadowTarget returns the index being built by a running reindex
func (s *Settings) ActiveShadowTarget(ctx context.Context) (string, bool, error) {
	name, ok, err := s.db.GetSetting(ctx, ReindexNewIndexKey)
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", ReindexNewIndexKey, err)
	}
	if !ok || name == "" {
		return "", false, nil
	}
	return name, true, nil
}

// BeginShadowTarget records name as the index being built. It returns false
// if another reindex already holds the setting.
func (s *Settings) BeginShadowTarget(ctx context.Context, name string) (bool, error) {
	ok, err := s.db.PutSettingIfAbsent(ctx, ReindexNewIndexKey, name)
	if err != nil {
		return false, fmt.Errorf("put setting %s: %w", ReindexNewIndexKey, err)
	}
	return ok, nil
}

// EndShadowTarget clears the running reindex marker
func (s *Settings) EndShadowTarget(ctx context.Context) error {
	if err := s.db.DeleteSetting(ctx, ReindexNewIndexKey); err != nil {
		return fmt.Errorf("delete setting %s: %w", ReindexNewIndexKey, err)
	}
	return nil
}
