package sqlite

import (
	"context"
	"database/sql"
	"errors"
)

// GetMetadata reads one key from the metadata table. Returns ("", nil) when
// the key is absent.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	if err := s.checkClosed(); err != nil {
		return "", err
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapDBError("get metadata", err)
	}
	return value, nil
}

// SetMetadata upserts one key in the metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return wrapDBError("set metadata", err)
}
