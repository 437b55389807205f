package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetImportedFileHash returns the content hash recorded by the last import
// of name, or "" if name was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, name string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM imported_files WHERE path = ?`, name).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

func setImportedFileHash(ctx context.Context, ex execer, name, hash string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash`,
		name, hash,
	)
	return err
}
