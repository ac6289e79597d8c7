// Package cursor persists per-project resume offsets in SQLite. The
// store is shared across processes, so writes go through the database's
// native upsert-on-conflict instead of read-modify-write.
package cursor

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/overlook-dev/overlook/internal/types"
)

// Store is a durable projectKey -> cursor mapping.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the cursor database at path and
// initializes the schema. Initialization is idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cursor db: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// initSchema creates the cursors table if it does not exist yet.
func initSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS cursors (
			project_key TEXT PRIMARY KEY,
			"offset"    TEXT NOT NULL,
			timestamp   INTEGER NOT NULL,
			updated_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create cursors table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Save upserts the cursor for its project key. Last write wins per key;
// concurrent callers across processes are safe because the conflict
// resolution happens inside SQLite.
func (s *Store) Save(ctx context.Context, c types.Cursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (project_key, "offset", timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT(project_key) DO UPDATE SET
			"offset"   = excluded."offset",
			timestamp  = excluded.timestamp,
			updated_at = CURRENT_TIMESTAMP
	`, c.ProjectKey, c.Offset, c.Timestamp)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", c.ProjectKey, err)
	}
	return nil
}

// Load returns the cursor for the key, or nil when none exists.
func (s *Store) Load(ctx context.Context, projectKey string) (*types.Cursor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_key, "offset", timestamp FROM cursors WHERE project_key = ?
	`, projectKey)

	var c types.Cursor
	err := row.Scan(&c.ProjectKey, &c.Offset, &c.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor %s: %w", projectKey, err)
	}
	return &c, nil
}

// Delete removes the cursor for the key. Deleting a missing key is not
// an error.
func (s *Store) Delete(ctx context.Context, projectKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cursors WHERE project_key = ?`, projectKey)
	if err != nil {
		return fmt.Errorf("delete cursor %s: %w", projectKey, err)
	}
	return nil
}

// Count reports the number of stored cursors.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cursors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cursors: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
