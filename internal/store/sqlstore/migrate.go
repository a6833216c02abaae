package sqlstore

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"
)

const queryCreateMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TEXT NOT NULL
)`

// Migrate applies embedded schema migrations that have not been applied yet.
// Each file runs in its own transaction together with its bookkeeping row.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, queryCreateMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	fsys, err := s.dialect.migrationFS()
	if err != nil {
		return err
	}
	files, err := listMigrationFiles(fsys)
	if err != nil {
		return err
	}

	for _, file := range files {
		var n int
		err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM schema_migrations WHERE version = $1`), file).Scan(&n)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if n > 0 {
			continue
		}
		if err := s.applyMigration(ctx, fsys, file); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		log.Printf("store: applied migration %s (dialect=%s)", file, s.dialect.Name)
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, fsys fs.FS, file string) error {
	body, err := fs.ReadFile(fsys, file)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`),
		file, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func listMigrationFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}
