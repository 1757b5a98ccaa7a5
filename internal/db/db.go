// Package db is the sole owner of persistent storage in this service:
// admin settings (the JWT signing secret, the admin password hash)
// and the audit trail. Dispatch state itself — jobs, presence, registry —
// never touches disk, per the non-durability design.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB wraps a single sqlite connection. sqlite3 serializes writers
// itself; the teacher's Init pinned MaxOpenConns to 1 for the same
// reason and this keeps that discipline.
type DB struct {
	conn *sql.DB
}

// Open connects to the sqlite file at path and applies any pending
// migrations embedded in this binary.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	d := &DB{conn: conn}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

type migration struct {
	version string
	sql     string
}

// migrate applies every embedded migration not already recorded in
// schema_migrations, in version order, each inside its own transaction.
//
// Grounded on the teacher's db.runMigrations/RunMigrationsFromFS
// (internal/db/db.go): same schema_migrations bookkeeping and
// one-transaction-per-file shape, consolidated into a single path. The
// teacher had two migration loaders — a broken loadMigrations that
// always returned (nil, nil), silently skipping every migration, and a
// separate, working RunMigrationsFromFS callers had to remember to
// invoke instead. This version only has the working path.
func (d *DB) migrate() error {
	if _, err := d.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("db: create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := d.conn.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("db: query schema_migrations: %w", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("db: scan schema_migrations: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	migrations, err := loadEmbeddedMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := d.conn.Begin()
		if err != nil {
			return fmt.Errorf("db: begin migration %s: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("db: apply migration %s: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("db: record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("db: commit migration %s: %w", m.version, err)
		}
	}
	return nil
}

func loadEmbeddedMigrations() ([]migration, error) {
	var migrations []migration
	err := fs.WalkDir(migrationFS, "migrations", func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := fs.ReadFile(migrationFS, path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", path, err)
		}
		migrations = append(migrations, migration{
			version: strings.TrimSuffix(filepath.Base(path), ".sql"),
			sql:     string(content),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db: walk embedded migrations: %w", err)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}
