package store

import (
	"fmt"
	"strings"
)

// Migrations are forward-only. The base schema is created if absent; columns
// added after the first release are detected by introspection and fixed with
// an ADD COLUMN carrying a safe default.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL DEFAULT '',
		file TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'downloading',
		progress REAL NOT NULL DEFAULT 0,
		speed REAL NOT NULL DEFAULT 0,
		error TEXT,
		updated_at TIMESTAMP,
		created_at TIMESTAMP,
		downloaded_bytes INTEGER NOT NULL DEFAULT 0,
		total_bytes INTEGER NOT NULL DEFAULT 0,
		pending_time REAL,
		is_deleted BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_downloads_external_id ON downloads(external_id)`,
	`CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status)`,
	`CREATE TABLE IF NOT EXISTS download_type_maps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_tag TEXT NOT NULL UNIQUE,
		access_restricted BOOLEAN NOT NULL DEFAULT 0,
		folder TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TIMESTAMP
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS downloads (
		id BIGSERIAL PRIMARY KEY,
		external_id TEXT NOT NULL DEFAULT '',
		file TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'downloading',
		progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		speed DOUBLE PRECISION NOT NULL DEFAULT 0,
		error TEXT,
		updated_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ,
		downloaded_bytes BIGINT NOT NULL DEFAULT 0,
		total_bytes BIGINT NOT NULL DEFAULT 0,
		pending_time DOUBLE PRECISION,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_downloads_external_id ON downloads(external_id)`,
	`CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status)`,
	`CREATE TABLE IF NOT EXISTS download_type_maps (
		id BIGSERIAL PRIMARY KEY,
		source_tag TEXT NOT NULL UNIQUE,
		access_restricted BOOLEAN NOT NULL DEFAULT FALSE,
		folder TEXT,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TIMESTAMPTZ
	)`,
}

// lateColumns arrived after the first release.
var lateColumns = []struct {
	table, column, ddl string
}{
	{"downloads", "source_tag", "source_tag TEXT NOT NULL DEFAULT 'chat'"},
	{"downloads", "url", "url TEXT"},
	{"downloads", "file_deleted", "file_deleted BOOLEAN NOT NULL DEFAULT FALSE"},
	{"download_type_maps", "quality", "quality TEXT"},
}

func (s *Store) migrate() error {
	schema := sqliteSchema
	if s.driver == driverPostgres {
		schema = postgresSchema
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	for _, lc := range lateColumns {
		ok, err := s.columnExists(lc.table, lc.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}

		ddl := lc.ddl
		if s.driver == driverSQLite {
			// sqlite spells booleans as 0/1 in defaults
			ddl = sqliteBoolDDL(ddl)
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", lc.table, ddl)); err != nil {
			return fmt.Errorf("add column %s.%s: %w", lc.table, lc.column, err)
		}
		if s.log != nil {
			s.log.Info("migrated: added column %s.%s", lc.table, lc.column)
		}
	}

	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	if s.driver == driverPostgres {
		var n int
		err := s.db.QueryRow(
			`SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`,
			table, column,
		).Scan(&n)
		return n > 0, err
	}

	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func sqliteBoolDDL(ddl string) string {
	ddl = strings.ReplaceAll(ddl, "DEFAULT FALSE", "DEFAULT 0")
	return strings.ReplaceAll(ddl, "DEFAULT TRUE", "DEFAULT 1")
}
