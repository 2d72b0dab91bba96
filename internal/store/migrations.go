package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// migration is one schema step. sql is keyed by driver name.
type migration struct {
	version int
	sql     map[string]string
}

// SchemaVersion is bumped whenever the collection shapes change.
const SchemaVersion = 2

var migrations = []migration{
	{
		version: 1,
		sql: map[string]string{
			DriverSQLite: `
CREATE TABLE IF NOT EXISTS favorites(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  photo_url TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL DEFAULT '',
  lat REAL,
  lon REAL,
  saved_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_favorites_name ON favorites(name);
CREATE INDEX IF NOT EXISTS idx_favorites_created ON favorites(created_at);
CREATE INDEX IF NOT EXISTS idx_favorites_saved ON favorites(saved_at);

CREATE TABLE IF NOT EXISTS offline_stories(
  temp_id INTEGER PRIMARY KEY AUTOINCREMENT,
  description TEXT NOT NULL DEFAULT '',
  photo BLOB,
  lat REAL,
  lon REAL,
  synced BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_offline_stories_synced ON offline_stories(synced);
`,
			DriverPostgres: `
CREATE TABLE IF NOT EXISTS favorites(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  photo_url TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL DEFAULT '',
  lat DOUBLE PRECISION,
  lon DOUBLE PRECISION,
  saved_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_favorites_name ON favorites(name);
CREATE INDEX IF NOT EXISTS idx_favorites_created ON favorites(created_at);
CREATE INDEX IF NOT EXISTS idx_favorites_saved ON favorites(saved_at);

CREATE TABLE IF NOT EXISTS offline_stories(
  temp_id BIGSERIAL PRIMARY KEY,
  description TEXT NOT NULL DEFAULT '',
  photo BYTEA,
  lat DOUBLE PRECISION,
  lon DOUBLE PRECISION,
  synced BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_offline_stories_synced ON offline_stories(synced);
`,
		},
	},
	{
		// created_at on pending submissions; rows from v1 get the migration time.
		version: 2,
		sql: map[string]string{
			DriverSQLite: `
ALTER TABLE offline_stories ADD COLUMN created_at TEXT NOT NULL DEFAULT '';
UPDATE offline_stories SET created_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE created_at = '';
CREATE INDEX IF NOT EXISTS idx_offline_stories_created ON offline_stories(created_at);
`,
			DriverPostgres: `
ALTER TABLE offline_stories ADD COLUMN IF NOT EXISTS created_at TEXT NOT NULL DEFAULT '';
UPDATE offline_stories SET created_at = to_char(now() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.MS"Z"') WHERE created_at = '';
CREATE INDEX IF NOT EXISTS idx_offline_stories_created ON offline_stories(created_at);
`,
		},
	},
}

// RunMigrations applies every migration above the stored schema version,
// each in its own transaction, exactly once.
func (s *Store) RunMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return storageErr("migrate", err)
	}
	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		stmt, ok := m.sql[s.driver]
		if !ok {
			return storageErr("migrate", fmt.Errorf("no migration v%d for driver %s", m.version, s.driver))
		}
		if err := s.apply(ctx, m.version, stmt); err != nil {
			return storageErr(fmt.Sprintf("migrate v%d", m.version), err)
		}
		current = m.version
	}
	return nil
}

func (s *Store) apply(ctx context.Context, version int, stmt string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO schema_version(version) VALUES (?)`), version); err != nil {
		return err
	}
	return tx.Commit()
}

// CurrentVersion returns the applied schema version, zero for a fresh database.
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.GetContext(ctx, &v, `SELECT version FROM schema_version LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("schema version", err)
	}
	return v, nil
}
