package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"fba-scout/internal/logger"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database holding credentials, provider caches
// and analysis run history.
type DB struct {
	sql *sql.DB
}

func dbPath() string {
	// Prefer working directory so the DB is stable across go run / go build.
	// Fall back to executable directory for deployed builds.
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "scout.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "scout.db")
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open() (*DB, error) {
	return OpenPath(dbPath())
}

// OpenPath opens the database at an explicit path (":memory:" in tests).
func OpenPath(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	if path != ":memory:" {
		logger.Success("DB", fmt.Sprintf("Opened %s", path))
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS merchant_credential (
				merchant_id   TEXT NOT NULL,
				marketplace   TEXT NOT NULL,
				refresh_token TEXT NOT NULL,
				connected     INTEGER NOT NULL DEFAULT 1,
				updated_at    INTEGER NOT NULL,
				PRIMARY KEY (merchant_id, marketplace)
			);

			CREATE TABLE IF NOT EXISTS catalog_cache (
				asin        TEXT NOT NULL,
				marketplace TEXT NOT NULL,
				payload     TEXT NOT NULL,
				updated_at  INTEGER NOT NULL,
				PRIMARY KEY (asin, marketplace)
			);

			CREATE TABLE IF NOT EXISTS history_cache (
				asin       TEXT NOT NULL,
				domain     INTEGER NOT NULL,
				payload    TEXT NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (asin, domain)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS analysis_runs (
				id            TEXT PRIMARY KEY,
				started_at    TEXT NOT NULL,
				duration_ms   INTEGER NOT NULL DEFAULT 0,
				marketplace   TEXT NOT NULL,
				goal          TEXT NOT NULL DEFAULT '',
				item_count    INTEGER NOT NULL DEFAULT 0,
				success_count INTEGER NOT NULL DEFAULT 0,
				failed_count  INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_runs_started ON analysis_runs(started_at);

			CREATE TABLE IF NOT EXISTS analysis_items (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id      TEXT NOT NULL REFERENCES analysis_runs(id),
				asin        TEXT NOT NULL,
				status      TEXT NOT NULL,
				reason      TEXT NOT NULL DEFAULT '',
				sell_price  REAL,
				net_profit  REAL,
				roi         REAL,
				score       REAL,
				grade       TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_items_run ON analysis_items(run_id);
			CREATE INDEX IF NOT EXISTS idx_items_asin ON analysis_items(asin);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
	}

	return nil
}

// SqlDB returns the underlying *sql.DB for use by other packages (e.g. auth store).
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}
