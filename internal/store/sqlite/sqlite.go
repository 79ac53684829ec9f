package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/andon/internal/store/sqlstore"
)

// Dialect is the SQLite schema (modernc.org/sqlite driver, CGO-free).
var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS stations(
			name TEXT PRIMARY KEY,
			address TEXT NOT NULL,
			category_map TEXT NULL,
			count_index INTEGER NULL,
			active BOOLEAN NOT NULL DEFAULT 1,
			is_alive BOOLEAN NOT NULL DEFAULT 0,
			actual_count INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NULL
		);`,
		`CREATE TABLE IF NOT EXISTS faults(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			station TEXT NOT NULL,
			category TEXT NOT NULL,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_faults_open ON faults(station, category) WHERE closed_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_faults_station ON faults(station);`,
		`CREATE TABLE IF NOT EXISTS shift_data(
			station TEXT NOT NULL,
			shift_num INTEGER NOT NULL,
			shift_date TEXT NOT NULL,
			baseline INTEGER NOT NULL,
			current_count INTEGER NOT NULL,
			last_updated TIMESTAMP NOT NULL,
			PRIMARY KEY(station, shift_num, shift_date)
		);`,
		`CREATE TABLE IF NOT EXISTS shift_config(
			shift_num INTEGER PRIMARY KEY,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL
		);`,
	},
}

// New opens a SQLite database at path. Use ":memory:" for in-memory.
func New(path string) (*sqlstore.DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases shared and serializes writers
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return sqlstore.New(d, Dialect), nil
}
