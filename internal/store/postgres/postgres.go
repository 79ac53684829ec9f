package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/andon/internal/store/sqlstore"
)

// Dialect is the PostgreSQL schema (pgx stdlib driver).
var Dialect = sqlstore.Dialect{
	Name:     "postgres",
	Numbered: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS stations(
			name TEXT PRIMARY KEY,
			address TEXT NOT NULL,
			category_map TEXT NULL,
			count_index INTEGER NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			is_alive BOOLEAN NOT NULL DEFAULT false,
			actual_count BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NULL
		);`,
		`CREATE TABLE IF NOT EXISTS faults(
			id BIGSERIAL PRIMARY KEY,
			station TEXT NOT NULL,
			category TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_faults_open ON faults(station, category) WHERE closed_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_faults_station ON faults(station);`,
		`CREATE TABLE IF NOT EXISTS shift_data(
			station TEXT NOT NULL,
			shift_num INTEGER NOT NULL,
			shift_date TEXT NOT NULL,
			baseline BIGINT NOT NULL,
			current_count BIGINT NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL,
			PRIMARY KEY(station, shift_num, shift_date)
		);`,
		`CREATE TABLE IF NOT EXISTS shift_config(
			shift_num INTEGER PRIMARY KEY,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL
		);`,
	},
}

func New(dsn string) (*sqlstore.DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return sqlstore.New(d, Dialect), nil
}
