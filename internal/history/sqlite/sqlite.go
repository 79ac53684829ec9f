package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/andon/internal/history"
)

// Sink appends fault events to an event log table in SQLite.
type Sink struct {
	db *sql.DB
}

// New creates a SQLite event log sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fault_events(
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			station TEXT NOT NULL,
			category TEXT NOT NULL,
			record_id INTEGER NOT NULL,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP NULL,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fault_events_station ON fault_events(station, occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Send inserts e; a resend of the same event id is ignored.
func (s *Sink) Send(ctx context.Context, e history.Event) error {
	var closed any
	if e.ClosedAt != nil {
		closed = e.ClosedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fault_events(id, type, station, category, record_id, opened_at, closed_at, occurred_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING;`,
		e.ID, string(e.Type), e.Station, e.Category, e.RecordID, e.OpenedAt.UTC(), closed, e.OccurredAt.UTC())
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
