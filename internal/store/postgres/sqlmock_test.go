package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/loykin/andon/internal/store"
	"github.com/loykin/andon/internal/store/sqlstore"
)

func newMock(t *testing.T) (*sqlstore.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return sqlstore.New(db, Dialect), mock
}

func TestSetAliveUsesNumberedPlaceholders(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE stations SET is_alive = $1, updated_at = $2 WHERE name = $3")).
		WithArgs(false, sqlmock.AnyArg(), "LINE-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetAlive(context.Background(), "LINE-1", false, time.Now()); err != nil {
		t.Fatalf("set alive: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOpenFaultReturnsExistingOnConflict(t *testing.T) {
	s, mock := newMock(t)
	opened := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO faults(station, category, opened_at) VALUES($1, $2, $3)")).
		WithArgs("LINE-1", "Store", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE station = $1 AND category = $2 AND closed_at IS NULL")).
		WithArgs("LINE-1", "Store").
		WillReturnRows(sqlmock.NewRows([]string{"id", "station", "category", "opened_at", "closed_at"}).
			AddRow(int64(7), "LINE-1", "Store", opened, nil))

	rec, created, err := s.OpenFault(context.Background(), "LINE-1", "Store", opened.Add(time.Minute))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if created || rec.ID != 7 || !rec.OpenedAt.Equal(opened) {
		t.Fatalf("expected existing record 7, got %+v created=%v", rec, created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCloseLatestFaultTargetsHighestOpenID(t *testing.T) {
	s, mock := newMock(t)
	opened := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id DESC LIMIT 1")).
		WithArgs("LINE-1", "PMD").
		WillReturnRows(sqlmock.NewRows([]string{"id", "station", "category", "opened_at", "closed_at"}).
			AddRow(int64(42), "LINE-1", "PMD", opened, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE faults SET closed_at = $1 WHERE id = $2 AND closed_at IS NULL")).
		WithArgs(sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := s.CloseLatestFault(context.Background(), "LINE-1", "PMD", opened.Add(time.Hour))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if rec.ID != 42 || !rec.ClosedAt.Valid {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCloseLatestFaultLostRace(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "station", "category", "opened_at", "closed_at"}).
			AddRow(int64(3), "LINE-1", "PMD", time.Now(), nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE faults SET closed_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := s.CloseLatestFault(context.Background(), "LINE-1", "PMD", time.Now()); !errors.Is(err, store.ErrNoOpenFault) {
		t.Fatalf("expected ErrNoOpenFault, got %v", err)
	}
}

func TestEnsureSchemaStopsOnError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS stations").WillReturnError(errors.New("permission denied"))
	if err := s.EnsureSchema(context.Background()); err == nil {
		t.Fatalf("expected schema error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
