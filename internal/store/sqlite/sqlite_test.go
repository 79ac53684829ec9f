package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/andon/internal/store"
	"github.com/loykin/andon/internal/store/sqlstore"
)

func newDB(t *testing.T) *sqlstore.DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func TestNewRejectsEmptyPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestEnsureSchemaIsRepeatable(t *testing.T) {
	db := newDB(t)
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second ensure schema: %v", err)
	}
}

func TestStations(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	idx := 3
	if err := db.UpsertStation(ctx, store.Station{
		Name: "LINE-1", Address: "10.0.0.5", Active: true,
		CategoryMap: map[string]int{"PMD": 4, "Quality": 5}, CountIndex: &idx,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.UpsertStation(ctx, store.Station{Name: "LINE-2", Address: "10.0.0.6", Active: false}); err != nil {
		t.Fatalf("upsert inactive: %v", err)
	}

	active, err := db.ActiveStations(ctx)
	if err != nil {
		t.Fatalf("active stations: %v", err)
	}
	if len(active) != 1 || active[0].Name != "LINE-1" {
		t.Fatalf("unexpected active stations: %+v", active)
	}
	st := active[0]
	if st.CategoryMap["Quality"] != 5 || st.CountIndex == nil || *st.CountIndex != 3 {
		t.Fatalf("station config not round-tripped: %+v", st)
	}

	now := time.Now()
	if err := db.SetAlive(ctx, "LINE-1", true, now); err != nil {
		t.Fatalf("set alive: %v", err)
	}
	if err := db.SetActualCount(ctx, "LINE-1", 1234, now); err != nil {
		t.Fatalf("set actual count: %v", err)
	}
	got, err := db.GetStation(ctx, "LINE-1")
	if err != nil {
		t.Fatalf("get station: %v", err)
	}
	if !got.Alive || got.ActualCount != 1234 {
		t.Fatalf("liveness not stored: %+v", got)
	}

	if err := db.SetAlive(ctx, "missing", false, now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown station, got %v", err)
	}
	if _, err := db.GetStation(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFaultOpenCloseSingleRecord(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	opened := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	rec, created, err := db.OpenFault(ctx, "LINE-1", "Quality", opened)
	if err != nil || !created {
		t.Fatalf("open: created=%v err=%v", created, err)
	}
	again, created, err := db.OpenFault(ctx, "LINE-1", "Quality", opened.Add(time.Minute))
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if created || again.ID != rec.ID {
		t.Fatalf("second open should return the existing record: %+v created=%v", again, created)
	}
	if !again.OpenedAt.Equal(opened) {
		t.Fatalf("open timestamp changed: %v", again.OpenedAt)
	}

	open, err := db.OpenFaults(ctx, "LINE-1")
	if err != nil || len(open) != 1 {
		t.Fatalf("open faults: %v %+v", err, open)
	}

	closedAt := opened.Add(5 * time.Minute)
	closed, err := db.CloseLatestFault(ctx, "LINE-1", "Quality", closedAt)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.ID != rec.ID || !closed.ClosedAt.Valid || !closed.ClosedAt.Time.Equal(closedAt) {
		t.Fatalf("unexpected closed record: %+v", closed)
	}

	// replaying the close leaves the record untouched
	if _, err := db.CloseLatestFault(ctx, "LINE-1", "Quality", closedAt.Add(time.Hour)); !errors.Is(err, store.ErrNoOpenFault) {
		t.Fatalf("expected ErrNoOpenFault on replay, got %v", err)
	}
	open, _ = db.OpenFaults(ctx, "")
	if len(open) != 0 {
		t.Fatalf("expected no open faults, got %+v", open)
	}

	// a new fault after resolution gets a fresh record
	rec2, created, err := db.OpenFault(ctx, "LINE-1", "Quality", closedAt.Add(time.Minute))
	if err != nil || !created || rec2.ID == rec.ID {
		t.Fatalf("reopen: %+v created=%v err=%v", rec2, created, err)
	}
}

func TestBaselineInsertIsFirstWriterWins(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	now := time.Now()
	first, err := db.InsertBaseline(ctx, store.BaselineRecord{
		Station: "LINE-1", ShiftNum: 2, ShiftDate: "2026-10-14", Baseline: 100, Current: 100, LastUpdated: now,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := db.InsertBaseline(ctx, store.BaselineRecord{
		Station: "LINE-1", ShiftNum: 2, ShiftDate: "2026-10-14", Baseline: 500, Current: 500, LastUpdated: now,
	})
	if err != nil {
		t.Fatalf("insert again: %v", err)
	}
	if first.Baseline != 100 || second.Baseline != 100 {
		t.Fatalf("baseline must not change: first=%d second=%d", first.Baseline, second.Baseline)
	}

	if err := db.UpdateCurrent(ctx, "LINE-1", 2, "2026-10-14", 137, now); err != nil {
		t.Fatalf("update current: %v", err)
	}
	got, err := db.GetBaseline(ctx, "LINE-1", 2, "2026-10-14")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Baseline != 100 || got.Current != 137 {
		t.Fatalf("unexpected baseline row: %+v", got)
	}

	if _, err := db.GetBaseline(ctx, "LINE-1", 3, "2026-10-14"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.UpdateCurrent(ctx, "LINE-1", 3, "2026-10-14", 1, now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update of missing key, got %v", err)
	}
}

func TestShiftWindowsReplace(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	ws := []store.ShiftWindow{
		{Number: 1, Start: "06:00", End: "14:00"},
		{Number: 2, Start: "14:00", End: "22:00"},
		{Number: 3, Start: "22:00", End: "06:00"},
	}
	if err := db.SetShiftWindows(ctx, ws); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetShiftWindows(ctx, ws[:2]); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := db.ShiftWindows(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 || got[1] != ws[1] {
		t.Fatalf("unexpected windows: %+v", got)
	}
}
