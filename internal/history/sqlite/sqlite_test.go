package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/andon/internal/history"
	"github.com/loykin/andon/internal/store"
)

func countEvents(t *testing.T, s *Sink, station string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fault_events WHERE station = ?`, station).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestSQLiteSink_OpenAndClose(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	ctx := context.Background()

	opened := time.Now().Add(-time.Minute).UTC()
	rec := store.FaultRecord{ID: 3, Station: "LINE-1", Category: "PMD", OpenedAt: opened}
	open := history.NewEvent(history.EventFaultOpen, rec, opened)
	if err := sink.Send(ctx, open); err != nil {
		t.Fatalf("Failed to send open event: %v", err)
	}
	rec.ClosedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	if err := sink.Send(ctx, history.NewEvent(history.EventFaultClose, rec, rec.ClosedAt.Time)); err != nil {
		t.Fatalf("Failed to send close event: %v", err)
	}
	// a resend of the same event is dropped
	if err := sink.Send(ctx, open); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if n := countEvents(t, sink, "LINE-1"); n != 2 {
		t.Fatalf("expected 2 events, got %d", n)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("sqlite://"); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Send(ctx, history.Event{ID: "c1", Station: "LINE-2"}); err == nil {
		t.Fatalf("expected error with cancelled context")
	}
}
