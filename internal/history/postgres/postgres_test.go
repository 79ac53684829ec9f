package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/andon/internal/history"
	"github.com/loykin/andon/internal/store"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	c, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	sink, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	opened := time.Now().Add(-time.Minute).UTC()
	rec := store.FaultRecord{ID: 1, Station: "LINE-1", Category: "Production", OpenedAt: opened}
	open := history.NewEvent(history.EventFaultOpen, rec, opened)
	if err := sink.Send(ctx, open); err != nil {
		t.Fatalf("Failed to send open event: %v", err)
	}
	if err := sink.Send(ctx, open); err != nil {
		t.Fatalf("resend: %v", err)
	}
	rec.ClosedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	if err := sink.Send(ctx, history.NewEvent(history.EventFaultClose, rec, rec.ClosedAt.Time)); err != nil {
		t.Fatalf("Failed to send close event: %v", err)
	}

	var n int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fault_events WHERE record_id = $1`, int64(1)).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 events, got %d", n)
	}
}
