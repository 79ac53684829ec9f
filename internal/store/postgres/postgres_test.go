package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/andon/internal/store"
)

// startPostgresContainer starts a PostgreSQL container for tests
// and returns a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("andon"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return ""
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
		cancel()
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Skipf("Failed to get host info: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Skipf("Failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://test:test@%s:%s/andon?sslmode=disable", host, port.Port())
}

func waitForPostgres(t *testing.T, dsn string) {
	t.Helper()
	// the container can report ready before the server accepts connections
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresFaultLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	dsn := startPostgresContainer(t)
	waitForPostgres(t, dsn)

	db, err := New(dsn)
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	if err := db.UpsertStation(ctx, store.Station{Name: "LINE-1", Address: "10.0.0.5", Active: true}); err != nil {
		t.Fatalf("upsert station: %v", err)
	}
	if err := db.SetAlive(ctx, "LINE-1", true, time.Now()); err != nil {
		t.Fatalf("set alive: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec, created, err := db.OpenFault(ctx, "LINE-1", "JMD", now)
	if err != nil || !created {
		t.Fatalf("open: created=%v err=%v", created, err)
	}
	dup, created, err := db.OpenFault(ctx, "LINE-1", "JMD", now.Add(time.Second))
	if err != nil || created || dup.ID != rec.ID {
		t.Fatalf("duplicate open must return existing record: %+v created=%v err=%v", dup, created, err)
	}
	closed, err := db.CloseLatestFault(ctx, "LINE-1", "JMD", now.Add(time.Minute))
	if err != nil || closed.ID != rec.ID {
		t.Fatalf("close: %+v err=%v", closed, err)
	}
	if _, err := db.CloseLatestFault(ctx, "LINE-1", "JMD", now.Add(2*time.Minute)); !errors.Is(err, store.ErrNoOpenFault) {
		t.Fatalf("expected ErrNoOpenFault, got %v", err)
	}

	b, err := db.InsertBaseline(ctx, store.BaselineRecord{Station: "LINE-1", ShiftNum: 1, ShiftDate: "2026-10-14", Baseline: 10, Current: 10, LastUpdated: now})
	if err != nil || b.Baseline != 10 {
		t.Fatalf("insert baseline: %+v err=%v", b, err)
	}
}
