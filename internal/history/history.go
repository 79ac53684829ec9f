// Package history exports fault events to downstream systems. The fault
// log in the store is authoritative; sinks receive a best-effort copy.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/andon/internal/metrics"
	"github.com/loykin/andon/internal/store"
)

// EventType defines the kind of fault edge.
type EventType string

const (
	EventFaultOpen  EventType = "fault_open"
	EventFaultClose EventType = "fault_close"
)

// Event is one fault edge as exported to sinks.
type Event struct {
	ID         string     `json:"id"`
	Type       EventType  `json:"type"`
	Station    string     `json:"station"`
	Category   string     `json:"category"`
	RecordID   int64      `json:"record_id"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// NewEvent builds an event for rec with a fresh id.
func NewEvent(t EventType, rec store.FaultRecord, at time.Time) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       t,
		Station:    rec.Station,
		Category:   rec.Category,
		RecordID:   rec.ID,
		OpenedAt:   rec.OpenedAt.UTC(),
		OccurredAt: at.UTC(),
	}
	if rec.ClosedAt.Valid {
		c := rec.ClosedAt.Time.UTC()
		e.ClosedAt = &c
	}
	return e
}

// Duration is the fault's open time, zero while it is open.
func (e Event) Duration() time.Duration {
	if e.ClosedAt == nil {
		return 0
	}
	return e.ClosedAt.Sub(e.OpenedAt)
}

// Sink is a destination for fault events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Named pairs a sink with the label used in logs and metrics.
type Named struct {
	Name string
	Sink Sink
}

// Fanout delivers each event to every sink. A failing sink does not stop
// delivery to the others.
type Fanout struct {
	sinks   []Named
	timeout time.Duration
	log     *slog.Logger
}

func NewFanout(log *slog.Logger, timeout time.Duration, sinks ...Named) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fanout{sinks: sinks, timeout: timeout, log: log}
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range f.sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := s.Sink.Send(sctx, e)
		cancel()
		if err != nil {
			metrics.IncSinkError(s.Name)
			f.log.Warn("history sink rejected event", "sink", s.Name, "event", e.ID, "type", e.Type, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.Sink.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}
