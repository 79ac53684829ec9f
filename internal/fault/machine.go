// Package fault detects fault edges in station telemetry. Each category of
// a station is a binary channel: 1 is healthy, 0 is faulted. A 1->0 edge
// opens a fault record and a 0->1 edge closes the latest open one.
package fault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/andon/internal/frame"
	"github.com/loykin/andon/internal/history"
	"github.com/loykin/andon/internal/metrics"
	"github.com/loykin/andon/internal/store"
)

const (
	healthy = 1
	faulted = 0
)

// ErrInconsistentClose marks a close edge that found no open record.
var ErrInconsistentClose = errors.New("close edge without open fault")

// Machine runs the per-category state machine against a FaultLog.
type Machine struct {
	log    store.FaultLog
	mem    *Memory
	logger *slog.Logger
	now    func() time.Time
}

func NewMachine(fl store.FaultLog, mem *Memory, logger *slog.Logger) *Machine {
	if mem == nil {
		mem = NewMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{log: fl, mem: mem, logger: logger, now: time.Now}
}

// Memory returns the state memory the machine updates.
func (m *Machine) Memory() *Memory { return m.mem }

// Process applies one frame of a station and returns the events persisted
// for it. The first frame of a station only seeds memory. Categories whose
// position lies beyond the frame are skipped without touching memory.
// Memory always advances to the frame's values, also when persisting an
// edge fails; such failures are joined into the returned error.
func (m *Machine) Process(ctx context.Context, station string, fr frame.Frame, idx IndexMap) ([]history.Event, error) {
	if idx == nil {
		idx = DefaultIndexMap()
	}
	sm := m.mem.acquire(station)
	defer sm.mu.Unlock()

	if len(sm.vals) == 0 {
		for _, c := range Categories {
			if v, err := fr.At(idx[c]); err == nil {
				sm.vals[c] = v
			}
		}
		if len(sm.vals) > 0 {
			m.logger.Debug("fault memory seeded", "station", station, "categories", len(sm.vals))
		}
		return nil, nil
	}

	now := m.now()
	var (
		events []history.Event
		errs   []error
	)
	for _, c := range Categories {
		cur, err := fr.At(idx[c])
		if err != nil {
			continue
		}
		prev, had := sm.vals[c]
		sm.vals[c] = cur
		if !had {
			continue
		}
		switch {
		case prev == healthy && cur == faulted:
			ev, err := m.open(ctx, station, c, now)
			if err != nil {
				errs = append(errs, err)
			} else if ev != nil {
				events = append(events, *ev)
			}
		case prev == faulted && cur == healthy:
			ev, err := m.close(ctx, station, c, now)
			if err != nil {
				errs = append(errs, err)
			} else if ev != nil {
				events = append(events, *ev)
			}
		}
	}
	return events, errors.Join(errs...)
}

func (m *Machine) open(ctx context.Context, station string, c Category, now time.Time) (*history.Event, error) {
	rec, created, err := m.log.OpenFault(ctx, station, string(c), now)
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", station, c, err)
	}
	if !created {
		m.logger.Info("fault already open", "station", station, "category", c, "record", rec.ID)
		return nil, nil
	}
	metrics.IncFaultOpened(station, string(c))
	m.logger.Info("fault opened", "station", station, "category", c, "record", rec.ID)
	ev := history.NewEvent(history.EventFaultOpen, rec, now)
	return &ev, nil
}

func (m *Machine) close(ctx context.Context, station string, c Category, now time.Time) (*history.Event, error) {
	rec, err := m.log.CloseLatestFault(ctx, station, string(c), now)
	if errors.Is(err, store.ErrNoOpenFault) {
		metrics.IncInconsistentClose(station, string(c))
		m.logger.Warn("dropping close edge", "station", station, "category", c,
			"error", fmt.Errorf("%w: %v", ErrInconsistentClose, err))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("close %s/%s: %w", station, c, err)
	}
	metrics.IncFaultClosed(station, string(c))
	m.logger.Info("fault closed", "station", station, "category", c, "record", rec.ID,
		"open_for", rec.ClosedAt.Time.Sub(rec.OpenedAt).Round(time.Second))
	ev := history.NewEvent(history.EventFaultClose, rec, now)
	return &ev, nil
}
