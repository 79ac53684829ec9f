package shift

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/andon/internal/metrics"
	"github.com/loykin/andon/internal/store"
)

// Source supplies the current window configuration.
type Source interface {
	Windows(ctx context.Context) ([]Window, error)
}

// StaticSource serves a fixed configuration.
type StaticSource []Window

func (s StaticSource) Windows(context.Context) ([]Window, error) {
	return append([]Window(nil), s...), nil
}

// StoreSource reads windows from the store's shift configuration and caches
// them for TTL. Invalidate forces the next call to re-read.
type StoreSource struct {
	r   store.ShiftWindowReader
	ttl time.Duration

	mu      sync.Mutex
	cached  []Window
	fetched time.Time
	now     func() time.Time
}

func NewStoreSource(r store.ShiftWindowReader, ttl time.Duration) *StoreSource {
	return &StoreSource{r: r, ttl: ttl, now: time.Now}
}

func (s *StoreSource) Windows(ctx context.Context) ([]Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.ttl > 0 && s.now().Sub(s.fetched) < s.ttl {
		return append([]Window(nil), s.cached...), nil
	}
	rows, err := s.r.ShiftWindows(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := FromRows(rows)
	if err != nil {
		return nil, err
	}
	s.cached, s.fetched = ws, s.now()
	return append([]Window(nil), ws...), nil
}

// Invalidate drops the cached configuration.
func (s *StoreSource) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// FromRows converts stored "HH:MM" rows to windows.
func FromRows(rows []store.ShiftWindow) ([]Window, error) {
	out := make([]Window, 0, len(rows))
	for _, r := range rows {
		start, err := ParseClock(r.Start)
		if err != nil {
			return nil, fmt.Errorf("shift %d start: %w", r.Number, err)
		}
		end, err := ParseClock(r.End)
		if err != nil {
			return nil, fmt.Errorf("shift %d end: %w", r.Number, err)
		}
		out = append(out, Window{Number: r.Number, Start: start, End: end})
	}
	return out, nil
}

// ToRows converts windows to their stored form.
func ToRows(ws []Window) []store.ShiftWindow {
	out := make([]store.ShiftWindow, 0, len(ws))
	for _, w := range ws {
		out = append(out, store.ShiftWindow{Number: w.Number, Start: w.Start.String(), End: w.End.String()})
	}
	return out
}

// Resolver resolves shifts in a fixed location using a Source. When the
// source fails it keeps using the last configuration it read, or
// DefaultWindows if it never read one.
type Resolver struct {
	src Source
	loc *time.Location
	log *slog.Logger

	mu   sync.Mutex
	last []Window
}

func NewResolver(src Source, loc *time.Location, log *slog.Logger) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{src: src, loc: loc, log: log}
}

// Location returns the zone shift dates are computed in.
func (r *Resolver) Location() *time.Location { return r.loc }

// Resolve returns the shift active at now. A non-nil error wraps
// ErrUnresolved and accompanies the fallback resolution; callers may keep
// going with it.
func (r *Resolver) Resolve(ctx context.Context, now time.Time) (Resolution, error) {
	ws := r.windows(ctx)
	res := Resolve(now.In(r.loc), ws)
	if res.Degraded {
		metrics.IncShiftDegraded()
		r.log.Warn("shift configuration did not match, using fallback",
			"at", now.In(r.loc).Format(time.RFC3339), "fallback", res.String())
		return res, fmt.Errorf("%w at %s", ErrUnresolved, ClockOf(now.In(r.loc)))
	}
	return res, nil
}

func (r *Resolver) windows(ctx context.Context) []Window {
	ws, err := r.src.Windows(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.log.Warn("shift configuration unavailable", "error", err)
		if r.last != nil {
			return r.last
		}
		return DefaultWindows()
	}
	r.last = ws
	return ws
}
