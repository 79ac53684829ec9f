// Package baseline turns a station's raw production counter into a count
// relative to the start of the current shift.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/andon/internal/shift"
	"github.com/loykin/andon/internal/store"
)

// Key identifies one station's shift instance.
type Key struct {
	Station string
	Shift   int
	Date    string
}

func KeyOf(station string, res shift.Resolution) Key {
	return Key{Station: station, Shift: res.Number, Date: res.DateKey()}
}

func (k Key) String() string { return fmt.Sprintf("%s/shift %d/%s", k.Station, k.Shift, k.Date) }

// Tracker keeps baselines in the BaselineLog and caches them in memory.
// The first observation of a key seeds the baseline; later observations
// yield max(0, count-baseline). Baselines are never rewritten.
type Tracker struct {
	log    store.BaselineLog
	logger *slog.Logger

	mu    sync.Mutex
	cache map[Key]int64
}

func NewTracker(bl store.BaselineLog, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{log: bl, logger: logger, cache: make(map[Key]int64)}
}

// Observe records count for the station in the resolved shift. ok is false
// when this call seeded the baseline and there is no reading yet.
func (t *Tracker) Observe(ctx context.Context, station string, count int64, res shift.Resolution, now time.Time) (rel int64, ok bool, err error) {
	key := KeyOf(station, res)
	base, found, err := t.baseline(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if !found {
		row, err := t.log.InsertBaseline(ctx, store.BaselineRecord{
			Station: station, ShiftNum: key.Shift, ShiftDate: key.Date,
			Baseline: count, Current: count, LastUpdated: now,
		})
		if err != nil {
			return 0, false, fmt.Errorf("seed baseline %s: %w", key, err)
		}
		t.remember(key, row.Baseline)
		t.logger.Info("baseline seeded", "station", station, "shift", key.Shift, "date", key.Date, "count", row.Baseline)
		return 0, false, nil
	}

	rel = count - base
	if rel < 0 {
		rel = 0
	}
	if err := t.log.UpdateCurrent(ctx, station, key.Shift, key.Date, count, now); err != nil {
		return rel, true, fmt.Errorf("update current %s: %w", key, err)
	}
	return rel, true, nil
}

func (t *Tracker) baseline(ctx context.Context, key Key) (int64, bool, error) {
	t.mu.Lock()
	v, ok := t.cache[key]
	t.mu.Unlock()
	if ok {
		return v, true, nil
	}
	// a row may exist from before a restart
	row, err := t.log.GetBaseline(ctx, key.Station, key.Shift, key.Date)
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load baseline %s: %w", key, err)
	}
	t.remember(key, row.Baseline)
	return row.Baseline, true, nil
}

func (t *Tracker) remember(key Key, v int64) {
	t.mu.Lock()
	t.cache[key] = v
	t.mu.Unlock()
}

// Prune drops cached baselines of station other than current. The scheduler
// calls it when the station's shift changes.
func (t *Tracker) Prune(station string, current Key) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k := range t.cache {
		if k.Station == station && k != current {
			delete(t.cache, k)
			n++
		}
	}
	return n
}

// Cached returns the cached baseline for key.
func (t *Tracker) Cached(key Key) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.cache[key]
	return v, ok
}
