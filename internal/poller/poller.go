// Package poller drives the andon engine: on a fixed interval it lists the
// active stations, fetches each station's frame and feeds it through the
// baseline tracker and the fault state machine.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/andon/internal/baseline"
	"github.com/loykin/andon/internal/fault"
	"github.com/loykin/andon/internal/frame"
	"github.com/loykin/andon/internal/history"
	"github.com/loykin/andon/internal/metrics"
	"github.com/loykin/andon/internal/shift"
	"github.com/loykin/andon/internal/store"
)

// ErrBusy is returned by PollStation when the previous poll of the station
// has not finished.
var ErrBusy = errors.New("station poll already in flight")

// Config tunes the scheduler.
type Config struct {
	Interval time.Duration
	// Workers bounds concurrent station polls within a cycle.
	Workers int
	// CountIndex is the frame position of the production counter for
	// stations that do not set their own.
	CountIndex int
}

func DefaultConfig() Config {
	return Config{Interval: 1500 * time.Millisecond, Workers: 4, CountIndex: 1}
}

// Deps are the collaborators of a Scheduler. Sink may be nil.
type Deps struct {
	Directory store.Directory
	Liveness  store.Liveness
	Fetcher   Fetcher
	Resolver  *shift.Resolver
	Baselines *baseline.Tracker
	Faults    *fault.Machine
	Sink      history.Sink
	Logger    *slog.Logger
}

// StationStatus is the last known poll outcome of a station.
type StationStatus struct {
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	Alive         bool      `json:"alive"`
	LastPoll      time.Time `json:"last_poll"`
	LastError     string    `json:"last_error,omitempty"`
	ActualCount   *int64    `json:"actual_count,omitempty"`
	RelativeCount *int64    `json:"relative_count,omitempty"`
	Shift         int       `json:"shift,omitempty"`
	ShiftDate     string    `json:"shift_date,omitempty"`
	Faulted       []string  `json:"faulted,omitempty"`
}

// CycleResult summarizes one polling cycle.
type CycleResult struct {
	Stations int
	Failed   int
	Skipped  int
}

// Scheduler polls stations. Its fault memory and baseline cache live for
// the life of the Scheduler.
type Scheduler struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time

	inflight sync.Map // station -> *atomic.Bool

	mu        sync.RWMutex
	status    map[string]StationStatus
	lastShift map[string]shift.Resolution
	current   shift.Resolution
	currentAt time.Time
}

func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Directory == nil || deps.Liveness == nil || deps.Fetcher == nil ||
		deps.Resolver == nil || deps.Baselines == nil || deps.Faults == nil {
		return nil, errors.New("poller: missing dependency")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poller: interval must be > 0, got %s", cfg.Interval)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.CountIndex < 0 {
		return nil, fmt.Errorf("poller: count index must be >= 0, got %d", cfg.CountIndex)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		deps:      deps,
		log:       log,
		now:       time.Now,
		status:    make(map[string]StationStatus),
		lastShift: make(map[string]shift.Resolution),
	}, nil
}

// Run polls until ctx is done. The first cycle starts immediately. A
// cancelled ctx stops new cycles and waits for running ones; their fetches
// and writes are not cancelled with it.
func (s *Scheduler) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RunCycle(work); err != nil {
				s.log.Error("poll cycle failed", "error", err)
			}
		}()
	}

	s.log.Info("poller started", "interval", s.cfg.Interval, "workers", s.cfg.Workers)
	launch()
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.log.Info("poller stopped")
			return nil
		case <-t.C:
			launch()
		}
	}
}

// RunCycle polls every active station once. Station failures are counted,
// never returned; the error is only set when the directory cannot be read.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	stations, err := s.deps.Directory.ActiveStations(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("list stations: %w", err)
	}
	res := CycleResult{Stations: len(stations)}
	var failed, skipped atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for _, st := range stations {
		g.Go(func() error {
			err := s.PollStation(ctx, st)
			switch {
			case errors.Is(err, ErrBusy):
				skipped.Add(1)
			case err != nil:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	res.Failed = int(failed.Load())
	res.Skipped = int(skipped.Load())
	return res, nil
}

func (s *Scheduler) guard(station string) *atomic.Bool {
	v, _ := s.inflight.LoadOrStore(station, new(atomic.Bool))
	return v.(*atomic.Bool)
}

// PollStation polls one station. It returns ErrBusy without polling when
// another poll of the station is in flight. Fetch failures mark the station
// not alive and leave fault and baseline state untouched. Errors from the
// derived steps are logged and joined into the result; later steps still run.
func (s *Scheduler) PollStation(ctx context.Context, st store.Station) error {
	busy := s.guard(st.Name)
	if !busy.CompareAndSwap(false, true) {
		metrics.IncPollSkipped(st.Name)
		s.log.Debug("skipping overlapping poll", "station", st.Name)
		return ErrBusy
	}
	defer busy.Store(false)

	started := s.now()
	fr, err := s.deps.Fetcher.Fetch(ctx, st.Address)
	metrics.ObservePollDuration(st.Name, s.now().Sub(started).Seconds())
	metrics.IncPoll(st.Name, result(err))
	if err != nil {
		s.markDead(ctx, st, started, err)
		return err
	}
	return s.apply(ctx, st, fr, started)
}

func (s *Scheduler) markDead(ctx context.Context, st store.Station, at time.Time, cause error) {
	metrics.SetStationAlive(st.Name, false)
	if errors.Is(cause, frame.ErrNotTelemetry) {
		s.log.Warn("station returned non-telemetry response", "station", st.Name, "address", st.Address, "error", cause)
	} else {
		s.log.Debug("station unreachable", "station", st.Name, "address", st.Address, "error", cause)
	}
	if err := s.deps.Liveness.SetAlive(ctx, st.Name, false, at); err != nil {
		s.log.Error("record liveness", "station", st.Name, "error", err)
	}
	s.update(st, func(ss *StationStatus) {
		ss.Alive = false
		ss.LastPoll = at
		ss.LastError = cause.Error()
	})
}

func (s *Scheduler) apply(ctx context.Context, st store.Station, fr frame.Frame, now time.Time) error {
	var errs []error
	metrics.SetStationAlive(st.Name, true)
	if err := s.deps.Liveness.SetAlive(ctx, st.Name, true, now); err != nil {
		errs = append(errs, fmt.Errorf("set alive: %w", err))
	}
	s.update(st, func(ss *StationStatus) {
		ss.Alive = true
		ss.LastPoll = now
		ss.LastError = ""
	})

	res, err := s.deps.Resolver.Resolve(ctx, now)
	if err != nil {
		// fallback resolution is still usable
		s.log.Debug("shift resolved degraded", "station", st.Name, "error", err)
	}
	s.trackShift(st.Name, res, now)

	countIdx := s.cfg.CountIndex
	if st.CountIndex != nil {
		countIdx = *st.CountIndex
	}
	if count, err := fr.At(countIdx); err == nil {
		if err := s.deps.Liveness.SetActualCount(ctx, st.Name, count, now); err != nil {
			errs = append(errs, fmt.Errorf("set actual count: %w", err))
		}
		rel, ok, err := s.deps.Baselines.Observe(ctx, st.Name, count, res, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("baseline: %w", err))
		}
		if ok {
			metrics.SetRelativeCount(st.Name, rel)
		}
		s.update(st, func(ss *StationStatus) {
			ss.ActualCount = &count
			ss.Shift, ss.ShiftDate = res.Number, res.DateKey()
			if ok {
				ss.RelativeCount = &rel
			} else {
				ss.RelativeCount = nil
			}
		})
	} else {
		s.log.Debug("count field not present", "station", st.Name, "index", countIdx, "error", err)
	}

	idx, err := fault.ResolveIndexMap(st.CategoryMap)
	if err != nil {
		s.log.Warn("skipping fault processing", "station", st.Name, "error", err)
		errs = append(errs, err)
		return errors.Join(errs...)
	}
	events, err := s.deps.Faults.Process(ctx, st.Name, fr, idx)
	if err != nil {
		s.log.Error("fault processing", "station", st.Name, "error", err)
		errs = append(errs, err)
	}
	s.publish(ctx, events)
	s.update(st, func(ss *StationStatus) {
		ss.Faulted = faulted(s.deps.Faults.Memory().Snapshot(st.Name))
	})
	return errors.Join(errs...)
}

func (s *Scheduler) publish(ctx context.Context, events []history.Event) {
	if s.deps.Sink == nil {
		return
	}
	for _, e := range events {
		if err := s.deps.Sink.Send(ctx, e); err != nil {
			s.log.Warn("history send", "station", e.Station, "event", e.Type, "error", err)
		}
	}
}

// trackShift logs shift changes per station and drops cached baselines of
// the previous shift. The scheduler-wide shift only moves forward: a
// resolution from a poll that started before the current one is ignored
// there. It reports whether the scheduler-wide shift changed.
func (s *Scheduler) trackShift(station string, res shift.Resolution, at time.Time) bool {
	s.mu.Lock()
	prev, seen := s.lastShift[station]
	s.lastShift[station] = res
	changed := false
	if !at.Before(s.currentAt) {
		changed = s.current.Number != 0 && !s.current.Equal(res)
		s.current, s.currentAt = res, at
	}
	s.mu.Unlock()

	if changed {
		metrics.IncShiftChange(strconv.Itoa(res.Number))
	}
	if seen && !prev.Equal(res) {
		n := s.deps.Baselines.Prune(station, baseline.KeyOf(station, res))
		s.log.Info("shift changed", "station", station, "from", prev.String(), "to", res.String(), "pruned", n)
	}
	return changed
}

func (s *Scheduler) update(st store.Station, fn func(*StationStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.status[st.Name]
	if !ok {
		ss = StationStatus{Name: st.Name}
	}
	ss.Address = st.Address
	fn(&ss)
	s.status[st.Name] = ss
}

// Snapshot returns the status of every polled station ordered by name.
func (s *Scheduler) Snapshot() []StationStatus {
	s.mu.RLock()
	out := make([]StationStatus, 0, len(s.status))
	for _, ss := range s.status {
		out = append(out, ss)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Status returns the status of one station.
func (s *Scheduler) Status(station string) (StationStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ss, ok := s.status[station]
	return ss, ok
}

// CurrentShift returns the most recent resolution of any poll.
func (s *Scheduler) CurrentShift() (shift.Resolution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current.Number != 0
}

func faulted(mem map[fault.Category]int64) []string {
	var out []string
	for _, c := range fault.Categories {
		if v, ok := mem[c]; ok && v == 0 {
			out = append(out, string(c))
		}
	}
	return out
}
