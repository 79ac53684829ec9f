// Package andon embeds the andon telemetry engine: it polls station
// endpoints, tracks fault edges and shift-relative production counts, and
// exposes a read-only status surface.
package andon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/andon/internal/baseline"
	"github.com/loykin/andon/internal/config"
	"github.com/loykin/andon/internal/fault"
	"github.com/loykin/andon/internal/history"
	histfactory "github.com/loykin/andon/internal/history/factory"
	"github.com/loykin/andon/internal/metrics"
	"github.com/loykin/andon/internal/poller"
	"github.com/loykin/andon/internal/server"
	"github.com/loykin/andon/internal/shift"
	"github.com/loykin/andon/internal/store"
	storefactory "github.com/loykin/andon/internal/store/factory"
)

// Re-export the types embedders need.

type Config = config.Config

type StationStatus = poller.StationStatus

type Resolution = shift.Resolution

type HistorySink = history.Sink

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Engine wires the store, the scheduler and the status surface.
type Engine struct {
	cfg      *Config
	log      *slog.Logger
	store    store.Store
	resolver *shift.Resolver
	sched    *poller.Scheduler
	fanout   *history.Fanout
	router   *server.Router
}

type options struct {
	logger  *slog.Logger
	fetcher poller.Fetcher
	sinks   []history.Named
}

// Option customizes New.
type Option func(*options)

// WithLogger replaces the logger built from the log configuration.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithFetcher replaces the HTTP telemetry fetcher.
func WithFetcher(f poller.Fetcher) Option { return func(o *options) { o.fetcher = f } }

// WithSink adds a history sink next to the configured ones.
func WithSink(name string, s HistorySink) Option {
	return func(o *options) { o.sinks = append(o.sinks, history.Named{Name: name, Sink: s}) }
}

// New opens the store and builds the engine. It does not start polling.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("andon: nil config")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = cfg.Log.NewSlogger()
	}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	windows, err := cfg.ShiftWindows()
	if err != nil {
		return nil, err
	}

	st, err := storefactory.Open(ctx, cfg.Store.DSN, cfg.RetryConfig(), log)
	if err != nil {
		return nil, err
	}
	fan, err := histfactory.NewFanout(cfg.History.Sinks, log, cfg.History.Timeout, o.sinks...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var src shift.Source = shift.StaticSource(windows)
	if cfg.Shift.Source == config.ShiftSourceStore {
		src = shift.NewStoreSource(st, cfg.Shift.CacheTTL)
	}
	resolver := shift.NewResolver(src, loc, log.With("component", "shift"))

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = poller.NewHTTPFetcher(cfg.Poller.Timeout)
	}
	var sink history.Sink
	if fan.Len() > 0 {
		sink = fan
	}
	sched, err := poller.New(poller.Config{
		Interval:   cfg.Poller.Interval,
		Workers:    cfg.Poller.Workers,
		CountIndex: cfg.Poller.CountIndex,
	}, poller.Deps{
		Directory: st,
		Liveness:  st,
		Fetcher:   fetcher,
		Resolver:  resolver,
		Baselines: baseline.NewTracker(st, log.With("component", "baseline")),
		Faults:    fault.NewMachine(st, nil, log.With("component", "fault")),
		Sink:      sink,
		Logger:    log.With("component", "poller"),
	})
	if err != nil {
		_ = fan.Close()
		_ = st.Close()
		return nil, err
	}

	var ropts []server.Option
	if cfg.Metrics.Enabled {
		ropts = append(ropts, server.WithMetrics())
	}
	return &Engine{
		cfg:      cfg,
		log:      log,
		store:    st,
		resolver: resolver,
		sched:    sched,
		fanout:   fan,
		router:   server.NewRouter(sched, st, resolver, ropts...),
	}, nil
}

// Seed writes the configured stations and shift windows into the store.
func (e *Engine) Seed(ctx context.Context) error {
	for _, st := range e.cfg.StoreStations() {
		if err := e.store.UpsertStation(ctx, st); err != nil {
			return fmt.Errorf("seed station %s: %w", st.Name, err)
		}
	}
	windows, err := e.cfg.ShiftWindows()
	if err != nil {
		return err
	}
	if err := e.store.SetShiftWindows(ctx, shift.ToRows(windows)); err != nil {
		return fmt.Errorf("seed shift windows: %w", err)
	}
	e.log.Info("store seeded", "stations", len(e.cfg.Stations), "windows", len(windows))
	return nil
}

// Run polls and serves the status surface, and the metrics listener when
// configured, until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.sched.Run(gctx) })
	if e.cfg.Server.Listen != "" {
		srv := server.NewServer(e.cfg.Server.Listen, e.Handler())
		e.log.Info("status server listening", "addr", e.cfg.Server.Listen)
		g.Go(func() error { return server.Serve(gctx, srv) })
	}
	if e.cfg.Metrics.Enabled && e.cfg.Metrics.Listen != "" {
		msrv := server.NewServer(e.cfg.Metrics.Listen, server.MetricsHandler())
		e.log.Info("metrics server listening", "addr", e.cfg.Metrics.Listen)
		g.Go(func() error { return server.Serve(gctx, msrv) })
	}
	return g.Wait()
}

// PollOnce runs a single polling cycle.
func (e *Engine) PollOnce(ctx context.Context) (poller.CycleResult, error) {
	return e.sched.RunCycle(ctx)
}

// Stations returns the last poll status of every station.
func (e *Engine) Stations() []StationStatus { return e.sched.Snapshot() }

// ResolveShift resolves the shift active at t with the engine's source.
func (e *Engine) ResolveShift(ctx context.Context, t time.Time) (Resolution, error) {
	return e.resolver.Resolve(ctx, t)
}

// Handler returns the status surface.
func (e *Engine) Handler() http.Handler { return e.router.Handler() }

// Close releases the store and the history sinks.
func (e *Engine) Close() error {
	return errors.Join(e.fanout.Close(), e.store.Close())
}
