package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/andon/internal/metrics"
	"github.com/loykin/andon/internal/poller"
	"github.com/loykin/andon/internal/shift"
	"github.com/loykin/andon/internal/store"
)

// StatusSource is the read side of the poller.
type StatusSource interface {
	Snapshot() []poller.StationStatus
	Status(station string) (poller.StationStatus, bool)
	CurrentShift() (shift.Resolution, bool)
}

// Router serves the read-only status surface.
// Endpoints:
//
//	GET {basePath}/healthz
//	GET {basePath}/stations
//	GET {basePath}/stations/:name   includes open fault records
//	GET {basePath}/faults           query: station=... (optional)
//	GET {basePath}/shift            query: at=RFC3339 (optional)
//	GET {basePath}/metrics          when metrics are enabled
type Router struct {
	status   StatusSource
	faults   store.FaultLog
	resolver *shift.Resolver
	basePath string
	metrics  bool
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics mounts the Prometheus handler.
func WithMetrics() Option { return func(r *Router) { r.metrics = true } }

// WithBasePath prefixes every route. Example "/abc" yields /abc/stations.
func WithBasePath(bp string) Option { return func(r *Router) { r.basePath = basePath(bp) } }

func NewRouter(status StatusSource, faults store.FaultLog, resolver *shift.Resolver, opts ...Option) *Router {
	r := &Router{status: status, faults: faults, resolver: resolver}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/stations", r.handleStations)
	group.GET("/stations/:name", r.handleStation)
	group.GET("/faults", r.handleFaults)
	group.GET("/shift", r.handleShift)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// MetricsHandler serves only GET /metrics, for a dedicated metrics listener.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// NewServer returns an http.Server for h with conservative timeouts.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type faultResp struct {
	ID       int64      `json:"id"`
	Station  string     `json:"station"`
	Category string     `json:"category"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

type stationResp struct {
	poller.StationStatus
	OpenFaults []faultResp `json:"open_faults"`
}

type shiftResp struct {
	Number   int    `json:"number"`
	Date     string `json:"date"`
	Degraded bool   `json:"degraded"`
	At       string `json:"at,omitempty"`
}

func toFaultResp(recs []store.FaultRecord) []faultResp {
	out := make([]faultResp, 0, len(recs))
	for _, rec := range recs {
		fr := faultResp{ID: rec.ID, Station: rec.Station, Category: rec.Category, OpenedAt: rec.OpenedAt}
		if rec.ClosedAt.Valid {
			t := rec.ClosedAt.Time
			fr.ClosedAt = &t
		}
		out = append(out, fr)
	}
	return out
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStations(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.status.Snapshot())
}

func (r *Router) handleStation(c *gin.Context) {
	name := c.Param("name")
	if !store.ValidStationName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid station name"})
		return
	}
	st, ok := r.status.Status(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "station not polled yet"})
		return
	}
	resp := stationResp{StationStatus: st, OpenFaults: []faultResp{}}
	if r.faults != nil {
		recs, err := r.faults.OpenFaults(c.Request.Context(), name)
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		resp.OpenFaults = toFaultResp(recs)
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleFaults(c *gin.Context) {
	if r.faults == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "fault log not configured"})
		return
	}
	station := c.Query("station")
	if station != "" && !store.ValidStationName(station) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid station name"})
		return
	}
	recs, err := r.faults.OpenFaults(c.Request.Context(), station)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, toFaultResp(recs))
}

// handleShift resolves ?at= when given. Without it the shift of the latest
// poll is returned, or the shift at the current time before the first poll.
func (r *Router) handleShift(c *gin.Context) {
	at := c.Query("at")
	if at == "" && r.status != nil {
		if res, ok := r.status.CurrentShift(); ok {
			writeJSON(c, http.StatusOK, shiftResp{Number: res.Number, Date: res.DateKey(), Degraded: res.Degraded})
			return
		}
	}
	if r.resolver == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "shift resolver not configured"})
		return
	}
	now := time.Now()
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid at: " + err.Error()})
			return
		}
		now = t
	}
	res, _ := r.resolver.Resolve(c.Request.Context(), now)
	writeJSON(c, http.StatusOK, shiftResp{
		Number:   res.Number,
		Date:     res.DateKey(),
		Degraded: res.Degraded,
		At:       now.In(r.resolver.Location()).Format(time.RFC3339),
	})
}
