package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll results used as the "result" label of polls_total.
const (
	ResultOK           = "ok"
	ResultFetchError   = "fetch_error"
	ResultTimeout      = "timeout"
	ResultNotTelemetry = "not_telemetry"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "andon",
			Subsystem: "poller",
			Name:      "polls_total",
			Help:      "Station polls by result.",
		}, []string{"station", "result"},
	)
	pollSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "andon",
			Subsystem: "poller",
			Name:      "skipped_total",
			Help:      "Polls skipped because the previous poll of the station was still running.",
		}, []string{"station"},
	)
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "andon",
			Subsystem: "poller",
			Name:      "poll_duration_seconds",
			Help:      "Time from fetch start to the end of derived processing for one station.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"station"},
	)
	stationAlive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "andon",
			Subsystem: "station",
			Name:      "alive",
			Help:      "1 when the last poll of the station returned telemetry.",
		}, []string{"station"},
	)
	relativeCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "andon",
			Subsystem: "station",
			Name:      "shift_relative_count",
			Help:      "Production count since the start of the current shift.",
		}, []string{"station"},
	)
	faultsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "andon",
			Subsystem: "fault",
			Name:      "opened_total",
			Help:      "Fault open edges persisted.",
		}, []string{"station", "category"},
	)
	faultsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "andon",
			Subsystem: "fault",
			Name:      "closed_total",
			Help:      "Fault close edges persisted.",
		}, []string{"station", "category"},
	)
	inconsistentCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "andon",
			Subsystem: "fault",
			Name:      "inconsistent_close_total",
			Help:      "Close edges dropped because no open record existed.",
		}, []string{"station", "category"},
	)
	shiftDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "andon",
			Subsystem: "shift",
			Name:      "degraded_total",
			Help:      "Shift resolutions that fell back because no window matched.",
		},
	)
	shiftChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "andon",
			Subsystem: "shift",
			Name:      "changes_total",
			Help:      "Shift boundaries observed by the scheduler.",
		}, []string{"shift"},
	)
	storeRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "andon",
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Store write retries after a transient failure.",
		}, []string{"op"},
	)
	sinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "andon",
			Subsystem: "history",
			Name:      "sink_errors_total",
			Help:      "Fault events a history sink failed to accept.",
		}, []string{"sink"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		polls, pollSkipped, pollDuration, stationAlive, relativeCount,
		faultsOpened, faultsClosed, inconsistentCloses,
		shiftDegraded, shiftChanges, storeRetries, sinkErrors,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncPoll(station, result string) {
	if regOK.Load() {
		polls.WithLabelValues(station, result).Inc()
	}
}

func IncPollSkipped(station string) {
	if regOK.Load() {
		pollSkipped.WithLabelValues(station).Inc()
	}
}

func ObservePollDuration(station string, seconds float64) {
	if regOK.Load() {
		pollDuration.WithLabelValues(station).Observe(seconds)
	}
}

func SetStationAlive(station string, alive bool) {
	if regOK.Load() {
		v := 0.0
		if alive {
			v = 1
		}
		stationAlive.WithLabelValues(station).Set(v)
	}
}

func SetRelativeCount(station string, n int64) {
	if regOK.Load() {
		relativeCount.WithLabelValues(station).Set(float64(n))
	}
}

func IncFaultOpened(station, category string) {
	if regOK.Load() {
		faultsOpened.WithLabelValues(station, category).Inc()
	}
}

func IncFaultClosed(station, category string) {
	if regOK.Load() {
		faultsClosed.WithLabelValues(station, category).Inc()
	}
}

func IncInconsistentClose(station, category string) {
	if regOK.Load() {
		inconsistentCloses.WithLabelValues(station, category).Inc()
	}
}

func IncShiftDegraded() {
	if regOK.Load() {
		shiftDegraded.Inc()
	}
}

func IncShiftChange(shift string) {
	if regOK.Load() {
		shiftChanges.WithLabelValues(shift).Inc()
	}
}

func IncStoreRetry(op string) {
	if regOK.Load() {
		storeRetries.WithLabelValues(op).Inc()
	}
}

func IncSinkError(sink string) {
	if regOK.Load() {
		sinkErrors.WithLabelValues(sink).Inc()
	}
}
