package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/andon/internal/metrics"
)

// RetryConfig bounds the exponential backoff of Retrying.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryConfig keeps a failing write well inside one poll interval.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     400 * time.Millisecond,
		MaxElapsed:      time.Second,
	}
}

// Retrying wraps a Store and retries its write operations on transient
// failure. ErrNotFound, ErrNoOpenFault and context errors are not retried.
// Reads are passed through.
type Retrying struct {
	Store
	cfg RetryConfig
	log *slog.Logger
}

func NewRetrying(s Store, cfg RetryConfig, log *slog.Logger) *Retrying {
	if cfg.InitialInterval <= 0 {
		cfg = DefaultRetryConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retrying{Store: s, cfg: cfg, log: log}
}

func (r *Retrying) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = r.cfg.MaxElapsed
	return backoff.WithContext(b, ctx)
}

func permanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoOpenFault) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func retry[T any](ctx context.Context, r *Retrying, op string, fn func() (T, error)) (T, error) {
	wrapped := func() (T, error) {
		v, err := fn()
		if err != nil && permanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, next time.Duration) {
		metrics.IncStoreRetry(op)
		r.log.Debug("store write failed, retrying", "op", op, "error", err, "next", next)
	}
	return backoff.RetryNotifyWithData(wrapped, r.policy(ctx), notify)
}

func (r *Retrying) exec(ctx context.Context, op string, fn func() error) error {
	_, err := retry(ctx, r, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (r *Retrying) UpsertStation(ctx context.Context, st Station) error {
	return r.exec(ctx, "upsert_station", func() error { return r.Store.UpsertStation(ctx, st) })
}

func (r *Retrying) SetAlive(ctx context.Context, station string, alive bool, at time.Time) error {
	return r.exec(ctx, "set_alive", func() error { return r.Store.SetAlive(ctx, station, alive, at) })
}

func (r *Retrying) SetActualCount(ctx context.Context, station string, count int64, at time.Time) error {
	return r.exec(ctx, "set_actual_count", func() error { return r.Store.SetActualCount(ctx, station, count, at) })
}

type openResult struct {
	rec     FaultRecord
	created bool
}

func (r *Retrying) OpenFault(ctx context.Context, station, category string, at time.Time) (FaultRecord, bool, error) {
	// OpenFault is idempotent on the open record, so a retry after an
	// ambiguous failure returns the row inserted by the first attempt.
	res, err := retry(ctx, r, "open_fault", func() (openResult, error) {
		rec, created, err := r.Store.OpenFault(ctx, station, category, at)
		return openResult{rec, created}, err
	})
	return res.rec, res.created, err
}

func (r *Retrying) CloseLatestFault(ctx context.Context, station, category string, at time.Time) (FaultRecord, error) {
	return retry(ctx, r, "close_fault", func() (FaultRecord, error) {
		return r.Store.CloseLatestFault(ctx, station, category, at)
	})
}

func (r *Retrying) InsertBaseline(ctx context.Context, rec BaselineRecord) (BaselineRecord, error) {
	return retry(ctx, r, "insert_baseline", func() (BaselineRecord, error) {
		return r.Store.InsertBaseline(ctx, rec)
	})
}

func (r *Retrying) UpdateCurrent(ctx context.Context, station string, shiftNum int, shiftDate string, current int64, at time.Time) error {
	return r.exec(ctx, "update_current", func() error {
		return r.Store.UpdateCurrent(ctx, station, shiftNum, shiftDate, current, at)
	})
}

func (r *Retrying) SetShiftWindows(ctx context.Context, ws []ShiftWindow) error {
	return r.exec(ctx, "set_shift_windows", func() error { return r.Store.SetShiftWindows(ctx, ws) })
}
