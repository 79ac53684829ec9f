package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/andon/internal/frame"
	"github.com/loykin/andon/internal/metrics"
)

var (
	// ErrFetch covers connection failures and non-2xx responses.
	ErrFetch = errors.New("telemetry fetch failed")
	// ErrFetchTimeout is returned when a fetch exceeds its timeout.
	ErrFetchTimeout = errors.New("telemetry fetch timed out")
)

// maxFrameBytes bounds how much of a response body is read.
const maxFrameBytes = 64 << 10

// Fetcher retrieves and parses one telemetry frame from a station address.
type Fetcher interface {
	Fetch(ctx context.Context, address string) (frame.Frame, error)
}

// HTTPFetcher polls station endpoints with a plain GET.
type HTTPFetcher struct {
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{}, Timeout: timeout}
}

// URL returns the address a station is polled at. Addresses without a
// scheme are polled over http.
func URL(address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	return "http://" + address
}

// Fetch returns the parsed frame, or an error wrapping ErrFetch,
// ErrFetchTimeout or frame.ErrNotTelemetry.
func (f *HTTPFetcher) Fetch(ctx context.Context, address string) (frame.Frame, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, URL(address), nil)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return frame.Frame{}, classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return frame.Frame{}, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return frame.Frame{}, classify(ctx, err)
	}
	return frame.Parse(string(body))
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrFetch, err)
}

// result maps a poll error to its metric label.
func result(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrFetchTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, frame.ErrNotTelemetry):
		return metrics.ResultNotTelemetry
	default:
		return metrics.ResultFetchError
	}
}
