// Package frame parses the compact numeric telemetry frame served by a
// station endpoint, e.g. "{1,4061,1,6010,0,0,0,0}".
package frame

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrNotTelemetry is returned when a response does not look like a
	// delimited numeric frame (for example an HTML error page).
	ErrNotTelemetry = errors.New("response is not a telemetry frame")
	// ErrFrameTooShort is returned by At when the position lies beyond the frame.
	ErrFrameTooShort = errors.New("frame too short")
	// ErrBadField is returned by At when the token at a position was not numeric.
	ErrBadField = errors.New("non-numeric field")
)

// Frame is an ordered sequence of values parsed from one station response.
// Frames may be shorter than any consumer expects; use At to index.
type Frame struct {
	vals []int64
	bad  []bool
}

// New builds a frame from already-decoded values.
func New(vals ...int64) Frame {
	return Frame{vals: append([]int64(nil), vals...), bad: make([]bool, len(vals))}
}

// Len returns the number of comma-separated positions in the frame.
func (f Frame) Len() int { return len(f.vals) }

// At returns the value at position i.
func (f Frame) At(i int) (int64, error) {
	if i < 0 || i >= len(f.vals) {
		return 0, fmt.Errorf("%w: position %d, length %d", ErrFrameTooShort, i, len(f.vals))
	}
	if f.bad[i] {
		return 0, fmt.Errorf("%w at position %d", ErrBadField, i)
	}
	return f.vals[i], nil
}

// Values returns a copy of the decoded values. Non-numeric positions are 0.
func (f Frame) Values() []int64 { return append([]int64(nil), f.vals...) }

// Head returns at most n leading values, for logging.
func (f Frame) Head(n int) []int64 {
	if n > len(f.vals) {
		n = len(f.vals)
	}
	return append([]int64(nil), f.vals[:n]...)
}

// Parse converts a raw response body into a Frame.
//
// Enclosing braces are stripped and the body is split on commas. An empty
// body or "{}" yields an empty frame. A body starting with a markup tag, or
// one where no token is numeric, yields ErrNotTelemetry.
func Parse(raw string) (Frame, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "<") {
		return Frame{}, ErrNotTelemetry
	}
	s = strings.TrimSpace(strings.Trim(s, "{}[]"))
	if s == "" {
		return Frame{}, nil
	}
	tokens := strings.Split(s, ",")
	f := Frame{vals: make([]int64, len(tokens)), bad: make([]bool, len(tokens))}
	numeric := 0
	for i, tok := range tokens {
		v, ok := parseToken(strings.TrimSpace(tok))
		if !ok {
			f.bad[i] = true
			continue
		}
		f.vals[i] = v
		numeric++
	}
	if numeric == 0 {
		return Frame{}, ErrNotTelemetry
	}
	return f, nil
}

func parseToken(tok string) (int64, bool) {
	if tok == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return v, true
	}
	// some firmwares print counters as "4061.0"
	fv, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(fv) || math.IsInf(fv, 0) || fv != math.Trunc(fv) {
		return 0, false
	}
	if fv > math.MaxInt64 || fv < math.MinInt64 {
		return 0, false
	}
	return int64(fv), true
}
