package client

import "time"

// StationStatus is one station entry of GET /stations.
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

// Fault is an open or closed fault record.
type Fault struct {
	ID       int64      `json:"id"`
	Station  string     `json:"station"`
	Category string     `json:"category"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// StationDetail is GET /stations/:name.
type StationDetail struct {
	StationStatus
	OpenFaults []Fault `json:"open_faults"`
}

// Shift is GET /shift.
type Shift struct {
	Number   int    `json:"number"`
	Date     string `json:"date"`
	Degraded bool   `json:"degraded"`
	At       string `json:"at,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
