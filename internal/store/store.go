// Package store defines the persistence contracts of the andon engine: the
// station directory, the fault log, the shift baseline log and the shift
// window configuration. Implementations live in the sqlite and postgres
// subpackages; factory selects one from a DSN.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a keyed lookup has no row.
	ErrNotFound = errors.New("not found")
	// ErrNoOpenFault is returned by CloseLatestFault when no unresolved
	// record exists for the station and category.
	ErrNoOpenFault = errors.New("no open fault record")
)

// Station is one polled work-station.
// CategoryMap maps fault category names to frame positions; nil or empty
// means the default map. CountIndex is the frame position of the production
// counter; nil means the configured default.
type Station struct {
	Name        string
	Address     string
	CategoryMap map[string]int
	CountIndex  *int
	Active      bool

	Alive       bool
	ActualCount int64
	UpdatedAt   time.Time
}

// FaultRecord is a persisted fault. ClosedAt is null while the fault is open.
type FaultRecord struct {
	ID       int64
	Station  string
	Category string
	OpenedAt time.Time
	ClosedAt sql.NullTime
}

// Open reports whether the fault is unresolved.
func (r FaultRecord) Open() bool { return !r.ClosedAt.Valid }

// BaselineRecord is the production baseline of one station for one shift
// instance. Baseline is immutable once inserted; Current follows every poll.
type BaselineRecord struct {
	Station     string
	ShiftNum    int
	ShiftDate   string
	Baseline    int64
	Current     int64
	LastUpdated time.Time
}

// ShiftWindow is the stored form of a shift window, times as "HH:MM".
type ShiftWindow struct {
	Number int
	Start  string
	End    string
}

// Directory lists and registers stations.
type Directory interface {
	ActiveStations(ctx context.Context) ([]Station, error)
	GetStation(ctx context.Context, name string) (Station, error)
	UpsertStation(ctx context.Context, st Station) error
}

// Liveness records per-poll station state.
type Liveness interface {
	SetAlive(ctx context.Context, station string, alive bool, at time.Time) error
	SetActualCount(ctx context.Context, station string, count int64, at time.Time) error
}

// FaultLog persists fault open and close edges.
type FaultLog interface {
	// OpenFault inserts an open record. When the station and category already
	// have an open record it is returned with created=false.
	OpenFault(ctx context.Context, station, category string, at time.Time) (rec FaultRecord, created bool, err error)
	// CloseLatestFault closes the highest-id open record for the station and
	// category, or returns ErrNoOpenFault.
	CloseLatestFault(ctx context.Context, station, category string, at time.Time) (FaultRecord, error)
	OpenFaults(ctx context.Context, station string) ([]FaultRecord, error)
}

// BaselineLog persists shift baselines.
type BaselineLog interface {
	GetBaseline(ctx context.Context, station string, shiftNum int, shiftDate string) (BaselineRecord, error)
	// InsertBaseline stores rec unless the key already exists, and returns
	// the stored row either way.
	InsertBaseline(ctx context.Context, rec BaselineRecord) (BaselineRecord, error)
	UpdateCurrent(ctx context.Context, station string, shiftNum int, shiftDate string, current int64, at time.Time) error
}

// ShiftWindowReader reads the stored shift windows.
type ShiftWindowReader interface {
	ShiftWindows(ctx context.Context) ([]ShiftWindow, error)
}

// ShiftConfigSource reads and replaces the stored shift windows.
type ShiftConfigSource interface {
	ShiftWindowReader
	SetShiftWindows(ctx context.Context, ws []ShiftWindow) error
}

// Store is the full persistence surface.
type Store interface {
	Directory
	Liveness
	FaultLog
	BaselineLog
	ShiftConfigSource

	EnsureSchema(ctx context.Context) error
	Close() error
}
