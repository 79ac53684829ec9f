package fault

import "sync"

// Memory holds the last binary value seen per station and category for the
// life of the process. Each station has its own lock; callers hold it for a
// whole frame so two polls of one station never interleave.
type Memory struct {
	mu       sync.Mutex
	stations map[string]*stationMemory
}

type stationMemory struct {
	mu   sync.Mutex
	vals map[Category]int64
}

func NewMemory() *Memory {
	return &Memory{stations: make(map[string]*stationMemory)}
}

// acquire returns the station's memory locked by the caller.
func (m *Memory) acquire(station string) *stationMemory {
	m.mu.Lock()
	sm, ok := m.stations[station]
	if !ok {
		sm = &stationMemory{vals: make(map[Category]int64)}
		m.stations[station] = sm
	}
	m.mu.Unlock()
	sm.mu.Lock()
	return sm
}

// Snapshot copies the remembered values of a station.
func (m *Memory) Snapshot(station string) map[Category]int64 {
	sm := m.acquire(station)
	defer sm.mu.Unlock()
	out := make(map[Category]int64, len(sm.vals))
	for c, v := range sm.vals {
		out[c] = v
	}
	return out
}

// Known reports whether the station has been observed.
func (m *Memory) Known(station string) bool {
	m.mu.Lock()
	sm, ok := m.stations[station]
	m.mu.Unlock()
	if !ok {
		return false
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.vals) > 0
}

// Forget drops a station, so its next frame seeds again.
func (m *Memory) Forget(station string) {
	m.mu.Lock()
	delete(m.stations, station)
	m.mu.Unlock()
}
