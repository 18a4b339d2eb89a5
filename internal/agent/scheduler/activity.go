package scheduler

import (
	"sync"
	"time"
)

// Monitor tracks the last observed activity per agent id. Timestamps come
// from time.Now and therefore carry Go's monotonic clock reading, so idle
// detection is immune to wall-clock jumps.
type Monitor struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewMonitor creates an empty activity monitor.
func NewMonitor() *Monitor {
	return &Monitor{entries: make(map[string]time.Time)}
}

// Record stamps the agent with the current time, creating the entry if it
// does not exist yet.
func (m *Monitor) Record(id string) {
	m.mu.Lock()
	m.entries[id] = time.Now()
	m.mu.Unlock()
}

// Idle returns every agent whose last recorded activity is older than the
// threshold.
func (m *Monitor) Idle(threshold time.Duration) []string {
	cutoff := time.Now().Add(-threshold)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var idle []string
	for id, last := range m.entries {
		if last.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}

// Remove drops the agent's activity entry.
func (m *Monitor) Remove(id string) {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

// Len returns the number of tracked agents.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
