package sensors

import (
	"sync"

	"altruist-go/errcode"
	"altruist-go/types"
)

// MaxSensors bounds the registry.
const MaxSensors = 16

// Entry is the bookkeeping kept per registered sensor type.
type Entry struct {
	SensorType    types.SensorType `json:"sensor_type"`
	Spawned       bool             `json:"spawned"`
	LastReadingMs int64            `json:"last_reading_ms"`
	ErrorCount    uint32           `json:"error_count"`
}

// Manager tracks which sensor types are active and their health. Entries
// are never removed. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
}

func NewManager() *Manager { return NewManagerSize(MaxSensors) }

// NewManagerSize returns a manager holding at most n entries.
func NewManagerSize(n int) *Manager {
	if n <= 0 || n > MaxSensors {
		n = MaxSensors
	}
	return &Manager{entries: make([]Entry, 0, n), limit: n}
}

// find is a linear scan; the registry is tiny. Caller holds mu.
func (m *Manager) find(t types.SensorType) *Entry {
	for i := range m.entries {
		if m.entries[i].SensorType == t {
			return &m.entries[i]
		}
	}
	return nil
}

// Register adds t with zeroed counters. Duplicates and a full registry are
// ConfigErrors.
func (m *Manager) Register(t types.SensorType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.find(t) != nil {
		return errcode.New(errcode.ConfigError, "register sensor", t.Name()+" already registered")
	}
	if len(m.entries) >= m.limit {
		return errcode.New(errcode.ConfigError, "register sensor", "registry full")
	}
	m.entries = append(m.entries, Entry{SensorType: t})
	return nil
}

// MarkTaskSpawned flags t as having a running task. Unknown types are ignored.
func (m *Manager) MarkTaskSpawned(t types.SensorType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.find(t); e != nil {
		e.Spawned = true
	}
}

// UpdateSensorStats records an outcome. The timestamp is stored for
// failures too. Unknown types are ignored.
func (m *Manager) UpdateSensorStats(t types.SensorType, tsMs int64, hadError bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.find(t)
	if e == nil {
		return
	}
	e.LastReadingMs = tsMs
	if hadError {
		e.ErrorCount++
	}
}

func (m *Manager) IsRegistered(t types.SensorType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(t) != nil
}

// Stats returns a copy of the entry for t.
func (m *Manager) Stats(t types.SensorType) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.find(t); e != nil {
		return *e, true
	}
	return Entry{}, false
}

// Sensors lists registered types in registration order.
func (m *Manager) Sensors() []types.SensorType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.SensorType, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.SensorType
	}
	return out
}

// Snapshot copies all entries in registration order.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
