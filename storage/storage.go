// Package storage exports refreshed telemetry snapshots to files and SQL
// databases. Exports are write-only; nothing is read back.
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eddielth/ksysguardd-nvidia/config"
	"github.com/eddielth/ksysguardd-nvidia/fields"
	"github.com/eddielth/ksysguardd-nvidia/logger"
)

// Sample is one field value of one device.
type Sample struct {
	Device int      `json:"device"`
	Field  string   `json:"field"`
	Type   string   `json:"type"`
	Value  string   `json:"value"`
	Number *float64 `json:"number,omitempty"`
	Unit   string   `json:"unit,omitempty"`
}

// StorageBackend persists the samples of one snapshot.
type StorageBackend interface {
	Store(capturedAt time.Time, samples []Sample) error
	Close() error
}

// Manager fans snapshots out to every configured backend.
type Manager struct {
	backends []StorageBackend
	mutex    sync.RWMutex
}

// NewManager creates a Manager for backends.
func NewManager(backends []StorageBackend) *Manager {
	return &Manager{
		backends: backends,
	}
}

// NewManagerFromConfig opens the backends enabled in cfg.
func NewManagerFromConfig(cfg config.StorageConfig) (*Manager, error) {
	m := NewManager(nil)

	if cfg.File.Enabled {
		fs, err := NewFileStorage(cfg.File.Path)
		if err != nil {
			return nil, err
		}
		m.AddBackend(fs)
	}

	if cfg.Database.Enabled {
		db, err := NewDatabaseStorage(cfg.Database.Type, cfg.Database.DSN)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.AddBackend(db)
	}
	return m, nil
}

// Len returns the number of backends.
func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.backends)
}

// Store flattens snapshot and writes it to all backends. A failing backend
// does not stop the others; all failures are returned together.
func (m *Manager) Store(capturedAt time.Time, snapshot *fields.Snapshot) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if len(m.backends) == 0 {
		return nil
	}

	samples := Flatten(snapshot)
	var errs []error
	for _, backend := range m.backends {
		if err := backend.Store(capturedAt, samples); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all backends.
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			logger.Error("failed to close storage backend: %v", err)
		}
	}
	m.backends = nil
}

// AddBackend registers another backend.
func (m *Manager) AddBackend(backend StorageBackend) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.backends = append(m.backends, backend)
}

// Flatten lists every integer and float field of every device. Fields whose
// value cannot be produced are left out.
func Flatten(snapshot *fields.Snapshot) []Sample {
	var samples []Sample
	for _, rec := range snapshot.Records() {
		for _, id := range rec.Identifiers() {
			f, err := rec.Field(id)
			if err != nil || f.Type() == fields.ListView {
				continue
			}

			value, err := rec.Value(id)
			if err != nil {
				logger.Debug("skipping %s of device %d: %v", id, rec.Index(), err)
				continue
			}

			s := Sample{
				Device: rec.Index(),
				Field:  string(id),
				Type:   string(f.Type()),
				Value:  value,
				Unit:   f.Unit(),
			}
			if n, err := rec.Number(id); err == nil {
				s.Number = &n
			}
			samples = append(samples, s)
		}
	}
	return samples
}

// groupByDevice splits samples per device, keeping their order.
func groupByDevice(samples []Sample) ([]int, map[int][]Sample) {
	var devices []int
	groups := make(map[int][]Sample)
	for _, s := range samples {
		if _, ok := groups[s.Device]; !ok {
			devices = append(devices, s.Device)
		}
		groups[s.Device] = append(groups[s.Device], s)
	}
	return devices, groups
}

func deviceName(device int) string {
	return fmt.Sprintf("device%d", device)
}
