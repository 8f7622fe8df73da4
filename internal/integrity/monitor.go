package integrity

import (
	"fmt"
	"sync"
)

// Monitor wraps the baseline with lifecycle and failure accounting.
// Initialization is idempotent; the failure counter only ever resets on
// an explicit operator-driven recovery path, never automatically.
type Monitor struct {
	mu           sync.Mutex
	root         string
	manifestPath string
	coveredDirs  []string
	manifest     *Manifest
	failureCount int
	anomalies    []string
}

// NewMonitor creates an uninitialized monitor.
func NewMonitor(root string, coveredDirs []string, manifestPath string) *Monitor {
	return &Monitor{
		root:         root,
		manifestPath: manifestPath,
		coveredDirs:  append([]string(nil), coveredDirs...),
	}
}

// Initialize loads an existing baseline or creates and persists a new
// one. Calling it again after a baseline is loaded is a no-op.
func (m *Monitor) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.manifest != nil {
		return nil
	}

	manifest, err := Load(m.manifestPath)
	if err == nil {
		m.manifest = manifest
		return nil
	}

	manifest, err = Create(m.root, m.coveredDirs, m.manifestPath)
	if err != nil {
		return fmt.Errorf("integrity: initialize baseline: %w", err)
	}
	if err := Persist(manifest, m.manifestPath); err != nil {
		return err
	}
	m.manifest = manifest
	return nil
}

// Initialized reports whether a baseline is loaded.
func (m *Monitor) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifest != nil
}

// Verify delegates to the baseline. On failure it increments the
// failure counter and records one anomaly line per mismatch.
func (m *Monitor) Verify() (bool, []Mismatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.manifest == nil {
		return false, nil, fmt.Errorf("integrity: monitor not initialized")
	}

	ok, mismatches := m.manifest.Verify(m.root)
	if !ok {
		m.failureCount++
		for _, mm := range mismatches {
			m.anomalies = append(m.anomalies, fmt.Sprintf("%s: %s", mm.Status, mm.Path))
		}
	}
	return ok, mismatches, nil
}

// FailureCount returns the number of failed verifications since the
// last reset.
func (m *Monitor) FailureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failureCount
}

// Anomalies returns a copy of the accumulated anomaly list.
func (m *Monitor) Anomalies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.anomalies...)
}

// ResetFailureCount clears the counter and the anomaly list. Callers
// must gate this behind an explicit operator recovery action.
func (m *Monitor) ResetFailureCount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureCount = 0
	m.anomalies = nil
}
