package integrity

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestMonitor(t *testing.T) (*Monitor, string) {
	t.Helper()
	root := newTestTree(t)
	m := NewMonitor(root, covered(), filepath.Join(root, ".vigil", "manifest.json"))
	if err := m.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m, root
}

func TestInitializeIsIdempotent(t *testing.T) {
	m, _ := newTestMonitor(t)
	if err := m.Initialize(); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if !m.Initialized() {
		t.Fatal("monitor should be initialized")
	}
}

func TestInitializeLoadsExistingBaseline(t *testing.T) {
	m, root := newTestMonitor(t)
	_ = m

	// A second monitor over the same root must load, not re-create.
	m2 := NewMonitor(root, covered(), filepath.Join(root, ".vigil", "manifest.json"))
	if err := m2.Initialize(); err != nil {
		t.Fatalf("initialize over existing baseline: %v", err)
	}
	ok, mismatches, err := m2.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok || len(mismatches) != 0 {
		t.Fatalf("clean tree after reload: ok=%v mismatches=%v", ok, mismatches)
	}
}

func TestVerifyRequiresInitialization(t *testing.T) {
	m := NewMonitor(t.TempDir(), covered(), "unused.json")
	if _, _, err := m.Verify(); err == nil {
		t.Fatal("verify before initialize must error")
	}
}

func TestFailureCountAccumulates(t *testing.T) {
	m, root := newTestMonitor(t)

	if err := os.WriteFile(filepath.Join(root, "core", "guardian.go"), []byte("tampered\n"), 0644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	for i := 1; i <= 3; i++ {
		ok, _, err := m.Verify()
		if err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
		if ok {
			t.Fatalf("verify %d: tampered tree must fail", i)
		}
		if m.FailureCount() != i {
			t.Fatalf("after %d failures count = %d", i, m.FailureCount())
		}
	}

	if len(m.Anomalies()) == 0 {
		t.Fatal("expected anomaly lines after failures")
	}
}

func TestResetFailureCount(t *testing.T) {
	m, root := newTestMonitor(t)
	if err := os.WriteFile(filepath.Join(root, "core", "guardian.go"), []byte("tampered\n"), 0644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, _, err := m.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if m.FailureCount() == 0 {
		t.Fatal("expected nonzero failure count")
	}

	m.ResetFailureCount()
	if m.FailureCount() != 0 {
		t.Fatalf("count after reset = %d", m.FailureCount())
	}
	if len(m.Anomalies()) != 0 {
		t.Fatal("anomalies must clear on reset")
	}
}

func TestSuccessDoesNotIncrementCount(t *testing.T) {
	m, _ := newTestMonitor(t)
	for i := 0; i < 3; i++ {
		ok, _, err := m.Verify()
		if err != nil || !ok {
			t.Fatalf("verify %d: ok=%v err=%v", i, ok, err)
		}
	}
	if m.FailureCount() != 0 {
		t.Fatalf("clean verifies must not count as failures, got %d", m.FailureCount())
	}
}
