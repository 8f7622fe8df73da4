// Package killswitch implements the two-phase emergency stop. Arming
// records intent and is idempotent; triggering is irreversible and
// terminates the process without cleanup. Only the guardian may
// trigger, and only on shutdown-while-armed or unrecoverable integrity
// failure.
package killswitch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ExitCode is the distinguished abnormal status the process dies with.
const ExitCode = 86

// DiagnosticDir is where the trigger writes its last diagnostic record.
// Override for testing.
var DiagnosticDir = "/var/log/vigil"

// Exit performs the unconditional termination. Override for testing;
// never in production code.
var Exit = os.Exit

// diagnostic is the single best-effort record written before death.
type diagnostic struct {
	Timestamp     string `json:"timestamp"`
	ArmReason     string `json:"arm_reason"`
	TriggerReason string `json:"trigger_reason"`
	PID           int    `json:"pid"`
	Hostname      string `json:"hostname"`
	Type          string `json:"type"`
}

// Switch is the two-phase kill device.
type Switch struct {
	mu        sync.Mutex
	armed     bool
	armReason string
	triggered bool
}

// New creates a disarmed switch.
func New() *Switch {
	return &Switch{}
}

// Arm records the reason and arms the switch. Idempotent: the first
// reason wins, later calls do not overwrite it.
func (s *Switch) Arm(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed {
		return
	}
	s.armed = true
	s.armReason = reason
}

// Armed reports whether the switch is armed.
func (s *Switch) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// ArmReason returns the reason recorded at arm time.
func (s *Switch) ArmReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armReason
}

// Triggered reports whether termination has begun. Observable only in
// tests, since a real trigger never returns.
func (s *Switch) Triggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggered
}

// Trigger writes one best-effort diagnostic record, then performs
// unconditional, non-graceful process termination. No cleanup hooks
// run and no buffers are guaranteed to flush. Never returns.
func (s *Switch) Trigger(reason string) {
	s.mu.Lock()
	s.triggered = true
	armReason := s.armReason
	s.mu.Unlock()

	writeDiagnostic(diagnostic{
		Timestamp:     time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		ArmReason:     armReason,
		TriggerReason: reason,
		PID:           os.Getpid(),
		Type:          "kill_switch_trigger",
	})

	Exit(ExitCode)
}

// writeDiagnostic appends the record to the diagnostic log and echoes
// it to stderr. Every failure is swallowed: nothing may delay the exit.
func writeDiagnostic(d diagnostic) {
	d.Hostname, _ = os.Hostname()

	line, err := json.Marshal(d)
	if err != nil {
		return
	}

	if err := os.MkdirAll(DiagnosticDir, 0700); err == nil {
		path := filepath.Join(DiagnosticDir, "killswitch.jsonl")
		if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600); err == nil {
			f.Write(append(line, '\n'))
			f.Sync()
			f.Close()
		}
	}

	fmt.Fprintf(os.Stderr, "KILL SWITCH: %s\n", string(line))
}
