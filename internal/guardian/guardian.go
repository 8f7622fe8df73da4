// Package guardian implements the security state machine of the
// control plane. One guardian exists per process, created at bootstrap
// in the secure state and passed by handle; there is no ambient global
// instance. Escalation is monotonic, lockdown is absorbing, and every
// transition is recorded in the tamper-evident trace before it takes
// effect.
package guardian

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/vigilcore/vigil/internal/alert"
	"github.com/vigilcore/vigil/internal/config"
	"github.com/vigilcore/vigil/internal/credstore"
	"github.com/vigilcore/vigil/internal/errkind"
	"github.com/vigilcore/vigil/internal/integrity"
	"github.com/vigilcore/vigil/internal/killswitch"
	"github.com/vigilcore/vigil/internal/procwatch"
	"github.com/vigilcore/vigil/internal/recovery"
	"github.com/vigilcore/vigil/internal/state"
	"github.com/vigilcore/vigil/internal/trace"
)

// ErrLocked is returned by every mutating call once lockdown is
// reached. Only a process restart clears it.
var ErrLocked = errors.New("guardian: system locked, restart required")

// Config wires the guardian's collaborators. Nil fields get safe
// defaults; the credential store may stay nil when no secrets exist.
type Config struct {
	Trace      *trace.Trace
	Kill       *killswitch.Switch
	Creds      credstore.Store
	Monitor    *integrity.Monitor
	Thresholds config.Thresholds
	Alerts     *alert.Dispatcher
	Procs      procwatch.Watcher
}

// Guardian is the security state machine.
type Guardian struct {
	mu     sync.Mutex
	state  state.State
	locked bool

	trace      *trace.Trace
	kill       *killswitch.Switch
	creds      credstore.Store
	monitor    *integrity.Monitor
	thresholds config.Thresholds
	alerts     *alert.Dispatcher
	procs      procwatch.Watcher

	// Process identity captured at boot; any later mismatch is an
	// attack-surface violation.
	bootPID  int
	bootPPID int

	loadGate  *LoadGate
	spawnGate *SpawnGate
}

// New creates a guardian in the secure state and records the boot in
// the trace.
func New(cfg Config) (*Guardian, error) {
	if cfg.Trace == nil {
		cfg.Trace = trace.New()
	}
	if cfg.Kill == nil {
		cfg.Kill = killswitch.New()
	}
	if cfg.Procs == nil {
		cfg.Procs = &procwatch.ProcfsWatcher{}
	}
	if cfg.Thresholds.DegradeAfter == 0 {
		cfg.Thresholds = config.DefaultConfig().Thresholds
	}

	g := &Guardian{
		state:      state.Secure,
		trace:      cfg.Trace,
		kill:       cfg.Kill,
		creds:      cfg.Creds,
		monitor:    cfg.Monitor,
		thresholds: cfg.Thresholds,
		alerts:     cfg.Alerts,
		procs:      cfg.Procs,
		bootPID:    os.Getpid(),
		bootPPID:   os.Getppid(),
	}

	if _, err := g.trace.Append("guardian_boot", map[string]string{
		"state": string(state.Secure),
		"pid":   fmt.Sprintf("%d", g.bootPID),
	}); err != nil {
		return nil, err
	}
	return g, nil
}

// transition moves to a new state and records the transition event.
// Caller holds g.mu. Side effects of entering compromised/lockdown
// (credential freeze, kill-switch arm, advisory alert) happen here so
// they are inseparable from the transition itself.
func (g *Guardian) transition(to state.State, reason string) error {
	from := g.state

	if _, err := g.trace.Append("security_state_transition", map[string]string{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	}); err != nil {
		return err
	}

	g.state = to
	if to == state.Lockdown {
		g.locked = true
	}

	if to == state.Compromised || to == state.Lockdown {
		if g.creds != nil {
			g.creds.Freeze(reason)
		}
		g.kill.Arm(reason)
		g.alerts.Dispatch(alert.Event{
			Type:      "escalation",
			FromState: string(from),
			ToState:   string(to),
			Reason:    reason,
		})
	}

	return nil
}

// ToSecure recovers from degraded. No-op if already secure; any other
// starting state fails closed.
func (g *Guardian) ToSecure() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.locked {
		return ErrLocked
	}
	switch g.state {
	case state.Secure:
		return nil
	case state.Degraded:
		return g.transition(state.Secure, "operator recovery")
	default:
		return fmt.Errorf("guardian: cannot recover to secure from %s", g.state)
	}
}

// ToDegraded escalates to degraded with a mandatory reason.
func (g *Guardian) ToDegraded(reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.locked {
		return ErrLocked
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("guardian: degraded transition requires a reason")
	}
	switch g.state {
	case state.Degraded:
		return nil
	case state.Secure:
		return g.transition(state.Degraded, reason)
	default:
		return fmt.Errorf("guardian: cannot de-escalate from %s to degraded", g.state)
	}
}

// ToCompromised escalates to compromised: freezes the credential store
// and arms (never triggers) the kill switch.
func (g *Guardian) ToCompromised(reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.locked {
		return ErrLocked
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("guardian: compromised transition requires a reason")
	}
	if g.state == state.Compromised {
		return nil
	}
	return g.transition(state.Compromised, reason)
}

// Lockdown escalates to the terminal state. Always succeeds; every
// transition call afterwards returns ErrLocked until restart.
func (g *Guardian) Lockdown(reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.locked {
		return ErrLocked
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("guardian: lockdown requires a reason")
	}
	return g.transition(state.Lockdown, reason)
}

// HandleBoundaryError classifies an arbitrary failure from a named
// boundary and escalates when its target state outranks the current
// one. De-escalation never happens through this path.
func (g *Guardian) HandleBoundaryError(err error, boundary string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.locked {
		return ErrLocked
	}
	if err == nil {
		return nil
	}

	kind := errkind.Classify(err)
	target := kind.TargetState()
	if !target.MoreSevere(g.state) {
		return nil
	}

	if _, terr := g.trace.Append("fault_containment", map[string]string{
		"boundary": boundary,
		"kind":     string(kind),
		"error":    err.Error(),
		"target":   string(target),
	}); terr != nil {
		return terr
	}

	reason := fmt.Sprintf("boundary %s: %s error: %v", boundary, kind, err)
	return g.transition(target, reason)
}

// RecordIntegrityFailure applies the integrity escalation ladder given
// the monitor's consecutive failure count. A failure arriving after
// lockdown is unrecoverable and pulls the trigger.
func (g *Guardian) RecordIntegrityFailure(reason string, failureCount int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.locked {
		// Kill switch was armed when lockdown was entered.
		g.kill.Trigger("unrecoverable integrity failure: " + reason)
		return ErrLocked // unreachable outside tests
	}

	switch g.state {
	case state.Secure:
		if failureCount >= g.thresholds.DegradeAfter {
			return g.transition(state.Degraded, reason)
		}
	case state.Degraded:
		if failureCount >= g.thresholds.CompromiseAfter {
			return g.transition(state.Compromised, reason)
		}
	case state.Compromised:
		return g.transition(state.Lockdown, reason)
	}
	return nil
}

// HasMonitor reports whether an integrity monitor is attached.
func (g *Guardian) HasMonitor() bool { return g.monitor != nil }

// VerifyIntegrity runs one baseline verification and feeds the result
// through the escalation ladder. Returns the verification outcome.
func (g *Guardian) VerifyIntegrity() (bool, []integrity.Mismatch, error) {
	if g.monitor == nil {
		return false, nil, fmt.Errorf("guardian: no integrity monitor attached")
	}

	ok, mismatches, err := g.monitor.Verify()
	if err != nil {
		return false, nil, err
	}
	if ok {
		return true, nil, nil
	}

	if _, err := g.trace.Append("integrity_failure", map[string]string{
		"mismatches": fmt.Sprintf("%d", len(mismatches)),
		"first":      mismatches[0].Path,
	}); err != nil {
		return false, mismatches, err
	}

	g.alerts.Dispatch(alert.Event{
		Type:   "integrity_tamper",
		Reason: fmt.Sprintf("%d baseline mismatches", len(mismatches)),
	})

	reason := fmt.Sprintf("integrity verification failed: %d mismatches", len(mismatches))
	if err := g.RecordIntegrityFailure(reason, g.monitor.FailureCount()); err != nil && !errors.Is(err, ErrLocked) {
		return false, mismatches, err
	}
	return false, mismatches, nil
}

// Recover is the explicit operator-driven recovery path. It consumes a
// single-use recovery token, returns the guardian to secure and resets
// the integrity failure counter. Nothing else may reset that counter.
func (g *Guardian) Recover(store *recovery.Store, tokenID string) error {
	g.mu.Lock()
	if g.locked {
		g.mu.Unlock()
		return ErrLocked
	}
	if g.state != state.Degraded {
		s := g.state
		g.mu.Unlock()
		return fmt.Errorf("guardian: recovery only applies to degraded, current state is %s", s)
	}
	g.mu.Unlock()

	if store == nil {
		return fmt.Errorf("guardian: recovery requires a token store")
	}
	if err := store.Consume(tokenID); err != nil {
		return fmt.Errorf("guardian: recovery token rejected: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.locked || g.state != state.Degraded {
		return fmt.Errorf("guardian: state changed during recovery, token spent without effect")
	}
	if _, err := g.trace.Append("operator_recovery", map[string]string{
		"token": tokenID,
	}); err != nil {
		return err
	}
	if err := g.transition(state.Secure, "operator recovery token "+tokenID); err != nil {
		return err
	}
	if g.monitor != nil {
		g.monitor.ResetFailureCount()
	}
	return nil
}

// Shutdown ends the process lifecycle. While the kill switch is armed,
// shutdown is the trigger condition: the process dies abnormally and
// this call never returns.
func (g *Guardian) Shutdown() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.kill.Armed() {
		g.kill.Trigger("shutdown while armed: " + g.kill.ArmReason())
		return nil // unreachable outside tests
	}

	_, err := g.trace.Append("shutdown", map[string]string{
		"state": string(g.state),
	})
	return err
}
