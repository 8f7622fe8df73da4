package guardian

import (
	"fmt"

	"github.com/vigilcore/vigil/internal/state"
	"github.com/vigilcore/vigil/internal/trace"
)

// Read-only inspection. Everything here stays available under
// lockdown so operators can diagnose without making things worse.

// State returns the current security state.
func (g *Guardian) State() state.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// CurrentPolicy returns the capability policy for the current state.
func (g *Guardian) CurrentPolicy() (state.Policy, error) {
	g.mu.Lock()
	s := g.state
	g.mu.Unlock()
	return state.PolicyFor(s)
}

// Snapshot is a point-in-time view of the guardian's posture.
type Snapshot struct {
	State             state.State `json:"state"`
	Locked            bool        `json:"locked"`
	KillSwitchArmed   bool        `json:"kill_switch_armed"`
	KillSwitchReason  string      `json:"kill_switch_reason,omitempty"`
	CredentialsFrozen bool        `json:"credentials_frozen"`
	IntegrityFailures int         `json:"integrity_failures"`
	TraceRecords      int         `json:"trace_records"`
	ChainValid        bool        `json:"chain_valid"`
}

// InspectSecurityState builds a full posture snapshot.
func (g *Guardian) InspectSecurityState() Snapshot {
	g.mu.Lock()
	snap := Snapshot{
		State:  g.state,
		Locked: g.locked,
	}
	creds := g.creds
	monitor := g.monitor
	g.mu.Unlock()

	snap.KillSwitchArmed = g.kill.Armed()
	snap.KillSwitchReason = g.kill.ArmReason()
	if creds != nil {
		snap.CredentialsFrozen = creds.Frozen()
	}
	if monitor != nil {
		snap.IntegrityFailures = monitor.FailureCount()
	}
	snap.TraceRecords = g.trace.Len()
	snap.ChainValid = g.trace.VerifyChain()
	return snap
}

// InspectRecentEvents returns a bounded copy of the newest trace
// records, never the live store.
func (g *Guardian) InspectRecentEvents(limit int) []trace.Record {
	return g.trace.Snapshot(limit)
}

// InspectEventChainValid recomputes the whole event hash chain.
func (g *Guardian) InspectEventChainValid() bool {
	return g.trace.VerifyChain()
}

// Summary returns a one-line human-readable posture description:
// state, what it means, and whether execution is currently permitted.
func (g *Guardian) Summary() string {
	g.mu.Lock()
	s := g.state
	g.mu.Unlock()

	execution := "execution blocked"
	if p, err := state.PolicyFor(s); err == nil && p.Execution {
		execution = "execution permitted"
	}
	return fmt.Sprintf("%s: %s; %s", s, state.Describe(s), execution)
}
