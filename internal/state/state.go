// Package state defines the security states of the control plane and
// the per-state capability policy. The state set is closed and totally
// ordered by severity; policy lookup is total and fails closed for any
// state outside the table.
package state

import "fmt"

// State is the current security posture of the control plane.
type State string

const (
	Secure      State = "secure"
	Degraded    State = "degraded"
	Compromised State = "compromised"
	Lockdown    State = "lockdown"
)

// Rank maps states to a comparable integer for monotonic escalation.
// Higher rank means more restrictive. Escalation only ever moves the
// rank up; the single sanctioned de-escalation is Degraded→Secure.
var Rank = map[State]int{
	Secure:      0,
	Degraded:    1,
	Compromised: 2,
	Lockdown:    3,
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	_, ok := Rank[s]
	return ok
}

// MoreSevere reports whether s outranks other.
func (s State) MoreSevere(other State) bool {
	return Rank[s] > Rank[other]
}

// Policy is the capability table for one state. All flags default to
// false, so a zero Policy denies everything.
type Policy struct {
	Execution   bool `json:"execution"`
	Planning    bool `json:"planning"`
	MemoryRead  bool `json:"memory_read"`
	MemoryWrite bool `json:"memory_write"`
	Network     bool `json:"network"`
	DomainOps   bool `json:"domain_ops"`
	CLI         bool `json:"cli"`
	UI          bool `json:"ui"`
	Shutdown    bool `json:"shutdown"`
}

// policies is the closed capability table. Every defined state has
// exactly one entry; PolicyFor refuses anything else.
var policies = map[State]Policy{
	Secure: {
		Execution:   true,
		Planning:    true,
		MemoryRead:  true,
		MemoryWrite: true,
		Network:     true,
		DomainOps:   true,
		CLI:         true,
		UI:          true,
		Shutdown:    true,
	},
	Degraded: {
		Execution:   true,
		Planning:    true,
		MemoryRead:  true,
		MemoryWrite: false,
		Network:     false,
		DomainOps:   true,
		CLI:         true,
		UI:          true,
		Shutdown:    true,
	},
	Compromised: {
		Execution:  false,
		Planning:   false,
		MemoryRead: true,
		CLI:        true,
		UI:         true,
		Shutdown:   true,
	},
	Lockdown: {
		MemoryRead: true,
		CLI:        true,
		Shutdown:   true,
	},
}

// PolicyFor returns the capability policy for state s.
// Fail-closed: an unmapped state is an error, never a permissive default.
func PolicyFor(s State) (Policy, error) {
	p, ok := policies[s]
	if !ok {
		return Policy{}, fmt.Errorf("state: no policy mapped for state %q", s)
	}
	return p, nil
}

// Describe returns a one-line operator explanation of a state.
func Describe(s State) string {
	switch s {
	case Secure:
		return "all capabilities available, integrity verified"
	case Degraded:
		return "anomaly observed, writes and network disabled"
	case Compromised:
		return "integrity violated, execution and planning disabled, kill switch armed"
	case Lockdown:
		return "system locked, restart required, inspection only"
	default:
		return "unknown state, treated as fully restricted"
	}
}
