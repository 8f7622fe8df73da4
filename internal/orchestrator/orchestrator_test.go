package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vigilcore/vigil/internal/guardian"
	"github.com/vigilcore/vigil/internal/plan"
	"github.com/vigilcore/vigil/internal/procwatch"
	"github.com/vigilcore/vigil/internal/state"
	"github.com/vigilcore/vigil/internal/trace"
)

type stubExecutor struct {
	result any
	err    error
	calls  int
}

func (s *stubExecutor) Execute(ctx context.Context, userID, tokenHash, triggerType string, steps []plan.Step, bindings []plan.DataBinding) (any, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type noProcs struct{}

func (noProcs) Children(pid int) ([]procwatch.ProcessInfo, error) { return nil, nil }

func testPlan(t *testing.T) *plan.Plan {
	t.Helper()
	p, err := plan.Parse([]byte(`{"user_id":"u1","token_hash":"h","trigger_type":"manual","steps":[{"domain":"x","method":"y","parameters":{}}]}`))
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	return p
}

func newTestGuardian(t *testing.T) *guardian.Guardian {
	t.Helper()
	g, err := guardian.New(guardian.Config{Trace: trace.New(), Procs: noProcs{}})
	if err != nil {
		t.Fatalf("new guardian: %v", err)
	}
	return g
}

func eventTypes(t *testing.T, o *Orchestrator) []string {
	t.Helper()
	events, err := o.AuditLog()
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.EventType
	}
	return types
}

func TestSuccessfulExecution(t *testing.T) {
	exec := &stubExecutor{result: map[string]any{"ok": true}}
	o, err := New(newTestGuardian(t), exec, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	result, err := o.Execute(context.Background(), testPlan(t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.(map[string]any)["ok"] != true {
		t.Fatalf("result = %v", result)
	}

	got := eventTypes(t, o)
	want := []string{EventPlanReceived, EventExecutionStarted, EventExecutionCompleted}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDownstreamFailureFailsClosed(t *testing.T) {
	exec := &stubExecutor{err: errors.New("token rejected")}
	g := newTestGuardian(t)
	o, err := New(g, exec, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	result, err := o.Execute(context.Background(), testPlan(t))
	if err == nil {
		t.Fatal("downstream failure must propagate")
	}
	if result != nil {
		t.Fatalf("no partial result may surface, got %v", result)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error type = %T", err)
	}

	failed := 0
	for _, et := range eventTypes(t, o) {
		if et == EventExecutionFailed {
			failed++
		}
		if et == EventExecutionCompleted {
			t.Fatal("failed plan must never record execution_completed")
		}
	}
	if failed != 1 {
		t.Fatalf("execution_failed events = %d, want exactly 1", failed)
	}

	// The failure was reported to the guardian's boundary handler.
	if g.State() != state.Compromised {
		t.Fatalf("guardian state = %s, want compromised", g.State())
	}
}

func TestPolicyGateBlocks(t *testing.T) {
	exec := &stubExecutor{result: "never"}
	g := newTestGuardian(t)
	if err := g.ToCompromised("breach detected"); err != nil {
		t.Fatalf("to compromised: %v", err)
	}

	o, err := New(g, exec, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = o.Execute(context.Background(), testPlan(t))
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("error = %v, want BlockedError", err)
	}
	if blocked.Stage != "policy" {
		t.Fatalf("stage = %s, want policy", blocked.Stage)
	}
	if exec.calls != 0 {
		t.Fatal("blocked plan must never reach the executor")
	}

	got := eventTypes(t, o)
	if len(got) != 1 || got[0] != EventExecutionBlocked {
		t.Fatalf("events = %v, want exactly one execution_blocked", got)
	}
}

func TestNoGuardianSkipsGates(t *testing.T) {
	exec := &stubExecutor{result: 42}
	o, err := New(nil, exec, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := o.Execute(context.Background(), testPlan(t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != 42 {
		t.Fatalf("result = %v", result)
	}
}

func TestExecutorRequired(t *testing.T) {
	if _, err := New(nil, nil, nil); err == nil {
		t.Fatal("nil executor must be rejected")
	}
}

func TestParametersForwardedVerbatim(t *testing.T) {
	var seen []plan.Step
	exec := executorFunc(func(ctx context.Context, userID, tokenHash, triggerType string, steps []plan.Step, bindings []plan.DataBinding) (any, error) {
		seen = steps
		return nil, nil
	})

	p, err := plan.Parse([]byte(`{"user_id":"u1","token_hash":"h","trigger_type":"manual",
		"steps":[{"domain":"mail","method":"draft","parameters":{"to":"a@example.com","subject":"hi"}}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	o, err := New(nil, exec, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := o.Execute(context.Background(), p); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(seen) != 1 {
		t.Fatalf("steps = %d", len(seen))
	}
	params := seen[0].Parameters
	if params["to"] != "a@example.com" || params["subject"] != "hi" {
		t.Fatalf("parameters not forwarded verbatim: %v", params)
	}
	if len(params) != 2 {
		t.Fatalf("parameters enriched: %v", params)
	}
}

func TestSQLiteAuditStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := OpenSQLiteAuditStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	exec := &stubExecutor{result: "ok"}
	o, err := New(nil, exec, store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := o.Execute(context.Background(), testPlan(t)); err != nil {
		t.Fatalf("execute: %v", err)
	}

	events, err := store.Events()
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].UserID != "u1" {
		t.Fatalf("user_id = %s", events[0].UserID)
	}
	planID := events[0].PlanID
	for i, e := range events {
		if e.PlanID != planID {
			t.Fatalf("event %d has plan id %s, want %s", i, e.PlanID, planID)
		}
		if e.Timestamp == "" {
			t.Fatalf("event %d missing timestamp", i)
		}
	}
}

type executorFunc func(ctx context.Context, userID, tokenHash, triggerType string, steps []plan.Step, bindings []plan.DataBinding) (any, error)

func (f executorFunc) Execute(ctx context.Context, userID, tokenHash, triggerType string, steps []plan.Step, bindings []plan.DataBinding) (any, error) {
	return f(ctx, userID, tokenHash, triggerType, steps, bindings)
}
