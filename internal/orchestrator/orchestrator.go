// Package orchestrator gates one validated execution plan through the
// guardian before handing it to the downstream executor. The executor
// is a black box: it owns token, authorization and domain validation,
// and every parameter is forwarded verbatim with no enrichment,
// inference or mutation. Each gate is fail-closed with no retry.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/vigilcore/vigil/internal/errkind"
	"github.com/vigilcore/vigil/internal/guardian"
	"github.com/vigilcore/vigil/internal/plan"
)

// Executor is the single downstream entry point. Its errors propagate
// opaquely as execution failures.
type Executor interface {
	Execute(ctx context.Context, userID, tokenHash, triggerType string, steps []plan.Step, bindings []plan.DataBinding) (any, error)
}

// BlockedError reports a plan stopped at a gate before execution.
type BlockedError struct {
	Stage  string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("orchestrator: execution blocked at %s gate: %s", e.Stage, e.Reason)
}

// ExecutionError wraps a downstream executor failure. No partial
// result ever accompanies it.
type ExecutionError struct {
	PlanID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("orchestrator: plan %s failed downstream: %v", e.PlanID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Orchestrator gates plans and keeps its own audit log.
type Orchestrator struct {
	guardian *guardian.Guardian
	executor Executor
	audit    AuditStore
}

// New creates an orchestrator. The guardian may be nil in harness
// setups; when attached, its gates run before every plan. A nil audit
// store gets an in-memory one.
func New(g *guardian.Guardian, executor Executor, audit AuditStore) (*Orchestrator, error) {
	if executor == nil {
		return nil, fmt.Errorf("orchestrator: executor is required")
	}
	if audit == nil {
		audit = NewMemoryAuditStore()
	}
	return &Orchestrator{guardian: g, executor: executor, audit: audit}, nil
}

// Execute runs one validated plan through the gate sequence:
// single-process assertion, integrity gate, policy gate, then a single
// verbatim call into the executor. Returns the executor's result
// unmodified, or an error with no partial result.
func (o *Orchestrator) Execute(ctx context.Context, p *plan.Plan) (any, error) {
	planID := uuid.NewString()

	if o.guardian != nil {
		if err := o.guardian.AssertSingleProcessExecution(); err != nil {
			o.record(p, planID, EventExecutionBlocked, err.Error())
			return nil, &BlockedError{Stage: "single_process", Reason: err.Error()}
		}

		if o.guardian.HasMonitor() {
			ok, mismatches, err := o.guardian.VerifyIntegrity()
			if err != nil {
				o.record(p, planID, EventExecutionBlocked, "integrity gate error: "+err.Error())
				return nil, &BlockedError{Stage: "integrity", Reason: err.Error()}
			}
			if !ok {
				reason := fmt.Sprintf("%d baseline mismatches", len(mismatches))
				o.record(p, planID, EventExecutionBlocked, reason)
				return nil, &BlockedError{Stage: "integrity", Reason: reason}
			}
		}

		policy, err := o.guardian.CurrentPolicy()
		if err != nil {
			o.record(p, planID, EventExecutionBlocked, "policy lookup failed: "+err.Error())
			return nil, &BlockedError{Stage: "policy", Reason: err.Error()}
		}
		if !policy.Execution {
			reason := fmt.Sprintf("execution not permitted in state %s", o.guardian.State())
			o.record(p, planID, EventExecutionBlocked, reason)
			return nil, &BlockedError{Stage: "policy", Reason: reason}
		}
	}

	o.record(p, planID, EventPlanReceived, fmt.Sprintf("%d step(s), trigger %s", len(p.Steps()), p.TriggerType()))
	o.record(p, planID, EventExecutionStarted, "")

	result, err := o.executor.Execute(ctx, p.UserID(), p.TokenHash(), p.TriggerType(), p.Steps(), p.Bindings())
	if err != nil {
		o.record(p, planID, EventExecutionFailed, err.Error())
		execErr := &ExecutionError{PlanID: planID, Err: err}
		// Report once to the guardian before propagating.
		if o.guardian != nil {
			_ = o.guardian.HandleBoundaryError(errkind.Wrap(errkind.Runtime, "downstream executor failed", err), "executor")
		}
		return nil, execErr
	}

	o.record(p, planID, EventExecutionCompleted, resultSummary(result))
	return result, nil
}

// AuditLog returns the orchestrator's own audit trail.
func (o *Orchestrator) AuditLog() ([]AuditEvent, error) {
	return o.audit.Events()
}

// Close releases the audit store.
func (o *Orchestrator) Close() error {
	return o.audit.Close()
}

func (o *Orchestrator) record(p *plan.Plan, planID, eventType, details string) {
	// Audit failures must not alter the gate outcome; the guardian's
	// trace and the executor's trail remain as independent evidence.
	_ = o.audit.Record(AuditEvent{
		Timestamp: now(),
		UserID:    p.UserID(),
		EventType: eventType,
		PlanID:    planID,
		Details:   details,
	})
}

// resultSummary describes the result by size only; contents never
// enter the audit log.
func resultSummary(result any) string {
	data, err := json.Marshal(result)
	if err != nil {
		return "result size unknown"
	}
	return fmt.Sprintf("result size %d bytes", len(data))
}
