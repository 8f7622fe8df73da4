// Package plan defines the immutable execution plan value type and its
// strict validator. A plan is constructed once from a validated
// document; there are no setters, and every accessor returns a copy,
// so nothing downstream can mutate what the gate approved.
package plan

import "encoding/json"

// Step is one unit of work addressed to a domain module.
type Step struct {
	Domain     string
	Method     string
	Parameters map[string]any
}

// DataBinding routes output of an earlier step into a later one.
// TargetStepIndex strictly exceeds SourceStepIndex, so the binding set
// forms a DAG ordered by step index.
type DataBinding struct {
	SourceStepIndex int
	SourcePath      string
	TargetStepIndex int
	TargetPath      string
}

// Plan is the immutable declarative execution request.
type Plan struct {
	userID      string
	tokenHash   string
	triggerType string
	steps       []Step
	bindings    []DataBinding
}

// FromDocument validates a raw plan document and constructs a Plan.
// Validation is all-or-nothing: any violation rejects the whole
// document and no Plan is built.
func FromDocument(doc map[string]any) (*Plan, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}

	p := &Plan{
		userID:      doc["user_id"].(string),
		tokenHash:   doc["token_hash"].(string),
		triggerType: doc["trigger_type"].(string),
	}

	for _, raw := range doc["steps"].([]any) {
		step := raw.(map[string]any)
		p.steps = append(p.steps, Step{
			Domain:     step["domain"].(string),
			Method:     step["method"].(string),
			Parameters: copyParams(step["parameters"].(map[string]any)),
		})
	}

	if raw, ok := doc["data_bindings"]; ok {
		for _, b := range raw.([]any) {
			binding := b.(map[string]any)
			p.bindings = append(p.bindings, DataBinding{
				SourceStepIndex: intValue(binding["source_step_index"]),
				SourcePath:      binding["source_path"].(string),
				TargetStepIndex: intValue(binding["target_step_index"]),
				TargetPath:      binding["target_path"].(string),
			})
		}
	}

	return p, nil
}

// Parse validates raw JSON bytes and constructs a Plan.
func Parse(data []byte) (*Plan, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Rule: RuleRoundTrip, Reason: "document is not valid JSON: " + err.Error()}
	}
	return FromDocument(doc)
}

// UserID returns the requesting user.
func (p *Plan) UserID() string { return p.userID }

// TokenHash returns the opaque authorization token hash. The
// downstream executor, not this core, validates it.
func (p *Plan) TokenHash() string { return p.tokenHash }

// TriggerType returns how the plan was initiated.
func (p *Plan) TriggerType() string { return p.triggerType }

// Steps returns a copy of the ordered step list.
func (p *Plan) Steps() []Step {
	out := make([]Step, len(p.steps))
	for i, s := range p.steps {
		out[i] = Step{
			Domain:     s.Domain,
			Method:     s.Method,
			Parameters: copyParams(s.Parameters),
		}
	}
	return out
}

// Bindings returns a copy of the data bindings, if any.
func (p *Plan) Bindings() []DataBinding {
	return append([]DataBinding(nil), p.bindings...)
}

// copyParams deep-copies a parameters object via JSON. Parameters
// already passed the round-trip rule, so marshalling cannot fail.
func copyParams(params map[string]any) map[string]any {
	data, err := json.Marshal(params)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	_ = json.Unmarshal(data, &out)
	return out
}

func intValue(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
