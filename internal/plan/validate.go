package plan

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Validation rule identifiers, checked strictly in order. Validation
// halts at the first violated rule; nothing is aggregated.
const (
	RuleTopLevelFields = 1 // exactly the required top-level fields, no extras
	RuleFieldTypes     = 2 // exact field types
	RuleStepsNonEmpty  = 3 // steps is a non-empty ordered list
	RuleStepFields     = 4 // each step has exactly domain/method/parameters
	RuleBindingFields  = 5 // each binding has exactly four correctly-typed fields
	RuleBindingRange   = 6 // binding step indices are in range
	RuleBindingOrder   = 7 // target_step_index strictly exceeds source_step_index
	RuleRoundTrip      = 8 // structure round-trips through canonical JSON
)

// ValidationError reports the first violated rule.
type ValidationError struct {
	Rule   int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan: rule %d violated: %s", e.Rule, e.Reason)
}

var requiredFields = []string{"user_id", "token_hash", "trigger_type", "steps"}

const optionalField = "data_bindings"

// Validate checks a raw plan document against the whole rule set.
// Deterministic: identical input yields an identical result. Returns
// nil only if every rule passes; otherwise the first violation.
func Validate(doc map[string]any) error {
	if doc == nil {
		return &ValidationError{Rule: RuleTopLevelFields, Reason: "document is empty"}
	}

	// Rule 1: exactly the required fields, optionally data_bindings.
	for _, f := range requiredFields {
		if _, ok := doc[f]; !ok {
			return &ValidationError{Rule: RuleTopLevelFields, Reason: fmt.Sprintf("missing required field %q", f)}
		}
	}
	allowed := map[string]bool{optionalField: true}
	for _, f := range requiredFields {
		allowed[f] = true
	}
	var extras []string
	for k := range doc {
		if !allowed[k] {
			extras = append(extras, k)
		}
	}
	if len(extras) > 0 {
		sort.Strings(extras)
		return &ValidationError{Rule: RuleTopLevelFields, Reason: fmt.Sprintf("unknown field %q", extras[0])}
	}

	// Rule 2: exact field types.
	for _, f := range []string{"user_id", "token_hash", "trigger_type"} {
		if _, ok := doc[f].(string); !ok {
			return &ValidationError{Rule: RuleFieldTypes, Reason: fmt.Sprintf("field %q must be a string", f)}
		}
	}
	steps, ok := doc["steps"].([]any)
	if !ok {
		return &ValidationError{Rule: RuleFieldTypes, Reason: `field "steps" must be a list`}
	}
	var bindings []any
	if raw, present := doc[optionalField]; present {
		bindings, ok = raw.([]any)
		if !ok {
			return &ValidationError{Rule: RuleFieldTypes, Reason: `field "data_bindings" must be a list`}
		}
	}

	// Rule 3: steps non-empty.
	if len(steps) == 0 {
		return &ValidationError{Rule: RuleStepsNonEmpty, Reason: "steps must not be empty"}
	}

	// Rule 4: each step has exactly domain/method/parameters.
	for i, raw := range steps {
		if err := validateStep(i, raw); err != nil {
			return err
		}
	}

	// Rules 5–7: bindings.
	for i, raw := range bindings {
		if err := validateBinding(i, raw, len(steps)); err != nil {
			return err
		}
	}

	// Rule 8: canonical round-trip. Rejects live, callable or otherwise
	// unserializable values hiding inside parameters.
	data, err := json.Marshal(doc)
	if err != nil {
		return &ValidationError{Rule: RuleRoundTrip, Reason: "document does not serialize: " + err.Error()}
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		return &ValidationError{Rule: RuleRoundTrip, Reason: "document does not round-trip: " + err.Error()}
	}

	return nil
}

func validateStep(i int, raw any) error {
	step, ok := raw.(map[string]any)
	if !ok {
		return &ValidationError{Rule: RuleStepFields, Reason: fmt.Sprintf("step %d is not an object", i)}
	}

	for _, f := range []string{"domain", "method"} {
		v, present := step[f]
		if !present {
			return &ValidationError{Rule: RuleStepFields, Reason: fmt.Sprintf("step %d missing field %q", i, f)}
		}
		if _, ok := v.(string); !ok {
			return &ValidationError{Rule: RuleStepFields, Reason: fmt.Sprintf("step %d field %q must be a string", i, f)}
		}
	}
	params, present := step["parameters"]
	if !present {
		return &ValidationError{Rule: RuleStepFields, Reason: fmt.Sprintf(`step %d missing field "parameters"`, i)}
	}
	if _, ok := params.(map[string]any); !ok {
		return &ValidationError{Rule: RuleStepFields, Reason: fmt.Sprintf(`step %d field "parameters" must be an object`, i)}
	}

	if len(step) != 3 {
		var extras []string
		for k := range step {
			if k != "domain" && k != "method" && k != "parameters" {
				extras = append(extras, k)
			}
		}
		sort.Strings(extras)
		return &ValidationError{Rule: RuleStepFields, Reason: fmt.Sprintf("step %d has unknown field %q", i, extras[0])}
	}

	return nil
}

var bindingFields = []string{"source_step_index", "source_path", "target_step_index", "target_path"}

func validateBinding(i int, raw any, stepCount int) error {
	binding, ok := raw.(map[string]any)
	if !ok {
		return &ValidationError{Rule: RuleBindingFields, Reason: fmt.Sprintf("binding %d is not an object", i)}
	}

	// Rule 5: exactly four correctly-typed fields.
	for _, f := range bindingFields {
		if _, present := binding[f]; !present {
			return &ValidationError{Rule: RuleBindingFields, Reason: fmt.Sprintf("binding %d missing field %q", i, f)}
		}
	}
	if len(binding) != len(bindingFields) {
		var extras []string
		for k := range binding {
			extra := true
			for _, f := range bindingFields {
				if k == f {
					extra = false
				}
			}
			if extra {
				extras = append(extras, k)
			}
		}
		sort.Strings(extras)
		return &ValidationError{Rule: RuleBindingFields, Reason: fmt.Sprintf("binding %d has unknown field %q", i, extras[0])}
	}
	for _, f := range []string{"source_path", "target_path"} {
		if _, ok := binding[f].(string); !ok {
			return &ValidationError{Rule: RuleBindingFields, Reason: fmt.Sprintf("binding %d field %q must be a string", i, f)}
		}
	}
	source, err := wholeNumber(binding["source_step_index"])
	if err != nil {
		return &ValidationError{Rule: RuleBindingFields, Reason: fmt.Sprintf(`binding %d field "source_step_index" must be an integer`, i)}
	}
	target, err := wholeNumber(binding["target_step_index"])
	if err != nil {
		return &ValidationError{Rule: RuleBindingFields, Reason: fmt.Sprintf(`binding %d field "target_step_index" must be an integer`, i)}
	}

	// Rule 6: indices in range.
	if source < 0 || source >= stepCount {
		return &ValidationError{Rule: RuleBindingRange, Reason: fmt.Sprintf("binding %d source_step_index %d out of range [0,%d)", i, source, stepCount)}
	}
	if target < 0 || target >= stepCount {
		return &ValidationError{Rule: RuleBindingRange, Reason: fmt.Sprintf("binding %d target_step_index %d out of range [0,%d)", i, target, stepCount)}
	}

	// Rule 7: forward-only. Equality would be circular, less-than would
	// be a backward reference; both are rejected.
	if target <= source {
		return &ValidationError{Rule: RuleBindingOrder, Reason: fmt.Sprintf("binding %d target_step_index %d must strictly exceed source_step_index %d", i, target, source)}
	}

	return nil
}

// wholeNumber accepts JSON numbers that are exact integers.
func wholeNumber(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not an integer")
		}
		return int(n), nil
	case int:
		return n, nil
	}
	return 0, fmt.Errorf("not a number")
}
