package plan

import (
	"encoding/json"
	"testing"
)

func TestParseScenarioDocument(t *testing.T) {
	data := []byte(`{"user_id":"u1","token_hash":"h","trigger_type":"manual","steps":[{"domain":"x","method":"y","parameters":{}}]}`)
	p, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.UserID() != "u1" || p.TokenHash() != "h" || p.TriggerType() != "manual" {
		t.Fatalf("plan fields wrong: %s %s %s", p.UserID(), p.TokenHash(), p.TriggerType())
	}
	steps := p.Steps()
	if len(steps) != 1 || steps[0].Domain != "x" || steps[0].Method != "y" {
		t.Fatalf("steps wrong: %+v", steps)
	}
}

func TestParseRejectsScenarioDocumentWithExtra(t *testing.T) {
	data := []byte(`{"user_id":"u1","token_hash":"h","trigger_type":"manual","steps":[{"domain":"x","method":"y","parameters":{}}],"foo":1}`)
	if _, err := Parse(data); err == nil {
		t.Fatal("document with extra field must be rejected")
	}
}

func TestParseRejectsNonJSON(t *testing.T) {
	if _, err := Parse([]byte("not json at all")); err == nil {
		t.Fatal("non-JSON input must be rejected")
	}
}

func TestPlanAccessorsReturnCopies(t *testing.T) {
	data := []byte(`{"user_id":"u1","token_hash":"h","trigger_type":"manual",
		"steps":[
			{"domain":"a","method":"m1","parameters":{"key":"original"}},
			{"domain":"b","method":"m2","parameters":{}}
		],
		"data_bindings":[{"source_step_index":0,"source_path":"out","target_step_index":1,"target_path":"in"}]}`)
	p, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	steps := p.Steps()
	steps[0].Parameters["key"] = "mutated"
	steps[0].Domain = "mutated"

	bindings := p.Bindings()
	bindings[0].TargetStepIndex = 0

	fresh := p.Steps()
	if fresh[0].Parameters["key"] != "original" || fresh[0].Domain != "a" {
		t.Fatal("step mutation leaked into the plan")
	}
	if p.Bindings()[0].TargetStepIndex != 1 {
		t.Fatal("binding mutation leaked into the plan")
	}
}

func TestFromDocumentDetachesFromInput(t *testing.T) {
	doc := map[string]any{
		"user_id":      "u1",
		"token_hash":   "h",
		"trigger_type": "scheduled",
		"steps": []any{
			map[string]any{"domain": "x", "method": "y", "parameters": map[string]any{"n": json.Number("1").String()}},
		},
	}
	p, err := FromDocument(doc)
	if err != nil {
		t.Fatalf("from document: %v", err)
	}

	// Mutating the source document must not affect the plan.
	doc["steps"].([]any)[0].(map[string]any)["parameters"].(map[string]any)["n"] = "99"
	if p.Steps()[0].Parameters["n"] != "1" {
		t.Fatal("document mutation leaked into the plan")
	}
}
