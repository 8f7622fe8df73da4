package trace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func appendN(t *testing.T, tr *Trace, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := tr.Append("security_state_transition", map[string]string{"from": "secure", "to": "degraded"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestAppendSequencesFromOne(t *testing.T) {
	tr := New()
	appendN(t, tr, 3)

	recs := tr.Snapshot(0)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, rec := range recs {
		if rec.Sequence != uint64(i+1) {
			t.Errorf("record %d: sequence = %d, want %d", i, rec.Sequence, i+1)
		}
	}
	if recs[0].PrevHash != GenesisHash {
		t.Errorf("first record prev_hash = %q, want genesis", recs[0].PrevHash)
	}
	if recs[1].PrevHash != recs[0].Hash {
		t.Error("second record does not link to first")
	}
}

func TestVerifyChainRoundTrip(t *testing.T) {
	tr := New()
	appendN(t, tr, 10)
	if !tr.VerifyChain() {
		t.Fatal("chain of appended records must verify")
	}
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Record)
	}{
		{"details", func(r *Record) { r.Details["to"] = "secure" }},
		{"event_type", func(r *Record) { r.EventType = "benign" }},
		{"timestamp", func(r *Record) { r.Timestamp = "1970-01-01T00:00:00.000Z" }},
		{"sequence", func(r *Record) { r.Sequence = 99 }},
		{"prev_hash", func(r *Record) { r.PrevHash = GenesisHash }},
		{"hash", func(r *Record) { r.Hash = "sha256:deadbeef" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := New()
			appendN(t, tr, 5)
			tc.mutate(&tr.records[2])
			if tr.VerifyChain() {
				t.Fatalf("tampered %s field must break chain verification", tc.name)
			}
		})
	}
}

func TestSnapshotIsBoundedAndDetached(t *testing.T) {
	tr := New()
	appendN(t, tr, 5)

	recs := tr.Snapshot(2)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[1].Sequence != 5 {
		t.Fatalf("expected newest record last, got sequence %d", recs[1].Sequence)
	}

	// Mutating the snapshot must not reach the live store.
	recs[0].Details["to"] = "tampered"
	recs[0].EventType = "tampered"
	if !tr.VerifyChain() {
		t.Fatal("snapshot mutation leaked into live store")
	}
}

func TestMirrorRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	tr, err := OpenMirrored(path)
	if err != nil {
		t.Fatalf("open mirrored: %v", err)
	}
	appendN(t, tr, 4)
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	result := VerifyMirror(path)
	if !result.Valid {
		t.Fatalf("expected valid mirror, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Records != 4 {
		t.Fatalf("expected 4 records, got %d", result.Records)
	}
}

func TestMirrorAccumulatesProcessSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	for i := 0; i < 2; i++ {
		tr, err := OpenMirrored(path)
		if err != nil {
			t.Fatalf("open mirrored: %v", err)
		}
		appendN(t, tr, 3)
		if err := tr.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	result := VerifyMirror(path)
	if !result.Valid {
		t.Fatalf("expected valid mirror, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Records != 6 {
		t.Fatalf("expected 6 records, got %d", result.Records)
	}
	if result.Segments != 2 {
		t.Fatalf("expected one segment per process lifetime, got %d", result.Segments)
	}
}

func TestVerifyMirrorDetectsEditedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	tr, err := OpenMirrored(path)
	if err != nil {
		t.Fatalf("open mirrored: %v", err)
	}
	appendN(t, tr, 3)
	tr.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read mirror: %v", err)
	}
	edited := strings.Replace(string(data), "degraded", "upgraded", 1)
	if edited == string(data) {
		t.Fatal("test did not edit anything")
	}
	if err := os.WriteFile(path, []byte(edited), 0600); err != nil {
		t.Fatalf("write edited mirror: %v", err)
	}

	result := VerifyMirror(path)
	if result.Valid {
		t.Fatal("edited mirror must fail verification")
	}
	if result.ErrorLine == 0 {
		t.Fatal("expected the broken line to be reported")
	}
}

func TestVerifyMirrorMissingFile(t *testing.T) {
	result := VerifyMirror(filepath.Join(t.TempDir(), "absent.jsonl"))
	if result.Valid {
		t.Fatal("missing mirror must not verify")
	}
}
