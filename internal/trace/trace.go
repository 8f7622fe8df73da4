// Package trace implements the tamper-evident event ledger of the
// control plane. Records form a singly-linked SHA-256 hash chain from
// genesis; any retroactive modification, reorder or injection breaks
// chain verification. The live store is append-only and in-memory; an
// optional JSONL mirror persists the same chain for offline audit.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenesisHash is the prev_hash of the first record in a chain.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Record is one entry in the hash chain. All fields are scalars or
// string maps so json.Marshal output is deterministic and the hash
// reproducible.
type Record struct {
	Sequence  uint64            `json:"sequence"`
	Timestamp string            `json:"ts"`
	EventType string            `json:"event_type"`
	Details   map[string]string `json:"details"`
	PrevHash  string            `json:"prev_hash"`
	Hash      string            `json:"hash"`
}

// preimage is the hashed portion of a Record: everything but Hash.
type preimage struct {
	Sequence  uint64            `json:"sequence"`
	Timestamp string            `json:"ts"`
	EventType string            `json:"event_type"`
	Details   map[string]string `json:"details"`
	PrevHash  string            `json:"prev_hash"`
}

func hashRecord(r Record) (string, error) {
	line, err := json.Marshal(preimage{
		Sequence:  r.Sequence,
		Timestamp: r.Timestamp,
		EventType: r.EventType,
		Details:   r.Details,
		PrevHash:  r.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("trace: marshal preimage: %w", err)
	}
	sum := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Trace is an append-only hash-chained event ledger.
type Trace struct {
	mu      sync.Mutex
	records []Record
	mirror  *os.File
}

// New creates an empty trace with no mirror.
func New() *Trace {
	return &Trace{}
}

// OpenMirrored creates a trace that mirrors every record to a JSONL
// file. The mirror is write-only evidence; the in-memory chain remains
// authoritative for the running process.
func OpenMirrored(path string) (*Trace, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("trace: create mirror directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("trace: open mirror: %w", err)
	}
	return &Trace{mirror: f}, nil
}

// Append adds a record to the chain. Sequence numbers start at 1 and
// are assigned here; callers supply only the event type and details.
func (t *Trace) Append(eventType string, details map[string]string) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if details == nil {
		details = map[string]string{}
	}

	prev := GenesisHash
	if n := len(t.records); n > 0 {
		prev = t.records[n-1].Hash
	}

	rec := Record{
		Sequence:  uint64(len(t.records) + 1),
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		EventType: eventType,
		Details:   details,
		PrevHash:  prev,
	}

	hash, err := hashRecord(rec)
	if err != nil {
		return Record{}, err
	}
	rec.Hash = hash

	t.records = append(t.records, rec)

	if t.mirror != nil {
		line, err := json.Marshal(rec)
		if err != nil {
			return Record{}, fmt.Errorf("trace: marshal mirror line: %w", err)
		}
		if _, err := t.mirror.Write(append(line, '\n')); err != nil {
			return Record{}, fmt.Errorf("trace: write mirror: %w", err)
		}
		if err := t.mirror.Sync(); err != nil {
			return Record{}, fmt.Errorf("trace: sync mirror: %w", err)
		}
	}

	return rec, nil
}

// Len returns the number of records in the chain.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Snapshot returns copies of the most recent records, newest last.
// limit <= 0 returns the whole chain. The live store is never exposed.
func (t *Trace) Snapshot(limit int) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(t.records) {
		start = len(t.records) - limit
	}

	out := make([]Record, len(t.records)-start)
	for i, rec := range t.records[start:] {
		out[i] = cloneRecord(rec)
	}
	return out
}

func cloneRecord(r Record) Record {
	details := make(map[string]string, len(r.Details))
	for k, v := range r.Details {
		details[k] = v
	}
	r.Details = details
	return r
}

// VerifyChain recomputes every hash from genesis. Returns false on any
// sequence gap, prev_hash break, or hash mismatch.
func (t *Trace) VerifyChain() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := GenesisHash
	for i, rec := range t.records {
		if rec.Sequence != uint64(i+1) {
			return false
		}
		if rec.PrevHash != prev {
			return false
		}
		hash, err := hashRecord(rec)
		if err != nil || hash != rec.Hash {
			return false
		}
		prev = rec.Hash
	}
	return true
}

// Close releases the mirror file, if any.
func (t *Trace) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mirror == nil {
		return nil
	}
	err := t.mirror.Close()
	t.mirror = nil
	return err
}
