package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of an offline mirror verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Records   int    `json:"records"`
	Segments  int    `json:"segments"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// VerifyMirror reads a JSONL trace mirror and validates the hash chains
// offline. The mirror accumulates one chain segment per process
// lifetime; a segment starts at sequence 1 with a genesis prev_hash and
// must be unbroken until the next segment begins. Returns Valid=true if
// every segment is intact, or details about the first broken link.
func VerifyMirror(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	segments := 0
	prev := GenesisHash
	var seq uint64

	for scanner.Scan() {
		lineNum++

		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return VerifyResult{
				Error:     fmt.Sprintf("parse error: %v", err),
				ErrorLine: lineNum,
			}
		}

		if rec.Sequence == 1 && rec.PrevHash == GenesisHash {
			// New process segment.
			segments++
			prev = GenesisHash
			seq = 0
		}

		seq++
		if rec.Sequence != seq {
			return VerifyResult{
				Error:     fmt.Sprintf("sequence gap: expected %d, got %d", seq, rec.Sequence),
				ErrorLine: lineNum,
			}
		}
		if rec.PrevHash != prev {
			return VerifyResult{
				Error:     fmt.Sprintf("chain break: expected prev_hash %s, got %s", prev, rec.PrevHash),
				ErrorLine: lineNum,
			}
		}

		hash, err := hashRecord(rec)
		if err != nil {
			return VerifyResult{
				Error:     fmt.Sprintf("hash error: %v", err),
				ErrorLine: lineNum,
			}
		}
		if hash != rec.Hash {
			return VerifyResult{
				Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", hash, rec.Hash),
				ErrorLine: lineNum,
			}
		}

		prev = rec.Hash
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	return VerifyResult{Valid: true, Records: lineNum, Segments: segments}
}
