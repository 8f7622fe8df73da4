// Package integrity maintains the cryptographic baseline of the
// critical source trees and verifies it on demand. The manifest is
// created exactly once, at first secure boot, then made read-only at
// the filesystem layer; verification recomputes every hash and also
// scans for files smuggled in after the baseline was taken.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MismatchStatus classifies one baseline violation.
type MismatchStatus string

const (
	StatusModified MismatchStatus = "modified"
	StatusMissing  MismatchStatus = "missing"
	StatusAdded    MismatchStatus = "added"
	StatusError    MismatchStatus = "error"
)

// Mismatch describes one file that deviates from the baseline.
type Mismatch struct {
	Path         string         `json:"path"`
	ExpectedHash string         `json:"expected_hash"`
	ActualHash   string         `json:"actual_hash"`
	Status       MismatchStatus `json:"status"`
}

// Manifest is the one-time path→hash baseline of the covered trees.
// Paths are slash-separated and relative to the root.
type Manifest struct {
	CreatedAt   string            `json:"created_at"`
	CoveredDirs []string          `json:"covered_dirs"`
	Files       map[string]string `json:"files"`
}

// skippedDirs are never covered: tests, fixtures and build output carry
// no baseline authority.
var skippedDirs = map[string]bool{
	"testdata": true,
	"tests":    true,
	"examples": true,
	"dist":     true,
	"bin":      true,
}

// coveredFile reports whether a file belongs in the baseline.
func coveredFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.HasSuffix(name, "_test.go") {
		return false
	}
	switch filepath.Ext(name) {
	case ".go", ".mod", ".sum", ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Create walks the covered directories under root and produces a new
// manifest. It refuses to run if a manifest already exists at path:
// baselining is a one-time operation, never silently repeated.
func Create(root string, coveredDirs []string, path string) (*Manifest, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("integrity: manifest already exists at %s; baseline creation is one-time", path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("integrity: stat manifest: %w", err)
	}

	files, err := hashTree(root, coveredDirs)
	if err != nil {
		return nil, err
	}

	return &Manifest{
		CreatedAt:   time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		CoveredDirs: append([]string(nil), coveredDirs...),
		Files:       files,
	}, nil
}

// Persist writes the manifest then marks it read-only at the OS
// permission layer. Any I/O or permission failure is a hard error.
func Persist(m *Manifest, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("integrity: create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("integrity: marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("integrity: write manifest: %w", err)
	}
	if err := os.Chmod(path, 0400); err != nil {
		return fmt.Errorf("integrity: mark manifest read-only: %w", err)
	}
	return nil
}

// Load reads an existing manifest. A missing manifest is an error;
// callers decide whether that means first boot or tampering.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("integrity: load manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("integrity: parse manifest: %w", err)
	}
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	return &m, nil
}

// Verify recomputes the hash of every manifest entry and scans the
// covered directories for files absent from the manifest. Fully
// deterministic: mismatches come back sorted by path.
func (m *Manifest) Verify(root string) (bool, []Mismatch) {
	var mismatches []Mismatch

	for _, rel := range sortedKeys(m.Files) {
		expected := m.Files[rel]
		actual, err := hashFile(filepath.Join(root, filepath.FromSlash(rel)))
		switch {
		case os.IsNotExist(err):
			mismatches = append(mismatches, Mismatch{Path: rel, ExpectedHash: expected, Status: StatusMissing})
		case err != nil:
			mismatches = append(mismatches, Mismatch{Path: rel, ExpectedHash: expected, Status: StatusError})
		case actual != expected:
			mismatches = append(mismatches, Mismatch{Path: rel, ExpectedHash: expected, ActualHash: actual, Status: StatusModified})
		}
	}

	// Detect smuggled-in files: covered files on disk but not in the
	// manifest.
	current, err := hashTree(root, m.CoveredDirs)
	if err == nil {
		for _, rel := range sortedKeys(current) {
			if _, ok := m.Files[rel]; !ok {
				mismatches = append(mismatches, Mismatch{Path: rel, ActualHash: current[rel], Status: StatusAdded})
			}
		}
	} else {
		mismatches = append(mismatches, Mismatch{Path: ".", Status: StatusError})
	}

	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Path < mismatches[j].Path })
	return len(mismatches) == 0, mismatches
}

// hashTree hashes every covered file under the given directories,
// keyed by slash-separated path relative to root.
func hashTree(root string, coveredDirs []string) (map[string]string, error) {
	files := map[string]string{}

	for _, dir := range coveredDirs {
		base := filepath.Join(root, filepath.FromSlash(dir))
		info, err := os.Stat(base)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("integrity: stat covered dir %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("integrity: covered path %s is not a directory", dir)
		}

		err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !coveredFile(d.Name()) {
				return nil
			}
			hash, err := hashFile(path)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			files[filepath.ToSlash(rel)] = hash
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("integrity: walk %s: %w", dir, err)
		}
	}

	return files, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
