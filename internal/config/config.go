// Package config loads the control plane configuration. Defaults match
// the shipped behavior; a YAML file overrides only the fields it names.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Thresholds sets the integrity-failure escalation ladder. The counts
// are consecutive verification failures, not mismatched files.
type Thresholds struct {
	// DegradeAfter failures while secure escalate to degraded.
	DegradeAfter int `yaml:"degrade_after"`
	// CompromiseAfter failures while degraded escalate to compromised.
	CompromiseAfter int `yaml:"compromise_after"`
}

// AlertConfig is one advisory webhook fired on escalation.
type AlertConfig struct {
	URL     string            `yaml:"url"`
	Events  []string          `yaml:"events"`
	Headers map[string]string `yaml:"headers"`
}

// Config holds all configurable parameters of the control plane.
type Config struct {
	// Root is the directory the covered paths are relative to.
	Root string `yaml:"root"`
	// CoveredDirs is the fixed, explicit set of baselined trees.
	CoveredDirs []string `yaml:"covered_dirs"`
	// ManifestPath is where the one-time baseline manifest lives.
	ManifestPath string `yaml:"manifest_path"`
	// TraceMirrorPath, when set, mirrors the event trace to JSONL.
	TraceMirrorPath string `yaml:"trace_mirror_path"`
	// AuditDBPath is the orchestrator's independent audit database.
	AuditDBPath string `yaml:"audit_db_path"`
	// RecoveryDir holds operator recovery tokens.
	RecoveryDir string `yaml:"recovery_dir"`

	Thresholds Thresholds    `yaml:"thresholds"`
	Alerts     []AlertConfig `yaml:"alerts"`
}

// DefaultConfig returns the built-in configuration. The escalation
// thresholds preserve the historical first/second-failure ladder.
func DefaultConfig() *Config {
	stateDir := defaultStateDir()
	return &Config{
		Root: ".",
		CoveredDirs: []string{
			"cmd",
			"internal/guardian",
			"internal/integrity",
			"internal/killswitch",
			"internal/orchestrator",
			"internal/plan",
			"internal/state",
			"internal/trace",
		},
		ManifestPath:    filepath.Join(stateDir, "manifest.json"),
		TraceMirrorPath: filepath.Join(stateDir, "trace.jsonl"),
		AuditDBPath:     filepath.Join(stateDir, "audit.db"),
		RecoveryDir:     filepath.Join(stateDir, "recovery"),
		Thresholds: Thresholds{
			DegradeAfter:    1,
			CompromiseAfter: 2,
		},
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "vigil")
	}
	return filepath.Join(home, ".vigil")
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	return filepath.Join(defaultStateDir(), "config.yaml")
}

// Load reads configuration from a YAML file. Empty path falls back to
// the default location. Missing file returns defaults. Invalid YAML or
// invalid values return an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 of the raw
// YAML bytes, recorded in the trace at bootstrap so a swapped config is
// evident. Defaults hash as SHA-256 of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, "", err
	}

	return cfg, hash, nil
}

func (c *Config) validate() error {
	if len(c.CoveredDirs) == 0 {
		return fmt.Errorf("config: covered_dirs must not be empty")
	}
	if c.Thresholds.DegradeAfter < 1 {
		return fmt.Errorf("config: thresholds.degrade_after must be >= 1")
	}
	if c.Thresholds.CompromiseAfter < c.Thresholds.DegradeAfter {
		return fmt.Errorf("config: thresholds.compromise_after must be >= degrade_after")
	}
	return nil
}
