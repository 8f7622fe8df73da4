package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestMissingFileReturnsDefaults(t *testing.T) {
	cfg, hash, err := LoadWithHash(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Thresholds.DegradeAfter != 1 || cfg.Thresholds.CompromiseAfter != 2 {
		t.Fatalf("default thresholds wrong: %+v", cfg.Thresholds)
	}
	if len(cfg.CoveredDirs) == 0 {
		t.Fatal("defaults must cover directories")
	}
	// SHA-256 of empty input.
	if hash != "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("default hash = %s", hash)
	}
}

func TestPartialOverrideKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "thresholds:\n  degrade_after: 2\n  compromise_after: 4\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Thresholds.DegradeAfter != 2 || cfg.Thresholds.CompromiseAfter != 4 {
		t.Fatalf("thresholds not overridden: %+v", cfg.Thresholds)
	}
	if len(cfg.CoveredDirs) == 0 {
		t.Fatal("unset fields must keep defaults")
	}
}

func TestInvalidYAMLErrors(t *testing.T) {
	path := writeConfig(t, "thresholds: [broken\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestInvalidThresholdsRejected(t *testing.T) {
	cases := []string{
		"thresholds:\n  degrade_after: 0\n",
		"thresholds:\n  degrade_after: 3\n  compromise_after: 1\n",
		"covered_dirs: []\n",
	}
	for _, content := range cases {
		path := writeConfig(t, content)
		if _, err := Load(path); err == nil {
			t.Errorf("expected validation error for %q", content)
		}
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := writeConfig(t, "root: /srv/a\n")
	b := writeConfig(t, "root: /srv/b\n")

	_, ha, err := LoadWithHash(a)
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	_, hb, err := LoadWithHash(b)
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if ha == hb {
		t.Fatal("different configs must hash differently")
	}
}
