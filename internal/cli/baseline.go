package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vigilcore/vigil/internal/integrity"
)

func init() {
	rootCmd.AddCommand(baselineCmd)
	baselineCmd.AddCommand(baselineInitCmd)
	baselineCmd.AddCommand(baselineVerifyCmd)
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Integrity baseline operations",
	Long:  "Commands for creating and verifying the one-time file-integrity baseline.",
}

var baselineInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the integrity baseline manifest",
	Long: "Hashes every covered file under the configured directories and writes\n" +
		"the manifest read-only. Fails if a manifest already exists; baselines\n" +
		"are created once, never silently refreshed.",
	RunE: runBaselineInit,
}

var baselineVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the current tree against the baseline",
	Long:  "Re-hashes covered files and reports every modified, missing or added\nfile. Exits 0 when clean, 1 on any mismatch.",
	RunE:  runBaselineVerify,
}

func runBaselineInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	m, err := integrity.Create(cfg.Root, cfg.CoveredDirs, cfg.ManifestPath)
	if err != nil {
		return err
	}
	if err := integrity.Persist(m, cfg.ManifestPath); err != nil {
		return err
	}

	fmt.Printf("Baseline created: %s\n", cfg.ManifestPath)
	fmt.Printf("Covered: %d files across %d directories\n", len(m.Files), len(m.CoveredDirs))
	return nil
}

func runBaselineVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	m, err := integrity.Load(cfg.ManifestPath)
	if err != nil {
		return err
	}

	ok, mismatches := m.Verify(cfg.Root)
	if ok {
		fmt.Printf("OK: %d files verified\n", len(m.Files))
		return nil
	}

	for _, mm := range mismatches {
		fmt.Fprintf(os.Stderr, "%-9s %s\n", mm.Status, mm.Path)
	}
	fmt.Fprintf(os.Stderr, "FAILED: %d mismatches\n", len(mismatches))
	os.Exit(1)
	return nil
}
