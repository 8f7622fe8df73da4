package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilcore/vigil/internal/integrity"
	"github.com/vigilcore/vigil/internal/recovery"
)

var (
	recoveryReason     string
	recoveryDuration   time.Duration
	recoveryRebaseline bool
)

func init() {
	rootCmd.AddCommand(recoveryCmd)
	recoveryCmd.AddCommand(recoveryIssueCmd)
	recoveryCmd.AddCommand(recoveryUseCmd)
	recoveryCmd.AddCommand(recoveryListCmd)
	recoveryCmd.AddCommand(recoveryRevokeCmd)
	recoveryIssueCmd.Flags().StringVar(&recoveryReason, "reason", "", "Mandatory reason for the recovery window (required)")
	recoveryIssueCmd.Flags().DurationVar(&recoveryDuration, "duration", recovery.DefaultDuration, "Token validity period (max 1h)")
	recoveryUseCmd.Flags().BoolVar(&recoveryRebaseline, "rebaseline", false, "Recreate the integrity baseline under this token's authority")
}

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Operator recovery tokens",
	Long:  "Recovery from degraded is an explicit operator decision, gated by a\ntime-limited single-use token. Nothing recovers automatically.",
}

var recoveryIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a single-use recovery token",
	RunE:  runRecoveryIssue,
}

var recoveryUseCmd = &cobra.Command{
	Use:   "use <token-id>",
	Short: "Consume a token and recover the guardian to secure",
	Long: "Consumes the token, returns the guardian from degraded to secure and\n" +
		"resets the integrity failure counter. Only degraded is recoverable;\n" +
		"compromised and lockdown require a restart.",
	Args: cobra.ExactArgs(1),
	RunE: runRecoveryUse,
}

var recoveryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all recovery tokens",
	RunE:  runRecoveryList,
}

var recoveryRevokeCmd = &cobra.Command{
	Use:   "revoke <token-id>",
	Short: "Revoke a recovery token",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecoveryRevoke,
}

func runRecoveryIssue(cmd *cobra.Command, args []string) error {
	if recoveryReason == "" {
		return fmt.Errorf("--reason is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := recovery.NewStore(cfg.RecoveryDir)
	if err != nil {
		return err
	}

	token, err := store.Issue(recoveryReason, recoveryDuration)
	if err != nil {
		return err
	}

	fmt.Printf("Recovery token issued: %s\n", token.ID)
	fmt.Printf("Reason:  %s\n", token.Reason)
	fmt.Printf("Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("This token covers ONE recovery, then expires.")
	return nil
}

func runRecoveryUse(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	store, err := recovery.NewStore(rt.cfg.RecoveryDir)
	if err != nil {
		return err
	}

	if err := rt.monitor.Initialize(); err != nil {
		return fmt.Errorf("initialize baseline: %w", err)
	}

	// Surface the current tree state; a mismatched tree degrades the
	// guardian, which is the only state Recover accepts.
	if _, _, err := rt.guardian.VerifyIntegrity(); err != nil {
		return err
	}

	if err := rt.guardian.Recover(store, args[0]); err != nil {
		return err
	}
	fmt.Printf("Recovered to %s (token %s consumed)\n", rt.guardian.State(), args[0])

	// The consumed token also authorizes accepting the tree as the new
	// baseline, the only sanctioned way to replace a manifest.
	if recoveryRebaseline {
		if err := os.Remove(rt.cfg.ManifestPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale baseline: %w", err)
		}
		m, err := integrity.Create(rt.cfg.Root, rt.cfg.CoveredDirs, rt.cfg.ManifestPath)
		if err != nil {
			return err
		}
		if err := integrity.Persist(m, rt.cfg.ManifestPath); err != nil {
			return err
		}
		fmt.Printf("Baseline recreated: %d files\n", len(m.Files))
	}
	return nil
}

func runRecoveryList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := recovery.NewStore(cfg.RecoveryDir)
	if err != nil {
		return err
	}

	tokens, err := store.List()
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		fmt.Println("No recovery tokens.")
		return nil
	}

	fmt.Printf("%-40s %-8s %-30s %-25s\n", "ID", "STATUS", "REASON", "EXPIRES")
	for _, t := range tokens {
		status := "active"
		switch {
		case t.UsedAt != nil:
			status = "used"
		case t.RevokedAt != nil:
			status = "revoked"
		case !t.Active():
			status = "expired"
		}

		reason := t.Reason
		if len(reason) > 28 {
			reason = reason[:28] + ".."
		}
		fmt.Printf("%-40s %-8s %-30s %-25s\n", t.ID, status, reason, t.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runRecoveryRevoke(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := recovery.NewStore(cfg.RecoveryDir)
	if err != nil {
		return err
	}
	if err := store.Revoke(args[0]); err != nil {
		return err
	}
	fmt.Printf("Token %s revoked.\n", args[0])
	return nil
}
