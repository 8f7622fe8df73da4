package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vigilcore/vigil/internal/config"
	"github.com/vigilcore/vigil/internal/trace"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Security control plane for plan execution",
	Long:  "Gates execution plans behind a monotonic security-state machine:\nintegrity baseline verification, hash-chained event trace, two-phase\nkill switch. Enforcement, not observability.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// A tampered trace mirror is disqualifying before any command runs.
		if cfg.TraceMirrorPath != "" {
			if _, err := os.Stat(cfg.TraceMirrorPath); err == nil {
				if result := trace.VerifyMirror(cfg.TraceMirrorPath); !result.Valid {
					fmt.Fprintf(os.Stderr, "FATAL: trace mirror tampered at line %d: %s\n", result.ErrorLine, result.Error)
					os.Exit(78) // EX_CONFIG
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default: ~/.vigil/config.yaml)")

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
