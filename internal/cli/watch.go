package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vigilcore/vigil/internal/guardian"
	"github.com/vigilcore/vigil/internal/integrity"
	"github.com/vigilcore/vigil/internal/state"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously verify the baseline on filesystem changes",
	Long: "Watches the covered directories and runs a baseline verification\n" +
		"after every debounced burst of changes. Failures escalate the guardian\n" +
		"through the standard ladder; the process stays up until interrupted\n" +
		"or the guardian locks down.",
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.monitor.Initialize(); err != nil {
		return fmt.Errorf("initialize baseline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher := integrity.NewWatcher(rt.cfg.Root, rt.cfg.CoveredDirs, func(changed []string) {
		slog.Info("covered tree changed", "files", strings.Join(changed, ","))
		ok, mismatches, err := rt.guardian.VerifyIntegrity()
		if err != nil {
			if errors.Is(err, guardian.ErrLocked) {
				cancel()
				return
			}
			slog.Error("verification failed", "err", err)
			return
		}
		if !ok {
			slog.Warn("baseline mismatch",
				"mismatches", len(mismatches),
				"state", rt.guardian.State())
		}
		if rt.guardian.State() == state.Lockdown {
			cancel()
		}
	})

	fmt.Printf("Watching %d covered directories under %s\n", len(rt.cfg.CoveredDirs), rt.cfg.Root)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// A locked guardian ends the watch; report the terminal posture.
	fmt.Println(rt.guardian.Summary())
	return rt.guardian.Shutdown()
}
