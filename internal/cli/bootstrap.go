package cli

import (
	"fmt"
	"log/slog"

	"github.com/vigilcore/vigil/internal/alert"
	"github.com/vigilcore/vigil/internal/config"
	"github.com/vigilcore/vigil/internal/credstore"
	"github.com/vigilcore/vigil/internal/guardian"
	"github.com/vigilcore/vigil/internal/integrity"
	"github.com/vigilcore/vigil/internal/killswitch"
	"github.com/vigilcore/vigil/internal/trace"
)

// runtime is the fully wired control plane for one CLI invocation.
type runtime struct {
	cfg      *config.Config
	trace    *trace.Trace
	monitor  *integrity.Monitor
	guardian *guardian.Guardian
	creds    credstore.Store
}

// newRuntime boots the guardian with every collaborator attached. The
// config content hash lands in the trace so a swapped config file is
// evident in the chain.
func newRuntime() (*runtime, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, cfgHash, err := config.LoadWithHash(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var tr *trace.Trace
	if cfg.TraceMirrorPath != "" {
		tr, err = trace.OpenMirrored(cfg.TraceMirrorPath)
		if err != nil {
			return nil, fmt.Errorf("open trace mirror: %w", err)
		}
	} else {
		tr = trace.New()
	}

	monitor := integrity.NewMonitor(cfg.Root, cfg.CoveredDirs, cfg.ManifestPath)
	creds := credstore.NewMemoryStore()

	g, err := guardian.New(guardian.Config{
		Trace:      tr,
		Kill:       killswitch.New(),
		Creds:      creds,
		Monitor:    monitor,
		Thresholds: cfg.Thresholds,
		Alerts:     alert.NewDispatcher(cfg.Alerts),
	})
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("boot guardian: %w", err)
	}

	if _, err := tr.Append("config_loaded", map[string]string{
		"path": path,
		"hash": cfgHash,
	}); err != nil {
		tr.Close()
		return nil, fmt.Errorf("record config hash: %w", err)
	}

	if _, err := g.InstallLoadGuard(cfg.Root); err != nil {
		slog.Warn("load guard already installed", "err", err)
	}
	if _, err := g.InstallSpawnGuard(); err != nil {
		slog.Warn("spawn guard already installed", "err", err)
	}

	return &runtime{
		cfg:      cfg,
		trace:    tr,
		monitor:  monitor,
		guardian: g,
		creds:    creds,
	}, nil
}

func (r *runtime) close() {
	if err := r.trace.Close(); err != nil {
		slog.Warn("close trace", "err", err)
	}
}
