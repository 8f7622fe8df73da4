package guardian

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vigilcore/vigil/internal/errkind"
)

// Attack-surface reduction. Rather than rewriting runtime primitives,
// each guard is an explicit capability gate installed exactly once at
// process start; all dynamic-load and spawn call sites are routed
// through it by code organization.

// LoadGate authorizes dynamic code loading. Only the runtime's own
// bootstrap path is permitted; everything else is denied and escalates.
type LoadGate struct {
	g             *Guardian
	bootstrapPath string
}

// InstallLoadGuard installs the dynamic-code-loading gate. A second
// installation is an error: one gate, one authority.
func (g *Guardian) InstallLoadGuard(bootstrapPath string) (*LoadGate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.loadGate != nil {
		return nil, fmt.Errorf("guardian: load guard already installed")
	}
	abs, err := filepath.Abs(bootstrapPath)
	if err != nil {
		return nil, fmt.Errorf("guardian: resolve bootstrap path: %w", err)
	}
	g.loadGate = &LoadGate{g: g, bootstrapPath: abs}

	if _, err := g.trace.Append("guard_installed", map[string]string{
		"guard":          "dynamic_code_load",
		"bootstrap_path": abs,
	}); err != nil {
		return nil, err
	}
	return g.loadGate, nil
}

// Authorize permits a load only from within the bootstrap path. Any
// other load is denied, recorded and escalated.
func (lg *LoadGate) Authorize(path string) error {
	abs, err := filepath.Abs(path)
	if err == nil && (abs == lg.bootstrapPath || strings.HasPrefix(abs, lg.bootstrapPath+string(filepath.Separator))) {
		return nil
	}

	lg.g.attackSurfaceViolation("dynamic_code_load", path)
	return fmt.Errorf("guardian: dynamic code load denied: %s is outside bootstrap path", path)
}

// SpawnGate authorizes process creation. There is nothing to
// authorize: every spawn attempt is denied and escalates.
type SpawnGate struct {
	g *Guardian
}

// InstallSpawnGuard installs the process-spawn gate, once.
func (g *Guardian) InstallSpawnGuard() (*SpawnGate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.spawnGate != nil {
		return nil, fmt.Errorf("guardian: spawn guard already installed")
	}
	g.spawnGate = &SpawnGate{g: g}

	if _, err := g.trace.Append("guard_installed", map[string]string{
		"guard": "process_spawn",
	}); err != nil {
		return nil, err
	}
	return g.spawnGate, nil
}

// Authorize denies the spawn and escalates.
func (sg *SpawnGate) Authorize(command string, args ...string) error {
	detail := command
	if len(args) > 0 {
		detail = command + " " + strings.Join(args, " ")
	}
	sg.g.attackSurfaceViolation("process_spawn", detail)
	return fmt.Errorf("guardian: process spawn denied: %q", detail)
}

// AssertSingleProcessExecution compares the current process identity
// with the identity captured at boot, and scans for descendant
// processes. Any mismatch or descendant escalates as an attack-surface
// violation.
func (g *Guardian) AssertSingleProcessExecution() error {
	pid, ppid := os.Getpid(), os.Getppid()
	if pid != g.bootPID || ppid != g.bootPPID {
		detail := fmt.Sprintf("boot pid/ppid %d/%d, current %d/%d", g.bootPID, g.bootPPID, pid, ppid)
		g.attackSurfaceViolation("process_identity", detail)
		return fmt.Errorf("guardian: process identity changed: %s", detail)
	}

	children, err := g.procs.Children(pid)
	if err != nil {
		// No procfs on this platform; identity check above still holds.
		return nil
	}
	if len(children) > 0 {
		detail := fmt.Sprintf("%d descendant process(es), first: %s", len(children), children[0].Command)
		g.attackSurfaceViolation("descendant_process", detail)
		return fmt.Errorf("guardian: single-process invariant violated: %s", detail)
	}
	return nil
}

// attackSurfaceViolation records the violation and escalates through
// the boundary-error path with a permission-kind error.
func (g *Guardian) attackSurfaceViolation(surface, detail string) {
	g.mu.Lock()
	appendErr := func() error {
		_, err := g.trace.Append("attack_surface_violation", map[string]string{
			"surface": surface,
			"detail":  detail,
		})
		return err
	}()
	g.mu.Unlock()
	_ = appendErr // violation handling proceeds even if the trace write failed

	err := errkind.New(errkind.Permission, fmt.Sprintf("attack surface violation on %s: %s", surface, detail))
	_ = g.HandleBoundaryError(err, "attack_surface/"+surface)
}
