// Package procwatch discovers the process tree around the control
// plane. The guardian uses it as evidence for its single-process
// invariant: a descendant process means something spawned past the
// guard.
package procwatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ProcessInfo describes one running process.
type ProcessInfo struct {
	PID     int
	PPID    int
	Command string
}

// Watcher discovers descendant processes.
type Watcher interface {
	Children(pid int) ([]ProcessInfo, error)
}

// ProcfsWatcher reads /proc to discover processes. Linux-only at
// runtime; other platforms report no children.
type ProcfsWatcher struct{}

// Children returns all descendant processes of the given PID by
// reading /proc/<pid>/task/*/children recursively.
func (w *ProcfsWatcher) Children(pid int) ([]ProcessInfo, error) {
	pids, err := descendantPIDs(pid)
	if err != nil {
		return nil, err
	}

	var procs []ProcessInfo
	for _, childPID := range pids {
		cmd := readCmdline(childPID)
		if cmd == "" {
			continue
		}
		procs = append(procs, ProcessInfo{PID: childPID, PPID: pid, Command: cmd})
	}
	return procs, nil
}

func descendantPIDs(root int) ([]int, error) {
	var result []int
	queue := []int{root}

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]

		children, err := directChildren(pid)
		if err != nil {
			// Process may have exited; skip silently
			continue
		}
		result = append(result, children...)
		queue = append(queue, children...)
	}
	return result, nil
}

func directChildren(pid int) ([]int, error) {
	taskDir := fmt.Sprintf("/proc/%d/task", pid)
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(taskDir, entry.Name(), "children"))
		if err != nil {
			continue
		}
		for _, field := range strings.Fields(string(data)) {
			if childPID, err := strconv.Atoi(field); err == nil && !seen[childPID] {
				seen[childPID] = true
			}
		}
	}

	result := make([]int, 0, len(seen))
	for pid := range seen {
		result = append(result, pid)
	}
	return result, nil
}

// readCmdline reads /proc/<pid>/cmdline; cmdline uses null separators.
func readCmdline(pid int) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return ""
	}
	var parts []string
	for _, p := range strings.Split(string(data), "\x00") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
