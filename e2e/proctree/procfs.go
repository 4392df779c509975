//go:build linux

package proctree

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prometheus/procfs"
)

// commLen is the kernel limit on the comm name (TASK_COMM_LEN - 1).
const commLen = 15

// ProcFS implements Inspector on top of a mounted proc filesystem.
type ProcFS struct {
	fs procfs.FS
}

// NewProcFS returns an Inspector reading the default /proc mount.
func NewProcFS() (*ProcFS, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open /proc: %w", err)
	}
	return &ProcFS{fs: fs}, nil
}

// NewProcFSAt returns an Inspector reading the proc filesystem mounted at mountPoint.
func NewProcFSAt(mountPoint string) (*ProcFS, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", mountPoint, err)
	}
	return &ProcFS{fs: fs}, nil
}

// ChildrenOf scans the process table for processes whose parent is pid.
// Processes that exit during the scan are skipped.
func (p *ProcFS) ChildrenOf(pid int) ([]int, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var children []int
	for _, proc := range procs {
		stat, err := proc.Stat()
		if err != nil {
			continue
		}
		if stat.PPID == pid {
			children = append(children, stat.PID)
		}
	}
	sort.Ints(children)
	return children, nil
}

// ExistsByName reports whether a process named name is running.
func (p *ProcFS) ExistsByName(name string) (bool, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return false, fmt.Errorf("failed to list processes: %w", err)
	}

	for _, proc := range procs {
		comm, err := proc.Comm()
		if err != nil {
			continue
		}
		if comm == name {
			return true, nil
		}
		// comm is truncated, fall back to argv[0] for long names
		if len(name) > commLen && strings.HasPrefix(name, comm) && len(comm) == commLen {
			cmdline, err := proc.CmdLine()
			if err != nil || len(cmdline) == 0 {
				continue
			}
			if filepath.Base(cmdline[0]) == name {
				return true, nil
			}
		}
	}
	return false, nil
}
