// Package proctree answers point-in-time questions about the system process
// table and delivers signals to individual processes.
//
// The harness reaches processes only through the two narrow interfaces
// declared here, so its own tests can substitute fakes for a real /proc.
package proctree

import (
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Inspector enumerates descendants of a process and looks processes up by name.
type Inspector interface {
	// ChildrenOf returns the immediate children of pid, sorted ascending.
	// The result is a snapshot that may already be stale when it returns.
	ChildrenOf(pid int) ([]int, error)

	// ExistsByName reports whether any process with the given display
	// name is currently visible.
	ExistsByName(name string) (bool, error)
}

// Signaler delivers a signal to a set of processes, one at a time.
type Signaler interface {
	Send(pids []int, sig syscall.Signal) error
}

// ParseSignal converts "SIGINT", "INT" or "int" to the signal number.
func ParseSignal(name string) (syscall.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return 0, fmt.Errorf("empty signal name")
	}
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	sig := unix.SignalNum(n)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	return sig, nil
}
