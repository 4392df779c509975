package proctree

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Kill implements Signaler with kill(2).
type Kill struct{}

// Send delivers sig to every pid individually. Targets that have already
// exited are skipped; any other failure is reported once all targets were tried.
func (Kill) Send(pids []int, sig syscall.Signal) error {
	var errs []error
	for _, pid := range pids {
		if pid <= 0 {
			errs = append(errs, fmt.Errorf("refusing to signal pid %d", pid))
			continue
		}
		if err := unix.Kill(pid, sig); err != nil {
			if errors.Is(err, unix.ESRCH) {
				continue
			}
			errs = append(errs, fmt.Errorf("failed to send %v to %d: %w", sig, pid, err))
		}
	}
	return errors.Join(errs...)
}

// KillGroup sends sig to every member of the process group pgid.
// A group with no remaining members is not an error.
func KillGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 1 {
		return fmt.Errorf("refusing to signal process group %d", pgid)
	}
	if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to send %v to process group %d: %w", sig, pgid, err)
	}
	return nil
}
