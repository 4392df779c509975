package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timvw/shtest/e2e/proctree"
	"github.com/timvw/shtest/internal/logging"
)

// Driver spawns the subject and runs one scripted exchange with it.
type Driver struct {
	// GuardTimeout bounds how long a killed subject may keep its pipes
	// open before they are closed from our side.
	GuardTimeout time.Duration

	// Env replaces the subject's environment when non-nil.
	Env []string
}

// NewDriver creates a driver with the given guard timeout
func NewDriver(guard time.Duration) *Driver {
	return &Driver{GuardTimeout: guard}
}

// Session is one live subject process owned by the driver.
type Session struct {
	runID   string
	cmd     *exec.Cmd
	dir     string
	timeout time.Duration
	guard   time.Duration
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc

	stdout  bytes.Buffer
	stderr  bytes.Buffer
	readers []io.Closer
	io      errgroup.Group

	onExit func(exchange context.Context)

	// reapMu orders group kills against reaping: once reaped is set the
	// pgid may belong to someone else.
	reapMu sync.Mutex
	reaped bool
}

// Start spawns binary with no arguments in dir (the ambient working
// directory when empty), writes script to its stdin and closes it.
// The exchange is bounded by timeout when it is positive.
func (d *Driver) Start(ctx context.Context, binary, script string, timeout time.Duration, dir string) (*Session, error) {
	s := &Session{
		runID:   newRunID(),
		dir:     dir,
		timeout: timeout,
		guard:   d.GuardTimeout,
	}
	if timeout > 0 {
		s.ctx, s.cancel = context.WithTimeout(ctx, timeout)
	} else {
		s.ctx, s.cancel = context.WithCancel(ctx)
	}

	cmd := exec.Command(binary)
	cmd.Dir = dir
	if d.Env != nil {
		cmd.Env = d.Env
	}
	configureProcAttr(cmd)
	s.cmd = cmd

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	s.readers = []io.Closer{stdout, stderr}

	if err := cmd.Start(); err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to start subject %s: %w", binary, err)
	}
	s.started = time.Now()
	logging.Debug("Driver", "Started subject %s as pid %d (run %s)", binary, cmd.Process.Pid, s.runID)

	s.io.Go(func() error {
		_, err := io.WriteString(stdin, script)
		closeErr := stdin.Close()
		if err == nil {
			err = closeErr
		}
		// The subject may exit without consuming its whole script.
		if err != nil && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, os.ErrClosed) {
			return fmt.Errorf("failed to write script: %w", err)
		}
		return nil
	})
	s.io.Go(func() error { return drain(&s.stdout, stdout, "stdout") })
	s.io.Go(func() error { return drain(&s.stderr, stderr, "stderr") })

	return s, nil
}

// Run starts the subject and waits for the exchange to complete.
func (d *Driver) Run(ctx context.Context, binary, script string, timeout time.Duration, dir string) (*Result, error) {
	s, err := d.Start(ctx, binary, script, timeout, dir)
	if err != nil {
		return nil, err
	}
	return s.Wait()
}

// Pid returns the subject's process id.
func (s *Session) Pid() int { return s.cmd.Process.Pid }

// StartedAt returns the moment the subject was spawned.
func (s *Session) StartedAt() time.Time { return s.started }

// OnExit registers fn to run once the subject has exited but before it is
// reaped, so its pid cannot be reused while fn runs. exchange is done when
// the exchange timed out or was canceled. Call OnExit before Wait.
func (s *Session) OnExit(fn func(exchange context.Context)) {
	s.onExit = fn
}

// Wait reads stdout and stderr to completion and reaps the subject.
// When the timeout expires first, the subject's process group is killed
// and a *TimeoutError is returned together with whatever was captured.
// In every case the subject's group is swept before the subject is reaped.
func (s *Session) Wait() (*Result, error) {
	defer s.cancel()

	pid := s.Pid()
	done := make(chan error, 1)
	go func() {
		ioErr := s.io.Wait()
		if err := waitExited(pid); err != nil {
			logging.Debug("Driver", "Cannot wait for %d without reaping it: %v", pid, err)
		}
		if s.onExit != nil {
			s.onExit(s.ctx)
		}

		s.reapMu.Lock()
		// Background jobs that let go of our pipes may still be running.
		// The unreaped subject keeps the pgid reserved.
		s.killGroup("sweep")
		waitErr := s.cmd.Wait()
		s.reaped = true
		s.reapMu.Unlock()

		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			waitErr = nil
		}
		done <- errors.Join(ioErr, waitErr)
	}()

	var exchangeErr error
	select {
	case err := <-done:
		exchangeErr = err
		// The exit hook may have outlived the deadline.
		if s.ctx.Err() != nil {
			exchangeErr = s.earlyEnd()
		}
	case <-s.ctx.Done():
		logging.Debug("Driver", "Exchange with %d ended early (%v), killing process group", pid, s.ctx.Err())
		s.reapMu.Lock()
		if !s.reaped {
			s.killGroup("kill")
		}
		s.reapMu.Unlock()
		s.awaitAfterKill(done)
		exchangeErr = s.earlyEnd()
	}

	result := &Result{
		RunID:    s.runID,
		Pid:      pid,
		Dir:      s.dir,
		Stdout:   s.stdout.String(),
		Stderr:   s.stderr.String(),
		ExitCode: -1,
		Duration: time.Since(s.started),
	}
	if s.cmd.ProcessState != nil {
		result.ExitCode = s.cmd.ProcessState.ExitCode()
	}
	logging.Debug("Driver", "Subject %d finished with exit code %d after %s", pid, result.ExitCode, result.Duration)

	return result, exchangeErr
}

func (s *Session) earlyEnd() error {
	if errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: s.timeout}
	}
	return s.ctx.Err()
}

func (s *Session) killGroup(what string) {
	if err := proctree.KillGroup(s.Pid(), syscall.SIGKILL); err != nil {
		logging.Warn("Driver", "Failed to %s process group %d: %v", what, s.Pid(), err)
	}
}

// awaitAfterKill waits for the pumps and the reaper. Descendants that
// escaped the process group can hold the pipes open, so after the guard
// timeout the read ends are closed from our side.
func (s *Session) awaitAfterKill(done <-chan error) {
	timer := time.NewTimer(s.guard)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
		logging.Warn("Driver", "Pipes of %d still open after %s, closing them", s.Pid(), s.guard)
		for _, r := range s.readers {
			_ = r.Close()
		}
		<-done
	}
}

func drain(dst *bytes.Buffer, src io.Reader, name string) error {
	_, err := io.Copy(dst, src)
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	return nil
}
