package harness

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timvw/shtest/e2e/proctree"
	"github.com/timvw/shtest/internal/logging"
)

// Action is one step applied to the running subject, identified by its pid.
type Action func(ctx context.Context, pid int) error

// Intervention is an action run once, Delay after the subject started.
type Intervention struct {
	Action Action
	Delay  time.Duration
}

// Compose chains actions into one. They run in order against the same
// pid and the first error stops the chain and is returned as is.
func Compose(actions ...Action) Action {
	return func(ctx context.Context, pid int) error {
		for _, a := range actions {
			if err := a(ctx, pid); err != nil {
				return err
			}
		}
		return nil
	}
}

// Actions builds atomic actions on top of a process inspector and a signaler.
type Actions struct {
	inspector proctree.Inspector
	signaler  proctree.Signaler
}

// NewActions returns an action builder using the given capabilities.
func NewActions(inspector proctree.Inspector, signaler proctree.Signaler) *Actions {
	return &Actions{inspector: inspector, signaler: signaler}
}

// SignalChildren sends sig to the subject's current children, which is
// where an interactive terminal's interrupt would land. Neither the
// subject itself nor its process group is signaled.
func (a *Actions) SignalChildren(sig syscall.Signal) Action {
	return func(ctx context.Context, pid int) error {
		children, err := a.inspector.ChildrenOf(pid)
		if err != nil {
			return fmt.Errorf("failed to resolve children of %d: %w", pid, err)
		}
		logging.Debug("Scheduler", "Sending %v to children %v of %d", sig, children, pid)
		return a.signaler.Send(children, sig)
	}
}

// AssertAlive fails unless a process named name is running.
func (a *Actions) AssertAlive(name string) Action {
	return func(ctx context.Context, pid int) error {
		ok, err := a.inspector.ExistsByName(name)
		if err != nil {
			return fmt.Errorf("failed to look up process %q: %w", name, err)
		}
		if !ok {
			return &AssertionError{Check: fmt.Sprintf("process %q is alive", name), Pid: pid}
		}
		return nil
	}
}

// AssertGone fails while a process named name is still running.
func (a *Actions) AssertGone(name string) Action {
	return func(ctx context.Context, pid int) error {
		ok, err := a.inspector.ExistsByName(name)
		if err != nil {
			return fmt.Errorf("failed to look up process %q: %w", name, err)
		}
		if ok {
			return &AssertionError{Check: fmt.Sprintf("process %q is gone", name), Pid: pid}
		}
		return nil
	}
}

// AssertChildren fails unless the subject has exactly n children right now.
func (a *Actions) AssertChildren(n int) Action {
	return func(ctx context.Context, pid int) error {
		children, err := a.inspector.ChildrenOf(pid)
		if err != nil {
			return fmt.Errorf("failed to resolve children of %d: %w", pid, err)
		}
		if len(children) != n {
			return &AssertionError{
				Check: fmt.Sprintf("subject has %d children (found %d: %v)", n, len(children), children),
				Pid:   pid,
			}
		}
		return nil
	}
}

// Pause waits d before the next step of a chain.
func Pause(d time.Duration) Action {
	return func(ctx context.Context, pid int) error {
		return sleepCtx(ctx, d)
	}
}

// Task is a scheduled intervention running concurrently with the exchange.
type Task struct {
	g    errgroup.Group
	done chan struct{}
}

// Schedule starts iv in its own goroutine. The action runs once, iv.Delay
// after started (the moment the subject was spawned). A nil intervention
// yields a task that is already complete. Canceling ctx before the delay
// elapses skips the action and ends the task with ctx's error.
func Schedule(ctx context.Context, pid int, started time.Time, iv *Intervention) *Task {
	t := &Task{done: make(chan struct{})}
	if iv == nil || iv.Action == nil {
		close(t.done)
		return t
	}

	t.g.Go(func() (err error) {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("intervention panicked: %v", r)
			}
		}()

		if err := sleepCtx(ctx, time.Until(started.Add(iv.Delay))); err != nil {
			logging.Debug("Scheduler", "Intervention for %d canceled before it ran", pid)
			return err
		}
		logging.Debug("Scheduler", "Running intervention against %d", pid)
		return iv.Action(ctx, pid)
	})
	return t
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	return t.g.Wait()
}

// WaitTimeout is Wait bounded by guard. It returns ErrGuardTimeout when
// the task is still running after guard.
func (t *Task) WaitTimeout(guard time.Duration) error {
	timer := time.NewTimer(guard)
	defer timer.Stop()

	select {
	case <-t.done:
		return t.g.Wait()
	case <-timer.C:
		return ErrGuardTimeout
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
