package harness

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrGuardTimeout is returned when an intervention does not finish within
// the guard timeout after the exchange has already ended.
var ErrGuardTimeout = errors.New("intervention did not finish within guard timeout")

// BuildError reports a build step that exited non-zero. It is an
// infrastructure fault: no scenario runs after it.
type BuildError struct {
	Command  string
	Dir      string
	ExitCode int
	Output   string
	Err      error
}

func (e *BuildError) Error() string {
	msg := "subject unavailable"
	if e.Command != "" {
		msg = fmt.Sprintf("build %q failed", e.Command)
	}
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += "\nOutput: " + e.Output
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// TimeoutError reports an exchange that did not complete within the
// scenario timeout. The subject tree has been killed when it is returned.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("shell took longer than expected (%s) to run commands", e.Timeout)
}

// MismatchError reports captured output that differs from the expectation.
type MismatchError struct {
	Stream   string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected %q, got %q", e.Stream, e.Expected, e.Actual)
}

// AssertionError reports a check inside an intervention that did not hold.
type AssertionError struct {
	Check string
	Pid   int
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("intervention assertion failed: %s (subject pid %d)", e.Check, e.Pid)
}

// ScenarioError is the single failure outcome of one scenario.
type ScenarioError struct {
	Name     string
	Commands []string
	Err      error
}

func (e *ScenarioError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %q failed: %v", e.Name, e.Err)
	fmt.Fprintf(&b, "\ncommands: %q", e.Commands)
	return b.String()
}

func (e *ScenarioError) Unwrap() error { return e.Err }

// IsBuildError reports whether err stems from a failed build step.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}
