//go:build linux

package scenarios

import (
	"context"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/timvw/shtest/e2e/harness"
)

// posixScenarios is the part of the shell table whose expected output any
// POSIX shell produces, so the harness can be exercised without the subject.
func posixScenarios(t *testing.T, actions *harness.Actions) []harness.Scenario {
	t.Helper()

	target := filepath.Join(t.TempDir(), "redirect.txt")

	return []harness.Scenario{
		{
			Name:     "sanity - echo",
			Commands: []string{"echo hello world"},
			Stdout:   "hello world\n",
			Isolated: true,
		},
		{
			Name:     "echo pipe cat",
			Commands: []string{"echo hello world | cat"},
			Stdout:   "hello world\n",
			Isolated: true,
		},
		{
			Name:     "redirect echo to file",
			Commands: []string{"echo hello > testfile.txt", "cat testfile.txt", "rm testfile.txt"},
			Stdout:   "hello\n",
			Isolated: true,
		},
		{
			Name:     "foreground command respects SIGINT",
			Commands: []string{"sleep 60"},
			Timeout:  3 * time.Second,
			Isolated: true,
			Intervention: &harness.Intervention{
				Action: actions.SignalChildren(syscall.SIGINT),
				Delay:  time.Second,
			},
		},
		{
			Name:     "background command does not respect SIGINT",
			Commands: []string{"sleep 3 &"},
			Timeout:  5 * time.Second,
			Isolated: true,
			Intervention: &harness.Intervention{
				Action: harness.Compose(actions.SignalChildren(syscall.SIGINT), actions.AssertAlive("sleep")),
				Delay:  300 * time.Millisecond,
			},
		},
		{
			Name:     "redirect to file",
			Commands: []string{"echo hello world > " + target},
			Verify:   []harness.Assertion{harness.AssertFileEquals(target, "hello world\n")},
		},
		{
			Name:      "background command does not block",
			Commands:  []string{"echo start", "sleep 2 &", "echo start"},
			AnyStdout: true,
			Timeout:   10 * time.Second,
			Verify:    []harness.Assertion{harness.AssertUniformLines(2)},
		},
	}
}

// TestPosixShells runs the portable table against each reference shell
func TestPosixShells(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	actions, err := harness.DefaultActions()
	if err != nil {
		t.Fatalf("Failed to open process table: %v", err)
	}

	for _, shell := range getPosixShells(t) {
		t.Run(filepath.Base(shell), func(t *testing.T) {
			runner := harness.NewRunner(harness.NewBuilder(shell, "", ""))
			runScenarios(t, runner, posixScenarios(t, actions))
		})
	}
}

// TestPosixShellTimeoutIsReported checks that a hanging command fails the
// scenario with the configured timeout and the command list
func TestPosixShellTimeoutIsReported(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	shell := getPosixShells(t)[0]
	runner := harness.NewRunner(harness.NewBuilder(shell, "", ""), harness.WithGuardTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	start := time.Now()
	_, err := runner.Run(ctx, harness.Scenario{
		Name:     "foreground sleep without interrupt",
		Commands: []string{"sleep 60"},
		Timeout:  time.Second,
	})
	if err == nil {
		t.Fatal("expected the scenario to time out")
	}
	if !strings.Contains(err.Error(), "shell took longer than expected (1s) to run commands") ||
		!strings.Contains(err.Error(), `["sleep 60"]`) {
		t.Errorf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %s to be reported", elapsed)
	}
}
