package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Scenario represents a complete shell test scenario
type Scenario struct {
	Name        string
	Description string

	// Commands are joined with a newline and written to the subject in one go.
	Commands []string

	// Stdout and Stderr must match the captured streams exactly.
	Stdout string
	Stderr string

	// AnyStdout skips the exact stdout comparison, for output such as
	// timestamps that Verify checks instead.
	AnyStdout bool

	// Timeout bounds the whole exchange; zero means no limit.
	Timeout time.Duration

	// Isolated runs the subject in a fresh workspace holding a copy of it.
	Isolated bool

	Intervention *Intervention
	Verify       []Assertion
}

// Script returns the text written to the subject's stdin.
func (s Scenario) Script() string {
	return strings.Join(s.Commands, "\n")
}

// Result captures the outcome of one exchange with the subject
type Result struct {
	RunID    string
	Pid      int
	Dir      string // Working directory of the subject, empty for the ambient one
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Assertion is a function that validates test results
type Assertion func(*Result) error

// Common assertion builders

// AssertStdoutEquals verifies stdout matches exactly, trailing newlines included
func AssertStdoutEquals(expected string) Assertion {
	return func(r *Result) error {
		if r.Stdout != expected {
			return &MismatchError{Stream: "stdout", Expected: expected, Actual: r.Stdout}
		}
		return nil
	}
}

// AssertStderrEquals verifies stderr matches exactly, trailing newlines included
func AssertStderrEquals(expected string) Assertion {
	return func(r *Result) error {
		if r.Stderr != expected {
			return &MismatchError{Stream: "stderr", Expected: expected, Actual: r.Stderr}
		}
		return nil
	}
}

// AssertExitCode verifies the exit code matches expected value
func AssertExitCode(expected int) Assertion {
	return func(r *Result) error {
		if r.ExitCode != expected {
			return fmt.Errorf("exit code: expected %d, got %d", expected, r.ExitCode)
		}
		return nil
	}
}

// AssertStdoutContains verifies stdout contains the expected string
func AssertStdoutContains(expected string) Assertion {
	return func(r *Result) error {
		if expected == "" || !strings.Contains(r.Stdout, expected) {
			return fmt.Errorf("stdout does not contain %q\nGot: %s", expected, r.Stdout)
		}
		return nil
	}
}

// AssertStderrContains verifies stderr contains the expected string
func AssertStderrContains(expected string) Assertion {
	return func(r *Result) error {
		if expected == "" || !strings.Contains(r.Stderr, expected) {
			return fmt.Errorf("stderr does not contain %q\nGot: %s", expected, r.Stderr)
		}
		return nil
	}
}

// AssertFileEquals verifies a file left behind in the subject's working
// directory has exactly the expected content. Absolute names are read as is.
func AssertFileEquals(name, expected string) Assertion {
	return func(r *Result) error {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.Dir, name)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("file %s: %w", name, err)
		}
		if string(data) != expected {
			return &MismatchError{Stream: "file " + name, Expected: expected, Actual: string(data)}
		}
		return nil
	}
}

// AssertUniformLines verifies stdout consists of exactly n lines that are
// all identical. Two equal `date +%s` lines around a backgrounded command
// show the command did not block.
func AssertUniformLines(n int) Assertion {
	return func(r *Result) error {
		lines := strings.Split(strings.TrimSuffix(r.Stdout, "\n"), "\n")
		if r.Stdout == "" {
			lines = nil
		}
		if len(lines) != n {
			return fmt.Errorf("stdout: expected %d lines, got %d\nGot: %q", n, len(lines), r.Stdout)
		}
		for i := 1; i < len(lines); i++ {
			if lines[i] != lines[0] {
				return fmt.Errorf("stdout line %d differs: %q != %q (backgrounded command seems to have been blocking)",
					i+1, lines[i], lines[0])
			}
		}
		return nil
	}
}
