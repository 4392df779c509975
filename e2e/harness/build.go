package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/timvw/shtest/internal/logging"
)

// Builder makes sure the subject executable exists before any scenario runs.
type Builder struct {
	// Binary is the path of the executable the build produces.
	Binary string

	// Command is a shell command that builds Binary, run with sh -c.
	// Empty means the subject is already built.
	Command string

	// Dir is where Command runs. Relative Binary paths resolve against it.
	Dir string

	once sync.Once
	path string
	err  error
}

// NewBuilder creates a builder for the given subject
func NewBuilder(binary, command, dir string) *Builder {
	return &Builder{Binary: binary, Command: command, Dir: dir}
}

// Ensure runs the build once and returns the absolute path of the subject.
// Later calls return the memoized outcome, including a build failure.
func (b *Builder) Ensure(ctx context.Context) (string, error) {
	b.once.Do(func() {
		b.path, b.err = b.build(ctx)
	})
	return b.path, b.err
}

func (b *Builder) build(ctx context.Context) (string, error) {
	if b.Command != "" {
		logging.Info("Builder", "Building subject: %s", b.Command)

		cmd := exec.CommandContext(ctx, "sh", "-c", b.Command)
		cmd.Dir = b.Dir
		output, err := cmd.CombinedOutput()
		if err != nil {
			be := &BuildError{Command: b.Command, Dir: b.Dir, Output: string(output), Err: err}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				be.ExitCode = exitErr.ExitCode()
			}
			return "", be
		}
	}

	path := b.Binary
	if !filepath.IsAbs(path) && b.Dir != "" {
		path = filepath.Join(b.Dir, path)
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return "", b.unavailable(fmt.Errorf("failed to resolve subject path: %w", err))
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", b.unavailable(fmt.Errorf("subject not found: %w", err))
	}
	if !info.Mode().IsRegular() {
		return "", b.unavailable(fmt.Errorf("subject %s is not a regular file", path))
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "", b.unavailable(fmt.Errorf("subject %s is not executable", path))
	}

	logging.Debug("Builder", "Subject ready at %s", path)
	return path, nil
}

// unavailable reports a subject that cannot be run. Like a failed build it
// aborts the whole run.
func (b *Builder) unavailable(err error) error {
	return &BuildError{Command: b.Command, Dir: b.Dir, Err: err}
}
