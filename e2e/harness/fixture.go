package harness

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace is an isolated working directory for one scenario, holding its
// own copy of the subject executable.
type Workspace struct {
	Dir    string
	Binary string
}

// NewWorkspace creates a fresh temporary directory and copies binary into it.
// Callers must Close it once the scenario is over.
func NewWorkspace(binary string) (*Workspace, error) {
	dir, err := os.MkdirTemp("", "shtest-"+newRunID()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	w := &Workspace{Dir: dir}
	w.Binary = filepath.Join(dir, filepath.Base(binary))
	if err := copyExecutable(binary, w.Binary); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to copy subject into workspace: %w", err)
	}

	return w, nil
}

// Path resolves name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// ReadFile reads a file the subject left in the workspace.
func (w *Workspace) ReadFile(name string) (string, error) {
	data, err := os.ReadFile(w.Path(name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Close removes the workspace and everything in it. It is safe to call
// more than once.
func (w *Workspace) Close() error {
	if w.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", w.Dir, err)
	}
	w.Dir = ""
	return nil
}

// copyExecutable copies src to dst keeping the permission bits.
func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func newRunID() string {
	return uuid.NewString()
}
