package harness

import (
	"fmt"

	"github.com/timvw/shtest/e2e/proctree"
)

// DefaultActions returns an action builder backed by /proc and kill(2).
func DefaultActions() (*Actions, error) {
	insp, err := proctree.NewProcFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open process table: %w", err)
	}
	return NewActions(insp, proctree.Kill{}), nil
}
