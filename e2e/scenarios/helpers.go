// Package scenarios holds the scenario tables that exercise a shell
// implementation through the harness.
package scenarios

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/timvw/shtest/e2e/harness"
	"github.com/timvw/shtest/internal/config"
)

// getPosixShells returns the reference shells to run the portable table
// against, based on the E2E_SHELLS env var.
// E2E_SHELLS should be a comma-separated list (e.g., "sh,bash,dash").
// If not set, defaults to "sh".
// Fails the test if a configured shell is not available.
func getPosixShells(t *testing.T) []string {
	t.Helper()

	shellsEnv := os.Getenv("E2E_SHELLS")
	if shellsEnv == "" {
		shellsEnv = "sh"
		t.Logf("E2E_SHELLS not set, defaulting to: %s", shellsEnv)
	} else {
		t.Logf("E2E_SHELLS=%s", shellsEnv)
	}

	var shells []string
	for _, name := range strings.Split(shellsEnv, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		path, err := verifyShellAvailable(name)
		if err != nil {
			t.Fatalf("Shell '%s' configured in E2E_SHELLS but not available: %v", name, err)
		}
		shells = append(shells, path)
	}

	if len(shells) == 0 {
		t.Fatal("No valid shells configured")
	}

	return shells
}

// verifyShellAvailable checks if a shell executable is available in PATH
func verifyShellAvailable(shell string) (string, error) {
	path, err := exec.LookPath(shell)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", shell)
	}
	return path, nil
}

// getSubjectBuilder returns a builder for the shell under test as
// configured through SHTEST_SUBJECT, SHTEST_BUILD and SHTEST_BUILD_DIR.
// The test is skipped when no subject is configured.
func getSubjectBuilder(t *testing.T) (*harness.Builder, *config.Config) {
	t.Helper()

	if os.Getenv("SHTEST_SUBJECT") == "" {
		t.Skip("SHTEST_SUBJECT not set, skipping subject scenarios")
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Invalid configuration: %v", err)
	}
	return harness.NewBuilder(cfg.Subject, cfg.Build, cfg.BuildDir), cfg
}

// runScenarios runs each scenario as its own subtest.
func runScenarios(t *testing.T, runner *harness.Runner, scenarios []harness.Scenario) {
	t.Helper()

	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			_, err := runner.Run(context.Background(), sc)
			if harness.IsBuildError(err) {
				t.Fatalf("Subject unavailable: %v", err)
			}
			if err != nil {
				t.Fatalf("Scenario failed: %v", err)
			}
		})
	}
}
