package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/timvw/shtest/internal/logging"
)

// Config holds the harness configuration.
// Every field is populated from environment variables by Load(); the CLI
// overrides individual fields from flags afterwards.
type Config struct {
	Subject      string           // SHTEST_SUBJECT (default "./a.out")
	Build        string           // SHTEST_BUILD, shell command run with sh -c (default: none)
	BuildDir     string           // SHTEST_BUILD_DIR (default ".")
	Scenarios    []string         // SHTEST_SCENARIOS, colon separated (default "scenarios.yaml")
	GuardTimeout time.Duration    // SHTEST_GUARD_TIMEOUT (default 2s)
	LogLevel     logging.LogLevel // SHTEST_LOG_LEVEL (default info)
}

const (
	DefaultSubject      = "./a.out"
	DefaultBuildDir     = "."
	DefaultScenarios    = "scenarios.yaml"
	DefaultGuardTimeout = 2 * time.Second
)

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	c := &Config{
		Subject:      DefaultSubject,
		BuildDir:     DefaultBuildDir,
		Scenarios:    []string{DefaultScenarios},
		GuardTimeout: DefaultGuardTimeout,
		LogLevel:     logging.LevelInfo,
	}

	if v := os.Getenv("SHTEST_SUBJECT"); v != "" {
		c.Subject = v
	}
	c.Build = os.Getenv("SHTEST_BUILD")
	if v := os.Getenv("SHTEST_BUILD_DIR"); v != "" {
		c.BuildDir = v
	}
	if v := os.Getenv("SHTEST_SCENARIOS"); v != "" {
		c.Scenarios = splitList(v)
	}

	if v := os.Getenv("SHTEST_GUARD_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SHTEST_GUARD_TIMEOUT=%q: %w", v, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid SHTEST_GUARD_TIMEOUT=%q: must be positive", v)
		}
		c.GuardTimeout = d
	}

	if v := os.Getenv("SHTEST_LOG_LEVEL"); v != "" {
		level, err := logging.ParseLevel(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SHTEST_LOG_LEVEL: %w", err)
		}
		c.LogLevel = level
	}

	return c, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, string(os.PathListSeparator)) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
