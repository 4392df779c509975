package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/timvw/shtest/e2e/harness"
	"github.com/timvw/shtest/internal/config"
	"github.com/timvw/shtest/internal/logging"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "build failure",
			err:  &harness.BuildError{Command: "make", ExitCode: 2},
			want: 2,
		},
		{
			name: "wrapped build failure",
			err:  fmt.Errorf("run: %w", &harness.BuildError{Command: "make"}),
			want: 2,
		},
		{
			name: "scenario failures",
			err:  fmt.Errorf("1 of 3 %w", errScenariosFailed),
			want: 1,
		},
		{
			name: "other error",
			err:  errors.New("unknown scenario: x"),
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFilterScenarios(t *testing.T) {
	all := []harness.Scenario{{Name: "echo"}, {Name: "pipe"}, {Name: "sleep"}}

	tests := []struct {
		name    string
		names   []string
		want    []string
		wantErr bool
	}{
		{
			name:  "no filter",
			names: nil,
			want:  []string{"echo", "pipe", "sleep"},
		},
		{
			name:  "keeps file order",
			names: []string{"sleep", "echo"},
			want:  []string{"echo", "sleep"},
		},
		{
			name:  "duplicate names",
			names: []string{"pipe", "pipe"},
			want:  []string{"pipe"},
		},
		{
			name:    "unknown name",
			names:   []string{"echo", "nope"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterScenarios(all, tt.names)
			if (err != nil) != tt.wantErr {
				t.Fatalf("filterScenarios() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			var names []string
			for _, sc := range got {
				names = append(names, sc.Name)
			}
			if fmt.Sprint(names) != fmt.Sprint(tt.want) {
				t.Errorf("filterScenarios() = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, c *config.Config)
		wantErr bool
	}{
		{
			name: "no flags keeps config",
			args: nil,
			check: func(t *testing.T, c *config.Config) {
				if c.Subject != config.DefaultSubject {
					t.Errorf("Subject = %q", c.Subject)
				}
				if c.LogLevel != logging.LevelInfo {
					t.Errorf("LogLevel = %v", c.LogLevel)
				}
			},
		},
		{
			name: "overrides",
			args: []string{"--subject", "/bin/sh", "--build", "make", "--build-dir", "/src", "--guard-timeout", "5s", "--debug"},
			check: func(t *testing.T, c *config.Config) {
				if c.Subject != "/bin/sh" || c.Build != "make" || c.BuildDir != "/src" {
					t.Errorf("unexpected config: %+v", c)
				}
				if c.GuardTimeout != 5*time.Second {
					t.Errorf("GuardTimeout = %s", c.GuardTimeout)
				}
				if c.LogLevel != logging.LevelDebug {
					t.Errorf("LogLevel = %v", c.LogLevel)
				}
			},
		},
		{
			name:    "zero guard timeout",
			args:    []string{"--guard-timeout", "0s"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
			addConfigFlags(flags)
			if err := flags.Parse(tt.args); err != nil {
				t.Fatalf("Parse() error = %v", err)
			}

			c := &config.Config{
				Subject:      config.DefaultSubject,
				BuildDir:     config.DefaultBuildDir,
				GuardTimeout: config.DefaultGuardTimeout,
				LogLevel:     logging.LevelInfo,
			}
			err := applyFlags(flags, c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("applyFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestScenarioPaths(t *testing.T) {
	cfg = &config.Config{Scenarios: []string{"a.yaml", "b"}}
	t.Cleanup(func() { cfg = nil })

	if got := scenarioPaths(nil); fmt.Sprint(got) != "[a.yaml b]" {
		t.Errorf("scenarioPaths(nil) = %v", got)
	}
	if got := scenarioPaths([]string{"x.yaml"}); fmt.Sprint(got) != "[x.yaml]" {
		t.Errorf("scenarioPaths(args) = %v", got)
	}
}
