package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timvw/shtest/internal/logging"
)

// DefaultGuardTimeout bounds cleanup joins after a scenario timed out.
const DefaultGuardTimeout = 2 * time.Second

// Runner executes scenarios against the subject
type Runner struct {
	builder *Builder
	driver  *Driver
	guard   time.Duration
}

// Option configures a Runner
type Option func(*Runner)

// WithDriver replaces the default driver.
func WithDriver(d *Driver) Option {
	return func(r *Runner) { r.driver = d }
}

// WithGuardTimeout sets the guard timeout used after a scenario timed out.
func WithGuardTimeout(d time.Duration) Option {
	return func(r *Runner) { r.guard = d }
}

// NewRunner creates a new scenario runner
func NewRunner(builder *Builder, opts ...Option) *Runner {
	r := &Runner{
		builder: builder,
		guard:   DefaultGuardTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.driver == nil {
		r.driver = NewDriver(r.guard)
	}
	return r
}

// Outcome is the result of one scenario in a batch.
type Outcome struct {
	Scenario Scenario
	Result   *Result
	Err      error
	Duration time.Duration
}

// Passed reports whether the scenario succeeded.
func (o Outcome) Passed() bool { return o.Err == nil }

// Run executes a scenario and evaluates its expectations.
//
// A *BuildError is returned unwrapped: the subject is unusable and the
// caller should abort. Every other failure comes back as one *ScenarioError.
func (r *Runner) Run(ctx context.Context, scenario Scenario) (*Result, error) {
	binary, err := r.builder.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	logging.Info("Runner", "Running scenario: %s", scenario.Name)
	if scenario.Description != "" {
		logging.Debug("Runner", "  Description: %s", scenario.Description)
	}

	result, err := r.run(ctx, binary, scenario)
	if err != nil {
		logging.Info("Runner", "  ✗ Scenario failed: %s", scenario.Name)
		return result, &ScenarioError{Name: scenario.Name, Commands: scenario.Commands, Err: err}
	}

	logging.Info("Runner", "  ✓ Scenario passed: %s", scenario.Name)
	return result, nil
}

func (r *Runner) run(ctx context.Context, binary string, scenario Scenario) (*Result, error) {
	dir := ""
	if scenario.Isolated {
		ws, err := NewWorkspace(binary)
		if err != nil {
			return nil, err
		}
		defer func() {
			if cerr := ws.Close(); cerr != nil {
				logging.Warn("Runner", "%v", cerr)
			}
		}()
		dir, binary = ws.Dir, ws.Binary
	}

	session, err := r.driver.Start(ctx, binary, scenario.Script(), scenario.Timeout, dir)
	if err != nil {
		return nil, err
	}

	ivCtx, cancelIv := context.WithCancel(ctx)
	defer cancelIv()
	task := Schedule(ivCtx, session.Pid(), session.StartedAt(), scenario.Intervention)

	// The task must finish while the subject's pid is still reserved.
	var ivErr error
	session.OnExit(func(exchange context.Context) {
		ivErr = r.joinIntervention(exchange, task, cancelIv)
	})
	result, exchangeErr := session.Wait()

	if errors.Is(ivErr, context.Canceled) && exchangeErr != nil {
		ivErr = nil
	}

	if exchangeErr != nil || ivErr != nil {
		if ivErr != nil {
			ivErr = fmt.Errorf("intervention: %w", ivErr)
		}
		return result, errors.Join(exchangeErr, ivErr)
	}

	logging.Debug("Runner", "  Exit code: %d", result.ExitCode)
	if result.Stdout != "" {
		logging.Debug("Runner", "  Stdout: %q", result.Stdout)
	}
	if result.Stderr != "" {
		logging.Debug("Runner", "  Stderr: %q", result.Stderr)
	}

	return result, evaluate(result, scenario)
}

// joinIntervention waits for task to finish. Once the exchange is over
// early, a pending task is canceled and waited for at most the guard timeout.
func (r *Runner) joinIntervention(exchange context.Context, task *Task, cancel context.CancelFunc) error {
	select {
	case <-task.done:
		return task.Wait()
	case <-exchange.Done():
		cancel()
		return task.WaitTimeout(r.guard)
	}
}

// evaluate checks stderr, then stdout, then the extra assertions.
func evaluate(result *Result, scenario Scenario) error {
	checks := []Assertion{AssertStderrEquals(scenario.Stderr)}
	if !scenario.AnyStdout {
		checks = append(checks, AssertStdoutEquals(scenario.Stdout))
	}
	checks = append(checks, scenario.Verify...)

	for i, check := range checks {
		if err := check(result); err != nil {
			return err
		}
		logging.Debug("Runner", "  Assertion %d: ✓", i+1)
	}
	return nil
}

// RunAll executes scenarios one after another. A build failure aborts the
// batch and is returned; any other failure is recorded in its Outcome.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(scenarios))
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		start := time.Now()
		result, err := r.Run(ctx, sc)
		if IsBuildError(err) {
			return outcomes, err
		}
		outcomes = append(outcomes, Outcome{
			Scenario: sc,
			Result:   result,
			Err:      err,
			Duration: time.Since(start),
		})
	}
	return outcomes, nil
}
