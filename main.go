package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/timvw/shtest/e2e/harness"
	"github.com/timvw/shtest/internal/config"
	"github.com/timvw/shtest/internal/logging"
	"github.com/timvw/shtest/internal/report"
	"github.com/timvw/shtest/internal/watch"
)

var (
	version = "dev"
	cfg     *config.Config
)

// errScenariosFailed marks a run where at least one scenario failed.
var errScenariosFailed = errors.New("scenarios failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit status: 2 when the
// subject could not be built, 1 for anything else.
func exitCode(err error) int {
	if harness.IsBuildError(err) {
		return 2
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "shtest",
	Short: "Behavioral test harness for shell implementations",
	Long: `Run scripted scenarios against a shell executable and compare its
stdout and stderr byte for byte.

The subject is ` + config.DefaultSubject + ` unless SHTEST_SUBJECT or --subject says otherwise.
Scenarios are read from YAML files; see 'shtest list'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		if err := applyFlags(cmd.Flags(), c); err != nil {
			return err
		}
		cfg = c
		logging.InitForCLI(cfg.LogLevel, cmd.ErrOrStderr())
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	addConfigFlags(rootCmd.PersistentFlags())

	runCmd.Flags().StringSliceP("scenario", "s", nil, "run only the named scenarios")
	runCmd.Flags().BoolP("interactive", "i", false, "pick scenarios from a list")
	watchCmd.Flags().StringSlice("watch", nil, "extra files or directories that trigger a re-run")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func addConfigFlags(flags *pflag.FlagSet) {
	flags.String("subject", "", "shell executable under test (env SHTEST_SUBJECT)")
	flags.String("build", "", "command that builds the subject, run with sh -c (env SHTEST_BUILD)")
	flags.String("build-dir", "", "directory the build command runs in (env SHTEST_BUILD_DIR)")
	flags.Duration("guard-timeout", 0, "how long cleanup may take after a timeout (env SHTEST_GUARD_TIMEOUT)")
	flags.Bool("debug", false, "enable debug logging (env SHTEST_LOG_LEVEL)")
}

// applyFlags overrides configuration values with explicitly set flags.
func applyFlags(flags *pflag.FlagSet, c *config.Config) error {
	if flags.Changed("subject") {
		c.Subject, _ = flags.GetString("subject")
	}
	if flags.Changed("build") {
		c.Build, _ = flags.GetString("build")
	}
	if flags.Changed("build-dir") {
		c.BuildDir, _ = flags.GetString("build-dir")
	}
	if flags.Changed("guard-timeout") {
		d, _ := flags.GetDuration("guard-timeout")
		if d <= 0 {
			return fmt.Errorf("--guard-timeout must be positive")
		}
		c.GuardTimeout = d
	}
	if debug, _ := flags.GetBool("debug"); debug {
		c.LogLevel = logging.LevelDebug
	}
	return nil
}

// Helper functions

func scenarioPaths(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return cfg.Scenarios
}

func loadScenarios(args []string) ([]harness.Scenario, error) {
	actions, err := harness.DefaultActions()
	if err != nil {
		logging.Warn("CLI", "Interventions unavailable: %v", err)
		actions = nil
	}
	return harness.NewLoader(actions).Load(scenarioPaths(args)...)
}

// filterScenarios keeps the scenarios whose names are listed, in file order.
// Every name must match a scenario.
func filterScenarios(scenarios []harness.Scenario, names []string) ([]harness.Scenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var out []harness.Scenario
	for _, sc := range scenarios {
		if wanted[sc.Name] {
			out = append(out, sc)
			delete(wanted, sc.Name)
		}
	}
	for _, n := range names {
		if wanted[n] {
			return nil, fmt.Errorf("unknown scenario: %s", n)
		}
	}
	return out, nil
}

// pickScenarios lets the user choose scenarios from a multi-select list.
func pickScenarios(scenarios []harness.Scenario, in io.Reader, out io.Writer) ([]harness.Scenario, error) {
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios to choose from")
	}

	options := make([]huh.Option[string], 0, len(scenarios))
	for _, sc := range scenarios {
		options = append(options, huh.NewOption(sc.Name, sc.Name))
	}

	var selected []string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Select scenarios to run").
				Options(options...).
				Value(&selected),
		),
	).WithInput(in).WithOutput(out)

	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("scenario selection cancelled: %w", err)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no scenarios selected")
	}
	return filterScenarios(scenarios, selected)
}

func isTerminal(f any) bool {
	file, ok := f.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

func newRunner() *harness.Runner {
	return harness.NewRunner(
		harness.NewBuilder(cfg.Subject, cfg.Build, cfg.BuildDir),
		harness.WithGuardTimeout(cfg.GuardTimeout),
	)
}

// runOnce runs scenarios and prints the report. It returns a build error
// as is and errScenariosFailed when any scenario failed.
func runOnce(ctx context.Context, cmd *cobra.Command, scenarios []harness.Scenario) error {
	out := cmd.OutOrStdout()
	start := time.Now()

	outcomes, err := newRunner().RunAll(ctx, scenarios)
	if err != nil {
		if len(outcomes) > 0 {
			report.Render(out, outcomes, report.Options{Color: isTerminal(out)})
		}
		return err
	}

	report.Render(out, outcomes, report.Options{Color: isTerminal(out)})
	logging.Debug("CLI", "Ran %d scenarios in %s", len(outcomes), time.Since(start).Round(time.Millisecond))

	if s := report.Summarize(outcomes); s.Failed > 0 {
		return fmt.Errorf("%d of %d %w", s.Failed, len(outcomes), errScenariosFailed)
	}
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run [scenario-file|dir...]",
	Short: "Run scenarios against the subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarios, err := loadScenarios(args)
		if err != nil {
			return err
		}

		names, _ := cmd.Flags().GetStringSlice("scenario")
		scenarios, err = filterScenarios(scenarios, names)
		if err != nil {
			return err
		}

		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if !isTerminal(cmd.InOrStdin()) {
				return fmt.Errorf("--interactive needs a terminal on stdin")
			}
			scenarios, err = pickScenarios(scenarios, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
		}

		if len(scenarios) == 0 {
			return fmt.Errorf("no scenarios found in %v", scenarioPaths(args))
		}
		return runOnce(cmd.Context(), cmd, scenarios)
	},
}

var listCmd = &cobra.Command{
	Use:     "list [scenario-file|dir...]",
	Aliases: []string{"ls"},
	Short:   "List scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarios, err := loadScenarios(args)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		report.List(out, scenarios, report.Options{Color: isTerminal(out)})
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [scenario-file|dir...]",
	Short: "Re-run scenarios whenever they or the subject change",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		paths := scenarioPaths(args)
		extra, _ := cmd.Flags().GetStringSlice("watch")

		watched := append([]string{}, paths...)
		watched = append(watched, extra...)
		// A build step rewrites the subject; watching it would re-trigger forever.
		if cfg.Build == "" {
			watched = append(watched, cfg.Subject)
		}

		iterate := func() {
			scenarios, err := loadScenarios(args)
			if err == nil {
				err = runOnce(ctx, cmd, scenarios)
			}
			if err != nil && ctx.Err() == nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nWatching %d paths for changes (Ctrl-C to stop)...\n", len(watched))
		}

		w, err := watch.New(watch.Config{Paths: watched, OnChange: iterate})
		if err != nil {
			return err
		}

		iterate()
		return w.Run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "shtest version %s\n", version)
	},
}
