// Package report renders scenario outcomes for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/timvw/shtest/e2e/harness"
)

// Options controls how a report is rendered.
type Options struct {
	// Color enables ANSI colors. Leave it off when writing to a pipe.
	Color bool
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Passed int
	Failed int
}

// Summarize counts passed and failed outcomes.
func Summarize(outcomes []harness.Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		if o.Passed() {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// Render writes a table with one row per scenario, followed by the full
// error of every failed scenario and a totals line.
func Render(w io.Writer, outcomes []harness.Outcome, opts Options) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{
		paint(opts, text.FgHiCyan, "#"),
		paint(opts, text.FgHiCyan, "SCENARIO"),
		paint(opts, text.FgHiCyan, "RESULT"),
		paint(opts, text.FgHiCyan, "DURATION"),
		paint(opts, text.FgHiCyan, "EXIT"),
	})
	for i, o := range outcomes {
		exit := "-"
		if o.Result != nil {
			exit = fmt.Sprintf("%d", o.Result.ExitCode)
		}
		t.AppendRow(table.Row{
			i + 1,
			o.Scenario.Name,
			status(opts, o),
			o.Duration.Round(time.Millisecond),
			exit,
		})
	}
	t.Render()

	for _, o := range outcomes {
		if o.Passed() {
			continue
		}
		fmt.Fprintf(w, "\n%s %s\n", paint(opts, text.FgRed, "✗"), paint(opts, text.FgHiWhite, o.Scenario.Name))
		for _, line := range strings.Split(o.Err.Error(), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}

	s := Summarize(outcomes)
	fmt.Fprintf(w, "\n%s %d passed, %d failed\n",
		paint(opts, text.FgHiBlue, "Total:"), s.Passed, s.Failed)
}

// List writes the scenario names and their command lines.
func List(w io.Writer, scenarios []harness.Scenario, opts Options) {
	if len(scenarios) == 0 {
		fmt.Fprintf(w, "%s\n", paint(opts, text.FgYellow, "No scenarios found"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		paint(opts, text.FgHiCyan, "SCENARIO"),
		paint(opts, text.FgHiCyan, "COMMANDS"),
		paint(opts, text.FgHiCyan, "TIMEOUT"),
	})
	for _, sc := range scenarios {
		timeout := "-"
		if sc.Timeout > 0 {
			timeout = sc.Timeout.String()
		}
		t.AppendRow(table.Row{sc.Name, strings.Join(sc.Commands, "\n"), timeout})
	}
	t.Render()
}

func status(opts Options, o harness.Outcome) string {
	if o.Passed() {
		return paint(opts, text.FgGreen, "PASS")
	}
	return paint(opts, text.FgRed, "FAIL")
}

func paint(opts Options, c text.Color, s string) string {
	if !opts.Color {
		return s
	}
	return c.Sprint(s)
}
