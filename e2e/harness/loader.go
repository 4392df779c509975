package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timvw/shtest/e2e/proctree"
	"github.com/timvw/shtest/internal/logging"
)

// scenarioFile is the on-disk form of a scenario table.
type scenarioFile struct {
	Scenarios []scenarioSpec `yaml:"scenarios"`
}

type scenarioSpec struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Commands     []string          `yaml:"commands"`
	Stdout       *string           `yaml:"stdout"`
	Stderr       string            `yaml:"stderr"`
	Timeout      time.Duration     `yaml:"timeout"`
	Isolated     bool              `yaml:"isolated"`
	UniformLines int               `yaml:"uniform_lines"`
	ExitCode     *int              `yaml:"exit_code"`
	Files        map[string]string `yaml:"files"`
	Intervention *interventionSpec `yaml:"intervention"`
}

type interventionSpec struct {
	Delay   time.Duration `yaml:"delay"`
	Actions []actionSpec  `yaml:"actions"`
}

// actionSpec holds exactly one of its fields.
// actionSpec fields are pointers so a present key with a zero value is
// still seen as set.
type actionSpec struct {
	Signal   *string        `yaml:"signal"`
	Alive    *string        `yaml:"alive"`
	Gone     *string        `yaml:"gone"`
	Children *int           `yaml:"children"`
	Pause    *time.Duration `yaml:"pause"`
}

// Loader reads scenario tables from YAML files.
type Loader struct {
	actions *Actions
}

// NewLoader creates a loader that builds interventions with actions.
func NewLoader(actions *Actions) *Loader {
	return &Loader{actions: actions}
}

// Load reads scenarios from each path. A directory is walked for *.yaml
// and *.yml files in lexical order. Scenario names must be unique across
// all paths.
func (l *Loader) Load(paths ...string) ([]Scenario, error) {
	var scenarios []Scenario
	seen := make(map[string]string)

	for _, path := range paths {
		files, err := scenarioFiles(path)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			logging.Debug("Loader", "Loading scenario file: %s", file)
			loaded, err := l.loadFile(file)
			if err != nil {
				return nil, err
			}
			for _, sc := range loaded {
				if prev, dup := seen[sc.Name]; dup {
					return nil, fmt.Errorf("%s: duplicate scenario %q (first defined in %s)", file, sc.Name, prev)
				}
				seen[sc.Name] = file
				scenarios = append(scenarios, sc)
			}
		}
	}

	logging.Debug("Loader", "Loaded %d scenarios", len(scenarios))
	return scenarios, nil
}

func scenarioFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isYAMLFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %s: %w", path, err)
	}
	sort.Strings(files)
	return files, nil
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (l *Loader) loadFile(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file scenarioFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	scenarios := make([]Scenario, 0, len(file.Scenarios))
	for i, spec := range file.Scenarios {
		sc, err := l.build(spec)
		if err != nil {
			name := spec.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("%s: scenario %s: %w", path, name, err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

func (l *Loader) build(spec scenarioSpec) (Scenario, error) {
	if spec.Name == "" {
		return Scenario{}, fmt.Errorf("name is required")
	}
	if len(spec.Commands) == 0 {
		return Scenario{}, fmt.Errorf("at least one command is required")
	}
	if spec.Timeout < 0 {
		return Scenario{}, fmt.Errorf("timeout must not be negative")
	}

	sc := Scenario{
		Name:        spec.Name,
		Description: spec.Description,
		Commands:    spec.Commands,
		Stderr:      spec.Stderr,
		Timeout:     spec.Timeout,
		Isolated:    spec.Isolated,
	}

	switch {
	case spec.Stdout != nil:
		sc.Stdout = *spec.Stdout
	case spec.UniformLines > 0:
		sc.AnyStdout = true
	}
	if spec.UniformLines > 0 {
		sc.Verify = append(sc.Verify, AssertUniformLines(spec.UniformLines))
	}
	if spec.ExitCode != nil {
		sc.Verify = append(sc.Verify, AssertExitCode(*spec.ExitCode))
	}

	names := make([]string, 0, len(spec.Files))
	for name := range spec.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !spec.Isolated && !filepath.IsAbs(name) {
			return Scenario{}, fmt.Errorf("file %q: relative file checks need isolated: true", name)
		}
		sc.Verify = append(sc.Verify, AssertFileEquals(name, spec.Files[name]))
	}

	if spec.Intervention != nil {
		iv, err := l.intervention(spec.Intervention)
		if err != nil {
			return Scenario{}, err
		}
		sc.Intervention = iv
	}

	return sc, nil
}

func (l *Loader) intervention(spec *interventionSpec) (*Intervention, error) {
	if spec.Delay < 0 {
		return nil, fmt.Errorf("intervention delay must not be negative")
	}
	if len(spec.Actions) == 0 {
		return nil, fmt.Errorf("intervention needs at least one action")
	}
	if l.actions == nil {
		return nil, fmt.Errorf("interventions are not available")
	}

	steps := make([]Action, 0, len(spec.Actions))
	for i, a := range spec.Actions {
		step, err := l.action(a)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i+1, err)
		}
		steps = append(steps, step)
	}
	return &Intervention{Action: Compose(steps...), Delay: spec.Delay}, nil
}

func (l *Loader) action(a actionSpec) (Action, error) {
	set := 0
	for _, present := range []bool{a.Signal != nil, a.Alive != nil, a.Gone != nil, a.Children != nil, a.Pause != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of signal, alive, gone, children or pause is required")
	}

	switch {
	case a.Signal != nil:
		sig, err := proctree.ParseSignal(*a.Signal)
		if err != nil {
			return nil, err
		}
		return l.actions.SignalChildren(sig), nil
	case a.Alive != nil:
		if *a.Alive == "" {
			return nil, fmt.Errorf("alive needs a process name")
		}
		return l.actions.AssertAlive(*a.Alive), nil
	case a.Gone != nil:
		if *a.Gone == "" {
			return nil, fmt.Errorf("gone needs a process name")
		}
		return l.actions.AssertGone(*a.Gone), nil
	case a.Children != nil:
		if *a.Children < 0 {
			return nil, fmt.Errorf("children must not be negative")
		}
		return l.actions.AssertChildren(*a.Children), nil
	default:
		if *a.Pause <= 0 {
			return nil, fmt.Errorf("pause must be positive, got %s", *a.Pause)
		}
		return Pause(*a.Pause), nil
	}
}
