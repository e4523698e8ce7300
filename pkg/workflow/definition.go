// Package workflow parses declarative job definitions and executes their
// steps in order against a fresh per-run workspace.
package workflow

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidDefinition = errors.New("invalid workflow definition")
	ErrUnknownAction     = errors.New("unknown action")
)

// Definition is a single automation: its triggers and its ordered steps.
type Definition struct {
	Name        string            `yaml:"name" json:"name"`
	On          Triggers          `yaml:"on" json:"on"`
	Permissions map[string]string `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Steps       []StepSpec        `yaml:"steps" json:"steps"`
}

// Triggers lists the events that start a run. Only calendar schedules and
// manual dispatch exist.
type Triggers struct {
	Schedule         []ScheduleTrigger `json:"schedule,omitempty"`
	WorkflowDispatch bool              `json:"workflow_dispatch"`
}

type ScheduleTrigger struct {
	Cron string `yaml:"cron" json:"cron"`
}

// UnmarshalYAML accepts the mapping form (`schedule:` / `workflow_dispatch:`)
// and the shorthand `on: workflow_dispatch`.
func (t *Triggers) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return t.enable(value.Value, nil)
	case yaml.SequenceNode:
		for _, item := range value.Content {
			if err := t.enable(item.Value, nil); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			if err := t.enable(value.Content[i].Value, value.Content[i+1]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported `on` block at line %d", ErrInvalidDefinition, value.Line)
	}
}

func (t *Triggers) enable(event string, body *yaml.Node) error {
	switch event {
	case "schedule":
		if body == nil {
			return fmt.Errorf("%w: schedule trigger needs at least one cron entry", ErrInvalidDefinition)
		}
		return body.Decode(&t.Schedule)
	case "workflow_dispatch":
		t.WorkflowDispatch = true
		return nil
	default:
		return fmt.Errorf("%w: unsupported trigger %q", ErrInvalidDefinition, event)
	}
}

// StepSpec is one entry under `steps:`. Exactly one of Uses or Run is set.
type StepSpec struct {
	Name             string            `yaml:"name,omitempty" json:"name,omitempty"`
	If               string            `yaml:"if,omitempty" json:"if,omitempty"`
	Uses             string            `yaml:"uses,omitempty" json:"uses,omitempty"`
	Run              string            `yaml:"run,omitempty" json:"run,omitempty"`
	With             map[string]string `yaml:"with,omitempty" json:"with,omitempty"`
	Env              map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Shell            string            `yaml:"shell,omitempty" json:"shell,omitempty"`
	WorkingDirectory string            `yaml:"working-directory,omitempty" json:"working_directory,omitempty"`
}

// DisplayName is the name shown in logs and step records.
func (s StepSpec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	line, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")
	return "Run " + line
}

// Action is the built-in action name the step refers to, or "run" for
// script steps.
func (s StepSpec) Action() string {
	if s.Uses == "" {
		return "run"
	}
	return ActionName(s.Uses)
}

// ActionName normalizes a `uses:` reference. Hosted-style references such as
// `actions/checkout@v4` resolve to the built-in `checkout`.
func ActionName(uses string) string {
	name, _, _ := strings.Cut(uses, "@")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// HasManualTrigger reports whether the workflow accepts manual dispatch.
func (d *Definition) HasManualTrigger() bool {
	return d.On.WorkflowDispatch
}

// CronSpecs returns the cron expressions of every schedule trigger.
func (d *Definition) CronSpecs() []string {
	specs := make([]string, 0, len(d.On.Schedule))
	for _, s := range d.On.Schedule {
		specs = append(specs, s.Cron)
	}
	return specs
}

// Validate checks structure, conditions, cron syntax and action names.
// knownActions may be nil to skip the action check.
func (d *Definition) Validate(knownActions map[string]bool) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if len(d.On.Schedule) == 0 && !d.On.WorkflowDispatch {
		return fmt.Errorf("%w: at least one trigger is required", ErrInvalidDefinition)
	}
	for _, s := range d.On.Schedule {
		schedule, err := cron.ParseStandard(s.Cron)
		if err != nil {
			return fmt.Errorf("%w: cron %q: %v", ErrInvalidDefinition, s.Cron, err)
		}
		// cron gives up after five years and returns the zero time.
		if schedule.Next(time.Now().UTC()).IsZero() {
			return fmt.Errorf("%w: cron %q never fires", ErrInvalidDefinition, s.Cron)
		}
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidDefinition)
	}

	for i, step := range d.Steps {
		n := i + 1
		if (step.Uses == "") == (strings.TrimSpace(step.Run) == "") {
			return fmt.Errorf("%w: step %d must set exactly one of uses or run", ErrInvalidDefinition, n)
		}
		if _, err := ParseCondition(step.If); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidDefinition, n, err)
		}
		if step.Uses != "" && knownActions != nil && !knownActions[ActionName(step.Uses)] {
			return fmt.Errorf("step %d: %w %q", n, ErrUnknownAction, step.Uses)
		}
	}
	return nil
}

// Parse decodes and validates a YAML definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		if errors.Is(err, ErrInvalidDefinition) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := def.Validate(nil); err != nil {
		return nil, err
	}
	return &def, nil
}

// Load reads a definition from disk.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadOrDefault loads path, falling back to the built-in scrape workflow when
// the file does not exist.
func LoadOrDefault(path string) (*Definition, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat workflow %s: %w", path, err)
		}
	}
	return Default(), nil
}
