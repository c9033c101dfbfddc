package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"concord/internal/types"
)

// StepDefinition is the declarative form of one step, as written in a
// workflow YAML file or built programmatically.
type StepDefinition struct {
	ID                   string         `yaml:"id"`
	Name                 string         `yaml:"name,omitempty"`
	Description          string         `yaml:"description"`
	RequiredCapabilities []string       `yaml:"required_capabilities,omitempty"`
	Input                map[string]any `yaml:"input,omitempty"`
	DependsOn            []string       `yaml:"depends_on,omitempty"`
	Priority             string         `yaml:"priority,omitempty"`
	PreferredAgent       string         `yaml:"preferred_agent,omitempty"`
	MaxRetries           int            `yaml:"max_retries,omitempty"`
	// Timeout is a duration string ("90s", "5m"); empty means no limit.
	Timeout string `yaml:"timeout,omitempty"`
	// TimeoutMinutes is the whole-minute alternative to Timeout and
	// loses to it when both are set.
	TimeoutMinutes int `yaml:"timeout_minutes,omitempty"`
}

// Definition is the declarative form of a workflow.
type Definition struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	ProjectID   string           `yaml:"project_id,omitempty"`
	Steps       []StepDefinition `yaml:"steps"`
}

// LoadDefinition reads and parses a workflow definition file.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read workflow definition: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return def, nil
}

// Validate checks the parts of a definition that the DAG validation
// cannot see, currently the timeout strings.
func (d Definition) Validate() error {
	for _, sd := range d.Steps {
		if sd.TimeoutMinutes < 0 {
			return fmt.Errorf("%w: step %q timeout_minutes must not be negative", ErrInvalidDefinition, sd.ID)
		}
		if sd.Timeout == "" {
			continue
		}
		if _, err := time.ParseDuration(sd.Timeout); err != nil {
			return fmt.Errorf("%w: step %q timeout: %v", ErrInvalidDefinition, sd.ID, err)
		}
	}
	return nil
}

// buildSteps materializes definition steps into DAG nodes. Tasks built
// from the steps inherit the workflow's project binding.
func (d Definition) buildSteps() []*Step {
	steps := make([]*Step, len(d.Steps))
	for i, sd := range d.Steps {
		name := sd.Name
		if name == "" {
			name = sd.ID
		}
		priority := types.TaskPriority(sd.Priority)
		switch priority {
		case types.PriorityUrgent, types.PriorityHigh, types.PriorityMedium, types.PriorityLow:
		default:
			priority = types.PriorityMedium
		}
		caps := make([]types.Capability, len(sd.RequiredCapabilities))
		for j, c := range sd.RequiredCapabilities {
			caps[j] = types.Capability(c)
		}
		var timeout time.Duration
		if sd.Timeout != "" {
			// Unparseable timeouts were already rejected by Validate.
			timeout, _ = time.ParseDuration(sd.Timeout)
		} else if sd.TimeoutMinutes > 0 {
			timeout = time.Duration(sd.TimeoutMinutes) * time.Minute
		}
		steps[i] = &Step{
			ID:                   sd.ID,
			Name:                 name,
			Description:          sd.Description,
			RequiredCapabilities: caps,
			Input:                cloneMap(sd.Input),
			DependsOn:            append([]string(nil), sd.DependsOn...),
			Priority:             priority,
			PreferredAgent:       sd.PreferredAgent,
			MaxRetries:           sd.MaxRetries,
			Timeout:              timeout,
			Status:               StepPending,
		}
	}
	return steps
}

// LinearDefinition chains the given steps so each depends on the one
// before it.
func LinearDefinition(name string, steps ...StepDefinition) Definition {
	for i := range steps {
		if i > 0 {
			steps[i].DependsOn = []string{steps[i-1].ID}
		}
	}
	return Definition{Name: name, Steps: steps}
}

// ParallelDefinition fans the given steps out from a shared first step;
// with no root the steps are simply independent.
func ParallelDefinition(name string, root *StepDefinition, steps ...StepDefinition) Definition {
	var all []StepDefinition
	if root != nil {
		all = append(all, *root)
		for i := range steps {
			steps[i].DependsOn = []string{root.ID}
		}
	}
	all = append(all, steps...)
	return Definition{Name: name, Steps: all}
}
