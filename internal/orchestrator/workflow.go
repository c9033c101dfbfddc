// Package orchestrator runs DAG workflows over the agent registry: it
// computes ready steps, propagates results along dependency edges, and
// applies retry and timeout policy per step.
package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"concord/internal/types"
)

// StepStatus is the lifecycle state of one workflow step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
)

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

var (
	ErrInvalidDefinition = errors.New("invalid workflow definition")
	ErrUnknownWorkflow   = errors.New("workflow not found")
	ErrBadTransition     = errors.New("invalid workflow transition")
)

// Step is one node of the workflow DAG. The definition fields are fixed
// at creation; the state fields are owned by the orchestrator and only
// change under its lock.
type Step struct {
	ID                   string
	Name                 string
	Description          string
	RequiredCapabilities []types.Capability
	Input                map[string]any
	DependsOn            []string
	Priority             types.TaskPriority
	PreferredAgent       string
	MaxRetries           int
	Timeout              time.Duration

	Status        StepStatus
	AssignedAgent string
	Result        *types.TaskResult
	Retries       int
	Error         string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Workflow is a named DAG of steps. Results collects each completed
// step's output keyed by step id.
type Workflow struct {
	ID          string
	Name        string
	Description string
	Steps       []*Step
	Status      WorkflowStatus
	Results     map[string]map[string]any
	Error       string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

func (w *Workflow) step(id string) *Step {
	for _, s := range w.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// terminal reports whether every step has reached a final state.
func (w *Workflow) terminal() bool {
	for _, s := range w.Steps {
		switch s.Status {
		case StepCompleted, StepFailed, StepCancelled:
		default:
			return false
		}
	}
	return true
}

// readySteps returns pending steps whose dependencies have all
// completed.
func (w *Workflow) readySteps() []*Step {
	var ready []*Step
	for _, s := range w.Steps {
		if s.Status != StepPending {
			continue
		}
		ok := true
		for _, dep := range s.DependsOn {
			if d := w.step(dep); d == nil || d.Status != StepCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
		}
	}
	return ready
}

// validateSteps checks id uniqueness, closed dependency references, and
// acyclicity via Kahn's algorithm.
func validateSteps(steps []*Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidDefinition)
	}
	ids := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if s.ID == "" {
			return fmt.Errorf("%w: step with empty id", ErrInvalidDefinition)
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidDefinition, s.ID)
		}
		ids[s.ID] = struct{}{}
	}

	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)
	for _, s := range steps {
		indegree[s.ID] += 0
		for _, dep := range s.DependsOn {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("%w: step %q depends on unknown step %q", ErrInvalidDefinition, s.ID, dep)
			}
			if dep == s.ID {
				return fmt.Errorf("%w: step %q depends on itself", ErrInvalidDefinition, s.ID)
			}
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	queue := make([]string, 0, len(steps))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	seen := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if seen != len(steps) {
		return fmt.Errorf("%w: dependency cycle detected", ErrInvalidDefinition)
	}
	return nil
}

// snapshot deep-copies a workflow so callers never share state with the
// orchestrator's stored instance.
func (w *Workflow) snapshot() *Workflow {
	out := *w
	out.Steps = make([]*Step, len(w.Steps))
	for i, s := range w.Steps {
		cp := *s
		cp.Input = cloneMap(s.Input)
		cp.DependsOn = append([]string(nil), s.DependsOn...)
		cp.RequiredCapabilities = append([]types.Capability(nil), s.RequiredCapabilities...)
		out.Steps[i] = &cp
	}
	out.Results = make(map[string]map[string]any, len(w.Results))
	for k, v := range w.Results {
		out.Results[k] = cloneMap(v)
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
