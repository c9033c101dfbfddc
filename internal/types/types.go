// Package types holds the value types shared by the registry, the agents,
// and the orchestrator. Keeping them here avoids import cycles between
// those packages.
package types

import (
	"time"
)

// TaskPriority orders tasks for execution and drives effort estimates.
type TaskPriority string

const (
	PriorityUrgent TaskPriority = "urgent"
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// BaseTimeDays returns the baseline effort estimate for a priority,
// before any strategy speed factor is applied.
func (p TaskPriority) BaseTimeDays() float64 {
	switch p {
	case PriorityUrgent:
		return 0.5
	case PriorityHigh:
		return 1.0
	case PriorityMedium:
		return 2.0
	default:
		return 3.0
	}
}

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	StatusIdle    AgentStatus = "idle"
	StatusBusy    AgentStatus = "busy"
	StatusError   AgentStatus = "error"
	StatusOffline AgentStatus = "offline"
)

// Capability names something an agent can do ("testing", "architecture", ...).
type Capability string

// Task is an immutable unit of work submitted to the registry.
// Context carries routing hints; the key "project_id" binds the task
// to a project context.
type Task struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Input       map[string]any `json:"input,omitempty"`
	Priority    TaskPriority   `json:"priority"`
	Context     map[string]any `json:"context,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ProjectID returns the project binding from the task context, if any.
func (t *Task) ProjectID() string {
	if t.Context == nil {
		return ""
	}
	if id, ok := t.Context["project_id"].(string); ok {
		return id
	}
	return ""
}

// TaskResult is the outcome of one task execution.
type TaskResult struct {
	TaskID        string         `json:"task_id"`
	Success       bool           `json:"success"`
	Output        map[string]any `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// FailedResult builds a failure result for a task.
func FailedResult(taskID, reason string) *TaskResult {
	return &TaskResult{
		TaskID:  taskID,
		Success: false,
		Error:   reason,
	}
}
