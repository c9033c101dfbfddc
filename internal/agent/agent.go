// Package agent provides the agent lifecycle base and the context-aware
// framework that turns project context into strategy selections.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"concord/internal/messaging"
	"concord/internal/types"
)

// Agent is what the registry manages. RunTask is the lifecycle wrapper:
// it is the only place an execution failure is translated into a failed
// TaskResult.
type Agent interface {
	ID() string
	Type() string
	Capabilities() []types.Capability
	CanHandle(task *types.Task) bool
	Status() types.AgentStatus
	MaxConcurrent() int
	Initialize() error
	Shutdown() error
	RunTask(ctx context.Context, task *types.Task) *types.TaskResult
}

// Executor is the work body an agent kind plugs into the base.
type Executor interface {
	Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error)
}

// Base carries identity, status, and task history, and implements the
// lifecycle wrapper around an Executor. Concrete agents embed it and
// install themselves as the executor.
type Base struct {
	id            string
	agentType     string
	capabilities  []types.Capability
	maxConcurrent int
	logger        *zap.Logger

	mu      sync.RWMutex
	status  types.AgentStatus
	history []*types.TaskResult

	exec Executor
}

// NewBase creates an agent base in the offline state; Initialize moves
// it to idle.
func NewBase(id, agentType string, capabilities []types.Capability, maxConcurrent int, logger *zap.Logger) *Base {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Base{
		id:            id,
		agentType:     agentType,
		capabilities:  capabilities,
		maxConcurrent: maxConcurrent,
		status:        types.StatusOffline,
		logger:        logger,
	}
}

// SetExecutor installs the work body. Must be called before RunTask.
func (b *Base) SetExecutor(exec Executor) { b.exec = exec }

func (b *Base) ID() string   { return b.id }
func (b *Base) Type() string { return b.agentType }

func (b *Base) Capabilities() []types.Capability {
	out := make([]types.Capability, len(b.capabilities))
	copy(out, b.capabilities)
	return out
}

func (b *Base) MaxConcurrent() int { return b.maxConcurrent }

func (b *Base) Status() types.AgentStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *Base) setStatus(s types.AgentStatus) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

// CanHandle matches on declared capabilities: the task's
// "required_capabilities" context entry must be a subset.
func (b *Base) CanHandle(task *types.Task) bool {
	required := RequiredCapabilities(task)
	if len(required) == 0 {
		return true
	}
	have := make(map[types.Capability]struct{}, len(b.capabilities))
	for _, c := range b.capabilities {
		have[c] = struct{}{}
	}
	for _, req := range required {
		if _, ok := have[req]; !ok {
			return false
		}
	}
	return true
}

// RequiredCapabilities reads the capability requirements off a task.
func RequiredCapabilities(task *types.Task) []types.Capability {
	if task.Context == nil {
		return nil
	}
	switch v := task.Context["required_capabilities"].(type) {
	case []types.Capability:
		return v
	case []string:
		out := make([]types.Capability, len(v))
		for i, s := range v {
			out[i] = types.Capability(s)
		}
		return out
	case []any:
		out := make([]types.Capability, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, types.Capability(s))
			}
		}
		return out
	}
	return nil
}

// Initialize resets the agent to idle, also recovering from the error
// state.
func (b *Base) Initialize() error {
	b.setStatus(types.StatusIdle)
	b.logger.Debug("agent initialized", zap.String("agent_id", b.id), zap.String("type", b.agentType))
	return nil
}

// Shutdown takes the agent offline.
func (b *Base) Shutdown() error {
	b.setStatus(types.StatusOffline)
	b.logger.Debug("agent shut down", zap.String("agent_id", b.id))
	return nil
}

// RunTask is the lifecycle wrapper: idle -> busy -> idle on success,
// busy -> error on failure. Panics and errors both become a failed
// TaskResult; nothing escapes.
func (b *Base) RunTask(ctx context.Context, task *types.Task) (result *types.TaskResult) {
	start := time.Now()
	b.setStatus(types.StatusBusy)

	defer func() {
		if r := recover(); r != nil {
			result = types.FailedResult(task.ID, fmt.Sprintf("panic: %v", r))
			b.setStatus(types.StatusError)
		}
		result.ExecutionTime = time.Since(start)
		b.appendHistory(result)
	}()

	if b.exec == nil {
		b.setStatus(types.StatusError)
		return types.FailedResult(task.ID, "agent has no executor")
	}

	res, err := b.exec.Execute(ctx, task)
	if err != nil {
		b.setStatus(types.StatusError)
		b.logger.Warn("task execution failed",
			zap.String("agent_id", b.id),
			zap.String("task_id", task.ID),
			zap.Error(err))
		return types.FailedResult(task.ID, err.Error())
	}
	if res == nil {
		res = &types.TaskResult{TaskID: task.ID, Success: true}
	}
	b.setStatus(types.StatusIdle)
	return res
}

func (b *Base) appendHistory(res *types.TaskResult) {
	b.mu.Lock()
	b.history = append(b.history, res)
	b.mu.Unlock()
}

// History returns a copy of all recorded task results.
func (b *Base) History() []*types.TaskResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*types.TaskResult, len(b.history))
	copy(out, b.history)
	return out
}

// EmitHeartbeat sends a heartbeat envelope through the router so the
// registry can track liveness.
func (b *Base) EmitHeartbeat(router *messaging.Router, registryID string) error {
	msg := messaging.New(b.id, registryID, messaging.KindHeartbeat, map[string]any{
		"status": string(b.Status()),
	})
	return router.Send(msg)
}

// RunHeartbeats emits a heartbeat immediately and then on every
// interval until the context is cancelled. Run it alongside the
// registry's health checks so an idle agent stays dispatchable.
func (b *Base) RunHeartbeats(ctx context.Context, router *messaging.Router, registryID string, interval time.Duration) {
	if err := b.EmitHeartbeat(router, registryID); err != nil {
		b.logger.Warn("heartbeat failed", zap.String("agent_id", b.id), zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.EmitHeartbeat(router, registryID); err != nil {
				b.logger.Warn("heartbeat failed", zap.String("agent_id", b.id), zap.Error(err))
			}
		}
	}
}
