package registry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"concord/internal/messaging"
	"concord/internal/types"
)

// Score ranks an agent for selection. Faster history, fewer failures,
// and lighter load all raise the score. The constants keep each term
// bounded when its denominator approaches zero.
func Score(meanRunTime time.Duration, errorRate, loadRatio float64) float64 {
	return 1.0/(meanRunTime.Seconds()+1.0) +
		1.0/(errorRate+0.01) +
		1.0/(loadRatio+0.1)
}

func (e *entry) score() float64 {
	var mean time.Duration
	errorRate := 0.0
	if e.totalRuns > 0 {
		mean = e.totalRunTime / time.Duration(e.totalRuns)
		errorRate = float64(e.failedRuns) / float64(e.totalRuns)
	}
	loadRatio := float64(e.currentLoad) / float64(e.agent.MaxConcurrent())
	return Score(mean, errorRate, loadRatio)
}

// eligibleLocked reports whether an entry can take the task right now.
func (e *entry) eligibleLocked(task *types.Task) bool {
	if !e.healthy {
		return false
	}
	if e.currentLoad >= e.agent.MaxConcurrent() {
		return false
	}
	switch e.agent.Status() {
	case types.StatusOffline, types.StatusError:
		return false
	}
	return e.agent.CanHandle(task)
}

// Select returns the id of the best-scoring eligible agent for a task.
func (r *Registry) Select(task *types.Task) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, err := r.selectLocked(task)
	return id, err
}

func (r *Registry) selectLocked(task *types.Task) (string, error) {
	bestID := ""
	bestScore := 0.0
	for id, e := range r.agents {
		if !e.eligibleLocked(task) {
			continue
		}
		if s := e.score(); bestID == "" || s > bestScore {
			bestID, bestScore = id, s
		}
	}
	if bestID == "" {
		return "", fmt.Errorf("%w: %s", ErrNoCandidate, task.ID)
	}
	return bestID, nil
}

// ExecuteTask routes a task to an agent and runs it. preferredID, when
// non-empty, is used if that agent is eligible; otherwise selection
// falls back to scoring. The chosen agent's load is reserved before the
// lock is released so concurrent dispatches see it. When nothing is
// eligible the task comes back as a failed result, not an error, and
// the result's metadata names the agent that ran it otherwise.
func (r *Registry) ExecuteTask(ctx context.Context, task *types.Task, preferredID string) (*types.TaskResult, error) {
	r.mu.Lock()
	id := ""
	if preferredID != "" {
		if e, ok := r.agents[preferredID]; ok && e.eligibleLocked(task) {
			id = preferredID
		}
	}
	if id == "" {
		selected, err := r.selectLocked(task)
		if err != nil {
			r.mu.Unlock()
			atomic.AddInt64(&r.rejected, 1)
			r.logger.Warn("task rejected", zap.String("task_id", task.ID), zap.Error(err))
			return types.FailedResult(task.ID, "no available agent found"), nil
		}
		id = selected
	}
	e := r.agents[id]
	e.currentLoad++
	r.mu.Unlock()

	atomic.AddInt64(&r.dispatched, 1)
	r.logger.Debug("task dispatched",
		zap.String("task_id", task.ID),
		zap.String("agent_id", id))

	start := time.Now()
	result := e.agent.RunTask(ctx, task)
	elapsed := time.Since(start)

	r.mu.Lock()
	e.currentLoad--
	e.totalRuns++
	e.totalRunTime += elapsed
	// A finished run is as good as a heartbeat.
	e.lastHeartbeat = time.Now()
	e.healthy = true
	if result == nil || !result.Success {
		e.failedRuns++
	}
	r.mu.Unlock()

	if result == nil {
		result = types.FailedResult(task.ID, "agent returned no result")
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["agent_id"] = id
	return result, nil
}

// Heartbeat records a liveness signal for an agent, restoring health
// if it had gone stale.
func (r *Registry) Heartbeat(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[agentID]; ok {
		e.lastHeartbeat = time.Now()
		e.healthy = true
	}
}

// handleMessage is the registry's router handler. Heartbeats refresh
// liveness; anything else is accepted and logged.
func (r *Registry) handleMessage(msg *messaging.Message) error {
	switch msg.Kind {
	case messaging.KindHeartbeat:
		r.Heartbeat(msg.Sender)
	case messaging.KindStatusUpdate:
		r.Heartbeat(msg.Sender)
		r.logger.Debug("agent status update",
			zap.String("agent_id", msg.Sender),
			zap.Any("content", msg.Content))
	}
	return nil
}

// agentHandler builds the router handler installed under an agent's id
// at registration. Direct delivery counts as proof of life for the
// addressee; the message itself is surfaced through the log until
// agents grow their own inboxes.
func (r *Registry) agentHandler(id string) messaging.Handler {
	return func(msg *messaging.Message) error {
		r.Heartbeat(id)
		if msg.Kind != messaging.KindHeartbeat {
			r.logger.Debug("message delivered to agent",
				zap.String("agent_id", id),
				zap.String("sender", msg.Sender),
				zap.String("kind", string(msg.Kind)))
		}
		return nil
	}
}

// RunHealthChecks marks agents with stale heartbeats unhealthy every
// healthCheckInterval until the context is cancelled.
func (r *Registry) RunHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkHealth(time.Now())
		}
	}
}

func (r *Registry) checkHealth(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.agents {
		stale := now.Sub(e.lastHeartbeat) > heartbeatStaleAfter
		if stale && e.healthy {
			e.healthy = false
			r.logger.Warn("agent heartbeat stale, excluding from dispatch",
				zap.String("agent_id", id),
				zap.Time("last_heartbeat", e.lastHeartbeat))
		}
	}
}

// Status summarizes dispatch activity.
type Status struct {
	AgentCount int   `json:"agent_count"`
	Dispatched int64 `json:"dispatched"`
	Rejected   int64 `json:"rejected"`
}

// RegistryStatus returns the dispatch counters.
func (r *Registry) RegistryStatus() Status {
	r.mu.RLock()
	n := len(r.agents)
	r.mu.RUnlock()
	return Status{
		AgentCount: n,
		Dispatched: atomic.LoadInt64(&r.dispatched),
		Rejected:   atomic.LoadInt64(&r.rejected),
	}
}
