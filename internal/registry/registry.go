// Package registry tracks live agents, matches tasks to capabilities,
// and dispatches work to the best-scoring candidate.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"concord/internal/agent"
	"concord/internal/messaging"
	"concord/internal/types"
)

// RouterID is the address the registry listens on for heartbeats and
// status updates.
const RouterID = "registry"

const (
	healthCheckInterval = 30 * time.Second
	heartbeatStaleAfter = 5 * time.Minute
)

var (
	ErrDuplicateAgent = errors.New("agent id already registered")
	ErrUnknownAgent   = errors.New("agent not registered")
	ErrNoCandidate    = errors.New("no agent can handle task")
)

// entry is the registry's bookkeeping around one agent. Load and the
// execution stats are guarded by the registry mutex.
type entry struct {
	agent         agent.Agent
	registeredAt  time.Time
	lastHeartbeat time.Time
	healthy       bool

	currentLoad  int
	totalRuns    int
	failedRuns   int
	totalRunTime time.Duration
}

// AgentInfo is the read-only view handed out by introspection calls.
type AgentInfo struct {
	ID            string             `json:"id"`
	Type          string             `json:"type"`
	Capabilities  []types.Capability `json:"capabilities"`
	Status        types.AgentStatus  `json:"status"`
	Healthy       bool               `json:"healthy"`
	CurrentLoad   int                `json:"current_load"`
	MaxConcurrent int                `json:"max_concurrent"`
	TotalRuns     int                `json:"total_runs"`
	FailedRuns    int                `json:"failed_runs"`
	MeanRunTime   time.Duration      `json:"mean_run_time"`
	LastHeartbeat time.Time          `json:"last_heartbeat"`
}

// Registry is the agent directory and dispatcher. All maps are guarded
// by mu; agent execution happens outside the lock.
type Registry struct {
	logger *zap.Logger
	router *messaging.Router

	mu           sync.RWMutex
	agents       map[string]*entry
	byCapability map[types.Capability]map[string]struct{}
	byType       map[string]map[string]struct{}

	dispatched int64
	rejected   int64
}

// New creates a registry and installs its heartbeat handler on the
// router.
func New(router *messaging.Router, logger *zap.Logger) *Registry {
	r := &Registry{
		logger:       logger,
		router:       router,
		agents:       make(map[string]*entry),
		byCapability: make(map[types.Capability]map[string]struct{}),
		byType:       make(map[string]map[string]struct{}),
	}
	router.RegisterHandler(RouterID, r.handleMessage)
	return r
}

// Close removes the registry's router handler. Registered agents are
// left running; call Unregister to shut them down individually.
func (r *Registry) Close() {
	r.router.UnregisterHandler(RouterID)
}

// Register initializes the agent, adds it to the capability and type
// indices, and installs a router handler under the agent's id so direct
// messages are delivered instead of queueing. The declared capabilities
// are authoritative for matching.
func (r *Registry) Register(a agent.Agent) error {
	r.mu.Lock()
	if _, exists := r.agents[a.ID()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID())
	}
	// Reserve the slot before initializing outside the lock.
	e := &entry{registeredAt: time.Now(), lastHeartbeat: time.Now(), healthy: true, agent: a}
	r.agents[a.ID()] = e
	for _, c := range a.Capabilities() {
		if r.byCapability[c] == nil {
			r.byCapability[c] = make(map[string]struct{})
		}
		r.byCapability[c][a.ID()] = struct{}{}
	}
	if r.byType[a.Type()] == nil {
		r.byType[a.Type()] = make(map[string]struct{})
	}
	r.byType[a.Type()][a.ID()] = struct{}{}
	r.mu.Unlock()

	r.router.RegisterHandler(a.ID(), r.agentHandler(a.ID()))

	if err := a.Initialize(); err != nil {
		r.removeIndexed(a.ID())
		return fmt.Errorf("initialize agent %s: %w", a.ID(), err)
	}
	r.logger.Info("agent registered",
		zap.String("agent_id", a.ID()),
		zap.String("type", a.Type()),
		zap.Int("capabilities", len(a.Capabilities())))
	return nil
}

// Unregister shuts the agent down and removes it from all indices and
// from the router.
func (r *Registry) Unregister(id string) error {
	r.mu.RLock()
	e, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if err := e.agent.Shutdown(); err != nil {
		r.logger.Warn("agent shutdown failed", zap.String("agent_id", id), zap.Error(err))
	}
	r.removeIndexed(id)
	r.logger.Info("agent unregistered", zap.String("agent_id", id))
	return nil
}

func (r *Registry) removeIndexed(id string) {
	r.router.UnregisterHandler(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[id]
	if !ok {
		return
	}
	delete(r.agents, id)
	for _, c := range e.agent.Capabilities() {
		delete(r.byCapability[c], id)
		if len(r.byCapability[c]) == 0 {
			delete(r.byCapability, c)
		}
	}
	t := e.agent.Type()
	delete(r.byType[t], id)
	if len(r.byType[t]) == 0 {
		delete(r.byType, t)
	}
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// FindByCapability returns the agents declaring every given capability.
func (r *Registry) FindByCapability(caps ...types.Capability) []agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []agent.Agent
	for id, e := range r.agents {
		if hasAll(r.byCapability, id, caps) {
			out = append(out, e.agent)
		}
	}
	return out
}

func hasAll(index map[types.Capability]map[string]struct{}, id string, caps []types.Capability) bool {
	for _, c := range caps {
		if _, ok := index[c][id]; !ok {
			return false
		}
	}
	return true
}

// FindByType returns all agents of one type.
func (r *Registry) FindByType(agentType string) []agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.Agent, 0, len(r.byType[agentType]))
	for id := range r.byType[agentType] {
		out = append(out, r.agents[id].agent)
	}
	return out
}

// Agents returns the info view for every registered agent.
func (r *Registry) Agents() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentInfo, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, r.infoLocked(id))
	}
	return out
}

func (r *Registry) infoLocked(id string) AgentInfo {
	e := r.agents[id]
	info := AgentInfo{
		ID:            id,
		Type:          e.agent.Type(),
		Capabilities:  e.agent.Capabilities(),
		Status:        e.agent.Status(),
		Healthy:       e.healthy,
		CurrentLoad:   e.currentLoad,
		MaxConcurrent: e.agent.MaxConcurrent(),
		TotalRuns:     e.totalRuns,
		FailedRuns:    e.failedRuns,
		LastHeartbeat: e.lastHeartbeat,
	}
	if e.totalRuns > 0 {
		info.MeanRunTime = e.totalRunTime / time.Duration(e.totalRuns)
	}
	return info
}
