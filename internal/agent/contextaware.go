package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"concord/internal/authority"
	"concord/internal/contextstate"
	"concord/internal/project"
	"concord/internal/types"
)

// Behavior is what an agent kind supplies: its strategy catalog, how it
// picks and adjusts a strategy from the recommendation bundle, and the
// actual work body. SelectStrategy must return an adjusted copy and
// never mutate a catalog template.
type Behavior interface {
	Catalog() Catalog
	SelectStrategy(snap *project.Context, task *types.Task, rec contextstate.Recommendations) Strategy
	ExecuteWithStrategy(ctx context.Context, task *types.Task, strategy Strategy, snap *project.Context) (*types.TaskResult, error)
}

// AwarenessStats summarize how an agent has been deciding.
type AwarenessStats struct {
	TotalDecisions    int            `json:"total_decisions"`
	FallbackDecisions int            `json:"fallback_decisions"`
	StrategyCounts    map[string]int `json:"strategy_counts"`
	AvgQualityTarget  float64        `json:"avg_quality_target"`
	AvgEstimatedDays  float64        `json:"avg_estimated_days"`
}

// ContextAware is an agent that consults the context state manager
// before every task and records the decision it made. It is the Base's
// executor, so the lifecycle wrapper applies around the whole protocol.
type ContextAware struct {
	*Base

	csm              *contextstate.Manager
	behavior         Behavior
	defaultProjectID string
	logger           *zap.Logger

	dmu       sync.RWMutex
	decisions []Decision
	// current indexes the most recent decision; -1 before the first.
	current int
	// taskProject is the project bound to the in-flight task, used by
	// the subscription callback to spot mid-task context changes.
	taskProject string

	sub *contextstate.Subscription
}

// NewContextAware builds a context-aware agent of the given kind.
// defaultProjectID is used when a task carries no project binding; it
// may be empty.
func NewContextAware(id, agentType string, capabilities []types.Capability, maxConcurrent int,
	csm *contextstate.Manager, behavior Behavior, defaultProjectID string, logger *zap.Logger) *ContextAware {

	a := &ContextAware{
		Base:             NewBase(id, agentType, capabilities, maxConcurrent, logger),
		csm:              csm,
		behavior:         behavior,
		defaultProjectID: defaultProjectID,
		current:          -1,
		logger:           logger,
	}
	a.SetExecutor(a)
	return a
}

// Initialize brings the agent online and subscribes it to context
// change events so it can notice mid-task updates.
func (a *ContextAware) Initialize() error {
	if err := a.Base.Initialize(); err != nil {
		return err
	}
	a.sub = a.csm.Subscribe(a.onContextEvent)
	return nil
}

// Shutdown drops the subscription and takes the agent offline.
func (a *ContextAware) Shutdown() error {
	if a.sub != nil {
		a.sub.Unsubscribe()
		a.sub = nil
	}
	return a.Base.Shutdown()
}

func (a *ContextAware) onContextEvent(ev contextstate.Event) {
	if ev.Type != contextstate.EventUpdated {
		return
	}
	a.dmu.RLock()
	inFlight := a.taskProject
	a.dmu.RUnlock()
	if inFlight != "" && inFlight == ev.ProjectID {
		// A decision already made stays made; the next task sees the
		// new context. Log so the mid-task change is visible.
		a.logger.Info("project context changed during task execution",
			zap.String("agent_id", a.ID()),
			zap.String("project_id", ev.ProjectID),
			zap.Int("context_version", ev.Version))
	}
}

// Execute runs the context-aware decision protocol: resolve the project,
// fetch context and recommendations, select a strategy, estimate, record
// the decision, then hand off to the behavior's work body. Called via
// the Base lifecycle wrapper.
func (a *ContextAware) Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	projectID := task.ProjectID()
	if projectID == "" {
		projectID = a.defaultProjectID
	}

	var (
		snap     *project.Context
		strategy Strategy
		fallback bool
	)

	if projectID != "" {
		snap, _ = a.csm.Get(projectID)
	}
	if snap == nil {
		fallback = true
		strategy = a.behavior.Catalog().Get(FallbackTag)
		strategy.Rationale = "no project context available, using balanced defaults"
		a.logger.Debug("executing without project context",
			zap.String("agent_id", a.ID()),
			zap.String("task_id", task.ID))
	} else {
		rec := contextstate.Recommend(snap, a.ID())
		strategy = a.behavior.SelectStrategy(snap, task, rec)
	}

	decision := a.recordDecision(task, strategy, snap, fallback)
	a.attachAuthority(task, decision.ID)

	a.setTaskProject(projectID)
	defer a.setTaskProject("")

	result, err := a.behavior.ExecuteWithStrategy(ctx, task, strategy, snap)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &types.TaskResult{TaskID: task.ID, Success: true}
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["strategy"] = strategy.Tag
	result.Metadata["decision_id"] = decision.ID
	result.Metadata["context_aware"] = !fallback
	if snap != nil {
		result.Metadata["context_version"] = snap.Version
	}
	return result, nil
}

// attachAuthority records who holds authority over the task's decision
// kind, when the task names one.
func (a *ContextAware) attachAuthority(task *types.Task, decisionID string) {
	if task.Context == nil {
		return
	}
	kind, ok := task.Context["decision_kind"].(string)
	if !ok || kind == "" {
		return
	}
	assignment, err := a.csm.DecisionAuthority(authority.DecisionKind(kind))
	if err != nil {
		a.logger.Warn("decision kind has no authority assignment",
			zap.String("agent_id", a.ID()),
			zap.String("decision_kind", kind))
		return
	}

	a.dmu.Lock()
	for i := range a.decisions {
		if a.decisions[i].ID == decisionID {
			a.decisions[i].Authority = &assignment
			break
		}
	}
	a.dmu.Unlock()
}

func (a *ContextAware) setTaskProject(projectID string) {
	a.dmu.Lock()
	a.taskProject = projectID
	a.dmu.Unlock()
}

func (a *ContextAware) recordDecision(task *types.Task, strategy Strategy, snap *project.Context, fallback bool) Decision {
	d := Decision{
		ID:        uuid.NewString(),
		AgentID:   a.ID(),
		TaskID:    task.ID,
		Strategy:  strategy,
		Fallback:  fallback,
		CreatedAt: time.Now(),
	}
	if snap != nil {
		d.ContextSnapshot = snap
		d.EstimatedTimeDays, d.ResourceDemand = Estimate(task, strategy, snap)
		d.Risks = assessRisks(strategy, snap)
		d.Dependencies = deriveDependencies(snap)
	} else {
		d.EstimatedTimeDays = task.Priority.BaseTimeDays()
		d.ResourceDemand = 0.5
	}

	a.dmu.Lock()
	a.decisions = append(a.decisions, d)
	a.current = len(a.decisions) - 1
	a.dmu.Unlock()

	a.logger.Debug("strategy selected",
		zap.String("agent_id", a.ID()),
		zap.String("task_id", task.ID),
		zap.String("strategy", strategy.Tag),
		zap.Float64("quality_target", strategy.QualityTarget),
		zap.Float64("estimated_days", d.EstimatedTimeDays),
		zap.Bool("fallback", fallback))
	return d
}

// Estimate computes the time and resource cost of running a task under
// a strategy in a project. Critical time pressure compresses the time
// estimate and inflates resource demand; demand is clamped to [0,1].
func Estimate(task *types.Task, strategy Strategy, snap *project.Context) (timeDays, resourceDemand float64) {
	speed := strategy.SpeedFactor
	if speed <= 0 {
		speed = 1.0
	}
	timeDays = task.Priority.BaseTimeDays() / speed
	resourceDemand = 0.5 * strategy.ResourceIntensity

	if snap.TimePressureLevel() == project.PressureCritical {
		timeDays *= 0.8
		resourceDemand *= 1.2
	}
	if resourceDemand > 1.0 {
		resourceDemand = 1.0
	}
	if resourceDemand < 0 {
		resourceDemand = 0
	}
	return timeDays, resourceDemand
}

func assessRisks(strategy Strategy, snap *project.Context) []string {
	var risks []string
	if strategy.QualityTarget < 0.75 && len(snap.Constraints.Compliance) > 0 {
		risks = append(risks, "quality target below compliance expectations")
	}
	if snap.TimePressureLevel() == project.PressureCritical && strategy.SpeedFactor < 1.0 {
		risks = append(risks, "slow strategy under critical time pressure")
	}
	if snap.TechDebt.IsCritical() {
		risks = append(risks, "critical technical debt may slow execution")
	}
	if snap.TechDebt.RequiresMandatoryAction() {
		risks = append(risks, "technical debt over threshold, mandatory repayment applies")
	}
	return risks
}

func deriveDependencies(snap *project.Context) []string {
	var deps []string
	for _, area := range snap.TechDebt.CriticalAreas {
		deps = append(deps, "debt:"+area)
	}
	for _, c := range snap.Constraints.Compliance {
		deps = append(deps, "compliance:"+c)
	}
	return deps
}

// DecisionHistory returns copies of every decision this agent has made,
// oldest first.
func (a *ContextAware) DecisionHistory() []Decision {
	a.dmu.RLock()
	defer a.dmu.RUnlock()
	out := make([]Decision, len(a.decisions))
	copy(out, a.decisions)
	return out
}

// CurrentStrategy returns the strategy of the most recent decision, or
// nil if no decision has been made yet.
func (a *ContextAware) CurrentStrategy() *Strategy {
	a.dmu.RLock()
	defer a.dmu.RUnlock()
	if a.current < 0 {
		return nil
	}
	s := a.decisions[a.current].Strategy.Clone()
	return &s
}

// ExplainCurrentDecision renders the most recent decision as a human
// readable sentence.
func (a *ContextAware) ExplainCurrentDecision() string {
	a.dmu.RLock()
	defer a.dmu.RUnlock()
	if a.current < 0 {
		return "no decision recorded yet"
	}
	d := a.decisions[a.current]
	if d.Fallback {
		return fmt.Sprintf("chose %q without project context: %s", d.Strategy.Tag, d.Strategy.Rationale)
	}
	return fmt.Sprintf("chose %q for task %s (project %s v%d, dominant priority %s): %s",
		d.Strategy.Tag, d.TaskID, d.ContextSnapshot.ProjectID, d.ContextSnapshot.Version,
		d.ContextSnapshot.DominantPriority(), d.Strategy.Rationale)
}

// ContextAwarenessStats aggregates the decision history.
func (a *ContextAware) ContextAwarenessStats() AwarenessStats {
	a.dmu.RLock()
	defer a.dmu.RUnlock()

	stats := AwarenessStats{StrategyCounts: map[string]int{}}
	var qualitySum, daysSum float64
	for _, d := range a.decisions {
		stats.TotalDecisions++
		if d.Fallback {
			stats.FallbackDecisions++
		}
		stats.StrategyCounts[d.Strategy.Tag]++
		qualitySum += d.Strategy.QualityTarget
		daysSum += d.EstimatedTimeDays
	}
	if stats.TotalDecisions > 0 {
		stats.AvgQualityTarget = qualitySum / float64(stats.TotalDecisions)
		stats.AvgEstimatedDays = daysSum / float64(stats.TotalDecisions)
	}
	return stats
}
