package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"concord/internal/types"
)

const defaultTickInterval = time.Second

// Dispatcher is the slice of the registry the orchestrator needs.
type Dispatcher interface {
	ExecuteTask(ctx context.Context, task *types.Task, preferredID string) (*types.TaskResult, error)
}

// Orchestrator owns the workflow map. All step state changes happen
// under mu; agent execution happens outside it.
type Orchestrator struct {
	logger       *zap.Logger
	registry     Dispatcher
	tickInterval time.Duration

	mu        sync.RWMutex
	workflows map[string]*Workflow
	inflight  sync.WaitGroup

	stepsRun    int64
	stepsFailed int64
	timeouts    int64
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithTickInterval overrides how often the driver loop scans for ready
// steps.
func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.tickInterval = d }
}

// New creates an orchestrator dispatching through the given registry.
func New(registry Dispatcher, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:       logger,
		registry:     registry,
		tickInterval: defaultTickInterval,
		workflows:    make(map[string]*Workflow),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateWorkflow validates a definition and stores the workflow as
// pending. Steps inherit the definition's project binding through their
// task context.
func (o *Orchestrator) CreateWorkflow(def Definition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	steps := def.buildSteps()
	if err := validateSteps(steps); err != nil {
		return "", err
	}
	if def.ProjectID != "" {
		for _, s := range steps {
			if s.Input == nil {
				s.Input = map[string]any{}
			}
			s.Input["project_id"] = def.ProjectID
		}
	}

	w := &Workflow{
		ID:          uuid.NewString(),
		Name:        def.Name,
		Description: def.Description,
		Steps:       steps,
		Status:      WorkflowPending,
		Results:     make(map[string]map[string]any),
		CreatedAt:   time.Now(),
	}

	o.mu.Lock()
	o.workflows[w.ID] = w
	o.mu.Unlock()

	o.logger.Info("workflow created",
		zap.String("workflow_id", w.ID),
		zap.String("name", w.Name),
		zap.Int("steps", len(w.Steps)))
	return w.ID, nil
}

// StartWorkflow moves a pending workflow to running; the driver loop
// picks it up on its next tick.
func (o *Orchestrator) StartWorkflow(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.workflows[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	if w.Status != WorkflowPending {
		return fmt.Errorf("%w: %s is %s, want pending", ErrBadTransition, id, w.Status)
	}
	w.Status = WorkflowRunning
	w.StartedAt = time.Now()
	return nil
}

// CancelWorkflow cancels a running workflow. Pending and running steps
// are marked cancelled; a running step's underlying work may still
// finish but its result is discarded.
func (o *Orchestrator) CancelWorkflow(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.workflows[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	if w.Status != WorkflowRunning && w.Status != WorkflowPending {
		return fmt.Errorf("%w: %s is %s, want running or pending", ErrBadTransition, id, w.Status)
	}
	for _, s := range w.Steps {
		if s.Status == StepPending || s.Status == StepRunning {
			s.Status = StepCancelled
		}
	}
	w.Status = WorkflowCancelled
	w.CompletedAt = time.Now()
	o.logger.Info("workflow cancelled", zap.String("workflow_id", id))
	return nil
}

// GetWorkflow returns a deep copy of a workflow's current state.
func (o *Orchestrator) GetWorkflow(id string) (*Workflow, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	w, ok := o.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	return w.snapshot(), nil
}

// Workflows lists deep copies of all known workflows.
func (o *Orchestrator) Workflows() []*Workflow {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Workflow, 0, len(o.workflows))
	for _, w := range o.workflows {
		out = append(out, w.snapshot())
	}
	return out
}

// Run is the driver loop. Each tick it dispatches every ready step of
// every running workflow; dispatches are fire-and-forget so a slow step
// never holds up scheduling elsewhere. On shutdown it waits for the
// in-flight steps to commit.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.inflight.Wait()
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick runs one scheduling round: claim ready steps under the lock,
// then hand each to its own goroutine and return. Claimed steps move to
// running before the lock drops, so a later tick can never re-claim
// them; each commits its own result when the run finishes.
func (o *Orchestrator) tick(ctx context.Context) {
	type claim struct {
		workflowID string
		step       *Step
		task       *types.Task
	}

	o.mu.Lock()
	var claims []claim
	for id, w := range o.workflows {
		if w.Status != WorkflowRunning {
			continue
		}
		for _, s := range w.readySteps() {
			s.Status = StepRunning
			s.StartedAt = time.Now()
			claims = append(claims, claim{workflowID: id, step: s, task: o.buildTaskLocked(w, s)})
		}
	}
	o.mu.Unlock()

	for _, c := range claims {
		c := c
		o.inflight.Add(1)
		go func() {
			defer o.inflight.Done()
			result, err := o.runStep(ctx, c.step, c.task)
			o.commit(c.workflowID, c.step.ID, result, err)
		}()
	}
}

// buildTaskLocked assembles the step's task, injecting each completed
// dependency's output as step_<id>_result.
func (o *Orchestrator) buildTaskLocked(w *Workflow, s *Step) *types.Task {
	input := cloneMap(s.Input)
	if input == nil {
		input = map[string]any{}
	}
	for _, dep := range s.DependsOn {
		if out, ok := w.Results[dep]; ok {
			input["step_"+dep+"_result"] = out
		}
	}

	taskCtx := map[string]any{}
	if len(s.RequiredCapabilities) > 0 {
		caps := make([]string, len(s.RequiredCapabilities))
		for i, c := range s.RequiredCapabilities {
			caps[i] = string(c)
		}
		taskCtx["required_capabilities"] = caps
	}
	if pid, ok := input["project_id"].(string); ok {
		taskCtx["project_id"] = pid
	}

	return &types.Task{
		ID:          w.ID + ":" + s.ID,
		Description: s.Description,
		Input:       input,
		Priority:    s.Priority,
		Context:     taskCtx,
		CreatedAt:   time.Now(),
	}
}

// runStep executes one task with the step's timeout. On timeout the
// step fails as if the agent had errored; the late result is dropped.
func (o *Orchestrator) runStep(ctx context.Context, s *Step, task *types.Task) (*types.TaskResult, error) {
	atomic.AddInt64(&o.stepsRun, 1)

	runCtx := ctx
	var cancel context.CancelFunc
	if s.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	type outcome struct {
		result *types.TaskResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.registry.ExecuteTask(runCtx, task, s.PreferredAgent)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-runCtx.Done():
		atomic.AddInt64(&o.timeouts, 1)
		return nil, fmt.Errorf("step %s: %w", s.ID, runCtx.Err())
	}
}

// commit records a step outcome and closes out the workflow if that
// was its last open step. Failures go back to pending while retries
// remain. Results arriving after cancellation are discarded.
func (o *Orchestrator) commit(workflowID, stepID string, result *types.TaskResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.workflows[workflowID]
	if !ok {
		return
	}
	s := w.step(stepID)
	if s == nil || s.Status != StepRunning {
		// Cancelled while running; drop the late result.
		return
	}
	defer o.finalizeLocked(workflowID, w)

	if result != nil {
		if id, ok := result.Metadata["agent_id"].(string); ok {
			s.AssignedAgent = id
		}
	}

	failure := ""
	switch {
	case err != nil:
		failure = err.Error()
	case result == nil:
		failure = "no result returned"
	case !result.Success:
		failure = result.Error
	}

	if failure == "" {
		s.Status = StepCompleted
		s.Result = result
		s.CompletedAt = time.Now()
		if result.Output != nil {
			w.Results[s.ID] = result.Output
		} else {
			w.Results[s.ID] = map[string]any{}
		}
		return
	}

	atomic.AddInt64(&o.stepsFailed, 1)
	if s.Retries < s.MaxRetries {
		s.Retries++
		s.Status = StepPending
		o.logger.Warn("step failed, will retry",
			zap.String("workflow_id", workflowID),
			zap.String("step_id", stepID),
			zap.Int("attempt", s.Retries),
			zap.String("error", failure))
		return
	}
	s.Status = StepFailed
	s.Error = failure
	s.CompletedAt = time.Now()
	o.logger.Error("step failed permanently",
		zap.String("workflow_id", workflowID),
		zap.String("step_id", stepID),
		zap.String("error", failure))
}

// finalizeLocked closes out a running workflow whose steps are all
// terminal, after cascading cancellations to steps stranded by a failed
// dependency. Callers hold the orchestrator lock.
func (o *Orchestrator) finalizeLocked(id string, w *Workflow) {
	if w.Status != WorkflowRunning {
		return
	}
	o.cancelStrandedLocked(w)
	if !w.terminal() {
		return
	}
	failed := false
	for _, s := range w.Steps {
		if s.Status == StepFailed {
			failed = true
			w.Error = s.Error
			break
		}
	}
	if failed {
		w.Status = WorkflowFailed
	} else {
		w.Status = WorkflowCompleted
	}
	w.CompletedAt = time.Now()
	o.logger.Info("workflow finished",
		zap.String("workflow_id", id),
		zap.String("status", string(w.Status)))
}

// cancelStrandedLocked cancels pending steps that can never become
// ready because a dependency failed or was cancelled.
func (o *Orchestrator) cancelStrandedLocked(w *Workflow) {
	for changed := true; changed; {
		changed = false
		for _, s := range w.Steps {
			if s.Status != StepPending {
				continue
			}
			for _, dep := range s.DependsOn {
				d := w.step(dep)
				if d != nil && (d.Status == StepFailed || d.Status == StepCancelled) {
					s.Status = StepCancelled
					changed = true
					break
				}
			}
		}
	}
}

// ExecuteSingleTask bypasses the workflow machinery and dispatches one
// task directly through the registry.
func (o *Orchestrator) ExecuteSingleTask(ctx context.Context, description string, input map[string]any,
	capabilities []string, priority types.TaskPriority, preferredID string) (*types.TaskResult, error) {

	taskCtx := map[string]any{}
	if len(capabilities) > 0 {
		taskCtx["required_capabilities"] = capabilities
	}
	if pid, ok := input["project_id"].(string); ok {
		taskCtx["project_id"] = pid
	}
	task := &types.Task{
		ID:          uuid.NewString(),
		Description: description,
		Input:       input,
		Priority:    priority,
		Context:     taskCtx,
		CreatedAt:   time.Now(),
	}
	return o.registry.ExecuteTask(ctx, task, preferredID)
}

// OrchestratorStatus summarizes scheduling activity.
type OrchestratorStatus struct {
	Workflows   int   `json:"workflows"`
	StepsRun    int64 `json:"steps_run"`
	StepsFailed int64 `json:"steps_failed"`
	Timeouts    int64 `json:"timeouts"`
}

// Status returns the orchestrator counters.
func (o *Orchestrator) Status() OrchestratorStatus {
	o.mu.RLock()
	n := len(o.workflows)
	o.mu.RUnlock()
	return OrchestratorStatus{
		Workflows:   n,
		StepsRun:    atomic.LoadInt64(&o.stepsRun),
		StepsFailed: atomic.LoadInt64(&o.stepsFailed),
		Timeouts:    atomic.LoadInt64(&o.timeouts),
	}
}
