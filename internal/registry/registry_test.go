package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"concord/internal/agent"
	"concord/internal/messaging"
	"concord/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// slowExecutor sleeps to give agents distinguishable run-time history.
type slowExecutor struct {
	delay time.Duration
	fail  bool
}

func (s *slowExecutor) Execute(_ context.Context, task *types.Task) (*types.TaskResult, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail {
		return nil, errors.New("simulated failure")
	}
	return &types.TaskResult{TaskID: task.ID, Success: true}, nil
}

func newAgent(id string, caps []types.Capability, maxConcurrent int, exec agent.Executor) *agent.Base {
	b := agent.NewBase(id, "worker", caps, maxConcurrent, zap.NewNop())
	b.SetExecutor(exec)
	return b
}

func newRegistry(t *testing.T) (*Registry, *messaging.Router) {
	t.Helper()
	router := messaging.NewRouter(zap.NewNop())
	r := New(router, zap.NewNop())
	t.Cleanup(r.Close)
	return r, router
}

func capTask(id string, caps ...string) *types.Task {
	task := &types.Task{ID: id, Priority: types.PriorityMedium, CreatedAt: time.Now()}
	if len(caps) > 0 {
		task.Context = map[string]any{"required_capabilities": caps}
	}
	return task
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(newAgent("a1", nil, 1, &slowExecutor{})))

	err := r.Register(newAgent("a1", nil, 1, &slowExecutor{}))
	require.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestFindByCapabilityAndType(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(newAgent("a1", []types.Capability{"testing"}, 1, &slowExecutor{})))
	require.NoError(t, r.Register(newAgent("a2", []types.Capability{"testing", "deployment"}, 1, &slowExecutor{})))
	require.NoError(t, r.Register(newAgent("a3", []types.Capability{"coding"}, 1, &slowExecutor{})))

	both := r.FindByCapability("testing", "deployment")
	require.Len(t, both, 1)
	assert.Equal(t, "a2", both[0].ID())

	assert.Len(t, r.FindByCapability("testing"), 2)
	assert.Len(t, r.FindByType("worker"), 3)
	assert.Empty(t, r.FindByType("ghost"))
}

func TestUnregisterRemovesFromIndices(t *testing.T) {
	r, _ := newRegistry(t)
	a := newAgent("a1", []types.Capability{"testing"}, 1, &slowExecutor{})
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Unregister("a1"))

	assert.Equal(t, types.StatusOffline, a.Status())
	assert.Empty(t, r.FindByCapability("testing"))
	require.ErrorIs(t, r.Unregister("a1"), ErrUnknownAgent)
}

func TestExecuteTaskRoutesByCapability(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(newAgent("tester", []types.Capability{"testing"}, 1, &slowExecutor{})))
	require.NoError(t, r.Register(newAgent("coder", []types.Capability{"coding"}, 1, &slowExecutor{})))

	res, err := r.ExecuteTask(context.Background(), capTask("t1", "coding"), "")
	require.NoError(t, err)
	assert.True(t, res.Success)

	info := findInfo(t, r, "coder")
	assert.Equal(t, 1, info.TotalRuns)
	assert.Equal(t, 0, findInfo(t, r, "tester").TotalRuns)
}

func TestExecuteTaskNoCandidate(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(newAgent("tester", []types.Capability{"testing"}, 1, &slowExecutor{})))

	res, err := r.ExecuteTask(context.Background(), capTask("t1", "deployment"), "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "no available agent found", res.Error)
	assert.Equal(t, int64(1), r.RegistryStatus().Rejected)
}

func TestExecuteTaskNamesChosenAgent(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(newAgent("tester", []types.Capability{"testing"}, 1, &slowExecutor{})))

	res, err := r.ExecuteTask(context.Background(), capTask("t1", "testing"), "")
	require.NoError(t, err)
	assert.Equal(t, "tester", res.Metadata["agent_id"])
}

func TestExecuteTaskPrefersNamedAgent(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(newAgent("a1", []types.Capability{"testing"}, 1, &slowExecutor{})))
	require.NoError(t, r.Register(newAgent("a2", []types.Capability{"testing"}, 1, &slowExecutor{})))

	_, err := r.ExecuteTask(context.Background(), capTask("t1", "testing"), "a2")
	require.NoError(t, err)
	assert.Equal(t, 1, findInfo(t, r, "a2").TotalRuns)
	assert.Equal(t, 0, findInfo(t, r, "a1").TotalRuns)
}

func TestExecuteTaskPreferredIneligibleFallsBack(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(newAgent("tester", []types.Capability{"testing"}, 1, &slowExecutor{})))

	// Preferred agent does not exist; scoring still finds the tester.
	res, err := r.ExecuteTask(context.Background(), capTask("t1", "testing"), "ghost")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestSelectionPrefersReliableAgent(t *testing.T) {
	r, _ := newRegistry(t)
	flaky := newAgent("flaky", []types.Capability{"testing"}, 2, &slowExecutor{fail: true})
	steady := newAgent("steady", []types.Capability{"testing"}, 2, &slowExecutor{})
	require.NoError(t, r.Register(flaky))
	require.NoError(t, r.Register(steady))

	// Give both one run of history: flaky fails, steady succeeds.
	// Flaky ends in error status after its failure in any case, so
	// bring it back to idle to isolate the scoring effect.
	_, err := r.ExecuteTask(context.Background(), capTask("warm1", "testing"), "flaky")
	require.NoError(t, err)
	_, err = r.ExecuteTask(context.Background(), capTask("warm2", "testing"), "steady")
	require.NoError(t, err)
	require.NoError(t, flaky.Initialize())

	id, err := r.Select(capTask("t1", "testing"))
	require.NoError(t, err)
	assert.Equal(t, "steady", id)
}

func TestScoreOrdering(t *testing.T) {
	idle := Score(0, 0, 0)
	loaded := Score(0, 0, 0.9)
	failing := Score(0, 0.5, 0)
	slow := Score(10*time.Second, 0, 0)

	assert.Greater(t, idle, loaded)
	assert.Greater(t, idle, failing)
	assert.Greater(t, idle, slow)
}

func TestFailureCountsInStats(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(newAgent("flaky", []types.Capability{"testing"}, 1, &slowExecutor{fail: true})))

	res, err := r.ExecuteTask(context.Background(), capTask("t1", "testing"), "")
	require.NoError(t, err)
	assert.False(t, res.Success)

	info := findInfo(t, r, "flaky")
	assert.Equal(t, 1, info.TotalRuns)
	assert.Equal(t, 1, info.FailedRuns)
	assert.Equal(t, types.StatusError, info.Status)
}

func TestErroredAgentExcludedFromSelection(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(newAgent("flaky", []types.Capability{"testing"}, 1, &slowExecutor{fail: true})))

	_, err := r.ExecuteTask(context.Background(), capTask("t1", "testing"), "")
	require.NoError(t, err)

	// The only candidate is now in the error state.
	_, err = r.Select(capTask("t2", "testing"))
	require.ErrorIs(t, err, ErrNoCandidate)
}

func TestHeartbeatViaRouterRestoresHealth(t *testing.T) {
	r, router := newRegistry(t)
	a := newAgent("a1", []types.Capability{"testing"}, 1, &slowExecutor{})
	require.NoError(t, r.Register(a))

	// Age the heartbeat past the staleness cutoff.
	r.mu.Lock()
	r.agents["a1"].lastHeartbeat = time.Now().Add(-10 * time.Minute)
	r.mu.Unlock()
	r.checkHealth(time.Now())
	assert.False(t, findInfo(t, r, "a1").Healthy)

	_, err := r.Select(capTask("t1", "testing"))
	require.ErrorIs(t, err, ErrNoCandidate)

	require.NoError(t, a.EmitHeartbeat(router, RouterID))
	assert.True(t, findInfo(t, r, "a1").Healthy)

	_, err = r.Select(capTask("t2", "testing"))
	require.NoError(t, err)
}

func TestHeartbeatLoopKeepsAgentDispatchable(t *testing.T) {
	r, router := newRegistry(t)
	a := newAgent("a1", []types.Capability{"testing"}, 1, &slowExecutor{})
	require.NoError(t, r.Register(a))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.RunHeartbeats(ctx, router, RouterID, 5*time.Millisecond)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// A health sweep after a long quiet stretch knocks the agent out,
	// but the running heartbeat loop brings it straight back.
	r.checkHealth(time.Now().Add(6 * time.Minute))
	require.Eventually(t, func() bool {
		return findInfo(t, r, "a1").Healthy
	}, time.Second, time.Millisecond)

	res, err := r.ExecuteTask(context.Background(), capTask("t1", "testing"), "")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecuteTaskRefreshesHeartbeat(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register(newAgent("a1", []types.Capability{"testing"}, 1, &slowExecutor{})))

	r.mu.Lock()
	r.agents["a1"].lastHeartbeat = time.Now().Add(-4 * time.Minute)
	r.mu.Unlock()

	_, err := r.ExecuteTask(context.Background(), capTask("t1", "testing"), "")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), findInfo(t, r, "a1").LastHeartbeat, time.Minute)
}

func TestRegisterInstallsAgentHandler(t *testing.T) {
	r, router := newRegistry(t)
	require.NoError(t, r.Register(newAgent("a1", []types.Capability{"testing"}, 1, &slowExecutor{})))

	// Direct delivery, not queued: the registry listens on the agent's
	// behalf and treats the message as proof of life.
	r.mu.Lock()
	r.agents["a1"].lastHeartbeat = time.Now().Add(-10 * time.Minute)
	r.agents["a1"].healthy = false
	r.mu.Unlock()

	require.NoError(t, router.Send(messaging.New("orchestrator", "a1", messaging.KindStatusUpdate, nil)))
	assert.Equal(t, 0, router.Status().QueuedMessages)
	assert.True(t, findInfo(t, r, "a1").Healthy)

	require.NoError(t, r.Unregister("a1"))
	require.NoError(t, router.Send(messaging.New("orchestrator", "a1", messaging.KindStatusUpdate, nil)))
	assert.Equal(t, 1, router.Status().QueuedMessages)
}

func TestRunHealthChecksStopsOnCancel(t *testing.T) {
	r, _ := newRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunHealthChecks(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health check loop did not stop")
	}
}

func findInfo(t *testing.T, r *Registry, id string) AgentInfo {
	t.Helper()
	for _, info := range r.Agents() {
		if info.ID == id {
			return info
		}
	}
	t.Fatalf("agent %s not found", id)
	return AgentInfo{}
}
