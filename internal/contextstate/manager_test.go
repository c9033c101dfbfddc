package contextstate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"concord/internal/authority"
	"concord/internal/project"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestContext(t *testing.T, id string, matrix project.PriorityMatrix, deadline time.Time) *project.Context {
	t.Helper()
	ctx, err := project.New(id, "Project "+id, project.PhaseMVP, deadline, 0.8, matrix)
	require.NoError(t, err)
	return ctx
}

func balanced() project.PriorityMatrix {
	return project.PriorityMatrix{Speed: 0.4, Quality: 0.4, Cost: 0.2}
}

func TestManager_RegisterAndGet(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	in := newTestContext(t, "p1", balanced(), time.Now().Add(10*24*time.Hour))
	m.Register(in)

	got, ok := m.Get("p1")
	require.True(t, ok)
	assert.Equal(t, in.ProjectID, got.ProjectID)
	assert.Equal(t, in.Priorities, got.Priorities)
	assert.Equal(t, 1, got.Version)

	_, ok = m.Get("nope")
	assert.False(t, ok)
}

func TestManager_GetReturnsIsolatedSnapshot(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	in := newTestContext(t, "p1", balanced(), time.Now().Add(10*24*time.Hour))
	in.Constraints.Compliance = []string{"SOX"}
	m.Register(in)

	first, _ := m.Get("p1")
	first.Constraints.Compliance[0] = "mutated"
	first.ProjectName = "mutated"

	second, _ := m.Get("p1")
	assert.Equal(t, "SOX", second.Constraints.Compliance[0])
	assert.Equal(t, "Project p1", second.ProjectName)
}

func TestManager_ReRegisterOverwrites(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	first := newTestContext(t, "p1", balanced(), time.Now().Add(10*24*time.Hour))
	first.Constraints.Compliance = []string{"SOX"}
	m.Register(first)

	second := newTestContext(t, "p1", project.PriorityMatrix{Speed: 0.7, Quality: 0.2, Cost: 0.1},
		time.Now().Add(5*24*time.Hour))
	m.Register(second)

	got, ok := m.Get("p1")
	require.True(t, ok)
	assert.Equal(t, project.PrioritySpeed, got.DominantPriority())
	assert.Empty(t, got.Constraints.Compliance, "no state may leak from the replaced context")
}

func TestManager_UpdateBumpsVersionAndInvalidatesCache(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	m.Register(newTestContext(t, "p1", balanced(), time.Now().Add(10*24*time.Hour)))

	before, _ := m.Get("p1") // populates the cache
	require.Equal(t, 1, before.Version)

	err := m.Update("p1", map[string]any{
		"priority_matrix": map[string]any{"speed": 0.1, "quality": 0.7, "cost": 0.2},
	}, "architect")
	require.NoError(t, err)

	// A read after the commit must observe the new version even though
	// the TTL has not elapsed.
	after, _ := m.Get("p1")
	assert.Equal(t, 2, after.Version)
	assert.Equal(t, project.PriorityQuality, after.DominantPriority())
}

func TestManager_UpdateRejectsBadInput(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	m.Register(newTestContext(t, "p1", balanced(), time.Now().Add(10*24*time.Hour)))

	err := m.Update("p1", map[string]any{
		"priority_matrix": map[string]any{"speed": 0.9, "quality": 0.9, "cost": 0.9},
	}, "architect")
	require.Error(t, err)
	assert.ErrorIs(t, err, project.ErrValidation)

	got, _ := m.Get("p1")
	assert.Equal(t, 1, got.Version, "failed update must not be visible")

	err = m.Update("ghost", map[string]any{}, "architect")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_CacheTTLExpiry(t *testing.T) {
	m := NewManager(zap.NewNop(), WithCacheTTL(30*time.Millisecond))
	defer m.Close()

	m.Register(newTestContext(t, "p1", balanced(), time.Now().Add(10*24*time.Hour)))

	m.Get("p1") // miss, populates
	m.Get("p1") // hit
	require.Equal(t, int64(1), m.Status().CacheHits)

	time.Sleep(40 * time.Millisecond)
	m.Get("p1") // expired, refetch
	assert.Equal(t, int64(1), m.Status().CacheHits)
	m.Get("p1") // hit again
	assert.Equal(t, int64(2), m.Status().CacheHits)
}

func TestManager_SubscribersSeeCommitOrder(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	var mu sync.Mutex
	var versions []int
	done := make(chan struct{})
	sub := m.Subscribe(func(ev Event) {
		mu.Lock()
		versions = append(versions, ev.Version)
		mu.Unlock()
		if ev.Version == 4 {
			close(done)
		}
	})
	defer sub.Unsubscribe()

	m.Register(newTestContext(t, "p1", balanced(), time.Now().Add(10*24*time.Hour)))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Update("p1", nil, "writer"))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4}, versions)
}

func TestManager_PanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	received := make(chan Event, 1)
	bad := m.Subscribe(func(Event) { panic("boom") })
	defer bad.Unsubscribe()
	good := m.Subscribe(func(ev Event) {
		select {
		case received <- ev:
		default:
		}
	})
	defer good.Unsubscribe()

	m.Register(newTestContext(t, "p1", balanced(), time.Now().Add(10*24*time.Hour)))

	select {
	case ev := <-received:
		assert.Equal(t, EventRegistered, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("healthy subscriber did not receive the event")
	}

	// The commit itself is durable regardless of the panic.
	_, ok := m.Get("p1")
	assert.True(t, ok)
	assert.Eventually(t, func() bool {
		return m.Status().CallbackFailures >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_Unsubscribe(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	calls := make(chan struct{}, 10)
	sub := m.Subscribe(func(Event) { calls <- struct{}{} })

	m.Register(newTestContext(t, "p1", balanced(), time.Now().Add(10*24*time.Hour)))
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never called")
	}

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	require.NoError(t, m.Update("p1", nil, "writer"))
	time.Sleep(50 * time.Millisecond)
	select {
	case <-calls:
		t.Fatal("unsubscribed callback was invoked")
	default:
	}
	assert.Equal(t, 0, m.Status().Subscribers)
}

func TestManager_DecisionAuthority(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	a, err := m.DecisionAuthority(authority.TestingStrategy)
	require.NoError(t, err)
	assert.Equal(t, "qa-engineer", a.Responsible)

	_, err = m.DecisionAuthority("unknown_kind")
	assert.ErrorIs(t, err, authority.ErrUnknownKind)
}

func TestManager_Status(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()

	m.Register(newTestContext(t, "p1", balanced(), time.Now().Add(10*24*time.Hour)))
	m.Get("p1")
	m.Get("p1")
	require.NoError(t, m.Update("p1", nil, "w"))

	st := m.Status()
	assert.Equal(t, int64(2), st.TotalQueries)
	assert.Equal(t, int64(1), st.TotalUpdates)
	assert.Equal(t, 1, st.ActiveContexts)
}
