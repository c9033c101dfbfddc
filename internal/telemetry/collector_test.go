package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"concord/internal/contextstate"
	"concord/internal/messaging"
	"concord/internal/orchestrator"
	"concord/internal/project"
	"concord/internal/registry"
)

func TestRegisterAndScrape(t *testing.T) {
	router := messaging.NewRouter(zap.NewNop())
	csm := contextstate.NewManager(zap.NewNop())
	defer csm.Close()
	reg := registry.New(router, zap.NewNop())
	defer reg.Close()
	orch := orchestrator.New(reg, zap.NewNop())

	promReg := prometheus.NewPedanticRegistry()
	require.NoError(t, Register(promReg, csm, reg, orch, router))

	// Registering twice on one registry must fail, not double-count.
	require.Error(t, Register(promReg, csm, reg, orch, router))

	families, err := promReg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestContextStateCollectorValues(t *testing.T) {
	csm := contextstate.NewManager(zap.NewNop())
	defer csm.Close()

	ctx, err := project.New("p1", "proj", project.PhaseMVP,
		time.Now().Add(10*24*time.Hour), 0.9,
		project.PriorityMatrix{Speed: 0.5, Quality: 0.3, Cost: 0.2})
	require.NoError(t, err)
	csm.Register(ctx)
	csm.Get("p1")
	csm.Get("p1")

	c := NewContextStateCollector(csm)
	expected := `
# HELP concord_context_active Registered project contexts.
# TYPE concord_context_active gauge
concord_context_active 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "concord_context_active"))
	assert.Equal(t, float64(2), metricValue(t, c, "concord_context_queries_total"))
}

func metricValue(t *testing.T, c prometheus.Collector, name string) float64 {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		m := f.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
