package project

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := New("proj-1", "Test Project", PhaseMVP,
		time.Now().Add(14*24*time.Hour), 0.8,
		PriorityMatrix{Speed: 0.5, Quality: 0.3, Cost: 0.2})
	require.NoError(t, err)
	return ctx
}

func TestNew_ValidatesInputs(t *testing.T) {
	deadline := time.Now().Add(24 * time.Hour)
	good := PriorityMatrix{Speed: 0.4, Quality: 0.4, Cost: 0.2}

	tests := []struct {
		name     string
		id       string
		phase    LifecyclePhase
		deadline time.Time
		budget   float64
		matrix   PriorityMatrix
		wantErr  bool
	}{
		{"valid", "p1", PhaseMVP, deadline, 0.5, good, false},
		{"empty id", "", PhaseMVP, deadline, 0.5, good, true},
		{"bad phase", "p1", "alpha", deadline, 0.5, good, true},
		{"past deadline", "p1", PhaseMVP, time.Now().Add(-time.Hour), 0.5, good, true},
		{"budget over", "p1", PhaseMVP, deadline, 1.5, good, true},
		{"priority sum low", "p1", PhaseMVP, deadline, 0.5, PriorityMatrix{Speed: 0.2, Quality: 0.2, Cost: 0.2}, true},
		{"priority out of range", "p1", PhaseMVP, deadline, 0.5, PriorityMatrix{Speed: 1.2, Quality: -0.1, Cost: -0.1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := New(tt.id, "name", tt.phase, tt.deadline, tt.budget, tt.matrix)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, ctx.Version)
		})
	}
}

func TestPriorityMatrix_SumTolerance(t *testing.T) {
	// Within the 0.01 tolerance.
	m := PriorityMatrix{Speed: 0.335, Quality: 0.335, Cost: 0.335}
	assert.NoError(t, m.Validate())

	m = PriorityMatrix{Speed: 0.4, Quality: 0.4, Cost: 0.22}
	assert.Error(t, m.Validate())
}

func TestPriorityMatrix_Dominant(t *testing.T) {
	assert.Equal(t, PrioritySpeed, PriorityMatrix{Speed: 0.7, Quality: 0.2, Cost: 0.1}.Dominant())
	assert.Equal(t, PriorityQuality, PriorityMatrix{Speed: 0.1, Quality: 0.7, Cost: 0.2}.Dominant())
	assert.Equal(t, PriorityCost, PriorityMatrix{Speed: 0.1, Quality: 0.2, Cost: 0.7}.Dominant())
}

func TestUpdatePriorityMatrix_BumpsVersion(t *testing.T) {
	ctx := validContext(t)
	v := ctx.Version

	require.NoError(t, ctx.UpdatePriorityMatrix(0.2, 0.7, 0.1, "qa-lead"))
	assert.Equal(t, v+1, ctx.Version)
	assert.Equal(t, "qa-lead", ctx.UpdatedBy)
	assert.Equal(t, PriorityQuality, ctx.DominantPriority())

	// Invalid update leaves everything in place.
	err := ctx.UpdatePriorityMatrix(0.9, 0.9, 0.9, "qa-lead")
	require.Error(t, err)
	assert.Equal(t, v+1, ctx.Version)
	assert.Equal(t, PriorityQuality, ctx.DominantPriority())
}

func TestTechDebt_Derived(t *testing.T) {
	d := TechDebt{CurrentLevel: 0.0, MaxThreshold: 0.5}
	assert.False(t, d.IsCritical())

	// Just over 80% of threshold.
	d.CurrentLevel = 0.8*0.5 + 0.001
	assert.True(t, d.IsCritical())
	assert.False(t, d.RequiresMandatoryAction())

	d.CurrentLevel = 0.51
	assert.True(t, d.RequiresMandatoryAction())
}

func TestTimePressure_Buckets(t *testing.T) {
	tests := []struct {
		days float64
		want TimePressure
	}{
		{3, PressureCritical},
		{4, PressureHigh},
		{7, PressureHigh},
		{8, PressureMedium},
		{21, PressureMedium},
		{22, PressureLow},
		{-1, PressureCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PressureForDays(tt.days), "days=%v", tt.days)
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	ctx := validContext(t)
	ctx.Constraints.Compliance = []string{"SOX"}
	ctx.TechDebt.CriticalAreas = []string{"auth"}
	cap := 0.5
	ctx.Constraints.BudgetCap = &cap

	snap := ctx.Snapshot()
	snap.Constraints.Compliance[0] = "PCI-DSS"
	snap.TechDebt.CriticalAreas[0] = "billing"
	*snap.Constraints.BudgetCap = 0.9

	assert.Equal(t, "SOX", ctx.Constraints.Compliance[0])
	assert.Equal(t, "auth", ctx.TechDebt.CriticalAreas[0])
	assert.Equal(t, 0.5, *ctx.Constraints.BudgetCap)
}

func TestApplyUpdates_AtomicAndVersioned(t *testing.T) {
	ctx := validContext(t)
	v := ctx.Version

	err := ctx.ApplyUpdates(map[string]any{
		"priority_matrix":  map[string]any{"speed": 0.1, "quality": 0.7, "cost": 0.2},
		"budget_remaining": 0.4,
	}, "architect")
	require.NoError(t, err)
	assert.Equal(t, v+1, ctx.Version)
	assert.Equal(t, 0.4, ctx.BudgetRemaining)
	assert.Equal(t, PriorityQuality, ctx.DominantPriority())

	// One bad field fails the whole batch.
	err = ctx.ApplyUpdates(map[string]any{
		"budget_remaining": 0.9,
		"priority_matrix":  map[string]any{"speed": 2.0, "quality": 0.0, "cost": 0.0},
	}, "architect")
	require.Error(t, err)
	assert.Equal(t, 0.4, ctx.BudgetRemaining)
	assert.Equal(t, v+1, ctx.Version)
}

func TestApplyUpdates_EmptyMapBumpsVersion(t *testing.T) {
	// Documented behavior: an empty update is a content no-op but still
	// bumps version and last_updated.
	ctx := validContext(t)
	v := ctx.Version
	before := ctx.LastUpdated

	time.Sleep(time.Millisecond)
	require.NoError(t, ctx.ApplyUpdates(nil, "nobody"))
	assert.Equal(t, v+1, ctx.Version)
	assert.True(t, ctx.LastUpdated.After(before))
}

func TestApplyUpdates_UnknownField(t *testing.T) {
	ctx := validContext(t)
	err := ctx.ApplyUpdates(map[string]any{"color": "blue"}, "nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMapRoundTrip(t *testing.T) {
	ctx := validContext(t)
	ctx.Constraints.Compliance = []string{"SOX", "PCI-DSS"}
	ctx.Business.UserImpact = ImpactHigh

	m, err := ctx.ToMap()
	require.NoError(t, err)

	back, err := FromMap(m)
	require.NoError(t, err)

	if diff := cmp.Diff(ctx, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
