package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"concord/internal/contextstate"
	"concord/internal/project"
	"concord/internal/types"
)

var architectCatalog = Catalog{
	"pragmatic_design": {
		Tag:      "pragmatic_design",
		Approach: "apply a proven pattern, defer extensibility",
		Parameters: map[string]any{
			"documentation": "lightweight",
			"review_rounds": 1,
		},
		Rationale:         "ship a known-good shape quickly",
		QualityTarget:     0.72,
		SpeedFactor:       1.4,
		ResourceIntensity: 0.4,
	},
	"robust_design": {
		Tag:      "robust_design",
		Approach: "full design doc, alternatives considered, failure modes mapped",
		Parameters: map[string]any{
			"documentation": "full",
			"review_rounds": 3,
		},
		Rationale:         "durable architecture for the long term",
		QualityTarget:     0.93,
		SpeedFactor:       0.65,
		ResourceIntensity: 0.85,
	},
	"lean_design": {
		Tag:      "lean_design",
		Approach: "reuse existing components, add nothing speculative",
		Parameters: map[string]any{
			"documentation": "lightweight",
			"review_rounds": 1,
			"reuse_first":   true,
		},
		Rationale:         "cheapest adequate architecture",
		QualityTarget:     0.78,
		SpeedFactor:       1.1,
		ResourceIntensity: 0.45,
	},
	FallbackTag: {
		Tag:      FallbackTag,
		Approach: "standard design review with a short written proposal",
		Parameters: map[string]any{
			"documentation": "standard",
			"review_rounds": 2,
		},
		Rationale:         "reasonable defaults without project signal",
		QualityTarget:     0.82,
		SpeedFactor:       1.0,
		ResourceIntensity: 0.55,
	},
}

// ArchitectBehavior is the system design agent kind.
type ArchitectBehavior struct{}

func (ArchitectBehavior) Catalog() Catalog { return architectCatalog }

func (ArchitectBehavior) SelectStrategy(snap *project.Context, task *types.Task, rec contextstate.Recommendations) Strategy {
	s := architectCatalog.Get(rec.SuggestedStrategy.Type)
	if rec.SuggestedStrategy.Rationale != "" {
		s.Rationale = rec.SuggestedStrategy.Rationale
	}

	// Debt over threshold forces repayment into the design scope.
	if snap.TechDebt.RequiresMandatoryAction() {
		s.Parameters["debt_repayment"] = snap.TechDebt.CriticalAreas
		if s.QualityTarget < 0.85 {
			s.QualityTarget = 0.85
		}
	}
	if len(snap.Constraints.Compliance) > 0 {
		s.Parameters["compliance_review"] = snap.Constraints.Compliance
	}
	return s
}

func (ArchitectBehavior) ExecuteWithStrategy(_ context.Context, task *types.Task, s Strategy, _ *project.Context) (*types.TaskResult, error) {
	return &types.TaskResult{
		TaskID:  task.ID,
		Success: true,
		Output: map[string]any{
			"proposal":      fmt.Sprintf("design proposal for %q via %s", task.Description, s.Tag),
			"documentation": s.Parameters["documentation"],
			"review_rounds": s.Parameters["review_rounds"],
		},
	}, nil
}

// NewArchitectAgent builds a context-aware system architect agent.
func NewArchitectAgent(id string, csm *contextstate.Manager, logger *zap.Logger) *ContextAware {
	caps := []types.Capability{"architecture", "system_design", "technical_review"}
	return NewContextAware(id, "architect", caps, 1, csm, ArchitectBehavior{}, "", logger)
}
