package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"concord/internal/contextstate"
	"concord/internal/project"
	"concord/internal/types"
)

var qaCatalog = Catalog{
	"essential_testing": {
		Tag:      "essential_testing",
		Approach: "cover critical paths and smoke-test the rest",
		Parameters: map[string]any{
			"test_types":   []string{"unit", "smoke"},
			"min_coverage": 0.5,
		},
		Rationale:         "fastest adequate verification",
		QualityTarget:     0.70,
		SpeedFactor:       1.5,
		ResourceIntensity: 0.4,
	},
	"comprehensive_testing": {
		Tag:      "comprehensive_testing",
		Approach: "full pyramid with edge cases and regression suites",
		Parameters: map[string]any{
			"test_types":   []string{"unit", "integration", "e2e", "regression"},
			"min_coverage": 0.9,
		},
		Rationale:         "maximum confidence before release",
		QualityTarget:     0.95,
		SpeedFactor:       0.7,
		ResourceIntensity: 0.9,
	},
	"risk_based_testing": {
		Tag:      "risk_based_testing",
		Approach: "rank components by failure impact, test top of the list",
		Parameters: map[string]any{
			"test_types":   []string{"unit", "integration"},
			"min_coverage": 0.7,
		},
		Rationale:         "best coverage per unit of effort",
		QualityTarget:     0.80,
		SpeedFactor:       1.2,
		ResourceIntensity: 0.6,
	},
	FallbackTag: {
		Tag:      FallbackTag,
		Approach: "standard unit and integration testing",
		Parameters: map[string]any{
			"test_types":   []string{"unit", "integration"},
			"min_coverage": 0.7,
		},
		Rationale:         "reasonable defaults without project signal",
		QualityTarget:     0.80,
		SpeedFactor:       1.0,
		ResourceIntensity: 0.5,
	},
}

// QABehavior is the testing agent kind.
type QABehavior struct{}

func (QABehavior) Catalog() Catalog { return qaCatalog }

// SelectStrategy picks the suggested testing strategy and tightens it
// for compliance and critical tech debt.
func (QABehavior) SelectStrategy(snap *project.Context, task *types.Task, rec contextstate.Recommendations) Strategy {
	s := qaCatalog.Get(rec.SuggestedStrategy.Type)
	if rec.SuggestedStrategy.Rationale != "" {
		s.Rationale = rec.SuggestedStrategy.Rationale
	}

	// Compliance floors override whatever the template asked for.
	if floor := rec.QualityConstraints.MinTestCoverage; coverageOf(s) < floor {
		s.Parameters["min_coverage"] = floor
	}
	if rec.QualityConstraints.SecurityRequirements == "strict" {
		s.Parameters["security_review"] = true
	}
	if snap.TechDebt.IsCritical() {
		s.Parameters["regression_focus"] = snap.TechDebt.CriticalAreas
	}
	return s
}

func coverageOf(s Strategy) float64 {
	if v, ok := s.Parameters["min_coverage"].(float64); ok {
		return v
	}
	return 0
}

// ExecuteWithStrategy produces the test plan this agent would carry out.
func (QABehavior) ExecuteWithStrategy(_ context.Context, task *types.Task, s Strategy, _ *project.Context) (*types.TaskResult, error) {
	return &types.TaskResult{
		TaskID:  task.ID,
		Success: true,
		Output: map[string]any{
			"plan":         fmt.Sprintf("test plan for %q using %s", task.Description, s.Tag),
			"test_types":   s.Parameters["test_types"],
			"min_coverage": s.Parameters["min_coverage"],
		},
	}, nil
}

// NewQAAgent builds a context-aware QA agent. The qa- id prefix is what
// the recommendation engine categorizes on.
func NewQAAgent(id string, csm *contextstate.Manager, logger *zap.Logger) *ContextAware {
	caps := []types.Capability{"testing", "quality_assurance", "test_planning"}
	return NewContextAware(id, "qa", caps, 2, csm, QABehavior{}, "", logger)
}
