package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"concord/internal/contextstate"
	"concord/internal/project"
	"concord/internal/types"
)

var developerCatalog = Catalog{
	"rapid_delivery": {
		Tag:      "rapid_delivery",
		Approach: "smallest change that works, cleanup deferred",
		Parameters: map[string]any{
			"refactoring": "none",
			"self_review": true,
		},
		Rationale:         "optimize for time to merge",
		QualityTarget:     0.68,
		SpeedFactor:       1.6,
		ResourceIntensity: 0.35,
	},
	"thorough_implementation": {
		Tag:      "thorough_implementation",
		Approach: "tests first, refactor as you go, review-ready diff",
		Parameters: map[string]any{
			"refactoring": "opportunistic",
			"peer_review": true,
		},
		Rationale:         "code that will not need revisiting",
		QualityTarget:     0.92,
		SpeedFactor:       0.7,
		ResourceIntensity: 0.8,
	},
	"efficient_delivery": {
		Tag:      "efficient_delivery",
		Approach: "reuse helpers, avoid rework, scope tightly",
		Parameters: map[string]any{
			"refactoring": "minimal",
			"self_review": true,
		},
		Rationale:         "least total effort for the requirement",
		QualityTarget:     0.78,
		SpeedFactor:       1.15,
		ResourceIntensity: 0.5,
	},
	FallbackTag: {
		Tag:      FallbackTag,
		Approach: "implement with tests at standard rigor",
		Parameters: map[string]any{
			"refactoring": "minimal",
			"peer_review": true,
		},
		Rationale:         "reasonable defaults without project signal",
		QualityTarget:     0.80,
		SpeedFactor:       1.0,
		ResourceIntensity: 0.5,
	},
}

// DeveloperBehavior is the implementation agent kind.
type DeveloperBehavior struct{}

func (DeveloperBehavior) Catalog() Catalog { return developerCatalog }

func (DeveloperBehavior) SelectStrategy(snap *project.Context, task *types.Task, rec contextstate.Recommendations) Strategy {
	s := developerCatalog.Get(rec.SuggestedStrategy.Type)
	if rec.SuggestedStrategy.Rationale != "" {
		s.Rationale = rec.SuggestedStrategy.Rationale
	}

	if snap.TechDebt.IsCritical() {
		// Do not make critical debt worse, whatever the speed ask is.
		s.Parameters["refactoring"] = "opportunistic"
		if s.QualityTarget < 0.8 {
			s.QualityTarget = 0.8
		}
	}
	if rec.QualityConstraints.CodeQualityThreshold > 8.0 {
		s.Parameters["peer_review"] = true
	}
	return s
}

func (DeveloperBehavior) ExecuteWithStrategy(_ context.Context, task *types.Task, s Strategy, _ *project.Context) (*types.TaskResult, error) {
	return &types.TaskResult{
		TaskID:  task.ID,
		Success: true,
		Output: map[string]any{
			"summary":     fmt.Sprintf("implemented %q via %s", task.Description, s.Tag),
			"refactoring": s.Parameters["refactoring"],
		},
	}, nil
}

// NewDeveloperAgent builds a context-aware developer agent.
func NewDeveloperAgent(id string, csm *contextstate.Manager, logger *zap.Logger) *ContextAware {
	caps := []types.Capability{"implementation", "coding", "debugging"}
	return NewContextAware(id, "developer", caps, 3, csm, DeveloperBehavior{}, "", logger)
}
