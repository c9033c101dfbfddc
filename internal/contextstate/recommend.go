package contextstate

import (
	"fmt"
	"strings"

	"concord/internal/project"
)

// SuggestedStrategy pairs a strategy tag with why it was suggested.
type SuggestedStrategy struct {
	Type      string `json:"type"`
	Rationale string `json:"rationale"`
}

// QualityConstraints are the floors the context imposes on any strategy.
type QualityConstraints struct {
	MinTestCoverage         float64 `json:"min_test_coverage"`
	CodeQualityThreshold    float64 `json:"code_quality_threshold"`
	PerformanceRequirements string  `json:"performance_requirements"`
	SecurityRequirements    string  `json:"security_requirements,omitempty"`
}

// ResourceConstraints summarize the project's operating envelope.
type ResourceConstraints struct {
	Timeline           string               `json:"timeline,omitempty"`
	TeamCapacity       string               `json:"team_capacity,omitempty"`
	BudgetRemaining    float64              `json:"budget_remaining"`
	TechnicalExpertise []string             `json:"technical_expertise,omitempty"`
	TimePressure       project.TimePressure `json:"time_pressure"`
}

// Recommendations is the bundle handed to an agent before it selects a
// strategy. It is derived purely from the context; computing it has no
// side effects.
type Recommendations struct {
	ProjectPhase        project.LifecyclePhase `json:"project_phase"`
	DominantPriority    project.Priority       `json:"dominant_priority"`
	TimePressure        project.TimePressure   `json:"time_pressure"`
	SuggestedStrategy   SuggestedStrategy      `json:"suggested_strategy"`
	QualityConstraints  QualityConstraints     `json:"quality_constraints"`
	ResourceConstraints ResourceConstraints    `json:"resource_constraints"`
}

// AgentCategory is inferred from the agent id for strategy suggestion.
type AgentCategory string

const (
	CategoryQA        AgentCategory = "qa"
	CategoryArchitect AgentCategory = "architect"
	CategoryDeveloper AgentCategory = "developer"
	CategoryGeneric   AgentCategory = "generic"
)

// CategorizeAgent infers a category from the agent id by substring.
func CategorizeAgent(agentID string) AgentCategory {
	id := strings.ToLower(agentID)
	switch {
	case strings.HasPrefix(id, "qa-"):
		return CategoryQA
	case strings.Contains(id, "system-architect"):
		return CategoryArchitect
	case strings.Contains(id, "developer"), strings.Contains(id, "engineer"):
		return CategoryDeveloper
	default:
		return CategoryGeneric
	}
}

// strategyTable maps dominant priority x agent category to a suggestion.
var strategyTable = map[project.Priority]map[AgentCategory]SuggestedStrategy{
	project.PrioritySpeed: {
		CategoryQA:        {Type: "essential_testing", Rationale: "speed-prioritized project: cover critical paths only"},
		CategoryArchitect: {Type: "pragmatic_design", Rationale: "speed-prioritized project: ship a proven pattern, defer elegance"},
		CategoryDeveloper: {Type: "rapid_delivery", Rationale: "speed-prioritized project: smallest change that works"},
		CategoryGeneric:   {Type: "fast_iteration", Rationale: "speed-prioritized project: bias to shipping"},
	},
	project.PriorityQuality: {
		CategoryQA:        {Type: "comprehensive_testing", Rationale: "quality-prioritized project: broad coverage and edge cases"},
		CategoryArchitect: {Type: "robust_design", Rationale: "quality-prioritized project: design for the long term"},
		CategoryDeveloper: {Type: "thorough_implementation", Rationale: "quality-prioritized project: review-ready, well-tested code"},
		CategoryGeneric:   {Type: "quality_first", Rationale: "quality-prioritized project: correctness before throughput"},
	},
	project.PriorityCost: {
		CategoryQA:        {Type: "risk_based_testing", Rationale: "cost-prioritized project: spend test effort where risk is highest"},
		CategoryArchitect: {Type: "lean_design", Rationale: "cost-prioritized project: reuse before build"},
		CategoryDeveloper: {Type: "efficient_delivery", Rationale: "cost-prioritized project: minimize rework and scope"},
		CategoryGeneric:   {Type: "cost_aware", Rationale: "cost-prioritized project: cheapest adequate path"},
	},
}

// Recommend computes the recommendation bundle for an agent. Pure
// function over the snapshot.
func Recommend(ctx *project.Context, agentID string) Recommendations {
	dominant := ctx.DominantPriority()
	category := CategorizeAgent(agentID)

	quality := QualityConstraints{
		MinTestCoverage:         0.6,
		CodeQualityThreshold:    7.0,
		PerformanceRequirements: "basic",
	}
	switch dominant {
	case project.PriorityQuality:
		quality.MinTestCoverage = 0.9
		quality.CodeQualityThreshold = 8.5
		quality.PerformanceRequirements = "high"
	case project.PrioritySpeed:
		quality.MinTestCoverage = 0.5
		quality.CodeQualityThreshold = 6.0
		quality.PerformanceRequirements = "acceptable"
	}
	if len(ctx.Constraints.Compliance) > 0 {
		if quality.MinTestCoverage < 0.8 {
			quality.MinTestCoverage = 0.8
		}
		quality.SecurityRequirements = "strict"
	}

	return Recommendations{
		ProjectPhase:      ctx.LifecyclePhase,
		DominantPriority:  dominant,
		TimePressure:      ctx.TimePressureLevel(),
		SuggestedStrategy: strategyTable[dominant][category],
		QualityConstraints: quality,
		ResourceConstraints: ResourceConstraints{
			Timeline:           ctx.Constraints.Timeline,
			TeamCapacity:       ctx.Constraints.TeamCapacity,
			BudgetRemaining:    ctx.BudgetRemaining,
			TechnicalExpertise: ctx.Constraints.TechnicalExpertise,
			TimePressure:       ctx.TimePressureLevel(),
		},
	}
}

// Recommendations fetches the context and computes the bundle.
func (m *Manager) Recommendations(projectID, agentID string) (Recommendations, error) {
	ctx, ok := m.Get(projectID)
	if !ok {
		return Recommendations{}, fmt.Errorf("%w: %s", ErrNotFound, projectID)
	}
	return Recommend(ctx, agentID), nil
}
