package agent

import (
	"time"

	"concord/internal/authority"
	"concord/internal/project"
)

// Strategy describes how an agent intends to approach a task. Catalog
// entries are templates; selection always hands out an adjusted copy,
// never the template itself.
type Strategy struct {
	Tag               string         `json:"tag"`
	Approach          string         `json:"approach"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	Rationale         string         `json:"rationale"`
	QualityTarget     float64        `json:"quality_target"`
	SpeedFactor       float64        `json:"speed_factor"`
	ResourceIntensity float64        `json:"resource_intensity"`
}

// Clone returns an independent copy with its own parameter map.
func (s Strategy) Clone() Strategy {
	out := s
	out.Parameters = make(map[string]any, len(s.Parameters))
	for k, v := range s.Parameters {
		out.Parameters[k] = v
	}
	return out
}

// Catalog is an agent kind's set of named strategies. Every catalog
// must contain a "balanced" entry; it is the fallback when no project
// context is available.
type Catalog map[string]Strategy

// FallbackTag names the strategy used when context resolution fails.
const FallbackTag = "balanced"

// Get looks up a strategy template by tag, falling back to balanced.
func (c Catalog) Get(tag string) Strategy {
	if s, ok := c[tag]; ok {
		return s.Clone()
	}
	return c[FallbackTag].Clone()
}

// Decision records one strategy selection: which strategy was chosen,
// against which version of the project context, and what was estimated.
// ContextSnapshot is nil when the agent fell back without context.
type Decision struct {
	ID                string           `json:"id"`
	AgentID           string           `json:"agent_id"`
	TaskID            string           `json:"task_id"`
	Strategy          Strategy         `json:"strategy"`
	ContextSnapshot   *project.Context `json:"context_snapshot,omitempty"`
	EstimatedTimeDays float64          `json:"estimated_time_days"`
	ResourceDemand    float64          `json:"resource_demand"`
	Dependencies      []string         `json:"dependencies,omitempty"`
	Risks             []string         `json:"risks,omitempty"`
	// Authority is the RACI assignment for the task's decision kind,
	// when the task names one.
	Authority *authority.Assignment `json:"authority,omitempty"`
	Fallback  bool                  `json:"fallback"`
	CreatedAt time.Time             `json:"created_at"`
}
