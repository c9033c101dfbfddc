package contextstate

import (
	"fmt"

	"concord/internal/project"
)

// Proposal is one candidate decision offered for conflict screening.
type Proposal struct {
	AgentID           string   `json:"agent_id"`
	EstimatedTimeDays float64  `json:"estimated_time_days"`
	ResourceDemand    float64  `json:"resource_demand"`
	QualityTarget     *float64 `json:"quality_target,omitempty"`
}

// ConflictKind classifies a detected conflict.
type ConflictKind string

const (
	ConflictResource        ConflictKind = "resource_conflict"
	ConflictTimeOverlap     ConflictKind = "time_overlap"
	ConflictQualityMismatch ConflictKind = "quality_mismatch"
)

// Severity orders conflicts for the caller.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Conflict describes one problem found across the proposal set.
// Detection does not deduplicate: identical inputs yield identical
// conflicts, and the caller decides how to react.
type Conflict struct {
	Kind        ConflictKind `json:"kind"`
	Severity    Severity     `json:"severity"`
	Description string       `json:"description"`
	Suggestion  string       `json:"suggestion,omitempty"`
	Agents      []string     `json:"agents"`
}

const (
	resourceBudget       = 1.0
	qualitySpreadMax     = 0.3
	overDemandSuggestion = "prioritize proposals or stagger execution to stay within capacity"
)

// DetectConflicts screens a proposal set against the context. Pure
// function over its inputs.
func DetectConflicts(ctx *project.Context, proposals []Proposal) []Conflict {
	if len(proposals) == 0 {
		return nil
	}

	agents := make([]string, 0, len(proposals))
	totalDemand := 0.0
	totalDays := 0.0
	for _, p := range proposals {
		agents = append(agents, p.AgentID)
		totalDemand += p.ResourceDemand
		totalDays += p.EstimatedTimeDays
	}

	var conflicts []Conflict

	if totalDemand > resourceBudget {
		conflicts = append(conflicts, Conflict{
			Kind:     ConflictResource,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("combined resource demand %.2f exceeds capacity by %.2f",
				totalDemand, totalDemand-resourceBudget),
			Suggestion: overDemandSuggestion,
			Agents:     agents,
		})
	}

	if days := ctx.DaysToDeadline(); totalDays > days {
		conflicts = append(conflicts, Conflict{
			Kind:     ConflictTimeOverlap,
			Severity: SeverityCritical,
			Description: fmt.Sprintf("combined estimate of %.1f days does not fit in the %.1f days to deadline",
				totalDays, days),
			Suggestion: "parallelize independent work or cut scope",
			Agents:     agents,
		})
	}

	var (
		haveTarget bool
		minQ, maxQ float64
		qAgents    []string
	)
	for _, p := range proposals {
		if p.QualityTarget == nil {
			continue
		}
		q := *p.QualityTarget
		if !haveTarget {
			minQ, maxQ = q, q
			haveTarget = true
		} else {
			if q < minQ {
				minQ = q
			}
			if q > maxQ {
				maxQ = q
			}
		}
		qAgents = append(qAgents, p.AgentID)
	}
	if haveTarget && maxQ-minQ > qualitySpreadMax {
		conflicts = append(conflicts, Conflict{
			Kind:     ConflictQualityMismatch,
			Severity: SeverityMedium,
			Description: fmt.Sprintf("quality targets diverge from %.2f to %.2f across agents",
				minQ, maxQ),
			Suggestion: "align on a shared quality bar before committing",
			Agents:     qAgents,
		})
	}

	return conflicts
}

// DetectConflicts fetches the context and screens the proposals.
func (m *Manager) DetectConflicts(projectID string, proposals []Proposal) ([]Conflict, error) {
	ctx, ok := m.Get(projectID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, projectID)
	}
	return DetectConflicts(ctx, proposals), nil
}
