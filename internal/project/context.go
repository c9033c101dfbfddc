// Package project defines the validated ProjectContext model: the
// authoritative description of a project's current situation that agents
// consult before choosing a strategy.
package project

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// LifecyclePhase is where the project sits in its life.
type LifecyclePhase string

const (
	PhaseDiscovery   LifecyclePhase = "discovery"
	PhaseMVP         LifecyclePhase = "mvp"
	PhaseProduction  LifecyclePhase = "production"
	PhaseMaintenance LifecyclePhase = "maintenance"
)

// TimePressure buckets the distance to the deadline.
type TimePressure string

const (
	PressureCritical TimePressure = "critical" // <= 3 days
	PressureHigh     TimePressure = "high"     // <= 7 days
	PressureMedium   TimePressure = "medium"   // <= 21 days
	PressureLow      TimePressure = "low"
)

// ImpactLevel is an ordered low/medium/high tag.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// Priority names one axis of the priority matrix.
type Priority string

const (
	PrioritySpeed   Priority = "speed"
	PriorityQuality Priority = "quality"
	PriorityCost    Priority = "cost"
)

// prioritySumTolerance is the allowed drift of speed+quality+cost from 1.0.
const prioritySumTolerance = 0.01

// ErrValidation wraps every constructor/mutator rejection so callers can
// distinguish bad input from missing state.
var ErrValidation = errors.New("validation")

// PriorityMatrix weights the three competing concerns. The weights must
// sum to 1.0 within prioritySumTolerance.
type PriorityMatrix struct {
	Speed   float64 `json:"speed" yaml:"speed"`
	Quality float64 `json:"quality" yaml:"quality"`
	Cost    float64 `json:"cost" yaml:"cost"`
}

// Validate checks range and sum invariants.
func (m PriorityMatrix) Validate() error {
	for name, v := range map[string]float64{"speed": m.Speed, "quality": m.Quality, "cost": m.Cost} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: priority %s out of range [0,1]: %v", ErrValidation, name, v)
		}
	}
	sum := m.Speed + m.Quality + m.Cost
	if math.Abs(sum-1.0) > prioritySumTolerance {
		return fmt.Errorf("%w: priority weights must sum to 1.0 (got %.3f)", ErrValidation, sum)
	}
	return nil
}

// Dominant returns the axis with the largest weight. Ties resolve
// speed > quality > cost.
func (m PriorityMatrix) Dominant() Priority {
	switch {
	case m.Speed >= m.Quality && m.Speed >= m.Cost:
		return PrioritySpeed
	case m.Quality >= m.Cost:
		return PriorityQuality
	default:
		return PriorityCost
	}
}

// Constraints are the hard boundaries the project operates under.
type Constraints struct {
	Timeline           string   `json:"timeline,omitempty" yaml:"timeline,omitempty"`
	TeamCapacity       string   `json:"team_capacity,omitempty" yaml:"team_capacity,omitempty"`
	TechnicalExpertise []string `json:"technical_expertise,omitempty" yaml:"technical_expertise,omitempty"`
	Compliance         []string `json:"compliance,omitempty" yaml:"compliance,omitempty"`
	BudgetCap          *float64 `json:"budget_cap,omitempty" yaml:"budget_cap,omitempty"`
}

// TechDebt tracks accumulated debt as ratios in [0,1].
type TechDebt struct {
	CurrentLevel    float64  `json:"current_level" yaml:"current_level"`
	MaxThreshold    float64  `json:"max_threshold" yaml:"max_threshold"`
	CriticalAreas   []string `json:"critical_areas,omitempty" yaml:"critical_areas,omitempty"`
	RepaymentBudget float64  `json:"repayment_budget" yaml:"repayment_budget"`
}

// Validate checks all ratios are in [0,1].
func (d TechDebt) Validate() error {
	for name, v := range map[string]float64{
		"current_level":    d.CurrentLevel,
		"max_threshold":    d.MaxThreshold,
		"repayment_budget": d.RepaymentBudget,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: tech debt %s out of range [0,1]: %v", ErrValidation, name, v)
		}
	}
	return nil
}

// IsCritical reports whether debt has crossed 80% of its threshold.
func (d TechDebt) IsCritical() bool {
	return d.CurrentLevel > 0.8*d.MaxThreshold
}

// RequiresMandatoryAction reports whether debt has exceeded its threshold.
func (d TechDebt) RequiresMandatoryAction() bool {
	return d.CurrentLevel > d.MaxThreshold
}

// BusinessContext carries the commercial situation around the project.
type BusinessContext struct {
	UserImpact          ImpactLevel `json:"user_impact" yaml:"user_impact"`
	RevenueImpact       ImpactLevel `json:"revenue_impact" yaml:"revenue_impact"`
	CompetitivePressure ImpactLevel `json:"competitive_pressure" yaml:"competitive_pressure"`
	MarketWindow        string      `json:"market_window,omitempty" yaml:"market_window,omitempty"`
	StakeholderPriority []string    `json:"stakeholder_priority,omitempty" yaml:"stakeholder_priority,omitempty"`
}

// Context is the full, versioned project state. It is a value type:
// all reads from the state manager hand out deep copies, never the
// stored instance.
type Context struct {
	ProjectID       string          `json:"project_id" yaml:"project_id"`
	ProjectName     string          `json:"project_name" yaml:"project_name"`
	LifecyclePhase  LifecyclePhase  `json:"lifecycle_phase" yaml:"lifecycle_phase"`
	Deadline        time.Time       `json:"deadline" yaml:"deadline"`
	BudgetRemaining float64         `json:"budget_remaining" yaml:"budget_remaining"`
	Priorities      PriorityMatrix  `json:"priority_matrix" yaml:"priority_matrix"`
	Constraints     Constraints     `json:"constraints" yaml:"constraints"`
	TechDebt        TechDebt        `json:"tech_debt" yaml:"tech_debt"`
	Business        BusinessContext `json:"business_context" yaml:"business_context"`

	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`
	UpdatedBy   string    `json:"updated_by" yaml:"updated_by"`
	Version     int       `json:"version" yaml:"version"`
}

// New validates and constructs a project context at version 1.
// The deadline must be in the future at construction time; it may
// legitimately become past due afterwards.
func New(projectID, projectName string, phase LifecyclePhase, deadline time.Time,
	budgetRemaining float64, priorities PriorityMatrix) (*Context, error) {

	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrValidation)
	}
	switch phase {
	case PhaseDiscovery, PhaseMVP, PhaseProduction, PhaseMaintenance:
	default:
		return nil, fmt.Errorf("%w: unknown lifecycle phase %q", ErrValidation, phase)
	}
	if !deadline.After(time.Now()) {
		return nil, fmt.Errorf("%w: deadline must be in the future", ErrValidation)
	}
	if budgetRemaining < 0 || budgetRemaining > 1 {
		return nil, fmt.Errorf("%w: budget_remaining out of range [0,1]: %v", ErrValidation, budgetRemaining)
	}
	if err := priorities.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Context{
		ProjectID:       projectID,
		ProjectName:     projectName,
		LifecyclePhase:  phase,
		Deadline:        deadline,
		BudgetRemaining: budgetRemaining,
		Priorities:      priorities,
		TechDebt:        TechDebt{MaxThreshold: 1.0},
		Business: BusinessContext{
			UserImpact:          ImpactMedium,
			RevenueImpact:       ImpactMedium,
			CompetitivePressure: ImpactMedium,
		},
		CreatedAt:   now,
		LastUpdated: now,
		Version:     1,
	}, nil
}

// UpdatePriorityMatrix replaces the matrix atomically, revalidating and
// bumping the version.
func (c *Context) UpdatePriorityMatrix(speed, quality, cost float64, updatedBy string) error {
	m := PriorityMatrix{Speed: speed, Quality: quality, Cost: cost}
	if err := m.Validate(); err != nil {
		return err
	}
	c.Priorities = m
	c.touch(updatedBy)
	return nil
}

// UpdateTechDebt sets the current debt level, revalidating and bumping
// the version.
func (c *Context) UpdateTechDebt(level float64, updatedBy string) error {
	d := c.TechDebt
	d.CurrentLevel = level
	if err := d.Validate(); err != nil {
		return err
	}
	c.TechDebt = d
	c.touch(updatedBy)
	return nil
}

func (c *Context) touch(updatedBy string) {
	c.Version++
	c.LastUpdated = time.Now()
	c.UpdatedBy = updatedBy
}

// DominantPriority is the argmax of the priority matrix.
func (c *Context) DominantPriority() Priority {
	return c.Priorities.Dominant()
}

// DaysToDeadline returns the remaining time in fractional days
// (negative when past due).
func (c *Context) DaysToDeadline() float64 {
	return time.Until(c.Deadline).Hours() / 24
}

// TimePressureLevel buckets the deadline distance: critical <= 3 days,
// high <= 7, medium <= 21, low otherwise.
func (c *Context) TimePressureLevel() TimePressure {
	return PressureForDays(c.DaysToDeadline())
}

// PressureForDays buckets an arbitrary day count.
func PressureForDays(days float64) TimePressure {
	switch {
	case days <= 3:
		return PressureCritical
	case days <= 7:
		return PressureHigh
	case days <= 21:
		return PressureMedium
	default:
		return PressureLow
	}
}

// Snapshot returns a deep copy. Slices and the optional budget cap are
// cloned so the copy shares nothing mutable with the original.
func (c *Context) Snapshot() *Context {
	cp := *c
	cp.Constraints.TechnicalExpertise = cloneStrings(c.Constraints.TechnicalExpertise)
	cp.Constraints.Compliance = cloneStrings(c.Constraints.Compliance)
	cp.TechDebt.CriticalAreas = cloneStrings(c.TechDebt.CriticalAreas)
	cp.Business.StakeholderPriority = cloneStrings(c.Business.StakeholderPriority)
	if c.Constraints.BudgetCap != nil {
		cap := *c.Constraints.BudgetCap
		cp.Constraints.BudgetCap = &cap
	}
	return &cp
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
