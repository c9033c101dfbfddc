// Package authority provides the static RACI decision-authority matrix:
// who is responsible, accountable, consulted, and informed for each class
// of decision. The matrix is built once at startup and never mutated.
package authority

import (
	"errors"
	"fmt"
)

// DecisionKind classifies a decision for authority lookup.
type DecisionKind string

const (
	ArchitectureChoices     DecisionKind = "architecture_choices"
	TestingStrategy         DecisionKind = "testing_strategy"
	TechDebtPrioritization  DecisionKind = "tech_debt_prioritization"
	PerformanceOptimization DecisionKind = "performance_optimization"
	SecurityImplementation  DecisionKind = "security_implementation"
)

// ErrUnknownKind is returned for decision kinds outside the matrix.
var ErrUnknownKind = errors.New("unknown decision kind")

// Assignment is one RACI row: exactly one responsible and one accountable
// role, plus consulted and informed lists.
type Assignment struct {
	Responsible string   `json:"responsible"`
	Accountable string   `json:"accountable"`
	Consulted   []string `json:"consulted,omitempty"`
	Informed    []string `json:"informed,omitempty"`
}

// Matrix maps decision kinds to assignments. Lookup-only after construction.
type Matrix struct {
	rows map[DecisionKind]Assignment
}

// NewMatrix builds a matrix from explicit rows.
func NewMatrix(rows map[DecisionKind]Assignment) *Matrix {
	copied := make(map[DecisionKind]Assignment, len(rows))
	for k, v := range rows {
		copied[k] = v
	}
	return &Matrix{rows: copied}
}

// NewDefaultMatrix returns the standard engineering-org assignments.
func NewDefaultMatrix() *Matrix {
	return NewMatrix(map[DecisionKind]Assignment{
		ArchitectureChoices: {
			Responsible: "system-architect",
			Accountable: "engineering-lead",
			Consulted:   []string{"senior-developer", "security-engineer"},
			Informed:    []string{"product-manager", "qa-engineer"},
		},
		TestingStrategy: {
			Responsible: "qa-engineer",
			Accountable: "engineering-lead",
			Consulted:   []string{"senior-developer", "system-architect"},
			Informed:    []string{"product-manager"},
		},
		TechDebtPrioritization: {
			Responsible: "system-architect",
			Accountable: "engineering-lead",
			Consulted:   []string{"senior-developer", "qa-engineer"},
			Informed:    []string{"product-manager"},
		},
		PerformanceOptimization: {
			Responsible: "senior-developer",
			Accountable: "system-architect",
			Consulted:   []string{"qa-engineer"},
			Informed:    []string{"engineering-lead"},
		},
		SecurityImplementation: {
			Responsible: "security-engineer",
			Accountable: "engineering-lead",
			Consulted:   []string{"system-architect", "senior-developer"},
			Informed:    []string{"product-manager", "qa-engineer"},
		},
	})
}

// Lookup returns the assignment for a decision kind.
func (m *Matrix) Lookup(kind DecisionKind) (Assignment, error) {
	a, ok := m.rows[kind]
	if !ok {
		return Assignment{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return a, nil
}

// Kinds lists every configured decision kind.
func (m *Matrix) Kinds() []DecisionKind {
	kinds := make([]DecisionKind, 0, len(m.rows))
	for k := range m.rows {
		kinds = append(kinds, k)
	}
	return kinds
}
