package project

import (
	"encoding/json"
	"fmt"
	"time"
)

// ApplyUpdates applies a sparse field-update map onto the context.
// Every field is validated before anything is written; on error the
// context is left untouched. The version is bumped exactly once per
// call, even for an empty map.
func (c *Context) ApplyUpdates(updates map[string]any, updatedBy string) error {
	// Work on a copy so a failed later field leaves no partial update.
	work := c.Snapshot()

	for field, value := range updates {
		if err := work.applyField(field, value); err != nil {
			return err
		}
	}

	work.touch(updatedBy)
	*c = *work
	return nil
}

func (c *Context) applyField(field string, value any) error {
	switch field {
	case "project_name":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: project_name must be a string", ErrValidation)
		}
		c.ProjectName = s

	case "lifecycle_phase":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: lifecycle_phase must be a string", ErrValidation)
		}
		switch phase := LifecyclePhase(s); phase {
		case PhaseDiscovery, PhaseMVP, PhaseProduction, PhaseMaintenance:
			c.LifecyclePhase = phase
		default:
			return fmt.Errorf("%w: unknown lifecycle phase %q", ErrValidation, s)
		}

	case "deadline":
		t, err := asTime(value)
		if err != nil {
			return err
		}
		c.Deadline = t

	case "budget_remaining":
		f, err := asFloat(value)
		if err != nil {
			return err
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("%w: budget_remaining out of range [0,1]: %v", ErrValidation, f)
		}
		c.BudgetRemaining = f

	case "priority_matrix":
		var m PriorityMatrix
		if err := decodeInto(value, &m); err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return err
		}
		c.Priorities = m

	case "tech_debt":
		// Either a bare level or a full structure.
		if f, err := asFloat(value); err == nil {
			d := c.TechDebt
			d.CurrentLevel = f
			if err := d.Validate(); err != nil {
				return err
			}
			c.TechDebt = d
			return nil
		}
		var d TechDebt
		if err := decodeInto(value, &d); err != nil {
			return err
		}
		if err := d.Validate(); err != nil {
			return err
		}
		c.TechDebt = d

	case "constraints":
		var cs Constraints
		if err := decodeInto(value, &cs); err != nil {
			return err
		}
		c.Constraints = cs

	case "business_context":
		var b BusinessContext
		if err := decodeInto(value, &b); err != nil {
			return err
		}
		c.Business = b

	default:
		return fmt.Errorf("%w: unknown field %q", ErrValidation, field)
	}
	return nil
}

// ToMap renders the context in its structured dictionary form.
func (c *Context) ToMap() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal context map: %w", err)
	}
	return out, nil
}

// FromMap reloads a context from its structured dictionary form and
// revalidates the range invariants (not the construction-time deadline
// check, which only applies to new contexts).
func FromMap(m map[string]any) (*Context, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal context map: %w", err)
	}
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if c.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrValidation)
	}
	if err := c.Priorities.Validate(); err != nil {
		return nil, err
	}
	if err := c.TechDebt.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func decodeInto(value, target any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func asFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	}
	return 0, fmt.Errorf("%w: expected a number, got %T", ErrValidation, value)
}

func asTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrValidation, v)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: expected a timestamp, got %T", ErrValidation, value)
}
