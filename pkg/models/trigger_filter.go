package models

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// FilterOperator compares an event field against a configured value.
type FilterOperator string

const (
	FilterEq       FilterOperator = "eq"
	FilterNeq      FilterOperator = "neq"
	FilterIn       FilterOperator = "in"
	FilterNotIn    FilterOperator = "not_in"
	FilterContains FilterOperator = "contains"
	FilterExists   FilterOperator = "exists"
)

// FilterMatchAll and FilterMatchAny combine conditions.
const (
	FilterMatchAll = "all"
	FilterMatchAny = "any"
)

// FilterCondition is one predicate on an event field.
type FilterCondition struct {
	Field    string         `json:"field"    validate:"required"`
	Operator FilterOperator `json:"operator" validate:"required,oneof=eq neq in not_in contains exists"`
	Value    any            `json:"value,omitempty"`
}

// TriggerFilter narrows which events of a trigger type start a workflow.
// A nil or empty filter matches every event.
type TriggerFilter struct {
	Match      string            `json:"match,omitempty"      validate:"omitempty,oneof=all any"`
	Conditions []FilterCondition `json:"conditions,omitempty" validate:"dive"`
}

// Matches evaluates the filter against the event.
func (f *TriggerFilter) Matches(event *Event) bool {
	if f == nil || len(f.Conditions) == 0 {
		return true
	}

	if f.Match == FilterMatchAny {
		for _, condition := range f.Conditions {
			if condition.Matches(event) {
				return true
			}
		}

		return false
	}

	for _, condition := range f.Conditions {
		if !condition.Matches(event) {
			return false
		}
	}

	return true
}

// Matches evaluates a single condition against the event.
func (c FilterCondition) Matches(event *Event) bool {
	actual, found := event.Lookup(c.Field)

	switch c.Operator {
	case FilterExists:
		return found && actual != nil
	case FilterEq:
		return found && valuesEqual(actual, c.Value)
	case FilterNeq:
		return !found || !valuesEqual(actual, c.Value)
	case FilterIn:
		return found && inList(actual, c.Value)
	case FilterNotIn:
		return !found || !inList(actual, c.Value)
	case FilterContains:
		return found && contains(actual, c.Value)
	default:
		return false
	}
}

func inList(actual, list any) bool {
	items, ok := list.([]any)
	if !ok {
		return valuesEqual(actual, list)
	}

	return slices.ContainsFunc(items, func(item any) bool {
		return valuesEqual(actual, item)
	})
}

func contains(actual, value any) bool {
	switch v := actual.(type) {
	case string:
		return strings.Contains(v, fmt.Sprint(value))
	case []any:
		return slices.ContainsFunc(v, func(item any) bool {
			return valuesEqual(item, value)
		})
	case []string:
		return slices.Contains(v, fmt.Sprint(value))
	default:
		return false
	}
}

// valuesEqual compares JSON-decoded values, treating numbers by value so that
// 1 and 1.0 are equal.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}

	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}
