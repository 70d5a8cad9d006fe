package models

import (
	"fmt"
	"strconv"
	"strings"
)

// EvaluateCondition converts a rendered condition expression into a boolean.
// Empty values are false; anything that is not a boolean or a number is an error.
func EvaluateCondition(value any) (bool, error) {
	if value == nil {
		return false, nil
	}

	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" || s == "<no value>" {
			return false, nil
		}

		result, err := strconv.ParseBool(s)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", v, err)
		}

		return result, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
}
