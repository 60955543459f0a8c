// Package validation evaluates declarative constraint lists against request values.
//
// A request type builds its list of rules once per call and hands it to Check; every failing
// rule contributes one field-level violation instead of stopping at the first problem.
package validation

import (
	"fmt"
	"restaurant-service/internal/apperr"
	"strings"
)

// Rule reports a violation for a single field, or nil when the field is valid.
type Rule func() *apperr.Violation

// Check runs every rule and returns a ValidationError listing all violations, or nil.
func Check(msg string, rules ...Rule) error {
	var violations []apperr.Violation
	for _, rule := range rules {
		if v := rule(); v != nil {
			violations = append(violations, *v)
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return apperr.Validation(msg, violations...)
}

func violation(field, format string, args ...interface{}) *apperr.Violation {
	return &apperr.Violation{Field: field, Message: fmt.Sprintf(format, args...)}
}

func Required(field, value string) Rule {
	return func() *apperr.Violation {
		if strings.TrimSpace(value) == "" {
			return violation(field, "is required")
		}
		return nil
	}
}

func OneOf(field, value string, allowed ...string) Rule {
	return func() *apperr.Violation {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return violation(field, "must be one of %s", strings.Join(allowed, ", "))
	}
}

func PositiveInt(field string, value int) Rule {
	return func() *apperr.Violation {
		if value <= 0 {
			return violation(field, "must be greater than 0")
		}
		return nil
	}
}

func PositiveInt64(field string, value int64) Rule {
	return func() *apperr.Violation {
		if value <= 0 {
			return violation(field, "must be greater than 0")
		}
		return nil
	}
}

func NotEmpty(field string, n int) Rule {
	return func() *apperr.Violation {
		if n == 0 {
			return violation(field, "must not be empty")
		}
		return nil
	}
}

func Empty(field string, n int, reason string) Rule {
	return func() *apperr.Violation {
		if n != 0 {
			return violation(field, "must be empty %s", reason)
		}
		return nil
	}
}

// When applies rule only if cond holds.
func When(cond bool, rule Rule) Rule {
	return func() *apperr.Violation {
		if !cond {
			return nil
		}
		return rule()
	}
}

// Each applies build to every index in [0, n) and prefixes the field with "<field>[i].".
func Each(field string, n int, build func(i int) []Rule) Rule {
	return func() *apperr.Violation {
		for i := 0; i < n; i++ {
			for _, rule := range build(i) {
				if v := rule(); v != nil {
					v.Field = fmt.Sprintf("%s[%d].%s", field, i, v.Field)
					return v
				}
			}
		}
		return nil
	}
}
