package evaluation

import (
	"regexp"
	"strconv"
	"strings"
)

// Operator names one comparison from the closed rule operator set.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpRegex       Operator = "regex"
)

// Operators lists the full operator set, in the order conditions are
// documented.
var Operators = []Operator{
	OpEq, OpNeq,
	OpContains, OpNotContains,
	OpStartsWith, OpEndsWith,
	OpGt, OpGte, OpLt, OpLte,
	OpIn, OpNotIn,
	OpRegex,
}

// ValidOperator reports whether op is part of the operator set.
func ValidOperator(op Operator) bool {
	switch op {
	case OpEq, OpNeq, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
		OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpRegex:
		return true
	}
	return false
}

// Match applies op to an attribute value against a rule literal. Every
// failure mode yields false: a missing attribute (present == false), a
// non-numeric operand for a numeric operator, an invalid regex, an unknown
// operator. Negated operators are no exception; neq and not_in on an absent
// attribute are false, not true.
func Match(op Operator, attr Value, present bool, literal string) bool {
	if !present {
		return false
	}

	switch op {
	case OpEq:
		return attr.String() == literal
	case OpNeq:
		return attr.String() != literal
	case OpContains:
		return strings.Contains(attr.String(), literal)
	case OpNotContains:
		return !strings.Contains(attr.String(), literal)
	case OpStartsWith:
		return strings.HasPrefix(attr.String(), literal)
	case OpEndsWith:
		return strings.HasSuffix(attr.String(), literal)
	case OpGt, OpGte, OpLt, OpLte:
		return matchNumeric(op, attr, literal)
	case OpIn:
		return inList(attr.String(), literal)
	case OpNotIn:
		return !inList(attr.String(), literal)
	case OpRegex:
		re, err := regexp.Compile(literal)
		if err != nil {
			return false
		}
		return re.MatchString(attr.String())
	}
	return false
}

func matchNumeric(op Operator, attr Value, literal string) bool {
	a, ok := attr.Float()
	if !ok {
		return false
	}
	l, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
	if err != nil {
		return false
	}
	switch op {
	case OpGt:
		return a > l
	case OpGte:
		return a >= l
	case OpLt:
		return a < l
	case OpLte:
		return a <= l
	}
	return false
}

// inList treats the literal as a comma-separated list, trimming whitespace
// around each element.
func inList(s, literal string) bool {
	for _, el := range strings.Split(literal, ",") {
		if strings.TrimSpace(el) == s {
			return true
		}
	}
	return false
}
