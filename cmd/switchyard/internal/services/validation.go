package services

import (
	"fmt"
	"regexp"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/pkg/evaluation"
)

// keyPattern is the shape of every URL-safe identifier: project, environment,
// flag, variant and segment keys.
var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func validateKey(field, key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %s must match ^[a-z][a-z0-9_]*$, got %q", repository.ErrInvalidInput, field, key)
	}
	return nil
}

func validatePercentage(field string, p int) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("%w: %s must be within [0,100], got %d", repository.ErrInvalidInput, field, p)
	}
	return nil
}

func validateVariants(params []repository.VariantParams) error {
	seen := map[string]bool{}
	for _, vp := range params {
		if err := validateKey("variant key", vp.Key); err != nil {
			return err
		}
		if seen[vp.Key] {
			return fmt.Errorf("%w: duplicate variant key %q", repository.ErrInvalidInput, vp.Key)
		}
		seen[vp.Key] = true
		if vp.Weight < 0 {
			return fmt.Errorf("%w: variant %q weight must be non-negative, got %d", repository.ErrInvalidInput, vp.Key, vp.Weight)
		}
	}
	return nil
}

func validateRules(params []repository.RuleParams) error {
	for i, rp := range params {
		switch evaluation.RuleKind(rp.RuleType) {
		case evaluation.RuleSegment:
			if rp.SegmentID == nil {
				return fmt.Errorf("%w: rule %d: segment rule needs a segment id", repository.ErrInvalidInput, i)
			}
		case evaluation.RuleAttribute:
			if rp.Attribute == "" {
				return fmt.Errorf("%w: rule %d: attribute rule needs an attribute name", repository.ErrInvalidInput, i)
			}
			if !evaluation.ValidOperator(evaluation.Operator(rp.Operator)) {
				return fmt.Errorf("%w: rule %d: unknown operator %q", repository.ErrInvalidInput, i, rp.Operator)
			}
		case evaluation.RuleUserID:
			if len(rp.UserIDs) == 0 {
				return fmt.Errorf("%w: rule %d: user_id rule needs at least one id", repository.ErrInvalidInput, i)
			}
		default:
			return fmt.Errorf("%w: rule %d: unknown rule type %q", repository.ErrInvalidInput, i, rp.RuleType)
		}

		if rp.ServePercentage != nil {
			if err := validatePercentage(fmt.Sprintf("rule %d serve_percentage", i), *rp.ServePercentage); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateSegmentRules(matchType string, params []repository.SegmentRuleParams) error {
	switch evaluation.MatchType(matchType) {
	case evaluation.MatchAll, evaluation.MatchAny:
	default:
		return fmt.Errorf("%w: unknown match type %q", repository.ErrInvalidInput, matchType)
	}
	for i, rp := range params {
		if rp.Attribute == "" {
			return fmt.Errorf("%w: rule %d: attribute name is required", repository.ErrInvalidInput, i)
		}
		if !evaluation.ValidOperator(evaluation.Operator(rp.Operator)) {
			return fmt.Errorf("%w: rule %d: unknown operator %q", repository.ErrInvalidInput, i, rp.Operator)
		}
	}
	return nil
}
