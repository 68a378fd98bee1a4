package evaluation

import "encoding/json"

// Reason explains how a decision was produced. The set is closed; clients
// branch on these strings.
type Reason string

const (
	ReasonFlagNotFound      Reason = "flag_not_found"
	ReasonFlagDisabled      Reason = "flag_disabled"
	ReasonRuleMatch         Reason = "rule_match"
	ReasonDefault           Reason = "default"
	ReasonPercentageRollout Reason = "percentage_rollout"
	ReasonVariantAssignment Reason = "variant_assignment"
	ReasonNoSegmentMatch    Reason = "no_segment_match"
	ReasonError             Reason = "error"
)

// RulePercentageReason builds the reason for a matched rule that served a
// percentage, e.g. "rule_percentage_3f2a...". The rule id rides inside the
// reason so clients can attribute partial rollouts to the rule that caused
// them.
func RulePercentageReason(ruleID string) Reason {
	return Reason("rule_percentage_" + ruleID)
}

// Decision is the outcome of evaluating one flag for one subject.
type Decision struct {
	Key     string
	Enabled bool

	// Variant is nil unless a variant was assigned or served by a rule.
	Variant *string
	Payload json.RawMessage

	Reason Reason

	// RuleID identifies the matched rule, when one matched.
	RuleID string

	// SubjectID is the identifier the buckets were computed against. It is
	// carried for the evaluation log, not for the wire response.
	SubjectID string

	// SubjectGenerated marks decisions whose subject was a random fallback;
	// such decisions are not sticky.
	SubjectGenerated bool
}

// VariantKey returns the assigned variant key or "" when none was chosen.
func (d Decision) VariantKey() string {
	if d.Variant == nil {
		return ""
	}
	return *d.Variant
}
