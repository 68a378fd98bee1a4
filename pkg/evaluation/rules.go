package evaluation

import "github.com/switchyard-io/switchyard/pkg/bucket"

// EvaluateRules walks a snapshot's targeting rules in position order and
// returns the decision of the first matching rule. The second return is
// false when no rule matched and the caller should fall through to the
// flag's type strategy.
//
// A matched rule serves, in precedence order: a variant (variant flags
// only), a percentage slice of the flag's bucket space, or its plain
// enabled value.
func EvaluateRules(h *bucket.Hasher, snap *FlagSnapshot, ctx Context, subject string) (Decision, bool) {
	for i := range snap.Rules {
		rule := &snap.Rules[i]
		if !ruleMatches(rule, ctx) {
			continue
		}

		d := Decision{
			Key:    snap.FlagKey,
			RuleID: rule.ID,
		}

		switch {
		case snap.Type == FlagVariant && rule.ServeVariant != "":
			d.Enabled = true
			key := rule.ServeVariant
			d.Variant = &key
			if v := snap.Variant(key); v != nil {
				d.Payload = v.Payload
			}
			d.Reason = ReasonRuleMatch

		case rule.ServePercentage != nil:
			b := h.Bucket(snap.FlagKey, subject)
			d.Enabled = b < *rule.ServePercentage
			d.Reason = RulePercentageReason(rule.ID)

		default:
			d.Enabled = rule.ServeEnabled
			d.Reason = ReasonRuleMatch
		}

		return d, true
	}

	return Decision{}, false
}

func ruleMatches(rule *SnapshotRule, ctx Context) bool {
	switch rule.Kind {
	case RuleSegment:
		return MatchSegment(rule.SegmentMatch, rule.SegmentClauses, ctx)

	case RuleAttribute:
		attr, present := ctx[rule.Attribute]
		return Match(rule.Operator, attr, present, rule.Value)

	case RuleUserID:
		// Matches on the context's user_id attribute specifically, not on
		// whatever identifier subject resolution fell back to.
		attr, present := ctx["user_id"]
		if !present {
			return false
		}
		id := attr.String()
		for _, want := range rule.UserIDs {
			if want == id {
				return true
			}
		}
		return false
	}
	return false
}
