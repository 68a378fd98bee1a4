package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-io/switchyard/pkg/bucket"
)

func attrRule(id, attr string, op Operator, value string, serveEnabled bool) SnapshotRule {
	return SnapshotRule{
		ID:           id,
		Kind:         RuleAttribute,
		Attribute:    attr,
		Operator:     op,
		Value:        value,
		ServeEnabled: serveEnabled,
	}
}

func TestEvaluateRulesFirstMatchWins(t *testing.T) {
	h := bucket.NewHasher()
	snap := &FlagSnapshot{
		FlagKey: "checkout",
		Type:    FlagBoolean,
		Enabled: true,
		Rules: []SnapshotRule{
			attrRule("r1", "country", OpEq, "DE", false),
			attrRule("r2", "country", OpNeq, "", true),
		},
	}

	ctx := Context{"country": StringValue("DE")}
	d, ok := EvaluateRules(h, snap, ctx, "alice")
	require.True(t, ok)
	assert.False(t, d.Enabled)
	assert.Equal(t, ReasonRuleMatch, d.Reason)
	assert.Equal(t, "r1", d.RuleID)

	ctx = Context{"country": StringValue("FR")}
	d, ok = EvaluateRules(h, snap, ctx, "alice")
	require.True(t, ok)
	assert.True(t, d.Enabled)
	assert.Equal(t, "r2", d.RuleID)
}

func TestEvaluateRulesNoMatch(t *testing.T) {
	h := bucket.NewHasher()
	snap := &FlagSnapshot{
		FlagKey: "checkout",
		Type:    FlagBoolean,
		Rules:   []SnapshotRule{attrRule("r1", "country", OpEq, "DE", true)},
	}

	_, ok := EvaluateRules(h, snap, Context{}, "alice")
	assert.False(t, ok)
}

func TestEvaluateRulesServeVariant(t *testing.T) {
	h := bucket.NewHasher()
	payload := []byte(`{"color":"green"}`)
	snap := &FlagSnapshot{
		FlagKey: "checkout",
		Type:    FlagVariant,
		Variants: []SnapshotVariant{
			{Key: "A", Weight: 1},
			{Key: "B", Weight: 3, Payload: payload},
		},
		Rules: []SnapshotRule{{
			ID:           "r1",
			Kind:         RuleAttribute,
			Attribute:    "plan",
			Operator:     OpEq,
			Value:        "pro",
			ServeVariant: "B",
			// A serve percentage alongside a variant is ignored for
			// variant flags; the variant wins the precedence.
			ServePercentage: intp(0),
		}},
	}

	d, ok := EvaluateRules(h, snap, Context{"plan": StringValue("pro")}, "bob")
	require.True(t, ok)
	assert.True(t, d.Enabled)
	assert.Equal(t, "B", d.VariantKey())
	assert.Equal(t, ReasonRuleMatch, d.Reason)
	assert.JSONEq(t, string(payload), string(d.Payload))
}

func TestEvaluateRulesServeVariantIgnoredOnNonVariantFlag(t *testing.T) {
	h := bucket.NewHasher()
	snap := &FlagSnapshot{
		FlagKey: "checkout",
		Type:    FlagBoolean,
		Rules: []SnapshotRule{{
			ID:           "r1",
			Kind:         RuleAttribute,
			Attribute:    "plan",
			Operator:     OpEq,
			Value:        "pro",
			ServeVariant: "B",
			ServeEnabled: true,
		}},
	}

	d, ok := EvaluateRules(h, snap, Context{"plan": StringValue("pro")}, "bob")
	require.True(t, ok)
	assert.Nil(t, d.Variant)
	assert.True(t, d.Enabled)
	assert.Equal(t, ReasonRuleMatch, d.Reason)
}

func TestEvaluateRulesServePercentage(t *testing.T) {
	h := bucket.NewHasher()
	snap := &FlagSnapshot{
		FlagKey: "checkout",
		Type:    FlagBoolean,
		Rules: []SnapshotRule{{
			ID:              "r1",
			Kind:            RuleAttribute,
			Attribute:       "beta",
			Operator:        OpEq,
			Value:           "true",
			ServePercentage: intp(50),
		}},
	}

	ctx := Context{"beta": BoolValue(true)}

	// Rollout buckets for "checkout": alice is 6, carol is 95.
	d, ok := EvaluateRules(h, snap, ctx, "alice")
	require.True(t, ok)
	assert.True(t, d.Enabled)
	assert.Equal(t, Reason("rule_percentage_r1"), d.Reason)
	assert.Equal(t, "r1", d.RuleID)

	d, ok = EvaluateRules(h, snap, ctx, "carol")
	require.True(t, ok)
	assert.False(t, d.Enabled)
	assert.Equal(t, Reason("rule_percentage_r1"), d.Reason)
}

func TestEvaluateRulesUserID(t *testing.T) {
	h := bucket.NewHasher()
	snap := &FlagSnapshot{
		FlagKey: "checkout",
		Type:    FlagBoolean,
		Rules: []SnapshotRule{{
			ID:           "r1",
			Kind:         RuleUserID,
			UserIDs:      []string{"u1", "u2"},
			ServeEnabled: true,
		}},
	}

	d, ok := EvaluateRules(h, snap, Context{"user_id": StringValue("u2")}, "u2")
	require.True(t, ok)
	assert.True(t, d.Enabled)

	// Numeric user ids compare through their canonical string form.
	snap.Rules[0].UserIDs = []string{"42"}
	_, ok = EvaluateRules(h, snap, Context{"user_id": NumberValue(42)}, "42")
	assert.True(t, ok)

	// Only the user_id attribute participates, not id or anonymous_id.
	_, ok = EvaluateRules(h, snap, Context{"id": StringValue("42")}, "42")
	assert.False(t, ok)

	_, ok = EvaluateRules(h, snap, Context{}, "u1")
	assert.False(t, ok)
}

func TestEvaluateRulesSegmentRule(t *testing.T) {
	h := bucket.NewHasher()
	snap := &FlagSnapshot{
		FlagKey: "checkout",
		Type:    FlagSegment,
		Rules: []SnapshotRule{{
			ID:           "r1",
			Kind:         RuleSegment,
			SegmentKey:   "eu-pro",
			SegmentMatch: MatchAll,
			SegmentClauses: []SegmentClause{
				{Attribute: "region", Operator: OpEq, Value: "eu"},
				{Attribute: "plan", Operator: OpEq, Value: "pro"},
			},
			ServeEnabled: true,
		}},
	}

	d, ok := EvaluateRules(h, snap, Context{
		"region": StringValue("eu"),
		"plan":   StringValue("pro"),
	}, "alice")
	require.True(t, ok)
	assert.True(t, d.Enabled)
	assert.Equal(t, "r1", d.RuleID)

	_, ok = EvaluateRules(h, snap, Context{"region": StringValue("eu")}, "alice")
	assert.False(t, ok)
}

func intp(v int) *int { return &v }
