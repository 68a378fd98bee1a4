package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchSegmentAll(t *testing.T) {
	clauses := []SegmentClause{
		{Attribute: "country", Operator: OpEq, Value: "DE"},
		{Attribute: "plan", Operator: OpIn, Value: "pro,enterprise"},
	}

	ctx := Context{"country": StringValue("DE"), "plan": StringValue("pro")}
	assert.True(t, MatchSegment(MatchAll, clauses, ctx))

	ctx["plan"] = StringValue("free")
	assert.False(t, MatchSegment(MatchAll, clauses, ctx))

	// A missing attribute fails its clause, and with it the conjunction.
	delete(ctx, "plan")
	assert.False(t, MatchSegment(MatchAll, clauses, ctx))
}

func TestMatchSegmentAny(t *testing.T) {
	clauses := []SegmentClause{
		{Attribute: "country", Operator: OpEq, Value: "DE"},
		{Attribute: "beta", Operator: OpEq, Value: "true"},
	}

	assert.True(t, MatchSegment(MatchAny, clauses, Context{"beta": BoolValue(true)}))
	assert.True(t, MatchSegment(MatchAny, clauses, Context{"country": StringValue("DE")}))
	assert.False(t, MatchSegment(MatchAny, clauses, Context{"country": StringValue("FR")}))
	assert.False(t, MatchSegment(MatchAny, clauses, Context{}))
}

func TestMatchSegmentEmptyClausesNeverMatch(t *testing.T) {
	ctx := Context{"country": StringValue("DE")}
	assert.False(t, MatchSegment(MatchAll, nil, ctx))
	assert.False(t, MatchSegment(MatchAny, nil, ctx))
}
