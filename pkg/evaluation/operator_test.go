package evaluation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchStringOperators(t *testing.T) {
	tests := []struct {
		op      Operator
		attr    Value
		literal string
		want    bool
	}{
		{OpEq, StringValue("pro"), "pro", true},
		{OpEq, StringValue("pro"), "Pro", false},
		{OpEq, NumberValue(42), "42", true},
		{OpEq, BoolValue(true), "true", true},
		{OpNeq, StringValue("pro"), "free", true},
		{OpNeq, StringValue("pro"), "pro", false},
		{OpContains, StringValue("hello world"), "lo wo", true},
		{OpContains, StringValue("hello"), "z", false},
		{OpNotContains, StringValue("hello"), "z", true},
		{OpNotContains, StringValue("hello"), "ell", false},
		{OpStartsWith, StringValue("checkout-v2"), "checkout", true},
		{OpStartsWith, StringValue("checkout-v2"), "v2", false},
		{OpEndsWith, StringValue("checkout-v2"), "v2", true},
		{OpEndsWith, StringValue("checkout-v2"), "checkout", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s_%s", tt.op, tt.attr.String(), tt.literal), func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.op, tt.attr, true, tt.literal))
		})
	}
}

func TestMatchNumericOperators(t *testing.T) {
	tests := []struct {
		op      Operator
		attr    Value
		literal string
		want    bool
	}{
		{OpGt, NumberValue(10), "5", true},
		{OpGt, NumberValue(5), "5", false},
		{OpGte, NumberValue(5), "5", true},
		{OpGte, NumberValue(4), "5", false},
		{OpLt, NumberValue(4), "5", true},
		{OpLt, NumberValue(5), "5", false},
		{OpLte, NumberValue(5), "5", true},
		{OpLte, NumberValue(6), "5", false},
		// String attributes coerce to numbers when they parse.
		{OpGt, StringValue("10"), "5", true},
		{OpGt, StringValue("ten"), "5", false},
		// Non-numeric literals fail closed.
		{OpLt, NumberValue(1), "five", false},
		// Bools never coerce to numbers.
		{OpGt, BoolValue(true), "0", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s_%s", tt.op, tt.attr.String(), tt.literal), func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.op, tt.attr, true, tt.literal))
		})
	}
}

func TestMatchListOperators(t *testing.T) {
	assert.True(t, Match(OpIn, StringValue("de"), true, "de,fr,it"))
	assert.True(t, Match(OpIn, StringValue("fr"), true, "de, fr , it"))
	assert.False(t, Match(OpIn, StringValue("us"), true, "de,fr,it"))
	assert.True(t, Match(OpNotIn, StringValue("us"), true, "de,fr,it"))
	assert.False(t, Match(OpNotIn, StringValue("de"), true, "de,fr,it"))

	// Numbers compare through their canonical string form.
	assert.True(t, Match(OpIn, NumberValue(2), true, "1,2,3"))
}

func TestMatchRegex(t *testing.T) {
	assert.True(t, Match(OpRegex, StringValue("user-123"), true, `^user-\d+$`))
	assert.False(t, Match(OpRegex, StringValue("user-abc"), true, `^user-\d+$`))
	// Unanchored patterns match anywhere.
	assert.True(t, Match(OpRegex, StringValue("xx-user-123"), true, `user-\d+`))
	// Invalid patterns fail closed instead of erroring.
	assert.False(t, Match(OpRegex, StringValue("anything"), true, `(`))
}

func TestMatchAbsentAttributeAlwaysFalse(t *testing.T) {
	// Negated operators are not exempt: an absent attribute matches nothing.
	for _, op := range Operators {
		assert.False(t, Match(op, Value{}, false, "x"), "operator %s", op)
	}
}

func TestMatchUnknownOperator(t *testing.T) {
	assert.False(t, Match(Operator("matches"), StringValue("x"), true, "x"))
}

func TestValidOperator(t *testing.T) {
	for _, op := range Operators {
		assert.True(t, ValidOperator(op), "operator %s", op)
	}
	assert.False(t, ValidOperator(Operator("eq ")))
	assert.False(t, ValidOperator(Operator("")))
}
