package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
)

func TestValidateKey(t *testing.T) {
	valid := []string{"checkout", "new_checkout", "a", "flag2"}
	for _, key := range valid {
		assert.NoError(t, validateKey("flag key", key), key)
	}

	invalid := []string{"", "Checkout", "2flag", "new-checkout", "flag key", "_x"}
	for _, key := range invalid {
		assert.ErrorIs(t, validateKey("flag key", key), repository.ErrInvalidInput, key)
	}
}

func TestValidatePercentage(t *testing.T) {
	assert.NoError(t, validatePercentage("percentage", 0))
	assert.NoError(t, validatePercentage("percentage", 100))
	assert.ErrorIs(t, validatePercentage("percentage", -1), repository.ErrInvalidInput)
	assert.ErrorIs(t, validatePercentage("percentage", 101), repository.ErrInvalidInput)
}

func TestValidateVariants(t *testing.T) {
	assert.NoError(t, validateVariants([]repository.VariantParams{
		{Key: "control", Weight: 50},
		{Key: "treatment", Weight: 50},
	}))

	assert.ErrorIs(t, validateVariants([]repository.VariantParams{
		{Key: "control"}, {Key: "control"},
	}), repository.ErrInvalidInput, "duplicate keys")

	assert.ErrorIs(t, validateVariants([]repository.VariantParams{
		{Key: "control", Weight: -1},
	}), repository.ErrInvalidInput, "negative weight")

	assert.ErrorIs(t, validateVariants([]repository.VariantParams{
		{Key: "Control"},
	}), repository.ErrInvalidInput, "malformed key")
}

func TestValidateRules(t *testing.T) {
	segmentID := uuid.New()
	pct := 50

	assert.NoError(t, validateRules([]repository.RuleParams{
		{RuleType: "segment", SegmentID: &segmentID, ServeEnabled: true},
		{RuleType: "attribute", Attribute: "country", Operator: "eq", Value: "DE", ServeEnabled: true},
		{RuleType: "user_id", UserIDs: []string{"alice"}, ServeEnabled: true, ServePercentage: &pct},
	}))

	assert.ErrorIs(t, validateRules([]repository.RuleParams{
		{RuleType: "segment"},
	}), repository.ErrInvalidInput, "segment rule without segment")

	assert.ErrorIs(t, validateRules([]repository.RuleParams{
		{RuleType: "attribute", Attribute: "country", Operator: "resembles"},
	}), repository.ErrInvalidInput, "unknown operator")

	assert.ErrorIs(t, validateRules([]repository.RuleParams{
		{RuleType: "user_id"},
	}), repository.ErrInvalidInput, "empty user list")

	assert.ErrorIs(t, validateRules([]repository.RuleParams{
		{RuleType: "geo"},
	}), repository.ErrInvalidInput, "unknown rule type")

	bad := 101
	assert.ErrorIs(t, validateRules([]repository.RuleParams{
		{RuleType: "user_id", UserIDs: []string{"alice"}, ServePercentage: &bad},
	}), repository.ErrInvalidInput, "serve percentage out of range")
}

func TestValidateSegmentRules(t *testing.T) {
	assert.NoError(t, validateSegmentRules("all", []repository.SegmentRuleParams{
		{Attribute: "plan", Operator: "eq", Value: "pro"},
	}))
	assert.NoError(t, validateSegmentRules("any", nil))

	assert.ErrorIs(t, validateSegmentRules("most", nil), repository.ErrInvalidInput)
	assert.ErrorIs(t, validateSegmentRules("all", []repository.SegmentRuleParams{
		{Operator: "eq"},
	}), repository.ErrInvalidInput)
	assert.ErrorIs(t, validateSegmentRules("all", []repository.SegmentRuleParams{
		{Attribute: "plan", Operator: "resembles"},
	}), repository.ErrInvalidInput)
}
