package evaluation

import "encoding/json"

// FlagType selects the evaluation strategy applied after targeting rules.
type FlagType string

const (
	FlagBoolean    FlagType = "boolean"
	FlagPercentage FlagType = "percentage"
	FlagVariant    FlagType = "variant"
	FlagSegment    FlagType = "segment"
)

// ValidFlagType reports whether t names a known flag type.
func ValidFlagType(t FlagType) bool {
	switch t {
	case FlagBoolean, FlagPercentage, FlagVariant, FlagSegment:
		return true
	}
	return false
}

// RuleKind discriminates the targeting rule variant.
type RuleKind string

const (
	RuleSegment   RuleKind = "segment"
	RuleAttribute RuleKind = "attribute"
	RuleUserID    RuleKind = "user_id"
)

// MatchType is a segment's clause combinator.
type MatchType string

const (
	MatchAll MatchType = "all"
	MatchAny MatchType = "any"
)

// SegmentClause is one attribute condition inside a segment definition.
type SegmentClause struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Value     string   `json:"value"`
}

// SnapshotRule is one targeting rule, ordered by position within the
// snapshot. Exactly one of the kind-specific field groups is populated.
type SnapshotRule struct {
	ID   string   `json:"id"`
	Kind RuleKind `json:"kind"`

	// Attribute rules.
	Attribute string   `json:"attribute,omitempty"`
	Operator  Operator `json:"operator,omitempty"`
	Value     string   `json:"value,omitempty"`

	// UserID rules.
	UserIDs []string `json:"user_ids,omitempty"`

	// Segment rules carry the segment definition resolved at snapshot build
	// time, so evaluation never reaches back to the store.
	SegmentKey     string          `json:"segment_key,omitempty"`
	SegmentMatch   MatchType       `json:"segment_match,omitempty"`
	SegmentClauses []SegmentClause `json:"segment_clauses,omitempty"`

	// Serve outcome on match. ServeVariant and ServePercentage take
	// precedence over ServeEnabled, in that order.
	ServeEnabled    bool   `json:"serve_enabled"`
	ServeVariant    string `json:"serve_variant,omitempty"`
	ServePercentage *int   `json:"serve_percentage,omitempty"`
}

// SnapshotVariant is one weighted arm of a variant flag.
type SnapshotVariant struct {
	Key     string          `json:"key"`
	Weight  int             `json:"weight"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// FlagSnapshot is the self-contained evaluation view of one flag in one
// environment. It embeds everything a decision needs, including resolved
// segment definitions, so that evaluating against a snapshot is a pure
// function of the snapshot and the context.
type FlagSnapshot struct {
	ProjectKey string   `json:"project_key"`
	FlagKey    string   `json:"flag_key"`
	EnvKey     string   `json:"env_key"`
	Type       FlagType `json:"type"`

	Enabled    bool `json:"enabled"`
	Percentage int  `json:"percentage"`

	DefaultVariant string            `json:"default_variant,omitempty"`
	Variants       []SnapshotVariant `json:"variants,omitempty"`
	Rules          []SnapshotRule    `json:"rules,omitempty"`
}

// Variant looks up a variant by key; nil when absent or key is empty.
func (s *FlagSnapshot) Variant(key string) *SnapshotVariant {
	if key == "" {
		return nil
	}
	for i := range s.Variants {
		if s.Variants[i].Key == key {
			return &s.Variants[i]
		}
	}
	return nil
}
