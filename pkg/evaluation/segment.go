package evaluation

// MatchSegment evaluates a segment's clauses against a context. "all"
// conjoins the clauses, "any" disjoins them. A segment with no clauses
// matches nothing, under either combinator.
func MatchSegment(match MatchType, clauses []SegmentClause, ctx Context) bool {
	if len(clauses) == 0 {
		return false
	}

	switch match {
	case MatchAny:
		for _, c := range clauses {
			if matchClause(c, ctx) {
				return true
			}
		}
		return false
	default:
		// "all" is the default combinator.
		for _, c := range clauses {
			if !matchClause(c, ctx) {
				return false
			}
		}
		return true
	}
}

func matchClause(c SegmentClause, ctx Context) bool {
	attr, present := ctx[c.Attribute]
	return Match(c.Operator, attr, present, c.Value)
}
