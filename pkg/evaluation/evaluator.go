package evaluation

import "github.com/switchyard-io/switchyard/pkg/bucket"

// Evaluator turns (snapshot, context) pairs into decisions. It is stateless
// and safe for concurrent use; all determinism comes from the hash bucketer.
type Evaluator struct {
	hasher *bucket.Hasher
}

// NewEvaluator returns an Evaluator backed by the standard bucketer.
func NewEvaluator() *Evaluator {
	return &Evaluator{hasher: bucket.NewHasher()}
}

// Evaluate produces the decision for one flag snapshot in one environment.
//
// A nil snapshot, or one built for a different environment, yields a
// disabled decision with reason flag_not_found rather than an error; decision
// paths degrade, they do not fail. A disabled flag short-circuits before any
// rule runs. Otherwise the targeting rules get first claim, and only when
// none match does the flag's type strategy decide.
func (e *Evaluator) Evaluate(snap *FlagSnapshot, envKey string, ctx Context) Decision {
	if snap == nil || snap.EnvKey != envKey {
		return Decision{Enabled: false, Reason: ReasonFlagNotFound}
	}

	d := e.evaluate(snap, ctx)
	d.Key = snap.FlagKey
	return d
}

func (e *Evaluator) evaluate(snap *FlagSnapshot, ctx Context) Decision {
	if !snap.Enabled {
		return Decision{Enabled: false, Reason: ReasonFlagDisabled}
	}

	subject, generated := ctx.ResolveSubject()

	if d, ok := EvaluateRules(e.hasher, snap, ctx, subject); ok {
		d.SubjectID = subject
		d.SubjectGenerated = generated
		return d
	}

	d := Decision{SubjectID: subject, SubjectGenerated: generated}

	switch snap.Type {
	case FlagBoolean:
		d.Enabled = true
		d.Reason = ReasonDefault

	case FlagPercentage:
		b := e.hasher.Bucket(snap.FlagKey, subject)
		d.Enabled = b < snap.Percentage
		d.Reason = ReasonPercentageRollout

	case FlagVariant:
		v := AssignVariant(e.hasher, snap.FlagKey, snap.Variants, subject, snap.Variant(snap.DefaultVariant))
		d.Enabled = true
		d.Reason = ReasonVariantAssignment
		if v != nil {
			key := v.Key
			d.Variant = &key
			d.Payload = v.Payload
		}

	case FlagSegment:
		// Segment flags only turn on through a matching segment rule.
		d.Enabled = false
		d.Reason = ReasonNoSegmentMatch

	default:
		d.Enabled = false
		d.Reason = ReasonError
	}

	return d
}
