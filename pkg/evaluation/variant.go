package evaluation

import "github.com/switchyard-io/switchyard/pkg/bucket"

// AssignVariant deterministically picks a variant for a subject by walking
// cumulative weight thresholds over the variant bucket space. The variant
// bucket is computed against a salt derived from the flag key, so variant
// placement is independent of the flag's rollout bucket.
//
// With no variants the default (possibly nil) is returned. With all weights
// zero the first variant wins outright.
func AssignVariant(h *bucket.Hasher, flagKey string, variants []SnapshotVariant, subject string, def *SnapshotVariant) *SnapshotVariant {
	if len(variants) == 0 {
		return def
	}

	b := h.Bucket(bucket.VariantSalt(flagKey), subject)

	total := 0
	for _, v := range variants {
		total += v.Weight
	}
	if total == 0 {
		return &variants[0]
	}

	cum := 0
	for i := range variants {
		cum += variants[i].Weight
		threshold := float64(bucket.BucketCount) * float64(cum) / float64(total)
		if float64(b) < threshold {
			return &variants[i]
		}
	}
	// Rounding never actually leaves the walk unfinished, but the last
	// variant is the defined owner of any residue.
	return &variants[len(variants)-1]
}
