package evaluation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-io/switchyard/pkg/bucket"
)

func TestAssignVariantKnownSubjects(t *testing.T) {
	h := bucket.NewHasher()
	variants := []SnapshotVariant{
		{Key: "A", Weight: 1},
		{Key: "B", Weight: 3},
	}

	// Variant buckets for flag "checkout": bob lands at 19, c at 83. The
	// cumulative thresholds for weights 1:3 are 25 and 100.
	v := AssignVariant(h, "checkout", variants, "bob", nil)
	require.NotNil(t, v)
	assert.Equal(t, "A", v.Key)

	v = AssignVariant(h, "checkout", variants, "c", nil)
	require.NotNil(t, v)
	assert.Equal(t, "B", v.Key)
}

func TestAssignVariantDeterministic(t *testing.T) {
	h := bucket.NewHasher()
	variants := []SnapshotVariant{
		{Key: "A", Weight: 2},
		{Key: "B", Weight: 5},
		{Key: "C", Weight: 3},
	}

	for i := 0; i < 50; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		first := AssignVariant(h, "exp", variants, subject, nil)
		require.NotNil(t, first)
		for j := 0; j < 5; j++ {
			again := AssignVariant(h, "exp", variants, subject, nil)
			require.NotNil(t, again)
			assert.Equal(t, first.Key, again.Key, "subject %s flapped", subject)
		}
	}
}

func TestAssignVariantRespectsWeights(t *testing.T) {
	h := bucket.NewHasher()
	variants := []SnapshotVariant{
		{Key: "A", Weight: 1},
		{Key: "B", Weight: 3},
	}

	const n = 40000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		v := AssignVariant(h, "split", variants, fmt.Sprintf("user-%d", i), nil)
		require.NotNil(t, v)
		counts[v.Key]++
	}

	// Expect roughly 25% / 75% with a small tolerance.
	a := float64(counts["A"]) / n
	assert.InDelta(t, 0.25, a, 0.02)
	assert.InDelta(t, 0.75, float64(counts["B"])/n, 0.02)
}

func TestAssignVariantZeroTotalWeight(t *testing.T) {
	h := bucket.NewHasher()
	variants := []SnapshotVariant{
		{Key: "A", Weight: 0},
		{Key: "B", Weight: 0},
	}

	for _, subject := range []string{"alice", "bob", "carol"} {
		v := AssignVariant(h, "checkout", variants, subject, nil)
		require.NotNil(t, v)
		assert.Equal(t, "A", v.Key)
	}
}

func TestAssignVariantNoVariants(t *testing.T) {
	h := bucket.NewHasher()

	assert.Nil(t, AssignVariant(h, "checkout", nil, "alice", nil))

	def := &SnapshotVariant{Key: "control"}
	v := AssignVariant(h, "checkout", nil, "alice", def)
	require.NotNil(t, v)
	assert.Equal(t, "control", v.Key)
}

func TestAssignVariantSingleVariantTakesAll(t *testing.T) {
	h := bucket.NewHasher()
	variants := []SnapshotVariant{{Key: "only", Weight: 7}}

	for i := 0; i < 100; i++ {
		v := AssignVariant(h, "solo", variants, fmt.Sprintf("s-%d", i), nil)
		require.NotNil(t, v)
		assert.Equal(t, "only", v.Key)
	}
}

// Growing one variant's share must only pull subjects into it, never push
// its existing subjects out; the cumulative walk keeps assignments stable
// for every bucket that stays inside its old interval.
func TestAssignVariantReweightMovesOneWay(t *testing.T) {
	h := bucket.NewHasher()
	before := []SnapshotVariant{
		{Key: "A", Weight: 1},
		{Key: "B", Weight: 3},
	}
	after := []SnapshotVariant{
		{Key: "A", Weight: 2},
		{Key: "B", Weight: 2},
	}

	moved := 0
	for i := 0; i < 5000; i++ {
		subject := fmt.Sprintf("user-%d", i)
		was := AssignVariant(h, "grow", before, subject, nil)
		now := AssignVariant(h, "grow", after, subject, nil)
		require.NotNil(t, was)
		require.NotNil(t, now)

		if was.Key == "A" {
			assert.Equal(t, "A", now.Key, "subject %s left the growing variant", subject)
		}
		if was.Key != now.Key {
			moved++
		}
	}
	assert.Greater(t, moved, 0, "expected some subjects to move into A")
}
