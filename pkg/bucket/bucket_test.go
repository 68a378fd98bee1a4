package bucket

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketKnownValues(t *testing.T) {
	// Values are fixed forever by the hashing scheme; a change here means
	// every deployed assignment would shuffle.
	tests := []struct {
		salt    string
		subject string
		want    int
	}{
		{"checkout", "alice", 6},
		{"checkout", "bob", 14},
		{"checkout", "carol", 95},
		{"checkout", "u1", 31},
		{"checkout", "u42", 96},
		{"checkout", "u43", 62},
		{"checkout:variant", "bob", 19},
		{"checkout:variant", "c", 83},
	}

	h := NewHasher()
	for _, tt := range tests {
		t.Run(tt.salt+"/"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Bucket(tt.salt, tt.subject))
		})
	}
}

func TestBucketDeterminism(t *testing.T) {
	h := NewHasher()
	for i := 0; i < 1000; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		first := h.Bucket("some_flag", subject)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, h.Bucket("some_flag", subject))
		}
	}
}

func TestBucketRange(t *testing.T) {
	h := NewHasher()
	for i := 0; i < 10000; i++ {
		b := h.Bucket("range_check", fmt.Sprintf("s%d", i))
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, BucketCount)
	}
}

// TestBucketUniformity checks that the empirical bucket distribution over a
// large subject sample stays within Kolmogorov-Smirnov distance 0.02 of
// uniform.
func TestBucketUniformity(t *testing.T) {
	const n = 100000

	h := NewHasher()
	counts := make([]int, BucketCount)
	for i := 0; i < n; i++ {
		counts[h.Bucket("uniformity_flag", fmt.Sprintf("user-%d", i))]++
	}

	var cum, maxDist float64
	for k := 0; k < BucketCount; k++ {
		cum += float64(counts[k]) / n
		theo := float64(k+1) / BucketCount
		dist := cum - theo
		if dist < 0 {
			dist = -dist
		}
		if dist > maxDist {
			maxDist = dist
		}
	}

	assert.Less(t, maxDist, 0.02, "KS distance from uniform too large")
}

func TestVariantSalt(t *testing.T) {
	assert.Equal(t, "checkout:variant", VariantSalt("checkout"))
	assert.Equal(t, "x:variant", VariantSalt("x"))
}

func TestBucketSaltAndSubjectAreDistinct(t *testing.T) {
	// The ':' separator means ("ab", "c") and ("a", "bc") hash different
	// byte sequences ("ab:c" vs "a:bc"); spot-check they diverge somewhere.
	h := NewHasher()
	same := true
	for i := 0; i < 100 && same; i++ {
		s := fmt.Sprintf("%d", i)
		if h.Bucket("ab"+s, "c") != h.Bucket("a"+s, "bc") {
			same = false
		}
	}
	assert.False(t, same)
}
