package bucket

import (
	"crypto/sha256"
	"encoding/binary"
)

// BucketCount is the size of the bucket space. Buckets are integers in
// [0, BucketCount).
const BucketCount = 100

// variantSaltSuffix is appended to a flag key when bucketing for variant
// assignment, so that rollout inclusion and variant choice are decided by
// independent hashes.
const variantSaltSuffix = ":variant"

// Hasher derives deterministic buckets from (salt, subject) pairs. It is the
// only determinism primitive in the evaluation path: the same inputs yield
// the same bucket in every process, on every platform, forever.
type Hasher struct{}

// NewHasher creates a new hasher instance.
func NewHasher() *Hasher {
	return &Hasher{}
}

// Bucket maps (salt, subject) to an integer in [0, 100).
//
// The bucket is computed from SHA-256 over the byte sequence
// salt ":" subject; the leading 32 bits of the digest, read as an unsigned
// big-endian integer h, give floor(h / 2^32 * 100).
func (h *Hasher) Bucket(salt, subject string) int {
	sum := sha256.Sum256([]byte(salt + ":" + subject))
	lead := binary.BigEndian.Uint32(sum[:4])
	return int(uint64(lead) * BucketCount >> 32)
}

// VariantSalt returns the salt used for variant assignment of a flag. Keeping
// the derivation here means the assigner and any fixture generator agree on
// the only two salt forms in use: the flag key itself (rollout) and
// flagKey + ":variant" (variant choice).
func VariantSalt(flagKey string) string {
	return flagKey + variantSaltSuffix
}
