package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	base := 2 * time.Second
	limit := 5 * time.Minute

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 32 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(base, limit, tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Backoff(2*time.Second, 5*time.Minute, 10))
	assert.Equal(t, 5*time.Minute, Backoff(2*time.Second, 5*time.Minute, 100))
}

func TestBackoffBaseAboveCap(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(10*time.Second, time.Second, 0))
}
