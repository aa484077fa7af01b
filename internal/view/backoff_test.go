package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	max := 30 * time.Second

	assert.Equal(t, base, backoff(base, max, 0))
	assert.Equal(t, 4*time.Second, backoff(base, max, 1))
	assert.Equal(t, 16*time.Second, backoff(base, max, 3))
	assert.Equal(t, max, backoff(base, max, 4))
	assert.Equal(t, max, backoff(base, max, 10))
	assert.Equal(t, max, backoff(base, max, 64))
	assert.Equal(t, base, backoff(base, max, -1))
}

// A production-sized base shifted by a long failure streak must saturate at
// the cap instead of wrapping negative and firing the next poll immediately.
func TestBackoffLongStreakNeverBelowBase(t *testing.T) {
	base := 10 * time.Second
	max := 120 * time.Second

	for retries := 0; retries <= 70; retries++ {
		d := backoff(base, max, retries)
		assert.GreaterOrEqual(t, d, base, "retries=%d", retries)
		assert.LessOrEqual(t, d, max, "retries=%d", retries)
	}
	assert.Equal(t, max, backoff(base, max, 30))
}
