package voucher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiredAtBoundary(t *testing.T) {
	deadline := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	v := Voucher{Status: StatusActive, ExpiresAt: deadline}

	assert.False(t, expiredAt(v, deadline.Add(-time.Second)))
	// The deadline itself is still valid; only a later clock expires.
	assert.False(t, expiredAt(v, deadline))
	assert.True(t, expiredAt(v, deadline.Add(time.Nanosecond)))
}

func TestExpiredAtHonorsSweptStatus(t *testing.T) {
	deadline := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	v := Voucher{Status: StatusExpired, ExpiresAt: deadline}

	// A swept row stays expired even if the clock reads earlier.
	assert.True(t, expiredAt(v, deadline.Add(-time.Hour)))
}
