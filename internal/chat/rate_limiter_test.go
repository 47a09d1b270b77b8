package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_WindowResets(t *testing.T) {
	req := require.New(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		req.True(rl.Allow(1))
	}
	req.False(rl.Allow(1))
	req.True(rl.Allow(2), "limits are per user")

	now = now.Add(time.Minute)
	req.True(rl.Allow(1))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	for i := 0; i < 1000; i++ {
		require.True(t, rl.Allow(1))
	}
	require.Zero(t, rl.tracked())
}

func TestRateLimiter_Cleanup(t *testing.T) {
	req := require.New(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow(1)
	now = now.Add(3 * time.Minute)
	rl.Allow(2)
	now = now.Add(3 * time.Minute)
	rl.Cleanup()

	req.Equal(1, rl.tracked())
}
