package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 没有Redis连接时限流器必须放行，限流是保护手段而不是功能前提。
func TestAllowFailsOpenWithoutRedis(t *testing.T) {
	rl := NewLoginLimiter(1, time.Minute)
	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow(context.Background(), "bob"))
	}
}

func TestRemainingWithoutRedis(t *testing.T) {
	rl := NewAnonDetectLimiter(10, time.Hour)
	remaining, err := rl.Remaining(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}

func TestString(t *testing.T) {
	rl := NewAnonDetectLimiter(10, time.Hour)
	assert.Contains(t, rl.String(), "anon_detect:")
	assert.Contains(t, rl.String(), "limit=10")
}
