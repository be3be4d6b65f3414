package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tb := newTokenBucket(3, 10, func() time.Time { return now })

	// 突發：容量 3
	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "request %d", i)
	}
	assert.False(t, tb.Allow())

	// 100ms 補 1 個
	now = now.Add(100 * time.Millisecond)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	// 長時間閒置不超過容量
	now = now.Add(time.Hour)
	assert.InDelta(t, 3.0, tb.Tokens(), 0.001)
}

func TestTokenBucket_FractionalRefillAccumulates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tb := newTokenBucket(1, 10, func() time.Time { return now })

	assert.True(t, tb.Allow())

	// 兩次各 50ms，累加成 1 個令牌
	now = now.Add(50 * time.Millisecond)
	assert.False(t, tb.Allow())
	now = now.Add(50 * time.Millisecond)
	assert.True(t, tb.Allow())
}
