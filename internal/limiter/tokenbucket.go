// Package limiter 限制單一連線的請求頻率
//
// 客戶端每幀都可能送出移動請求，惡意或異常的客戶端會以極高頻率灌入，
// 每個請求都要取得房間鎖，會拖慢同房其他玩家與 ticker。
// 每條連線持有一個令牌桶，超出的請求在進入房間前就被丟棄。
package limiter

import (
	"sync"
	"time"
)

// TokenBucket 令牌桶
//
// 演算法：
//  1. 固定容量的桶，以固定速率填充令牌
//  2. 請求到達時嘗試取出一個令牌
//  3. 有令牌則允許，無令牌則拒絕
//
// 容量決定可容忍的突發（例如連續快速轉向），速率決定長期平均。
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // 每秒填充數
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket 建立令牌桶，初始為滿
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(refillRate),
		lastRefill: now(),
		now:        now,
	}
}

// Allow 嘗試取出一個令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	if elapsed := now.Sub(tb.lastRefill); elapsed > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+elapsed.Seconds()*tb.refillRate)
		tb.lastRefill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Tokens 返回當前令牌數（監控用）
func (tb *TokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.tokens
}
