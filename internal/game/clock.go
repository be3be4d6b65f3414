package game

import (
	"sync"
	"time"
)

// Clock 時間來源
//
// 所有時間驅動的轉換（倒數、對局時長、回收）都只讀取 Clock，
// 測試注入 ManualClock 後可以精確推進時間，不需要真實 sleep。
type Clock interface {
	Now() time.Time
}

// SystemClock 真實時鐘
type SystemClock struct{}

// Now 返回目前時間
func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock 手動推進的時鐘，併發安全
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock 建立停在 start 的時鐘
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now 返回目前時間
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推進 d 並返回新時間
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
