package game

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Ticker 全域的時間驅動器
//
// 系統設計考量：
//   - 一個 goroutine 驅動所有房間，沒有每房間的計時器，回收後不會殘留任何資源
//   - 每次掃描先複製房間列表，在註冊表鎖之外呼叫 Room.Tick
//   - 單一房間 panic 只會跳過該房間，不影響其他房間與 ticker 本身
type Ticker struct {
	registry *Registry
	sink     ResultSink
	interval time.Duration
	clock    Clock
	logger   *slog.Logger

	mu   sync.Mutex
	last time.Time // 上次 Step 的時間，用來計算 dt

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StepStats 單次掃描的統計
type StepStats struct {
	Rooms     int
	Reclaimed int
	Finished  int
	Panics    int
}

// NewTicker 創建 ticker
func NewTicker(registry *Registry, sink ResultSink, interval time.Duration, clock Clock, logger *slog.Logger) *Ticker {
	if sink == nil {
		sink = NopSink{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ticker{
		registry: registry,
		sink:     sink,
		interval: interval,
		clock:    clock,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start 啟動背景掃描
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.loop()

	t.logger.Info("ticker 已啟動", "interval", t.interval)
}

func (t *Ticker) loop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Step(t.clock.Now())
		case <-t.stopCh:
			return
		}
	}
}

// Stop 停止掃描並等待目前這輪完成，可重複呼叫
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

// Step 以 now 推進所有房間一次
//
// dt 為距上次 Step 的時間，限制在 [0, 4×interval]，
// 避免程序暫停後機器人一次跳過整個場地。
func (t *Ticker) Step(now time.Time) StepStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	dt := t.interval
	if !t.last.IsZero() {
		dt = min(max(now.Sub(t.last), 0), 4*t.interval)
	}
	t.last = now

	var stats StepStats
	for _, room := range t.registry.Rooms() {
		stats.Rooms++

		res, err := t.tickRoom(room, now, dt)
		if err != nil {
			stats.Panics++
			t.logger.Error("房間 tick 失敗",
				"room_id", room.ID(),
				"error", err)
			continue
		}

		if res.Result != nil {
			stats.Finished++
			t.sink.RecordMatch(*res.Result)
		}
		if res.Reclaim && t.registry.Reclaim(room.ID()) {
			stats.Reclaimed++
		}
	}

	return stats
}

// tickRoom 呼叫 Room.Tick 並把 panic 轉成錯誤
func (t *Ticker) tickRoom(room *Room, now time.Time, dt time.Duration) (res TickResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return room.Tick(now, dt), nil
}
