// Package record 把結束的對局交給外部儲存
//
// 房間與 ticker 只呼叫 RecordMatch（立即返回），實際寫入由背景 worker 完成。
// 任何後端失敗都只記錄日誌，不會影響遊戲。
package record

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koopa0/system-design/14-arena-server/internal/game"
)

// Sink 一個結果目的地
type Sink interface {
	Name() string
	Save(ctx context.Context, result game.MatchResult) error
}

// Recorder 非同步的結果扇出器，實作 game.ResultSink
//
// 系統設計考量：
//
//  1. 為什麼非同步？
//     - RecordMatch 在 ticker goroutine 上被呼叫
//     - 同步寫入 PostgreSQL/Redis/NATS 會讓所有房間的 tick 延遲
//
//  2. 緩衝區滿了怎麼辦？
//     - 丟棄並計數，寧可少一筆戰績也不能卡住 ticker
//
//  3. 每個 sink 獨立逾時，一個後端緩慢不會拖住其他後端太久
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	buffer chan game.MatchResult
	closed bool
	wg     sync.WaitGroup

	recorded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// Stats 記錄器統計
type Stats struct {
	Recorded int64 `json:"recorded"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
	Pending  int   `json:"pending"`
}

// New 建立記錄器並啟動 worker
func New(sinks []Sink, buffer int, timeout time.Duration, logger *slog.Logger) *Recorder {
	r := &Recorder{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
		buffer:  make(chan game.MatchResult, buffer),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// RecordMatch 排入一筆結果，不阻塞
func (r *Recorder) RecordMatch(result game.MatchResult) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.buffer <- result:
	default:
		r.dropped.Add(1)
		r.logger.Warn("戰績緩衝區已滿，丟棄結果", "room_id", result.RoomID)
	}
}

// worker 依序把每筆結果寫入所有 sink
func (r *Recorder) worker() {
	defer r.wg.Done()

	for result := range r.buffer {
		r.save(result)
	}
}

func (r *Recorder) save(result game.MatchResult) {
	ok := true
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := sink.Save(ctx, result)
		cancel()

		if err != nil {
			ok = false
			r.logger.Error("寫入戰績失敗",
				"sink", sink.Name(),
				"room_id", result.RoomID,
				"error", err)
		}
	}

	if ok {
		r.recorded.Add(1)
	} else {
		r.failed.Add(1)
	}
}

// Stats 返回統計
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Failed:   r.failed.Load(),
		Dropped:  r.dropped.Load(),
		Pending:  len(r.buffer),
	}
}

// Close 停止接收並寫完緩衝區中的結果，可重複呼叫
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.buffer)
	}
	r.mu.Unlock()

	r.wg.Wait()
}
