package record_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-arena-server/internal/game"
	"github.com/koopa0/system-design/14-arena-server/internal/record"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Save(ctx context.Context, result game.MatchResult) error {
	return m.Called(ctx, result).Error(0)
}

// blockingSink 直到 release 關閉才返回
type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	saved   []game.RoomID
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Save(ctx context.Context, result game.MatchResult) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved = append(b.saved, result.RoomID)
	return nil
}

func result(id string) game.MatchResult {
	return game.MatchResult{
		RoomID:     game.RoomID(id),
		StartedAt:  time.Unix(1000, 0),
		FinishedAt: time.Unix(1150, 0),
		Winner:     &game.ResultEntry{ID: "alice", Name: "Alice", Score: 3},
		Entries:    []game.ResultEntry{{ID: "alice", Name: "Alice", Score: 3}},
	}
}

// TestRecorder_FanOut 每筆結果寫入所有 sink，失敗不影響其他 sink
func TestRecorder_FanOut(t *testing.T) {
	ok := &mockSink{}
	broken := &mockSink{}
	ok.On("Save", mock.Anything, result("room_a")).Return(nil).Once()
	ok.On("Save", mock.Anything, result("room_b")).Return(nil).Once()
	broken.On("Save", mock.Anything, result("room_a")).Return(errors.New("connection refused")).Once()
	broken.On("Save", mock.Anything, result("room_b")).Return(nil).Once()

	rec := record.New([]record.Sink{ok, broken}, 8, time.Second, testLogger())
	rec.RecordMatch(result("room_a"))
	rec.RecordMatch(result("room_b"))
	rec.Close()

	ok.AssertExpectations(t)
	broken.AssertExpectations(t)

	stats := rec.Stats()
	assert.Equal(t, int64(1), stats.Recorded)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Zero(t, stats.Dropped)
}

// TestRecorder_NonBlocking 緩衝區滿時丟棄而不是阻塞
func TestRecorder_NonBlocking(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	rec := record.New([]record.Sink{sink}, 2, 5*time.Second, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 10 {
			rec.RecordMatch(result(string(rune('a' + i))))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordMatch blocked")
	}

	close(sink.release)
	rec.Close()

	stats := rec.Stats()
	assert.Equal(t, int64(10), stats.Recorded+stats.Dropped)
	assert.GreaterOrEqual(t, stats.Dropped, int64(7))
	assert.Zero(t, stats.Pending)
}

// TestRecorder_SinkTimeout 單一 sink 逾時
func TestRecorder_SinkTimeout(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	rec := record.New([]record.Sink{sink}, 1, 20*time.Millisecond, testLogger())

	rec.RecordMatch(result("room_slow"))

	require.Eventually(t, func() bool { return rec.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	rec.Close()

	// 關閉後的結果直接丟棄
	rec.RecordMatch(result("room_late"))
	assert.Equal(t, int64(1), rec.Stats().Dropped)
	rec.Close()
}
