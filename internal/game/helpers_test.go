package game_test

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-arena-server/internal/config"
	"github.com/koopa0/system-design/14-arena-server/internal/game"
	"github.com/koopa0/system-design/14-arena-server/pkg/snowflake"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// testConfig 預設參數，但關閉隨機計分讓分數可預測
func testConfig() config.GameConfig {
	cfg := config.DefaultGame()
	cfg.ScoreChance = 0
	return cfg
}

// delivery 一次推送紀錄
type delivery struct {
	To         game.PlayerID   // SendTo 的對象
	RoomID     game.RoomID     // Broadcast 的房間
	Recipients []game.PlayerID // Broadcast 的收件人
	Event      game.Event
}

// recordingBroadcaster 記錄所有推送，併發安全
type recordingBroadcaster struct {
	mu  sync.Mutex
	log []delivery
}

func (b *recordingBroadcaster) SendTo(playerID game.PlayerID, ev game.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, delivery{To: playerID, Event: ev})
}

func (b *recordingBroadcaster) Broadcast(roomID game.RoomID, recipients []game.PlayerID, ev game.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, delivery{RoomID: roomID, Recipients: slices.Clone(recipients), Event: ev})
}

// Of 指定類型的推送
func (b *recordingBroadcaster) Of(t game.EventType) []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []delivery
	for _, d := range b.log {
		if d.Event.Type == t {
			out = append(out, d)
		}
	}
	return out
}

// Count 指定類型的推送次數
func (b *recordingBroadcaster) Count(t game.EventType) int { return len(b.Of(t)) }

// Last 指定類型的最後一次推送
func (b *recordingBroadcaster) Last(t game.EventType) (delivery, bool) {
	all := b.Of(t)
	if len(all) == 0 {
		return delivery{}, false
	}
	return all[len(all)-1], true
}

// mockBroadcaster testify mock 版本，用於驗證呼叫次數與參數
type mockBroadcaster struct {
	mock.Mock
}

func (m *mockBroadcaster) SendTo(playerID game.PlayerID, ev game.Event) {
	m.Called(playerID, ev)
}

func (m *mockBroadcaster) Broadcast(roomID game.RoomID, recipients []game.PlayerID, ev game.Event) {
	m.Called(roomID, recipients, ev)
}

// eventOf 比對事件類型
func eventOf(t game.EventType) any {
	return mock.MatchedBy(func(ev game.Event) bool { return ev.Type == t })
}

// collectingSink 收集對局結果
type collectingSink struct {
	mu      sync.Mutex
	results []game.MatchResult
}

func (s *collectingSink) RecordMatch(r game.MatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *collectingSink) Results() []game.MatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}

// env 一組以手動時鐘驅動的註冊表與 ticker
type env struct {
	clock    *game.ManualClock
	bc       *recordingBroadcaster
	sink     *collectingSink
	registry *game.Registry
	ticker   *game.Ticker
	cfg      config.GameConfig
}

func newEnv(t *testing.T, cfg config.GameConfig, opts ...game.Option) *env {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	e := &env{
		clock: game.NewManualClock(epoch),
		bc:    &recordingBroadcaster{},
		sink:  &collectingSink{},
		cfg:   cfg,
	}
	opts = append([]game.Option{game.WithClock(e.clock), game.WithSeed(42)}, opts...)
	e.registry = game.NewRegistry(cfg, node, e.bc, testLogger(), opts...)
	e.ticker = game.NewTicker(e.registry, e.sink, cfg.TickInterval, e.clock, testLogger())
	t.Cleanup(e.registry.Close)

	return e
}

// advance 以 tick 間隔推進時鐘 d，每一步呼叫一次 Step
func (e *env) advance(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; {
		step := min(e.cfg.TickInterval, d-elapsed)
		elapsed += step
		e.ticker.Step(e.clock.Advance(step))
	}
}

// join 以 name 當作 player id 加入
func (e *env) join(t *testing.T, name string) *game.Room {
	t.Helper()
	room, err := e.registry.Join(game.PlayerID(name), name)
	require.NoError(t, err)
	return room
}

func playerNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("player-%d", i+1)
	}
	return names
}
