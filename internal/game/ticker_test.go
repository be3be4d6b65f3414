package game_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-arena-server/internal/config"
	"github.com/koopa0/system-design/14-arena-server/internal/game"
	"github.com/koopa0/system-design/14-arena-server/pkg/snowflake"
)

// panickingBroadcaster 對指定房間的 game_state 觸發 panic
type panickingBroadcaster struct {
	recordingBroadcaster
	target game.RoomID
}

func (b *panickingBroadcaster) Broadcast(roomID game.RoomID, recipients []game.PlayerID, ev game.Event) {
	if roomID == b.target && ev.Type == game.EventGameState {
		panic("broken connection layer")
	}
	b.recordingBroadcaster.Broadcast(roomID, recipients, ev)
}

// TestTicker_RecoversPanic 單一房間 panic 不影響其他房間
func TestTicker_RecoversPanic(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 1

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clock := game.NewManualClock(epoch)
	bc := &panickingBroadcaster{}
	registry := game.NewRegistry(cfg, node, bc, testLogger(), game.WithClock(clock), game.WithSeed(1))
	defer registry.Close()
	ticker := game.NewTicker(registry, nil, cfg.TickInterval, clock, testLogger())

	bad, err := registry.Join("alice", "alice")
	require.NoError(t, err)
	good, err := registry.Join("bob", "bob")
	require.NoError(t, err)
	bc.target = bad.ID()

	stats := ticker.Step(clock.Advance(cfg.BroadcastInterval))
	assert.Equal(t, 2, stats.Rooms)
	assert.Equal(t, 1, stats.Panics)

	last, ok := bc.Last(game.EventGameState)
	require.True(t, ok)
	assert.Equal(t, good.ID(), last.RoomID)

	// panic 後房間鎖已釋放
	assert.Equal(t, game.StatusPlaying, bad.Status())
	require.NoError(t, registry.Move("alice", 1, 0))
}

// TestTicker_ReclaimsAndRecords 結束的對局交給 sink，寬限期後回收
func TestTicker_ReclaimsAndRecords(t *testing.T) {
	e := newEnv(t, testConfig())
	room := e.join(t, "alice")

	e.advance(e.cfg.CountdownDuration)
	e.advance(e.cfg.GameDuration)
	require.Equal(t, game.StatusFinished, room.Status())
	require.Len(t, e.sink.Results(), 1)
	assert.Equal(t, room.ID(), e.sink.Results()[0].RoomID)

	e.advance(e.cfg.ReclaimDelay)
	_, ok := e.registry.Room(room.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, e.bc.Count(game.EventReturnToLobby))

	_, err := e.registry.RoomOf("alice")
	assert.Error(t, err)
	assert.Len(t, e.sink.Results(), 1)
}

// TestTicker_ReclaimsIdleWaitingRoom 沒人加入的空房過期回收
func TestTicker_ReclaimsIdleWaitingRoom(t *testing.T) {
	e := newEnv(t, testConfig())
	room, err := e.registry.FindOrCreate()
	require.NoError(t, err)

	e.advance(e.cfg.ReclaimDelay - e.cfg.TickInterval)
	_, ok := e.registry.Room(room.ID())
	assert.True(t, ok)

	e.advance(e.cfg.TickInterval)
	_, ok = e.registry.Room(room.ID())
	assert.False(t, ok)
}

// TestTicker_ClampsDelta 長時間停頓後機器人不會瞬移
func TestTicker_ClampsDelta(t *testing.T) {
	cfg := testConfig()
	cfg.BotTurnChance = 0
	e := newEnv(t, cfg)
	room := e.join(t, "alice")
	e.advance(cfg.CountdownDuration)
	before := room.Snapshot().Bots
	require.Len(t, before, 5)

	e.ticker.Step(e.clock.Advance(10 * time.Second))

	limit := cfg.BotSpeed*(4*cfg.TickInterval).Seconds() + 1e-9
	for id, b := range room.Snapshot().Bots {
		d := math.Hypot(b.X-before[id].X, b.Y-before[id].Y)
		assert.LessOrEqual(t, d, limit, "bot %s", id)
	}
}

// TestTicker_StartStop 真實時鐘下的背景掃描
func TestTicker_StartStop(t *testing.T) {
	cfg := config.DefaultGame()
	cfg.ReclaimDelay = 20 * time.Millisecond

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	registry := game.NewRegistry(cfg, node, nil, testLogger())
	defer registry.Close()
	ticker := game.NewTicker(registry, nil, 5*time.Millisecond, nil, testLogger())

	room, err := registry.FindOrCreate()
	require.NoError(t, err)

	ticker.Start()
	assert.Eventually(t, func() bool {
		_, ok := registry.Room(room.ID())
		return !ok
	}, time.Second, 5*time.Millisecond)

	ticker.Stop()
	ticker.Stop()
}
