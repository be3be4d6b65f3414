package game_test

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/koopa0/system-design/14-arena-server/internal/config"
	"github.com/koopa0/system-design/14-arena-server/internal/game"
	"github.com/koopa0/system-design/14-arena-server/pkg/snowflake"
)

// TestStress_ConcurrentTraffic 大量連線併發加入、操作、離開，同時 ticker 在跑
func TestStress_ConcurrentTraffic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	cfg := config.DefaultGame()
	cfg.CountdownDuration = 50 * time.Millisecond
	cfg.GameDuration = 200 * time.Millisecond
	cfg.ReclaimDelay = 20 * time.Millisecond
	cfg.TickInterval = 2 * time.Millisecond
	cfg.BroadcastInterval = 5 * time.Millisecond

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatal(err)
	}
	bc := &recordingBroadcaster{}
	sink := &collectingSink{}
	registry := game.NewRegistry(cfg, node, bc, testLogger())
	ticker := game.NewTicker(registry, sink, cfg.TickInterval, nil, testLogger())
	ticker.Start()

	var (
		wg       sync.WaitGroup
		joined   atomic.Int64
		failures atomic.Int64
	)
	for i, name := range playerNames(300) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := game.PlayerID(name)
			rng := rand.New(rand.NewPCG(uint64(i), 1))

			if _, err := registry.Join(id, name); err != nil {
				failures.Add(1)
				return
			}
			joined.Add(1)

			_ = registry.SwitchWeapon(id, game.WeaponGun)
			for range 50 {
				switch rng.IntN(3) {
				case 0:
					_ = registry.Move(id, rng.Float64()-0.5, rng.Float64()-0.5)
				case 1:
					_ = registry.Shoot(id, 1, rng.Float64())
				case 2:
					_ = registry.MoveDirection(id, game.DirectionDown)
				}
				time.Sleep(time.Duration(rng.IntN(3)) * time.Millisecond)
			}
			if rng.IntN(2) == 0 {
				_ = registry.Leave(id)
			}
		}()
	}
	wg.Wait()

	// 所有對局最終結束並被回收
	assert.Eventually(t, func() bool {
		return registry.Stats().TotalRooms == 0
	}, 5*time.Second, 10*time.Millisecond)

	ticker.Stop()
	registry.Close()

	assert.Zero(t, failures.Load())
	assert.Equal(t, int64(300), joined.Load())
	assert.NotEmpty(t, sink.Results())
	for _, res := range sink.Results() {
		assert.LessOrEqual(t, len(res.Entries), cfg.Capacity, fmt.Sprintf("room %s", res.RoomID))
	}
	t.Logf("matches=%d game_state=%d", len(sink.Results()), bc.Count(game.EventGameState))
}
