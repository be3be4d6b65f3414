package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-arena-server/internal/game"
)

// recentWinnersLimit 最近勝者列表保留筆數
const recentWinnersLimit = 100

// Leaderboard Redis 排行榜
//
// 鍵結構（prefix 預設 arena:）：
//   - {prefix}leaderboard:wins    ZSET 名稱 → 勝場（只算玩家）
//   - {prefix}leaderboard:best    ZSET 名稱 → 單局最高分（ZADD GT）
//   - {prefix}leaderboard:played  ZSET 名稱 → 出場數
//   - {prefix}recent_winners      LIST 最近勝者（含機器人），保留 100 筆
//   - {prefix}matches             STRING 對局總數
//
// 玩家 ID 只在單次連線有效，因此以名稱為成員。
type Leaderboard struct {
	client *redis.Client
	prefix string
}

// Standing 排行榜一列
type Standing struct {
	Rank   int    `json:"rank"`
	Name   string `json:"name"`
	Wins   int64  `json:"wins"`
	Best   int64  `json:"best_score"`
	Played int64  `json:"played"`
}

// RecentWinner 最近勝者
type RecentWinner struct {
	RoomID     game.RoomID `json:"room_id"`
	Name       string      `json:"name"`
	Score      int         `json:"score"`
	IsBot      bool        `json:"is_bot"`
	FinishedAt time.Time   `json:"finished_at"`
}

// NewLeaderboard 建立排行榜
func NewLeaderboard(client *redis.Client, prefix string) *Leaderboard {
	return &Leaderboard{client: client, prefix: prefix}
}

func (l *Leaderboard) key(name string) string { return l.prefix + name }

// Name 實作 record.Sink
func (l *Leaderboard) Name() string { return "redis" }

// Save 以一個 MULTI/EXEC 更新所有排行
func (l *Leaderboard) Save(ctx context.Context, result game.MatchResult) error {
	pipe := l.client.TxPipeline()

	pipe.Incr(ctx, l.key("matches"))

	for _, e := range result.Entries {
		if e.IsBot {
			continue
		}
		pipe.ZIncrBy(ctx, l.key("leaderboard:played"), 1, e.Name)
		pipe.ZAddArgs(ctx, l.key("leaderboard:best"), redis.ZAddArgs{
			GT:      true,
			Members: []redis.Z{{Score: float64(e.Score), Member: e.Name}},
		})
	}

	if w := result.Winner; w != nil {
		if !w.IsBot {
			pipe.ZIncrBy(ctx, l.key("leaderboard:wins"), 1, w.Name)
		}

		data, err := json.Marshal(RecentWinner{
			RoomID:     result.RoomID,
			Name:       w.Name,
			Score:      w.Score,
			IsBot:      w.IsBot,
			FinishedAt: result.FinishedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal recent winner: %w", err)
		}
		pipe.LPush(ctx, l.key("recent_winners"), data)
		pipe.LTrim(ctx, l.key("recent_winners"), 0, recentWinnersLimit-1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}
	return nil
}

// Top 勝場最多的前 limit 名
func (l *Leaderboard) Top(ctx context.Context, limit int) ([]Standing, error) {
	if limit <= 0 {
		return []Standing{}, nil
	}

	ranked, err := l.client.ZRevRangeWithScores(ctx, l.key("leaderboard:wins"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read wins: %w", err)
	}

	standings := make([]Standing, len(ranked))
	if len(ranked) == 0 {
		return standings, nil
	}

	pipe := l.client.Pipeline()
	best := make([]*redis.FloatCmd, len(ranked))
	played := make([]*redis.FloatCmd, len(ranked))
	for i, z := range ranked {
		name, _ := z.Member.(string)
		standings[i] = Standing{Rank: i + 1, Name: name, Wins: int64(z.Score)}
		best[i] = pipe.ZScore(ctx, l.key("leaderboard:best"), name)
		played[i] = pipe.ZScore(ctx, l.key("leaderboard:played"), name)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read scores: %w", err)
	}

	for i := range standings {
		if v, err := best[i].Result(); err == nil {
			standings[i].Best = int64(v)
		}
		if v, err := played[i].Result(); err == nil {
			standings[i].Played = int64(v)
		}
	}

	return standings, nil
}

// Recent 最近的勝者（新到舊）
func (l *Leaderboard) Recent(ctx context.Context, limit int) ([]RecentWinner, error) {
	if limit <= 0 {
		return []RecentWinner{}, nil
	}

	raw, err := l.client.LRange(ctx, l.key("recent_winners"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent winners: %w", err)
	}

	winners := make([]RecentWinner, 0, len(raw))
	for _, item := range raw {
		var w RecentWinner
		if err := json.Unmarshal([]byte(item), &w); err != nil {
			continue
		}
		winners = append(winners, w)
	}
	return winners, nil
}

// TotalMatches 累計對局數
func (l *Leaderboard) TotalMatches(ctx context.Context) (int64, error) {
	n, err := l.client.Get(ctx, l.key("matches")).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read match count: %w", err)
	}
	return n, nil
}

// Ping 健康檢查
func (l *Leaderboard) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
