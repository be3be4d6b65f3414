// Package store 對局結果的持久化：PostgreSQL 戰績與 Redis 排行榜
//
// 只保存已結束的對局，房間狀態本身從不落地。
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/system-design/14-arena-server/internal/game"
)

// MatchRecord 一筆已保存的對局
type MatchRecord struct {
	ID          int64              `json:"id"`
	RoomID      game.RoomID        `json:"room_id"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	WinnerID    game.PlayerID      `json:"winner_id,omitempty"`
	WinnerName  string             `json:"winner_name,omitempty"`
	WinnerScore int                `json:"winner_score"`
	WinnerBot   bool               `json:"winner_is_bot"`
	Entries     []game.ResultEntry `json:"entries"`
}

// MatchStore PostgreSQL 戰績
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore 建立戰績儲存
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

// Name 實作 record.Sink
func (s *MatchStore) Name() string { return "postgres" }

// Save 在同一個交易內寫入對局與所有參與者
func (s *MatchStore) Save(ctx context.Context, result game.MatchResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		winnerID, winnerName *string
		winnerScore          int
		winnerBot            bool
	)
	if w := result.Winner; w != nil {
		id := string(w.ID)
		winnerID, winnerName = &id, &w.Name
		winnerScore, winnerBot = w.Score, w.IsBot
	}

	var matchID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO matches (room_id, started_at, finished_at, winner_id, winner_name, winner_score, winner_bot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(result.RoomID), result.StartedAt, result.FinishedAt,
		winnerID, winnerName, winnerScore, winnerBot,
	).Scan(&matchID)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}

	batch := &pgx.Batch{}
	for i, e := range result.Entries {
		batch.Queue(`
			INSERT INTO match_occupants (match_id, position, occupant_id, name, score, is_bot)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			matchID, i, string(e.ID), e.Name, e.Score, e.IsBot)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert occupants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recent 最近結束的對局（新到舊），參與者依標準順序
func (s *MatchStore) Recent(ctx context.Context, limit int) ([]MatchRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, started_at, finished_at,
		       COALESCE(winner_id, ''), COALESCE(winner_name, ''), winner_score, winner_bot
		FROM matches
		ORDER BY finished_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MatchRecord, error) {
		var m MatchRecord
		err := row.Scan(&m.ID, &m.RoomID, &m.StartedAt, &m.FinishedAt,
			&m.WinnerID, &m.WinnerName, &m.WinnerScore, &m.WinnerBot)
		m.Entries = []game.ResultEntry{}
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan matches: %w", err)
	}
	if len(records) == 0 {
		return records, nil
	}

	index := make(map[int64]int, len(records))
	ids := make([]int64, len(records))
	for i, m := range records {
		index[m.ID] = i
		ids[i] = m.ID
	}

	rows, err = s.pool.Query(ctx, `
		SELECT match_id, occupant_id, name, score, is_bot
		FROM match_occupants
		WHERE match_id = ANY($1)
		ORDER BY match_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("query occupants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			matchID int64
			e       game.ResultEntry
		)
		if err := rows.Scan(&matchID, &e.ID, &e.Name, &e.Score, &e.IsBot); err != nil {
			return nil, fmt.Errorf("scan occupant: %w", err)
		}
		i := index[matchID]
		records[i].Entries = append(records[i].Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate occupants: %w", err)
	}

	return records, nil
}

// Count 已保存的對局數
func (s *MatchStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM matches`).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return n, nil
}

// Ping 健康檢查
func (s *MatchStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
