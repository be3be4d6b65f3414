package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-arena-server/internal/config"
	"github.com/koopa0/system-design/14-arena-server/internal/game"
	"github.com/koopa0/system-design/14-arena-server/internal/handler"
	"github.com/koopa0/system-design/14-arena-server/internal/record"
	"github.com/koopa0/system-design/14-arena-server/internal/store"
	"github.com/koopa0/system-design/14-arena-server/pkg/snowflake"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newRegistry(t *testing.T) *game.Registry {
	t.Helper()
	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)
	reg := game.NewRegistry(config.DefaultGame(), ids, nil, testLogger(), game.WithSeed(7))
	t.Cleanup(reg.Close)
	return reg
}

type mockLeaderboard struct{ mock.Mock }

func (m *mockLeaderboard) Top(ctx context.Context, limit int) ([]store.Standing, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]store.Standing), args.Error(1)
}

func (m *mockLeaderboard) Recent(ctx context.Context, limit int) ([]store.RecentWinner, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]store.RecentWinner), args.Error(1)
}

func (m *mockLeaderboard) TotalMatches(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockMatches struct{ mock.Mock }

func (m *mockMatches) Recent(ctx context.Context, limit int) ([]store.MatchRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]store.MatchRecord), args.Error(1)
}

type pinger struct {
	name string
	err  error
}

func (p pinger) Name() string { return p.name }
func (p pinger) Ping(context.Context) error { return p.err }

type connections struct{}

func (connections) Count() int { return 3 }
func (connections) Dropped() int64 { return 5 }

type recorderStats struct{}

func (recorderStats) Stats() record.Stats { return record.Stats{Recorded: 2} }

func do(t *testing.T, h http.Handler, target string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

// TestHandler_Rooms 測試房間列表與快照
func TestHandler_Rooms(t *testing.T) {
	reg := newRegistry(t)
	room, err := reg.Join("p1", "Alice")
	require.NoError(t, err)

	routes := handler.New(handler.Deps{Registry: reg}, testLogger()).Routes()

	tests := []struct {
		name           string
		target         string
		expectedStatus int
		validate       func(t *testing.T, resp map[string]any)
	}{
		{
			name:           "list all rooms",
			target:         "/api/v1/rooms",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				assert.EqualValues(t, 1, resp["total"])
				assert.EqualValues(t, 1, resp["page"])
				rooms := resp["rooms"].([]any)
				require.Len(t, rooms, 1)
				assert.Equal(t, string(room.ID()), rooms[0].(map[string]any)["room_id"])
			},
		},
		{
			name:           "filter by status",
			target:         "/api/v1/rooms?status=playing",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				assert.EqualValues(t, 0, resp["total"])
				assert.Empty(t, resp["rooms"])
			},
		},
		{
			name:           "invalid status",
			target:         "/api/v1/rooms?status=bogus",
			expectedStatus: http.StatusBadRequest,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, "MALFORMED_REQUEST", resp["error"].(map[string]any)["code"])
			},
		},
		{
			name:           "invalid paging falls back to defaults",
			target:         "/api/v1/rooms?page=-1&limit=1000",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				assert.EqualValues(t, 1, resp["page"])
				assert.EqualValues(t, 20, resp["limit"])
			},
		},
		{
			name:           "room snapshot",
			target:         "/api/v1/rooms/" + string(room.ID()),
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, string(room.ID()), resp["room_id"])
				assert.Equal(t, "counting", resp["status"])
				assert.Contains(t, resp["players"], "p1")
			},
		},
		{
			name:           "unknown room",
			target:         "/api/v1/rooms/room_missing",
			expectedStatus: http.StatusNotFound,
			validate: func(t *testing.T, resp map[string]any) {
				assert.Equal(t, "ROOM_NOT_FOUND", resp["error"].(map[string]any)["code"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := do(t, routes, tt.target)
			assert.Equal(t, tt.expectedStatus, code)
			tt.validate(t, resp)
		})
	}
}

// TestHandler_Leaderboard 測試排行榜
func TestHandler_Leaderboard(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		routes := handler.New(handler.Deps{Registry: newRegistry(t)}, testLogger()).Routes()

		code, resp := do(t, routes, "/api/v1/leaderboard")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "SERVICE_UNAVAILABLE", resp["error"].(map[string]any)["code"])
	})

	t.Run("top and recent", func(t *testing.T) {
		lb := new(mockLeaderboard)
		lb.On("Top", mock.Anything, 5).Return([]store.Standing{{Rank: 1, Name: "Alice", Wins: 3}}, nil)
		lb.On("Recent", mock.Anything, 5).Return([]store.RecentWinner{{Name: "Bot_2", IsBot: true}}, nil)
		lb.On("TotalMatches", mock.Anything).Return(int64(9), nil)

		routes := handler.New(handler.Deps{Registry: newRegistry(t), Leaderboard: lb}, testLogger()).Routes()

		code, resp := do(t, routes, "/api/v1/leaderboard?limit=5")
		assert.Equal(t, http.StatusOK, code)
		assert.EqualValues(t, 9, resp["total_matches"])

		top := resp["top"].([]any)
		require.Len(t, top, 1)
		assert.Equal(t, "Alice", top[0].(map[string]any)["name"])
		assert.Len(t, resp["recent_winners"], 1)

		lb.AssertExpectations(t)
	})

	t.Run("backend error", func(t *testing.T) {
		lb := new(mockLeaderboard)
		lb.On("Top", mock.Anything, 10).Return([]store.Standing(nil), errors.New("connection refused"))

		routes := handler.New(handler.Deps{Registry: newRegistry(t), Leaderboard: lb}, testLogger()).Routes()

		code, resp := do(t, routes, "/api/v1/leaderboard")
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, "INTERNAL_ERROR", resp["error"].(map[string]any)["code"])
	})
}

// TestHandler_Matches 測試戰績查詢
func TestHandler_Matches(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		routes := handler.New(handler.Deps{Registry: newRegistry(t)}, testLogger()).Routes()

		code, _ := do(t, routes, "/api/v1/matches")
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})

	t.Run("recent", func(t *testing.T) {
		m := new(mockMatches)
		m.On("Recent", mock.Anything, 20).Return([]store.MatchRecord{
			{ID: 1, RoomID: "room_a", WinnerName: "Alice", WinnerScore: 4},
		}, nil)

		routes := handler.New(handler.Deps{Registry: newRegistry(t), Matches: m}, testLogger()).Routes()

		code, resp := do(t, routes, "/api/v1/matches")
		assert.Equal(t, http.StatusOK, code)
		assert.EqualValues(t, 1, resp["count"])
		m.AssertExpectations(t)
	})
}

// TestHandler_Health 測試健康檢查
func TestHandler_Health(t *testing.T) {
	tests := []struct {
		name           string
		backends       []handler.Pinger
		expectedStatus int
		expected       string
	}{
		{"no backends", nil, http.StatusOK, "healthy"},
		{"all up", []handler.Pinger{pinger{name: "redis"}, pinger{name: "postgres"}}, http.StatusOK, "healthy"},
		{"one down", []handler.Pinger{pinger{name: "redis"}, pinger{name: "nats", err: errors.New("disconnected")}}, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routes := handler.New(handler.Deps{Registry: newRegistry(t), Backends: tt.backends}, testLogger()).Routes()

			code, resp := do(t, routes, "/health")
			assert.Equal(t, tt.expectedStatus, code)
			assert.Equal(t, tt.expected, resp["status"])
			assert.Len(t, resp["backends"], len(tt.backends))
		})
	}
}

// TestHandler_Stats 測試統計資訊
func TestHandler_Stats(t *testing.T) {
	reg := newRegistry(t)
	_, err := reg.Join("p1", "Alice")
	require.NoError(t, err)
	_, err = reg.Join("p2", "Bob")
	require.NoError(t, err)

	routes := handler.New(handler.Deps{
		Registry:    reg,
		Connections: connections{},
		Recorder:    recorderStats{},
	}, testLogger()).Routes()

	code, resp := do(t, routes, "/stats")
	assert.Equal(t, http.StatusOK, code)

	g := resp["game"].(map[string]any)
	assert.EqualValues(t, 1, g["total_rooms"])
	assert.EqualValues(t, 2, g["total_players"])
	assert.EqualValues(t, 1, g["by_status"].(map[string]any)["counting"])
	assert.EqualValues(t, 3, resp["connections"])
	assert.EqualValues(t, 5, resp["dropped_frames"])
	assert.NotNil(t, resp["recorder"])
}

// TestHandler_Recover 測試 panic 恢復
func TestHandler_Recover(t *testing.T) {
	routes := handler.New(handler.Deps{
		Registry: newRegistry(t),
		WebSocket: func(http.ResponseWriter, *http.Request) {
			panic("boom")
		},
	}, testLogger()).Routes()

	code, resp := do(t, routes, "/ws")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "INTERNAL_ERROR", resp["error"].(map[string]any)["code"])
}
