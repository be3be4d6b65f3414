// Package handler 房間伺服器的 HTTP 介面：健康檢查、統計、房間查詢、排行榜與戰績
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/koopa0/system-design/14-arena-server/internal/game"
	"github.com/koopa0/system-design/14-arena-server/internal/record"
	"github.com/koopa0/system-design/14-arena-server/internal/store"
	apperrors "github.com/koopa0/system-design/14-arena-server/pkg/errors"
)

// Leaderboard 排行榜查詢（Redis）
type Leaderboard interface {
	Top(ctx context.Context, limit int) ([]store.Standing, error)
	Recent(ctx context.Context, limit int) ([]store.RecentWinner, error)
	TotalMatches(ctx context.Context) (int64, error)
}

// MatchHistory 戰績查詢（PostgreSQL）
type MatchHistory interface {
	Recent(ctx context.Context, limit int) ([]store.MatchRecord, error)
}

// Pinger 可健康檢查的後端
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// Connections 連線層統計
type Connections interface {
	Count() int
	Dropped() int64
}

// RecorderStats 戰績記錄器統計
type RecorderStats interface {
	Stats() record.Stats
}

// Deps Handler 的依賴，Leaderboard/Matches/Recorder 可為 nil
type Deps struct {
	Registry    *game.Registry
	Connections Connections
	Recorder    RecorderStats
	Leaderboard Leaderboard
	Matches     MatchHistory
	Backends    []Pinger
	WebSocket   http.HandlerFunc
}

// Handler HTTP 請求處理器
type Handler struct {
	deps    Deps
	logger  *slog.Logger
	started time.Time
}

// New 創建 HTTP 處理器
func New(deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		deps:    deps,
		logger:  logger,
		started: time.Now(),
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}", wrap(h.getRoom))
	mux.HandleFunc("GET /api/v1/leaderboard", wrap(h.leaderboard))
	mux.HandleFunc("GET /api/v1/matches", wrap(h.matches))

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	// WebSocket 升級後連線長時間存在，不經過日誌中間件
	if h.deps.WebSocket != nil {
		mux.HandleFunc("GET /ws", h.recoverer(h.deps.WebSocket))
	}

	return mux
}

// listRooms 列出房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	status := game.Status(query.Get("status"))
	switch status {
	case "", game.StatusWaiting, game.StatusCounting, game.StatusPlaying, game.StatusFinished:
	default:
		h.errorResponse(w, apperrors.ErrMalformedRequest.WithDetails("unknown status "+string(status)), http.StatusBadRequest)
		return
	}

	page := intParam(query.Get("page"), 1, 1, 1<<20)
	limit := intParam(query.Get("limit"), 20, 1, 100)

	rooms, total := h.deps.Registry.ListRooms(status, page, limit)

	h.jsonResponse(w, map[string]any{
		"rooms": rooms,
		"total": total,
		"page":  page,
		"limit": limit,
	}, http.StatusOK)
}

// getRoom 房間快照
func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := game.RoomID(r.PathValue("room_id"))

	room, ok := h.deps.Registry.Room(roomID)
	if !ok {
		h.errorResponse(w, apperrors.New("ROOM_NOT_FOUND", "room not found").WithDetails(string(roomID)), http.StatusNotFound)
		return
	}

	h.jsonResponse(w, room.Snapshot(), http.StatusOK)
}

// leaderboard 排行榜
func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if h.deps.Leaderboard == nil {
		h.errorResponse(w, apperrors.ErrBackendUnavailable.WithDetails("redis"), http.StatusServiceUnavailable)
		return
	}

	limit := intParam(r.URL.Query().Get("limit"), 10, 1, 100)

	top, err := h.deps.Leaderboard.Top(r.Context(), limit)
	if err != nil {
		h.backendError(w, "讀取排行榜失敗", err)
		return
	}
	recent, err := h.deps.Leaderboard.Recent(r.Context(), limit)
	if err != nil {
		h.backendError(w, "讀取最近勝者失敗", err)
		return
	}
	total, err := h.deps.Leaderboard.TotalMatches(r.Context())
	if err != nil {
		h.backendError(w, "讀取對局總數失敗", err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"top":            top,
		"recent_winners": recent,
		"total_matches":  total,
	}, http.StatusOK)
}

// matches 最近的對局
func (h *Handler) matches(w http.ResponseWriter, r *http.Request) {
	if h.deps.Matches == nil {
		h.errorResponse(w, apperrors.ErrBackendUnavailable.WithDetails("postgres"), http.StatusServiceUnavailable)
		return
	}

	limit := intParam(r.URL.Query().Get("limit"), 20, 1, 100)

	records, err := h.deps.Matches.Recent(r.Context(), limit)
	if err != nil {
		h.backendError(w, "讀取戰績失敗", err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"matches": records,
		"count":   len(records),
	}, http.StatusOK)
}

// health 健康檢查
//
// 任一已配置的後端無法連線時返回 503 與 degraded，遊戲本身仍可運作。
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	backends := make(map[string]string, len(h.deps.Backends))
	for _, b := range h.deps.Backends {
		if err := b.Ping(ctx); err != nil {
			backends[b.Name()] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		backends[b.Name()] = "ok"
	}

	h.jsonResponse(w, map[string]any{
		"status":   status,
		"time":     time.Now().Unix(),
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"backends": backends,
	}, code)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"game": h.deps.Registry.Stats(),
	}
	if c := h.deps.Connections; c != nil {
		resp["connections"] = c.Count()
		resp["dropped_frames"] = c.Dropped()
	}
	if rec := h.deps.Recorder; rec != nil {
		resp["recorder"] = rec.Stats()
	}
	h.jsonResponse(w, resp, http.StatusOK)
}

// intParam 解析查詢參數，無效或超出範圍時使用預設值
func intParam(raw string, def, lo, hi int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return def
	}
	return v
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, err *apperrors.AppError, status int) {
	h.jsonResponse(w, map[string]any{
		"error": err,
	}, status)
}

// backendError 後端查詢失敗
func (h *Handler) backendError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	h.errorResponse(w, apperrors.Wrap(err, apperrors.ErrCodeInternal, "backend query failed"), http.StatusInternalServerError)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, apperrors.New(apperrors.ErrCodeInternal, "internal server error"), http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
