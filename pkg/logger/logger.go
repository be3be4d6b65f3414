// Package logger 提供結構化日誌功能
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// RoomIDKey 房間 ID 的上下文鍵
	RoomIDKey contextKey = "room_id"
	// PlayerIDKey 玩家（連線）ID 的上下文鍵
	PlayerIDKey contextKey = "player_id"
)

// New 建立日誌記錄器
//
// output 可為 "stdout"、"stderr" 或檔案路徑。返回的 closer 在檔案輸出時
// 負責關閉檔案，其他情況為空操作。
func New(level, format, output string, addSource bool) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	switch output {
	case "", "stdout":
	case "stderr":
		w = os.Stderr
	default:
		// #nosec G304 - 路徑來自配置檔
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, err
		}
		w, closer = file, file
	}

	return NewWithWriter(w, level, format, addSource), closer, nil
}

// NewWithWriter 建立寫入指定 writer 的日誌記錄器
func NewWithWriter(w io.Writer, level, format string, addSource bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: addSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// 自定義時間格式
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05.000"))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(&contextHandler{Handler: handler})
}

// Discard 測試用，丟棄所有輸出
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ParseLevel 解析日誌級別
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從上下文中提取房間與玩家資訊
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if roomID, ok := ctx.Value(RoomIDKey).(string); ok && roomID != "" {
		r.AddAttrs(slog.String("room_id", roomID))
	}

	if playerID, ok := ctx.Value(PlayerIDKey).(string); ok && playerID != "" {
		r.AddAttrs(slog.String("player_id", playerID))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithRoomID 添加房間 ID 到上下文
func WithRoomID(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, RoomIDKey, roomID)
}

// WithPlayerID 添加玩家 ID 到上下文
func WithPlayerID(ctx context.Context, playerID string) context.Context {
	return context.WithValue(ctx, PlayerIDKey, playerID)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
