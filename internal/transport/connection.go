package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-arena-server/internal/game"
	"github.com/koopa0/system-design/14-arena-server/internal/limiter"
	"github.com/koopa0/system-design/14-arena-server/internal/protocol"
	apperrors "github.com/koopa0/system-design/14-arena-server/pkg/errors"
	"github.com/koopa0/system-design/14-arena-server/pkg/logger"
)

// Connection 一條 WebSocket 連接，對應一位玩家
type Connection struct {
	id      game.PlayerID
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	limiter *limiter.TokenBucket

	sendClosed bool // 由 hub.mu 保護
	closeOnce  sync.Once

	mu       sync.Mutex
	lastPing time.Time
	logCtx   context.Context // 帶 player_id / room_id，只在 readPump goroutine 使用
}

func newConnection(h *Hub, id game.PlayerID, conn *websocket.Conn) *Connection {
	return &Connection{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, h.opts.SendBuffer),
		hub:      h,
		limiter:  limiter.NewTokenBucket(h.opts.RateCapacity, h.opts.RateRefill),
		lastPing: time.Now(),
		logCtx:   logger.WithPlayerID(context.Background(), string(id)),
	}
}

// closeSend 關閉發送通道，必須持有 hub.mu 寫鎖
func (c *Connection) closeSend() {
	c.closeOnce.Do(func() {
		c.sendClosed = true
		close(c.send)
	})
}

// readPump 讀取客戶端訊息
//
// 讀取失敗（斷線、逾時、關閉）時註銷連線並離開房間，
// 斷線與主動 leave 走同一條路徑。
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		c.leave()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait)); err != nil {
			c.hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.ErrorContext(c.logCtx, "WebSocket 讀取錯誤", "error", err)
			}
			return
		}

		c.handleMessage(message)
	}
}

// writePump 寫入訊息到客戶端，並定期送出 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frameType := c.hub.codec.FrameType()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，優雅關閉連接
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(frameType, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.send)
			for range n {
				next, ok := <-c.send
				if !ok {
					return
				}
				if err := c.conn.WriteMessage(frameType, next); err != nil {
					c.hub.logger.Error("發送消息失敗", "error", err, "player_id", c.id)
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 解析並分派一個請求
//
// 錯誤只回報給發起的連線：加入失敗送 join_rejected，其他送 error。
// 未加入房間時的 move/shoot 等操作直接忽略。
func (c *Connection) handleMessage(message []byte) {
	if !c.limiter.Allow() {
		c.reject(game.EventError, apperrors.ErrRateLimited)
		return
	}

	req, err := c.hub.codec.Decode(message)
	if err != nil {
		c.hub.logger.DebugContext(c.logCtx, "無法解析的請求", "error", err)
		c.reject(game.EventError, err)
		return
	}

	rooms := c.hub.dispatcher()

	switch r := req.(type) {
	case protocol.Join:
		room, err := rooms.Join(c.id, r.Name)
		if err != nil {
			c.hub.logger.DebugContext(c.logCtx, "加入被拒絕", "code", apperrors.Code(err))
			c.reject(game.EventJoinRejected, err)
			return
		}
		c.logCtx = logger.WithRoomID(c.logCtx, string(room.ID()))
		return
	case protocol.Move:
		if r.Direction != "" {
			err = rooms.MoveDirection(c.id, r.Direction)
		} else {
			err = rooms.Move(c.id, r.DX, r.DY)
		}
	case protocol.SwitchWeapon:
		err = rooms.SwitchWeapon(c.id, r.Weapon)
	case protocol.Shoot:
		err = rooms.Shoot(c.id, r.DirX, r.DirY)
	case protocol.Leave:
		err = rooms.Leave(c.id)
	}

	if err != nil && !apperrors.IsUnknownPlayer(err) {
		c.reject(game.EventError, err)
	}
}

// reject 把錯誤轉成結構化事件送回
func (c *Connection) reject(event game.EventType, err error) {
	reason := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		reason = appErr.Message
		if appErr.Details != "" {
			reason += ": " + appErr.Details
		}
	}
	c.hub.SendTo(c.id, game.Event{Type: event, Data: game.Rejection{
		Code:   apperrors.Code(err),
		Reason: reason,
	}})
}

// leave 斷線時離開房間
func (c *Connection) leave() {
	rooms := c.hub.dispatcher()
	if rooms == nil {
		return
	}
	if err := rooms.Leave(c.id); err != nil && !apperrors.IsUnknownPlayer(err) {
		c.hub.logger.ErrorContext(c.logCtx, "斷線離開房間失敗", "error", err)
	}

	c.hub.logger.InfoContext(c.logCtx, "WebSocket 連接關閉")
}
