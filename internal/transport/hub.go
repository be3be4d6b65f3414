// Package transport 以 WebSocket 連接客戶端與房間核心
package transport

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-arena-server/internal/game"
	"github.com/koopa0/system-design/14-arena-server/internal/protocol"
)

// 系統設計問題：
//   房間在持有鎖的情況下推送事件，如何保證慢客戶端不拖住整個房間？
//
// 核心挑戰：
//   1. Broadcaster 在房間鎖內被呼叫，任何阻塞都會卡住同房所有操作與 ticker
//   2. 斷線隨時發生，推送時連線可能正在關閉
//   3. 心跳：偵測半開連線（網路中斷、客戶端崩潰）
//
// 設計方案：
//   ✅ 每條連線一個緩衝 channel，寫入用 select/default，滿了直接丟棄
//   ✅ 關閉 channel 與推送都在 hub 鎖下進行，不會寫入已關閉的 channel
//   ✅ Ping/Pong 心跳（54s/60s）

// Rooms hub 分派請求用到的註冊表操作
type Rooms interface {
	Join(playerID game.PlayerID, name string) (*game.Room, error)
	Leave(playerID game.PlayerID) error
	Move(playerID game.PlayerID, dx, dy float64) error
	MoveDirection(playerID game.PlayerID, dir game.Direction) error
	SwitchWeapon(playerID game.PlayerID, weapon game.Weapon) error
	Shoot(playerID game.PlayerID, dirX, dirY float64) error
}

// Options 連線參數
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	MaxMessageSize  int64
	PongWait        time.Duration
	PingPeriod      time.Duration
	WriteWait       time.Duration

	RateCapacity int64 // 每條連線的突發上限
	RateRefill   int64 // 每秒補充的請求數
}

// DefaultOptions 預設連線參數
func DefaultOptions() Options {
	return Options{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		MaxMessageSize:  4096,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		WriteWait:       10 * time.Second,
		RateCapacity:    120,
		RateRefill:      90,
	}
}

// Hub WebSocket 連接中心，同時是房間的 Broadcaster
//
// 系統設計考量：
//
//  1. 連接映射：map[playerID]*Connection
//     - 房間已經知道收件人，hub 不需要再按房間分組
//
//  2. 並發安全：RWMutex
//     - 推送頻繁（讀鎖），註冊/註銷少（寫鎖）
//     - 鎖順序：房間鎖 → hub 鎖，hub 從不在持鎖時呼叫房間
type Hub struct {
	codec    protocol.Codec
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	rooms atomic.Pointer[roomsHolder]

	mu          sync.RWMutex
	connections map[game.PlayerID]*Connection
	closed      bool

	dropped atomic.Int64 // 因緩衝區滿被丟棄的訊息數
}

type roomsHolder struct{ Rooms }

// NewHub 創建 Hub
//
// 註冊表需要 hub 作為 Broadcaster，因此 hub 先建立，再以 Bind 連上註冊表。
func NewHub(codec protocol.Codec, opts Options, logger *slog.Logger) *Hub {
	return &Hub{
		codec:  codec,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
		},
		connections: make(map[game.PlayerID]*Connection),
	}
}

// Bind 設定請求要分派到的註冊表
func (h *Hub) Bind(rooms Rooms) {
	h.rooms.Store(&roomsHolder{rooms})
}

func (h *Hub) dispatcher() Rooms {
	if holder := h.rooms.Load(); holder != nil {
		return holder.Rooms
	}
	return nil
}

// ServeWS 升級連線並分配玩家 ID
//
// 連線建立後還不在任何房間，客戶端送出 join 才開始配對。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher() == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := newConnection(h, game.PlayerID(uuid.NewString()), conn)
	if err := h.register(c); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()

	h.logger.Info("WebSocket 連接建立",
		"player_id", c.id,
		"remote_addr", r.RemoteAddr)
}

var errHubClosed = errors.New("hub closed")

// register 註冊連接
func (h *Hub) register(c *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errHubClosed
	}
	h.connections[c.id] = c
	return nil
}

// unregister 取消註冊並關閉發送通道
func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if actual, exists := h.connections[c.id]; exists && actual == c {
		delete(h.connections, c.id)
	}
	c.closeSend()
}

// SendTo 推送給單一連線
func (h *Hub) SendTo(playerID game.PlayerID, ev game.Event) {
	message, err := h.codec.Encode(ev)
	if err != nil {
		h.logger.Error("序列化事件失敗", "event", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if c, ok := h.connections[playerID]; ok {
		h.trySend(c, message, ev.Type)
	}
}

// Broadcast 推送給房間內的玩家連線，只序列化一次
func (h *Hub) Broadcast(roomID game.RoomID, recipients []game.PlayerID, ev game.Event) {
	if len(recipients) == 0 {
		return
	}

	message, err := h.codec.Encode(ev)
	if err != nil {
		h.logger.Error("序列化事件失敗",
			"room_id", roomID,
			"event", ev.Type,
			"error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, id := range recipients {
		if c, ok := h.connections[id]; ok {
			h.trySend(c, message, ev.Type)
		}
	}
}

// trySend 非阻塞寫入，必須持有 h.mu（讀鎖即可）
func (h *Hub) trySend(c *Connection, message []byte, event game.EventType) {
	if c.sendClosed {
		return
	}
	select {
	case c.send <- message:
	default:
		// 慢客戶端只丟自己的訊息，不影響房間
		h.dropped.Add(1)
		h.logger.Warn("連接緩衝區滿",
			"player_id", c.id,
			"event", event)
	}
}

// Count 目前連接數
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Dropped 累計丟棄的訊息數
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Stop 關閉所有連接，之後不再接受新連接
//
// 連線的 readPump 會在讀取失敗後自行離開房間。
func (h *Hub) Stop() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		c.closeSend()
		conns = append(conns, c)
	}
	h.connections = make(map[game.PlayerID]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}

	h.logger.Info("WebSocket Hub 已停止", "connections", len(conns))
}
