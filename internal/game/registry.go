package game

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/koopa0/system-design/14-arena-server/internal/config"
	"github.com/koopa0/system-design/14-arena-server/pkg/base62"
	apperrors "github.com/koopa0/system-design/14-arena-server/pkg/errors"
	"github.com/koopa0/system-design/14-arena-server/pkg/snowflake"
)

// maxJoinAttempts 找房與加入之間可能被其他連線搶先填滿，重試上限
const maxJoinAttempts = 8

// Registry 房間註冊表
//
// 持有三份資料，全部由 mu 保護：
//   - rooms：roomID → Room
//   - order：建立順序，找房時依此掃描
//   - bindings：playerID → roomID，一條連線同時只能在一個房間
//
// 鎖的紀律：mu 只在查找、插入、刪除時短暫持有，
// 任何 Room 操作都在釋放 mu 之後進行，兩把鎖從不巢狀。
type Registry struct {
	cfg    config.GameConfig
	clock  Clock
	bc     Broadcaster
	logger *slog.Logger
	ids    *snowflake.Node

	mu       sync.RWMutex
	rooms    map[RoomID]*Room
	order    []RoomID
	bindings map[PlayerID]RoomID
	rng      *rand.Rand // 為每個新房間產生種子
	closed   bool
}

// Option 註冊表選項
type Option func(*Registry)

// WithClock 注入時鐘（測試用 ManualClock）
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithSeed 固定隨機種子，讓房間行為可重現
func WithSeed(seed uint64) Option {
	return func(r *Registry) { r.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// NewRegistry 創建註冊表
func NewRegistry(cfg config.GameConfig, ids *snowflake.Node, bc Broadcaster, logger *slog.Logger, opts ...Option) *Registry {
	if bc == nil {
		bc = NopBroadcaster{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{
		cfg:      cfg,
		clock:    SystemClock{},
		bc:       bc,
		logger:   logger,
		ids:      ids,
		rooms:    make(map[RoomID]*Room),
		bindings: make(map[PlayerID]RoomID),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	if cfg.Seed != 0 {
		WithSeed(uint64(cfg.Seed))(r)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindOrCreate 返回第一個可加入的房間（依建立順序），沒有則新建
func (r *Registry) FindOrCreate() (*Room, error) {
	for _, room := range r.Rooms() {
		if room.Joinable() {
			return room, nil
		}
	}
	return r.create()
}

// create 建立並註冊新房間
func (r *Registry) create() (*Room, error) {
	n, err := r.ids.Generate()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "generate room id")
	}
	id := RoomID("room_" + base62.Encode(uint64(n)))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, apperrors.ErrRoomClosed.WithDetails("registry closed")
	}
	rng := rand.New(rand.NewPCG(r.rng.Uint64(), r.rng.Uint64()))
	room := NewRoom(id, r.cfg, r.clock, rng, r.bc, r.logger)
	r.rooms[id] = room
	r.order = append(r.order, id)
	total := len(r.rooms)
	r.mu.Unlock()

	r.logger.Info("房間已創建",
		"room_id", id,
		"capacity", r.cfg.Capacity,
		"total_rooms", total)

	return room, nil
}

// Join 為連線找房並加入
//
// 已綁定的連線返回 ALREADY_JOINED 且不產生任何副作用。
// 找到的房間可能在加入前被填滿或開局，此時換一間重試。
func (r *Registry) Join(playerID PlayerID, name string) (*Room, error) {
	r.mu.RLock()
	_, bound := r.bindings[playerID]
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return nil, apperrors.ErrRoomClosed.WithDetails("registry closed")
	}
	if bound {
		return nil, apperrors.ErrAlreadyJoined.WithDetails(string(playerID))
	}

	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, err := r.FindOrCreate()
		if err != nil {
			return nil, err
		}

		if err := room.Join(playerID, name); err != nil {
			if apperrors.IsRoomFull(err) || apperrors.IsRoomClosed(err) {
				continue
			}
			return nil, err
		}

		r.mu.Lock()
		if r.rooms[room.ID()] != room {
			// 加入的同時房間被回收
			r.mu.Unlock()
			_, _ = room.Leave(playerID)
			continue
		}
		if _, dup := r.bindings[playerID]; dup {
			r.mu.Unlock()
			r.leaveRoom(room, playerID)
			return nil, apperrors.ErrAlreadyJoined.WithDetails(string(playerID))
		}
		r.bindings[playerID] = room.ID()
		r.mu.Unlock()

		r.logger.Info("玩家加入房間",
			"room_id", room.ID(),
			"player_id", playerID,
			"player_name", name)

		return room, nil
	}

	return nil, apperrors.ErrRoomFull.WithDetails(fmt.Sprintf("no joinable room after %d attempts", maxJoinAttempts))
}

// Leave 連線離開（主動離開或斷線）
func (r *Registry) Leave(playerID PlayerID) error {
	r.mu.Lock()
	roomID, ok := r.bindings[playerID]
	delete(r.bindings, playerID)
	room := r.rooms[roomID]
	r.mu.Unlock()

	if !ok || room == nil {
		return apperrors.ErrUnknownPlayer.WithDetails(string(playerID))
	}

	r.leaveRoom(room, playerID)

	r.logger.Info("玩家離開房間",
		"room_id", roomID,
		"player_id", playerID)

	return nil
}

// leaveRoom 從房間移除玩家，房間空了立即回收
func (r *Registry) leaveRoom(room *Room, playerID PlayerID) {
	remaining, err := room.Leave(playerID)
	if err != nil {
		return
	}
	if remaining == 0 {
		r.Reclaim(room.ID())
	}
}

// Move 移動（dx, dy）
func (r *Registry) Move(playerID PlayerID, dx, dy float64) error {
	room, err := r.RoomOf(playerID)
	if err != nil {
		return err
	}
	return room.Move(playerID, dx, dy)
}

// MoveDirection 以方向鍵移動
func (r *Registry) MoveDirection(playerID PlayerID, dir Direction) error {
	room, err := r.RoomOf(playerID)
	if err != nil {
		return err
	}
	return room.MoveDirection(playerID, dir)
}

// SwitchWeapon 切換武器
func (r *Registry) SwitchWeapon(playerID PlayerID, weapon Weapon) error {
	room, err := r.RoomOf(playerID)
	if err != nil {
		return err
	}
	return room.SwitchWeapon(playerID, weapon)
}

// Shoot 射擊
func (r *Registry) Shoot(playerID PlayerID, dirX, dirY float64) error {
	room, err := r.RoomOf(playerID)
	if err != nil {
		return err
	}
	return room.Shoot(playerID, dirX, dirY)
}

// RoomOf 查詢玩家所在房間
func (r *Registry) RoomOf(playerID PlayerID) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.bindings[playerID]
	if !ok {
		return nil, apperrors.ErrUnknownPlayer.WithDetails(string(playerID))
	}
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, apperrors.ErrUnknownPlayer.WithDetails(string(playerID))
	}
	return room, nil
}

// Reclaim 回收房間，冪等
//
// 先從註冊表移除並清除綁定，再關閉房間。
// 正在加入的連線會在綁定前發現房間已不在註冊表而改找別間。
func (r *Registry) Reclaim(roomID RoomID) bool {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.rooms, roomID)
	r.order = slices.DeleteFunc(r.order, func(id RoomID) bool { return id == roomID })
	for pid, rid := range r.bindings {
		if rid == roomID {
			delete(r.bindings, pid)
		}
	}
	remaining := len(r.rooms)
	r.mu.Unlock()

	room.Close()

	r.logger.Info("房間已回收",
		"room_id", roomID,
		"total_rooms", remaining)

	return true
}

// Room 依 ID 查詢房間
func (r *Registry) Room(roomID RoomID) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

// Rooms 依建立順序返回所有房間
func (r *Registry) Rooms() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*Room, 0, len(r.order))
	for _, id := range r.order {
		rooms = append(rooms, r.rooms[id])
	}
	return rooms
}

// ListRooms 列出房間摘要（可依狀態過濾，分頁）
func (r *Registry) ListRooms(status Status, page, limit int) ([]RoomSummary, int) {
	var filtered []RoomSummary
	for _, room := range r.Rooms() {
		s := room.Summary()
		if status != "" && s.Status != status {
			continue
		}
		filtered = append(filtered, s)
	}

	total := len(filtered)
	start := (page - 1) * limit
	if start >= total || start < 0 {
		return []RoomSummary{}, total
	}
	end := min(start+limit, total)

	return filtered[start:end], total
}

// Stats 統計資訊
type Stats struct {
	TotalRooms   int            `json:"total_rooms"`
	TotalPlayers int            `json:"total_players"`
	TotalBots    int            `json:"total_bots"`
	ByStatus     map[Status]int `json:"by_status"`
}

// Stats 返回統計
func (r *Registry) Stats() Stats {
	st := Stats{ByStatus: make(map[Status]int)}
	for _, room := range r.Rooms() {
		s := room.Summary()
		st.TotalRooms++
		st.TotalPlayers += s.Players
		st.TotalBots += s.Bots
		st.ByStatus[s.Status]++
	}
	return st
}

// Close 關閉註冊表，之後不再建立房間
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.rooms = make(map[RoomID]*Room)
	r.order = nil
	r.bindings = make(map[PlayerID]RoomID)
	r.mu.Unlock()

	for _, room := range rooms {
		room.Close()
	}

	r.logger.Info("房間註冊表已關閉", "rooms", len(rooms))
}
