package game

import (
	"math"
	"time"
)

// PlayerID 連線層分配的不透明識別碼，行程內唯一
type PlayerID string

// RoomID 房間識別碼
type RoomID string

// Status 房間狀態
//
// 有限狀態機：
//
//	waiting → counting → playing → finished → (回收)
//
// 狀態只會前進，不會倒退：
//   - waiting → counting：第一位玩家加入
//   - counting → playing：倒數結束，或人數達到容量（先到者觸發）
//   - playing → finished：對局時間用完
//   - finished → 回收：寬限期後通知回大廳並從註冊表移除
type Status string

const (
	StatusWaiting  Status = "waiting"  // 空房，等待第一位玩家
	StatusCounting Status = "counting" // 倒數中，仍可加入
	StatusPlaying  Status = "playing"  // 對局中
	StatusFinished Status = "finished" // 已結算，等待回收
)

// rank 用於驗證狀態單調前進
func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusCounting:
		return 1
	case StatusPlaying:
		return 2
	case StatusFinished:
		return 3
	}
	return -1
}

// Before 判斷 s 是否早於 other
func (s Status) Before(other Status) bool { return s.rank() < other.rank() }

// Weapon 武器
type Weapon string

const (
	WeaponKnife Weapon = "knife"
	WeaponGun   Weapon = "gun"
)

// Valid 檢查武器是否合法
func (w Weapon) Valid() bool { return w == WeaponKnife || w == WeaponGun }

// Direction 方向鍵
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Vector 方向鍵對應的單位向量（螢幕座標，y 向下）
func (d Direction) Vector() (dx, dy float64, ok bool) {
	switch d {
	case DirectionUp:
		return 0, -1, true
	case DirectionDown:
		return 0, 1, true
	case DirectionLeft:
		return -1, 0, true
	case DirectionRight:
		return 1, 0, true
	}
	return 0, 0, false
}

// Occupant 房間內的一位玩家或機器人
//
// 機器人額外使用 DirX/DirY（單位向量）與 NextTurn。
type Occupant struct {
	ID         PlayerID  `json:"id"`
	Name       string    `json:"name"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Color      string    `json:"color"`
	Score      int       `json:"score"`
	Weapon     Weapon    `json:"weapon"`
	IsBot      bool      `json:"is_bot"`
	LastUpdate time.Time `json:"last_update"`

	DirX     float64   `json:"dir_x,omitempty"`
	DirY     float64   `json:"dir_y,omitempty"`
	NextTurn time.Time `json:"next_direction_change,omitzero"`
}

// Bullet 子彈，只記錄發射瞬間的位置與方向
type Bullet struct {
	OwnerID   PlayerID  `json:"owner_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	DirX      float64   `json:"dir_x"`
	DirY      float64   `json:"dir_y"`
	CreatedAt time.Time `json:"created_at"`
}

// normalize 返回單位向量；零向量或非有限值返回 ok=false
func normalize(dx, dy float64) (float64, float64, bool) {
	l := math.Hypot(dx, dy)
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return 0, 0, false
	}
	return dx / l, dy / l, true
}

// clamp 限制在 [lo, hi]，返回是否被截斷
func clamp(v, lo, hi float64) (float64, bool) {
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, false
}
