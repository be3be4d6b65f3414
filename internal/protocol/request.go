// Package protocol 定義客戶端與伺服器之間的訊息格式
//
// 上行是封閉的請求聯集（Join、Move、SwitchWeapon、Shoot、Leave），
// 在連線邊界完成解析與驗證，核心只會看到合法的請求。
// 下行直接序列化 game.Event。
package protocol

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/koopa0/system-design/14-arena-server/internal/game"
	apperrors "github.com/koopa0/system-design/14-arena-server/pkg/errors"
)

// Type 請求類型
type Type string

const (
	TypeJoin         Type = "join"
	TypeMove         Type = "move"
	TypeSwitchWeapon Type = "switch_weapon"
	TypeShoot        Type = "shoot"
	TypeLeave        Type = "leave"
)

// MaxNameLength 玩家名稱上限（字元數）
const MaxNameLength = 32

// DefaultName 未提供名稱時使用
const DefaultName = "Player"

// Request 客戶端請求
//
// normalize 未導出，外部套件無法新增請求類型。
type Request interface {
	Type() Type
	normalize() (Request, error)
}

// Join 加入配對
type Join struct {
	Name string `json:"name"`
}

// Move 移動：Direction 非空時使用方向鍵，否則使用 (DX, DY)
type Move struct {
	DX        float64        `json:"dx"`
	DY        float64        `json:"dy"`
	Direction game.Direction `json:"direction,omitempty"`
}

// SwitchWeapon 切換武器
type SwitchWeapon struct {
	Weapon game.Weapon `json:"weapon"`
}

// Shoot 射擊
type Shoot struct {
	DirX float64 `json:"dir_x"`
	DirY float64 `json:"dir_y"`
}

// Leave 離開房間
type Leave struct{}

func (Join) Type() Type         { return TypeJoin }
func (Move) Type() Type         { return TypeMove }
func (SwitchWeapon) Type() Type { return TypeSwitchWeapon }
func (Shoot) Type() Type        { return TypeShoot }
func (Leave) Type() Type        { return TypeLeave }

func (j Join) normalize() (Request, error) {
	name := strings.TrimSpace(j.Name)
	if name == "" {
		return Join{Name: DefaultName}, nil
	}
	if !utf8.ValidString(name) {
		return nil, malformed("name is not valid utf-8")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, malformed(fmt.Sprintf("name longer than %d characters", MaxNameLength))
	}
	if strings.ContainsFunc(name, unicode.IsControl) {
		return nil, malformed("name contains control characters")
	}
	return Join{Name: name}, nil
}

func (m Move) normalize() (Request, error) {
	if m.Direction != "" {
		if _, _, ok := m.Direction.Vector(); !ok {
			return nil, malformed(fmt.Sprintf("unknown direction %q", m.Direction))
		}
		return Move{Direction: m.Direction}, nil
	}
	if !finite(m.DX) || !finite(m.DY) {
		return nil, malformed("move vector must be finite")
	}
	return m, nil
}

func (s SwitchWeapon) normalize() (Request, error) {
	if !s.Weapon.Valid() {
		return nil, malformed(fmt.Sprintf("unknown weapon %q", s.Weapon))
	}
	return s, nil
}

func (s Shoot) normalize() (Request, error) {
	if !finite(s.DirX) || !finite(s.DirY) {
		return nil, malformed("shoot direction must be finite")
	}
	return s, nil
}

func (l Leave) normalize() (Request, error) { return l, nil }

// newRequest 依類型返回待解碼的零值指標
func newRequest(t Type) (any, error) {
	switch t {
	case TypeJoin:
		return &Join{}, nil
	case TypeMove:
		return &Move{}, nil
	case TypeSwitchWeapon:
		return &SwitchWeapon{}, nil
	case TypeShoot:
		return &Shoot{}, nil
	case TypeLeave:
		return &Leave{}, nil
	case "":
		return nil, malformed("missing request type")
	}
	return nil, malformed(fmt.Sprintf("unknown request type %q", t))
}

// decodeRequest 共用的解碼流程：依類型建立請求、解碼 data、驗證
func decodeRequest(t Type, hasData bool, unmarshal func(v any) error) (Request, error) {
	target, err := newRequest(t)
	if err != nil {
		return nil, err
	}
	if hasData {
		if err := unmarshal(target); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeMalformedRequest, fmt.Sprintf("decode %s payload", t))
		}
	}

	var req Request
	switch v := target.(type) {
	case *Join:
		req = *v
	case *Move:
		req = *v
	case *SwitchWeapon:
		req = *v
	case *Shoot:
		req = *v
	case *Leave:
		req = *v
	}
	return req.normalize()
}

func malformed(details string) error {
	return apperrors.ErrMalformedRequest.WithDetails(details)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
