// Package errors 提供房間伺服器的應用程式錯誤
//
// 所有請求路徑上的錯誤都以 AppError 表示，傳輸層把 Code 與 Message
// 原樣轉成結構化的拒絕事件送回發起的連線。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeRoomFull 房間人數已達上限
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodeUnknownPlayer 玩家不在任何房間
	ErrCodeUnknownPlayer = "UNKNOWN_PLAYER"
	// ErrCodeMalformedRequest 無法解析或缺少必要欄位
	ErrCodeMalformedRequest = "MALFORMED_REQUEST"
	// ErrCodeAlreadyJoined 連線已綁定房間
	ErrCodeAlreadyJoined = "ALREADY_JOINED"
	// ErrCodeRoomClosed 房間不再接受加入（已開局、已結束或已回收）
	ErrCodeRoomClosed = "ROOM_CLOSED"
	// ErrCodeRateLimited 請求頻率超限
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對，讓 errors.Is(err, ErrRoomFull) 對帶細節的副本也成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶詳細資訊的副本
//
// 預定義錯誤是共用的，不能直接修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	ErrRoomFull         = New(ErrCodeRoomFull, "room is full")
	ErrUnknownPlayer    = New(ErrCodeUnknownPlayer, "player is not in a room")
	ErrMalformedRequest = New(ErrCodeMalformedRequest, "malformed request")
	ErrAlreadyJoined    = New(ErrCodeAlreadyJoined, "connection already joined a room")
	ErrRoomClosed       = New(ErrCodeRoomClosed, "room is not accepting players")
	ErrRateLimited      = New(ErrCodeRateLimited, "too many requests")

	// ErrBackendUnavailable 可選後端（Redis/PostgreSQL）未配置
	ErrBackendUnavailable = New(ErrCodeUnavailable, "backend not configured")
)

// Code 取出錯誤碼，非 AppError 一律視為內部錯誤
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRoomFull 檢查是否為房間已滿
func IsRoomFull(err error) bool { return hasCode(err, ErrCodeRoomFull) }

// IsUnknownPlayer 檢查是否為未知玩家
func IsUnknownPlayer(err error) bool { return hasCode(err, ErrCodeUnknownPlayer) }

// IsMalformed 檢查是否為格式錯誤
func IsMalformed(err error) bool { return hasCode(err, ErrCodeMalformedRequest) }

// IsAlreadyJoined 檢查是否為重複加入
func IsAlreadyJoined(err error) bool { return hasCode(err, ErrCodeAlreadyJoined) }

// IsRoomClosed 檢查房間是否已不接受加入
func IsRoomClosed(err error) bool { return hasCode(err, ErrCodeRoomClosed) }

// IsRateLimited 檢查是否被限流
func IsRateLimited(err error) bool { return hasCode(err, ErrCodeRateLimited) }

// IsUnavailable 檢查是否為服務不可用
func IsUnavailable(err error) bool { return hasCode(err, ErrCodeUnavailable) }
