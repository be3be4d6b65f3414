package game

import "time"

// EventType 推送給客戶端的事件類型
type EventType string

const (
	EventJoined        EventType = "joined"
	EventRoomOccupancy EventType = "room_occupancy"
	EventGameStart     EventType = "game_start"
	EventGameState     EventType = "game_state"
	EventGameOver      EventType = "game_over"
	EventPlayerLeft    EventType = "player_left"
	EventJoinRejected  EventType = "join_rejected"
	EventReturnToLobby EventType = "return_to_lobby"
	EventError         EventType = "error"
)

// Event 房間事件
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
}

// Broadcaster 核心與連線層之間的邊界
//
// 房間在持有自身鎖時呼叫 Broadcaster，事件順序因此與狀態變更順序一致。
// 實作必須立即返回（不可阻塞、不可回呼房間），慢客戶端應由實作自行丟棄訊息。
type Broadcaster interface {
	// SendTo 推送給單一連線
	SendTo(playerID PlayerID, ev Event)
	// Broadcast 推送給房間內的所有玩家連線
	Broadcast(roomID RoomID, recipients []PlayerID, ev Event)
}

// NopBroadcaster 丟棄所有事件
type NopBroadcaster struct{}

func (NopBroadcaster) SendTo(PlayerID, Event)              {}
func (NopBroadcaster) Broadcast(RoomID, []PlayerID, Event) {}

// Snapshot 房間某一瞬間的完整對外狀態
type Snapshot struct {
	RoomID           RoomID                `json:"room_id"`
	Status           Status                `json:"status"`
	Players          map[PlayerID]Occupant `json:"players"`
	Bots             map[PlayerID]Occupant `json:"bots"`
	Bullets          []Bullet              `json:"bullets"`
	SecondsRemaining int                   `json:"seconds_remaining"`
	MaxPlayers       int                   `json:"max_players"`
}

// Occupancy room_occupancy 事件內容
type Occupancy struct {
	RoomID       RoomID `json:"room_id"`
	Status       Status `json:"status"`
	PlayersCount int    `json:"players_count"`
	MaxPlayers   int    `json:"max_players"`
	SecondsLeft  int    `json:"seconds_left"`
}

// Joined 加入成功，只推送給加入者
type Joined struct {
	RoomID      RoomID   `json:"room_id"`
	PlayerID    PlayerID `json:"player_id"`
	Status      Status   `json:"status"`
	MaxPlayers  int      `json:"max_players"`
	SecondsLeft int      `json:"seconds_left"`
}

// GameStart game_start 事件內容
type GameStart struct {
	Snapshot Snapshot `json:"snapshot"`
}

// GameState 週期性狀態廣播
type GameState struct {
	Snapshot Snapshot `json:"snapshot"`
}

// GameOver 對局結束
type GameOver struct {
	WinnerID    PlayerID `json:"winner_id,omitempty"`
	WinnerName  string   `json:"winner_name"`
	WinnerScore int      `json:"winner_score"`
	Snapshot    Snapshot `json:"snapshot"`
}

// PlayerLeft 玩家離開
type PlayerLeft struct {
	PlayerID     PlayerID `json:"player_id"`
	PlayersCount int      `json:"players_count"`
}

// ReturnToLobby 房間即將回收，客戶端回到大廳
type ReturnToLobby struct {
	RoomID RoomID `json:"room_id"`
}

// Rejection join_rejected 與 error 事件內容
type Rejection struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// MatchResult 一局結束後交給戰績記錄的結果
type MatchResult struct {
	RoomID     RoomID        `json:"room_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Winner     *ResultEntry  `json:"winner,omitempty"`
	Entries    []ResultEntry `json:"entries"` // 標準順序：玩家依加入順序，其後機器人依建立順序
}

// ResultEntry 單一參與者的最終成績
type ResultEntry struct {
	ID    PlayerID `json:"id"`
	Name  string   `json:"name"`
	Score int      `json:"score"`
	IsBot bool     `json:"is_bot"`
}

// ResultSink 接收對局結果，必須立即返回
type ResultSink interface {
	RecordMatch(result MatchResult)
}

// NopSink 丟棄結果
type NopSink struct{}

func (NopSink) RecordMatch(MatchResult) {}
