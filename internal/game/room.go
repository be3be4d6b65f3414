package game

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-arena-server/internal/config"
	apperrors "github.com/koopa0/system-design/14-arena-server/pkg/errors"
)

// 系統設計問題：
//   多個連線與一個背景 ticker 同時修改同一房間，如何保持狀態一致？
//
// 核心挑戰：
//   1. 容量檢查與加入必須是同一個臨界區，否則會超收
//   2. 倒數結束與人數滿員都會觸發開局，只能開一次
//   3. 斷線隨時發生，不能影響其他玩家的狀態
//
// 設計方案：
//   ✅ 每個房間一把鎖，所有操作（含 tick）都在鎖內完成
//   ✅ 開局前先檢查狀態，第二次開局是空操作
//   ✅ 欄位全部不導出，外部只能透過操作與 Snapshot 存取

// Room 一個獨立的對局
//
// 並發控制：
//   - 寫操作（Join/Leave/Move/SwitchWeapon/Shoot/Tick）取寫鎖
//   - Snapshot/Summary 取讀鎖並複製資料，呼叫端拿到的是值
//   - Broadcaster 在鎖內呼叫，事件順序等於狀態變更順序
//
// 標準順序：
//
//	玩家依加入順序，其後機器人依建立順序。
//	勝者判定、計分與機器人移動都按此順序走訪，結果只取決於隨機源。
type Room struct {
	id     RoomID
	cfg    config.GameConfig
	clock  Clock
	rng    *rand.Rand
	bc     Broadcaster
	logger *slog.Logger

	mu       sync.RWMutex
	status   Status
	closed   bool // 已回收，之後的操作一律忽略
	players  map[PlayerID]*Occupant
	order    []PlayerID
	bots     map[PlayerID]*Occupant
	botOrder []PlayerID
	bullets  []Bullet
	botSeq   int

	createdAt          time.Time
	countdownStartedAt time.Time
	gameStartedAt      time.Time
	finishedAt         time.Time
	lastBroadcast      time.Time
	lastSecondsLeft    int
}

// TickResult Tick 的結果，由 ticker 處理
type TickResult struct {
	Reclaim bool         // 房間應從註冊表移除
	Result  *MatchResult // 本次 tick 結束了對局
}

// NewRoom 創建房間
func NewRoom(id RoomID, cfg config.GameConfig, clock Clock, rng *rand.Rand, bc Broadcaster, logger *slog.Logger) *Room {
	if bc == nil {
		bc = NopBroadcaster{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Room{
		id:        id,
		cfg:       cfg,
		clock:     clock,
		rng:       rng,
		bc:        bc,
		logger:    logger.With("room_id", string(id)),
		status:    StatusWaiting,
		players:   make(map[PlayerID]*Occupant),
		bots:      make(map[PlayerID]*Occupant),
		createdAt: clock.Now(),
	}
}

// ID 房間 ID
func (r *Room) ID() RoomID { return r.id }

// Status 目前狀態
func (r *Room) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Joinable 是否可接受新玩家（registry 掃描用）
func (r *Room) Joinable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.joinableLocked()
}

func (r *Room) joinableLocked() bool {
	return !r.closed &&
		(r.status == StatusWaiting || r.status == StatusCounting) &&
		len(r.players) < r.cfg.Capacity
}

// Join 加入玩家
//
// 容量檢查與加入在同一臨界區完成。第一位玩家啟動倒數，
// 滿員時立即開局（倒數稍後到期會看到狀態已不是 counting 而放棄）。
func (r *Room) Join(playerID PlayerID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return apperrors.ErrRoomClosed.WithDetails(string(r.id))
	}
	if len(r.players) >= r.cfg.Capacity {
		return apperrors.ErrRoomFull.WithDetails(string(r.id))
	}
	if r.status != StatusWaiting && r.status != StatusCounting {
		return apperrors.ErrRoomClosed.WithDetails(string(r.id))
	}
	if _, exists := r.players[playerID]; exists {
		return apperrors.ErrAlreadyJoined.WithDetails(string(r.id))
	}

	now := r.clock.Now()
	x, y := r.spawnPoint()
	r.players[playerID] = &Occupant{
		ID:         playerID,
		Name:       name,
		X:          x,
		Y:          y,
		Color:      r.randomColor(),
		Weapon:     WeaponKnife,
		LastUpdate: now,
	}
	r.order = append(r.order, playerID)

	if r.status == StatusWaiting {
		r.status = StatusCounting
		r.countdownStartedAt = now
		r.lastSecondsLeft = r.countdownLeftLocked(now)
	}

	r.bc.SendTo(playerID, Event{Type: EventJoined, Data: Joined{
		RoomID:      r.id,
		PlayerID:    playerID,
		Status:      r.status,
		MaxPlayers:  r.cfg.Capacity,
		SecondsLeft: r.countdownLeftLocked(now),
	}})
	r.broadcastOccupancyLocked(now)

	if len(r.players) == r.cfg.Capacity {
		r.startLocked(now)
	}

	return nil
}

// Leave 移除玩家，返回剩餘的玩家與機器人總數
//
// 剩餘為 0 時由 registry 回收房間；對局中離開不補機器人。
func (r *Room) Leave(playerID PlayerID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[playerID]; !exists {
		return r.occupantsLocked(), apperrors.ErrUnknownPlayer.WithDetails(string(playerID))
	}

	delete(r.players, playerID)
	r.order = slices.DeleteFunc(r.order, func(id PlayerID) bool { return id == playerID })

	remaining := r.occupantsLocked()
	if remaining == 0 || r.closed {
		return remaining, nil
	}

	r.bc.Broadcast(r.id, slices.Clone(r.order), Event{Type: EventPlayerLeft, Data: PlayerLeft{
		PlayerID:     playerID,
		PlayersCount: len(r.players),
	}})
	r.broadcastOccupancyLocked(r.clock.Now())

	return remaining, nil
}

// Move 以固定速度沿 (dx, dy) 方向移動
//
// 只在 playing 狀態有效；方向向量會被正規化，客戶端無法靠放大向量加速。
// 位置變化由下一次 game_state 廣播送出。
func (r *Room) Move(playerID PlayerID, dx, dy float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.players[playerID]
	if !exists {
		return apperrors.ErrUnknownPlayer.WithDetails(string(playerID))
	}
	if r.status != StatusPlaying || r.closed {
		return nil
	}

	ux, uy, ok := normalize(dx, dy)
	if !ok {
		return nil
	}

	p.X, _ = clamp(p.X+ux*r.cfg.PlayerSpeed, r.minX(), r.maxX())
	p.Y, _ = clamp(p.Y+uy*r.cfg.PlayerSpeed, r.minY(), r.maxY())
	p.LastUpdate = r.clock.Now()

	return nil
}

// MoveDirection 以方向鍵移動
func (r *Room) MoveDirection(playerID PlayerID, dir Direction) error {
	dx, dy, ok := dir.Vector()
	if !ok {
		return apperrors.ErrMalformedRequest.WithDetails(fmt.Sprintf("unknown direction %q", dir))
	}
	return r.Move(playerID, dx, dy)
}

// SwitchWeapon 切換武器
func (r *Room) SwitchWeapon(playerID PlayerID, weapon Weapon) error {
	if !weapon.Valid() {
		return apperrors.ErrMalformedRequest.WithDetails(fmt.Sprintf("unknown weapon %q", weapon))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.players[playerID]
	if !exists {
		return apperrors.ErrUnknownPlayer.WithDetails(string(playerID))
	}
	if r.closed {
		return nil
	}

	p.Weapon = weapon
	p.LastUpdate = r.clock.Now()
	return nil
}

// Shoot 以目前位置與指定方向發射子彈
//
// 只有持槍時有效；結束後的房間不再接受射擊。子彈只保留最近 BulletRetention 顆。
func (r *Room) Shoot(playerID PlayerID, dirX, dirY float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.players[playerID]
	if !exists {
		return apperrors.ErrUnknownPlayer.WithDetails(string(playerID))
	}
	if r.closed || r.status == StatusFinished || p.Weapon != WeaponGun {
		return nil
	}

	ux, uy, ok := normalize(dirX, dirY)
	if !ok {
		return nil
	}

	now := r.clock.Now()
	r.bullets = append(r.bullets, Bullet{
		OwnerID:   playerID,
		X:         p.X,
		Y:         p.Y,
		DirX:      ux,
		DirY:      uy,
		CreatedAt: now,
	})
	if over := len(r.bullets) - r.cfg.BulletRetention; over > 0 {
		// 複製到開頭，避免底層陣列無限增長
		n := copy(r.bullets, r.bullets[over:])
		clear(r.bullets[n:])
		r.bullets = r.bullets[:n]
	}
	p.LastUpdate = now

	return nil
}

// Tick 推進時間，只由 ticker 呼叫
//
// 各狀態的行為：
//   - waiting：空房存在超過回收延遲即回收
//   - counting：倒數秒數變化時廣播人數；倒數到期開局
//   - playing：移動機器人、計分、依廣播間隔送 game_state，時間到則結算
//   - finished：寬限期到期通知回大廳並要求回收
func (r *Room) Tick(now time.Time, dt time.Duration) TickResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return TickResult{}
	}

	if r.occupantsLocked() == 0 && (r.status != StatusWaiting || now.Sub(r.createdAt) >= r.cfg.ReclaimDelay) {
		r.closed = true
		return TickResult{Reclaim: true}
	}

	switch r.status {
	case StatusCounting:
		if !now.Before(r.countdownStartedAt.Add(r.cfg.CountdownDuration)) {
			r.startLocked(now)
			return TickResult{}
		}
		if left := r.countdownLeftLocked(now); left != r.lastSecondsLeft {
			r.lastSecondsLeft = left
			r.broadcastOccupancyLocked(now)
		}

	case StatusPlaying:
		r.simulateLocked(now, dt)
		if !now.Before(r.gameStartedAt.Add(r.cfg.GameDuration)) {
			return TickResult{Result: r.finishLocked(now)}
		}
		if now.Sub(r.lastBroadcast) >= r.cfg.BroadcastInterval {
			r.lastBroadcast = now
			r.bc.Broadcast(r.id, slices.Clone(r.order), Event{Type: EventGameState, Data: GameState{Snapshot: r.snapshotLocked(now)}})
		}

	case StatusFinished:
		if now.Sub(r.finishedAt) >= r.cfg.ReclaimDelay {
			r.bc.Broadcast(r.id, slices.Clone(r.order), Event{Type: EventReturnToLobby, Data: ReturnToLobby{RoomID: r.id}})
			r.closed = true
			return TickResult{Reclaim: true}
		}
	}

	return TickResult{}
}

// Close 標記房間已回收，冪等
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Snapshot 返回目前狀態的副本
func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(r.clock.Now())
}

// RoomSummary 房間列表用的摘要
type RoomSummary struct {
	RoomID      RoomID    `json:"room_id"`
	Status      Status    `json:"status"`
	Players     int       `json:"current_players"`
	Bots        int       `json:"bots"`
	MaxPlayers  int       `json:"max_players"`
	SecondsLeft int       `json:"seconds_left"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary 返回房間摘要
func (r *Room) Summary() RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RoomSummary{
		RoomID:      r.id,
		Status:      r.status,
		Players:     len(r.players),
		Bots:        len(r.bots),
		MaxPlayers:  r.cfg.Capacity,
		SecondsLeft: r.secondsRemainingLocked(r.clock.Now()),
		CreatedAt:   r.createdAt,
	}
}

// startLocked counting → playing，冪等
//
// 倒數到期與滿員都會呼叫這裡，只有第一次會生效。
func (r *Room) startLocked(now time.Time) {
	if r.status != StatusCounting {
		return
	}

	r.status = StatusPlaying
	r.gameStartedAt = now
	r.lastBroadcast = now

	for needed := r.cfg.Capacity - len(r.players); needed > 0; needed-- {
		r.addBotLocked(now)
	}

	r.logger.Info("遊戲開始",
		"players", len(r.players),
		"bots", len(r.bots))

	r.bc.Broadcast(r.id, slices.Clone(r.order), Event{Type: EventGameStart, Data: GameStart{Snapshot: r.snapshotLocked(now)}})
}

// finishLocked playing → finished，計算勝者
func (r *Room) finishLocked(now time.Time) *MatchResult {
	r.status = StatusFinished
	r.finishedAt = now

	result := &MatchResult{
		RoomID:     r.id,
		StartedAt:  r.gameStartedAt,
		FinishedAt: now,
	}

	over := GameOver{Snapshot: r.snapshotLocked(now)}
	winner := r.winnerLocked()
	for _, o := range r.canonicalLocked() {
		result.Entries = append(result.Entries, ResultEntry{ID: o.ID, Name: o.Name, Score: o.Score, IsBot: o.IsBot})
	}
	if winner != nil {
		over.WinnerID = winner.ID
		over.WinnerName = winner.Name
		over.WinnerScore = winner.Score
		result.Winner = &ResultEntry{ID: winner.ID, Name: winner.Name, Score: winner.Score, IsBot: winner.IsBot}
	}

	r.logger.Info("遊戲結束",
		"winner", over.WinnerName,
		"score", over.WinnerScore)

	r.bc.Broadcast(r.id, slices.Clone(r.order), Event{Type: EventGameOver, Data: over})
	return result
}

// winnerLocked 分數嚴格最高者；同分取標準順序中第一位
func (r *Room) winnerLocked() *Occupant {
	var best *Occupant
	for _, o := range r.canonicalLocked() {
		if best == nil || o.Score > best.Score {
			best = o
		}
	}
	return best
}

// canonicalLocked 玩家（加入順序）+ 機器人（建立順序）
func (r *Room) canonicalLocked() []*Occupant {
	all := make([]*Occupant, 0, len(r.order)+len(r.botOrder))
	for _, id := range r.order {
		all = append(all, r.players[id])
	}
	for _, id := range r.botOrder {
		all = append(all, r.bots[id])
	}
	return all
}

// simulateLocked 機器人移動與計分
func (r *Room) simulateLocked(now time.Time, dt time.Duration) {
	step := r.cfg.BotSpeed * dt.Seconds()

	for _, id := range r.botOrder {
		b := r.bots[id]
		if r.rng.Float64() < r.cfg.BotTurnChance || !now.Before(b.NextTurn) {
			r.turnLocked(b, now)
		}

		var hitX, hitY bool
		b.X, hitX = clamp(b.X+b.DirX*step, r.minX(), r.maxX())
		b.Y, hitY = clamp(b.Y+b.DirY*step, r.minY(), r.maxY())
		if hitX || hitY {
			// 撞牆換方向，避免貼牆不動直到下次轉向
			r.turnLocked(b, now)
		}
		b.LastUpdate = now
	}

	// 抽象的道具拾取：每位參與者每 tick 以固定機率得 1 分
	for _, o := range r.canonicalLocked() {
		if r.rng.Float64() < r.cfg.ScoreChance {
			o.Score++
		}
	}
}

// addBotLocked 建立一個機器人
func (r *Room) addBotLocked(now time.Time) {
	r.botSeq++
	x, y := r.spawnPoint()
	b := &Occupant{
		ID:         PlayerID(fmt.Sprintf("%s-bot-%d", r.id, r.botSeq)),
		Name:       fmt.Sprintf("Bot_%d", r.botSeq),
		X:          x,
		Y:          y,
		Color:      r.randomColor(),
		Weapon:     WeaponKnife,
		IsBot:      true,
		LastUpdate: now,
	}
	r.turnLocked(b, now)

	r.bots[b.ID] = b
	r.botOrder = append(r.botOrder, b.ID)
}

// turnLocked 隨機新方向，並排定下一次轉向（BotTurnMin ~ BotTurnMax）
func (r *Room) turnLocked(b *Occupant, now time.Time) {
	angle := r.rng.Float64() * 2 * math.Pi
	b.DirX, b.DirY = math.Cos(angle), math.Sin(angle)

	span := r.cfg.BotTurnMax - r.cfg.BotTurnMin
	wait := r.cfg.BotTurnMin
	if span > 0 {
		wait += time.Duration(r.rng.Int64N(int64(span) + 1))
	}
	b.NextTurn = now.Add(wait)
}

func (r *Room) spawnPoint() (float64, float64) {
	m := r.cfg.SpawnMargin
	x := m + r.rng.Float64()*(r.cfg.FieldWidth-2*m)
	y := m + r.rng.Float64()*(r.cfg.FieldHeight-2*m)
	return x, y
}

func (r *Room) randomColor() string {
	return fmt.Sprintf("#%06x", r.rng.IntN(0x1000000))
}

func (r *Room) minX() float64 { return r.cfg.BoundMargin }
func (r *Room) maxX() float64 { return r.cfg.FieldWidth - r.cfg.BoundMargin }
func (r *Room) minY() float64 { return r.cfg.BoundMargin }
func (r *Room) maxY() float64 { return r.cfg.FieldHeight - r.cfg.BoundMargin }

func (r *Room) occupantsLocked() int {
	return len(r.players) + len(r.bots)
}

func (r *Room) broadcastOccupancyLocked(now time.Time) {
	r.bc.Broadcast(r.id, slices.Clone(r.order), Event{Type: EventRoomOccupancy, Data: Occupancy{
		RoomID:       r.id,
		Status:       r.status,
		PlayersCount: len(r.players),
		MaxPlayers:   r.cfg.Capacity,
		SecondsLeft:  r.countdownLeftLocked(now),
	}})
}

// countdownLeftLocked 倒數剩餘秒數（無條件進位），非倒數狀態為 0
func (r *Room) countdownLeftLocked(now time.Time) int {
	if r.status != StatusCounting {
		return 0
	}
	return ceilSeconds(r.countdownStartedAt.Add(r.cfg.CountdownDuration).Sub(now))
}

// secondsRemainingLocked 倒數中為倒數秒數，對局中為剩餘對局秒數
func (r *Room) secondsRemainingLocked(now time.Time) int {
	switch r.status {
	case StatusCounting:
		return r.countdownLeftLocked(now)
	case StatusPlaying:
		return ceilSeconds(r.gameStartedAt.Add(r.cfg.GameDuration).Sub(now))
	}
	return 0
}

func (r *Room) snapshotLocked(now time.Time) Snapshot {
	s := Snapshot{
		RoomID:           r.id,
		Status:           r.status,
		Players:          make(map[PlayerID]Occupant, len(r.players)),
		Bots:             make(map[PlayerID]Occupant, len(r.bots)),
		Bullets:          slices.Clone(r.bullets),
		SecondsRemaining: r.secondsRemainingLocked(now),
		MaxPlayers:       r.cfg.Capacity,
	}
	for id, p := range r.players {
		s.Players[id] = *p
	}
	for id, b := range r.bots {
		s.Bots[id] = *b
	}
	if s.Bullets == nil {
		s.Bullets = []Bullet{}
	}
	return s
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
