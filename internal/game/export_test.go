package game

// SetScore 測試用：直接設定玩家或機器人分數
func (r *Room) SetScore(id PlayerID, score int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.players[id]; ok {
		p.Score = score
		return true
	}
	if b, ok := r.bots[id]; ok {
		b.Score = score
		return true
	}
	return false
}

// BulletCap 測試用：子彈切片的底層容量
func (r *Room) BulletCap() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cap(r.bullets)
}
