// Package arena 提供一個權威式的即時多人對戰房間服務器。
//
// 客戶端透過 WebSocket 連線後送出 join，服務器自動配對到第一個可加入的房間。
// 所有位置、分數與勝負都由服務器決定，客戶端只送出意圖（移動、換武器、射擊）。
//
// 房間生命週期
//
// 每個房間都是一個只會前進的狀態機：
//   - waiting：剛建立，等待第一位玩家
//   - counting：倒數中，仍可加入；人數達到容量時立即開局
//   - playing：倒數結束時以機器人補滿容量，開始對局
//   - finished：時間用完，結算勝者，寬限期後通知回大廳並回收
//
// # 時間驅動
//
// 一個全域 ticker 以固定間隔推進所有房間：倒數、機器人移動、隨機計分、
// 狀態廣播與回收都在同一個迴圈完成，房間本身沒有任何計時器。
// 測試以 ManualClock 注入虛擬時間，整局對戰可以在毫秒內跑完。
//
// 戰績
//
// 對局結束的結果交給非同步記錄器，扇出到：
//   - PostgreSQL：完整戰績（matches、match_occupants）
//   - Redis：勝場排行榜與最近勝者
//   - NATS JetStream：arena.match.finished 事件，供下游訂閱
//
// 三者皆為可選，未配置時遊戲照常運作。
//
// 使用範例
//
// 啟動服務器：
//
//	go run ./cmd/server -config config.example.yaml
//
// 客戶端訊息（JSON 編碼）：
//
//	{"type":"join","data":{"name":"Alice"}}
//	{"type":"move","data":{"direction":"up"}}
//	{"type":"switch_weapon","data":{"weapon":"gun"}}
//	{"type":"shoot","data":{"dir_x":1,"dir_y":0}}
//
// 架構設計
//
// 系統採用分層架構設計：
//   - transport：WebSocket 連線、編解碼、限流，同時實作 Broadcaster
//   - game：房間、註冊表、ticker，不依賴任何網路程式碼
//   - record/store/events：戰績的非同步持久化
//   - handler：HTTP 查詢介面
package arena
