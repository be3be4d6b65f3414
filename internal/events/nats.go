// Package events 把對局結束事件發布到 NATS JetStream
//
// 下游（戰績分析、賽事通知）各自建立 consumer 訂閱，房間伺服器不等待它們。
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/koopa0/system-design/14-arena-server/internal/game"
)

// Config 發布者配置
type Config struct {
	URL     string
	Stream  string
	Subject string
	MaxAge  time.Duration
	Memory  bool // true 使用 MemoryStorage
}

// MatchFinished 發布到 Subject 的訊息內容
type MatchFinished struct {
	game.MatchResult
	PublishedAt time.Time `json:"published_at"`
}

// Publisher JetStream 發布者，實作 record.Sink
type Publisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	logger  *slog.Logger
}

// NewPublisher 連線並確保 Stream 存在
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("arena-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	p := &Publisher{conn: conn, js: js, subject: cfg.Subject, logger: logger}
	if err := p.ensureStream(cfg); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("NATS 發布者已就緒",
		"stream", cfg.Stream,
		"subject", cfg.Subject)

	return p, nil
}

// ensureStream 不存在則建立，存在則更新配置
func (p *Publisher) ensureStream(cfg Config) error {
	storage := nats.FileStorage
	if cfg.Memory {
		storage = nats.MemoryStorage
	}

	sc := &nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Storage:    storage,
		MaxAge:     cfg.MaxAge,
		Replicas:   1,
		Duplicates: 2 * time.Minute,
	}

	_, err := p.js.StreamInfo(cfg.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := p.js.AddStream(sc); err != nil {
			return fmt.Errorf("add stream %s: %w", cfg.Stream, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stream info %s: %w", cfg.Stream, err)
	}

	if _, err := p.js.UpdateStream(sc); err != nil {
		return fmt.Errorf("update stream %s: %w", cfg.Stream, err)
	}
	return nil
}

// Name 實作 record.Sink
func (p *Publisher) Name() string { return "nats" }

// Save 同步發布並等待 PubAck
//
// Msg-Id 由房間 ID 與結束時間組成，重送時 JetStream 會在 Duplicates 視窗內去重。
func (p *Publisher) Save(ctx context.Context, result game.MatchResult) error {
	data, err := json.Marshal(MatchFinished{MatchResult: result, PublishedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}

	ack, err := p.js.Publish(p.subject, data,
		nats.Context(ctx),
		nats.MsgId(MessageID(result)))
	if err != nil {
		return fmt.Errorf("publish match: %w", err)
	}

	if ack.Duplicate {
		p.logger.Debug("重複的對局事件", "room_id", result.RoomID, "seq", ack.Sequence)
	}
	return nil
}

// MessageID 對局事件的去重鍵
func MessageID(result game.MatchResult) string {
	return fmt.Sprintf("%s-%d", result.RoomID, result.FinishedAt.UnixNano())
}

// Subscribe 以 durable consumer 訂閱對局事件，handler 成功才 ACK
func (p *Publisher) Subscribe(durable string, handler func(MatchFinished) error) (*nats.Subscription, error) {
	return p.js.Subscribe(p.subject, func(msg *nats.Msg) {
		var ev MatchFinished
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			p.logger.Error("無法解析對局事件", "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ev); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck(), nats.DeliverAll())
}

// Ping 連線狀態
func (p *Publisher) Ping(context.Context) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats not connected: %s", p.conn.Status())
	}
	return nil
}

// Close 送出緩衝後關閉連線
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
