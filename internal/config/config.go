// Package config 載入房間伺服器配置
//
// 來源優先順序（後者覆蓋前者）：Default() → YAML 檔 → 環境變數 → 命令列旗標（main 處理）。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		NodeID          int64         `yaml:"node_id"` // snowflake 節點，多實例部署時必須不同
	} `yaml:"server"`

	Game GameConfig `yaml:"game"`

	WebSocket struct {
		ReadBufferSize  int           `yaml:"read_buffer_size"`
		WriteBufferSize int           `yaml:"write_buffer_size"`
		SendBuffer      int           `yaml:"send_buffer"`
		MaxMessageSize  int64         `yaml:"max_message_size"`
		PongWait        time.Duration `yaml:"pong_wait"`
		PingPeriod      time.Duration `yaml:"ping_period"`
		WriteWait       time.Duration `yaml:"write_wait"`
	} `yaml:"websocket"`

	Wire struct {
		Codec string `yaml:"codec"` // json 或 msgpack
	} `yaml:"wire"`

	RateLimit struct {
		Capacity   int64 `yaml:"capacity"`
		RefillRate int64 `yaml:"refill_rate"`
	} `yaml:"rate_limit"`

	Redis struct {
		Addr         string        `yaml:"addr"` // 空字串表示不啟用排行榜
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		KeyPrefix    string        `yaml:"key_prefix"`
	} `yaml:"redis"`

	Postgres struct {
		DSN      string `yaml:"dsn"` // 空字串表示不記錄戰績
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	NATS struct {
		URL        string        `yaml:"url"` // 空字串表示不發布事件
		Stream     string        `yaml:"stream"`
		Subject    string        `yaml:"subject"`
		MaxAge     time.Duration `yaml:"max_age"`
		StorageMem bool          `yaml:"storage_memory"`
	} `yaml:"nats"`

	Recorder struct {
		Buffer      int           `yaml:"buffer"`
		SinkTimeout time.Duration `yaml:"sink_timeout"`
	} `yaml:"recorder"`

	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Output    string `yaml:"output"`
		AddSource bool   `yaml:"add_source"`
	} `yaml:"log"`
}

// GameConfig 房間與模擬參數
type GameConfig struct {
	Capacity          int           `yaml:"capacity"`
	CountdownDuration time.Duration `yaml:"countdown_duration"`
	GameDuration      time.Duration `yaml:"game_duration"`
	ReclaimDelay      time.Duration `yaml:"reclaim_delay"`
	FieldWidth        float64       `yaml:"field_width"`
	FieldHeight       float64       `yaml:"field_height"`
	BoundMargin       float64       `yaml:"bound_margin"`
	SpawnMargin       float64       `yaml:"spawn_margin"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	BulletRetention   int           `yaml:"bullet_retention"`
	PlayerSpeed       float64       `yaml:"player_speed"` // 每次移動請求的位移
	BotSpeed          float64       `yaml:"bot_speed"`    // 每秒位移
	BotTurnChance     float64       `yaml:"bot_turn_chance"`
	BotTurnMin        time.Duration `yaml:"bot_turn_min"`
	BotTurnMax        time.Duration `yaml:"bot_turn_max"`
	ScoreChance       float64       `yaml:"score_chance"`
	Seed              int64         `yaml:"seed"` // 0 表示以時間為種子
}

// Default 返回預設配置
func Default() *Config {
	c := &Config{}

	c.Server.Port = 8080
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 30 * time.Second

	c.Game = DefaultGame()

	c.WebSocket.ReadBufferSize = 1024
	c.WebSocket.WriteBufferSize = 1024
	c.WebSocket.SendBuffer = 256
	c.WebSocket.MaxMessageSize = 4096
	c.WebSocket.PongWait = 60 * time.Second
	c.WebSocket.PingPeriod = 54 * time.Second
	c.WebSocket.WriteWait = 10 * time.Second

	c.Wire.Codec = "json"

	c.RateLimit.Capacity = 120
	c.RateLimit.RefillRate = 90

	c.Redis.DB = 0
	c.Redis.PoolSize = 10
	c.Redis.ReadTimeout = 3 * time.Second
	c.Redis.WriteTimeout = 3 * time.Second
	c.Redis.KeyPrefix = "arena:"

	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2

	c.NATS.Stream = "ARENA"
	c.NATS.Subject = "arena.match.finished"
	c.NATS.MaxAge = 7 * 24 * time.Hour

	c.Recorder.Buffer = 256
	c.Recorder.SinkTimeout = 5 * time.Second

	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Log.Output = "stdout"

	return c
}

// DefaultGame 返回預設遊戲參數
func DefaultGame() GameConfig {
	return GameConfig{
		Capacity:          6,
		CountdownDuration: 30 * time.Second,
		GameDuration:      150 * time.Second,
		ReclaimDelay:      5 * time.Second,
		FieldWidth:        800,
		FieldHeight:       600,
		BoundMargin:       0,
		SpawnMargin:       50,
		TickInterval:      33 * time.Millisecond,
		BroadcastInterval: 33 * time.Millisecond,
		BulletRetention:   64,
		PlayerSpeed:       5,
		BotSpeed:          90,
		BotTurnChance:     0.02,
		BotTurnMin:        2 * time.Second,
		BotTurnMax:        5 * time.Second,
		ScoreChance:       0.01,
	}
}

// Load 從 YAML 檔載入配置並套用環境變數
//
// path 為空時只使用預設值與環境變數。
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		// #nosec G304 - path 來自命令列旗標
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// applyEnv 環境變數覆蓋（生產環境常用）
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	return nil
}

// Validate 檢查配置合理性
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.NodeID < 0 || c.Server.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("server.node_id must be 0-1023: %d", c.Server.NodeID))
	}
	if err := c.Game.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Wire.Codec != "json" && c.Wire.Codec != "msgpack" {
		errs = append(errs, fmt.Errorf("wire.codec must be json or msgpack: %q", c.Wire.Codec))
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		errs = append(errs, errors.New("websocket.ping_period must be shorter than pong_wait"))
	}
	if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillRate <= 0 {
		errs = append(errs, errors.New("rate_limit capacity and refill_rate must be positive"))
	}

	return errors.Join(errs...)
}

// Validate 檢查遊戲參數
func (g GameConfig) Validate() error {
	var errs []error

	if g.Capacity < 1 {
		errs = append(errs, fmt.Errorf("game.capacity must be >= 1: %d", g.Capacity))
	}
	if g.CountdownDuration <= 0 || g.GameDuration <= 0 {
		errs = append(errs, errors.New("game durations must be positive"))
	}
	if g.FieldWidth <= 2*g.BoundMargin || g.FieldHeight <= 2*g.BoundMargin {
		errs = append(errs, errors.New("game field must be larger than twice the bound margin"))
	}
	if g.SpawnMargin < g.BoundMargin || g.FieldWidth <= 2*g.SpawnMargin || g.FieldHeight <= 2*g.SpawnMargin {
		errs = append(errs, errors.New("game.spawn_margin must lie inside the field and not below bound_margin"))
	}
	if g.TickInterval <= 0 || g.BroadcastInterval <= 0 {
		errs = append(errs, errors.New("game tick and broadcast intervals must be positive"))
	}
	if g.BulletRetention < 1 {
		errs = append(errs, errors.New("game.bullet_retention must be >= 1"))
	}
	if g.BotTurnMin <= 0 || g.BotTurnMax < g.BotTurnMin {
		errs = append(errs, errors.New("game bot turn interval invalid"))
	}
	for name, p := range map[string]float64{"bot_turn_chance": g.BotTurnChance, "score_chance": g.ScoreChance} {
		if p < 0 || p > 1 {
			errs = append(errs, fmt.Errorf("game.%s must be within [0,1]: %v", name, p))
		}
	}

	return errors.Join(errs...)
}
