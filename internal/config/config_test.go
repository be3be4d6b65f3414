package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-arena-server/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault 測試預設值
func TestDefault(t *testing.T) {
	c := config.Default()

	assert.Equal(t, 6, c.Game.Capacity)
	assert.Equal(t, 30*time.Second, c.Game.CountdownDuration)
	assert.Equal(t, 150*time.Second, c.Game.GameDuration)
	assert.Equal(t, 800.0, c.Game.FieldWidth)
	assert.Equal(t, 600.0, c.Game.FieldHeight)
	assert.GreaterOrEqual(t, c.Game.BroadcastInterval, 16*time.Millisecond)
	assert.LessOrEqual(t, c.Game.BroadcastInterval, 33*time.Millisecond)
	assert.GreaterOrEqual(t, c.Game.BulletRetention, 50)
	assert.LessOrEqual(t, c.Game.BulletRetention, 100)
	assert.Equal(t, "json", c.Wire.Codec)

	require.NoError(t, c.Validate())
}

// TestLoad_YAMLOverlay 測試 YAML 覆蓋預設值
func TestLoad_YAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
game:
  capacity: 4
  countdown_duration: 10s
  broadcast_interval: 16ms
wire:
  codec: msgpack
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 4, c.Game.Capacity)
	assert.Equal(t, 10*time.Second, c.Game.CountdownDuration)
	assert.Equal(t, 16*time.Millisecond, c.Game.BroadcastInterval)
	assert.Equal(t, "msgpack", c.Wire.Codec)
	assert.Equal(t, "debug", c.Log.Level)

	// 未指定的欄位保留預設
	assert.Equal(t, 150*time.Second, c.Game.GameDuration)
	assert.Equal(t, 64, c.Game.BulletRetention)
}

// TestLoad_EnvOverride 測試環境變數覆蓋
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/arena?sslmode=disable")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("NATS_URL", "nats://bus:4222")

	c, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, c.Server.Port)
	assert.Equal(t, "postgres://u:p@db:5432/arena?sslmode=disable", c.Postgres.DSN)
	assert.Equal(t, "cache:6379", c.Redis.Addr)
	assert.Equal(t, "nats://bus:4222", c.NATS.URL)
}

// TestLoad_Errors 測試錯誤情況
func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "invalid yaml",
			content: "game: [",
			errMsg:  "parse config",
		},
		{
			name:    "zero capacity",
			content: "game:\n  capacity: 0\n",
			errMsg:  "game.capacity",
		},
		{
			name:    "unknown codec",
			content: "wire:\n  codec: xml\n",
			errMsg:  "wire.codec",
		},
		{
			name:    "probability out of range",
			content: "game:\n  score_chance: 1.5\n",
			errMsg:  "score_chance",
		},
		{
			name:    "ping longer than pong",
			content: "websocket:\n  ping_period: 2m\n",
			errMsg:  "ping_period",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := config.Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config file")
	})
}
