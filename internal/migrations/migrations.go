// Package migrations 管理戰績資料表的結構遷移
//
// 遷移檔以 embed 打包進執行檔，部署時不需要另外攜帶 SQL。
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed all:migrations
var migrationsFS embed.FS

// Migrator 管理資料庫遷移
type Migrator struct {
	migrate *migrate.Migrate
	logger  *slog.Logger
}

// New 建立遷移管理器，databaseURL 必須是 postgres:// 形式
func New(databaseURL string, logger *slog.Logger) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{migrate: m, logger: logger}, nil
}

// Run 建立遷移器、升到最新版本並關閉
func Run(databaseURL string, logger *slog.Logger) error {
	m, err := New(databaseURL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("關閉遷移器失敗", "error", err)
		}
	}()
	return m.Up()
}

// Up 執行所有待處理的遷移
//
// 上次遷移中斷留下的髒狀態會先強制回到該版本再重試。
func (m *Migrator) Up() error {
	version, dirty, err := m.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}

	if dirty {
		m.logger.Warn("資料庫處於髒狀態，嘗試修復", "version", version)
		if version > math.MaxInt32 {
			return fmt.Errorf("schema version out of range: %d", version)
		}
		if err := m.migrate.Force(int(version)); err != nil {
			return fmt.Errorf("force schema version %d: %w", version, err)
		}
	}

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("資料庫已是最新版本", "version", version)
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}

	newVersion, _, _ := m.migrate.Version()
	m.logger.Info("資料庫遷移成功", "version", newVersion)
	return nil
}

// Down 回滾一個版本
func (m *Migrator) Down() error {
	if err := m.migrate.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version 目前版本
func (m *Migrator) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Close 關閉遷移器
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}
