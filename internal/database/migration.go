package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/tile-arena/internal/logger"
	"github.com/wfunc/tile-arena/internal/models"
)

// Models 需要迁移的模型
func Models() []interface{} {
	return []interface{}{
		&models.Match{},
		&models.MatchPlayer{},
		&models.MatchMove{},
		&models.Settlement{},
	}
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 多个进程共用同一个SQLite文件时用锁文件串行化迁移
	if path := sqlitePath(db); path != "" {
		cleanupStaleLock(path)
		lockFile, err := acquireMigrationLock(path)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer releaseMigrationLock(lockFile)
	}

	logger.Info("开始数据库迁移...")
	for _, model := range Models() {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
	}
	logger.Info("数据库迁移完成", zap.Int("models", len(Models())))
	return nil
}
