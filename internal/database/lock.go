package database

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/tile-arena/internal/logger"
)

const (
	lockAttempts   = 30
	lockRetryDelay = time.Second
	lockStaleAfter = 5 * time.Minute
)

// acquireMigrationLock 获取迁移锁
func acquireMigrationLock(dbPath string) (*os.File, error) {
	lockPath := dbPath + ".migration.lock"

	for i := 0; i < lockAttempts; i++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			logger.GetModuleLogger("database").Debug("获取迁移锁成功", zap.String("lock", lockPath))
			return lockFile, nil
		}

		if cleanupStaleLock(dbPath) {
			continue
		}
		time.Sleep(lockRetryDelay)
	}

	return nil, fmt.Errorf("无法获取迁移锁，可能有其他进程正在执行迁移")
}

// releaseMigrationLock 释放迁移锁
func releaseMigrationLock(lockFile *os.File) {
	if lockFile == nil {
		return
	}
	lockPath := lockFile.Name()
	_ = lockFile.Close()
	_ = os.Remove(lockPath)
	logger.GetModuleLogger("database").Debug("释放迁移锁", zap.String("lock", lockPath))
}

// cleanupStaleLock 删除过期锁文件，返回是否删除
func cleanupStaleLock(dbPath string) bool {
	lockPath := dbPath + ".migration.lock"
	info, err := os.Stat(lockPath)
	if err != nil || time.Since(info.ModTime()) <= lockStaleAfter {
		return false
	}
	logger.Warn("迁移锁文件过期，删除", zap.String("lock", lockPath))
	return os.Remove(lockPath) == nil
}

// sqlitePath SQLite文件路径，内存库或其他驱动返回空
func sqlitePath(db *gorm.DB) string {
	if db.Dialector.Name() != "sqlite" {
		return ""
	}
	sqlDB, err := db.DB()
	if err != nil {
		return ""
	}

	var seq int
	var name, file string
	if err := sqlDB.QueryRow("PRAGMA database_list").Scan(&seq, &name, &file); err != nil {
		return ""
	}
	return file
}
