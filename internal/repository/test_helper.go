package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wfunc/tile-arena/internal/game/puzzle"
	"github.com/wfunc/tile-arena/internal/models"
)

// SetupTestDB 使用内存数据库进行测试
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// 内存库每个连接都是独立的数据库
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Match{},
		&models.MatchPlayer{},
		&models.MatchMove{},
		&models.Settlement{},
	))

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// CreateTestMatch 创建测试对局
func CreateTestMatch(matchID, status string, players ...string) *models.Match {
	m := &models.Match{
		MatchID:         matchID,
		RoomCode:        "ABC234",
		HostID:          "host",
		Wager:           10,
		MaxPlayers:      2,
		DurationSeconds: 120,
		Status:          status,
		Seed:            42,
		Authoritative:   true,
	}
	for i, pid := range players {
		m.Players = append(m.Players, models.MatchPlayer{
			ParticipantID: pid,
			JoinOrder:     i + 1,
			Grid:          models.GridJSON(puzzle.Grid{{2, 0, 0, 2}}),
			JoinedAt:      time.Now(),
		})
	}
	m.CurrentPlayers = len(players)
	m.TotalPot = m.Wager * int64(len(players))
	return m
}
