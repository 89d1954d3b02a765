package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Manager 仓储管理器，懒加载各仓储实例
type Manager struct {
	db *gorm.DB

	matchOnce sync.Once
	match     MatchRepository

	settlementOnce sync.Once
	settlement     SettlementRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Match 对局仓储
func (m *Manager) Match() MatchRepository {
	m.matchOnce.Do(func() {
		m.match = NewMatchRepository(m.db)
	})
	return m.match
}

// Settlement 结算仓储
func (m *Manager) Settlement() SettlementRepository {
	m.settlementOnce.Do(func() {
		m.settlement = NewSettlementRepository(m.db)
	})
	return m.settlement
}
