package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wfunc/tile-arena/internal/models"
)

// SettlementRepository 结算记录仓储接口
type SettlementRepository interface {
	BaseRepository
	// CreateIfAbsent 每个对局只保留一条记录，返回已有或新建的记录
	CreateIfAbsent(ctx context.Context, s *models.Settlement) (*models.Settlement, error)
	FindByMatchID(ctx context.Context, matchID string) (*models.Settlement, error)
	MarkAttempt(ctx context.Context, matchID string, lastErr error) error
	MarkSent(ctx context.Context, matchID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, matchID string, lastErr error) error
	ListPending(ctx context.Context, limit int) ([]*models.Settlement, error)
}

type settlementRepo struct {
	*BaseRepo
}

// NewSettlementRepository 创建结算记录仓储
func NewSettlementRepository(db *gorm.DB) SettlementRepository {
	return &settlementRepo{BaseRepo: NewBaseRepo(db)}
}

// CreateIfAbsent 不存在时创建
func (r *settlementRepo) CreateIfAbsent(ctx context.Context, s *models.Settlement) (*models.Settlement, error) {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(s).Error; err != nil {
		return nil, err
	}
	return r.FindByMatchID(ctx, s.MatchID)
}

// FindByMatchID 根据对局ID查找
func (r *settlementRepo) FindByMatchID(ctx context.Context, matchID string) (*models.Settlement, error) {
	var s models.Settlement
	if err := r.db.WithContext(ctx).Where("match_id = ?", matchID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkAttempt 记录一次发送尝试
func (r *settlementRepo) MarkAttempt(ctx context.Context, matchID string, lastErr error) error {
	updates := map[string]interface{}{
		"attempts": gorm.Expr("attempts + 1"),
	}
	if lastErr != nil {
		updates["last_error"] = truncate(lastErr.Error(), 500)
	}
	return r.db.WithContext(ctx).Model(&models.Settlement{}).
		Where("match_id = ?", matchID).
		Updates(updates).Error
}

// MarkSent 标记已发送
func (r *settlementRepo) MarkSent(ctx context.Context, matchID string, sentAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Settlement{}).
		Where("match_id = ?", matchID).
		Updates(map[string]interface{}{
			"status":     models.SettlementSent,
			"sent_at":    sentAt,
			"last_error": "",
		}).Error
}

// MarkFailed 标记最终失败
func (r *settlementRepo) MarkFailed(ctx context.Context, matchID string, lastErr error) error {
	msg := ""
	if lastErr != nil {
		msg = truncate(lastErr.Error(), 500)
	}
	return r.db.WithContext(ctx).Model(&models.Settlement{}).
		Where("match_id = ?", matchID).
		Updates(map[string]interface{}{
			"status":     models.SettlementFailed,
			"last_error": msg,
		}).Error
}

// ListPending 未完成的结算，按创建顺序
func (r *settlementRepo) ListPending(ctx context.Context, limit int) ([]*models.Settlement, error) {
	var out []*models.Settlement
	query := r.db.WithContext(ctx).
		Where("status = ?", models.SettlementPending).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&out).Error
	return out, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
