package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wfunc/tile-arena/internal/models"
)

// MatchRepository 对局仓储接口
type MatchRepository interface {
	BaseRepository
	// Save 按match_id写入对局及全部玩家
	Save(ctx context.Context, match *models.Match) error
	SavePlayer(ctx context.Context, player *models.MatchPlayer) error
	AppendMove(ctx context.Context, move *models.MatchMove) error
	FindByMatchID(ctx context.Context, matchID string) (*models.Match, error)
	FindByRoomCode(ctx context.Context, code string) (*models.Match, error)
	FindUnfinished(ctx context.Context) ([]*models.Match, error)
	List(ctx context.Context, status string, p *Pagination) ([]*models.Match, error)
	ListMoves(ctx context.Context, matchID, participantID string) ([]*models.MatchMove, error)
}

// matchRepo 对局仓储实现
type matchRepo struct {
	*BaseRepo
}

// NewMatchRepository 创建对局仓储
func NewMatchRepository(db *gorm.DB) MatchRepository {
	return &matchRepo{BaseRepo: NewBaseRepo(db)}
}

var (
	matchUpsertColumns = []string{
		"room_code", "host_id", "wager", "max_players", "current_players", "total_pot",
		"duration_seconds", "status", "seed", "requires_approval", "authoritative",
		"winner_id", "started_at", "ended_at", "updated_at",
	}
	playerUpsertColumns = []string{
		"join_order", "ready", "score", "highest_tile", "move_count", "game_over",
		"reached_target", "grid", "finalized", "final_grid", "updated_at",
	}
)

// Save 写入对局，状态回退的写入被忽略
func (r *matchRepo) Save(ctx context.Context, match *models.Match) error {
	return r.Transaction(ctx, func(tx *gorm.DB) error {
		var stored models.Match
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("status").
			Where("match_id = ?", match.MatchID).
			Take(&stored).Error
		switch {
		case err == nil:
			if models.MatchStatusRank(stored.Status) > models.MatchStatusRank(match.Status) {
				return nil
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		err = tx.Omit("Players").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "match_id"}},
			DoUpdates: clause.AssignmentColumns(matchUpsertColumns),
		}).Create(match).Error
		if err != nil {
			return err
		}

		for i := range match.Players {
			match.Players[i].MatchID = match.MatchID
			if err := upsertPlayer(tx, &match.Players[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// SavePlayer 写入单个玩家
func (r *matchRepo) SavePlayer(ctx context.Context, player *models.MatchPlayer) error {
	return r.Transaction(ctx, func(tx *gorm.DB) error {
		return upsertPlayer(tx, player)
	})
}

// upsertPlayer 已定格或移动数更大的行不会被覆盖
func upsertPlayer(tx *gorm.DB, player *models.MatchPlayer) error {
	var stored models.MatchPlayer
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("finalized", "move_count").
		Where("match_id = ? AND participant_id = ?", player.MatchID, player.ParticipantID).
		Take(&stored).Error
	switch {
	case err == nil:
		if !stored.SupersededBy(player) {
			return nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "match_id"}, {Name: "participant_id"}},
		DoUpdates: clause.AssignmentColumns(playerUpsertColumns),
	}).Create(player).Error
}

// AppendMove 记录一步移动
func (r *matchRepo) AppendMove(ctx context.Context, move *models.MatchMove) error {
	return r.db.WithContext(ctx).Create(move).Error
}

// FindByMatchID 根据对局ID查找
func (r *matchRepo) FindByMatchID(ctx context.Context, matchID string) (*models.Match, error) {
	var match models.Match
	err := r.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("join_order ASC") }).
		Where("match_id = ?", matchID).
		First(&match).Error
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// FindByRoomCode 根据房间码查找最近的对局
func (r *matchRepo) FindByRoomCode(ctx context.Context, code string) (*models.Match, error) {
	var match models.Match
	err := r.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("join_order ASC") }).
		Where("room_code = ?", code).
		Order("created_at DESC").
		First(&match).Error
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// FindUnfinished 查找未结束的对局
func (r *matchRepo) FindUnfinished(ctx context.Context) ([]*models.Match, error) {
	var matches []*models.Match
	err := r.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("join_order ASC") }).
		Where("status IN ?", []string{models.MatchStatusOpen, models.MatchStatusStarting, models.MatchStatusInProgress}).
		Order("created_at ASC").
		Find(&matches).Error
	return matches, err
}

// List 分页查询对局
func (r *matchRepo) List(ctx context.Context, status string, p *Pagination) ([]*models.Match, error) {
	var matches []*models.Match
	query := r.db.WithContext(ctx).Model(&models.Match{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&p.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("join_order ASC") }).
		Order("created_at DESC").
		Scopes(Paginate(p)).
		Find(&matches).Error
	return matches, err
}

// ListMoves 按顺序列出玩家的移动
func (r *matchRepo) ListMoves(ctx context.Context, matchID, participantID string) ([]*models.MatchMove, error) {
	var moves []*models.MatchMove
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND participant_id = ?", matchID, participantID).
		Order("move_number ASC").
		Find(&moves).Error
	return moves, err
}
