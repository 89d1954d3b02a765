package game

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/wfunc/tile-arena/internal/game/puzzle"
	"github.com/wfunc/tile-arena/internal/models"
	"github.com/wfunc/tile-arena/internal/repository"
	"github.com/wfunc/tile-arena/internal/store"
)

// MoveRecord 已生效的移动
type MoveRecord struct {
	ParticipantID string           `json:"participantId"`
	MoveNumber    int              `json:"moveNumber"`
	Direction     puzzle.Direction `json:"direction"`
	Points        int              `json:"points"`
	Score         int              `json:"score"`
	At            time.Time        `json:"at"`
}

// Persister 对局持久化
type Persister interface {
	SaveMatch(ctx context.Context, m *store.Match) error
	SavePlayer(ctx context.Context, matchID string, p *store.Player) error
	AppendMove(ctx context.Context, matchID string, rec MoveRecord) error
	LoadMatch(ctx context.Context, matchID string) (*store.Match, error)
	LoadUnfinished(ctx context.Context) ([]*store.Match, error)
	ListMoves(ctx context.Context, matchID, participantID string) ([]MoveRecord, error)
}

// ErrNotPersisted 持久化层没有该对局
var ErrNotPersisted = stderrors.New("match not persisted")

// MemoryPersister 内存持久化，未配置数据库时使用
type MemoryPersister struct {
	mu      sync.RWMutex
	matches map[string]*store.Match
	moves   map[string][]MoveRecord
}

// NewMemoryPersister 创建内存持久化器
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{
		matches: make(map[string]*store.Match),
		moves:   make(map[string][]MoveRecord),
	}
}

// SaveMatch 保存对局，状态不回退，已定格或移动数更大的玩家不被覆盖
func (p *MemoryPersister) SaveMatch(ctx context.Context, m *store.Match) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := m.Clone()
	if prev, ok := p.matches[m.ID]; ok {
		if prev.Status.Rank() > next.Status.Rank() {
			return nil
		}
		for i := range next.Players {
			if saved, ok := prev.Player(next.Players[i].ParticipantID); ok && !saved.SupersededBy(&next.Players[i]) {
				next.Players[i] = *saved
			}
		}
	}
	p.matches[m.ID] = next
	return nil
}

// SavePlayer 保存玩家，过期的写入直接忽略
func (p *MemoryPersister) SavePlayer(ctx context.Context, matchID string, pl *store.Player) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.matches[matchID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPersisted, matchID)
	}
	next := m.Clone()
	if existing, ok := next.Player(pl.ParticipantID); ok {
		if !existing.SupersededBy(pl) {
			return nil
		}
		*existing = *pl
	} else {
		next.Players = append(next.Players, *pl)
	}
	p.matches[matchID] = next
	return nil
}

// AppendMove 追加移动
func (p *MemoryPersister) AppendMove(ctx context.Context, matchID string, rec MoveRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves[matchID] = append(p.moves[matchID], rec)
	return nil
}

// LoadMatch 加载对局
func (p *MemoryPersister) LoadMatch(ctx context.Context, matchID string) (*store.Match, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPersisted, matchID)
	}
	return m.Clone(), nil
}

// LoadUnfinished 加载未结束的对局
func (p *MemoryPersister) LoadUnfinished(ctx context.Context) ([]*store.Match, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*store.Match
	for _, m := range p.matches {
		if !m.Status.Terminal() {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListMoves 列出玩家移动
func (p *MemoryPersister) ListMoves(ctx context.Context, matchID, participantID string) ([]MoveRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []MoveRecord
	for _, rec := range p.moves[matchID] {
		if rec.ParticipantID == participantID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MoveNumber < out[j].MoveNumber })
	return out, nil
}

// DatabasePersister 数据库持久化
type DatabasePersister struct {
	repo repository.MatchRepository
}

// NewDatabasePersister 创建数据库持久化器
func NewDatabasePersister(repo repository.MatchRepository) *DatabasePersister {
	return &DatabasePersister{repo: repo}
}

// SaveMatch 保存对局及玩家
func (p *DatabasePersister) SaveMatch(ctx context.Context, m *store.Match) error {
	if err := p.repo.Save(ctx, MatchToModel(m)); err != nil {
		return fmt.Errorf("保存对局失败: %w", err)
	}
	return nil
}

// SavePlayer 保存玩家
func (p *DatabasePersister) SavePlayer(ctx context.Context, matchID string, pl *store.Player) error {
	if err := p.repo.SavePlayer(ctx, PlayerToModel(matchID, pl)); err != nil {
		return fmt.Errorf("保存玩家失败: %w", err)
	}
	return nil
}

// AppendMove 记录移动
func (p *DatabasePersister) AppendMove(ctx context.Context, matchID string, rec MoveRecord) error {
	move := &models.MatchMove{
		MatchID:       matchID,
		ParticipantID: rec.ParticipantID,
		MoveNumber:    rec.MoveNumber,
		Direction:     string(rec.Direction),
		Points:        rec.Points,
		Score:         rec.Score,
		CreatedAt:     rec.At,
	}
	if err := p.repo.AppendMove(ctx, move); err != nil {
		return fmt.Errorf("记录移动失败: %w", err)
	}
	return nil
}

// LoadMatch 加载对局
func (p *DatabasePersister) LoadMatch(ctx context.Context, matchID string) (*store.Match, error) {
	m, err := p.repo.FindByMatchID(ctx, matchID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotPersisted, matchID)
		}
		return nil, fmt.Errorf("加载对局失败: %w", err)
	}
	return MatchFromModel(m), nil
}

// LoadUnfinished 加载未结束的对局
func (p *DatabasePersister) LoadUnfinished(ctx context.Context) ([]*store.Match, error) {
	rows, err := p.repo.FindUnfinished(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载未结束对局失败: %w", err)
	}
	out := make([]*store.Match, 0, len(rows))
	for _, row := range rows {
		out = append(out, MatchFromModel(row))
	}
	return out, nil
}

// ListMoves 列出玩家移动
func (p *DatabasePersister) ListMoves(ctx context.Context, matchID, participantID string) ([]MoveRecord, error) {
	rows, err := p.repo.ListMoves(ctx, matchID, participantID)
	if err != nil {
		return nil, fmt.Errorf("查询移动失败: %w", err)
	}
	out := make([]MoveRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, MoveRecord{
			ParticipantID: row.ParticipantID,
			MoveNumber:    row.MoveNumber,
			Direction:     puzzle.Direction(row.Direction),
			Points:        row.Points,
			Score:         row.Score,
			At:            row.CreatedAt,
		})
	}
	return out, nil
}

// CachedPersister 带缓存的持久化器，写入先落存储再写缓存
type CachedPersister struct {
	cache   Persister
	storage Persister
}

// NewCachedPersister 创建带缓存的持久化器
func NewCachedPersister(cache, storage Persister) *CachedPersister {
	return &CachedPersister{cache: cache, storage: storage}
}

// SaveMatch 保存对局，缓存失败不影响结果
func (p *CachedPersister) SaveMatch(ctx context.Context, m *store.Match) error {
	if err := p.storage.SaveMatch(ctx, m); err != nil {
		return err
	}
	_ = p.cache.SaveMatch(ctx, m)
	return nil
}

// SavePlayer 保存玩家
func (p *CachedPersister) SavePlayer(ctx context.Context, matchID string, pl *store.Player) error {
	if err := p.storage.SavePlayer(ctx, matchID, pl); err != nil {
		return err
	}
	_ = p.cache.SavePlayer(ctx, matchID, pl)
	return nil
}

// AppendMove 记录移动
func (p *CachedPersister) AppendMove(ctx context.Context, matchID string, rec MoveRecord) error {
	if err := p.storage.AppendMove(ctx, matchID, rec); err != nil {
		return err
	}
	_ = p.cache.AppendMove(ctx, matchID, rec)
	return nil
}

// LoadMatch 优先读缓存
func (p *CachedPersister) LoadMatch(ctx context.Context, matchID string) (*store.Match, error) {
	if m, err := p.cache.LoadMatch(ctx, matchID); err == nil {
		return m, nil
	}
	m, err := p.storage.LoadMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	_ = p.cache.SaveMatch(ctx, m)
	return m, nil
}

// LoadUnfinished 恢复只信任存储层
func (p *CachedPersister) LoadUnfinished(ctx context.Context) ([]*store.Match, error) {
	return p.storage.LoadUnfinished(ctx)
}

// ListMoves 复盘只信任存储层
func (p *CachedPersister) ListMoves(ctx context.Context, matchID, participantID string) ([]MoveRecord, error) {
	return p.storage.ListMoves(ctx, matchID, participantID)
}

// MatchToModel 转换为数据库模型
func MatchToModel(m *store.Match) *models.Match {
	row := &models.Match{
		MatchID:          m.ID,
		RoomCode:         m.RoomCode,
		HostID:           m.HostID,
		Wager:            m.Wager,
		MaxPlayers:       m.MaxPlayers,
		CurrentPlayers:   m.CurrentPlayers(),
		TotalPot:         m.TotalPot,
		DurationSeconds:  int(m.Duration / time.Second),
		Status:           string(m.Status),
		Seed:             int64(m.Seed),
		RequiresApproval: m.RequiresApproval,
		Authoritative:    m.Authoritative,
		WinnerID:         m.WinnerID,
		StartedAt:        timePtr(m.StartedAt),
		EndedAt:          timePtr(m.EndedAt),
		Players:          make([]models.MatchPlayer, 0, len(m.Players)),
	}
	row.CreatedAt = m.CreatedAt
	for i := range m.Players {
		row.Players = append(row.Players, *PlayerToModel(m.ID, &m.Players[i]))
	}
	return row
}

// PlayerToModel 转换玩家
func PlayerToModel(matchID string, p *store.Player) *models.MatchPlayer {
	return &models.MatchPlayer{
		MatchID:       matchID,
		ParticipantID: p.ParticipantID,
		JoinOrder:     p.JoinOrder,
		Ready:         p.Ready,
		Score:         p.Puzzle.Score,
		HighestTile:   p.Puzzle.HighestTile,
		MoveCount:     p.Puzzle.MoveCount,
		GameOver:      p.Puzzle.GameOver,
		ReachedTarget: p.Puzzle.ReachedTarget,
		Grid:          models.GridJSON(p.Puzzle.Grid),
		Finalized:     p.Finalized,
		FinalGrid:     models.GridJSON(p.FinalGrid),
		JoinedAt:      p.JoinedAt,
	}
}

// MatchFromModel 从数据库模型还原
func MatchFromModel(row *models.Match) *store.Match {
	m := &store.Match{
		ID:               row.MatchID,
		RoomCode:         row.RoomCode,
		HostID:           row.HostID,
		Wager:            row.Wager,
		MaxPlayers:       row.MaxPlayers,
		TotalPot:         row.TotalPot,
		Duration:         time.Duration(row.DurationSeconds) * time.Second,
		Status:           store.Status(row.Status),
		Seed:             uint64(row.Seed),
		RequiresApproval: row.RequiresApproval,
		Authoritative:    row.Authoritative,
		WinnerID:         row.WinnerID,
		CreatedAt:        row.CreatedAt,
		Players:          make([]store.Player, 0, len(row.Players)),
	}
	if row.StartedAt != nil {
		m.StartedAt = *row.StartedAt
	}
	if row.EndedAt != nil {
		m.EndedAt = *row.EndedAt
	}
	for _, pr := range row.Players {
		m.Players = append(m.Players, store.Player{
			ParticipantID: pr.ParticipantID,
			JoinOrder:     pr.JoinOrder,
			Ready:         pr.Ready,
			Puzzle: puzzle.State{
				Grid:          puzzle.Grid(pr.Grid),
				Score:         pr.Score,
				MoveCount:     pr.MoveCount,
				HighestTile:   pr.HighestTile,
				GameOver:      pr.GameOver,
				ReachedTarget: pr.ReachedTarget,
			},
			Finalized: pr.Finalized,
			FinalGrid: puzzle.Grid(pr.FinalGrid),
			JoinedAt:  pr.JoinedAt,
		})
	}
	sort.Slice(m.Players, func(i, j int) bool { return m.Players[i].JoinOrder < m.Players[j].JoinOrder })
	return m
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var (
	_ Persister = (*MemoryPersister)(nil)
	_ Persister = (*DatabasePersister)(nil)
	_ Persister = (*CachedPersister)(nil)
)
