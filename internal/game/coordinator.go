package game

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/game/puzzle"
	"github.com/wfunc/tile-arena/internal/store"
	"github.com/wfunc/tile-arena/internal/utils"
)

// Options 协调器参数
type Options struct {
	Countdown         time.Duration
	Duration          time.Duration
	DefaultMaxPlayers int
	FinalizeRetries   int
	FinalizeBackoff   time.Duration
	// TaskTimeout 定时任务回调的超时时间
	TaskTimeout time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Countdown:         5 * time.Second,
		Duration:          120 * time.Second,
		DefaultMaxPlayers: 2,
		FinalizeRetries:   5,
		FinalizeBackoff:   200 * time.Millisecond,
		TaskTimeout:       30 * time.Second,
	}
}

// CreateMatchRequest 创建对局请求
type CreateMatchRequest struct {
	HostID     string
	Wager      int64
	MaxPlayers int
	// Duration 为0时使用默认时长
	Duration time.Duration
}

// Coordinator 对局生命周期协调器
type Coordinator struct {
	store     store.Store
	publisher Publisher
	scheduler TaskScheduler
	persister Persister
	settler   Settler
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// CoordinatorOption 协调器选项
type CoordinatorOption func(*Coordinator)

// WithPersister 指定持久化器
func WithPersister(p Persister) CoordinatorOption {
	return func(c *Coordinator) { c.persister = p }
}

// WithSettler 指定结算投递
func WithSettler(s Settler) CoordinatorOption {
	return func(c *Coordinator) { c.settler = s }
}

// WithScheduler 指定调度器
func WithScheduler(s TaskScheduler) CoordinatorOption {
	return func(c *Coordinator) { c.scheduler = s }
}

// WithLogger 指定日志
func WithLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithNow 指定时钟
func WithNow(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator 创建协调器
func NewCoordinator(st store.Store, publisher Publisher, opts Options, options ...CoordinatorOption) *Coordinator {
	def := DefaultOptions()
	if opts.Duration <= 0 {
		opts.Duration = def.Duration
	}
	if opts.Countdown < 0 {
		opts.Countdown = 0
	}
	if opts.DefaultMaxPlayers == 0 {
		opts.DefaultMaxPlayers = def.DefaultMaxPlayers
	}
	if opts.FinalizeRetries < 1 {
		opts.FinalizeRetries = 1
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = def.TaskTimeout
	}
	if publisher == nil {
		publisher = MultiPublisher()
	}

	c := &Coordinator{
		store:     st,
		publisher: publisher,
		opts:      opts,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range options {
		o(c)
	}
	if c.scheduler == nil {
		c.scheduler = NewScheduler()
	}
	if c.persister == nil {
		c.persister = NewMemoryPersister()
	}
	return c
}

// Store 底层状态存储
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Persister 持久化器
func (c *Coordinator) Persister() Persister {
	return c.persister
}

// CreateMatch 创建对局
func (c *Coordinator) CreateMatch(ctx context.Context, req CreateMatchRequest) (*MatchView, error) {
	if req.Wager < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidWager, "wager=%d", req.Wager)
	}
	maxPlayers := req.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = c.opts.DefaultMaxPlayers
	}
	if maxPlayers < 2 || maxPlayers > 4 {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "maxPlayers=%d", maxPlayers)
	}
	duration := req.Duration
	if duration <= 0 {
		duration = c.opts.Duration
	}

	m, err := c.store.CreateMatch(ctx, store.NewMatch{
		HostID:     req.HostID,
		Wager:      req.Wager,
		MaxPlayers: maxPlayers,
		Duration:   duration,
	})
	if err != nil {
		return nil, translate(err, opRead)
	}

	c.persistMatch(ctx, m)
	c.logger.Info("创建对局",
		zap.String("match_id", m.ID),
		zap.String("room_code", m.RoomCode),
		zap.String("host_id", m.HostID),
		zap.Int64("wager", m.Wager),
		zap.Int("max_players", m.MaxPlayers))
	return NewMatchView(m), nil
}

// JoinMatch 加入对局
func (c *Coordinator) JoinMatch(ctx context.Context, matchID, participantID string) (*MatchView, error) {
	if participantID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "participantId为空")
	}
	m, p, err := c.store.AddPlayer(ctx, matchID, participantID)
	if err != nil {
		return nil, translate(err, opJoin)
	}

	c.persistMatch(ctx, m)
	c.publish(ctx, EventPlayerJoined, matchID, PlayerJoinedPayload{
		ParticipantID:  p.ParticipantID,
		JoinOrder:      p.JoinOrder,
		CurrentPlayers: m.CurrentPlayers(),
		MaxPlayers:     m.MaxPlayers,
		TotalPot:       m.TotalPot,
	})
	c.logger.Info("玩家加入",
		zap.String("match_id", matchID),
		zap.String("participant_id", participantID),
		zap.Int("join_order", p.JoinOrder))
	return NewMatchView(m), nil
}

// JoinByCode 通过房间码加入
func (c *Coordinator) JoinByCode(ctx context.Context, code, participantID string) (*MatchView, error) {
	normalized := utils.NormalizeRoomCode(code)
	if !utils.ValidateRoomCode(normalized) {
		return nil, apperrors.Newf(apperrors.ErrInvalidRoomCode, "code=%s", code)
	}
	m, err := c.store.GetMatchByRoomCode(ctx, normalized)
	if err != nil {
		return nil, translate(err, opJoin)
	}
	return c.JoinMatch(ctx, m.ID, participantID)
}

// SetReady 修改准备状态；满员且全部准备时进入倒计时
func (c *Coordinator) SetReady(ctx context.Context, matchID, participantID string, ready bool) (*MatchView, error) {
	m, err := c.store.SetReady(ctx, matchID, participantID, ready)
	if err != nil {
		return nil, translate(err, opReady)
	}
	if p, ok := m.Player(participantID); ok {
		c.persistPlayer(ctx, matchID, p)
	}
	c.publish(ctx, EventReadyChanged, matchID, ReadyChangedPayload{
		ParticipantID: participantID,
		Ready:         ready,
	})

	started, err := c.tryStart(ctx, matchID)
	if err != nil {
		return nil, translate(err, opReady)
	}
	if started {
		if m, err = c.store.GetMatch(ctx, matchID); err != nil {
			return nil, translate(err, opRead)
		}
	}
	return NewMatchView(m), nil
}

// tryStart 在CAS内复查满员且全部准备，只有一个调用方能成功
func (c *Coordinator) tryStart(ctx context.Context, matchID string) (bool, error) {
	var snapshot *store.Match
	moved, err := c.fire(ctx, matchID, store.StatusOpen, LifecycleAllReady, func(m *store.Match) error {
		if !m.Full() || !m.AllReady() {
			return store.ErrGuardFailed
		}
		snapshot = m.Clone()
		return nil
	})
	if err != nil || !moved {
		return false, err
	}

	snapshot.Status = store.StatusStarting
	c.persistMatch(ctx, snapshot)
	c.publish(ctx, EventMatchStarting, matchID, MatchStartingPayload{
		CountdownSeconds: int(c.opts.Countdown / time.Second),
	})
	c.scheduleCountdown(matchID, c.opts.Countdown)
	return true, nil
}

// BeginPlay 倒计时结束，开始对局。match-started在CAS内发布，先于任何移动事件
func (c *Coordinator) BeginPlay(ctx context.Context, matchID string) (bool, error) {
	now := c.now()
	var snapshot *store.Match
	moved, err := c.fire(ctx, matchID, store.StatusStarting, LifecycleCountdownElapsed, func(m *store.Match) error {
		m.StartedAt = now
		players := make([]PlayerView, 0, len(m.Players))
		for i := range m.Players {
			p := &m.Players[i]
			p.Puzzle = puzzle.NewGame(puzzle.NewSource(m.Seed, uint64(p.JoinOrder), 0))
			players = append(players, NewPlayerView(p))
		}
		c.publish(ctx, EventMatchStarted, matchID, MatchStartedPayload{
			StartTimestamp:  now.UnixMilli(),
			DurationSeconds: int(m.Duration / time.Second),
			EndsAt:          m.EndsAt().UnixMilli(),
			Players:         players,
		})
		snapshot = m.Clone()
		return nil
	})
	if err != nil {
		return false, translate(err, opRead)
	}
	if !moved {
		return false, nil
	}

	snapshot.Status = store.StatusInProgress
	c.persistMatch(ctx, snapshot)
	c.scheduleTimer(matchID, snapshot.Duration)
	return true, nil
}

// EndMatch 计时结束，结算对局。重复调用只有一次生效
func (c *Coordinator) EndMatch(ctx context.Context, matchID string) (bool, error) {
	endedAt := c.now()
	var snapshot *store.Match
	moved, err := c.fire(ctx, matchID, store.StatusInProgress, LifecycleTimerExpired, func(m *store.Match) error {
		m.EndedAt = endedAt
		snapshot = m.Clone()
		return nil
	})
	if err != nil {
		return false, translate(err, opRead)
	}
	if !moved {
		return false, nil
	}
	c.scheduler.CancelMatch(matchID)

	result := BuildResult(snapshot.Players, endedAt)
	if err := c.finalize(ctx, matchID, result); err != nil {
		c.logger.Error("对局结算持久化失败，需要人工对账",
			zap.String("match_id", matchID),
			zap.String("winner_id", result.WinnerID),
			zap.Int("attempts", c.opts.FinalizeRetries),
			zap.Error(err))
		c.degrade(ctx, matchID, err)
	}

	payload := MatchEndedPayload{
		WinnerID:      result.WinnerID,
		RankedPlayers: NewRankedViews(result.Ranked),
	}
	if w, ok := result.Winner(); ok {
		payload.WinnerScore = w.Score
		payload.WinnerTile = w.HighestTile
	}
	c.publish(ctx, EventMatchEnded, matchID, payload)
	c.logger.Info("对局结束",
		zap.String("match_id", matchID),
		zap.String("winner_id", result.WinnerID),
		zap.Int("winner_score", payload.WinnerScore),
		zap.Int("winner_tile", payload.WinnerTile))

	if snapshot.Wager > 0 {
		c.settle(ctx, SettlementRequest{
			MatchID:      matchID,
			Kind:         SettlementPayout,
			WinnerID:     result.WinnerID,
			Wager:        snapshot.Wager,
			TotalPot:     snapshot.TotalPot,
			Participants: participantIDs(snapshot),
			At:           endedAt,
		})
	}
	return true, nil
}

// finalize 用同一份结果有限次重试写入
func (c *Coordinator) finalize(ctx context.Context, matchID string, result store.Result) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.FinalizeRetries; attempt++ {
		lastErr = c.finalizeOnce(ctx, matchID, result)
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("对局结算写入失败",
			zap.String("match_id", matchID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt == c.opts.FinalizeRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ctx.Err(), lastErr)
		case <-time.After(c.opts.FinalizeBackoff * time.Duration(attempt)):
		}
	}
	return lastErr
}

func (c *Coordinator) finalizeOnce(ctx context.Context, matchID string, result store.Result) error {
	if err := c.store.Finalize(ctx, matchID, result); err != nil {
		return err
	}
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	return c.persister.SaveMatch(ctx, m)
}

// CancelMatch 开始前取消对局；requester为空表示系统取消
func (c *Coordinator) CancelMatch(ctx context.Context, matchID, requester, reason string) (*MatchView, error) {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, translate(err, opCancel)
	}
	if requester != "" && requester != m.HostID {
		return nil, apperrors.Newf(apperrors.ErrNotHost, "participant=%s", requester)
	}

	endedAt := c.now()
	var snapshot *store.Match
	mutate := func(m *store.Match) error {
		m.EndedAt = endedAt
		snapshot = m.Clone()
		return nil
	}
	moved := false
	for _, from := range []store.Status{store.StatusOpen, store.StatusStarting} {
		if moved, err = c.fire(ctx, matchID, from, LifecycleCancel, mutate); err != nil {
			return nil, translate(err, opCancel)
		}
		if moved {
			break
		}
	}
	if !moved {
		cur, err := c.store.GetMatch(ctx, matchID)
		if err != nil {
			return nil, translate(err, opCancel)
		}
		return nil, translate(&store.StatusError{MatchID: matchID, Status: cur.Status}, opCancel)
	}

	c.scheduler.CancelMatch(matchID)
	snapshot.Status = store.StatusCancelled
	c.persistMatch(ctx, snapshot)
	c.publish(ctx, EventMatchCancelled, matchID, MatchCancelledPayload{
		CancelledBy: requester,
		Reason:      reason,
	})
	c.logger.Info("对局取消",
		zap.String("match_id", matchID),
		zap.String("requester", requester),
		zap.String("reason", reason))

	if snapshot.Wager > 0 && len(snapshot.Players) > 0 {
		c.settle(ctx, SettlementRequest{
			MatchID:      matchID,
			Kind:         SettlementRefund,
			Wager:        snapshot.Wager,
			TotalPot:     snapshot.TotalPot,
			Participants: participantIDs(snapshot),
			At:           endedAt,
		})
	}
	return NewMatchView(snapshot), nil
}

// Snapshot 对局快照
func (c *Coordinator) Snapshot(ctx context.Context, matchID string) (*MatchView, error) {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, translate(err, opRead)
	}
	return NewMatchView(m), nil
}

// SnapshotByCode 按房间码查询快照
func (c *Coordinator) SnapshotByCode(ctx context.Context, code string) (*MatchView, error) {
	m, err := c.store.GetMatchByRoomCode(ctx, code)
	if err != nil {
		return nil, translate(err, opRead)
	}
	return NewMatchView(m), nil
}

// ListMatches 列出对局
func (c *Coordinator) ListMatches(ctx context.Context, filter store.Filter) ([]*MatchView, error) {
	ms, err := c.store.ListMatches(ctx, filter)
	if err != nil {
		return nil, translate(err, opRead)
	}
	out := make([]*MatchView, 0, len(ms))
	for _, m := range ms {
		out = append(out, NewMatchView(m))
	}
	return out, nil
}

// Shutdown 停止定时任务
func (c *Coordinator) Shutdown() {
	if s, ok := c.scheduler.(interface{ Stop() }); ok {
		s.Stop()
	}
}

func (c *Coordinator) scheduleCountdown(matchID string, delay time.Duration) {
	c.scheduler.Schedule(matchID, TaskCountdown, delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.TaskTimeout)
		defer cancel()
		if _, err := c.BeginPlay(ctx, matchID); err != nil {
			c.logger.Error("开始对局失败", zap.String("match_id", matchID), zap.Error(err))
		}
	})
}

func (c *Coordinator) scheduleTimer(matchID string, delay time.Duration) {
	c.scheduler.Schedule(matchID, TaskTimer, delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.TaskTimeout)
		defer cancel()
		if _, err := c.EndMatch(ctx, matchID); err != nil {
			c.logger.Error("结束对局失败", zap.String("match_id", matchID), zap.Error(err))
		}
	})
}

func (c *Coordinator) publish(ctx context.Context, t EventType, matchID string, data interface{}) {
	c.publisher.Publish(ctx, matchID, NewEvent(t, matchID, data, c.now()))
}

func (c *Coordinator) settle(ctx context.Context, req SettlementRequest) {
	if c.settler == nil {
		return
	}
	if err := c.settler.Enqueue(ctx, req); err != nil {
		c.logger.Error("结算请求投递失败",
			zap.String("match_id", req.MatchID),
			zap.String("kind", string(req.Kind)),
			zap.Error(err))
	}
}

func (c *Coordinator) persistMatch(ctx context.Context, m *store.Match) {
	if err := c.persister.SaveMatch(ctx, m); err != nil {
		c.degrade(ctx, m.ID, err)
	}
}

func (c *Coordinator) persistPlayer(ctx context.Context, matchID string, p *store.Player) {
	if err := c.persister.SavePlayer(ctx, matchID, p); err != nil {
		c.degrade(ctx, matchID, err)
	}
}

// degrade 持久化失败后标记对局状态不再权威
func (c *Coordinator) degrade(ctx context.Context, matchID string, cause error) {
	c.logger.Error("对局持久化失败", zap.String("match_id", matchID), zap.Error(cause))
	if err := c.store.SetAuthoritative(ctx, matchID, false); err != nil {
		c.logger.Warn("标记对局非权威失败", zap.String("match_id", matchID), zap.Error(err))
	}
}

func participantIDs(m *store.Match) []string {
	ids := make([]string, 0, len(m.Players))
	for _, p := range m.Players {
		ids = append(ids, p.ParticipantID)
	}
	return ids
}
