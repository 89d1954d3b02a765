package game

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/game/puzzle"
	"github.com/wfunc/tile-arena/internal/store"
)

// MoveOutcome 一步移动的结果
type MoveOutcome struct {
	MatchID   string
	Player    PlayerView
	Direction puzzle.Direction
	Points    int
	Milestone bool
}

// MovePipeline 处理玩家移动
type MovePipeline struct {
	store     store.Store
	publisher Publisher
	persister Persister
	logger    *zap.Logger
	now       func() time.Time
}

// NewMovePipeline 创建移动处理管线
func NewMovePipeline(c *Coordinator) *MovePipeline {
	return &MovePipeline{
		store:     c.store,
		publisher: c.publisher,
		persister: c.persister,
		logger:    c.logger.Named("pipeline"),
		now:       c.now,
	}
}

// HandleMove 校验并执行一步移动
func (mp *MovePipeline) HandleMove(ctx context.Context, matchID, participantID, direction string) (*MoveOutcome, error) {
	d, err := puzzle.ParseDirection(direction)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidDirection, "direction=%s", direction)
	}

	m, err := mp.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, translate(err, opMove)
	}
	if m.Status != store.StatusInProgress {
		return nil, translate(&store.StatusError{MatchID: matchID, Status: m.Status}, opMove)
	}
	if _, ok := m.Player(participantID); !ok {
		return nil, translate(store.ErrNotParticipant, opMove)
	}

	var (
		points    int
		milestone bool
	)
	// 在存储锁内发布，move-applied 不会晚于 match-ended
	p, err := mp.store.RecordMove(ctx, matchID, participantID, func(p *store.Player) error {
		before := p.Puzzle
		src := puzzle.NewSource(m.Seed, uint64(p.JoinOrder), uint64(before.MoveCount+1))
		next, res := before.Move(d, src)
		if !res.Changed {
			return errMoveUnchanged
		}
		p.Puzzle = next
		points = res.Points

		mp.publish(ctx, EventMoveApplied, matchID, MoveAppliedPayload{
			ParticipantID: participantID,
			Direction:     string(d),
			Grid:          next.Grid.Rows(),
			Score:         next.Score,
			HighestTile:   next.HighestTile,
			MoveCount:     next.MoveCount,
			GameOver:      next.GameOver,
		})
		if !before.ReachedTarget && next.ReachedTarget {
			milestone = true
			mp.publish(ctx, EventMilestone, matchID, MilestonePayload{
				ParticipantID: participantID,
				TileValue:     next.HighestTile,
			})
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, opMove)
	}

	mp.persistMove(ctx, matchID, p, MoveRecord{
		ParticipantID: participantID,
		MoveNumber:    p.Puzzle.MoveCount,
		Direction:     d,
		Points:        points,
		Score:         p.Puzzle.Score,
		At:            mp.now(),
	})
	if milestone {
		mp.logger.Info("达成目标方块",
			zap.String("match_id", matchID),
			zap.String("participant_id", participantID),
			zap.Int("tile", p.Puzzle.HighestTile))
	}

	return &MoveOutcome{
		MatchID:   matchID,
		Player:    NewPlayerView(p),
		Direction: d,
		Points:    points,
		Milestone: milestone,
	}, nil
}

func (mp *MovePipeline) persistMove(ctx context.Context, matchID string, p *store.Player, rec MoveRecord) {
	err := mp.persister.SavePlayer(ctx, matchID, p)
	if err == nil {
		err = mp.persister.AppendMove(ctx, matchID, rec)
	}
	if err == nil {
		return
	}
	mp.logger.Error("移动持久化失败",
		zap.String("match_id", matchID),
		zap.String("participant_id", p.ParticipantID),
		zap.Int("move_number", rec.MoveNumber),
		zap.Error(err))
	if err := mp.store.SetAuthoritative(ctx, matchID, false); err != nil {
		mp.logger.Warn("标记对局非权威失败", zap.String("match_id", matchID), zap.Error(err))
	}
}

func (mp *MovePipeline) publish(ctx context.Context, t EventType, matchID string, data interface{}) {
	mp.publisher.Publish(ctx, matchID, NewEvent(t, matchID, data, mp.now()))
}
