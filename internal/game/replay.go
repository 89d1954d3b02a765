package game

import (
	"context"
	"fmt"

	"github.com/wfunc/tile-arena/internal/game/puzzle"
	"github.com/wfunc/tile-arena/internal/store"
)

// ReplayPlayer 用种子和已记录的移动重建玩家棋局
func ReplayPlayer(seed uint64, joinOrder int, moves []MoveRecord) (puzzle.State, error) {
	st := puzzle.NewGame(puzzle.NewSource(seed, uint64(joinOrder), 0))
	for i, mv := range moves {
		if mv.MoveNumber != st.MoveCount+1 {
			return st, fmt.Errorf("移动序号不连续: 第%d条记录序号%d, 期望%d", i, mv.MoveNumber, st.MoveCount+1)
		}
		next, res := st.Move(mv.Direction, puzzle.NewSource(seed, uint64(joinOrder), uint64(st.MoveCount+1)))
		if !res.Changed {
			return st, fmt.Errorf("第%d步移动未改变棋盘", mv.MoveNumber)
		}
		st = next
	}
	return st, nil
}

// AuditReport 复盘结果
type AuditReport struct {
	MatchID       string `json:"matchId"`
	ParticipantID string `json:"participantId"`
	Moves         int    `json:"moves"`
	ReplayScore   int    `json:"replayScore"`
	RecordedScore int    `json:"recordedScore"`
	Consistent    bool   `json:"consistent"`
	Error         string `json:"error,omitempty"`
}

// Audit 复盘对局中所有玩家
func Audit(ctx context.Context, p Persister, m *store.Match) ([]AuditReport, error) {
	reports := make([]AuditReport, 0, len(m.Players))
	for _, pl := range m.Players {
		moves, err := p.ListMoves(ctx, m.ID, pl.ParticipantID)
		if err != nil {
			return nil, err
		}
		report := AuditReport{
			MatchID:       m.ID,
			ParticipantID: pl.ParticipantID,
			Moves:         len(moves),
			RecordedScore: pl.Puzzle.Score,
		}
		st, err := ReplayPlayer(m.Seed, pl.JoinOrder, moves)
		report.ReplayScore = st.Score
		if err != nil {
			report.Error = err.Error()
		} else {
			report.Consistent = st.Grid == pl.Puzzle.Grid && st.Score == pl.Puzzle.Score
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Audit 复盘指定对局
func (c *Coordinator) Audit(ctx context.Context, matchID string) ([]AuditReport, error) {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, translate(err, opRead)
	}
	reports, err := Audit(ctx, c.persister, m)
	if err != nil {
		return nil, translate(err, opRead)
	}
	return reports, nil
}
