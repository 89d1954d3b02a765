package game

import (
	"context"
	"time"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/game/puzzle"
	"github.com/wfunc/tile-arena/internal/store"
)

// applyAnyMove 依次尝试各方向直到有一步生效
func (s *CoordinatorTestSuite) applyAnyMove(matchID, pid string) *MoveOutcome {
	for _, d := range puzzle.Directions {
		out, err := s.pipeline.HandleMove(s.ctx, matchID, pid, string(d))
		if err == nil {
			return out
		}
		s.Require().True(apperrors.Is(err, apperrors.ErrMoveNotApplied), "unexpected error: %v", err)
	}
	s.FailNow("no direction changed the grid")
	return nil
}

func (s *CoordinatorTestSuite) TestMoveApplied() {
	id, _ := s.startMatch(2, 0)

	out := s.applyAnyMove(id, "p1")
	s.Equal(1, out.Player.MoveCount)

	applied := s.pub.Of(EventMoveApplied)
	s.Require().Len(applied, 1)
	payload := applied[0].Data.(MoveAppliedPayload)
	s.Equal("p1", payload.ParticipantID)
	s.Equal(string(out.Direction), payload.Direction)
	s.Equal(out.Player.Grid, payload.Grid)
	s.Equal(1, payload.MoveCount)

	moves, err := s.persister.ListMoves(s.ctx, id, "p1")
	s.Require().NoError(err)
	s.Require().Len(moves, 1)
	s.Equal(1, moves[0].MoveNumber)
	s.Equal(out.Direction, moves[0].Direction)
}

func (s *CoordinatorTestSuite) TestLateMoveWriteKeepsFinalState() {
	id, _ := s.startMatch(2, 0)
	s.setGrid(id, "p1", puzzle.Grid{{2, 2, 0, 0}})

	entered, release := s.persister.HoldPlayerSaves()
	done := make(chan error, 1)
	go func() {
		_, err := s.pipeline.HandleMove(s.ctx, id, "p1", "left")
		done <- err
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		s.FailNow("move never reached the persister")
	}

	_, err := s.coord.EndMatch(s.ctx, id)
	s.Require().NoError(err)
	release()
	s.Require().NoError(<-done)

	live, err := s.store.GetMatch(s.ctx, id)
	s.Require().NoError(err)
	want, ok := live.Player("p1")
	s.Require().True(ok)
	s.Require().True(want.Finalized)

	persisted, err := s.persister.LoadMatch(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(store.StatusEnded, persisted.Status)
	got, ok := persisted.Player("p1")
	s.Require().True(ok)
	s.True(got.Finalized)
	s.Equal(want.FinalGrid, got.FinalGrid)
	s.Equal(1, got.Puzzle.MoveCount)
	s.Equal(4, got.Puzzle.Score)
	s.True(live.Authoritative)
}

func (s *CoordinatorTestSuite) TestMoveBeforeStartIsClientError() {
	m := s.create(2, 0)
	s.fill(m.ID, 2)
	s.pub.Reset()

	_, err := s.pipeline.HandleMove(s.ctx, m.ID, "p1", "left")
	s.True(apperrors.Is(err, apperrors.ErrMatchNotInProgress))
	s.True(apperrors.IsClientError(err))
	s.Empty(s.pub.Of(EventMoveApplied))
}

func (s *CoordinatorTestSuite) TestMoveAfterEndRejected() {
	id, _ := s.startMatch(2, 0)
	_, err := s.coord.EndMatch(s.ctx, id)
	s.Require().NoError(err)
	s.pub.Reset()

	_, err = s.pipeline.HandleMove(s.ctx, id, "p1", "left")
	s.True(apperrors.Is(err, apperrors.ErrMatchEnded))
	s.Empty(s.pub.Of(EventMoveApplied))
}

func (s *CoordinatorTestSuite) TestMoveValidation() {
	id, _ := s.startMatch(2, 0)

	_, err := s.pipeline.HandleMove(s.ctx, id, "p1", "sideways")
	s.True(apperrors.Is(err, apperrors.ErrInvalidDirection))

	_, err = s.pipeline.HandleMove(s.ctx, id, "spectator", "left")
	s.True(apperrors.Is(err, apperrors.ErrNotParticipant))

	_, err = s.pipeline.HandleMove(s.ctx, "missing", "p1", "left")
	s.True(apperrors.Is(err, apperrors.ErrMatchNotFound))

	s.Empty(s.pub.Of(EventMoveApplied))
}

func (s *CoordinatorTestSuite) TestUnchangedMoveNotRecorded() {
	id, _ := s.startMatch(2, 0)
	s.setGrid(id, "p1", puzzle.Grid{{2, 4, 8, 16}})

	_, err := s.pipeline.HandleMove(s.ctx, id, "p1", "up")
	s.True(apperrors.Is(err, apperrors.ErrMoveNotApplied))
	_, err = s.pipeline.HandleMove(s.ctx, id, "p1", "LEFT")
	s.True(apperrors.Is(err, apperrors.ErrMoveNotApplied))

	m, err := s.store.GetMatch(s.ctx, id)
	s.Require().NoError(err)
	p, _ := m.Player("p1")
	s.Zero(p.Puzzle.MoveCount)
	s.Empty(s.pub.Of(EventMoveApplied))
}

func (s *CoordinatorTestSuite) TestMilestoneOnFirstTarget() {
	id, _ := s.startMatch(2, 0)
	s.setGrid(id, "p1", puzzle.Grid{{1024, 1024, 0, 0}})

	out, err := s.pipeline.HandleMove(s.ctx, id, "p1", "left")
	s.Require().NoError(err)
	s.True(out.Milestone)
	s.Equal(2048, out.Points)
	s.Equal(2048, out.Player.HighestTile)
	s.True(out.Player.ReachedTarget)

	milestones := s.pub.Of(EventMilestone)
	s.Require().Len(milestones, 1)
	s.Equal(MilestonePayload{ParticipantID: "p1", TileValue: 2048}, milestones[0].Data)

	types := s.pub.Types()
	s.Equal([]EventType{EventMoveApplied, EventMilestone}, types)

	out = s.applyAnyMove(id, "p1")
	s.False(out.Milestone)
	s.Len(s.pub.Of(EventMilestone), 1)

	m, err := s.store.GetMatch(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(store.StatusInProgress, m.Status)
}

func (s *CoordinatorTestSuite) TestMovePersistFailureMarksNonAuthoritative() {
	id, _ := s.startMatch(2, 0)
	failing := &failingMovePersister{Persister: s.persister}
	s.pipeline.persister = failing

	s.applyAnyMove(id, "p1")

	m, err := s.store.GetMatch(s.ctx, id)
	s.Require().NoError(err)
	s.False(m.Authoritative)
	s.Len(s.pub.Of(EventMoveApplied), 1)
}

func (s *CoordinatorTestSuite) TestReplayMatchesLiveGame() {
	id, _ := s.startMatch(2, 0)
	for i := 0; i < 10; i++ {
		s.applyAnyMove(id, "p1")
	}

	m, err := s.store.GetMatch(s.ctx, id)
	s.Require().NoError(err)
	reports, err := Audit(s.ctx, s.persister, m)
	s.Require().NoError(err)
	s.Require().Len(reports, 2)
	for _, r := range reports {
		s.True(r.Consistent, "participant %s: %s", r.ParticipantID, r.Error)
	}
	s.Equal(10, reports[0].Moves)
	s.Equal(reports[0].RecordedScore, reports[0].ReplayScore)

	viaCoord, err := s.coord.Audit(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(reports, viaCoord)

	_, err = s.coord.Audit(s.ctx, "missing")
	s.True(apperrors.Is(err, apperrors.ErrMatchNotFound))
}

// failingMovePersister AppendMove总是失败
type failingMovePersister struct {
	Persister
}

func (f *failingMovePersister) AppendMove(ctx context.Context, matchID string, rec MoveRecord) error {
	return context.DeadlineExceeded
}
