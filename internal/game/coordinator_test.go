package game

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/game/puzzle"
	"github.com/wfunc/tile-arena/internal/store"
)

// CoordinatorTestSuite 协调器测试套件
type CoordinatorTestSuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	store     *store.MemoryStore
	pub       *recordingPublisher
	sched     *manualScheduler
	settler   *recordingSettler
	persister *flakyPersister
	coord     *Coordinator
	pipeline  *MovePipeline
}

func (s *CoordinatorTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	clock := func() time.Time { return s.now }
	s.store = store.NewMemoryStore(store.WithClock(clock))
	s.pub = &recordingPublisher{}
	s.sched = newManualScheduler()
	s.settler = &recordingSettler{}
	s.persister = &flakyPersister{MemoryPersister: NewMemoryPersister()}
	s.coord = NewCoordinator(s.store, s.pub, Options{
		Countdown:         5 * time.Second,
		Duration:          120 * time.Second,
		DefaultMaxPlayers: 2,
		FinalizeRetries:   3,
		FinalizeBackoff:   time.Millisecond,
	},
		WithScheduler(s.sched),
		WithSettler(s.settler),
		WithPersister(s.persister),
		WithNow(clock),
	)
	s.pipeline = NewMovePipeline(s.coord)
}

func (s *CoordinatorTestSuite) create(maxPlayers int, wager int64) *MatchView {
	m, err := s.coord.CreateMatch(s.ctx, CreateMatchRequest{HostID: "p1", Wager: wager, MaxPlayers: maxPlayers})
	s.Require().NoError(err)
	return m
}

func (s *CoordinatorTestSuite) fill(matchID string, n int) []string {
	pids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		pid := fmt.Sprintf("p%d", i)
		_, err := s.coord.JoinMatch(s.ctx, matchID, pid)
		s.Require().NoError(err)
		pids = append(pids, pid)
	}
	return pids
}

// startMatch 创建对局、满员、全部准备并触发倒计时
func (s *CoordinatorTestSuite) startMatch(n int, wager int64) (string, []string) {
	m := s.create(n, wager)
	pids := s.fill(m.ID, n)
	for _, pid := range pids {
		_, err := s.coord.SetReady(s.ctx, m.ID, pid, true)
		s.Require().NoError(err)
	}
	s.Require().True(s.sched.Fire(m.ID, TaskCountdown))
	s.pub.Reset()
	return m.ID, pids
}

func (s *CoordinatorTestSuite) setGrid(matchID, pid string, g puzzle.Grid) {
	_, err := s.store.RecordMove(s.ctx, matchID, pid, func(p *store.Player) error {
		p.Puzzle.Grid = g
		p.Puzzle.HighestTile = puzzle.HighestTile(g)
		p.Puzzle.GameOver = puzzle.IsTerminal(g)
		return nil
	})
	s.Require().NoError(err)
}

func (s *CoordinatorTestSuite) setScore(matchID, pid string, score int) {
	_, err := s.store.RecordMove(s.ctx, matchID, pid, func(p *store.Player) error {
		p.Puzzle.Score = score
		return nil
	})
	s.Require().NoError(err)
}

func (s *CoordinatorTestSuite) status(matchID string) store.Status {
	m, err := s.store.GetMatch(s.ctx, matchID)
	s.Require().NoError(err)
	return m.Status
}

func (s *CoordinatorTestSuite) TestCreateMatchDefaults() {
	m := s.create(0, 25)
	s.Equal(store.StatusOpen, m.Status)
	s.Equal(2, m.MaxPlayers)
	s.Equal(120, m.DurationSeconds)
	s.True(m.RequiresApproval)
	s.Len(m.RoomCode, 6)

	persisted, err := s.persister.LoadMatch(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(m.RoomCode, persisted.RoomCode)
}

func (s *CoordinatorTestSuite) TestCreateMatchValidation() {
	_, err := s.coord.CreateMatch(s.ctx, CreateMatchRequest{HostID: "p1", Wager: -5})
	s.True(apperrors.Is(err, apperrors.ErrInvalidWager))

	_, err = s.coord.CreateMatch(s.ctx, CreateMatchRequest{HostID: "p1", MaxPlayers: 6})
	s.True(apperrors.Is(err, apperrors.ErrInvalidParam))
}

func (s *CoordinatorTestSuite) TestJoinMatch() {
	m := s.create(2, 10)

	view, err := s.coord.JoinMatch(s.ctx, m.ID, "p1")
	s.Require().NoError(err)
	s.Equal(1, view.CurrentPlayers)
	s.Equal(int64(10), view.TotalPot)

	view, err = s.coord.JoinMatch(s.ctx, m.ID, "p2")
	s.Require().NoError(err)
	s.Equal(int64(20), view.TotalPot)

	_, err = s.coord.JoinMatch(s.ctx, m.ID, "p1")
	s.True(apperrors.Is(err, apperrors.ErrMatchFull) || apperrors.Is(err, apperrors.ErrAlreadyJoined))

	_, err = s.coord.JoinMatch(s.ctx, m.ID, "p3")
	s.True(apperrors.Is(err, apperrors.ErrMatchFull))

	joined := s.pub.Of(EventPlayerJoined)
	s.Require().Len(joined, 2)
	payload := joined[1].Data.(PlayerJoinedPayload)
	s.Equal("p2", payload.ParticipantID)
	s.Equal(2, payload.JoinOrder)
	s.Equal(2, payload.CurrentPlayers)
}

func (s *CoordinatorTestSuite) TestJoinAlreadyJoined() {
	m := s.create(3, 0)
	s.fill(m.ID, 1)
	_, err := s.coord.JoinMatch(s.ctx, m.ID, "p1")
	s.True(apperrors.Is(err, apperrors.ErrAlreadyJoined))
}

func (s *CoordinatorTestSuite) TestJoinUnknownMatch() {
	_, err := s.coord.JoinMatch(s.ctx, "missing", "p1")
	s.True(apperrors.Is(err, apperrors.ErrMatchNotFound))
}

func (s *CoordinatorTestSuite) TestJoinByCode() {
	m := s.create(2, 0)
	code := m.RoomCode[:3] + "-" + m.RoomCode[3:]

	view, err := s.coord.JoinByCode(s.ctx, code, "p1")
	s.Require().NoError(err)
	s.Equal(m.ID, view.ID)

	_, err = s.coord.JoinByCode(s.ctx, "12", "p2")
	s.True(apperrors.Is(err, apperrors.ErrInvalidRoomCode))

	_, err = s.coord.JoinByCode(s.ctx, "ZZZ-999", "p2")
	s.True(apperrors.Is(err, apperrors.ErrInvalidRoomCode) || apperrors.Is(err, apperrors.ErrMatchNotFound))
}

func (s *CoordinatorTestSuite) TestReadyStartsCountdownWhenFull() {
	m := s.create(2, 0)
	s.fill(m.ID, 1)

	_, err := s.coord.SetReady(s.ctx, m.ID, "p1", true)
	s.Require().NoError(err)
	s.Equal(store.StatusOpen, s.status(m.ID))

	_, err = s.coord.JoinMatch(s.ctx, m.ID, "p2")
	s.Require().NoError(err)
	s.Equal(store.StatusOpen, s.status(m.ID))

	view, err := s.coord.SetReady(s.ctx, m.ID, "p2", true)
	s.Require().NoError(err)
	s.Equal(store.StatusStarting, view.Status)

	delay, ok := s.sched.Pending(m.ID, TaskCountdown)
	s.True(ok)
	s.Equal(5*time.Second, delay)

	starting := s.pub.Of(EventMatchStarting)
	s.Require().Len(starting, 1)
	s.Equal(5, starting[0].Data.(MatchStartingPayload).CountdownSeconds)

	types := s.pub.Types()
	s.Equal(EventMatchStarting, types[len(types)-1])
	s.Equal(EventReadyChanged, types[len(types)-2])
}

func (s *CoordinatorTestSuite) TestUnreadyKeepsMatchOpen() {
	m := s.create(2, 0)
	s.fill(m.ID, 2)
	_, err := s.coord.SetReady(s.ctx, m.ID, "p1", true)
	s.Require().NoError(err)
	_, err = s.coord.SetReady(s.ctx, m.ID, "p1", false)
	s.Require().NoError(err)
	_, err = s.coord.SetReady(s.ctx, m.ID, "p2", true)
	s.Require().NoError(err)

	s.Equal(store.StatusOpen, s.status(m.ID))
	s.Empty(s.pub.Of(EventMatchStarting))
}

func (s *CoordinatorTestSuite) TestReadyRejectedOnceStarting() {
	m := s.create(2, 0)
	s.fill(m.ID, 2)
	for _, pid := range []string{"p1", "p2"} {
		_, err := s.coord.SetReady(s.ctx, m.ID, pid, true)
		s.Require().NoError(err)
	}

	_, err := s.coord.SetReady(s.ctx, m.ID, "p1", false)
	s.True(apperrors.Is(err, apperrors.ErrMatchStarting))
	s.Equal(store.StatusStarting, s.status(m.ID))

	_, err = s.coord.SetReady(s.ctx, m.ID, "stranger", true)
	s.True(apperrors.Is(err, apperrors.ErrMatchStarting))
}

func (s *CoordinatorTestSuite) TestReadyNonParticipant() {
	m := s.create(2, 0)
	s.fill(m.ID, 1)
	_, err := s.coord.SetReady(s.ctx, m.ID, "stranger", true)
	s.True(apperrors.Is(err, apperrors.ErrNotParticipant))
}

func (s *CoordinatorTestSuite) TestConcurrentReadyStartsOnce() {
	m := s.create(4, 0)
	pids := s.fill(m.ID, 4)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, pid := range pids {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			<-start
			_, _ = s.coord.SetReady(s.ctx, m.ID, pid, true)
		}(pid)
	}
	close(start)
	wg.Wait()

	s.Equal(store.StatusStarting, s.status(m.ID))
	s.Len(s.pub.Of(EventMatchStarting), 1)
	s.Len(s.pub.Of(EventReadyChanged), 4)
}

func (s *CoordinatorTestSuite) TestBeginPlay() {
	m := s.create(2, 0)
	s.fill(m.ID, 2)
	for _, pid := range []string{"p1", "p2"} {
		_, err := s.coord.SetReady(s.ctx, m.ID, pid, true)
		s.Require().NoError(err)
	}

	s.Require().True(s.sched.Fire(m.ID, TaskCountdown))

	view, err := s.coord.Snapshot(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(store.StatusInProgress, view.Status)
	s.Equal(s.now.UnixMilli(), view.StartedAt)
	s.Equal(s.now.Add(120*time.Second).UnixMilli(), view.EndsAt)
	for _, p := range view.Players {
		tiles := 0
		for _, row := range p.Grid {
			for _, v := range row {
				if v != 0 {
					tiles++
				}
			}
		}
		s.Equal(2, tiles)
		s.Zero(p.Score)
	}

	started := s.pub.Of(EventMatchStarted)
	s.Require().Len(started, 1)
	payload := started[0].Data.(MatchStartedPayload)
	s.Equal(120, payload.DurationSeconds)
	s.Equal(s.now.UnixMilli(), payload.StartTimestamp)
	s.Len(payload.Players, 2)

	delay, ok := s.sched.Pending(m.ID, TaskTimer)
	s.True(ok)
	s.Equal(120*time.Second, delay)

	again, err := s.coord.BeginPlay(s.ctx, m.ID)
	s.NoError(err)
	s.False(again)
	s.Len(s.pub.Of(EventMatchStarted), 1)
}

func (s *CoordinatorTestSuite) TestMatchStartedPrecedesFirstMove() {
	m := s.create(2, 0)
	s.fill(m.ID, 2)
	for _, pid := range []string{"p1", "p2"} {
		_, err := s.coord.SetReady(s.ctx, m.ID, pid, true)
		s.Require().NoError(err)
	}
	s.pub.Reset()

	// 对局一进入进行中就有玩家移动
	moved := false
	s.persister.AfterSave(func(saved *store.Match) {
		if saved.Status == store.StatusInProgress && !moved {
			moved = true
			s.applyAnyMove(m.ID, "p1")
		}
	})
	s.Require().True(s.sched.Fire(m.ID, TaskCountdown))
	s.Require().True(moved)

	types := s.pub.Types()
	s.Require().Len(types, 2)
	s.Equal([]EventType{EventMatchStarted, EventMoveApplied}, types)
}

func (s *CoordinatorTestSuite) TestEndMatchRanksAndSettles() {
	id, _ := s.startMatch(3, 10)
	s.setGrid(id, "p1", puzzle.Grid{{128, 2, 0, 0}})
	s.setGrid(id, "p2", puzzle.Grid{{256, 0, 0, 0}})
	s.setGrid(id, "p3", puzzle.Grid{{256, 4, 0, 0}})
	s.setScore(id, "p1", 5000)
	s.setScore(id, "p2", 900)
	s.setScore(id, "p3", 800)

	s.Require().True(s.sched.Fire(id, TaskTimer))

	m, err := s.store.GetMatch(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(store.StatusEnded, m.Status)
	s.Equal("p2", m.WinnerID)
	s.True(m.Authoritative)
	for _, p := range m.Players {
		s.True(p.Finalized)
		s.Equal(p.Puzzle.Grid, p.FinalGrid)
	}

	ended := s.pub.Of(EventMatchEnded)
	s.Require().Len(ended, 1)
	payload := ended[0].Data.(MatchEndedPayload)
	s.Equal("p2", payload.WinnerID)
	s.Equal(900, payload.WinnerScore)
	s.Equal(256, payload.WinnerTile)
	s.Require().Len(payload.RankedPlayers, 3)
	s.Equal([]string{"p2", "p3", "p1"}, []string{
		payload.RankedPlayers[0].ParticipantID,
		payload.RankedPlayers[1].ParticipantID,
		payload.RankedPlayers[2].ParticipantID,
	})

	reqs := s.settler.Requests()
	s.Require().Len(reqs, 1)
	s.Equal(SettlementPayout, reqs[0].Kind)
	s.Equal("p2", reqs[0].WinnerID)
	s.Equal(int64(30), reqs[0].TotalPot)

	persisted, err := s.persister.LoadMatch(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(store.StatusEnded, persisted.Status)
	s.Equal("p2", persisted.WinnerID)
}

func (s *CoordinatorTestSuite) TestEndMatchTieBreakByJoinOrder() {
	id, _ := s.startMatch(2, 0)
	s.setGrid(id, "p1", puzzle.Grid{{512, 0, 0, 0}})
	s.setGrid(id, "p2", puzzle.Grid{{512, 0, 0, 0}})
	s.setScore(id, "p1", 3000)
	s.setScore(id, "p2", 3000)

	ok, err := s.coord.EndMatch(s.ctx, id)
	s.Require().NoError(err)
	s.True(ok)

	ended := s.pub.Of(EventMatchEnded)
	s.Require().Len(ended, 1)
	s.Equal("p1", ended[0].Data.(MatchEndedPayload).WinnerID)
	s.Empty(s.settler.Requests())
}

func (s *CoordinatorTestSuite) TestConcurrentEndMatchOnce() {
	id, _ := s.startMatch(2, 10)

	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.coord.EndMatch(s.ctx, id)
			s.NoError(err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Len(s.pub.Of(EventMatchEnded), 1)
	s.Len(s.settler.Requests(), 1)
}

func (s *CoordinatorTestSuite) TestFinalizeRetriesSameResult() {
	id, _ := s.startMatch(2, 0)
	s.persister.FailNext(2)

	ok, err := s.coord.EndMatch(s.ctx, id)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(3, s.persister.SaveCalls())

	m, err := s.store.GetMatch(s.ctx, id)
	s.Require().NoError(err)
	s.True(m.Authoritative)
	s.Len(s.pub.Of(EventMatchEnded), 1)
}

func (s *CoordinatorTestSuite) TestFinalizeExhaustedMarksNonAuthoritative() {
	id, _ := s.startMatch(2, 0)
	s.persister.FailNext(100)

	ok, err := s.coord.EndMatch(s.ctx, id)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(3, s.persister.SaveCalls())

	m, err := s.store.GetMatch(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(store.StatusEnded, m.Status)
	s.False(m.Authoritative)
	s.Len(s.pub.Of(EventMatchEnded), 1)
}

func (s *CoordinatorTestSuite) TestCancelMatch() {
	m := s.create(2, 10)
	s.fill(m.ID, 2)

	_, err := s.coord.CancelMatch(s.ctx, m.ID, "p2", "")
	s.True(apperrors.Is(err, apperrors.ErrNotHost))

	view, err := s.coord.CancelMatch(s.ctx, m.ID, "p1", "host left")
	s.Require().NoError(err)
	s.Equal(store.StatusCancelled, view.Status)
	s.Empty(view.WinnerID)

	cancelled := s.pub.Of(EventMatchCancelled)
	s.Require().Len(cancelled, 1)
	s.Equal("p1", cancelled[0].Data.(MatchCancelledPayload).CancelledBy)

	reqs := s.settler.Requests()
	s.Require().Len(reqs, 1)
	s.Equal(SettlementRefund, reqs[0].Kind)
	s.ElementsMatch([]string{"p1", "p2"}, reqs[0].Participants)

	_, err = s.coord.JoinMatch(s.ctx, m.ID, "p3")
	s.True(apperrors.Is(err, apperrors.ErrMatchEnded))
}

func (s *CoordinatorTestSuite) TestCancelDuringCountdown() {
	m := s.create(2, 0)
	s.fill(m.ID, 2)
	for _, pid := range []string{"p1", "p2"} {
		_, err := s.coord.SetReady(s.ctx, m.ID, pid, true)
		s.Require().NoError(err)
	}

	_, err := s.coord.CancelMatch(s.ctx, m.ID, "", "timeout")
	s.Require().NoError(err)
	_, pending := s.sched.Pending(m.ID, TaskCountdown)
	s.False(pending)

	started, err := s.coord.BeginPlay(s.ctx, m.ID)
	s.NoError(err)
	s.False(started)
	s.Equal(store.StatusCancelled, s.status(m.ID))
}

func (s *CoordinatorTestSuite) TestCancelInProgressRejected() {
	id, _ := s.startMatch(2, 0)
	_, err := s.coord.CancelMatch(s.ctx, id, "p1", "")
	s.True(apperrors.Is(err, apperrors.ErrNotCancellable))
	s.Equal(store.StatusInProgress, s.status(id))
}

func (s *CoordinatorTestSuite) TestListMatches() {
	s.create(2, 0)
	s.create(3, 5)

	views, err := s.coord.ListMatches(s.ctx, store.Filter{Status: store.StatusOpen})
	s.Require().NoError(err)
	s.Len(views, 2)
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}
