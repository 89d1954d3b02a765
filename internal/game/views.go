package game

import (
	"github.com/wfunc/tile-arena/internal/store"
)

// PlayerView 玩家视图
type PlayerView struct {
	ParticipantID string  `json:"participantId"`
	JoinOrder     int     `json:"joinOrder"`
	Ready         bool    `json:"ready"`
	Score         int     `json:"score"`
	HighestTile   int     `json:"highestTile"`
	MoveCount     int     `json:"moveCount"`
	Grid          [][]int `json:"grid"`
	GameOver      bool    `json:"gameOver"`
	ReachedTarget bool    `json:"reachedTarget"`
	FinalGrid     [][]int `json:"finalGrid,omitempty"`
}

// MatchView 对局快照
type MatchView struct {
	ID               string       `json:"id"`
	RoomCode         string       `json:"roomCode"`
	HostID           string       `json:"hostId,omitempty"`
	Status           store.Status `json:"status"`
	Wager            int64        `json:"wager"`
	MaxPlayers       int          `json:"maxPlayers"`
	CurrentPlayers   int          `json:"currentPlayers"`
	TotalPot         int64        `json:"totalPot"`
	DurationSeconds  int          `json:"durationSeconds"`
	RequiresApproval bool         `json:"requiresApproval"`
	Authoritative    bool         `json:"authoritative"`
	WinnerID         string       `json:"winnerId,omitempty"`
	CreatedAt        int64        `json:"createdAt"`
	StartedAt        int64        `json:"startedAt,omitempty"`
	EndsAt           int64        `json:"endsAt,omitempty"`
	EndedAt          int64        `json:"endedAt,omitempty"`
	Players          []PlayerView `json:"players"`
}

// RankedView 终局排名
type RankedView struct {
	Rank          int     `json:"rank"`
	ParticipantID string  `json:"participantId"`
	JoinOrder     int     `json:"joinOrder"`
	Score         int     `json:"score"`
	HighestTile   int     `json:"highestTile"`
	MoveCount     int     `json:"moveCount"`
	FinalGrid     [][]int `json:"finalGrid"`
}

// NewPlayerView 转换玩家
func NewPlayerView(p *store.Player) PlayerView {
	v := PlayerView{
		ParticipantID: p.ParticipantID,
		JoinOrder:     p.JoinOrder,
		Ready:         p.Ready,
		Score:         p.Puzzle.Score,
		HighestTile:   p.Puzzle.HighestTile,
		MoveCount:     p.Puzzle.MoveCount,
		Grid:          p.Puzzle.Grid.Rows(),
		GameOver:      p.Puzzle.GameOver,
		ReachedTarget: p.Puzzle.ReachedTarget,
	}
	if p.Finalized {
		v.FinalGrid = p.FinalGrid.Rows()
	}
	return v
}

// NewMatchView 转换对局
func NewMatchView(m *store.Match) *MatchView {
	v := &MatchView{
		ID:               m.ID,
		RoomCode:         m.RoomCode,
		HostID:           m.HostID,
		Status:           m.Status,
		Wager:            m.Wager,
		MaxPlayers:       m.MaxPlayers,
		CurrentPlayers:   m.CurrentPlayers(),
		TotalPot:         m.TotalPot,
		DurationSeconds:  int(m.Duration.Seconds()),
		RequiresApproval: m.RequiresApproval,
		Authoritative:    m.Authoritative,
		WinnerID:         m.WinnerID,
		CreatedAt:        m.CreatedAt.UnixMilli(),
		Players:          make([]PlayerView, 0, len(m.Players)),
	}
	if !m.StartedAt.IsZero() {
		v.StartedAt = m.StartedAt.UnixMilli()
		v.EndsAt = m.EndsAt().UnixMilli()
	}
	if !m.EndedAt.IsZero() {
		v.EndedAt = m.EndedAt.UnixMilli()
	}
	for i := range m.Players {
		v.Players = append(v.Players, NewPlayerView(&m.Players[i]))
	}
	return v
}

// NewRankedViews 转换排名
func NewRankedViews(ranked []store.Ranked) []RankedView {
	out := make([]RankedView, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, RankedView{
			Rank:          r.Rank,
			ParticipantID: r.ParticipantID,
			JoinOrder:     r.JoinOrder,
			Score:         r.Score,
			HighestTile:   r.HighestTile,
			MoveCount:     r.MoveCount,
			FinalGrid:     r.FinalGrid.Rows(),
		})
	}
	return out
}
