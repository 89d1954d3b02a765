package game

import (
	"sort"
	"time"

	"github.com/wfunc/tile-arena/internal/store"
)

// Rank 按最大方块、分数降序排名，再按加入顺序升序打破平局
func Rank(players []store.Player) []store.Ranked {
	ranked := make([]store.Ranked, 0, len(players))
	for _, p := range players {
		ranked = append(ranked, store.Ranked{
			ParticipantID: p.ParticipantID,
			JoinOrder:     p.JoinOrder,
			Score:         p.Puzzle.Score,
			HighestTile:   p.Puzzle.HighestTile,
			MoveCount:     p.Puzzle.MoveCount,
			FinalGrid:     p.Puzzle.Grid,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.HighestTile != b.HighestTile {
			return a.HighestTile > b.HighestTile
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.JoinOrder < b.JoinOrder
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// BuildResult 计算终局结果，只在进入ended时调用一次
func BuildResult(players []store.Player, endedAt time.Time) store.Result {
	result := store.Result{Ranked: Rank(players), EndedAt: endedAt}
	if w, ok := result.Winner(); ok {
		result.WinnerID = w.ParticipantID
	}
	return result
}
