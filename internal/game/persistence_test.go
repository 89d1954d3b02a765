package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tile-arena/internal/game/puzzle"
	"github.com/wfunc/tile-arena/internal/repository"
	"github.com/wfunc/tile-arena/internal/store"
)

func sampleMatch(id string, status store.Status) *store.Match {
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	m := &store.Match{
		ID:            id,
		RoomCode:      "KLM345",
		HostID:        "p1",
		Wager:         15,
		MaxPlayers:    2,
		TotalPot:      30,
		Duration:      90 * time.Second,
		Status:        status,
		Seed:          1<<63 + 12345,
		Authoritative: true,
		CreatedAt:     created,
	}
	for i, pid := range []string{"p1", "p2"} {
		m.Players = append(m.Players, store.Player{
			ParticipantID: pid,
			JoinOrder:     i + 1,
			Ready:         true,
			Puzzle: puzzle.State{
				Grid:        puzzle.Grid{{2, 4, 0, 0}, {0, 0, 8, 0}},
				Score:       12 * (i + 1),
				MoveCount:   3,
				HighestTile: 8,
			},
			JoinedAt: created,
		})
	}
	return m
}

func TestDatabasePersisterRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := repository.SetupTestDB(t)
	p := NewDatabasePersister(repository.NewMatchRepository(db))

	m := sampleMatch("m-db", store.StatusInProgress)
	m.StartedAt = m.CreatedAt.Add(10 * time.Second)
	require.NoError(t, p.SaveMatch(ctx, m))

	loaded, err := p.LoadMatch(ctx, "m-db")
	require.NoError(t, err)
	assert.Equal(t, m.Seed, loaded.Seed)
	assert.Equal(t, m.Duration, loaded.Duration)
	assert.Equal(t, store.StatusInProgress, loaded.Status)
	assert.True(t, m.StartedAt.Equal(loaded.StartedAt))
	require.Len(t, loaded.Players, 2)
	assert.Equal(t, m.Players[1].Puzzle, loaded.Players[1].Puzzle)

	pl := loaded.Players[0]
	pl.Puzzle.Score = 99
	require.NoError(t, p.SavePlayer(ctx, "m-db", &pl))
	require.NoError(t, p.AppendMove(ctx, "m-db", MoveRecord{ParticipantID: "p1", MoveNumber: 4, Direction: puzzle.Left, Points: 4, Score: 99, At: time.Now()}))

	loaded, err = p.LoadMatch(ctx, "m-db")
	require.NoError(t, err)
	assert.Equal(t, 99, loaded.Players[0].Puzzle.Score)

	moves, err := p.ListMoves(ctx, "m-db", "p1")
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, puzzle.Left, moves[0].Direction)

	unfinished, err := p.LoadUnfinished(ctx)
	require.NoError(t, err)
	assert.Len(t, unfinished, 1)

	_, err = p.LoadMatch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotPersisted)
}

func TestMemoryPersisterUnfinished(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	require.NoError(t, p.SaveMatch(ctx, sampleMatch("a", store.StatusOpen)))
	require.NoError(t, p.SaveMatch(ctx, sampleMatch("b", store.StatusEnded)))

	unfinished, err := p.LoadUnfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, "a", unfinished[0].ID)

	err = p.SavePlayer(ctx, "missing", &store.Player{ParticipantID: "x"})
	assert.ErrorIs(t, err, ErrNotPersisted)
}

func TestCachedPersisterReadsThrough(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryPersister()
	storage := NewMemoryPersister()
	p := NewCachedPersister(cache, storage)

	require.NoError(t, storage.SaveMatch(ctx, sampleMatch("c", store.StatusOpen)))

	m, err := p.LoadMatch(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "c", m.ID)

	cached, err := cache.LoadMatch(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "KLM345", cached.RoomCode)

	m.Status = store.StatusStarting
	require.NoError(t, p.SaveMatch(ctx, m))
	fromStorage, err := storage.LoadMatch(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, store.StatusStarting, fromStorage.Status)
}

func TestPersistersIgnoreStaleWrites(t *testing.T) {
	ctx := context.Background()
	persisters := map[string]func(t *testing.T) Persister{
		"memory": func(t *testing.T) Persister { return NewMemoryPersister() },
		"database": func(t *testing.T) Persister {
			return NewDatabasePersister(repository.NewMatchRepository(repository.SetupTestDB(t)))
		},
	}
	for name, build := range persisters {
		t.Run(name, func(t *testing.T) {
			p := build(t)
			live := sampleMatch("m-stale", store.StatusInProgress)
			require.NoError(t, p.SaveMatch(ctx, live))

			ended := live.Clone()
			ended.Status = store.StatusEnded
			ended.EndedAt = live.CreatedAt.Add(time.Minute)
			ended.Players[0].Finalized = true
			ended.Players[0].FinalGrid = ended.Players[0].Puzzle.Grid
			require.NoError(t, p.SaveMatch(ctx, ended))

			// 结束后才落地的移动写入
			late := live.Players[0]
			late.Puzzle.MoveCount = 4
			late.Puzzle.Score = 50
			require.NoError(t, p.SavePlayer(ctx, "m-stale", &late))

			// 乱序到达的旧移动
			older := ended.Players[1]
			older.Puzzle.MoveCount = 2
			older.Puzzle.Score = 1
			require.NoError(t, p.SavePlayer(ctx, "m-stale", &older))

			// 状态回退
			require.NoError(t, p.SaveMatch(ctx, live))

			loaded, err := p.LoadMatch(ctx, "m-stale")
			require.NoError(t, err)
			assert.Equal(t, store.StatusEnded, loaded.Status)
			p1, ok := loaded.Player("p1")
			require.True(t, ok)
			assert.True(t, p1.Finalized)
			assert.Equal(t, ended.Players[0].FinalGrid, p1.FinalGrid)
			assert.Equal(t, 3, p1.Puzzle.MoveCount)
			assert.Equal(t, 12, p1.Puzzle.Score)
			p2, ok := loaded.Player("p2")
			require.True(t, ok)
			assert.Equal(t, 3, p2.Puzzle.MoveCount)
			assert.Equal(t, 24, p2.Puzzle.Score)

			unfinished, err := p.LoadUnfinished(ctx)
			require.NoError(t, err)
			assert.Empty(t, unfinished)
		})
	}
}
