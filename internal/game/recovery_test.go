package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tile-arena/internal/store"
)

func newRecoveryFixture(t *testing.T, now time.Time) (*Coordinator, *MemoryPersister, *manualScheduler, *recordingPublisher) {
	t.Helper()
	persister := NewMemoryPersister()
	sched := newManualScheduler()
	pub := &recordingPublisher{}
	clock := func() time.Time { return now }
	c := NewCoordinator(store.NewMemoryStore(store.WithClock(clock)), pub, Options{
		Countdown:       3 * time.Second,
		Duration:        90 * time.Second,
		FinalizeRetries: 1,
	}, WithPersister(persister), WithScheduler(sched), WithNow(clock))
	return c, persister, sched, pub
}

func TestRecoverReschedulesUnfinishedMatches(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 3, 4, 10, 0, 0, time.UTC)
	c, persister, sched, pub := newRecoveryFixture(t, now)

	open := sampleMatch("open", store.StatusOpen)
	open.RoomCode = "AAA222"
	starting := sampleMatch("starting", store.StatusStarting)
	starting.RoomCode = "BBB333"
	running := sampleMatch("running", store.StatusInProgress)
	running.RoomCode = "CCC444"
	running.StartedAt = now.Add(-30 * time.Second)
	overdue := sampleMatch("overdue", store.StatusInProgress)
	overdue.RoomCode = "DDD555"
	overdue.StartedAt = now.Add(-10 * time.Minute)
	finished := sampleMatch("finished", store.StatusEnded)
	finished.RoomCode = "EEE666"

	for _, m := range []*store.Match{open, starting, running, overdue, finished} {
		require.NoError(t, persister.SaveMatch(ctx, m))
	}

	report, err := NewRecoveryManager(nil, c).Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Restored)
	assert.Equal(t, 2, report.Rescheduled)
	assert.Equal(t, 1, report.Ended)

	delay, ok := sched.Pending("starting", TaskCountdown)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, delay)

	delay, ok = sched.Pending("running", TaskTimer)
	assert.True(t, ok)
	assert.Equal(t, 60*time.Second, delay)

	ended, err := c.Store().GetMatch(ctx, "overdue")
	require.NoError(t, err)
	assert.Equal(t, store.StatusEnded, ended.Status)
	assert.Equal(t, "p2", ended.WinnerID)
	assert.Len(t, pub.Of(EventMatchEnded), 1)

	_, err = c.Store().GetMatch(ctx, "finished")
	assert.ErrorIs(t, err, store.ErrMatchNotFound)

	view, err := c.SnapshotByCode(ctx, "aaa-222")
	require.NoError(t, err)
	assert.Equal(t, "open", view.ID)
}

func TestRecoverSkipsAlreadyLoaded(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 3, 4, 10, 0, 0, time.UTC)
	c, persister, _, _ := newRecoveryFixture(t, now)

	require.NoError(t, persister.SaveMatch(ctx, sampleMatch("dup", store.StatusOpen)))
	rm := NewRecoveryManager(nil, c)

	report, err := rm.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Restored)

	report, err = rm.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Restored)
	assert.Equal(t, 1, report.Skipped)
}
