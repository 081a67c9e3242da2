package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quikdb/go-quikdb-nodes/events"
	"github.com/quikdb/go-quikdb-nodes/storage"
)

func TestGuardStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	now := int64(1_000_000)
	clock := func() int64 { return now }

	store, err := storage.NewBadgerStore(dir)
	require.NoError(t, err)
	ls := storage.NewLedgerStorage(store)

	rl, err := NewRateLimiter(ls)
	require.NoError(t, err)
	rl.WithClock(clock)
	require.NoError(t, rl.Check("alice", "rewardCalculation", 3, 3600))
	require.NoError(t, rl.Check("alice", "rewardCalculation", 3, 3600))

	cb, err := NewCircuitBreaker(ls, nil)
	require.NoError(t, err)
	cb.WithClock(clock)
	require.NoError(t, cb.Trip("rewardDistribution", "payment backend degraded"))

	ep, err := NewEmergencyPause(ls, nil)
	require.NoError(t, err)
	ep.WithClock(clock)
	require.NoError(t, ep.Activate("rewardCalculation", "cap audit", time.Hour, "admin"))

	tl, err := NewTimelock(time.Hour, 30*24*time.Hour, ls, events.NewEmitter())
	require.NoError(t, err)
	tl.WithClock(clock)
	hash, err := tl.Propose(Command{Kind: CmdUpdateDailyCap, Cap: 42}, 2*time.Hour, "tighten", "admin")
	require.NoError(t, err)

	ad, err := NewAnomalyDetector(50, nil, ls, nil)
	require.NoError(t, err)
	require.NoError(t, ad.Recalibrate("reward_volume", 1000))

	require.NoError(t, store.Close())

	// reopen everything over the same directory
	store, err = storage.NewBadgerStore(dir)
	require.NoError(t, err)
	defer store.Close()
	ls = storage.NewLedgerStorage(store)

	rl, err = NewRateLimiter(ls)
	require.NoError(t, err)
	rl.WithClock(clock)
	st, ok := rl.State("alice", "rewardCalculation")
	require.True(t, ok)
	require.Equal(t, int64(2), st.Count)

	// the third call still fits, the fourth is over budget
	require.NoError(t, rl.Check("alice", "rewardCalculation", 3, 3600))
	require.Error(t, rl.Check("alice", "rewardCalculation", 3, 3600))

	cb, err = NewCircuitBreaker(ls, nil)
	require.NoError(t, err)
	var openErr *CircuitOpenError
	require.ErrorAs(t, cb.Check("rewardDistribution"), &openErr)
	require.Equal(t, "payment backend degraded", openErr.Reason)

	ep, err = NewEmergencyPause(ls, nil)
	require.NoError(t, err)
	var pausedErr *PausedError
	require.ErrorAs(t, ep.Check("rewardCalculation"), &pausedErr)

	tl, err = NewTimelock(time.Hour, 30*24*time.Hour, ls, events.NewEmitter())
	require.NoError(t, err)
	tl.WithClock(clock)
	p, ok := tl.Proposal(hash)
	require.True(t, ok)
	require.False(t, p.Executed)
	require.Equal(t, now+2*3600, p.ExecuteAfter)

	ad, err = NewAnomalyDetector(50, nil, ls, nil)
	require.NoError(t, err)
	b, ok := ad.Baseline("reward_volume")
	require.True(t, ok)
	require.Equal(t, int64(1000), b.Baseline)
}

func TestRateLimiterPersistFailureKeepsWindow(t *testing.T) {
	dir := t.TempDir()
	now := int64(5000)

	store, err := storage.NewBadgerStore(dir)
	require.NoError(t, err)
	ls := storage.NewLedgerStorage(store)

	rl, err := NewRateLimiter(ls)
	require.NoError(t, err)
	rl.WithClock(func() int64 { return now })

	require.NoError(t, rl.Check("alice", "rewardCalculation", 3, 60))

	// every write fails once the store is closed
	require.NoError(t, store.Close())

	// the expired window must not reset in memory when the write fails
	now += 120
	require.Error(t, rl.Check("alice", "rewardCalculation", 3, 60))

	st, ok := rl.State("alice", "rewardCalculation")
	require.True(t, ok)
	require.Equal(t, int64(5000), st.WindowStart)
	require.Equal(t, int64(1), st.Count)
}
