package rewards

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quikdb/go-quikdb-nodes/auth"
	"github.com/quikdb/go-quikdb-nodes/config"
	"github.com/quikdb/go-quikdb-nodes/core/account"
	"github.com/quikdb/go-quikdb-nodes/core/ledger"
	"github.com/quikdb/go-quikdb-nodes/core/types"
	"github.com/quikdb/go-quikdb-nodes/events"
	"github.com/quikdb/go-quikdb-nodes/guard"
	"github.com/quikdb/go-quikdb-nodes/registry"
)

var (
	opAddr    = "0x" + strings.Repeat("aa", 20)
	otherAddr = "0x" + strings.Repeat("bb", 20)
)

func testConfig() *config.Config {
	cfg, _ := config.Load()
	cfg.Rewards.MinRewardAmount = 10
	cfg.Rewards.MaxRewardAmount = 100000
	cfg.Rewards.MaxDailyRewards = 1000
	cfg.Rewards.MaxMonthlyRewards = 10000
	cfg.Rewards.MaxBatchSize = 10
	return cfg
}

type testEnv struct {
	engine    *Engine
	directory *registry.Directory
	accounts  *account.Manager
	sink      *events.MemorySink
	now       int64
}

func newTestEnv(t *testing.T, minting bool) *testEnv {
	t.Helper()

	env := &testEnv{now: 1_000_000}
	env.directory = registry.NewDirectory()
	require.NoError(t, env.directory.Register(&registry.NodeInfo{
		NodeID:   "node-1",
		Operator: opAddr,
		Status:   registry.StatusActive,
	}))
	require.NoError(t, env.directory.Register(&registry.NodeInfo{
		NodeID:   "node-2",
		Operator: otherAddr,
		Status:   registry.StatusListed,
	}))

	env.accounts = account.NewManager(minting)
	env.sink = events.NewMemorySink()

	engine, err := NewEngine(testConfig(), nil, env.directory, env.accounts,
		auth.AllowAll, events.NewEmitter(env.sink), func() int64 { return env.now })
	require.NoError(t, err)
	env.engine = engine
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now += int64(d.Seconds())
}

func calcRequest(operator, nodeID string, base int64) CalcRequest {
	return CalcRequest{
		Operator:    operator,
		NodeID:      nodeID,
		BaseAmount:  base,
		Type:        types.RewardPerformance,
		Uptime:      100,
		Performance: 100,
		Quality:     100,
		Period:      "2026-08",
	}
}

func TestCalculateCreatesPendingRecord(t *testing.T) {
	env := newTestEnv(t, true)

	req := calcRequest(opAddr, "node-1", 500)
	req.Uptime, req.Performance, req.Quality = 90, 80, 70

	id, err := env.engine.Calculator.Calculate("alice", req)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	record, err := env.engine.Ledger.Record(id)
	require.NoError(t, err)
	require.Equal(t, opAddr, record.Operator)
	require.Equal(t, "node-1", record.NodeID)
	require.Equal(t, int64(500), record.BaseAmount)
	require.Equal(t, int64(500*81/100), record.Amount) // score 81
	require.Equal(t, int64(90), record.UptimeScore)
	require.Equal(t, int64(80), record.PerformanceScore)
	require.Equal(t, int64(70), record.QualityScore)
	require.False(t, record.Settled)
	require.Zero(t, record.DistributedAt)
	require.Equal(t, env.now, record.CalculatedAt)

	require.Equal(t, record.Amount, env.engine.Ledger.DayBucket(opAddr, ledger.DayEpoch(env.now)))
	require.Len(t, env.sink.ByType(events.TypeRewardCalculated), 1)
}

func TestCalculateValidation(t *testing.T) {
	env := newTestEnv(t, true)

	require.NoError(t, env.directory.Register(&registry.NodeInfo{
		NodeID:   "node-down",
		Operator: opAddr,
		Status:   registry.StatusMaintenance,
	}))

	tests := []struct {
		name   string
		mutate func(*CalcRequest)
	}{
		{"bad operator address", func(r *CalcRequest) { r.Operator = "not-an-address" }},
		{"empty node id", func(r *CalcRequest) { r.NodeID = "" }},
		{"unknown node", func(r *CalcRequest) { r.NodeID = "node-unknown" }},
		{"node not rewardable", func(r *CalcRequest) { r.NodeID = "node-down" }},
		{"uptime out of range", func(r *CalcRequest) { r.Uptime = 101 }},
		{"negative quality", func(r *CalcRequest) { r.Quality = -1 }},
		{"invalid reward type", func(r *CalcRequest) { r.Type = types.RewardType(42) }},
		{"amount below minimum", func(r *CalcRequest) { r.BaseAmount = 5 }},
		{"amount above maximum", func(r *CalcRequest) { r.BaseAmount = 200000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := calcRequest(opAddr, "node-1", 500)
			tt.mutate(&req)
			_, err := env.engine.Calculator.Calculate("alice", req)
			require.Error(t, err)
		})
	}

	// nothing was accrued by the rejected calls
	require.Zero(t, env.engine.Ledger.DayBucket(opAddr, ledger.DayEpoch(env.now)))
}

func TestCalculateMinInterval(t *testing.T) {
	env := newTestEnv(t, true)

	_, err := env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 100))
	require.NoError(t, err)

	env.advance(30 * time.Minute)
	_, err = env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 100))
	require.Error(t, err)
	require.Contains(t, err.Error(), "too recent")

	// other operators are not throttled by alice's operator
	_, err = env.engine.Calculator.Calculate("alice", calcRequest(otherAddr, "node-2", 100))
	require.NoError(t, err)

	env.advance(31 * time.Minute)
	_, err = env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 100))
	require.NoError(t, err)
}

func TestCalculateDailyCap(t *testing.T) {
	env := newTestEnv(t, true)

	_, err := env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 600))
	require.NoError(t, err)

	env.advance(time.Hour)
	_, err = env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 500))
	require.Error(t, err)
	var capErr *ledger.CapExceededError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, "daily", capErr.Period)

	// the rejected accrual left the bucket unchanged
	require.Equal(t, int64(600), env.engine.Ledger.DayBucket(opAddr, ledger.DayEpoch(env.now)))

	env.advance(time.Hour)
	_, err = env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 400))
	require.NoError(t, err)
	require.Equal(t, int64(1000), env.engine.Ledger.DayBucket(opAddr, ledger.DayEpoch(env.now)))
}

func TestDistributeIdempotent(t *testing.T) {
	env := newTestEnv(t, true)

	id, err := env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 500))
	require.NoError(t, err)

	require.NoError(t, env.engine.Distributor.Distribute("bob", id))
	require.Equal(t, int64(500), env.accounts.Balance(opAddr))

	totals := env.engine.Ledger.Totals(opAddr)
	require.Equal(t, int64(500), totals.TotalDistributed)
	require.Equal(t, env.now, totals.LastDistribution)

	// second distribution fails and pays nothing
	err = env.engine.Distributor.Distribute("bob", id)
	require.ErrorIs(t, err, ledger.ErrAlreadySettled)
	require.Equal(t, int64(500), env.accounts.Balance(opAddr))
	require.Equal(t, int64(500), env.engine.Ledger.Totals(opAddr).TotalDistributed)

	require.Error(t, env.engine.Distributor.Distribute("bob", "missing"))
	require.Len(t, env.sink.ByType(events.TypeRewardSettled), 1)
}

func TestDistributeInsufficientTreasury(t *testing.T) {
	env := newTestEnv(t, false)
	require.NoError(t, env.accounts.FundTreasury(100))

	id, err := env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 500))
	require.NoError(t, err)

	err = env.engine.Distributor.Distribute("bob", id)
	require.Error(t, err)
	require.Contains(t, err.Error(), "insufficient treasury balance")

	// nothing settled, nothing paid
	record, err := env.engine.Ledger.Record(id)
	require.NoError(t, err)
	require.False(t, record.Settled)
	require.Zero(t, env.accounts.Balance(opAddr))

	// funding the treasury unblocks the same record
	require.NoError(t, env.accounts.FundTreasury(400))
	require.NoError(t, env.engine.Distributor.Distribute("bob", id))
	require.Equal(t, int64(500), env.accounts.Balance(opAddr))
	require.Zero(t, env.accounts.TreasuryBalance())
}

func TestDistributePaymentFailureRevertsSettle(t *testing.T) {
	env := newTestEnv(t, true)

	// the ledger accepts this record but the token ledger rejects the
	// malformed operator address at payment time
	bad := &types.RewardRecord{
		ID:           "r-bad",
		Operator:     "not-an-address",
		NodeID:       "node-1",
		BaseAmount:   500,
		Amount:       500,
		Type:         types.RewardPerformance,
		CalculatedAt: env.now,
	}
	require.NoError(t, env.engine.Ledger.AppendRecord(bad, 1000, 10000))

	err := env.engine.Distributor.Distribute("bob", "r-bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to pay")

	// the settle was fully compensated: no flag, no totals, no timestamp
	record, err := env.engine.Ledger.Record("r-bad")
	require.NoError(t, err)
	require.False(t, record.Settled)
	require.Zero(t, record.DistributedAt)

	totals := env.engine.Ledger.Totals("not-an-address")
	require.Zero(t, totals.TotalDistributed)
	require.Zero(t, totals.LastDistribution)
	require.Empty(t, env.sink.ByType(events.TypeRewardSettled))
}

func TestSlashingScenario(t *testing.T) {
	env := newTestEnv(t, true)

	// give the operator a distributed history of 1000
	id, err := env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 1000))
	require.NoError(t, err)
	require.NoError(t, env.engine.Distributor.Distribute("bob", id))

	// a healthy score is not slashable
	err = env.engine.Slashing.Slash("carol", opAddr, 100, "spurious", 90, 90, 90)
	require.Error(t, err)
	require.Contains(t, err.Error(), "threshold not met")

	// 600 exceeds 50% of the 1000 distributed
	err = env.engine.Slashing.Slash("carol", opAddr, 600, "sustained downtime", 40, 40, 40)
	require.Error(t, err)
	var slashErr *ledger.ExcessiveSlashError
	require.ErrorAs(t, err, &slashErr)

	require.NoError(t, env.engine.Slashing.Slash("carol", opAddr, 500, "sustained downtime", 40, 40, 40))
	require.Equal(t, int64(500), env.engine.Ledger.Totals(opAddr).TotalSlashed)

	// slashing again inside the cooldown still works; only rewards are gated
	env.advance(time.Hour)
	require.NoError(t, env.engine.Slashing.Slash("carol", opAddr, 100, "still down", 40, 40, 40))
	require.False(t, env.engine.Slashing.IsEligibleForRewards(opAddr))

	_, err = env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 100))
	require.Error(t, err)
	require.Contains(t, err.Error(), "cooldown")

	// after the cooldown the operator earns again
	env.advance(25 * time.Hour)
	require.True(t, env.engine.Slashing.IsEligibleForRewards(opAddr))
	_, err = env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 100))
	require.NoError(t, err)

	history, err := env.engine.Slashing.History(opAddr)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestBatchDistributeScenario(t *testing.T) {
	env := newTestEnv(t, true)

	// four real records; settle two of them up front
	var ids []string
	for i, base := range []int64{100, 150, 200, 250} {
		req := calcRequest(opAddr, "node-1", base)
		if i%2 == 1 {
			req = calcRequest(otherAddr, "node-2", base)
		}
		id, err := env.engine.Calculator.Calculate("alice", req)
		require.NoError(t, err)
		ids = append(ids, id)
		env.advance(2 * time.Hour)
	}
	require.NoError(t, env.engine.Distributor.Distribute("bob", ids[0]))
	require.NoError(t, env.engine.Distributor.Distribute("bob", ids[1]))

	batch := []string{ids[0], ids[1], ids[2], ids[3], "nonexistent"}
	report, err := env.engine.Batch.BatchDistribute("bob", batch)
	require.NoError(t, err)
	require.Equal(t, 2, report.Succeeded)
	require.Equal(t, 3, report.Failed)
	require.Len(t, report.Results, 5)
	require.False(t, report.Results[0].OK())
	require.True(t, report.Results[2].OK())

	// all-invalid batch fails completely
	report, err = env.engine.Batch.BatchDistribute("bob", []string{ids[0], "nope"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "batch failed completely")
	require.Zero(t, report.Succeeded)

	// shape errors abort before any item runs
	_, err = env.engine.Batch.BatchDistribute("bob", nil)
	require.Error(t, err)
	_, err = env.engine.Batch.BatchDistribute("bob", make([]string, 11))
	require.Error(t, err)
}

func TestBatchCalculateColumns(t *testing.T) {
	env := newTestEnv(t, true)

	cols := CalcColumns{
		Operators:    []string{opAddr, otherAddr},
		NodeIDs:      []string{"node-1", "node-2"},
		BaseAmounts:  []int64{100, 200},
		Types:        []types.RewardType{types.RewardUptime, types.RewardStorage},
		Uptimes:      []int64{100, 90},
		Performances: []int64{100, 90},
		Qualities:    []int64{100, 90},
		Periods:      []string{"2026-08", "2026-08"},
	}

	// mismatched columns abort before any item runs
	short := cols
	short.Periods = []string{"2026-08"}
	_, err := env.engine.Batch.BatchCalculateColumns("alice", short)
	require.Error(t, err)
	require.Contains(t, err.Error(), "length mismatch")
	require.Zero(t, env.engine.Ledger.DayBucket(opAddr, ledger.DayEpoch(env.now)))

	report, err := env.engine.Batch.BatchCalculateColumns("alice", cols)
	require.NoError(t, err)
	require.Equal(t, 2, report.Succeeded)
	require.Zero(t, report.Failed)
	require.NotEmpty(t, report.Results[0].RewardID)
}

func TestPauseBlocksSettlement(t *testing.T) {
	env := newTestEnv(t, true)

	require.NoError(t, env.engine.PauseSubsystem("admin", OpCalculation, "cap audit", time.Hour))
	_, err := env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 100))
	var pausedErr *guard.PausedError
	require.ErrorAs(t, err, &pausedErr)

	// distribution is a separate subsystem
	require.NoError(t, env.engine.ResumeSubsystem("admin", OpCalculation))
	id, err := env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 100))
	require.NoError(t, err)

	require.NoError(t, env.engine.PauseSubsystem("admin", OpDistribution, "payout hold", time.Hour))
	require.ErrorAs(t, env.engine.Distributor.Distribute("bob", id), &pausedErr)
	require.NoError(t, env.engine.ResumeSubsystem("admin", OpDistribution))
	require.NoError(t, env.engine.Distributor.Distribute("bob", id))
}

func TestAdminTimelockFlow(t *testing.T) {
	env := newTestEnv(t, true)

	cmd := guard.Command{Kind: guard.CmdUpdateDailyCap, Cap: 500}
	hash, err := env.engine.ProposeAdmin("admin", cmd, 2*time.Hour, "tighten daily cap")
	require.NoError(t, err)

	require.Error(t, env.engine.ExecuteAdmin("admin", hash))

	env.advance(2 * time.Hour)
	require.NoError(t, env.engine.ExecuteAdmin("admin", hash))

	daily, _ := env.engine.Params().Caps()
	require.Equal(t, int64(500), daily)

	// the new cap is live for the next calculation
	_, err = env.engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 600))
	var capErr *ledger.CapExceededError
	require.ErrorAs(t, err, &capErr)

	// reset a tripped breaker through the same path
	require.NoError(t, env.engine.Gate.Breaker.Trip(OpCalculation, "manual halt"))
	resetCmd := guard.Command{Kind: guard.CmdResetCircuit, Operation: OpCalculation}
	hash, err = env.engine.ProposeAdmin("admin", resetCmd, 2*time.Hour, "resume calculation")
	require.NoError(t, err)
	env.advance(2 * time.Hour)
	require.NoError(t, env.engine.ExecuteAdmin("admin", hash))
	require.NoError(t, env.engine.Gate.Breaker.Check(OpCalculation))
}

func TestPermissionChecks(t *testing.T) {
	reg := auth.NewRegistry()
	reg.Grant("alice", auth.CapCalculate)
	reg.Grant("bob", auth.CapDistribute)

	env := &testEnv{now: 1_000_000}
	env.directory = registry.NewDirectory()
	require.NoError(t, env.directory.Register(&registry.NodeInfo{
		NodeID:   "node-1",
		Operator: opAddr,
		Status:   registry.StatusActive,
	}))
	env.accounts = account.NewManager(true)

	engine, err := NewEngine(testConfig(), nil, env.directory, env.accounts,
		reg.Check(), events.NewEmitter(), func() int64 { return env.now })
	require.NoError(t, err)
	env.engine = engine

	id, err := engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 100))
	require.NoError(t, err)

	// alice cannot distribute, bob cannot calculate, carol cannot slash
	var denied *auth.ErrPermissionDenied
	require.ErrorAs(t, engine.Distributor.Distribute("alice", id), &denied)
	_, err = engine.Calculator.Calculate("bob", calcRequest(opAddr, "node-1", 100))
	require.ErrorAs(t, err, &denied)
	require.ErrorAs(t, engine.Slashing.Slash("carol", opAddr, 10, "downtime", 10, 10, 10), &denied)
	_, err = engine.ProposeAdmin("bob", guard.Command{Kind: guard.CmdUpdateDailyCap, Cap: 1}, 2*time.Hour, "x")
	require.ErrorAs(t, err, &denied)

	require.NoError(t, engine.Distributor.Distribute("bob", id))
}

func TestCalculationRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Guard.CalculationRateLimit = 2
	cfg.Rewards.MinRewardInterval = 0

	env := &testEnv{now: 1_000_000}
	env.directory = registry.NewDirectory()
	require.NoError(t, env.directory.Register(&registry.NodeInfo{
		NodeID:   "node-1",
		Operator: opAddr,
		Status:   registry.StatusActive,
	}))
	env.accounts = account.NewManager(true)

	engine, err := NewEngine(cfg, nil, env.directory, env.accounts,
		auth.AllowAll, events.NewEmitter(), func() int64 { return env.now })
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 100))
		require.NoError(t, err)
		env.now++
	}

	_, err = engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 100))
	var rlErr *guard.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, int64(2), rlErr.Count)

	// a new window restores the budget
	env.now += int64(cfg.Guard.RateLimitWindow.Seconds())
	_, err = engine.Calculator.Calculate("alice", calcRequest(opAddr, "node-1", 100))
	require.NoError(t, err)
}
