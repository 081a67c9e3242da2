package rewards

import (
	"time"

	"github.com/quikdb/go-quikdb-nodes/auth"
	"github.com/quikdb/go-quikdb-nodes/config"
	"github.com/quikdb/go-quikdb-nodes/core/account"
	"github.com/quikdb/go-quikdb-nodes/core/ledger"
	"github.com/quikdb/go-quikdb-nodes/events"
	"github.com/quikdb/go-quikdb-nodes/guard"
	"github.com/quikdb/go-quikdb-nodes/registry"
	"github.com/quikdb/go-quikdb-nodes/storage"
)

// Engine composes the settlement components over one ledger and one guard
// plane. It is the AdminTarget timelocked commands dispatch against.
type Engine struct {
	cfg    *config.Config
	params *Params

	Ledger      *ledger.Ledger
	Accounts    *account.Manager
	Calculator  *Calculator
	Distributor *Distributor
	Slashing    *SlashingEngine
	Batch       *BatchCoordinator

	Gate     *guard.Gate
	Timelock *guard.Timelock
	Anomaly  *guard.AnomalyDetector

	perm    auth.PermissionCheck
	emitter *events.Emitter
	clock   func() int64
}

// NewEngine builds the full settlement engine. A nil store gives an
// ephemeral engine; a nil clock uses wall-clock seconds.
func NewEngine(cfg *config.Config, store *storage.LedgerStorage, directory registry.NodeDirectory,
	accounts *account.Manager, perm auth.PermissionCheck, emitter *events.Emitter,
	clock func() int64) (*Engine, error) {
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	if perm == nil {
		perm = auth.AllowAll
	}

	l, err := ledger.NewLedger(store)
	if err != nil {
		return nil, err
	}

	rl, err := guard.NewRateLimiter(store)
	if err != nil {
		return nil, err
	}
	rl.WithClock(clock)

	cb, err := guard.NewCircuitBreaker(store, emitter)
	if err != nil {
		return nil, err
	}
	cb.WithClock(clock)

	ep, err := guard.NewEmergencyPause(store, emitter)
	if err != nil {
		return nil, err
	}
	ep.WithClock(clock)

	gate := guard.NewGate(rl, cb, ep)

	tl, err := guard.NewTimelock(cfg.Guard.MinTimelockDelay.Duration(), cfg.Guard.MaxTimelockDelay.Duration(), store, emitter)
	if err != nil {
		return nil, err
	}
	tl.WithClock(clock)

	ad, err := guard.NewAnomalyDetector(cfg.Guard.AnomalyThreshold, cb, store, emitter)
	if err != nil {
		return nil, err
	}

	scorer, err := NewScorer(cfg.Rewards.UptimeWeight, cfg.Rewards.PerformanceWeight, cfg.Rewards.QualityWeight)
	if err != nil {
		return nil, err
	}

	params := NewParams(cfg)
	window := int64(cfg.Guard.RateLimitWindow.Seconds())

	calculator := NewCalculator(scorer, params, l, directory, gate, perm, emitter,
		cfg.Guard.CalculationRateLimit, window, clock)
	distributor := NewDistributor(l, accounts, gate, perm, emitter,
		cfg.Guard.DistributionRateLimit, window, clock)
	slashing := NewSlashingEngine(scorer, params, l, perm, emitter, clock)
	batch := NewBatchCoordinator(calculator, distributor, l, accounts, params)

	return &Engine{
		cfg:         cfg,
		params:      params,
		Ledger:      l,
		Accounts:    accounts,
		Calculator:  calculator,
		Distributor: distributor,
		Slashing:    slashing,
		Batch:       batch,
		Gate:        gate,
		Timelock:    tl,
		Anomaly:     ad,
		perm:        perm,
		emitter:     emitter,
		clock:       clock,
	}, nil
}

// Params exposes the current tunable parameters
func (e *Engine) Params() *Params {
	return e.params
}

// ProposeAdmin queues a timelocked admin command
func (e *Engine) ProposeAdmin(caller string, cmd guard.Command, delay time.Duration, description string) (string, error) {
	if err := e.perm(caller, auth.CapAdmin); err != nil {
		return "", err
	}
	return e.Timelock.Propose(cmd, delay, description, caller)
}

// ExecuteAdmin runs a matured admin proposal against this engine
func (e *Engine) ExecuteAdmin(caller, hash string) error {
	if err := e.perm(caller, auth.CapAdmin); err != nil {
		return err
	}
	return e.Timelock.Execute(hash, e)
}

// PauseSubsystem activates the emergency pause for a guarded operation
func (e *Engine) PauseSubsystem(caller, subsystem, reason string, duration time.Duration) error {
	if err := e.perm(caller, auth.CapAdmin); err != nil {
		return err
	}
	return e.Gate.Pause.Activate(subsystem, reason, duration, caller)
}

// ResumeSubsystem deactivates the emergency pause for a guarded operation
func (e *Engine) ResumeSubsystem(caller, subsystem string) error {
	if err := e.perm(caller, auth.CapAdmin); err != nil {
		return err
	}
	return e.Gate.Pause.Deactivate(subsystem)
}

// ObserveMetric feeds one observation into the anomaly detector
func (e *Engine) ObserveMetric(metric string, current int64) (bool, error) {
	return e.Anomaly.Observe(metric, current)
}

// UpdateDailyCap implements guard.AdminTarget
func (e *Engine) UpdateDailyCap(cap int64) error {
	return e.params.SetDailyCap(cap)
}

// UpdateMonthlyCap implements guard.AdminTarget
func (e *Engine) UpdateMonthlyCap(cap int64) error {
	return e.params.SetMonthlyCap(cap)
}

// UpdateRewardBounds implements guard.AdminTarget
func (e *Engine) UpdateRewardBounds(min, max int64) error {
	return e.params.SetBounds(min, max)
}

// UpdateSlashingPolicy implements guard.AdminTarget
func (e *Engine) UpdateSlashingPolicy(threshold, maxPercentage int64) error {
	return e.params.SetSlashingPolicy(threshold, maxPercentage)
}

// ResetCircuit implements guard.AdminTarget
func (e *Engine) ResetCircuit(operation string) error {
	return e.Gate.Breaker.Reset(operation)
}

// Stats returns engine-wide counters
func (e *Engine) Stats() map[string]interface{} {
	stats := e.Ledger.Stats()
	stats["treasury_balance"] = e.Accounts.TreasuryBalance()
	stats["minting"] = e.Accounts.Minting()
	return stats
}
