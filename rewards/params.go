// Package rewards implements the reward settlement engine: weighted
// performance scoring, capped reward calculation, idempotent distribution,
// bounded slashing and batch orchestration. Every mutating entry point is
// permission-checked and passes through the guard gate before touching
// ledger state.
package rewards

import (
	"fmt"
	"sync"

	"github.com/quikdb/go-quikdb-nodes/config"
)

// Params holds the admin-tunable settlement parameters. They start from the
// loaded configuration and change only through timelocked admin commands.
type Params struct {
	mu sync.RWMutex

	minAmount  int64
	maxAmount  int64
	dailyCap   int64
	monthlyCap int64

	minInterval int64 // seconds between calculations per operator

	slashThreshold int64
	slashMaxPct    int64
	cooldown       int64 // seconds

	maxBatch int
}

// NewParams seeds the tunable parameters from configuration
func NewParams(cfg *config.Config) *Params {
	return &Params{
		minAmount:      cfg.Rewards.MinRewardAmount,
		maxAmount:      cfg.Rewards.MaxRewardAmount,
		dailyCap:       cfg.Rewards.MaxDailyRewards,
		monthlyCap:     cfg.Rewards.MaxMonthlyRewards,
		minInterval:    int64(cfg.Rewards.MinRewardInterval.Seconds()),
		slashThreshold: cfg.Slashing.Threshold,
		slashMaxPct:    cfg.Slashing.MaxPercentage,
		cooldown:       int64(cfg.Slashing.Cooldown.Seconds()),
		maxBatch:       cfg.Rewards.MaxBatchSize,
	}
}

// Bounds returns the current [min, max] reward amount bounds
func (p *Params) Bounds() (int64, int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minAmount, p.maxAmount
}

// Caps returns the current daily and monthly per-operator caps
func (p *Params) Caps() (int64, int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dailyCap, p.monthlyCap
}

// MinInterval returns the per-operator calculation spacing in seconds
func (p *Params) MinInterval() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minInterval
}

// SlashingPolicy returns the current threshold, max percentage and cooldown
func (p *Params) SlashingPolicy() (threshold, maxPct, cooldown int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.slashThreshold, p.slashMaxPct, p.cooldown
}

// MaxBatch returns the batch size limit
func (p *Params) MaxBatch() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxBatch
}

// SetDailyCap updates the daily cap
func (p *Params) SetDailyCap(cap int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cap <= 0 {
		return fmt.Errorf("daily cap must be positive, got %d", cap)
	}
	if cap > p.monthlyCap {
		return fmt.Errorf("daily cap %d exceeds monthly cap %d", cap, p.monthlyCap)
	}
	p.dailyCap = cap
	return nil
}

// SetMonthlyCap updates the monthly cap
func (p *Params) SetMonthlyCap(cap int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cap < p.dailyCap {
		return fmt.Errorf("monthly cap %d below daily cap %d", cap, p.dailyCap)
	}
	p.monthlyCap = cap
	return nil
}

// SetBounds updates the reward amount bounds
func (p *Params) SetBounds(min, max int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if min <= 0 || max <= min {
		return fmt.Errorf("invalid reward amount bounds [%d, %d]", min, max)
	}
	p.minAmount = min
	p.maxAmount = max
	return nil
}

// SetSlashingPolicy updates the slashing threshold and maximum percentage
func (p *Params) SetSlashingPolicy(threshold, maxPct int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("slashing threshold must be in [0, 100], got %d", threshold)
	}
	if maxPct <= 0 || maxPct > 100 {
		return fmt.Errorf("max slashing percentage must be in (0, 100], got %d", maxPct)
	}
	p.slashThreshold = threshold
	p.slashMaxPct = maxPct
	return nil
}
