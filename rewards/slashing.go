package rewards

import (
	"fmt"
	"sync"

	"github.com/quikdb/go-quikdb-nodes/auth"
	"github.com/quikdb/go-quikdb-nodes/core/ledger"
	"github.com/quikdb/go-quikdb-nodes/core/types"
	"github.com/quikdb/go-quikdb-nodes/crypto/address"
	"github.com/quikdb/go-quikdb-nodes/events"
)

// SlashingEngine penalizes underperforming operators. Slashes only adjust
// ledger accounting; clawing back already-paid funds is outside its remit.
type SlashingEngine struct {
	mu sync.Mutex

	scorer  *Scorer
	params  *Params
	ledger  *ledger.Ledger
	perm    auth.PermissionCheck
	emitter *events.Emitter
	clock   func() int64
}

// NewSlashingEngine wires a slashing engine
func NewSlashingEngine(scorer *Scorer, params *Params, l *ledger.Ledger,
	perm auth.PermissionCheck, emitter *events.Emitter, clock func() int64) *SlashingEngine {
	return &SlashingEngine{
		scorer:  scorer,
		params:  params,
		ledger:  l,
		perm:    perm,
		emitter: emitter,
		clock:   clock,
	}
}

// Slash penalizes an operator whose weighted score fell below the slashing
// threshold. The amount is bounded by the configured percentage of the
// operator's lifetime distributed rewards.
func (s *SlashingEngine) Slash(caller, operator string, amount int64, reason string,
	uptime, performance, quality int64) error {
	if err := s.perm(caller, auth.CapSlash); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := address.Validate(operator); err != nil {
		return fmt.Errorf("invalid operator address: %v", err)
	}
	if amount <= 0 {
		return fmt.Errorf("slash amount must be positive, got %d", amount)
	}
	if reason == "" {
		return fmt.Errorf("slash reason is required")
	}
	if !ValidScore(uptime) || !ValidScore(performance) || !ValidScore(quality) {
		return fmt.Errorf("scores must be in [0, 100], got uptime=%d performance=%d quality=%d",
			uptime, performance, quality)
	}

	threshold, maxPct, _ := s.params.SlashingPolicy()

	overall := s.scorer.Overall(uptime, performance, quality)
	if overall >= threshold {
		return fmt.Errorf("slashing threshold not met: score %d >= %d", overall, threshold)
	}

	now := s.clock()

	before := s.ledger.Totals(operator)
	if err := s.ledger.RecordSlash(operator, amount, reason, overall, now, maxPct); err != nil {
		return err
	}

	s.emitter.Emit(events.TypeSlash, operator, map[string]interface{}{
		"total_slashed": before.TotalSlashed,
	}, map[string]interface{}{
		"total_slashed": before.TotalSlashed + amount,
		"amount":        amount,
		"reason":        reason,
		"score":         overall,
	})

	return nil
}

// IsEligibleForRewards reports whether the operator is outside the
// post-slash cooldown window
func (s *SlashingEngine) IsEligibleForRewards(operator string) bool {
	_, _, cooldown := s.params.SlashingPolicy()
	return s.ledger.IsEligibleForRewards(operator, s.clock(), cooldown)
}

// History returns the operator's slash events, oldest first
func (s *SlashingEngine) History(operator string) ([]*types.SlashEvent, error) {
	return s.ledger.SlashHistory(operator)
}
