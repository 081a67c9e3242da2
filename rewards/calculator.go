package rewards

import (
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/quikdb/go-quikdb-nodes/auth"
	"github.com/quikdb/go-quikdb-nodes/core/ledger"
	"github.com/quikdb/go-quikdb-nodes/core/types"
	"github.com/quikdb/go-quikdb-nodes/crypto/address"
	"github.com/quikdb/go-quikdb-nodes/events"
	"github.com/quikdb/go-quikdb-nodes/guard"
	"github.com/quikdb/go-quikdb-nodes/registry"
)

// OpCalculation is the guard operation name for reward calculation
const OpCalculation = "rewardCalculation"

// CalcRequest carries the inputs of one reward calculation
type CalcRequest struct {
	Operator    string           `json:"operator"`
	NodeID      string           `json:"node_id"`
	BaseAmount  int64            `json:"base_amount"`
	Type        types.RewardType `json:"type"`
	Uptime      int64            `json:"uptime"`
	Performance int64            `json:"performance"`
	Quality     int64            `json:"quality"`
	Period      string           `json:"period"`
}

// Calculator turns raw node signals into pending reward records, enforcing
// amount bounds, calculation spacing, slash cooldown and per-period caps
type Calculator struct {
	mu sync.Mutex

	scorer    *Scorer
	params    *Params
	ledger    *ledger.Ledger
	directory registry.NodeDirectory
	gate      *guard.Gate
	perm      auth.PermissionCheck
	emitter   *events.Emitter
	clock     func() int64

	rateLimit     int64
	windowSeconds int64
}

// NewCalculator wires a calculator; perm may be auth.AllowAll for embedded use
func NewCalculator(scorer *Scorer, params *Params, l *ledger.Ledger, directory registry.NodeDirectory,
	gate *guard.Gate, perm auth.PermissionCheck, emitter *events.Emitter,
	rateLimit, windowSeconds int64, clock func() int64) *Calculator {
	return &Calculator{
		scorer:        scorer,
		params:        params,
		ledger:        l,
		directory:     directory,
		gate:          gate,
		perm:          perm,
		emitter:       emitter,
		clock:         clock,
		rateLimit:     rateLimit,
		windowSeconds: windowSeconds,
	}
}

// rewardID derives a collision-resistant record id from the inputs that make
// a calculation unique
func rewardID(operator, nodeID string, amount, now int64, rt types.RewardType, period string) string {
	preimage := fmt.Sprintf("%s|%s|%d|%d|%d|%s", operator, nodeID, amount, now, rt, period)
	sum := blake2b.Sum256([]byte(preimage))
	return hex.EncodeToString(sum[:])
}

// Calculate validates a reward request, applies the weighted score to the
// base amount, enforces the period caps and persists a pending record.
// Returns the new record's id.
func (c *Calculator) Calculate(caller string, req CalcRequest) (string, error) {
	if err := c.perm(caller, auth.CapCalculate); err != nil {
		return "", err
	}
	if err := c.gate.Admit(caller, OpCalculation, c.rateLimit, c.windowSeconds); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.calculate(req)
	if err != nil {
		_ = c.gate.Breaker.RecordFailure(OpCalculation)
		return "", err
	}
	_ = c.gate.Breaker.RecordSuccess(OpCalculation)
	return id, nil
}

func (c *Calculator) calculate(req CalcRequest) (string, error) {
	if err := address.Validate(req.Operator); err != nil {
		return "", fmt.Errorf("invalid operator address: %v", err)
	}
	if req.NodeID == "" {
		return "", fmt.Errorf("node id is required")
	}
	if !c.directory.NodeExists(req.NodeID) {
		return "", fmt.Errorf("node %s not found", req.NodeID)
	}
	info, err := c.directory.GetNodeInfo(req.NodeID)
	if err != nil {
		return "", fmt.Errorf("failed to look up node %s: %v", req.NodeID, err)
	}
	if !registry.Rewardable(info.Status) {
		return "", fmt.Errorf("node %s is not active (status %s)", req.NodeID, info.Status)
	}

	if !ValidScore(req.Uptime) || !ValidScore(req.Performance) || !ValidScore(req.Quality) {
		return "", fmt.Errorf("scores must be in [0, 100], got uptime=%d performance=%d quality=%d",
			req.Uptime, req.Performance, req.Quality)
	}
	if !req.Type.Valid() {
		return "", fmt.Errorf("invalid reward type %d", req.Type)
	}

	minAmount, maxAmount := c.params.Bounds()
	if req.BaseAmount < minAmount || req.BaseAmount > maxAmount {
		return "", fmt.Errorf("base amount %d outside bounds [%d, %d]", req.BaseAmount, minAmount, maxAmount)
	}

	now := c.clock()

	totals := c.ledger.Totals(req.Operator)
	if totals.LastCalculation != 0 && now-totals.LastCalculation < c.params.MinInterval() {
		return "", fmt.Errorf("reward calculation for %s too recent, last at %d", req.Operator, totals.LastCalculation)
	}

	_, _, cooldown := c.params.SlashingPolicy()
	if !c.ledger.IsEligibleForRewards(req.Operator, now, cooldown) {
		return "", fmt.Errorf("operator %s is in post-slash cooldown", req.Operator)
	}

	overall := c.scorer.Overall(req.Uptime, req.Performance, req.Quality)
	adjusted := req.BaseAmount * overall / 100
	if adjusted < minAmount || adjusted > maxAmount {
		return "", fmt.Errorf("adjusted amount %d outside bounds [%d, %d]", adjusted, minAmount, maxAmount)
	}

	id := rewardID(req.Operator, req.NodeID, adjusted, now, req.Type, req.Period)
	if c.ledger.HasRecord(id) {
		return "", fmt.Errorf("reward id collision for %s", id)
	}

	record := &types.RewardRecord{
		ID:               id,
		Operator:         req.Operator,
		NodeID:           req.NodeID,
		BaseAmount:       req.BaseAmount,
		Amount:           adjusted,
		Type:             req.Type,
		UptimeScore:      req.Uptime,
		PerformanceScore: req.Performance,
		QualityScore:     req.Quality,
		Period:           req.Period,
		CalculatedAt:     now,
	}

	dailyCap, monthlyCap := c.params.Caps()
	if err := c.ledger.AppendRecord(record, dailyCap, monthlyCap); err != nil {
		return "", err
	}

	c.emitter.Emit(events.TypeRewardCalculated, req.Operator, nil, map[string]interface{}{
		"reward_id":   id,
		"node_id":     req.NodeID,
		"base_amount": req.BaseAmount,
		"amount":      adjusted,
		"score":       overall,
		"type":        req.Type.String(),
		"period":      req.Period,
	})

	return id, nil
}
