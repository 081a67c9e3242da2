// Package types holds the persistent data model of the reward settlement core:
// reward records, per-operator ledger totals, slash events and period buckets.
// Everything here is plain data, serialized as JSON at the storage boundary.
package types

import "fmt"

// RewardType categorizes the contribution being compensated
type RewardType int32

const (
	RewardPerformance RewardType = iota
	RewardUptime
	RewardStorage
	RewardComputation
	RewardNetwork
	RewardBonus
)

// String returns the canonical name of the reward type
func (rt RewardType) String() string {
	switch rt {
	case RewardPerformance:
		return "performance"
	case RewardUptime:
		return "uptime"
	case RewardStorage:
		return "storage"
	case RewardComputation:
		return "computation"
	case RewardNetwork:
		return "network"
	case RewardBonus:
		return "bonus"
	default:
		return fmt.Sprintf("unknown(%d)", int32(rt))
	}
}

// Valid reports whether the reward type is within the enum range
func (rt RewardType) Valid() bool {
	return rt >= RewardPerformance && rt <= RewardBonus
}

// RewardRecord is a single calculated reward awaiting (or past) settlement.
// Amount and scores are immutable after creation; only Settled and
// DistributedAt are mutated, exactly once, by the distributor.
type RewardRecord struct {
	ID               string     `json:"id"`
	Operator         string     `json:"operator"`
	NodeID           string     `json:"node_id"`
	BaseAmount       int64      `json:"base_amount"`
	Amount           int64      `json:"amount"` // score-adjusted amount
	Type             RewardType `json:"type"`
	UptimeScore      int64      `json:"uptime_score"`
	PerformanceScore int64      `json:"performance_score"`
	QualityScore     int64      `json:"quality_score"`
	Period           string     `json:"period"`
	CalculatedAt     int64      `json:"calculated_at"`
	DistributedAt    int64      `json:"distributed_at"` // 0 until settled
	Settled          bool       `json:"settled"`
}

// OperatorTotals tracks an operator's lifetime ledger position
type OperatorTotals struct {
	Operator         string `json:"operator"`
	TotalDistributed int64  `json:"total_distributed"`
	TotalSlashed     int64  `json:"total_slashed"`
	LastDistribution int64  `json:"last_distribution"`
	LastCalculation  int64  `json:"last_calculation"`
	LastSlash        int64  `json:"last_slash"`
}

// SlashEvent records a single penalty applied to an operator
type SlashEvent struct {
	Operator  string `json:"operator"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	Score     int64  `json:"score"`
	Timestamp int64  `json:"timestamp"`
}

// PeriodBucket is a per-operator accumulator for one day or month epoch
type PeriodBucket struct {
	Operator string `json:"operator"`
	Epoch    int64  `json:"epoch"`
	Amount   int64  `json:"amount"`
}
