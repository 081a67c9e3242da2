package rewards

import (
	"fmt"

	"github.com/quikdb/go-quikdb-nodes/core/account"
	"github.com/quikdb/go-quikdb-nodes/core/ledger"
	"github.com/quikdb/go-quikdb-nodes/core/types"
)

// ItemResult is the outcome of one item within a batch
type ItemResult struct {
	Index    int    `json:"index"`
	RewardID string `json:"reward_id,omitempty"`
	Err      string `json:"error,omitempty"`
}

// OK reports whether the item succeeded
func (r ItemResult) OK() bool {
	return r.Err == ""
}

// BatchReport summarizes a batch run
type BatchReport struct {
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Results   []ItemResult `json:"results"`
}

// BatchCoordinator drives the calculator and distributor over collections.
// A shape error (empty batch, oversized batch, mismatched inputs) aborts
// before any item runs; after that each item succeeds or fails on its own.
type BatchCoordinator struct {
	calculator  *Calculator
	distributor *Distributor
	ledger      *ledger.Ledger
	accounts    *account.Manager
	params      *Params
}

// NewBatchCoordinator wires a batch coordinator
func NewBatchCoordinator(calculator *Calculator, distributor *Distributor,
	l *ledger.Ledger, accounts *account.Manager, params *Params) *BatchCoordinator {
	return &BatchCoordinator{
		calculator:  calculator,
		distributor: distributor,
		ledger:      l,
		accounts:    accounts,
		params:      params,
	}
}

func (b *BatchCoordinator) checkShape(n int) error {
	if n == 0 {
		return fmt.Errorf("empty batch")
	}
	if max := b.params.MaxBatch(); n > max {
		return fmt.Errorf("batch size %d exceeds maximum %d", n, max)
	}
	return nil
}

// BatchDistribute settles a collection of rewards. It pre-sums the amounts
// of the distributable records and verifies the treasury can cover the whole
// batch once, then attempts every item individually. The call fails only
// when not a single item settled.
func (b *BatchCoordinator) BatchDistribute(caller string, rewardIDs []string) (*BatchReport, error) {
	if err := b.checkShape(len(rewardIDs)); err != nil {
		return nil, err
	}

	var total int64
	for _, id := range rewardIDs {
		record, err := b.ledger.Record(id)
		if err != nil || record.Settled {
			continue
		}
		total += record.Amount
	}
	if total > 0 && !b.accounts.CanPay(total) {
		return nil, fmt.Errorf("insufficient treasury balance for batch: need %d, have %d",
			total, b.accounts.TreasuryBalance())
	}

	report := &BatchReport{Results: make([]ItemResult, 0, len(rewardIDs))}
	for i, id := range rewardIDs {
		result := ItemResult{Index: i, RewardID: id}
		if err := b.distributor.Distribute(caller, id); err != nil {
			result.Err = err.Error()
			report.Failed++
		} else {
			report.Succeeded++
		}
		report.Results = append(report.Results, result)
	}

	if report.Succeeded == 0 {
		return report, fmt.Errorf("batch failed completely: %d items", report.Failed)
	}
	return report, nil
}

// CalcColumns carries batch calculation inputs as parallel slices, the shape
// callers assemble from columnar telemetry exports
type CalcColumns struct {
	Operators    []string           `json:"operators"`
	NodeIDs      []string           `json:"node_ids"`
	BaseAmounts  []int64            `json:"base_amounts"`
	Types        []types.RewardType `json:"types"`
	Uptimes      []int64            `json:"uptimes"`
	Performances []int64            `json:"performances"`
	Qualities    []int64            `json:"qualities"`
	Periods      []string           `json:"periods"`
}

// BatchCalculateColumns cross-validates the column lengths, zips them into
// per-item requests and runs BatchCalculate. Any length mismatch aborts
// before the first item runs.
func (b *BatchCoordinator) BatchCalculateColumns(caller string, cols CalcColumns) (*BatchReport, error) {
	n := len(cols.Operators)
	for name, got := range map[string]int{
		"node_ids":     len(cols.NodeIDs),
		"base_amounts": len(cols.BaseAmounts),
		"types":        len(cols.Types),
		"uptimes":      len(cols.Uptimes),
		"performances": len(cols.Performances),
		"qualities":    len(cols.Qualities),
		"periods":      len(cols.Periods),
	} {
		if got != n {
			return nil, fmt.Errorf("batch column length mismatch: operators=%d %s=%d", n, name, got)
		}
	}

	requests := make([]CalcRequest, n)
	for i := 0; i < n; i++ {
		requests[i] = CalcRequest{
			Operator:    cols.Operators[i],
			NodeID:      cols.NodeIDs[i],
			BaseAmount:  cols.BaseAmounts[i],
			Type:        cols.Types[i],
			Uptime:      cols.Uptimes[i],
			Performance: cols.Performances[i],
			Quality:     cols.Qualities[i],
			Period:      cols.Periods[i],
		}
	}

	return b.BatchCalculate(caller, requests)
}

// BatchCalculate runs a collection of reward calculations. Each item is
// validated and settled into the ledger independently.
func (b *BatchCoordinator) BatchCalculate(caller string, requests []CalcRequest) (*BatchReport, error) {
	if err := b.checkShape(len(requests)); err != nil {
		return nil, err
	}

	report := &BatchReport{Results: make([]ItemResult, 0, len(requests))}
	for i, req := range requests {
		result := ItemResult{Index: i}
		id, err := b.calculator.Calculate(caller, req)
		if err != nil {
			result.Err = err.Error()
			report.Failed++
		} else {
			result.RewardID = id
			report.Succeeded++
		}
		report.Results = append(report.Results, result)
	}

	if report.Succeeded == 0 {
		return report, fmt.Errorf("batch failed completely: %d items", report.Failed)
	}
	return report, nil
}
