package rewards

import (
	"fmt"
	"sync"

	"github.com/quikdb/go-quikdb-nodes/auth"
	"github.com/quikdb/go-quikdb-nodes/core/account"
	"github.com/quikdb/go-quikdb-nodes/core/ledger"
	"github.com/quikdb/go-quikdb-nodes/events"
	"github.com/quikdb/go-quikdb-nodes/guard"
)

// OpDistribution is the guard operation name for reward distribution
const OpDistribution = "rewardDistribution"

// Distributor settles pending reward records: it pays the operator and flips
// the record's settled flag, exactly once per record
type Distributor struct {
	mu sync.Mutex

	ledger   *ledger.Ledger
	accounts *account.Manager
	gate     *guard.Gate
	perm     auth.PermissionCheck
	emitter  *events.Emitter
	clock    func() int64

	rateLimit     int64
	windowSeconds int64
}

// NewDistributor wires a distributor
func NewDistributor(l *ledger.Ledger, accounts *account.Manager, gate *guard.Gate,
	perm auth.PermissionCheck, emitter *events.Emitter,
	rateLimit, windowSeconds int64, clock func() int64) *Distributor {
	return &Distributor{
		ledger:        l,
		accounts:      accounts,
		gate:          gate,
		perm:          perm,
		emitter:       emitter,
		clock:         clock,
		rateLimit:     rateLimit,
		windowSeconds: windowSeconds,
	}
}

// Distribute pays out one pending reward. The ledger settle and the payment
// either both land or neither does: a payment failure after the settle
// committed is compensated by reverting the settle before returning.
func (d *Distributor) Distribute(caller, rewardID string) error {
	if err := d.perm(caller, auth.CapDistribute); err != nil {
		return err
	}
	if err := d.gate.Admit(caller, OpDistribution, d.rateLimit, d.windowSeconds); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.distribute(rewardID); err != nil {
		_ = d.gate.Breaker.RecordFailure(OpDistribution)
		return err
	}
	_ = d.gate.Breaker.RecordSuccess(OpDistribution)
	return nil
}

func (d *Distributor) distribute(rewardID string) error {
	record, err := d.ledger.Record(rewardID)
	if err != nil {
		return err
	}
	if record.Settled {
		return ledger.ErrAlreadySettled
	}

	if !d.accounts.CanPay(record.Amount) {
		return fmt.Errorf("insufficient treasury balance for reward %s: need %d, have %d",
			rewardID, record.Amount, d.accounts.TreasuryBalance())
	}

	now := d.clock()

	settled, err := d.ledger.Settle(rewardID, now)
	if err != nil {
		return err
	}

	if err := d.accounts.Pay(record.Operator, record.Amount); err != nil {
		if revertErr := d.ledger.Unsettle(rewardID); revertErr != nil {
			return fmt.Errorf("payment failed (%v) and settle revert failed: %v", err, revertErr)
		}
		return fmt.Errorf("failed to pay reward %s: %v", rewardID, err)
	}

	d.emitter.Emit(events.TypeRewardSettled, record.Operator, map[string]interface{}{
		"settled": false,
	}, map[string]interface{}{
		"reward_id":      rewardID,
		"amount":         settled.Amount,
		"settled":        true,
		"distributed_at": settled.DistributedAt,
	})

	return nil
}
