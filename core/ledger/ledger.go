// Package ledger is the durable reward ledger: reward records, per-operator
// totals, per-period accumulators and slash history. It is the only writer
// of that state; the calculator, distributor and slashing engine mutate it
// exclusively through the methods here, each of which is atomic with respect
// to its own reads and writes.
package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quikdb/go-quikdb-nodes/core/types"
	"github.com/quikdb/go-quikdb-nodes/storage"
)

const (
	// SecondsPerDay is the daily bucket width
	SecondsPerDay = 86400

	// SecondsPerMonth is a fixed 30-day month, not calendar-aware. Changing
	// this silently changes cap semantics.
	SecondsPerMonth = 30 * 86400
)

// DayEpoch returns the daily bucket index for a unix timestamp
func DayEpoch(now int64) int64 {
	return now / SecondsPerDay
}

// MonthEpoch returns the monthly bucket index for a unix timestamp
func MonthEpoch(now int64) int64 {
	return now / SecondsPerMonth
}

// Sentinel errors callers branch on
var (
	ErrRecordNotFound  = fmt.Errorf("reward record not found")
	ErrAlreadySettled  = fmt.Errorf("reward already distributed")
	ErrDuplicateRecord = fmt.Errorf("reward record already exists")
)

// CapExceededError reports a rejected accrual that would overflow a bucket
type CapExceededError struct {
	Period    string // "daily" or "monthly"
	Cap       int64
	Current   int64
	Attempted int64
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("%s reward cap exceeded: %d + %d > %d",
		e.Period, e.Current, e.Attempted, e.Cap)
}

// ExcessiveSlashError reports a slash beyond the operator's bounded exposure
type ExcessiveSlashError struct {
	Operator string
	Amount   int64
	Max      int64
}

func (e *ExcessiveSlashError) Error() string {
	return fmt.Sprintf("excessive slashing for %s: %d exceeds maximum %d",
		e.Operator, e.Amount, e.Max)
}

// Ledger holds the authoritative settlement state in memory and writes every
// mutation through to storage when one is attached
type Ledger struct {
	mu           sync.Mutex
	records      map[string]*types.RewardRecord
	totals       map[string]*types.OperatorTotals
	dayBuckets   map[string]int64
	monthBuckets map[string]int64
	history      map[string][]*types.SlashEvent
	store        *storage.LedgerStorage
}

// NewLedger creates a ledger, rehydrating all persisted state when a store
// is provided. A nil store gives an ephemeral ledger (tests, simulations).
func NewLedger(store *storage.LedgerStorage) (*Ledger, error) {
	l := &Ledger{
		records:      make(map[string]*types.RewardRecord),
		totals:       make(map[string]*types.OperatorTotals),
		dayBuckets:   make(map[string]int64),
		monthBuckets: make(map[string]int64),
		history:      make(map[string][]*types.SlashEvent),
		store:        store,
	}

	if store == nil {
		return l, nil
	}

	records, err := store.GetAllRecords()
	if err != nil {
		return nil, fmt.Errorf("failed to load reward records: %v", err)
	}
	l.records = records

	totals, err := store.GetAllTotals()
	if err != nil {
		return nil, fmt.Errorf("failed to load operator totals: %v", err)
	}
	l.totals = totals

	for _, kind := range []string{"day", "month"} {
		buckets, err := store.GetAllBuckets(kind)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s buckets: %v", kind, err)
		}
		for _, b := range buckets {
			key := bucketKey(b.Operator, b.Epoch)
			if kind == "day" {
				l.dayBuckets[key] = b.Amount
			} else {
				l.monthBuckets[key] = b.Amount
			}
		}
	}

	return l, nil
}

func bucketKey(operator string, epoch int64) string {
	return fmt.Sprintf("%s:%d", operator, epoch)
}

func (l *Ledger) operatorTotals(operator string) *types.OperatorTotals {
	t, ok := l.totals[operator]
	if !ok {
		t = &types.OperatorTotals{Operator: operator}
		l.totals[operator] = t
	}
	return t
}

// Record returns a copy of a reward record, or ErrRecordNotFound
func (l *Ledger) Record(rewardID string) (*types.RewardRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[rewardID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *r
	return &copied, nil
}

// HasRecord reports whether a reward id is already taken
func (l *Ledger) HasRecord(rewardID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.records[rewardID]
	return ok
}

// Totals returns a copy of an operator's ledger totals (zero value if the
// operator has no history yet)
func (l *Ledger) Totals(operator string) types.OperatorTotals {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.totals[operator]
	if !ok {
		return types.OperatorTotals{Operator: operator}
	}
	return *t
}

// DayBucket returns the accrued amount for an (operator, day) bucket
func (l *Ledger) DayBucket(operator string, epoch int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dayBuckets[bucketKey(operator, epoch)]
}

// MonthBucket returns the accrued amount for an (operator, month) bucket
func (l *Ledger) MonthBucket(operator string, epoch int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.monthBuckets[bucketKey(operator, epoch)]
}

// AppendRecord admits a freshly calculated reward: checks id uniqueness and
// both period caps against the record's amount, then increments the buckets,
// stamps the operator's last-calculation time and persists the record. A cap
// rejection leaves every bucket untouched.
func (l *Ledger) AppendRecord(record *types.RewardRecord, dailyCap, monthlyCap int64) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("reward record requires an id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[record.ID]; ok {
		return ErrDuplicateRecord
	}

	dayEpoch := DayEpoch(record.CalculatedAt)
	monthEpoch := MonthEpoch(record.CalculatedAt)
	dayKey := bucketKey(record.Operator, dayEpoch)
	monthKey := bucketKey(record.Operator, monthEpoch)

	if l.dayBuckets[dayKey]+record.Amount > dailyCap {
		return &CapExceededError{
			Period:    "daily",
			Cap:       dailyCap,
			Current:   l.dayBuckets[dayKey],
			Attempted: record.Amount,
		}
	}
	if l.monthBuckets[monthKey]+record.Amount > monthlyCap {
		return &CapExceededError{
			Period:    "monthly",
			Cap:       monthlyCap,
			Current:   l.monthBuckets[monthKey],
			Attempted: record.Amount,
		}
	}

	totals := l.operatorTotals(record.Operator)
	prevCalc := totals.LastCalculation

	l.dayBuckets[dayKey] += record.Amount
	l.monthBuckets[monthKey] += record.Amount
	totals.LastCalculation = record.CalculatedAt

	copied := *record
	l.records[record.ID] = &copied

	if l.store != nil {
		if err := l.persistCalculation(&copied, dayEpoch, monthEpoch, totals); err != nil {
			// undo the in-memory mutation so memory and disk agree
			l.dayBuckets[dayKey] -= record.Amount
			l.monthBuckets[monthKey] -= record.Amount
			totals.LastCalculation = prevCalc
			delete(l.records, record.ID)
			return err
		}
	}

	return nil
}

func (l *Ledger) persistCalculation(record *types.RewardRecord, dayEpoch, monthEpoch int64, totals *types.OperatorTotals) error {
	if err := l.store.SaveRecord(record); err != nil {
		return fmt.Errorf("failed to persist reward record: %v", err)
	}
	if err := l.store.SaveDayBucket(record.Operator, dayEpoch, l.dayBuckets[bucketKey(record.Operator, dayEpoch)]); err != nil {
		return fmt.Errorf("failed to persist day bucket: %v", err)
	}
	if err := l.store.SaveMonthBucket(record.Operator, monthEpoch, l.monthBuckets[bucketKey(record.Operator, monthEpoch)]); err != nil {
		return fmt.Errorf("failed to persist month bucket: %v", err)
	}
	if err := l.store.SaveTotals(totals); err != nil {
		return fmt.Errorf("failed to persist operator totals: %v", err)
	}
	return nil
}

// Settle flips a record's settled flag exactly once, stamps the distribution
// time and rolls the amount into the operator's distributed total. Returns a
// copy of the settled record.
func (l *Ledger) Settle(rewardID string, now int64) (*types.RewardRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[rewardID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if r.Settled {
		return nil, ErrAlreadySettled
	}

	totals := l.operatorTotals(r.Operator)
	prevLast := totals.LastDistribution

	r.Settled = true
	r.DistributedAt = now
	totals.TotalDistributed += r.Amount
	totals.LastDistribution = now

	if l.store != nil {
		if err := l.persistSettlement(r, totals); err != nil {
			r.Settled = false
			r.DistributedAt = 0
			totals.TotalDistributed -= r.Amount
			totals.LastDistribution = prevLast
			return nil, err
		}
	}

	copied := *r
	return &copied, nil
}

func (l *Ledger) persistSettlement(r *types.RewardRecord, totals *types.OperatorTotals) error {
	if err := l.store.SaveRecord(r); err != nil {
		return fmt.Errorf("failed to persist settled record: %v", err)
	}
	if err := l.store.SaveTotals(totals); err != nil {
		return fmt.Errorf("failed to persist operator totals: %v", err)
	}
	return nil
}

// Unsettle reverts a settlement. It exists solely as the distributor's
// compensation path when the payment leg fails after the ledger leg
// committed; nothing else may call it.
func (l *Ledger) Unsettle(rewardID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[rewardID]
	if !ok {
		return ErrRecordNotFound
	}
	if !r.Settled {
		return fmt.Errorf("record %s is not settled", rewardID)
	}

	totals := l.operatorTotals(r.Operator)
	prevAt := r.DistributedAt
	prevLast := totals.LastDistribution

	r.Settled = false
	r.DistributedAt = 0
	totals.TotalDistributed -= r.Amount
	totals.LastDistribution = l.lastSettlementTime(r.Operator)

	if l.store != nil {
		if err := l.persistSettlement(r, totals); err != nil {
			r.Settled = true
			r.DistributedAt = prevAt
			totals.TotalDistributed += r.Amount
			totals.LastDistribution = prevLast
			return err
		}
	}

	return nil
}

// lastSettlementTime recomputes the operator's most recent settlement
// timestamp from the records still marked settled. Caller holds l.mu.
func (l *Ledger) lastSettlementTime(operator string) int64 {
	var last int64
	for _, rec := range l.records {
		if rec.Operator == operator && rec.Settled && rec.DistributedAt > last {
			last = rec.DistributedAt
		}
	}
	return last
}

// RecordSlash bounds the slash against the operator's lifetime distributed
// rewards, then rolls it into the slashed total and appends to history
func (l *Ledger) RecordSlash(operator string, amount int64, reason string, score int64, now int64, maxPercentage int64) error {
	if amount <= 0 {
		return fmt.Errorf("slash amount must be positive, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	totals := l.operatorTotals(operator)

	maxSlash := totals.TotalDistributed * maxPercentage / 100
	if amount > maxSlash {
		return &ExcessiveSlashError{Operator: operator, Amount: amount, Max: maxSlash}
	}

	prevSlashed := totals.TotalSlashed
	prevLast := totals.LastSlash

	totals.TotalSlashed += amount
	totals.LastSlash = now

	event := &types.SlashEvent{
		Operator:  operator,
		Amount:    amount,
		Reason:    reason,
		Score:     score,
		Timestamp: now,
	}

	if l.store != nil {
		if err := l.store.SaveTotals(totals); err != nil {
			totals.TotalSlashed = prevSlashed
			totals.LastSlash = prevLast
			return fmt.Errorf("failed to persist operator totals: %v", err)
		}
		if err := l.store.SaveSlashEvent(event, uuid.NewString()); err != nil {
			return fmt.Errorf("failed to persist slash event: %v", err)
		}
	}

	l.history[operator] = append(l.history[operator], event)
	return nil
}

// IsEligibleForRewards reports whether the operator is outside the
// post-slash cooldown window
func (l *Ledger) IsEligibleForRewards(operator string, now, cooldownSeconds int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.totals[operator]
	if !ok || t.LastSlash == 0 {
		return true
	}
	return now >= t.LastSlash+cooldownSeconds
}

// SlashHistory returns the operator's slash events, oldest first
func (l *Ledger) SlashHistory(operator string) ([]*types.SlashEvent, error) {
	l.mu.Lock()
	store := l.store
	if store == nil {
		events := make([]*types.SlashEvent, len(l.history[operator]))
		copy(events, l.history[operator])
		l.mu.Unlock()
		return events, nil
	}
	l.mu.Unlock()

	return store.GetSlashEvents(operator)
}

// Stats returns ledger-wide counters
func (l *Ledger) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	settled := 0
	pending := 0
	for _, r := range l.records {
		if r.Settled {
			settled++
		} else {
			pending++
		}
	}

	return map[string]interface{}{
		"records_total":   len(l.records),
		"records_settled": settled,
		"records_pending": pending,
		"operators":       len(l.totals),
		"day_buckets":     len(l.dayBuckets),
		"month_buckets":   len(l.monthBuckets),
	}
}
