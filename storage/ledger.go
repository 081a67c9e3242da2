package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/quikdb/go-quikdb-nodes/core/types"
)

// LedgerStorage handles settlement state persistence
type LedgerStorage struct {
	store Store
}

// NewLedgerStorage creates a new ledger storage handler
func NewLedgerStorage(store Store) *LedgerStorage {
	return &LedgerStorage{store: store}
}

// SaveRecord persists a reward record
func (ls *LedgerStorage) SaveRecord(record *types.RewardRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal reward record: %v", err)
	}
	return ls.store.Set(RecordKey(record.ID), data)
}

// GetRecord loads a reward record, returning nil if it does not exist
func (ls *LedgerStorage) GetRecord(rewardID string) (*types.RewardRecord, error) {
	data, err := ls.store.Get(RecordKey(rewardID))
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var record types.RewardRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reward record: %v", err)
	}
	return &record, nil
}

// HasRecord checks record existence without decoding it
func (ls *LedgerStorage) HasRecord(rewardID string) (bool, error) {
	return ls.store.Has(RecordKey(rewardID))
}

// GetAllRecords loads every persisted reward record keyed by id
func (ls *LedgerStorage) GetAllRecords() (map[string]*types.RewardRecord, error) {
	records := make(map[string]*types.RewardRecord)

	iter := ls.store.Iterator([]byte(RecordPrefix))
	defer iter.Close()

	for iter.Next() {
		var record types.RewardRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			continue // skip undecodable entries
		}
		records[record.ID] = &record
	}

	return records, nil
}

// SaveTotals persists an operator's ledger totals
func (ls *LedgerStorage) SaveTotals(totals *types.OperatorTotals) error {
	data, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("failed to marshal operator totals: %v", err)
	}
	return ls.store.Set(TotalsKey(totals.Operator), data)
}

// GetTotals loads an operator's totals, returning nil if never written
func (ls *LedgerStorage) GetTotals(operator string) (*types.OperatorTotals, error) {
	data, err := ls.store.Get(TotalsKey(operator))
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var totals types.OperatorTotals
	if err := json.Unmarshal(data, &totals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operator totals: %v", err)
	}
	return &totals, nil
}

// GetAllTotals loads totals for every operator seen so far
func (ls *LedgerStorage) GetAllTotals() (map[string]*types.OperatorTotals, error) {
	all := make(map[string]*types.OperatorTotals)

	iter := ls.store.Iterator([]byte(TotalsPrefix))
	defer iter.Close()

	for iter.Next() {
		var totals types.OperatorTotals
		if err := json.Unmarshal(iter.Value(), &totals); err != nil {
			continue
		}
		all[totals.Operator] = &totals
	}

	return all, nil
}

// SaveDayBucket persists a per-operator daily accumulator
func (ls *LedgerStorage) SaveDayBucket(operator string, epoch, amount int64) error {
	return ls.store.Set(DayBucketKey(operator, epoch), []byte(strconv.FormatInt(amount, 10)))
}

// SaveMonthBucket persists a per-operator monthly accumulator
func (ls *LedgerStorage) SaveMonthBucket(operator string, epoch, amount int64) error {
	return ls.store.Set(MonthBucketKey(operator, epoch), []byte(strconv.FormatInt(amount, 10)))
}

// GetDayBucket loads a daily accumulator; missing buckets read as zero
func (ls *LedgerStorage) GetDayBucket(operator string, epoch int64) (int64, error) {
	return ls.getBucket(DayBucketKey(operator, epoch))
}

// GetMonthBucket loads a monthly accumulator; missing buckets read as zero
func (ls *LedgerStorage) GetMonthBucket(operator string, epoch int64) (int64, error) {
	return ls.getBucket(MonthBucketKey(operator, epoch))
}

func (ls *LedgerStorage) getBucket(key []byte) (int64, error) {
	data, err := ls.store.Get(key)
	if err != nil {
		if err == ErrKeyNotFound {
			return 0, nil
		}
		return 0, err
	}

	amount, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse bucket amount: %v", err)
	}
	return amount, nil
}

// GetAllBuckets loads every persisted bucket of one kind ("day" or "month")
func (ls *LedgerStorage) GetAllBuckets(kind string) ([]*types.PeriodBucket, error) {
	var prefix string
	switch kind {
	case "day":
		prefix = DayPrefix
	case "month":
		prefix = MonthPrefix
	default:
		return nil, fmt.Errorf("unknown bucket kind %q", kind)
	}

	var buckets []*types.PeriodBucket

	iter := ls.store.Iterator([]byte(prefix))
	defer iter.Close()

	for iter.Next() {
		key := strings.TrimPrefix(string(iter.Key()), prefix)
		sep := strings.LastIndex(key, ":")
		if sep < 0 {
			continue
		}
		epoch, err := strconv.ParseInt(key[sep+1:], 10, 64)
		if err != nil {
			continue
		}
		amount, err := strconv.ParseInt(string(iter.Value()), 10, 64)
		if err != nil {
			continue
		}
		buckets = append(buckets, &types.PeriodBucket{
			Operator: key[:sep],
			Epoch:    epoch,
			Amount:   amount,
		})
	}

	return buckets, nil
}

// SaveSlashEvent appends a slash event to the operator's history
func (ls *LedgerStorage) SaveSlashEvent(event *types.SlashEvent, id string) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal slash event: %v", err)
	}
	return ls.store.Set(SlashKey(event.Operator, event.Timestamp, id), data)
}

// GetSlashEvents loads an operator's slash history in key order
func (ls *LedgerStorage) GetSlashEvents(operator string) ([]*types.SlashEvent, error) {
	var events []*types.SlashEvent

	iter := ls.store.Iterator([]byte(SlashPrefix + operator + ":"))
	defer iter.Close()

	for iter.Next() {
		var event types.SlashEvent
		if err := json.Unmarshal(iter.Value(), &event); err != nil {
			continue
		}
		events = append(events, &event)
	}

	return events, nil
}

// SaveProposal persists a timelock proposal under its operation hash
func (ls *LedgerStorage) SaveProposal(hash string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal proposal: %v", err)
	}
	return ls.store.Set(ProposalKey(hash), data)
}

// LoadProposals walks every persisted timelock proposal
func (ls *LedgerStorage) LoadProposals(fn func(hash string, data []byte) error) error {
	iter := ls.store.Iterator([]byte(ProposalPrefix))
	defer iter.Close()

	for iter.Next() {
		hash := strings.TrimPrefix(string(iter.Key()), ProposalPrefix)
		if err := fn(hash, iter.Value()); err != nil {
			return err
		}
	}

	return nil
}

// SaveGuardState persists one guard entity as JSON under (kind, name)
func (ls *LedgerStorage) SaveGuardState(kind, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal guard state: %v", err)
	}
	return ls.store.Set(GuardKey(kind, name), data)
}

// LoadGuardStates walks every persisted guard entity of one kind
func (ls *LedgerStorage) LoadGuardStates(kind string, fn func(name string, data []byte) error) error {
	prefix := GuardPrefix + kind + ":"

	iter := ls.store.Iterator([]byte(prefix))
	defer iter.Close()

	for iter.Next() {
		name := strings.TrimPrefix(string(iter.Key()), prefix)
		if err := fn(name, iter.Value()); err != nil {
			return err
		}
	}

	return nil
}
