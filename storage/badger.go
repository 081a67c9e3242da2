// Package storage provides the durable persistence layer for the reward
// settlement core.
//
// Two tiers:
//
// • BadgerStore: low-level key-value store on BadgerDB v3, with transaction
//   and prefix-iteration support.
//
// • LedgerStorage: typed persistence for the settlement data model (reward
//   records, operator totals, period buckets, slash events, guard state),
//   JSON-encoded under per-entity key prefixes.
//
// All writes are synchronous; the ledger above this layer assumes a write
// that returned nil is durable.
package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// Store is the key-value interface the ledger layer is written against
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	Update(fn func(txn Transaction) error) error
	View(fn func(txn Transaction) error) error
	Iterator(prefix []byte) Iterator
	Close() error
}

// Transaction is the atomic read/write surface inside Update/View
type Transaction interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
}

// Iterator walks keys sharing a prefix
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close()
}

// ErrKeyNotFound is returned when a key has no value
var ErrKeyNotFound = fmt.Errorf("key not found")

// BadgerStore implements Store on BadgerDB v3
type BadgerStore struct {
	db *badger.DB
	mu sync.RWMutex
}

// NewBadgerStore opens (or creates) a BadgerDB instance under dataDir
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil).
		WithSyncWrites(true). // ledger writes must be durable
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %v", dataDir, err)
	}

	return &BadgerStore{db: db}, nil
}

// Close shuts the underlying database down
func (bs *BadgerStore) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.db == nil {
		return nil
	}
	err := bs.db.Close()
	bs.db = nil
	return err
}

// Get retrieves a value by key
func (bs *BadgerStore) Get(key []byte) ([]byte, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	var value []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}
	return value, err
}

// Set stores a key-value pair
func (bs *BadgerStore) Set(key, value []byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes a key
func (bs *BadgerStore) Delete(key []byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Has checks if a key exists
func (bs *BadgerStore) Has(key []byte) (bool, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	err := bs.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Update executes a function within a write transaction
func (bs *BadgerStore) Update(fn func(txn Transaction) error) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	return bs.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

// View executes a function within a read transaction
func (bs *BadgerStore) View(fn func(txn Transaction) error) error {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	return bs.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

// Iterator returns a prefix iterator over the database
func (bs *BadgerStore) Iterator(prefix []byte) Iterator {
	return &badgerIterator{db: bs.db, prefix: prefix}
}

type badgerTxn struct {
	txn *badger.Txn
}

func (bt *badgerTxn) Get(key []byte) ([]byte, error) {
	item, err := bt.txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (bt *badgerTxn) Set(key, value []byte) error {
	return bt.txn.Set(key, value)
}

func (bt *badgerTxn) Delete(key []byte) error {
	return bt.txn.Delete(key)
}

func (bt *badgerTxn) Has(key []byte) (bool, error) {
	_, err := bt.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type badgerIterator struct {
	db     *badger.DB
	prefix []byte
	txn    *badger.Txn
	iter   *badger.Iterator
	closed bool
}

func (bi *badgerIterator) Next() bool {
	if bi.closed {
		return false
	}

	if bi.txn == nil {
		bi.txn = bi.db.NewTransaction(false)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100
		bi.iter = bi.txn.NewIterator(opts)
		bi.iter.Seek(bi.prefix)
	} else {
		bi.iter.Next()
	}

	return bi.iter.ValidForPrefix(bi.prefix)
}

func (bi *badgerIterator) Key() []byte {
	if bi.iter == nil {
		return nil
	}
	return bi.iter.Item().KeyCopy(nil)
}

func (bi *badgerIterator) Value() []byte {
	if bi.iter == nil {
		return nil
	}
	val, _ := bi.iter.Item().ValueCopy(nil)
	return val
}

func (bi *badgerIterator) Close() {
	if !bi.closed {
		if bi.iter != nil {
			bi.iter.Close()
		}
		if bi.txn != nil {
			bi.txn.Discard()
		}
		bi.closed = true
	}
}

// Key prefixes for the persisted entities
const (
	RecordPrefix   = "rec:"
	TotalsPrefix   = "opt:"
	DayPrefix      = "day:"
	MonthPrefix    = "mon:"
	SlashPrefix    = "sls:"
	GuardPrefix    = "grd:"
	ProposalPrefix = "tlo:"
)

// Key construction helpers

func RecordKey(rewardID string) []byte {
	return []byte(RecordPrefix + rewardID)
}

func TotalsKey(operator string) []byte {
	return []byte(TotalsPrefix + operator)
}

func DayBucketKey(operator string, epoch int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", DayPrefix, operator, epoch))
}

func MonthBucketKey(operator string, epoch int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", MonthPrefix, operator, epoch))
}

// SlashKey zero-pads the timestamp so prefix iteration yields events in
// time order
func SlashKey(operator string, timestamp int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", SlashPrefix, operator, timestamp, id))
}

func GuardKey(kind, name string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", GuardPrefix, kind, name))
}

func ProposalKey(hash string) []byte {
	return []byte(ProposalPrefix + hash)
}
