package guard

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quikdb/go-quikdb-nodes/events"
	"github.com/quikdb/go-quikdb-nodes/storage"
)

const circuitKind = "circuit"

// BreakerState is the persisted state of one operation's breaker
type BreakerState struct {
	Tripped      bool   `json:"tripped"`
	TrippedAt    int64  `json:"tripped_at"`
	FailureCount int64  `json:"failure_count"`
	SuccessCount int64  `json:"success_count"`
	Reason       string `json:"reason"`
}

// CircuitOpenError reports a call rejected by an open breaker
type CircuitOpenError struct {
	Operation string
	Reason    string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s: %s", e.Operation, e.Reason)
}

// CircuitBreaker is a per-operation trip/reset state machine. It never trips
// itself: callers report failure and success counts, and a higher-level
// policy (the anomaly detector, or an operator) decides to trip.
type CircuitBreaker struct {
	mu       sync.Mutex
	breakers map[string]*BreakerState
	store    *storage.LedgerStorage
	emitter  *events.Emitter
	clock    func() int64
}

// NewCircuitBreaker creates a breaker set, rehydrating persisted state when
// a store is provided
func NewCircuitBreaker(store *storage.LedgerStorage, emitter *events.Emitter) (*CircuitBreaker, error) {
	cb := &CircuitBreaker{
		breakers: make(map[string]*BreakerState),
		store:    store,
		emitter:  emitter,
		clock:    func() int64 { return time.Now().Unix() },
	}

	if store != nil {
		err := store.LoadGuardStates(circuitKind, func(name string, data []byte) error {
			var st BreakerState
			if err := json.Unmarshal(data, &st); err != nil {
				return fmt.Errorf("corrupt breaker state %q: %v", name, err)
			}
			cb.breakers[name] = &st
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return cb, nil
}

// WithClock overrides the time source (used by tests)
func (cb *CircuitBreaker) WithClock(clock func() int64) *CircuitBreaker {
	cb.clock = clock
	return cb
}

func (cb *CircuitBreaker) state(operation string) *BreakerState {
	st, ok := cb.breakers[operation]
	if !ok {
		st = &BreakerState{}
		cb.breakers[operation] = st
	}
	return st
}

func (cb *CircuitBreaker) persist(operation string, st *BreakerState) error {
	if cb.store == nil {
		return nil
	}
	return cb.store.SaveGuardState(circuitKind, operation, st)
}

// Check fails fast with the stored reason while the breaker is open
func (cb *CircuitBreaker) Check(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st, ok := cb.breakers[operation]
	if ok && st.Tripped {
		return &CircuitOpenError{Operation: operation, Reason: st.Reason}
	}
	return nil
}

// Trip opens the breaker for an operation with a reason
func (cb *CircuitBreaker) Trip(operation, reason string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := cb.state(operation)
	if st.Tripped {
		return fmt.Errorf("circuit for %s already open: %s", operation, st.Reason)
	}

	before := map[string]interface{}{"tripped": false}

	st.Tripped = true
	st.TrippedAt = cb.clock()
	st.Reason = reason

	if err := cb.persist(operation, st); err != nil {
		st.Tripped = false
		st.TrippedAt = 0
		st.Reason = ""
		return fmt.Errorf("failed to persist breaker state: %v", err)
	}

	cb.emitter.Emit(events.TypeCircuitTripped, operation, before, map[string]interface{}{
		"tripped":    true,
		"reason":     reason,
		"tripped_at": st.TrippedAt,
	})

	return nil
}

// Reset closes the breaker and clears failure/success counts. This is the
// only path back to the closed state.
func (cb *CircuitBreaker) Reset(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st, ok := cb.breakers[operation]
	if !ok || !st.Tripped {
		return fmt.Errorf("circuit for %s is not open", operation)
	}

	before := map[string]interface{}{
		"tripped":       true,
		"reason":        st.Reason,
		"failure_count": st.FailureCount,
		"success_count": st.SuccessCount,
	}

	prev := *st
	st.Tripped = false
	st.TrippedAt = 0
	st.FailureCount = 0
	st.SuccessCount = 0
	st.Reason = ""

	if err := cb.persist(operation, st); err != nil {
		*st = prev
		return fmt.Errorf("failed to persist breaker state: %v", err)
	}

	cb.emitter.Emit(events.TypeCircuitReset, operation, before, map[string]interface{}{
		"tripped": false,
	})

	return nil
}

// RecordFailure increments the failure count callers report for an operation
func (cb *CircuitBreaker) RecordFailure(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := cb.state(operation)
	st.FailureCount++
	return cb.persist(operation, st)
}

// RecordSuccess increments the success count callers report for an operation
func (cb *CircuitBreaker) RecordSuccess(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := cb.state(operation)
	st.SuccessCount++
	return cb.persist(operation, st)
}

// State returns a copy of an operation's breaker state
func (cb *CircuitBreaker) State(operation string) BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st, ok := cb.breakers[operation]
	if !ok {
		return BreakerState{}
	}
	return *st
}
