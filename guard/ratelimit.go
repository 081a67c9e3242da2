// Package guard implements the resilience control plane that every mutating
// settlement operation passes through: sliding-window rate limiting, circuit
// breaking, emergency pauses, time-locked admin commands and statistical
// anomaly detection.
//
// Each component keeps its authoritative state in memory behind a mutex and,
// when given a LedgerStorage, writes every mutation through so state survives
// restarts. All time comparisons are against an injectable clock; nothing in
// this package blocks or schedules.
package guard

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quikdb/go-quikdb-nodes/storage"
)

const rateLimitKind = "ratelimit"

// RateLimitState is the persisted window for one (caller, operation) pair
type RateLimitState struct {
	WindowStart int64 `json:"window_start"`
	Count       int64 `json:"count"`
}

// RateLimitError reports a rejected call with the observed count and limit
type RateLimitError struct {
	Caller    string
	Operation string
	Count     int64
	Max       int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s on %s: %d/%d",
		e.Caller, e.Operation, e.Count, e.Max)
}

// RateLimiter enforces a fixed-window call budget per (caller, operation)
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*RateLimitState
	store   *storage.LedgerStorage
	clock   func() int64
}

// NewRateLimiter creates a rate limiter, rehydrating persisted windows when
// a store is provided
func NewRateLimiter(store *storage.LedgerStorage) (*RateLimiter, error) {
	rl := &RateLimiter{
		windows: make(map[string]*RateLimitState),
		store:   store,
		clock:   func() int64 { return time.Now().Unix() },
	}

	if store != nil {
		err := store.LoadGuardStates(rateLimitKind, func(name string, data []byte) error {
			var st RateLimitState
			if err := json.Unmarshal(data, &st); err != nil {
				return fmt.Errorf("corrupt rate limit state %q: %v", name, err)
			}
			rl.windows[name] = &st
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return rl, nil
}

// WithClock overrides the time source (used by tests)
func (rl *RateLimiter) WithClock(clock func() int64) *RateLimiter {
	rl.clock = clock
	return rl
}

func rateLimitKey(caller, operation string) string {
	return caller + "|" + operation
}

// Check admits or rejects one call. An expired window resets before the
// budget check; a rejected call leaves no state behind.
func (rl *RateLimiter) Check(caller, operation string, maxAllowed, windowSeconds int64) error {
	if maxAllowed <= 0 || windowSeconds <= 0 {
		return fmt.Errorf("invalid rate limit parameters: max %d, window %ds", maxAllowed, windowSeconds)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	key := rateLimitKey(caller, operation)

	st, ok := rl.windows[key]
	if !ok {
		st = &RateLimitState{WindowStart: now}
		rl.windows[key] = st
	}
	prev := *st

	if now >= st.WindowStart+windowSeconds {
		st.WindowStart = now
		st.Count = 0
	}

	if st.Count >= maxAllowed {
		return &RateLimitError{
			Caller:    caller,
			Operation: operation,
			Count:     st.Count,
			Max:       maxAllowed,
		}
	}

	st.Count++

	if rl.store != nil {
		if err := rl.store.SaveGuardState(rateLimitKind, key, st); err != nil {
			*st = prev
			return fmt.Errorf("failed to persist rate limit state: %v", err)
		}
	}

	return nil
}

// State returns a copy of the current window for a (caller, operation) pair
func (rl *RateLimiter) State(caller, operation string) (RateLimitState, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	st, ok := rl.windows[rateLimitKey(caller, operation)]
	if !ok {
		return RateLimitState{}, false
	}
	return *st, true
}
