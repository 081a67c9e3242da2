package guard

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quikdb/go-quikdb-nodes/events"
	"github.com/quikdb/go-quikdb-nodes/storage"
)

const pauseKind = "pause"

// PauseState is the persisted state of one subsystem's kill switch.
// Duration is informational: a pause stays active until an explicit
// Deactivate regardless of how much time has passed.
type PauseState struct {
	Active      bool   `json:"active"`
	Reason      string `json:"reason"`
	ActivatedAt int64  `json:"activated_at"`
	Duration    int64  `json:"duration"` // seconds, audit only
	Activator   string `json:"activator"`
}

// PausedError reports a call rejected by an active pause
type PausedError struct {
	Subsystem string
	Reason    string
}

func (e *PausedError) Error() string {
	return fmt.Sprintf("subsystem %s is paused: %s", e.Subsystem, e.Reason)
}

// EmergencyPause is a named kill switch per subsystem
type EmergencyPause struct {
	mu      sync.Mutex
	pauses  map[string]*PauseState
	store   *storage.LedgerStorage
	emitter *events.Emitter
	clock   func() int64
}

// NewEmergencyPause creates the pause registry, rehydrating persisted state
// when a store is provided
func NewEmergencyPause(store *storage.LedgerStorage, emitter *events.Emitter) (*EmergencyPause, error) {
	ep := &EmergencyPause{
		pauses:  make(map[string]*PauseState),
		store:   store,
		emitter: emitter,
		clock:   func() int64 { return time.Now().Unix() },
	}

	if store != nil {
		err := store.LoadGuardStates(pauseKind, func(name string, data []byte) error {
			var st PauseState
			if err := json.Unmarshal(data, &st); err != nil {
				return fmt.Errorf("corrupt pause state %q: %v", name, err)
			}
			ep.pauses[name] = &st
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return ep, nil
}

// WithClock overrides the time source (used by tests)
func (ep *EmergencyPause) WithClock(clock func() int64) *EmergencyPause {
	ep.clock = clock
	return ep
}

// Activate pauses a subsystem
func (ep *EmergencyPause) Activate(subsystem, reason string, duration time.Duration, activator string) error {
	if reason == "" {
		return fmt.Errorf("pause reason is required")
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	st, ok := ep.pauses[subsystem]
	if ok && st.Active {
		return fmt.Errorf("subsystem %s is already paused: %s", subsystem, st.Reason)
	}
	if !ok {
		st = &PauseState{}
		ep.pauses[subsystem] = st
	}

	before := map[string]interface{}{"active": false}

	st.Active = true
	st.Reason = reason
	st.ActivatedAt = ep.clock()
	st.Duration = int64(duration.Seconds())
	st.Activator = activator

	if ep.store != nil {
		if err := ep.store.SaveGuardState(pauseKind, subsystem, st); err != nil {
			st.Active = false
			return fmt.Errorf("failed to persist pause state: %v", err)
		}
	}

	ep.emitter.Emit(events.TypePauseActivated, subsystem, before, map[string]interface{}{
		"active":       true,
		"reason":       reason,
		"activated_at": st.ActivatedAt,
		"duration":     st.Duration,
		"activator":    activator,
	})

	return nil
}

// Deactivate lifts a pause
func (ep *EmergencyPause) Deactivate(subsystem string) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	st, ok := ep.pauses[subsystem]
	if !ok || !st.Active {
		return fmt.Errorf("subsystem %s is not paused", subsystem)
	}

	before := map[string]interface{}{
		"active":    true,
		"reason":    st.Reason,
		"activator": st.Activator,
	}

	prev := *st
	st.Active = false
	st.Reason = ""
	st.ActivatedAt = 0
	st.Duration = 0
	st.Activator = ""

	if ep.store != nil {
		if err := ep.store.SaveGuardState(pauseKind, subsystem, st); err != nil {
			*st = prev
			return fmt.Errorf("failed to persist pause state: %v", err)
		}
	}

	ep.emitter.Emit(events.TypePauseDeactivated, subsystem, before, map[string]interface{}{
		"active": false,
	})

	return nil
}

// Check fails while the subsystem is paused
func (ep *EmergencyPause) Check(subsystem string) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	st, ok := ep.pauses[subsystem]
	if ok && st.Active {
		return &PausedError{Subsystem: subsystem, Reason: st.Reason}
	}
	return nil
}

// State returns a copy of a subsystem's pause state
func (ep *EmergencyPause) State(subsystem string) PauseState {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	st, ok := ep.pauses[subsystem]
	if !ok {
		return PauseState{}
	}
	return *st
}
