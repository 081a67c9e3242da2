// Package events emits structured before/after records for every state
// transition in the settlement core. Off-path consumers use them for audit
// and to reconstruct bucket and ledger state independently.
package events

import (
	"sync"
	"time"

	"github.com/echa/log"
	"github.com/google/uuid"
)

// Type names a kind of state transition
type Type string

const (
	TypeRewardCalculated Type = "reward_calculated"
	TypeRewardSettled    Type = "reward_settled"
	TypeSlash            Type = "slash"
	TypeCircuitTripped   Type = "circuit_tripped"
	TypeCircuitReset     Type = "circuit_reset"
	TypePauseActivated   Type = "pause_activated"
	TypePauseDeactivated Type = "pause_deactivated"
	TypeProposalCreated  Type = "proposal_created"
	TypeProposalExecuted Type = "proposal_executed"
	TypeAnomalyDetected  Type = "anomaly_detected"
)

// Event is one audited state transition with before/after values
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	Subject   string                 `json:"subject"` // operator, operation or metric name
	Before    map[string]interface{} `json:"before,omitempty"`
	After     map[string]interface{} `json:"after,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Sink consumes emitted events
type Sink interface {
	Emit(event Event)
}

// Emitter fans events out to its sinks, stamping id and timestamp
type Emitter struct {
	sinks []Sink
	clock func() int64
}

// NewEmitter creates an emitter over the given sinks
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{
		sinks: sinks,
		clock: func() int64 { return time.Now().Unix() },
	}
}

// WithClock overrides the timestamp source (used by tests)
func (e *Emitter) WithClock(clock func() int64) *Emitter {
	e.clock = clock
	return e
}

// Emit builds and dispatches an event to every sink
func (e *Emitter) Emit(typ Type, subject string, before, after map[string]interface{}) {
	if e == nil {
		return
	}

	event := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Subject:   subject,
		Before:    before,
		After:     after,
		Timestamp: e.clock(),
	}

	for _, sink := range e.sinks {
		sink.Emit(event)
	}
}

// LogSink writes events to the process log
type LogSink struct {
	logger log.Logger
}

// NewLogSink creates a sink over the given logger
func NewLogSink(logger log.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(event Event) {
	s.logger.Infof("event %s subject=%s id=%s before=%v after=%v",
		event.Type, event.Subject, event.ID, event.Before, event.After)
}

// MemorySink buffers events in memory, for tests and replay
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of everything emitted so far
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType filters buffered events by type
func (s *MemorySink) ByType(typ Type) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
