package guard

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/quikdb/go-quikdb-nodes/events"
	"github.com/quikdb/go-quikdb-nodes/storage"
)

// CommandKind enumerates the privileged actions a timelock can wrap. The set
// is closed on purpose: there is no way to schedule an arbitrary call.
type CommandKind int32

const (
	CmdUpdateDailyCap CommandKind = iota
	CmdUpdateMonthlyCap
	CmdUpdateRewardBounds
	CmdUpdateSlashingPolicy
	CmdResetCircuit
)

// String returns the command kind's canonical name
func (k CommandKind) String() string {
	switch k {
	case CmdUpdateDailyCap:
		return "update_daily_cap"
	case CmdUpdateMonthlyCap:
		return "update_monthly_cap"
	case CmdUpdateRewardBounds:
		return "update_reward_bounds"
	case CmdUpdateSlashingPolicy:
		return "update_slashing_policy"
	case CmdResetCircuit:
		return "reset_circuit"
	default:
		return fmt.Sprintf("unknown(%d)", int32(k))
	}
}

// Command is a tagged admin action; only the fields its kind uses are read
type Command struct {
	Kind CommandKind `json:"kind"`

	// CmdUpdateDailyCap / CmdUpdateMonthlyCap
	Cap int64 `json:"cap,omitempty"`

	// CmdUpdateRewardBounds
	MinAmount int64 `json:"min_amount,omitempty"`
	MaxAmount int64 `json:"max_amount,omitempty"`

	// CmdUpdateSlashingPolicy
	Threshold     int64 `json:"threshold,omitempty"`
	MaxPercentage int64 `json:"max_percentage,omitempty"`

	// CmdResetCircuit
	Operation string `json:"operation,omitempty"`
}

// AdminTarget is the surface timelocked commands dispatch against
type AdminTarget interface {
	UpdateDailyCap(cap int64) error
	UpdateMonthlyCap(cap int64) error
	UpdateRewardBounds(min, max int64) error
	UpdateSlashingPolicy(threshold, maxPercentage int64) error
	ResetCircuit(operation string) error
}

// Proposal is one pending or executed timelocked command
type Proposal struct {
	Hash         string  `json:"hash"`
	Command      Command `json:"command"`
	Description  string  `json:"description"`
	Proposer     string  `json:"proposer"`
	ProposedAt   int64   `json:"proposed_at"`
	ExecuteAfter int64   `json:"execute_after"`
	Executed     bool    `json:"executed"`
}

// Timelock implements the propose-then-execute-after-delay pattern for
// privileged actions
type Timelock struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	minDelay  int64 // seconds
	maxDelay  int64
	store     *storage.LedgerStorage
	emitter   *events.Emitter
	clock     func() int64
}

// NewTimelock creates a timelock with delay bounds, rehydrating persisted
// proposals when a store is provided
func NewTimelock(minDelay, maxDelay time.Duration, store *storage.LedgerStorage, emitter *events.Emitter) (*Timelock, error) {
	if minDelay <= 0 || maxDelay <= minDelay {
		return nil, fmt.Errorf("invalid timelock delay bounds [%s, %s]", minDelay, maxDelay)
	}

	tl := &Timelock{
		proposals: make(map[string]*Proposal),
		minDelay:  int64(minDelay.Seconds()),
		maxDelay:  int64(maxDelay.Seconds()),
		store:     store,
		emitter:   emitter,
		clock:     func() int64 { return time.Now().Unix() },
	}

	if store != nil {
		err := store.LoadProposals(func(hash string, data []byte) error {
			var p Proposal
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("corrupt proposal %q: %v", hash, err)
			}
			tl.proposals[hash] = &p
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return tl, nil
}

// WithClock overrides the time source (used by tests)
func (tl *Timelock) WithClock(clock func() int64) *Timelock {
	tl.clock = clock
	return tl
}

// HashCommand derives the operation hash a proposal is keyed by
func HashCommand(cmd Command, description string) string {
	data, _ := json.Marshal(cmd)
	sum := blake2b.Sum256(append(data, []byte("|"+description)...))
	return hex.EncodeToString(sum[:])
}

// Propose schedules a command for execution after the delay. A command whose
// hash already has a non-executed proposal is rejected.
func (tl *Timelock) Propose(cmd Command, delay time.Duration, description, proposer string) (string, error) {
	delaySeconds := int64(delay.Seconds())
	if delaySeconds < tl.minDelay || delaySeconds > tl.maxDelay {
		return "", fmt.Errorf("delay %ds outside allowed bounds [%ds, %ds]",
			delaySeconds, tl.minDelay, tl.maxDelay)
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	hash := HashCommand(cmd, description)
	if existing, ok := tl.proposals[hash]; ok && !existing.Executed {
		return "", fmt.Errorf("proposal %s already pending", hash)
	}

	now := tl.clock()
	proposal := &Proposal{
		Hash:         hash,
		Command:      cmd,
		Description:  description,
		Proposer:     proposer,
		ProposedAt:   now,
		ExecuteAfter: now + delaySeconds,
	}

	if tl.store != nil {
		if err := tl.store.SaveProposal(hash, proposal); err != nil {
			return "", fmt.Errorf("failed to persist proposal: %v", err)
		}
	}

	tl.proposals[hash] = proposal

	tl.emitter.Emit(events.TypeProposalCreated, hash, nil, map[string]interface{}{
		"command":       proposal.Command.Kind.String(),
		"description":   description,
		"proposer":      proposer,
		"execute_after": proposal.ExecuteAfter,
	})

	return hash, nil
}

// Execute dispatches a matured proposal's command against the target and
// marks it executed. A proposal executes at most once.
func (tl *Timelock) Execute(hash string, target AdminTarget) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	proposal, ok := tl.proposals[hash]
	if !ok {
		return fmt.Errorf("proposal %s not found", hash)
	}
	if proposal.Executed {
		return fmt.Errorf("proposal %s already executed", hash)
	}

	now := tl.clock()
	if now < proposal.ExecuteAfter {
		return fmt.Errorf("proposal %s not ready: executable at %d, now %d",
			hash, proposal.ExecuteAfter, now)
	}

	if err := tl.dispatch(proposal.Command, target); err != nil {
		return fmt.Errorf("command %s failed: %v", proposal.Command.Kind, err)
	}

	proposal.Executed = true

	if tl.store != nil {
		if err := tl.store.SaveProposal(hash, proposal); err != nil {
			return fmt.Errorf("failed to persist executed proposal: %v", err)
		}
	}

	tl.emitter.Emit(events.TypeProposalExecuted, hash, map[string]interface{}{
		"executed": false,
	}, map[string]interface{}{
		"executed":    true,
		"command":     proposal.Command.Kind.String(),
		"executed_at": now,
	})

	return nil
}

func (tl *Timelock) dispatch(cmd Command, target AdminTarget) error {
	switch cmd.Kind {
	case CmdUpdateDailyCap:
		return target.UpdateDailyCap(cmd.Cap)
	case CmdUpdateMonthlyCap:
		return target.UpdateMonthlyCap(cmd.Cap)
	case CmdUpdateRewardBounds:
		return target.UpdateRewardBounds(cmd.MinAmount, cmd.MaxAmount)
	case CmdUpdateSlashingPolicy:
		return target.UpdateSlashingPolicy(cmd.Threshold, cmd.MaxPercentage)
	case CmdResetCircuit:
		return target.ResetCircuit(cmd.Operation)
	default:
		return fmt.Errorf("unknown command kind %d", cmd.Kind)
	}
}

// Proposal returns a copy of a proposal by hash
func (tl *Timelock) Proposal(hash string) (Proposal, bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	p, ok := tl.proposals[hash]
	if !ok {
		return Proposal{}, false
	}
	return *p, true
}
