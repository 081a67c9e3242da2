// Package auth maps caller identities to the capability set the settlement
// core understands. Components receive a PermissionCheck function rather than
// consulting any shared access-control state.
package auth

import (
	"fmt"
	"sync"
)

// Capability is one privileged action class
type Capability string

const (
	CapCalculate  Capability = "calculate"
	CapDistribute Capability = "distribute"
	CapSlash      Capability = "slash"
	CapAdmin      Capability = "admin"
)

// PermissionCheck reports whether caller holds the capability.
// A non-nil error means the check failed and the gated call must not proceed.
type PermissionCheck func(caller string, cap Capability) error

// ErrPermissionDenied wraps a failed capability check
type ErrPermissionDenied struct {
	Caller     string
	Capability Capability
}

func (e *ErrPermissionDenied) Error() string {
	return fmt.Sprintf("caller %s lacks capability %q", e.Caller, e.Capability)
}

// Registry is an in-memory capability grant table
type Registry struct {
	mu     sync.RWMutex
	grants map[string]map[Capability]bool
}

// NewRegistry creates an empty capability registry
func NewRegistry() *Registry {
	return &Registry{
		grants: make(map[string]map[Capability]bool),
	}
}

// Grant gives caller the capability
func (r *Registry) Grant(caller string, cap Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.grants[caller] == nil {
		r.grants[caller] = make(map[Capability]bool)
	}
	r.grants[caller][cap] = true
}

// Revoke removes the capability from caller
func (r *Registry) Revoke(caller string, cap Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caps, ok := r.grants[caller]; ok {
		delete(caps, cap)
	}
}

// Has reports whether caller holds the capability. Admin implies everything.
func (r *Registry) Has(caller string, cap Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps, ok := r.grants[caller]
	if !ok {
		return false
	}
	return caps[cap] || caps[CapAdmin]
}

// Check returns the registry's PermissionCheck function
func (r *Registry) Check() PermissionCheck {
	return func(caller string, cap Capability) error {
		if !r.Has(caller, cap) {
			return &ErrPermissionDenied{Caller: caller, Capability: cap}
		}
		return nil
	}
}

// AllowAll is a PermissionCheck that grants everything (tests, single-tenant)
func AllowAll(string, Capability) error {
	return nil
}
