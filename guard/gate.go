package guard

// Gate bundles the three admission checks every mutating settlement call
// passes through. Pause and breaker are checked first since they have no
// side effects; the rate limiter runs last so budget is only consumed by
// calls that will actually proceed.
type Gate struct {
	RateLimiter *RateLimiter
	Breaker     *CircuitBreaker
	Pause       *EmergencyPause
}

// NewGate composes the three guards
func NewGate(rl *RateLimiter, cb *CircuitBreaker, ep *EmergencyPause) *Gate {
	return &Gate{RateLimiter: rl, Breaker: cb, Pause: ep}
}

// Admit runs pause, breaker and rate-limit checks for one call. It must run
// before the gated operation touches any ledger state so a rejected call
// never leaves a partial mutation behind.
func (g *Gate) Admit(caller, operation string, maxCalls, windowSeconds int64) error {
	if err := g.Pause.Check(operation); err != nil {
		return err
	}
	if err := g.Breaker.Check(operation); err != nil {
		return err
	}
	return g.RateLimiter.Check(caller, operation, maxCalls, windowSeconds)
}
