// Package breaker implements the per-provider three-state circuit
// breaker described in SPEC_FULL §4.5.
//
// Grounded on the teacher's llm/circuitbreaker/breaker.go for the
// state-enum/Config/beforeCall-afterCall shape, but tightened: the
// teacher allows HalfOpenMaxCalls (default 3) concurrent probes in
// HalfOpen; this breaker allows exactly one, matching §4.5's "at most
// one probing request passes".
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit-breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker per §4.5/§3's CircuitState fields.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	// OnStateChange, if set, is invoked synchronously whenever the state
	// transitions, for logging/metrics. It runs with the breaker's lock
	// held, so it must not call back into the Breaker.
	OnStateChange func(from, to State)
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// ErrOpen is returned by Admit when the breaker is rejecting calls.
type ErrOpen struct{}

func (ErrOpen) Error() string { return "circuit breaker open" }

// Breaker is a per-provider-handle circuit breaker. It is safe for
// concurrent use; typically one Breaker exists per registered provider
// name and is shared by every goroutine dispatching to that provider.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	failuresSince   int
	lastFailureAt   time.Time
	halfOpenInFlight bool
}

// New creates a Breaker in the initial Closed state with counter 0.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Admit decides whether a call may proceed. If it returns nil, the
// caller must invoke exactly one of Success or Failure with the
// outcome once the call concludes. If it returns ErrOpen, the caller
// must not proceed and must not call Success/Failure.
func (b *Breaker) Admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if time.Since(b.lastFailureAt) >= b.cfg.RecoveryTimeout {
			b.transition(HalfOpen)
			b.halfOpenInFlight = true
			return nil
		}
		return ErrOpen{}
	case HalfOpen:
		if b.halfOpenInFlight {
			// A probe is already in flight; §4.5 allows at most one.
			return ErrOpen{}
		}
		b.halfOpenInFlight = true
		return nil
	default:
		return ErrOpen{}
	}
}

// Success records a successful admitted call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfOpenInFlight = false
	b.failuresSince = 0
	if b.state != Closed {
		b.transition(Closed)
	}
}

// Failure records a failed admitted call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfOpenInFlight = false
	b.lastFailureAt = time.Now()

	if b.state == HalfOpen {
		b.transition(Open)
		return
	}

	b.failuresSince++
	if b.failuresSince >= b.cfg.FailureThreshold {
		b.transition(Open)
	}
}

// Reset forces the breaker back to Closed with a zeroed counter. Used
// by tests and manual operator intervention.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failuresSince = 0
	b.halfOpenInFlight = false
	b.transition(Closed)
}

// transition must be called with b.mu held. OnStateChange is invoked
// synchronously; callbacks must not call back into this Breaker.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
