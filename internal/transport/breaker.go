package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrCircuitOpen is the cause of calls rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures per-host circuit breaking.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of test requests allowed in half-open state.
	HalfOpenMax int
}

// DefaultBreakerConfig returns a sensible default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// hostBreaker tracks failure state for a single host.
type hostBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
}

// Breakers manages per-host circuit breakers. Only network failures and 5xx
// responses count against a host; client errors do not.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*hostBreaker
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakers creates a registry with the given config. Zero fields take the
// default values.
func NewBreakers(config BreakerConfig) *Breakers {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	return &Breakers{
		breakers: make(map[string]*hostBreaker),
		config:   config,
		now:      time.Now,
	}
}

// Allow checks whether a request to host may proceed.
func (r *Breakers) Allow(host string) error {
	cb := r.getOrCreate(host)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if r.now().Sub(cb.lastFailureTime) >= r.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1 // this request is the first probe
			return nil
		}
		return fmt.Errorf("%w for %s after %d consecutive failures", ErrCircuitOpen, host, cb.consecutiveFailures)

	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= r.config.HalfOpenMax {
			return fmt.Errorf("%w for %s: probe in flight", ErrCircuitOpen, host)
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// Record updates host's breaker with the outcome of a call.
func (r *Breakers) Record(host string, err error) {
	if !countsAsFailure(err) {
		r.recordSuccess(host)
		return
	}
	r.recordFailure(host)
}

func (r *Breakers) recordSuccess(host string) {
	cb := r.getOrCreate(host)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

func (r *Breakers) recordFailure(host string) {
	cb := r.getOrCreate(host)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = r.now()

	// Any failure while half-open reopens the circuit.
	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= r.config.FailureThreshold {
		cb.state = CircuitOpen
	}
}

// State returns the current state of host's circuit.
func (r *Breakers) State(host string) CircuitState {
	cb := r.getOrCreate(host)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && r.now().Sub(cb.lastFailureTime) >= r.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

func (r *Breakers) getOrCreate(host string) *hostBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[host]
	if !ok {
		cb = &hostBreaker{state: CircuitClosed}
		r.breakers[host] = cb
	}
	return cb
}

func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	terr, ok := AsError(err)
	if !ok {
		return true
	}
	return terr.Kind == KindNetwork || terr.StatusCode >= http.StatusInternalServerError
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
