// Package circuitbreaker sheds calls to an outbound dependency after
// repeated failures. Circuits move closed → open → half-open per key.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: calls flow through
	StateOpen                  // Tripped: calls are rejected
	StateHalfOpen              // Probing: one call allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "propline",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by dependency, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive failures per key and trips open at the
// threshold. After the cool-down one probe call is let through.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	failMax  int
	coolDown time.Duration
	now      func() time.Time
}

// New creates a breaker that opens after failMax consecutive failures and
// stays open for coolDown before probing.
func New(failMax int, coolDown time.Duration) *Breaker {
	if failMax <= 0 {
		failMax = 5
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &Breaker{
		circuits: make(map[string]*circuit),
		failMax:  failMax,
		coolDown: coolDown,
		now:      time.Now,
	}
}

// Allow reports whether a call to key may proceed.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}

	switch c.state {
	case StateOpen:
		if b.now().Sub(c.lastFailure) >= b.coolDown {
			b.transition(c, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.transition(c, key, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failure. A failed probe reopens the circuit.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[key] = c
	}

	c.failures++
	c.lastFailure = b.now()

	switch {
	case c.state == StateHalfOpen:
		b.transition(c, key, StateOpen)
	case c.state == StateClosed && c.failures >= b.failMax:
		b.transition(c, key, StateOpen)
	}
}

// State returns the current state for key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// Caller must hold b.mu.
func (b *Breaker) transition(c *circuit, key string, to State) {
	if c.state == to {
		return
	}
	stateTransitions.WithLabelValues(key, c.state.String(), to.String()).Inc()
	c.state = to
}
