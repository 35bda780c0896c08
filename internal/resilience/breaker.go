// Package resilience provides the circuit breaker and retry policy that
// guard tool invocations against failing downstreams.
package resilience

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/xiaot623/agentmesh/internal/domain"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned without invoking the wrapped operation while
// the breaker is open.
var ErrCircuitOpen = domain.NewServiceError(domain.CodeCircuitOpen, "circuit breaker is open - request blocked", nil)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive qualifying failures
	// that trips the breaker.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before a probe
	// call is allowed through.
	RecoveryTimeout time.Duration

	// ExpectedErrorCodes are application codes that pass through without
	// counting toward the threshold.
	ExpectedErrorCodes []string
}

// Metrics is a snapshot of breaker counters.
type Metrics struct {
	State               State      `json:"state"`
	TotalRequests       int64      `json:"totalRequests"`
	FailedRequests      int64      `json:"failedRequests"`
	SuccessfulRequests  int64      `json:"successfulRequests"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	FailureRate         float64    `json:"failureRate"`
	LastFailureTime     *time.Time `json:"lastFailureTime,omitempty"`
	LastSuccessTime     *time.Time `json:"lastSuccessTime,omitempty"`
}

// Breaker prevents repeated invocation of a failing operation and probes
// for recovery after a cooldown. The open→half-open transition is lazy: it
// happens on the next call attempt after the recovery timeout, not on a
// timer.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu              sync.Mutex
	state           State
	probing         bool
	failureCount    int
	total           int64
	failed          int64
	succeeded       int64
	lastFailureTime *time.Time
	lastSuccessTime *time.Time
}

// NewBreaker creates a closed breaker. The name is used for logging only.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, state: StateClosed}
}

// Execute runs op under breaker protection. While open it fails fast with
// ErrCircuitOpen without invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := op(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	switch b.state {
	case StateOpen:
		if b.lastFailureTime == nil || time.Since(*b.lastFailureTime) < b.cfg.RecoveryTimeout {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		log.Printf("breaker %s: transitioning to half-open", b.name)
	case StateHalfOpen:
		// Exactly one probe at a time.
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if err == nil {
		b.succeeded++
		now := time.Now()
		b.lastSuccessTime = &now
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.failureCount = 0
			log.Printf("breaker %s: closed after successful probe", b.name)
		}
		return
	}

	b.failed++
	now := time.Now()
	b.lastFailureTime = &now

	if !b.countsTowardTrip(err) {
		return
	}

	b.failureCount++
	if b.state == StateHalfOpen || b.failureCount >= b.cfg.FailureThreshold {
		if b.state != StateOpen {
			log.Printf("WARN: breaker %s: tripped open after %d failures", b.name, b.failureCount)
		}
		b.state = StateOpen
	}
}

// countsTowardTrip distinguishes caller misuse from downstream
// unavailability: client-class errors and explicitly expected codes never
// trip the circuit.
func (b *Breaker) countsTowardTrip(err error) bool {
	if domain.IsClientError(err) {
		return false
	}
	if se, ok := domain.AsServiceError(err); ok {
		for _, code := range b.cfg.ExpectedErrorCodes {
			if se.Code == code {
				return false
			}
		}
	}
	return true
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the breaker counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := Metrics{
		State:               b.state,
		TotalRequests:       b.total,
		FailedRequests:      b.failed,
		SuccessfulRequests:  b.succeeded,
		ConsecutiveFailures: b.failureCount,
		LastFailureTime:     b.lastFailureTime,
		LastSuccessTime:     b.lastSuccessTime,
	}
	if b.total > 0 {
		m.FailureRate = float64(b.failed) / float64(b.total)
	}
	return m
}

// Reset forces the breaker closed and clears the failure counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureTime = nil
	log.Printf("breaker %s: manually reset", b.name)
}

// ForceTrip forces the breaker open.
func (b *Breaker) ForceTrip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateOpen
	now := time.Now()
	b.lastFailureTime = &now
	log.Printf("WARN: breaker %s: manually tripped", b.name)
}
