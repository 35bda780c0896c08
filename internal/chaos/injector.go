// Package chaos provides the failure-injection knobs used to validate
// resilience behavior end to end: artificial response delay, an
// unconditional failure toggle, and a random failure rate.
package chaos

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/xiaot623/agentmesh/internal/domain"
)

// ErrInjected is the error produced by a simulated failure.
var ErrInjected = domain.NewServiceError(domain.CodeUnknownError, "simulated failure for testing", nil)

// Settings is a snapshot of the injector knobs.
type Settings struct {
	Delay       time.Duration `json:"-"`
	DelayMs     int64         `json:"delay_ms"`
	Fail        bool          `json:"fail"`
	FailureRate float64       `json:"failure_rate"`
}

// Injector injects latency and failures into request handling. Safe for
// concurrent use; all knobs are runtime-adjustable.
type Injector struct {
	mu          sync.Mutex
	delay       time.Duration
	fail        bool
	failureRate float64
	rng         *rand.Rand
}

// NewInjector creates an injector with all knobs off.
func NewInjector() *Injector {
	return &Injector{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Inject applies the configured delay, then decides whether this request
// fails. The delay honors context cancellation.
func (i *Injector) Inject(ctx context.Context) error {
	i.mu.Lock()
	delay := i.delay
	shouldFail := i.fail || (i.failureRate > 0 && i.rng.Float64() < i.failureRate)
	i.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if shouldFail {
		return ErrInjected
	}
	return nil
}

// SetDelay sets the artificial response delay.
func (i *Injector) SetDelay(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if d < 0 {
		d = 0
	}
	i.delay = d
}

// SetFail toggles unconditional failure.
func (i *Injector) SetFail(fail bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.fail = fail
}

// SetFailureRate sets the random failure probability, clamped to [0, 1].
func (i *Injector) SetFailureRate(rate float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if rate < 0 {
		rate = 0
	} else if rate > 1 {
		rate = 1
	}
	i.failureRate = rate
}

// Snapshot returns the current knob values.
func (i *Injector) Snapshot() Settings {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Settings{
		Delay:       i.delay,
		DelayMs:     i.delay.Milliseconds(),
		Fail:        i.fail,
		FailureRate: i.failureRate,
	}
}
