package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/drill/model"
)

// ErrBreakerOpen is returned by Breaker.Publish while publishing is
// suspended.
var ErrBreakerOpen = errors.New("notify: circuit breaker is open")

// BreakerState represents the current state of a Breaker.
type BreakerState int

const (
	// BreakerClosed passes every publish through. Failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerOpen drops publishes until the cooldown has passed.
	BreakerOpen
	// BreakerHalfOpen lets publishes through as trials.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker wraps a Notifier and stops calling it after consecutive failures,
// so a broker outage does not add a network timeout to every commit. It is
// safe for concurrent use.
type Breaker struct {
	next Notifier
	now  func() time.Time

	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time
}

// NewBreaker wraps next. failureThreshold consecutive failures open the
// breaker; after cooldown it half-opens and successThreshold consecutive
// successful trial publishes close it again.
func NewBreaker(next Notifier, failureThreshold, successThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 1
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		next:             next,
		now:              time.Now,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
	}
}

// Publish forwards rows unless the breaker is open.
func (b *Breaker) Publish(ctx context.Context, rows []model.StatusRow) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := b.next.Publish(ctx, rows)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// HealthCheck reports the wrapped notifier's health. An open breaker is not
// a failure by itself.
func (b *Breaker) HealthCheck(ctx context.Context) error {
	return b.next.HealthCheck(ctx)
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	if b.state == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// maybeHalfOpen moves an expired open breaker to half-open. Must be called
// with lock held.
func (b *Breaker) maybeHalfOpen() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) > b.cooldown {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerHalfOpen:
		// Any failing trial reopens.
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.successes = 0
	}
}
