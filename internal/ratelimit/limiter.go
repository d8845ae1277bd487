package ratelimit

import (
	"sync"
	"time"
)

// Limiter caps how many events a connection may spend per second. Each event
// costs one token; tokens refill from elapsed clock time, so tests drive the
// limiter with a fake Clock.
type Limiter struct {
	mu sync.Mutex

	clock Clock
	burst int64
	rate  int64 // events/sec

	tokens int64
	carry  time.Duration // elapsed time not yet converted into a token
	last   time.Time
}

// NewLimiter returns a limiter that admits bursts of up to burst events and
// sustains rate events per second. A nil clock uses the wall clock.
func NewLimiter(clock Clock, burst, rate int64) *Limiter {
	if clock == nil {
		clock = RealClock{}
	}
	if burst < 0 {
		burst = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &Limiter{
		clock:  clock,
		burst:  burst,
		rate:   rate,
		tokens: burst,
		last:   clock.Now(),
	}
}

// Allow spends one event. It reports false when the budget is exhausted.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

func (l *Limiter) refill() {
	now := l.clock.Now()
	if now.Before(l.last) {
		// The clock jumped backwards. Re-anchor without granting credit.
		l.last = now
		l.carry = 0
		return
	}

	elapsed := now.Sub(l.last) + l.carry
	l.last = now
	if l.rate <= 0 || l.burst <= 0 {
		l.carry = 0
		return
	}

	interval := time.Second / time.Duration(l.rate)
	if interval <= 0 {
		l.tokens = l.burst
		l.carry = 0
		return
	}

	// Whole tokens earned since the last refill. The sub-interval remainder
	// carries over so a slow, steady sender is not rounded down to zero.
	earned := int64(elapsed / interval)
	if earned >= l.burst-l.tokens {
		l.tokens = l.burst
		l.carry = 0
		return
	}
	l.tokens += earned
	l.carry = elapsed % interval
}
