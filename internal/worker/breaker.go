package worker

import (
	"errors"
	"sync"
	"time"
)

// ErrPublishPaused is returned by Relay.Step while the breaker is open.
var ErrPublishPaused = errors.New("relay: publishing paused after repeated failures")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker stops the relay from hammering a broker that keeps failing.
// After threshold consecutive failures it opens for openFor, then lets a
// single probe through. A successful probe closes it again.
type Breaker struct {
	mu        sync.Mutex
	st        breakerState
	fails     int
	threshold int
	openFor   time.Duration
	nextTryAt time.Time
	probing   bool
	now       func() time.Time
}

func NewBreaker(threshold int, openFor time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{threshold: threshold, openFor: openFor, now: time.Now}
}

// TryAcquire reports whether a publish may be attempted now.
func (b *Breaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case breakerOpen:
		if b.now().Before(b.nextTryAt) {
			return false
		}
		b.st = breakerHalfOpen
		b.probing = true
		return true
	case breakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.fails = 0
	b.st = breakerClosed
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.st == breakerHalfOpen {
		b.trip()
		return
	}
	b.fails++
	if b.fails >= b.threshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.st = breakerOpen
	b.nextTryAt = b.now().Add(b.openFor)
}
