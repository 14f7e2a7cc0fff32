package helpers

import (
	"sync"
	"time"
)

// Limited exponential backoff for retry cooldown.
// First delay is always 0.
// Failure() increases next delay by K, Reset() makes next attempt immediate.
type Backoff struct {
	mu   sync.Mutex
	next time.Duration
	last time.Time

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration    // delay resolution for nice logs, default=1ms
	Now func() time.Time // default time.Now
}

// Use scenario:
//
//	if backoff.Ready() {
//	  err := op()
//	  backoff.Update(err==nil)
//	}
func (b *Backoff) Ready() bool { return b.DelayBefore() == 0 }

func (b *Backoff) DelayBefore() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next == 0 {
		return 0
	}
	since := b.now().Sub(b.last)
	if since >= b.next {
		return 0
	}
	return b.round(b.next - since)
}

// Next is the cooldown that follows latest failure, 0 after Reset.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

func (b *Backoff) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.Min
	if b.next != 0 {
		next = time.Duration(float32(b.next) * b.K)
	}
	b.next = b.limit(next)
	b.last = b.now()
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = 0
	b.last = b.now()
}

func (b *Backoff) Update(success bool) {
	if success {
		b.Reset()
	} else {
		b.Failure()
	}
}

func (b *Backoff) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max != 0 && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
