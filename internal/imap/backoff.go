package imap

import (
	"sync"
	"time"
)

// Backoff gates reconnect attempts per account with a capped exponential
// delay. The periodic driver keeps ticking at its fixed interval; accounts
// still inside their backoff window simply skip the attempt.
type Backoff struct {
	base time.Duration
	max  time.Duration

	mu       sync.Mutex
	failures map[int64]int
	nextTry  map[int64]time.Time
	now      func() time.Time
}

// NewBackoff creates a backoff policy with the given base delay and cap
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = 30 * time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{
		base:     base,
		max:      max,
		failures: make(map[int64]int),
		nextTry:  make(map[int64]time.Time),
		now:      time.Now,
	}
}

// Ready reports whether a connect attempt for the account is allowed
func (b *Backoff) Ready(accountID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, ok := b.nextTry[accountID]
	return !ok || !b.now().Before(next)
}

// Fail records a failed attempt and schedules the next allowed one
func (b *Backoff) Fail(accountID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[accountID]++
	b.nextTry[accountID] = b.now().Add(b.delay(b.failures[accountID]))
}

// Reset clears the account's failure history after a successful connect
func (b *Backoff) Reset(accountID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, accountID)
	delete(b.nextTry, accountID)
}

// delay returns base*2^(failures-1) capped at max
func (b *Backoff) delay(failures int) time.Duration {
	d := b.base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	if d > b.max {
		return b.max
	}
	return d
}
