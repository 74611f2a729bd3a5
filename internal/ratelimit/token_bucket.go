package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// One token is tracked as 1e9 nano-tokens so a rate of R tokens/sec refills
// exactly R nano-tokens per elapsed nanosecond.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket limits signaling messages per connection. It starts full with
// burst tokens and refills at rate tokens/sec.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	burst int64
	rate  int64

	nano int64
	last time.Time
}

// NewTokenBucket returns a bucket with the given burst and refill rate. A
// non-positive rate disables limiting entirely.
func NewTokenBucket(clock Clock, burst, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if burst < 1 {
		burst = 1
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock: clock,
		burst: burst,
		rate:  rate,
		nano:  toNano(burst),
		last:  clock.Now(),
	}
}

// Allow takes one token.
func (b *TokenBucket) Allow() bool { return b.AllowN(1) }

// AllowN takes n tokens if all are available.
func (b *TokenBucket) AllowN(n int64) bool {
	if b == nil || b.rate == 0 || n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.nano < cost {
		return false
	}
	b.nano -= cost
	return true
}

// Tokens returns the whole tokens currently available.
func (b *TokenBucket) Tokens() int64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.nano / nanoPerToken
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 {
		// Clock went backwards or did not move.
		return
	}

	full := toNano(b.burst)
	missing := full - b.nano
	if missing <= 0 || b.rate == 0 {
		b.nano = full
		return
	}
	// elapsed*rate may overflow; anything beyond missing/rate fills the bucket.
	if elapsed >= missing/b.rate {
		b.nano = full
		return
	}
	b.nano += elapsed * b.rate
	if b.nano > full {
		b.nano = full
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
