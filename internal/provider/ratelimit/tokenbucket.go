package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Config is the per-provider bucket configuration.
type Config struct {
	Capacity   int  `yaml:"capacity" json:"capacity"`
	RefillRate int  `yaml:"refill_rate" json:"refill_rate"` // tokens per second
	Enabled    bool `yaml:"enabled" json:"enabled"`
}

// Status is a read-only snapshot of a bucket.
type Status struct {
	AvailableTokens float64 `json:"available_tokens"`
	Capacity        int     `json:"capacity"`
	RefillRate      float64 `json:"refill_rate"`
	EstimatedWaitMs int64   `json:"estimated_wait_ms"`
	Enabled         bool    `json:"enabled"`
}

// Bucket is a token bucket limiter.
// - rate: tokens per second
// - capacity: maximum tokens the bucket can hold (burst)
// tokens stays within [0, capacity] after every refill.
type Bucket struct {
	rate     float64
	capacity float64
	enabled  bool
	now      func() time.Time

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func NewBucket(cfg Config) *Bucket {
	rate := float64(cfg.RefillRate)
	if rate <= 0 {
		rate = 0.0000001
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	now := time.Now()
	return &Bucket{
		rate:     rate,
		capacity: float64(capacity),
		enabled:  cfg.Enabled,
		now:      time.Now,
		tokens:   float64(capacity), // start full to allow an initial burst
		last:     now,
	}
}

// refill must be called with mu held.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
		b.last = now
	}
	if b.tokens < 0 {
		b.tokens = 0
	}
}

// take consumes one token if available. Otherwise it returns how long until
// the deficit is refilled.
func (b *Bucket) take(now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	return waitFor(b.tokens, b.rate), false
}

func waitFor(tokens, rate float64) time.Duration {
	ms := math.Ceil((1 - tokens) / rate * 1000)
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// Wait blocks until one token is available or ctx is done.
// A disabled bucket returns immediately without touching the counter.
func (b *Bucket) Wait(ctx context.Context) error {
	if !b.enabled {
		return nil
	}
	for {
		wait, ok := b.take(b.now())
		if ok {
			return nil
		}
		// Re-evaluate after waiting; other waiters may have taken the refill.
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Status reports the bucket as it would look after a refill, without refilling.
func (b *Bucket) Status() Status {
	b.mu.Lock()
	tokens := b.tokens
	if elapsed := b.now().Sub(b.last).Seconds(); elapsed > 0 {
		tokens = math.Min(b.capacity, tokens+elapsed*b.rate)
	}
	b.mu.Unlock()

	st := Status{
		AvailableTokens: tokens,
		Capacity:        int(b.capacity),
		RefillRate:      b.rate,
		Enabled:         b.enabled,
	}
	if b.enabled && tokens < 1 {
		st.EstimatedWaitMs = waitFor(tokens, b.rate).Milliseconds()
	}
	return st
}
