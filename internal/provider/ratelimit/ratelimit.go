package ratelimit

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/metrics"
	"marketdata/internal/provider"
)

// Limiter owns one independent Bucket per provider key. The bucket set is
// fixed at construction; each bucket serializes its own counter.
type Limiter struct {
	buckets map[provider.Key]*Bucket
	log     *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Limiter)

func WithLogger(l *zap.Logger) Option {
	return func(lim *Limiter) { lim.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(lim *Limiter) { lim.metrics = m }
}

// WithClock replaces the time source of every bucket.
func WithClock(now func() time.Time) Option {
	return func(lim *Limiter) {
		for _, b := range lim.buckets {
			b.now = now
			b.last = now()
		}
	}
}

func New(cfgs map[provider.Key]Config, opts ...Option) *Limiter {
	l := &Limiter{
		buckets: make(map[provider.Key]*Bucket, len(cfgs)),
		log:     zap.NewNop(),
	}
	for k, cfg := range cfgs {
		l.buckets[k] = NewBucket(cfg)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire suspends until a token for key is available, then consumes it.
// Keys without a configured bucket are not throttled.
func (l *Limiter) Acquire(ctx context.Context, key provider.Key) error {
	b := l.buckets[key]
	if b == nil || !b.enabled {
		return nil
	}
	start := time.Now()
	err := b.Wait(ctx)
	waited := time.Since(start)
	l.metrics.RateLimitWaited(key.String(), waited)
	if waited > time.Second {
		l.log.Debug("rate limit wait", zap.String("provider", key.String()), zap.Duration("waited", waited))
	}
	return err
}

func (l *Limiter) Status(key provider.Key) Status {
	b := l.buckets[key]
	if b == nil {
		return Status{}
	}
	return b.Status()
}

// Keys lists configured providers in a stable order.
func (l *Limiter) Keys() []provider.Key {
	out := make([]provider.Key, 0, len(l.buckets))
	for k := range l.buckets {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
