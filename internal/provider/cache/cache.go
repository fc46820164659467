package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/metrics"
)

// Supplier computes the value for a missing or expired key.
type Supplier[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// flight is the one-shot result handle shared by every caller waiting on a key.
// val and err are written once, before done is closed.
type flight[V any] struct {
	done    chan struct{}
	val     V
	err     error
	waiters int
	cancel  context.CancelFunc

	// abandoned is set once every waiter has left; the flight stays
	// registered until its supplier returns.
	abandoned bool
}

type options struct {
	maxItems int
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*options)

// WithMaxItems bounds the number of stored entries (best effort).
func WithMaxItems(n int) Option { return func(o *options) { o.maxItems = n } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// Cache is a TTL-keyed store with single-flight computation of missing keys.
// The mutex guards both maps and is never held while a supplier runs.
type Cache[V any] struct {
	opts options

	mu       sync.Mutex
	items    map[string]entry[V]
	inflight map[string]*flight[V]
}

func New[V any](opts ...Option) *Cache[V] {
	o := options{now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		opts:     o,
		items:    make(map[string]entry[V]),
		inflight: make(map[string]*flight[V]),
	}
}

// GetOrPut returns the live value for key, or joins/starts the single
// computation of it. Failures are not cached; every waiter gets the error.
// A waiter whose ctx ends stops waiting; when the last waiter leaves, the
// computation is cancelled. It stays registered until the supplier returns,
// so two suppliers never run for one key.
func (c *Cache[V]) GetOrPut(ctx context.Context, key string, ttl time.Duration, supplier Supplier[V]) (V, error) {
	c.mu.Lock()
	for {
		// a cancelled computation settles before a new one may start
		f, ok := c.inflight[key]
		if !ok || !f.abandoned {
			break
		}
		c.mu.Unlock()
		select {
		case <-f.done:
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
		c.mu.Lock()
	}
	if e, ok := c.items[key]; ok {
		if c.opts.now().Before(e.expiresAt) {
			c.mu.Unlock()
			c.opts.metrics.CacheLookup("hit")
			return e.value, nil
		}
		delete(c.items, key)
	}
	f, shared := c.inflight[key]
	if !shared {
		// The computation outlives any single caller; it is cancelled only
		// when nobody waits for it any more.
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight[V]{done: make(chan struct{}), cancel: cancel}
		c.inflight[key] = f
		go c.run(fctx, key, ttl, f, supplier)
	}
	f.waiters++
	c.mu.Unlock()

	if shared {
		c.opts.metrics.CacheLookup("shared")
	} else {
		c.opts.metrics.CacheLookup("miss")
	}

	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		c.leave(f)
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[V]) leave(f *flight[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	select {
	case <-f.done:
		return
	default:
	}
	f.abandoned = true
	f.cancel()
}

func (c *Cache[V]) run(ctx context.Context, key string, ttl time.Duration, f *flight[V], supplier Supplier[V]) {
	defer f.cancel()
	val, err := c.call(ctx, supplier)

	c.mu.Lock()
	if err == nil && ttl > 0 {
		c.items[key] = entry[V]{value: val, expiresAt: c.opts.now().Add(ttl)}
		c.evictLocked()
	}
	if c.inflight[key] == f {
		delete(c.inflight, key)
	}
	f.val, f.err = val, err
	c.mu.Unlock()
	close(f.done)
}

func (c *Cache[V]) call(ctx context.Context, supplier Supplier[V]) (val V, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.opts.log.Error("cache supplier panic", zap.Any("panic", r))
			err = fmt.Errorf("cache supplier panic: %v", r)
		}
	}()
	return supplier(ctx)
}

// Get returns a live value without computing anything.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || !c.opts.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Invalidate drops a stored value. An in-flight computation is left alone.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len counts stored entries, expired ones included until swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// InFlight counts registered computations.
func (c *Cache[V]) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	now := c.opts.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// StartJanitor sweeps expired entries every interval until ctx is done.
// Expiry is lazy at read time; the janitor only bounds memory.
func (c *Cache[V]) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := c.Sweep(); n > 0 {
					c.opts.log.Debug("cache sweep", zap.Int("removed", n))
				}
			}
		}
	}()
}

// evictLocked caps the cache size: expired entries go first, then arbitrary ones.
func (c *Cache[V]) evictLocked() {
	if c.opts.maxItems <= 0 || len(c.items) <= c.opts.maxItems {
		return
	}
	now := c.opts.now()
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
		}
		if len(c.items) <= c.opts.maxItems {
			return
		}
	}
	for k := range c.items {
		if len(c.items) <= c.opts.maxItems {
			return
		}
		delete(c.items, k)
	}
}
