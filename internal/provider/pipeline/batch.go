package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultBatchLimit bounds concurrent executions when the caller passes limit <= 0.
const DefaultBatchLimit = 4

// Batch runs fn once per distinct key with at most limit calls in flight.
// Failed keys are logged and left out of the result. If every key fails, the
// error of the first failed key (in keys order) is returned.
func Batch[T any](ctx context.Context, log *zap.Logger, limit int, keys []string, fn func(ctx context.Context, key string) (T, error)) (map[string]T, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	keys = dedupe(keys)
	if len(keys) == 0 {
		return map[string]T{}, nil
	}

	var (
		mu   sync.Mutex
		out  = make(map[string]T, len(keys))
		errs = make([]error, len(keys))
		// a large failing batch logs a few lines, not one per key
		logFailure = rate.Sometimes{First: 3, Interval: time.Second}
	)

	// fn errors never cancel the group; siblings keep running.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, key := range keys {
		g.Go(func() error {
			v, err := fn(gctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[i] = err
				logFailure.Do(func() {
					log.Warn("batch item failed", zap.String("key", key), zap.Error(err))
				})
				return nil
			}
			out[key] = v
			return nil
		})
	}
	_ = g.Wait()

	if len(out) > 0 {
		return out, nil
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
