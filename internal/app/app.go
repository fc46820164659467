// Package app wires configuration into the access layer: one limiter, one
// cache, one crumb session and one pipeline shared by every domain service.
package app

import (
	"context"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketdata/internal/config"
	"marketdata/internal/httpx"
	"marketdata/internal/metrics"
	"marketdata/internal/provider"
	"marketdata/internal/provider/auth"
	"marketdata/internal/provider/cache"
	"marketdata/internal/provider/fred"
	"marketdata/internal/provider/pipeline"
	"marketdata/internal/provider/ratelimit"
	"marketdata/internal/provider/yahoo"
)

type App struct {
	Pipeline *pipeline.Executor
	Limiter  *ratelimit.Limiter
	Cache    *cache.Cache[any]
	Auth     *auth.Provider
	Yahoo    *yahoo.Services
	Macro    *fred.MacroService

	redis *redis.Client
}

// New builds the application. The cache janitor runs until ctx is done.
// A configured but unreachable Redis is logged and skipped.
func New(ctx context.Context, cfg config.Config, log *zap.Logger, m *metrics.Metrics) *App {
	if log == nil {
		log = zap.NewNop()
	}
	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	limiter := ratelimit.New(map[provider.Key]ratelimit.Config{
		provider.Yahoo: cfg.Yahoo.RateLimit,
		provider.FRED:  cfg.Fred.RateLimit,
	}, ratelimit.WithLogger(log.Named("ratelimit")), ratelimit.WithMetrics(m))

	c := cache.New[any](
		cache.WithMaxItems(cfg.Cache.MaxItems),
		cache.WithLogger(log.Named("cache")),
		cache.WithMetrics(m),
	)
	c.StartJanitor(ctx, time.Duration(cfg.Cache.JanitorSeconds)*time.Second)

	crumb := auth.New(httpClient,
		auth.WithProviderKey(provider.Yahoo),
		auth.WithCookieURL(cfg.Yahoo.CookieURL),
		auth.WithCrumbURL(cfg.Yahoo.CrumbURL),
		auth.WithUserAgent(cfg.Yahoo.UserAgent),
		auth.WithLogger(log.Named("auth")),
		auth.WithMetrics(m),
	)

	opts := []pipeline.Option{
		pipeline.WithLimiter(limiter),
		pipeline.WithCache(c),
		pipeline.WithAuthenticator(provider.Yahoo, crumb),
		pipeline.WithLogger(log.Named("pipeline")),
		pipeline.WithMetrics(m),
	}
	a := &App{Limiter: limiter, Cache: c, Auth: crumb}
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			log.Warn("shared cache disabled", zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
		} else {
			a.redis = rc
			opts = append(opts, pipeline.WithStore(cache.NewRedisStore(rc, cfg.Cache.RedisPrefix)))
		}
	}
	a.Pipeline = pipeline.New(opts...)

	yq := url.Values{}
	if cfg.Yahoo.Region != "" {
		yq.Set("region", cfg.Yahoo.Region)
	}
	if cfg.Yahoo.Lang != "" {
		yq.Set("lang", cfg.Yahoo.Lang)
	}
	yc := yahoo.NewClient(
		yahoo.WithBaseURL(cfg.Yahoo.BaseURL),
		yahoo.WithQuery(yq),
		yahoo.WithHTTPClient(httpClient),
		yahoo.WithUserAgent(cfg.Yahoo.UserAgent),
		yahoo.WithBatchLimit(cfg.Yahoo.MaxConcurrency),
		yahoo.WithLogger(log.Named("yahoo")),
	)
	a.Yahoo = yahoo.NewServices(a.Pipeline, yc)

	fc := fred.NewFredAPIClient(cfg.Fred.APIKey,
		fred.WithBaseURL(cfg.Fred.BaseURL),
		fred.WithHTTPClient(httpClient),
		fred.WithBatchLimit(cfg.Fred.MaxConcurrency),
		fred.WithLogger(log.Named("fred")),
	)
	if !fc.Configured() {
		log.Warn("FRED_API_KEY not set; macro endpoints will report a configuration error")
	}
	a.Macro = fred.NewMacroService(a.Pipeline, fc)
	return a
}

// Close releases the shared cache connection, if any.
func (a *App) Close() error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}
