package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"marketdata/internal/provider/ratelimit"
)

type Server struct {
	Port              string `yaml:"port"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`

	// Env selects the log format: "production" is JSON, anything else is console.
	Env          string `yaml:"env"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type Yahoo struct {
	BaseURL        string           `yaml:"base_url"`
	CookieURL      string           `yaml:"cookie_url"`
	CrumbURL       string           `yaml:"crumb_url"`
	UserAgent      string           `yaml:"user_agent"`
	Region         string           `yaml:"region"`
	Lang           string           `yaml:"lang"`
	RateLimit      ratelimit.Config `yaml:"rate_limit"`
	MaxConcurrency int              `yaml:"max_concurrency"`
}

type Fred struct {
	BaseURL        string           `yaml:"base_url"`
	APIKey         string           `yaml:"api_key"`
	RateLimit      ratelimit.Config `yaml:"rate_limit"`
	MaxConcurrency int              `yaml:"max_concurrency"`
}

type Cache struct {
	MaxItems       int `yaml:"max_items"`
	JanitorSeconds int `yaml:"janitor_sec"`

	// RedisAddr enables the shared body store when set.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type Config struct {
	Server Server `yaml:"server"`
	Yahoo  Yahoo  `yaml:"yahoo"`
	Fred   Fred   `yaml:"fred"`
	Cache  Cache  `yaml:"cache"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10, Env: "development", MaxBodyBytes: 1 << 20},
		Yahoo: Yahoo{
			BaseURL:        "https://query2.finance.yahoo.com",
			CookieURL:      "https://fc.yahoo.com",
			CrumbURL:       "https://query1.finance.yahoo.com/v1/test/getcrumb",
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			Region:         "US",
			Lang:           "en-US",
			RateLimit:      ratelimit.Config{Capacity: 5, RefillRate: 2, Enabled: true},
			MaxConcurrency: 4,
		},
		Fred: Fred{
			BaseURL: "https://api.stlouisfed.org",
			// FRED allows 120 requests per minute per key.
			RateLimit:      ratelimit.Config{Capacity: 10, RefillRate: 2, Enabled: true},
			MaxConcurrency: 4,
		},
		Cache: Cache{MaxItems: 50000, JanitorSeconds: 60, RedisPrefix: "marketdata:body"},
	}
}

// Load reads YAML config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values no component can work with. An empty FRED key is
// valid: the macro endpoints then answer with a configuration error.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.RequestTimeoutSec <= 0 {
		errs = append(errs, errors.New("server.request_timeout_sec must be > 0"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be > 0"))
	}
	for name, rl := range map[string]ratelimit.Config{"yahoo": c.Yahoo.RateLimit, "fred": c.Fred.RateLimit} {
		if rl.Enabled && (rl.Capacity <= 0 || rl.RefillRate <= 0) {
			errs = append(errs, fmt.Errorf("%s.rate_limit: capacity and refill_rate must be > 0 when enabled", name))
		}
	}
	if c.Yahoo.BaseURL == "" || c.Yahoo.CookieURL == "" || c.Yahoo.CrumbURL == "" {
		errs = append(errs, errors.New("yahoo: base_url, cookie_url and crumb_url are required"))
	}
	if c.Fred.BaseURL == "" {
		errs = append(errs, errors.New("fred.base_url is required"))
	}
	if c.Cache.MaxItems < 0 {
		errs = append(errs, errors.New("cache.max_items must be >= 0"))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if x, ok := envInt("REQUEST_TIMEOUT_SEC"); ok && x > 0 {
		cfg.Server.RequestTimeoutSec = x
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Server.Env = v
	}

	if v := os.Getenv("YAHOO_BASE_URL"); v != "" {
		cfg.Yahoo.BaseURL = v
	}
	if v := os.Getenv("YAHOO_USER_AGENT"); v != "" {
		cfg.Yahoo.UserAgent = v
	}
	if x, ok := envInt("YAHOO_RATE_CAPACITY"); ok && x > 0 {
		cfg.Yahoo.RateLimit.Capacity = x
	}
	if x, ok := envInt("YAHOO_RATE_REFILL"); ok && x > 0 {
		cfg.Yahoo.RateLimit.RefillRate = x
	}
	if b, ok := envBool("YAHOO_RATE_ENABLED"); ok {
		cfg.Yahoo.RateLimit.Enabled = b
	}
	if x, ok := envInt("YAHOO_MAX_CONCURRENCY"); ok && x > 0 {
		cfg.Yahoo.MaxConcurrency = x
	}

	if v := os.Getenv("FRED_API_KEY"); v != "" {
		cfg.Fred.APIKey = v
	}
	if v := os.Getenv("FRED_BASE_URL"); v != "" {
		cfg.Fred.BaseURL = v
	}
	if x, ok := envInt("FRED_RATE_CAPACITY"); ok && x > 0 {
		cfg.Fred.RateLimit.Capacity = x
	}
	if x, ok := envInt("FRED_RATE_REFILL"); ok && x > 0 {
		cfg.Fred.RateLimit.RefillRate = x
	}
	if b, ok := envBool("FRED_RATE_ENABLED"); ok {
		cfg.Fred.RateLimit.Enabled = b
	}

	if x, ok := envInt("CACHE_MAX_ITEMS"); ok && x >= 0 {
		cfg.Cache.MaxItems = x
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
}

func envInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return x, true
}

func envBool(name string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	}
	return false, false
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
