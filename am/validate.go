package am

import (
	"net/url"
	"regexp"
	"time"

	"github.com/teranos/nexus/errors"
)

var engineNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// LockTTLMargin is how much longer a redis lock must live than the longest run
const LockTTLMargin = 30 * time.Second

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", DriverSQLite:
		// empty path falls back to nexus.db
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn cannot be empty when database.driver = \"postgres\"")
		}
	default:
		return errors.Newf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	// Rate limit: 0 = unlimited, negative = invalid
	if c.Server.RateLimitPerMinute < 0 {
		return errors.Newf("server.rate_limit_per_minute must be >= 0, got %d", c.Server.RateLimitPerMinute)
	}
	if c.Server.RateLimitBurst < 0 {
		return errors.Newf("server.rate_limit_burst must be >= 0, got %d", c.Server.RateLimitBurst)
	}

	if c.Runner.MaxConcurrent < 1 {
		return errors.Newf("runner.max_concurrent must be >= 1, got %d", c.Runner.MaxConcurrent)
	}
	if c.Runner.DefaultTimeoutSeconds < 0 {
		return errors.Newf("runner.default_timeout_seconds must be >= 0, got %d", c.Runner.DefaultTimeoutSeconds)
	}
	if c.Runner.RecentRuns < 0 {
		return errors.Newf("runner.recent_runs must be >= 0, got %d", c.Runner.RecentRuns)
	}
	switch c.Runner.Lock {
	case "", LockMemory:
	case LockRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr cannot be empty when runner.lock = \"redis\"")
		}
		if c.Redis.LockTTLSeconds <= 0 {
			return errors.Newf("redis.lock_ttl_seconds must be > 0, got %d", c.Redis.LockTTLSeconds)
		}
	default:
		return errors.Newf("runner.lock must be %q or %q, got %q", LockMemory, LockRedis, c.Runner.Lock)
	}

	// Ticker interval: 0 = default, negative = invalid
	if c.Schedule.TickIntervalSeconds < 0 {
		return errors.Newf("schedule.tick_interval_seconds must be >= 0, got %d", c.Schedule.TickIntervalSeconds)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return errors.Newf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate)
	}
	if c.Telemetry.ExportIntervalSeconds < 0 {
		return errors.Newf("telemetry.export_interval_seconds cannot be negative, got %d", c.Telemetry.ExportIntervalSeconds)
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return errors.New("telemetry.otlp_endpoint cannot be empty when enabled")
	}

	for name, p := range c.Providers {
		if err := p.validate(name); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(c.Engines))
	for i, e := range c.Engines {
		if !engineNamePattern.MatchString(e.Name) {
			return errors.Newf("engines[%d].name %q must match %s", i, e.Name, engineNamePattern)
		}
		if seen[e.Name] {
			return errors.Newf("engines[%d].name %q is declared twice", i, e.Name)
		}
		seen[e.Name] = true

		switch e.Kind {
		case EngineKindWebhook, EngineKindQuote:
		default:
			return errors.Newf("engine %q: unknown kind %q (want %q or %q)", e.Name, e.Kind, EngineKindWebhook, EngineKindQuote)
		}
		if e.Provider == "" {
			return errors.Newf("engine %q: provider cannot be empty", e.Name)
		}
		if _, ok := c.Providers[e.Provider]; !ok {
			return errors.Newf("engine %q: provider %q is not configured", e.Name, e.Provider)
		}
		if e.IntervalSeconds < 0 {
			return errors.Newf("engine %q: interval_seconds must be >= 0, got %d", e.Name, e.IntervalSeconds)
		}
		if e.TimeoutSeconds < 0 {
			return errors.Newf("engine %q: timeout_seconds must be >= 0, got %d", e.Name, e.TimeoutSeconds)
		}
	}

	if c.Runner.Lock == LockRedis {
		ttl := time.Duration(c.Redis.LockTTLSeconds) * time.Second
		if longest := c.LongestRunTimeout(); ttl < longest+LockTTLMargin {
			return errors.Newf("redis.lock_ttl_seconds (%d) must be at least the longest run timeout (%s) plus %s",
				c.Redis.LockTTLSeconds, longest, LockTTLMargin)
		}
	}

	return nil
}

// LongestRunTimeout returns the largest effective per-run deadline across engines
func (c *Config) LongestRunTimeout() time.Duration {
	longest := c.DefaultTimeout()
	for _, e := range c.Engines {
		if t := e.Timeout(); t > longest {
			longest = t
		}
	}
	return longest
}

func (p ProviderConfig) validate(name string) error {
	if p.BaseURL == "" {
		return errors.Newf("providers.%s.base_url cannot be empty", name)
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return errors.Wrapf(err, "providers.%s.base_url is not a valid URL", name)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("providers.%s.base_url must use http or https, got %q", name, u.Scheme)
	}
	if p.TimeoutSeconds < 0 {
		return errors.Newf("providers.%s.timeout_seconds must be >= 0, got %d", name, p.TimeoutSeconds)
	}
	if p.RequestsPerMinute < 0 {
		return errors.Newf("providers.%s.requests_per_minute must be >= 0, got %d", name, p.RequestsPerMinute)
	}
	return nil
}
