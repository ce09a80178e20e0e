package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var defaultAllowedOrigins = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "nexus.db")

	// Server configuration defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", defaultAllowedOrigins)
	v.SetDefault("server.rate_limit_per_minute", 60)
	v.SetDefault("server.rate_limit_burst", 10)

	// Runner defaults
	v.SetDefault("runner.max_concurrent", 4)
	v.SetDefault("runner.default_timeout_seconds", 30)
	v.SetDefault("runner.lock", LockMemory)
	v.SetDefault("runner.recent_runs", 100)

	// Redis (only consulted when runner.lock = "redis")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl_seconds", 300)

	// Scheduler defaults
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.tick_interval_seconds", 1)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.export_interval_seconds", 15)
	v.SetDefault("telemetry.environment", "development")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "NEXUS_DATABASE_PATH")
	v.BindEnv("database.dsn", "NEXUS_DATABASE_DSN")
	v.BindEnv("redis.password", "NEXUS_REDIS_PASSWORD")
}

// GetDatabasePath returns the configured SQLite path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "nexus.db" // Fallback default
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return defaultAllowedOrigins
	}
	return c.Server.AllowedOrigins
}

// DefaultTimeout returns the runner's default per-run deadline
func (c *Config) DefaultTimeout() time.Duration {
	if c.Runner.DefaultTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Runner.DefaultTimeoutSeconds) * time.Second
}

// TickInterval returns the scheduler tick interval
func (c *Config) TickInterval() time.Duration {
	if c.Schedule.TickIntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.Schedule.TickIntervalSeconds) * time.Second
}

// Engine returns the declaration for name
func (c *Config) Engine(name string) (EngineConfig, bool) {
	for _, e := range c.Engines {
		if e.Name == name {
			return e, true
		}
	}
	return EngineConfig{}, false
}

// Interval returns the schedule interval, zero when the engine runs on demand only
func (e EngineConfig) Interval() time.Duration {
	return time.Duration(e.IntervalSeconds) * time.Second
}

// Timeout returns the engine's own deadline, zero meaning the runner default
func (e EngineConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {Port: %d}, Runner: {MaxConcurrent: %d, Lock: %s}, Engines: %d}",
		c.Database.Driver, c.Server.Port, c.Runner.MaxConcurrent, c.Runner.Lock, len(c.Engines))
}
