package am

// Config represents the nexus configuration
type Config struct {
	Database  DatabaseConfig            `mapstructure:"database" toml:"database"`
	Server    ServerConfig              `mapstructure:"server" toml:"server"`
	Runner    RunnerConfig              `mapstructure:"runner" toml:"runner"`
	Redis     RedisConfig               `mapstructure:"redis" toml:"redis"`
	Schedule  ScheduleConfig            `mapstructure:"schedule" toml:"schedule"`
	Telemetry TelemetryConfig           `mapstructure:"telemetry" toml:"telemetry"`
	Providers map[string]ProviderConfig `mapstructure:"providers" toml:"providers"`
	Engines   []EngineConfig            `mapstructure:"engines" toml:"engines"`
}

// DatabaseConfig selects and configures the ledger backend
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" toml:"driver"` // sqlite (default) or postgres
	Path   string `mapstructure:"path" toml:"path"`     // SQLite file path
	DSN    string `mapstructure:"dsn" toml:"dsn"`       // Postgres connection string (sensitive)
}

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ServerConfig configures the HTTP binding of the orchestrator API
type ServerConfig struct {
	Port               int      `mapstructure:"port" toml:"port"`
	AllowedOrigins     []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute" toml:"rate_limit_per_minute"` // per caller, 0 = unlimited
	RateLimitBurst     int      `mapstructure:"rate_limit_burst" toml:"rate_limit_burst"`
}

// Server port constants
const (
	DefaultServerPort = 8787
)

// RunnerConfig configures the job runner
type RunnerConfig struct {
	MaxConcurrent         int    `mapstructure:"max_concurrent" toml:"max_concurrent"`                   // engines running at once across all names
	DefaultTimeoutSeconds int    `mapstructure:"default_timeout_seconds" toml:"default_timeout_seconds"` // per-run deadline when the engine sets none
	Lock                  string `mapstructure:"lock" toml:"lock"`                                       // memory (single process) or redis
	RecentRuns            int    `mapstructure:"recent_runs" toml:"recent_runs"`                         // size of the in-memory run history
}

// Lock backends
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// RedisConfig configures the Redis connection used by the distributed engine lock
type RedisConfig struct {
	Addr           string `mapstructure:"addr" toml:"addr"`
	Password       string `mapstructure:"password" toml:"password"` // sensitive
	DB             int    `mapstructure:"db" toml:"db"`
	LockTTLSeconds int    `mapstructure:"lock_ttl_seconds" toml:"lock_ttl_seconds"` // upper bound on a lock held by a crashed process
}

// ScheduleConfig configures the interval scheduler
type ScheduleConfig struct {
	Enabled             bool `mapstructure:"enabled" toml:"enabled"`
	TickIntervalSeconds int  `mapstructure:"tick_interval_seconds" toml:"tick_interval_seconds"`
}

// TelemetryConfig configures OpenTelemetry metric and trace export
type TelemetryConfig struct {
	Enabled               bool    `mapstructure:"enabled" toml:"enabled"`
	OTLPEndpoint          string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint"` // host:port of the OTLP gRPC collector
	Insecure              bool    `mapstructure:"insecure" toml:"insecure"`
	SampleRate            float64 `mapstructure:"sample_rate" toml:"sample_rate"` // fraction of runs traced, 0..1
	ExportIntervalSeconds int     `mapstructure:"export_interval_seconds" toml:"export_interval_seconds"`
	Environment           string  `mapstructure:"environment" toml:"environment"`
}

// ProviderConfig configures one external data/AI provider.
// A provider absent from the map is simply not available to engines.
type ProviderConfig struct {
	BaseURL           string `mapstructure:"base_url" toml:"base_url"`
	APIKey            string `mapstructure:"api_key" toml:"api_key"`                         // sensitive
	APIKeyHeader      string `mapstructure:"api_key_header" toml:"api_key_header"`           // default: Authorization (Bearer)
	TimeoutSeconds    int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`         // 0 = 10s
	RequestsPerMinute int    `mapstructure:"requests_per_minute" toml:"requests_per_minute"` // 0 = unpaced
	AllowPrivate      bool   `mapstructure:"allow_private" toml:"allow_private"`             // permit private/loopback targets
}

// EngineConfig declares one engine, bootstrapped into the ledger at startup
type EngineConfig struct {
	Name            string                 `mapstructure:"name" toml:"name"`
	Kind            string                 `mapstructure:"kind" toml:"kind"`
	Provider        string                 `mapstructure:"provider" toml:"provider"`
	Path            string                 `mapstructure:"path" toml:"path"`
	Method          string                 `mapstructure:"method" toml:"method"`
	IntervalSeconds int                    `mapstructure:"interval_seconds" toml:"interval_seconds"` // 0 = on demand only
	TimeoutSeconds  int                    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`   // 0 = runner default
	Config          map[string]interface{} `mapstructure:"config" toml:"config,omitempty"`
}

// Engine kinds understood by engine.Build
const (
	EngineKindWebhook = "webhook"
	EngineKindQuote   = "quote"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
