package am

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/nexus/errors"
)

// starterConfig is written by `nexus am init`
type starterConfig struct {
	Database  DatabaseConfig            `toml:"database"`
	Server    ServerConfig              `toml:"server"`
	Runner    RunnerConfig              `toml:"runner"`
	Schedule  ScheduleConfig            `toml:"schedule"`
	Providers map[string]ProviderConfig `toml:"providers"`
	Engines   []EngineConfig            `toml:"engines"`
}

// StarterConfig returns a minimal, valid project configuration with one
// on-demand quote engine against a public price API
func StarterConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: DriverSQLite, Path: "nexus.db"},
		Server: ServerConfig{
			Port:               DefaultServerPort,
			AllowedOrigins:     defaultAllowedOrigins,
			RateLimitPerMinute: 60,
			RateLimitBurst:     10,
		},
		Runner:   RunnerConfig{MaxConcurrent: 4, DefaultTimeoutSeconds: 30, Lock: LockMemory, RecentRuns: 100},
		Redis:    RedisConfig{Addr: "localhost:6379", LockTTLSeconds: 300},
		Schedule: ScheduleConfig{Enabled: true, TickIntervalSeconds: 1},
		Providers: map[string]ProviderConfig{
			"coingecko": {BaseURL: "https://api.coingecko.com", TimeoutSeconds: 10, RequestsPerMinute: 10},
		},
		Engines: []EngineConfig{{
			Name:     "btc-quote",
			Kind:     EngineKindQuote,
			Provider: "coingecko",
			Path:     "/api/v3/simple/price?ids=bitcoin&vs_currencies=usd",
		}},
	}
}

// WriteProjectConfig writes cfg to path as TOML, rotating any existing file
// into .back1/.back2/.back3 first. Credentials are written as given.
func WriteProjectConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(starterConfig{
		Database:  cfg.Database,
		Server:    cfg.Server,
		Runner:    cfg.Runner,
		Schedule:  cfg.Schedule,
		Providers: cfg.Providers,
		Engines:   cfg.Engines,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// Deletion failures don't block the save
		fmt.Fprintf(os.Stderr, "failed to delete old backup %s: %v\n", back3, err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}
