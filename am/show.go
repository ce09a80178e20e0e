package am

import (
	"io"

	"github.com/BurntSushi/toml"

	"github.com/teranos/nexus/errors"
)

const redactedValue = "********"

// Redacted returns a copy of the config with credentials masked.
// Empty secrets stay empty so the output shows which ones are unset.
func (c *Config) Redacted() *Config {
	out := *c
	out.Database.DSN = redact(c.Database.DSN)
	out.Redis.Password = redact(c.Redis.Password)

	if c.Providers != nil {
		out.Providers = make(map[string]ProviderConfig, len(c.Providers))
		for name, p := range c.Providers {
			p.APIKey = redact(p.APIKey)
			out.Providers[name] = p
		}
	}
	out.Engines = append([]EngineConfig(nil), c.Engines...)
	return &out
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return redactedValue
}

// WriteTOML renders the effective configuration, credentials redacted
func (c *Config) WriteTOML(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c.Redacted()); err != nil {
		return errors.Wrap(err, "failed to encode config as TOML")
	}
	return nil
}
