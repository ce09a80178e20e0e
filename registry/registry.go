// Package registry is the catalogue of engines known to this process: each
// name's capability plus its persisted ledger record.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/nexus/am"
	"github.com/teranos/nexus/engine"
	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/ledger"
	"github.com/teranos/nexus/logger"
	"github.com/teranos/nexus/provider"
)

// EngineStore is the slice of the ledger the registry needs
type EngineStore interface {
	UpsertEngine(ctx context.Context, name string, config json.RawMessage) (*ledger.Engine, error)
}

// Entry is one registered engine
type Entry struct {
	Name       string
	Kind       string
	Capability engine.Capability
	Timeout    time.Duration // 0 = runner default
	Interval   time.Duration // 0 = on demand only
}

// Option configures a registration
type Option func(*registration)

type registration struct {
	entry  Entry
	config json.RawMessage
}

// WithKind records the engine kind for reports
func WithKind(kind string) Option {
	return func(r *registration) { r.entry.Kind = kind }
}

// WithTimeout sets a per-engine run deadline
func WithTimeout(d time.Duration) Option {
	return func(r *registration) { r.entry.Timeout = d }
}

// WithInterval schedules the engine every d
func WithInterval(d time.Duration) Option {
	return func(r *registration) { r.entry.Interval = d }
}

// WithConfig stores an opaque configuration blob on first registration
func WithConfig(config json.RawMessage) Option {
	return func(r *registration) { r.config = config }
}

// Registry maps engine names to capabilities.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	store   EngineStore
	entries map[string]Entry
	mu      sync.RWMutex
}

// New creates an empty registry backed by store
func New(store EngineStore) *Registry {
	return &Registry{
		store:   store,
		entries: make(map[string]Entry),
	}
}

// Register upserts the engine's ledger record and binds its capability.
// Registering a name twice is an error.
func (r *Registry) Register(ctx context.Context, name string, capability engine.Capability, opts ...Option) error {
	if capability == nil {
		return errors.NewValidationError("capability", "engine %q has no capability", name)
	}

	reg := registration{entry: Entry{Name: name, Capability: capability}}
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return errors.Newf("engine already registered: %s", name)
	}
	if _, err := r.store.UpsertEngine(ctx, name, reg.config); err != nil {
		return errors.Wrapf(err, "register engine %q", name)
	}
	r.entries[name] = reg.entry
	return nil
}

// Lookup returns the registration for name, or an error matching ErrUnknownEngine
func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return Entry{}, errors.NewUnknownEngineError(name)
	}
	return entry, nil
}

// CapabilityFor returns the capability registered under name
func (r *Registry) CapabilityFor(name string) (engine.Capability, error) {
	entry, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return entry.Capability, nil
}

// Has checks if an engine is registered under name
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// List returns all registered engine names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns all registrations, sorted by name
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetSchedule updates the interval and timeout of a registered engine.
// Used when configuration is reloaded; the capability itself is unchanged.
func (r *Registry) SetSchedule(name string, interval, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return errors.NewUnknownEngineError(name)
	}
	entry.Interval = interval
	entry.Timeout = timeout
	r.entries[name] = entry
	return nil
}

// Bootstrap builds and registers every engine declared in configuration.
// Safe to run on every start: ledger records are upserted, never reset.
func Bootstrap(ctx context.Context, r *Registry, cfg *am.Config, providers *provider.Set, log *zap.SugaredLogger) error {
	if log == nil {
		log = logger.Logger
	}
	for _, spec := range cfg.Engines {
		capability, err := engine.Build(spec, providers)
		if err != nil {
			return err
		}

		blob, err := json.Marshal(map[string]any{
			"kind":     spec.Kind,
			"provider": spec.Provider,
			"path":     spec.Path,
			"config":   spec.Config,
		})
		if err != nil {
			return errors.Wrapf(err, "engine %q: encode config", spec.Name)
		}

		if err := r.Register(ctx, spec.Name, capability,
			WithKind(spec.Kind),
			WithTimeout(spec.Timeout()),
			WithInterval(spec.Interval()),
			WithConfig(blob),
		); err != nil {
			return err
		}
		log.Infow("Engine registered",
			logger.FieldEngine, spec.Name,
			"kind", spec.Kind,
			logger.FieldProvider, spec.Provider,
			"interval", spec.Interval().String())
	}
	return nil
}

// ApplySchedules pushes reloaded intervals and timeouts onto registered
// engines. Engines added to the file after startup are reported, not
// registered; that takes a restart.
func ApplySchedules(r *Registry, cfg *am.Config, log *zap.SugaredLogger) {
	for _, spec := range cfg.Engines {
		if err := r.SetSchedule(spec.Name, spec.Interval(), spec.Timeout()); err != nil {
			log.Warnw("Engine in reloaded config is not registered; restart to add it",
				logger.FieldEngine, spec.Name)
		}
	}
}
