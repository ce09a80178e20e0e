package provider

import (
	"sort"

	"go.uber.org/zap"

	"github.com/teranos/nexus/am"
)

// Set maps provider names to clients. A provider that is not configured is
// simply absent; callers check the ok result of Get.
type Set struct {
	fetchers map[string]Fetcher
}

// NewSet builds clients for every configured provider
func NewSet(cfgs map[string]am.ProviderConfig, log *zap.SugaredLogger) (*Set, error) {
	set := &Set{fetchers: make(map[string]Fetcher, len(cfgs))}
	for name, cfg := range cfgs {
		client, err := NewClient(name, cfg, log)
		if err != nil {
			return nil, err
		}
		set.fetchers[name] = client
	}
	return set, nil
}

// SetOf wraps existing fetchers, for tests and embedding
func SetOf(fetchers map[string]Fetcher) *Set {
	set := &Set{fetchers: make(map[string]Fetcher, len(fetchers))}
	for name, f := range fetchers {
		set.fetchers[name] = f
	}
	return set
}

// Get returns the named provider
func (s *Set) Get(name string) (Fetcher, bool) {
	if s == nil {
		return nil, false
	}
	f, ok := s.fetchers[name]
	return f, ok
}

// Names returns the configured provider names, sorted
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.fetchers))
	for name := range s.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
