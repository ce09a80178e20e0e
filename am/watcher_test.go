package am

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "am.toml", "[runner]\nmax_concurrent = 2\n")

	cw, err := newConfigWatcher(path, func() (*Config, error) { return LoadFromFile(path) })
	require.NoError(t, err)
	cw.debouncePeriod = 10 * time.Millisecond

	var seen atomic.Int64
	cw.OnReload(func(c *Config) error {
		seen.Store(int64(c.Runner.MaxConcurrent))
		return nil
	})
	cw.Start()
	t.Cleanup(func() { cw.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("[runner]\nmax_concurrent = 7\n"), DefaultFilePermissions))

	assert.Eventually(t, func() bool { return seen.Load() == 7 }, 5*time.Second, 20*time.Millisecond)
}

func TestConfigWatcher_InvalidConfigKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "am.toml", "[runner]\nmax_concurrent = 2\n")

	cw, err := newConfigWatcher(path, func() (*Config, error) { return LoadFromFile(path) })
	require.NoError(t, err)
	defer cw.Stop()

	var calls atomic.Int32
	cw.OnReload(func(*Config) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, os.WriteFile(path, []byte("[runner]\nmax_concurrent = 0\n"), DefaultFilePermissions))
	assert.Error(t, cw.reload())
	assert.Zero(t, calls.Load())
}

func TestConfigWatcher_IgnoresOwnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am.toml")

	cw, err := newConfigWatcher(path, func() (*Config, error) { return LoadFromFile(path) })
	require.NoError(t, err)
	defer cw.Stop()

	cw.MarkOwnWrite()
	assert.True(t, cw.checkOwnWrite())
	assert.False(t, cw.checkOwnWrite(), "flag clears after one check")
}
