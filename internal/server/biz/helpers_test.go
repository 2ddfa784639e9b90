package biz

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/switchyardai/switchyard/internal/server/db"
)

func newTestCatalog(t *testing.T, config Config) *CatalogService {
	t.Helper()

	store, err := db.NewStore(db.Config{
		DSN:                filepath.Join(t.TempDir(), "catalog.db"),
		CheckpointInterval: time.Hour,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	if len(config.Catalog.Seed.Providers) == 0 {
		config.Catalog.Seed = TestSeed()
	}

	catalog, err := NewCatalogServiceForTest(store, config)
	require.NoError(t, err)

	return catalog
}

func newTestMonitor(t *testing.T, config Config) (*HealthMonitor, *CatalogService, *fakeClock) {
	t.Helper()

	catalog := newTestCatalog(t, config)
	monitor := NewHealthMonitorForTest(config, catalog)

	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	monitor.now = clock.Now

	return monitor, catalog, clock
}

// fakeClock is a manually advanced clock for breaker timing tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}
