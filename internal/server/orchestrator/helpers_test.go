package orchestrator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/switchyardai/switchyard/internal/pkg/xcache"
	"github.com/switchyardai/switchyard/internal/server/biz"
	"github.com/switchyardai/switchyard/internal/server/db"
)

// testEngine wires the full resolver stack over the in-memory store, the
// memory cache, and the in-process rate counter.
type testEngine struct {
	resolver *Resolver
	handler  *ErrorHandler
	catalog  *biz.CatalogService
	health   *biz.HealthMonitor
	rate     *biz.RateService
	affinity *biz.AffinityService
	adaptive *biz.AdaptiveService
}

func newTestEngine(t *testing.T, config Config, bizConfig biz.Config) *testEngine {
	t.Helper()

	store, err := db.NewStore(db.Config{
		DSN:                filepath.Join(t.TempDir(), "engine.db"),
		CheckpointInterval: time.Hour,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	if len(bizConfig.Catalog.Seed.Providers) == 0 {
		bizConfig.Catalog.Seed = biz.TestSeed()
	}

	catalog, err := biz.NewCatalogServiceForTest(store, bizConfig)
	require.NoError(t, err)

	health := biz.NewHealthMonitorForTest(bizConfig, catalog)

	// A pinned clock keeps every admission in one minute bucket.
	rate := biz.NewRateServiceForTest(bizConfig, nil, func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	})

	affinity := biz.NewAffinityService(biz.AffinityServiceParams{
		Config:      bizConfig,
		CacheConfig: xcache.Config{Mode: xcache.ModeMemory},
		Catalog:     catalog,
	})

	adaptive := biz.NewAdaptiveService(biz.AdaptiveServiceParams{
		Config:  bizConfig,
		Catalog: catalog,
	})

	resolver := NewResolver(ResolverParams{
		Config:   config,
		Catalog:  catalog,
		Health:   health,
		Rate:     rate,
		Affinity: affinity,
	})

	handler := NewErrorHandler(ErrorHandlerParams{
		Catalog:  catalog,
		Health:   health,
		Rate:     rate,
		Affinity: affinity,
		Adaptive: adaptive,
	})

	return &testEngine{
		resolver: resolver,
		handler:  handler,
		catalog:  catalog,
		health:   health,
		rate:     rate,
		affinity: affinity,
		adaptive: adaptive,
	}
}

// candidateKeys flattens candidates to "endpoint/credential" for order
// assertions.
func candidateKeys(candidates []Candidate) []string {
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.Endpoint.ID + "/" + c.Credential.ID
	}

	return keys
}
