package api

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/switchyardai/switchyard/internal/pkg/xcache"
	"github.com/switchyardai/switchyard/internal/server/biz"
	"github.com/switchyardai/switchyard/internal/server/db"
	"github.com/switchyardai/switchyard/internal/server/orchestrator"
)

// testServer mounts every admin handler on a bare router, auth middleware
// excluded. Auth behavior has its own tests in the middleware package.
type testServer struct {
	router   *gin.Engine
	catalog  *biz.CatalogService
	health   *biz.HealthMonitor
	rate     *biz.RateService
	affinity *biz.AffinityService
	adaptive *biz.AdaptiveService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := db.NewStore(db.Config{
		DSN:                filepath.Join(t.TempDir(), "api.db"),
		CheckpointInterval: time.Hour,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	var bizConfig biz.Config
	bizConfig.Catalog.Seed = biz.TestSeed()

	catalog, err := biz.NewCatalogServiceForTest(store, bizConfig)
	require.NoError(t, err)

	health := biz.NewHealthMonitorForTest(bizConfig, catalog)

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

	resolver := orchestrator.NewResolver(orchestrator.ResolverParams{
		Config:   orchestrator.Config{MaxCandidates: 5},
		Catalog:  catalog,
		Health:   health,
		Rate:     rate,
		Affinity: affinity,
	})

	system := NewSystemHandlers(SystemHandlersParams{Catalog: catalog})
	healthHandlers := NewHealthHandlers(HealthHandlersParams{Health: health})
	circuits := NewCircuitHandlers(CircuitHandlersParams{Health: health})
	credentials := NewCredentialHandlers(CredentialHandlersParams{Catalog: catalog, Health: health})
	rateHandlers := NewRateHandlers(RateHandlersParams{Catalog: catalog, Rate: rate, Adaptive: adaptive})
	resolve := NewResolveHandlers(ResolveHandlersParams{Resolver: resolver})

	router := gin.New()
	router.GET("/healthz", system.Healthz)
	router.GET("/version", system.Version)

	admin := router.Group("/admin")
	admin.GET("/health/credentials/:id", healthHandlers.KeyHealth)
	admin.GET("/health/summary", healthHandlers.Summary)
	admin.GET("/circuits", circuits.History)
	admin.POST("/circuits/:id/reset", circuits.Reset)
	admin.GET("/credentials", credentials.List)
	admin.POST("/credentials/:id/enable", credentials.Enable)
	admin.POST("/credentials/:id/disable", credentials.Disable)
	admin.POST("/rate/:id/reset", rateHandlers.ResetCredential)
	admin.POST("/rate/reset", rateHandlers.ResetAll)
	admin.POST("/rate/:id/limit", rateHandlers.SetLimit)
	admin.POST("/resolve", resolve.Resolve)

	return &testServer{
		router:   router,
		catalog:  catalog,
		health:   health,
		rate:     rate,
		affinity: affinity,
		adaptive: adaptive,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	return w
}
