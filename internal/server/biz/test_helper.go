package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zhenzou/executors"

	"github.com/switchyardai/switchyard/internal/server/db"
)

// TestSeed is a small two-provider catalog used by service tests here and in
// the packages built on top of them.
func TestSeed() SeedConfig {
	rpm := 10

	return SeedConfig{
		Providers: []SeedProvider{
			{
				ID:                "prov-anthropic",
				Name:              "anthropic-main",
				Family:            "claude",
				Priority:          10,
				Tags:              []string{"paid"},
				ConversionEnabled: true,
				Endpoints: []SeedEndpoint{
					{
						ID:        "ep-claude-chat",
						URL:       "https://api.anthropic.com",
						Signature: "claude:chat",
						Priority:  10,
						Models:    []string{"claude-sonnet-4"},
					},
					{
						ID:        "ep-claude-cli",
						URL:       "https://api.anthropic.com",
						Signature: "claude:cli",
						Priority:  5,
						Models:    []string{"claude-sonnet-4"},
					},
				},
				Credentials: []SeedCredential{
					{
						ID:       "cred-a",
						AuthType: "apikey",
						Priority: 10,
						RPMLimit: &rpm,
					},
					{
						ID:                 "cred-b",
						AuthType:           "oauth",
						Priority:           5,
						AffinityTTLSeconds: 60,
					},
				},
			},
			{
				ID:       "prov-openai",
				Name:     "openai-backup",
				Family:   "openai",
				Priority: 5,
				Endpoints: []SeedEndpoint{
					{
						ID:        "ep-openai-chat",
						URL:       "https://api.openai.com/v1",
						Signature: "openai:chat",
						Priority:  10,
						Models:    []string{"claude-sonnet-4", "gpt-4o"},
					},
				},
				Credentials: []SeedCredential{
					{
						ID:       "cred-c",
						AuthType: "apikey",
						Priority: 10,
					},
				},
			},
		},
		ModelAliases: map[string]string{
			"sonnet":      "claude-sonnet-4",
			"^gpt-4o-.*$": "gpt-4o",
		},
	}
}

// NewCatalogServiceForTest builds and starts a catalog over the given store.
func NewCatalogServiceForTest(store *db.Store, config Config) (*CatalogService, error) {
	svc := NewCatalogService(CatalogServiceParams{
		Config:   config,
		Store:    store,
		Executor: executors.NewPoolScheduleExecutor(),
	})

	if err := svc.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start catalog: %w", err)
	}

	return svc, nil
}

// NewHealthMonitorForTest builds a monitor without starting its write-back
// loop; tests flush synchronously when they need persistence.
func NewHealthMonitorForTest(config Config, catalog *CatalogService) *HealthMonitor {
	return NewHealthMonitor(HealthMonitorParams{
		Config:   config,
		Catalog:  catalog,
		Executor: executors.NewPoolScheduleExecutor(),
	})
}

// NewRateServiceForTest builds a rate service with an optionally pinned
// clock, so tests never straddle a minute-bucket boundary.
func NewRateServiceForTest(config Config, client *redis.Client, now func() time.Time) *RateService {
	svc := NewRateService(RateServiceParams{
		Config:   config,
		Redis:    client,
		Executor: executors.NewPoolScheduleExecutor(),
	})

	if now != nil {
		svc.now = now
	}

	return svc
}
