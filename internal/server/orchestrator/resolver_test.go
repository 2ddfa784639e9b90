package orchestrator

import (
	"context"
	"math/rand"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyardai/switchyard/internal/server/biz"
)

func TestResolver_OrdersExactFormatFirst(t *testing.T) {
	engine := newTestEngine(t, Config{ConversionEnabled: true}, biz.Config{})
	ctx := context.Background()

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "claude:chat",
		Model:     "claude-sonnet-4",
	})
	require.NoError(t, err)

	require.Equal(t, "claude-sonnet-4", result.GlobalModelID)
	require.Empty(t, result.Reason)

	// Exact format, then same-kind conversions, then same-family kinds.
	require.Equal(t, []string{
		"ep-claude-chat/cred-a",
		"ep-claude-chat/cred-b",
		"ep-openai-chat/cred-c",
		"ep-claude-cli/cred-a",
		"ep-claude-cli/cred-b",
	}, candidateKeys(result.Candidates))

	buckets := lo.Map(result.Candidates, func(c Candidate, _ int) int { return c.Bucket })
	assert.Equal(t, []int{0, 0, 1, 2, 2}, buckets)

	conversions := lo.Map(result.Candidates, func(c Candidate, _ int) bool { return c.NeedsConversion })
	assert.Equal(t, []bool{false, false, true, false, false}, conversions)
}

func TestResolver_PassthroughAcrossKinds(t *testing.T) {
	engine := newTestEngine(t, Config{ConversionEnabled: true}, biz.Config{})
	ctx := context.Background()

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "claude:cli",
		Model:     "claude-sonnet-4",
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"ep-claude-cli/cred-a",
		"ep-claude-cli/cred-b",
		"ep-claude-chat/cred-a",
		"ep-claude-chat/cred-b",
		"ep-openai-chat/cred-c",
	}, candidateKeys(result.Candidates))

	// Same data format is passthrough even across kinds; only the
	// cross-family endpoint converts.
	for _, c := range result.Candidates {
		assert.Equal(t, c.Provider.ID == "prov-openai", c.NeedsConversion,
			"candidate %s/%s", c.Endpoint.ID, c.Credential.ID)
	}
}

func conversionGateSeed(endpointOptIn bool) biz.SeedConfig {
	return biz.SeedConfig{
		Providers: []biz.SeedProvider{
			{
				ID:       "prov-x",
				Name:     "x-upstream",
				Family:   "claude",
				Priority: 1,
				Endpoints: []biz.SeedEndpoint{
					{
						ID:                "ep-x",
						URL:               "https://x.example",
						Signature:         "claude:chat",
						Priority:          1,
						Models:            []string{"model-x"},
						Mappings:          map[string]string{"model-x": "model-x-v2"},
						ConversionEnabled: endpointOptIn,
					},
				},
				Credentials: []biz.SeedCredential{
					{ID: "cred-x", AuthType: "apikey", Priority: 1},
				},
			},
		},
	}
}

func TestResolver_ConversionGate(t *testing.T) {
	ctx := context.Background()
	req := ResolveRequest{Signature: "openai:chat", Model: "model-x"}

	t.Run("globally disabled", func(t *testing.T) {
		engine := newTestEngine(t, Config{}, biz.Config{
			Catalog: biz.CatalogConfig{Seed: conversionGateSeed(false)},
		})

		result, err := engine.resolver.ResolveCandidates(ctx, req)
		require.NoError(t, err)

		require.Empty(t, result.Candidates)
		require.Equal(t, NoCompatibleEndpoint, result.Reason)
	})

	t.Run("globally enabled", func(t *testing.T) {
		engine := newTestEngine(t, Config{ConversionEnabled: true}, biz.Config{
			Catalog: biz.CatalogConfig{Seed: conversionGateSeed(false)},
		})

		result, err := engine.resolver.ResolveCandidates(ctx, req)
		require.NoError(t, err)

		require.Len(t, result.Candidates, 1)
		assert.True(t, result.Candidates[0].NeedsConversion)
		assert.Equal(t, 1, result.Candidates[0].Bucket)
		assert.Equal(t, "model-x-v2", result.Candidates[0].UpstreamModel)
	})

	t.Run("endpoint opt-in overrides global off", func(t *testing.T) {
		engine := newTestEngine(t, Config{}, biz.Config{
			Catalog: biz.CatalogConfig{Seed: conversionGateSeed(true)},
		})

		result, err := engine.resolver.ResolveCandidates(ctx, req)
		require.NoError(t, err)

		require.Len(t, result.Candidates, 1)
		assert.True(t, result.Candidates[0].NeedsConversion)
	})
}

func TestResolver_StreamConversionPolicy(t *testing.T) {
	seed := conversionGateSeed(true)
	seed.Providers[0].Endpoints[0].StreamConversion = lo.ToPtr(false)

	engine := newTestEngine(t, Config{}, biz.Config{
		Catalog: biz.CatalogConfig{Seed: seed},
	})
	ctx := context.Background()

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "openai:chat",
		Model:     "model-x",
	})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)

	// The policy only blocks converted streaming traffic.
	result, err = engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "openai:chat",
		Model:     "model-x",
		Stream:    true,
	})
	require.NoError(t, err)
	require.Empty(t, result.Candidates)
	require.Equal(t, NoCompatibleEndpoint, result.Reason)

	result, err = engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "claude:chat",
		Model:     "model-x",
		Stream:    true,
	})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
}

func TestResolver_UnknownModel(t *testing.T) {
	engine := newTestEngine(t, Config{ConversionEnabled: true}, biz.Config{})
	ctx := context.Background()

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "claude:chat",
		Model:     "no-such-model",
	})
	require.NoError(t, err)

	require.Empty(t, result.Candidates)
	require.Equal(t, NoModelAvailable, result.Reason)
	require.Equal(t, "no-such-model", result.GlobalModelID)
}

func TestResolver_ResolvesModelAliases(t *testing.T) {
	engine := newTestEngine(t, Config{}, biz.Config{})
	ctx := context.Background()

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "claude:chat",
		Model:     "sonnet",
	})
	require.NoError(t, err)

	require.Equal(t, "claude-sonnet-4", result.GlobalModelID)
	require.Len(t, result.Candidates, 4)

	// Pattern aliases resolve too.
	result, err = engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "openai:chat",
		Model:     "gpt-4o-2025-05-13",
	})
	require.NoError(t, err)

	require.Equal(t, "gpt-4o", result.GlobalModelID)
	require.Equal(t, []string{"ep-openai-chat/cred-c"}, candidateKeys(result.Candidates))
	require.Equal(t, "gpt-4o", result.Candidates[0].UpstreamModel)
}

func TestResolver_OpenCircuitFiltersPerSignature(t *testing.T) {
	engine := newTestEngine(t, Config{}, biz.Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		engine.health.RecordFailure(ctx, "cred-a", "claude:chat", "upstream_error")
	}

	require.False(t, engine.health.AllowRequest(ctx, "cred-a", "claude:chat"))
	require.True(t, engine.health.AllowRequest(ctx, "cred-a", "claude:cli"))

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "claude:chat",
		Model:     "claude-sonnet-4",
	})
	require.NoError(t, err)

	// The breaker is scoped to (credential, signature): cred-a stays
	// usable through the cli endpoint.
	require.Equal(t, []string{
		"ep-claude-chat/cred-b",
		"ep-claude-cli/cred-a",
		"ep-claude-cli/cred-b",
	}, candidateKeys(result.Candidates))
}

func TestResolver_RateSaturation(t *testing.T) {
	engine := newTestEngine(t, Config{}, biz.Config{})
	ctx := context.Background()
	rpm := 10

	// Fill the shared window up to the new-caller threshold: 7 of 10.
	for i := 0; i < 7; i++ {
		ok, err := engine.rate.AcquireSlot(ctx, "cred-a", &rpm, false)
		require.NoError(t, err)
		require.True(t, ok)
	}

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "claude:chat",
		Model:     "claude-sonnet-4",
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"ep-claude-chat/cred-b",
		"ep-claude-cli/cred-b",
	}, candidateKeys(result.Candidates))

	// An affinity holder is measured against the full limit, and only for
	// its pinned pair.
	engine.affinity.Set(ctx, "caller-1", "claude:chat", "claude-sonnet-4", biz.AffinityEntry{
		EndpointID:   "ep-claude-chat",
		CredentialID: "cred-a",
	})

	result, err = engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature:   "claude:chat",
		Model:       "claude-sonnet-4",
		AffinityKey: "caller-1",
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"ep-claude-chat/cred-a",
		"ep-claude-chat/cred-b",
		"ep-claude-cli/cred-b",
	}, candidateKeys(result.Candidates))
}

func TestResolver_AffinityPromotion(t *testing.T) {
	engine := newTestEngine(t, Config{}, biz.Config{})
	ctx := context.Background()

	engine.affinity.Set(ctx, "caller-9", "claude:chat", "claude-sonnet-4", biz.AffinityEntry{
		EndpointID:   "ep-claude-cli",
		CredentialID: "cred-b",
	})

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature:   "claude:chat",
		Model:       "claude-sonnet-4",
		AffinityKey: "caller-9",
	})
	require.NoError(t, err)

	// The sticky pair jumps the ranking.
	require.Equal(t, []string{
		"ep-claude-cli/cred-b",
		"ep-claude-chat/cred-a",
		"ep-claude-chat/cred-b",
		"ep-claude-cli/cred-a",
	}, candidateKeys(result.Candidates))

	stage, found := lo.Find(result.Trace.Stages, func(s TraceStage) bool { return s.Stage == "affinity" })
	require.True(t, found)
	assert.Equal(t, "promoted cred-b", stage.Note)

	// With exact-match preference the sticky pair queues behind the exact
	// candidates instead.
	result, err = engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature:        "claude:chat",
		Model:            "claude-sonnet-4",
		AffinityKey:      "caller-9",
		PreferExactMatch: true,
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"ep-claude-chat/cred-a",
		"ep-claude-chat/cred-b",
		"ep-claude-cli/cred-b",
		"ep-claude-cli/cred-a",
	}, candidateKeys(result.Candidates))
}

func TestResolver_ExclusionsAndTags(t *testing.T) {
	engine := newTestEngine(t, Config{ConversionEnabled: true}, biz.Config{})
	ctx := context.Background()

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature:             "claude:chat",
		Model:                 "claude-sonnet-4",
		ExcludedCredentialIDs: []string{"cred-a", "cred-c"},
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"ep-claude-chat/cred-b",
		"ep-claude-cli/cred-b",
	}, candidateKeys(result.Candidates))

	result, err = engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature:    "claude:chat",
		Model:        "claude-sonnet-4",
		RequiredTags: []string{"paid", "trial"},
	})
	require.NoError(t, err)

	// Tag matching is any-of; only the anthropic provider is tagged.
	require.Equal(t, []string{
		"ep-claude-chat/cred-a",
		"ep-claude-chat/cred-b",
		"ep-claude-cli/cred-a",
		"ep-claude-cli/cred-b",
	}, candidateKeys(result.Candidates))

	result, err = engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature:    "claude:chat",
		Model:        "claude-sonnet-4",
		RequiredTags: []string{"free"},
	})
	require.NoError(t, err)

	require.Empty(t, result.Candidates)
	require.Equal(t, NoHealthyCredential, result.Reason)
}

func TestResolver_ConstraintExpression(t *testing.T) {
	engine := newTestEngine(t, Config{ConversionEnabled: true}, biz.Config{})
	ctx := context.Background()

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature:      "claude:chat",
		Model:          "claude-sonnet-4",
		ConstraintExpr: `auth_type == "apikey"`,
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"ep-claude-chat/cred-a",
		"ep-openai-chat/cred-c",
		"ep-claude-cli/cred-a",
	}, candidateKeys(result.Candidates))

	result, err = engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature:      "claude:chat",
		Model:          "claude-sonnet-4",
		ConstraintExpr: `"paid" in tags && !needs_conversion`,
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"ep-claude-chat/cred-a",
		"ep-claude-chat/cred-b",
		"ep-claude-cli/cred-a",
		"ep-claude-cli/cred-b",
	}, candidateKeys(result.Candidates))

	_, err = engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature:      "claude:chat",
		Model:          "claude-sonnet-4",
		ConstraintExpr: `auth_type ==`,
	})
	require.ErrorContains(t, err, "invalid constraint expression")
}

func TestResolver_InvalidSignature(t *testing.T) {
	engine := newTestEngine(t, Config{}, biz.Config{})

	_, err := engine.resolver.ResolveCandidates(context.Background(), ResolveRequest{
		Signature: "claude",
		Model:     "claude-sonnet-4",
	})
	require.ErrorContains(t, err, "invalid client signature")
}

func TestResolver_MaxCandidatesCap(t *testing.T) {
	engine := newTestEngine(t, Config{ConversionEnabled: true, MaxCandidates: 2}, biz.Config{})
	ctx := context.Background()

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "claude:chat",
		Model:     "claude-sonnet-4",
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"ep-claude-chat/cred-a",
		"ep-claude-chat/cred-b",
	}, candidateKeys(result.Candidates))

	// The request may widen or narrow the cap.
	result, err = engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature:     "claude:chat",
		Model:         "claude-sonnet-4",
		MaxCandidates: 3,
	})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 3)

	// Under exact-match preference the cap never pushes a convertible
	// candidate ahead of an exact one; a sticky pair past the cut is
	// dropped instead.
	engine.affinity.Set(ctx, "caller-2", "claude:chat", "claude-sonnet-4", biz.AffinityEntry{
		EndpointID:   "ep-claude-cli",
		CredentialID: "cred-b",
	})

	result, err = engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature:        "claude:chat",
		Model:            "claude-sonnet-4",
		AffinityKey:      "caller-2",
		PreferExactMatch: true,
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"ep-claude-chat/cred-a",
		"ep-claude-chat/cred-b",
	}, candidateKeys(result.Candidates))
}

func TestResolver_DeterministicWithSeededTiebreak(t *testing.T) {
	seed := biz.SeedConfig{
		Providers: []biz.SeedProvider{
			{
				ID:       "prov-x",
				Name:     "x-upstream",
				Family:   "claude",
				Priority: 1,
				Endpoints: []biz.SeedEndpoint{
					{
						ID:        "ep-x",
						URL:       "https://x.example",
						Signature: "claude:chat",
						Priority:  1,
						Models:    []string{"model-x"},
					},
				},
				Credentials: []biz.SeedCredential{
					{ID: "cred-1", AuthType: "apikey", Priority: 3},
					{ID: "cred-2", AuthType: "apikey", Priority: 3},
					{ID: "cred-3", AuthType: "apikey", Priority: 3},
				},
			},
		},
	}

	engine := newTestEngine(t, Config{}, biz.Config{
		Catalog: biz.CatalogConfig{Seed: seed},
	})
	ctx := context.Background()
	req := ResolveRequest{Signature: "claude:chat", Model: "model-x"}

	engine.resolver.tiebreak = rand.New(rand.NewSource(7)).Float64

	first, err := engine.resolver.ResolveCandidates(ctx, req)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"ep-x/cred-1", "ep-x/cred-2", "ep-x/cred-3"},
		candidateKeys(first.Candidates))

	// Same seed, same shuffle.
	engine.resolver.tiebreak = rand.New(rand.NewSource(7)).Float64

	second, err := engine.resolver.ResolveCandidates(ctx, req)
	require.NoError(t, err)
	require.Equal(t, candidateKeys(first.Candidates), candidateKeys(second.Candidates))
}

func TestResolver_TraceStages(t *testing.T) {
	engine := newTestEngine(t, Config{ConversionEnabled: true}, biz.Config{})
	ctx := context.Background()

	result, err := engine.resolver.ResolveCandidates(ctx, ResolveRequest{
		Signature: "claude:chat",
		Model:     "claude-sonnet-4",
	})
	require.NoError(t, err)

	stages := lo.Map(result.Trace.Stages, func(s TraceStage, _ int) string { return s.Stage })
	require.Equal(t, []string{"enumerate", "format", "constraints", "health", "rate", "rank"}, stages)

	enumerate := result.Trace.Stages[0]
	assert.Equal(t, 2, enumerate.In)
	assert.Equal(t, 5, enumerate.Out)

	for _, stage := range result.Trace.Stages[1:] {
		assert.Equal(t, 5, stage.In, stage.Stage)
		assert.Equal(t, 5, stage.Out, stage.Stage)
	}
}
