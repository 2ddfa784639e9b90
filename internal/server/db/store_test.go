package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/switchyardai/switchyard/internal/llm"
	"github.com/switchyardai/switchyard/internal/objects"
	"github.com/switchyardai/switchyard/internal/pkg/xtest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(Config{
		DSN:                filepath.Join(t.TempDir(), "catalog.db"),
		CheckpointInterval: time.Hour,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func TestStore_ProviderRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	empty, err := store.Empty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	provider := objects.Provider{
		ID:                "prov-1",
		Name:              "anthropic-main",
		Family:            llm.FamilyClaude,
		Active:            true,
		Priority:          10,
		Tags:              []string{"paid", "primary"},
		ConversionEnabled: true,
	}

	require.NoError(t, store.UpsertProvider(ctx, provider))

	empty, err = store.Empty(ctx)
	require.NoError(t, err)
	require.False(t, empty)

	providers, err := store.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 1)

	got := providers[0]
	ignoreStamps := cmpopts.IgnoreFields(objects.Provider{}, "CreatedAt", "UpdatedAt")
	require.True(t, xtest.Equal(provider, got, ignoreStamps), xtest.Diff(provider, got, ignoreStamps))
	require.False(t, got.CreatedAt.IsZero())

	// Upsert updates in place.
	provider.Name = "anthropic-renamed"
	provider.Active = false
	require.NoError(t, store.UpsertProvider(ctx, provider))

	providers, err = store.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	require.Equal(t, "anthropic-renamed", providers[0].Name)
	require.False(t, providers[0].Active)
}

func TestStore_EndpointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stream := false
	endpoint := objects.Endpoint{
		ID:         "ep-1",
		ProviderID: "prov-1",
		Name:       "claude-messages",
		URL:        "https://api.anthropic.com",
		Signature:  "claude:chat",
		Active:     true,
		Priority:   5,
		Models:     []string{"claude-sonnet", "claude-haiku"},
		ModelMappings: []objects.ModelMapping{
			{From: "claude-sonnet", To: "claude-sonnet-4-20250514"},
		},
		FormatPolicy: llm.FormatPolicy{
			Enabled:          true,
			RejectFormats:    []string{"gemini"},
			StreamConversion: &stream,
		},
	}

	require.NoError(t, store.UpsertEndpoint(ctx, endpoint))

	endpoints, err := store.ListEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)

	got := endpoints[0]
	require.Equal(t, "claude:chat", got.Signature)
	require.Equal(t, []string{"claude-sonnet", "claude-haiku"}, got.Models)
	require.Equal(t, "claude-sonnet-4-20250514", got.UpstreamModel("claude-sonnet"))
	require.True(t, got.FormatPolicy.Enabled)
	require.NotNil(t, got.FormatPolicy.StreamConversion)
	require.False(t, *got.FormatPolicy.StreamConversion)
	require.InDelta(t, 1.0, got.HealthScore, 1e-9)

	require.NoError(t, store.UpdateEndpointHealthScore(ctx, "ep-1", 0.25))

	endpoints, err = store.ListEndpoints(ctx)
	require.NoError(t, err)
	require.InDelta(t, 0.25, endpoints[0].HealthScore, 1e-9)
}

func TestStore_EndpointRejectsBadSignature(t *testing.T) {
	store := newTestStore(t)

	err := store.UpsertEndpoint(context.Background(), objects.Endpoint{
		ID:        "ep-bad",
		Signature: "not-a-signature",
	})
	require.Error(t, err)
}

func TestStore_CredentialRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	limit := 120
	credential := objects.Credential{
		ID:                 "cred-1",
		ProviderID:         "prov-1",
		Name:               "key-alpha",
		Active:             true,
		Priority:           3,
		AuthType:           objects.AuthTypeOAuth,
		RPMLimit:           &limit,
		Signatures:         []string{"claude:chat"},
		AffinityTTLSeconds: 600,
	}

	require.NoError(t, store.UpsertCredential(ctx, credential))

	creds, err := store.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 1)

	got := creds[0]
	require.Equal(t, objects.AuthTypeOAuth, got.AuthType)
	require.NotNil(t, got.RPMLimit)
	require.Equal(t, 120, *got.RPMLimit)
	require.Equal(t, 600, got.AffinityTTLSeconds)
	require.Nil(t, got.OAuthInvalidAt)
	require.Empty(t, got.HealthBySignature)
}

func TestStore_CredentialStateWriteBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertCredential(ctx, objects.Credential{
		ID:         "cred-1",
		ProviderID: "prov-1",
		Name:       "key-alpha",
		Active:     true,
	}))

	failedAt := time.Unix(1700000000, 0).UTC()
	probeAt := failedAt.Add(time.Minute)

	health := map[string]objects.HealthRecord{
		"claude:chat": {
			Score:               0.4,
			ConsecutiveFailures: 6,
			LastFailureAt:       &failedAt,
			Window: []objects.HealthOutcome{
				{At: failedAt, OK: false},
			},
		},
	}
	circuit := map[string]objects.CircuitState{
		"claude:chat": {
			Open:        true,
			OpenedAt:    &failedAt,
			NextProbeAt: &probeAt,
		},
	}

	require.NoError(t, store.UpdateCredentialState(ctx, "cred-1", health, circuit))
	require.NoError(t, store.UpdateCredentialStats(ctx, "cred-1", objects.CredentialStats{
		RequestCount: 10,
		SuccessCount: 4,
		ErrorCount:   6,
	}))

	creds, err := store.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 1)

	got := creds[0]
	require.InDelta(t, 0.4, got.HealthBySignature["claude:chat"].Score, 1e-9)
	require.Equal(t, 6, got.HealthBySignature["claude:chat"].ConsecutiveFailures)
	require.True(t, got.CircuitBySignature["claude:chat"].Open)
	require.Equal(t, int64(10), got.Stats.RequestCount)
	require.Equal(t, int64(6), got.Stats.ErrorCount)
}

func TestStore_CredentialMutations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	limit := 60
	require.NoError(t, store.UpsertCredential(ctx, objects.Credential{
		ID:         "cred-1",
		ProviderID: "prov-1",
		Name:       "key-alpha",
		Active:     true,
		AuthType:   objects.AuthTypeOAuth,
		RPMLimit:   &limit,
	}))

	require.NoError(t, store.SetCredentialActive(ctx, "cred-1", false))
	require.NoError(t, store.SetCredentialRPMLimit(ctx, "cred-1", nil))

	creds, err := store.ListCredentials(ctx)
	require.NoError(t, err)
	require.False(t, creds[0].Active)
	require.Nil(t, creds[0].RPMLimit)

	blockedAt := time.Unix(1700000100, 0).UTC()
	require.NoError(t, store.BlockCredentialOAuth(ctx, "cred-1", "account validation required", blockedAt))

	creds, err = store.ListCredentials(ctx)
	require.NoError(t, err)
	require.False(t, creds[0].Active)
	require.NotNil(t, creds[0].OAuthInvalidAt)
	require.Equal(t, blockedAt.Unix(), creds[0].OAuthInvalidAt.Unix())
	require.Equal(t, "account validation required", creds[0].OAuthInvalidReason)

	require.NoError(t, store.ClearCredentialOAuthBlock(ctx, "cred-1"))

	creds, err = store.ListCredentials(ctx)
	require.NoError(t, err)
	require.Nil(t, creds[0].OAuthInvalidAt)
	require.Empty(t, creds[0].OAuthInvalidReason)
}

func TestStore_ModelAliasRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertModelAlias(ctx, objects.ModelAlias{
		Name:          "gpt-4o",
		GlobalModelID: "openai/gpt-4o",
	}))
	require.NoError(t, store.UpsertModelAlias(ctx, objects.ModelAlias{
		Name:          "gpt-4o",
		GlobalModelID: "openai/gpt-4o-2024",
	}))

	aliases, err := store.ListModelAliases(ctx)
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	require.Equal(t, "openai/gpt-4o-2024", aliases[0].GlobalModelID)
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	store, err := NewStore(Config{DSN: filepath.Join(t.TempDir(), "catalog.db")})
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
