package biz

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	"github.com/zhenzou/executors"
	"go.uber.org/fx"
	"golang.org/x/sync/singleflight"

	"github.com/switchyardai/switchyard/internal/llm"
	"github.com/switchyardai/switchyard/internal/log"
	"github.com/switchyardai/switchyard/internal/objects"
	"github.com/switchyardai/switchyard/internal/pkg/xregexp"
	"github.com/switchyardai/switchyard/internal/pkg/xtime"
	"github.com/switchyardai/switchyard/internal/server/db"
)

type CatalogServiceParams struct {
	fx.In

	Config   Config
	Store    *db.Store
	Executor executors.ScheduledExecutor
}

// aliasLRUSize bounds the per-snapshot memo of pattern-alias resolutions.
const aliasLRUSize = 1024

// catalogSnapshot is the immutable picture the resolver reads. A reload
// builds a fresh snapshot and swaps the pointer; readers never see a
// half-built one.
type catalogSnapshot struct {
	providers   map[string]objects.Provider
	endpoints   map[string]objects.Endpoint
	credentials map[string]objects.Credential
	aliases     []objects.ModelAlias

	endpointsByProvider   map[string][]objects.Endpoint
	credentialsByProvider map[string][]objects.Credential

	// resolvedModels memoizes pattern-alias matches. It lives on the
	// snapshot, so a reload with new aliases starts from a clean memo.
	resolvedModels *lru.Cache[string, string]
}

func emptySnapshot() *catalogSnapshot {
	resolved, _ := lru.New[string, string](aliasLRUSize)

	return &catalogSnapshot{
		providers:             map[string]objects.Provider{},
		endpoints:             map[string]objects.Endpoint{},
		credentials:           map[string]objects.Credential{},
		endpointsByProvider:   map[string][]objects.Endpoint{},
		credentialsByProvider: map[string][]objects.Credential{},
		resolvedModels:        resolved,
	}
}

// CatalogService owns the provider/endpoint/credential/alias catalog. Reads
// are served from an in-memory snapshot; every mutation goes through the
// store and refreshes the snapshot.
type CatalogService struct {
	config CatalogConfig
	seed   SeedConfig
	store  *db.Store

	executor executors.ScheduledExecutor

	mu       sync.RWMutex
	snapshot *catalogSnapshot

	sf singleflight.Group
}

func NewCatalogService(params CatalogServiceParams) *CatalogService {
	cfg := params.Config.withDefaults()

	return &CatalogService{
		config:   cfg.Catalog,
		seed:     cfg.Catalog.Seed,
		store:    params.Store,
		executor: params.Executor,
		snapshot: emptySnapshot(),
	}
}

// Start seeds an empty store, performs the initial load, and schedules the
// periodic refresh.
func (svc *CatalogService) Start(ctx context.Context) error {
	empty, err := svc.store.Empty(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect catalog store: %w", err)
	}

	if empty && len(svc.seed.Providers) > 0 {
		if err := svc.applySeed(ctx); err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
	}

	if err := svc.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	_, err = svc.executor.ScheduleFuncAtCronRate(
		svc.reloadPeriodic,
		executors.CRONRule{Expr: "*/1 * * * *"},
	)
	if err != nil {
		return fmt.Errorf("failed to schedule catalog refresh: %w", err)
	}

	return nil
}

func (svc *CatalogService) reloadPeriodic(ctx context.Context) {
	if err := svc.Reload(ctx); err != nil {
		log.Error(ctx, "failed to reload catalog", log.Cause(err))
	}
}

// Reload rebuilds the snapshot from the store. Concurrent callers collapse
// into a single load.
func (svc *CatalogService) Reload(ctx context.Context) error {
	_, err, shared := svc.sf.Do("reload", func() (any, error) {
		return nil, svc.load(ctx)
	})
	if shared && log.DebugEnabled(ctx) {
		log.Debug(ctx, "catalog reload deduplicated")
	}

	return err
}

func (svc *CatalogService) load(ctx context.Context) error {
	providers, err := svc.store.ListProviders(ctx)
	if err != nil {
		return err
	}

	endpoints, err := svc.store.ListEndpoints(ctx)
	if err != nil {
		return err
	}

	credentials, err := svc.store.ListCredentials(ctx)
	if err != nil {
		return err
	}

	aliases, err := svc.store.ListModelAliases(ctx)
	if err != nil {
		return err
	}

	snap := emptySnapshot()
	snap.aliases = aliases

	for _, p := range providers {
		snap.providers[p.ID] = p
	}

	for _, e := range endpoints {
		snap.endpoints[e.ID] = e
		snap.endpointsByProvider[e.ProviderID] = append(snap.endpointsByProvider[e.ProviderID], e)
	}

	for _, c := range credentials {
		snap.credentials[c.ID] = c
		snap.credentialsByProvider[c.ProviderID] = append(snap.credentialsByProvider[c.ProviderID], c)
	}

	for id := range snap.endpointsByProvider {
		slices.SortFunc(snap.endpointsByProvider[id], func(a, b objects.Endpoint) int {
			if a.Priority != b.Priority {
				return b.Priority - a.Priority
			}

			return strings.Compare(a.ID, b.ID)
		})
	}

	for id := range snap.credentialsByProvider {
		slices.SortFunc(snap.credentialsByProvider[id], func(a, b objects.Credential) int {
			if a.Priority != b.Priority {
				return b.Priority - a.Priority
			}

			return strings.Compare(a.ID, b.ID)
		})
	}

	svc.mu.Lock()
	svc.snapshot = snap
	svc.mu.Unlock()

	log.Debug(ctx, "catalog loaded",
		log.Int("providers", len(providers)),
		log.Int("endpoints", len(endpoints)),
		log.Int("credentials", len(credentials)),
		log.Int("model_aliases", len(aliases)),
	)

	return nil
}

func (svc *CatalogService) current() *catalogSnapshot {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	return svc.snapshot
}

// PriorityMode reports which configured priority breaks ranking ties.
func (svc *CatalogService) PriorityMode() string {
	return svc.config.PriorityMode
}

// ActiveProviders returns active providers sorted by priority, highest
// first.
func (svc *CatalogService) ActiveProviders() []objects.Provider {
	snap := svc.current()

	providers := lo.Filter(lo.Values(snap.providers), func(p objects.Provider, _ int) bool {
		return p.Active
	})

	slices.SortFunc(providers, func(a, b objects.Provider) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}

		return strings.Compare(a.ID, b.ID)
	})

	return providers
}

// ActiveEndpoints returns the provider's active endpoints, highest priority
// first.
func (svc *CatalogService) ActiveEndpoints(providerID string) []objects.Endpoint {
	snap := svc.current()

	return lo.Filter(snap.endpointsByProvider[providerID], func(e objects.Endpoint, _ int) bool {
		return e.Active
	})
}

// EndpointsForModel returns active endpoints of active providers serving the
// global model ID.
func (svc *CatalogService) EndpointsForModel(globalModelID string) []objects.Endpoint {
	snap := svc.current()

	var endpoints []objects.Endpoint

	for _, p := range svc.ActiveProviders() {
		for _, e := range snap.endpointsByProvider[p.ID] {
			if e.Active && e.ServesModel(globalModelID) {
				endpoints = append(endpoints, e)
			}
		}
	}

	return endpoints
}

// CredentialsForEndpoint returns the active credentials of the endpoint's
// provider that may serve the endpoint's signature.
func (svc *CatalogService) CredentialsForEndpoint(endpointID string) []objects.Credential {
	snap := svc.current()

	endpoint, ok := snap.endpoints[endpointID]
	if !ok {
		return nil
	}

	return lo.Filter(snap.credentialsByProvider[endpoint.ProviderID], func(c objects.Credential, _ int) bool {
		return c.Active && c.SupportsSignature(endpoint.Signature)
	})
}

// Provider returns one provider by ID.
func (svc *CatalogService) Provider(id string) (objects.Provider, bool) {
	p, ok := svc.current().providers[id]
	return p, ok
}

// Endpoint returns one endpoint by ID.
func (svc *CatalogService) Endpoint(id string) (objects.Endpoint, bool) {
	e, ok := svc.current().endpoints[id]
	return e, ok
}

// Credential returns one credential by ID.
func (svc *CatalogService) Credential(id string) (objects.Credential, bool) {
	c, ok := svc.current().credentials[id]
	return c, ok
}

// Endpoints returns every endpoint.
func (svc *CatalogService) Endpoints() []objects.Endpoint {
	return lo.Values(svc.current().endpoints)
}

// Credentials returns every credential.
func (svc *CatalogService) Credentials() []objects.Credential {
	return lo.Values(svc.current().credentials)
}

// ResolveModel maps a requested model name to a global model ID. Exact alias
// matches win over pattern aliases; a name without any alias is its own
// global ID. Pattern matches are memoized per snapshot.
func (svc *CatalogService) ResolveModel(ctx context.Context, name string) string {
	snap := svc.current()

	for _, alias := range snap.aliases {
		if alias.Name == name {
			return alias.GlobalModelID
		}
	}

	if resolved, ok := snap.resolvedModels.Get(name); ok {
		return resolved
	}

	for _, alias := range snap.aliases {
		if xregexp.MatchString(alias.Name, name) {
			log.Debug(ctx, "model resolved via alias pattern",
				log.String("model", name),
				log.String("pattern", alias.Name),
				log.String("global_model_id", alias.GlobalModelID),
			)

			snap.resolvedModels.Add(name, alias.GlobalModelID)

			return alias.GlobalModelID
		}
	}

	snap.resolvedModels.Add(name, name)

	return name
}

// SetCredentialActive flips a credential's active flag.
func (svc *CatalogService) SetCredentialActive(ctx context.Context, id string, active bool) error {
	if _, ok := svc.Credential(id); !ok {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}

	if err := svc.store.SetCredentialActive(ctx, id, active); err != nil {
		return err
	}

	return svc.Reload(ctx)
}

// SetCredentialRPMLimit installs or clears a credential's per-minute limit.
func (svc *CatalogService) SetCredentialRPMLimit(ctx context.Context, id string, limit *int) error {
	if _, ok := svc.Credential(id); !ok {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}

	if err := svc.store.SetCredentialRPMLimit(ctx, id, limit); err != nil {
		return err
	}

	return svc.Reload(ctx)
}

// BlockOAuthCredential deactivates a credential whose upstream account needs
// manual validation, stamping when and why.
func (svc *CatalogService) BlockOAuthCredential(ctx context.Context, id string, reason string) error {
	if _, ok := svc.Credential(id); !ok {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}

	if err := svc.store.BlockCredentialOAuth(ctx, id, reason, xtime.UTCNow()); err != nil {
		return err
	}

	log.Warn(ctx, "oauth credential blocked",
		log.String("credential_id", id),
		log.String("reason", reason),
	)

	return svc.Reload(ctx)
}

// EnableCredential reactivates a credential and clears its persisted health,
// circuit, and oauth-block state. The health monitor resets its in-memory
// side separately.
func (svc *CatalogService) EnableCredential(ctx context.Context, id string) error {
	if _, ok := svc.Credential(id); !ok {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}

	if err := svc.store.UpdateCredentialState(ctx, id, nil, nil); err != nil {
		return err
	}

	if err := svc.store.ClearCredentialOAuthBlock(ctx, id); err != nil {
		return err
	}

	if err := svc.store.SetCredentialActive(ctx, id, true); err != nil {
		return err
	}

	return svc.Reload(ctx)
}

// UpdateCredentialState persists a credential's per-signature health and
// circuit maps. Called from the health flusher; the periodic refresh picks
// the values up, so no synchronous reload here.
func (svc *CatalogService) UpdateCredentialState(ctx context.Context, id string, health map[string]objects.HealthRecord, circuit map[string]objects.CircuitState) error {
	return svc.store.UpdateCredentialState(ctx, id, health, circuit)
}

// RecordCredentialStats persists a credential's global counters. Flusher
// path, no synchronous reload.
func (svc *CatalogService) RecordCredentialStats(ctx context.Context, id string, stats objects.CredentialStats) error {
	return svc.store.UpdateCredentialStats(ctx, id, stats)
}

// UpdateEndpointHealthScore persists an endpoint's aggregate health score.
func (svc *CatalogService) UpdateEndpointHealthScore(ctx context.Context, id string, score float64) error {
	return svc.store.UpdateEndpointHealthScore(ctx, id, score)
}

func (svc *CatalogService) applySeed(ctx context.Context) error {
	now := xtime.UTCNow()

	for _, sp := range svc.seed.Providers {
		provider := objects.Provider{
			ID:                sp.ID,
			Name:              sp.Name,
			Family:            sp.Family,
			Active:            true,
			Priority:          sp.Priority,
			Tags:              sp.Tags,
			ConversionEnabled: sp.ConversionEnabled,
			CreatedAt:         now,
		}
		if provider.Name == "" {
			provider.Name = provider.ID
		}

		if err := svc.store.UpsertProvider(ctx, provider); err != nil {
			return err
		}

		for _, se := range sp.Endpoints {
			endpoint := objects.Endpoint{
				ID:         se.ID,
				ProviderID: sp.ID,
				Name:       se.Name,
				URL:        se.URL,
				Signature:  se.Signature,
				Active:     true,
				Priority:   se.Priority,
				Models:     se.Models,
				FormatPolicy: llm.FormatPolicy{
					Enabled:          se.ConversionEnabled,
					AcceptFormats:    se.AcceptFormats,
					RejectFormats:    se.RejectFormats,
					StreamConversion: se.StreamConversion,
				},
				HealthScore: 1.0,
				CreatedAt:   now,
			}
			if endpoint.Name == "" {
				endpoint.Name = endpoint.ID
			}

			for from, to := range se.Mappings {
				endpoint.ModelMappings = append(endpoint.ModelMappings, objects.ModelMapping{From: from, To: to})
			}

			slices.SortFunc(endpoint.ModelMappings, func(a, b objects.ModelMapping) int {
				return strings.Compare(a.From, b.From)
			})

			if err := svc.store.UpsertEndpoint(ctx, endpoint); err != nil {
				return err
			}
		}

		for _, sc := range sp.Credentials {
			credential := objects.Credential{
				ID:                 sc.ID,
				ProviderID:         sp.ID,
				Name:               sc.Name,
				Active:             true,
				Priority:           sc.Priority,
				AuthType:           objects.AuthType(sc.AuthType),
				RPMLimit:           sc.RPMLimit,
				Signatures:         sc.Signatures,
				AffinityTTLSeconds: sc.AffinityTTLSeconds,
				CreatedAt:          now,
			}
			if credential.Name == "" {
				credential.Name = credential.ID
			}

			if err := svc.store.UpsertCredential(ctx, credential); err != nil {
				return err
			}
		}
	}

	aliasNames := lo.Keys(svc.seed.ModelAliases)
	slices.Sort(aliasNames)

	for _, name := range aliasNames {
		alias := objects.ModelAlias{
			Name:          name,
			GlobalModelID: svc.seed.ModelAliases[name],
			CreatedAt:     now,
		}
		if err := svc.store.UpsertModelAlias(ctx, alias); err != nil {
			return err
		}
	}

	log.Info(ctx, "catalog seeded",
		log.Int("providers", len(svc.seed.Providers)),
		log.Int("model_aliases", len(svc.seed.ModelAliases)),
	)

	return nil
}
