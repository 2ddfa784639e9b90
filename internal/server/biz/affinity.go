package biz

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/log"
	"github.com/switchyardai/switchyard/internal/pkg/xcache"
)

// AffinityEntry pins one (endpoint, credential) assignment for a caller.
type AffinityEntry struct {
	EndpointID   string `msgpack:"endpoint_id" json:"endpointId"`
	CredentialID string `msgpack:"credential_id" json:"credentialId"`
}

// maxAffinitySegment bounds each key segment; longer segments are replaced by
// their xxhash64 digest so arbitrary caller keys stay cache friendly.
const maxAffinitySegment = 128

type AffinityServiceParams struct {
	fx.In

	Config      Config
	CacheConfig xcache.Config
	Catalog     *CatalogService
}

// AffinityService remembers which (endpoint, credential) served a caller so
// the resolver can route repeat traffic back to the upstream holding its
// prompt cache. Entries expire on their own; invalidation is a hint.
type AffinityService struct {
	config  AffinityConfig
	catalog *CatalogService
	cache   xcache.Cache[AffinityEntry]
}

func NewAffinityService(params AffinityServiceParams) *AffinityService {
	return &AffinityService{
		config:  params.Config.withDefaults().Affinity,
		catalog: params.Catalog,
		cache:   xcache.NewFromConfig[AffinityEntry](params.CacheConfig),
	}
}

// Get returns the live assignment for (affinityKey, signature, model), if any.
func (svc *AffinityService) Get(ctx context.Context, affinityKey, signature, modelID string) (AffinityEntry, bool) {
	if affinityKey == "" {
		return AffinityEntry{}, false
	}

	entry, err := svc.cache.Get(ctx, affinityCacheKey(affinityKey, signature, modelID))
	if err != nil || entry.EndpointID == "" || entry.CredentialID == "" {
		return AffinityEntry{}, false
	}

	return entry, true
}

// Set stores or refreshes the assignment. The TTL comes from the credential
// when it declares one.
func (svc *AffinityService) Set(ctx context.Context, affinityKey, signature, modelID string, entry AffinityEntry) {
	if affinityKey == "" || entry.EndpointID == "" || entry.CredentialID == "" {
		return
	}

	key := affinityCacheKey(affinityKey, signature, modelID)

	err := svc.cache.Set(ctx, key, entry, xcache.WithExpiration(svc.ttlFor(entry.CredentialID)))
	if err != nil && log.DebugEnabled(ctx) {
		log.Debug(ctx, "failed to store affinity entry",
			log.String("key", key),
			log.Cause(err),
		)
	}
}

// Invalidate drops the assignment. Best effort; a stale entry costs at most
// one misrouted attempt.
func (svc *AffinityService) Invalidate(ctx context.Context, affinityKey, signature, modelID string) {
	if affinityKey == "" {
		return
	}

	key := affinityCacheKey(affinityKey, signature, modelID)

	if err := svc.cache.Delete(ctx, key); err != nil && log.DebugEnabled(ctx) {
		log.Debug(ctx, "failed to invalidate affinity entry",
			log.String("key", key),
			log.Cause(err),
		)
	}
}

func (svc *AffinityService) ttlFor(credentialID string) time.Duration {
	if credential, ok := svc.catalog.Credential(credentialID); ok && credential.AffinityTTLSeconds > 0 {
		return time.Duration(credential.AffinityTTLSeconds) * time.Second
	}

	return svc.config.DefaultTTL
}

func affinityCacheKey(affinityKey, signature, modelID string) string {
	return fmt.Sprintf("affinity:%s:%s:%s",
		compactSegment(affinityKey),
		compactSegment(signature),
		compactSegment(modelID),
	)
}

func compactSegment(segment string) string {
	if len(segment) <= maxAffinitySegment {
		return segment
	}

	return strconv.FormatUint(xxhash.Sum64String(segment), 16)
}
