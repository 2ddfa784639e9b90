package biz

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/log"
	"github.com/switchyardai/switchyard/internal/pkg/xtime"
)

// rpmObservation is one per-minute 429 with the window usage at failure.
type rpmObservation struct {
	at    time.Time
	usage int
}

type adaptiveEntry struct {
	sync.Mutex

	observations []rpmObservation
}

type AdaptiveServiceParams struct {
	fx.In

	Config  Config
	Catalog *CatalogService
}

// AdaptiveService learns per-credential RPM limits from upstream per-minute
// 429 responses. It only ever tightens: a learned limit is installed when the
// credential has none, or when the proposal is lower than the stored one.
type AdaptiveService struct {
	config  AdaptiveConfig
	catalog *CatalogService

	mu      sync.RWMutex
	entries map[string]*adaptiveEntry

	now func() time.Time
}

func NewAdaptiveService(params AdaptiveServiceParams) *AdaptiveService {
	return &AdaptiveService{
		config:  params.Config.withDefaults().Adaptive,
		catalog: params.Catalog,
		entries: make(map[string]*adaptiveEntry),
		now:     xtime.UTCNow,
	}
}

// Observe records a per-minute 429 with the credential's window usage at the
// time of failure. Once enough recent observations accumulate it proposes
// `floor(SafetyFactor × min(usages))`, floored at MinLimit, and persists it
// through the catalog. Returns the new limit when one was installed.
func (svc *AdaptiveService) Observe(ctx context.Context, credentialID string, usage int) *int {
	if usage <= 0 {
		// No usable usage reading came with the rejection.
		return nil
	}

	now := svc.now()
	entry := svc.getEntry(credentialID)

	entry.Lock()

	entry.observations = append(entry.observations, rpmObservation{at: now, usage: usage})
	if len(entry.observations) > svc.config.HistorySize {
		entry.observations = entry.observations[len(entry.observations)-svc.config.HistorySize:]
	}

	cutoff := now.Add(-svc.config.ObservationWindow)
	recent := 0
	minUsage := usage

	for _, o := range entry.observations {
		if o.at.Before(cutoff) {
			continue
		}

		recent++

		if o.usage < minUsage {
			minUsage = o.usage
		}
	}

	entry.Unlock()

	if recent < svc.config.MinObservations {
		log.Debug(ctx, "adaptive rpm learning",
			log.String("credential_id", credentialID),
			log.Int("observations", recent),
			log.Int("required", svc.config.MinObservations),
		)

		return nil
	}

	proposal := int(math.Floor(svc.config.SafetyFactor * float64(minUsage)))
	if proposal < svc.config.MinLimit {
		proposal = svc.config.MinLimit
	}

	credential, ok := svc.catalog.Credential(credentialID)
	if !ok {
		return nil
	}

	if credential.RPMLimit != nil && proposal >= *credential.RPMLimit {
		return nil
	}

	if err := svc.catalog.SetCredentialRPMLimit(ctx, credentialID, &proposal); err != nil {
		log.Warn(ctx, "failed to persist learned rpm limit",
			log.String("credential_id", credentialID),
			log.Int("proposal", proposal),
			log.Cause(err),
		)

		return nil
	}

	log.Warn(ctx, "adaptive rpm limit adjusted",
		log.String("credential_id", credentialID),
		log.Int("new_limit", proposal),
		log.Int("min_observed_usage", minUsage),
		log.Int("observations", recent),
	)

	return &proposal
}

// ResetLearning drops the credential's observations.
func (svc *AdaptiveService) ResetLearning(credentialID string) {
	svc.mu.Lock()
	delete(svc.entries, credentialID)
	svc.mu.Unlock()
}

func (svc *AdaptiveService) getEntry(credentialID string) *adaptiveEntry {
	svc.mu.RLock()
	entry, ok := svc.entries[credentialID]
	svc.mu.RUnlock()

	if ok {
		return entry
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if entry, ok := svc.entries[credentialID]; ok {
		return entry
	}

	entry = &adaptiveEntry{}
	svc.entries[credentialID] = entry

	return entry
}
