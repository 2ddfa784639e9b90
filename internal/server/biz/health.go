package biz

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zhenzou/executors"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/switchyardai/switchyard/internal/log"
	"github.com/switchyardai/switchyard/internal/metrics"
	"github.com/switchyardai/switchyard/internal/objects"
	"github.com/switchyardai/switchyard/internal/pkg/ringbuffer"
	"github.com/switchyardai/switchyard/internal/pkg/xcache/live"
	"github.com/switchyardai/switchyard/internal/pkg/xtime"
)

// healthKey identifies one (credential, signature) health entry.
type healthKey struct {
	CredentialID string
	Signature    string
}

// healthEntry is the live health and breaker state of one key. All field
// access goes through the embedded mutex; the derived breaker state is never
// stored.
type healthEntry struct {
	sync.Mutex

	health  objects.HealthRecord
	circuit objects.CircuitState
}

// statsEntry holds one credential's global counters.
type statsEntry struct {
	sync.Mutex

	stats objects.CredentialStats
}

type HealthMonitorParams struct {
	fx.In

	Config   Config
	Catalog  *CatalogService
	Executor executors.ScheduledExecutor
}

// HealthMonitor tracks per-(credential, signature) health over a sliding
// outcome window and drives the three-state breaker. All reads are served
// from memory; durable write-back is batched through the flusher.
type HealthMonitor struct {
	config      HealthConfig
	autoRecover bool
	catalog     *CatalogService

	executor executors.ScheduledExecutor

	mu      sync.RWMutex
	entries map[healthKey]*healthEntry
	stats   map[string]*statsEntry

	events *ringbuffer.RingBuffer[objects.CircuitEvent]

	// summary serves the dashboard roll-up; concurrent polls collapse into
	// one recompute and the ticker keeps it warm between them. Set in Start.
	summary *live.Cache[FleetSummaryView]

	dirtyMu sync.Mutex
	dirty   map[string]struct{}

	done     chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

func NewHealthMonitor(params HealthMonitorParams) *HealthMonitor {
	cfg := params.Config.withDefaults().Health

	return &HealthMonitor{
		config:      cfg,
		autoRecover: *cfg.AutoRecover,
		catalog:     params.Catalog,
		executor:    params.Executor,
		entries:     make(map[healthKey]*healthEntry),
		stats:       make(map[string]*statsEntry),
		events:      ringbuffer.New[objects.CircuitEvent](cfg.EventHistorySize),
		dirty:       make(map[string]struct{}),
		done:        make(chan struct{}),
		now:         xtime.UTCNow,
	}
}

// Start launches the background write-back loop and the summary cache.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.summary = live.NewCache(live.Options[FleetSummaryView]{
		Name:            "fleet-summary",
		RefreshInterval: 15 * time.Second,
		RefreshFunc: func(ctx context.Context, _ FleetSummaryView, _ time.Time) (FleetSummaryView, time.Time, bool, error) {
			return m.FleetSummary(ctx), m.now(), true, nil
		},
	})

	go m.flushLoop()

	return nil
}

// Stop ends the write-back loop and flushes whatever is still dirty.
func (m *HealthMonitor) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		close(m.done)

		if m.summary != nil {
			m.summary.Stop()
		}
	})

	m.flushDirty(ctx)

	return nil
}

// AllowRequest reports whether the breaker for (credential, signature)
// admits a request right now. The Open to HalfOpen promotion is lazy and
// happens on this read once the probe time has passed.
func (m *HealthMonitor) AllowRequest(ctx context.Context, credentialID, signature string) bool {
	entry := m.getEntry(credentialID, signature)

	entry.Lock()
	defer entry.Unlock()

	now := m.now()

	if !entry.circuit.Open {
		return true
	}

	if entry.circuit.HalfOpenUntil != nil && now.Before(*entry.circuit.HalfOpenUntil) {
		return true
	}

	if entry.circuit.NextProbeAt != nil && !now.Before(*entry.circuit.NextProbeAt) {
		if !m.autoRecover {
			return false
		}

		m.enterHalfOpenLocked(ctx, credentialID, signature, entry, now)

		return true
	}

	return false
}

// RecordSuccess records a successful dispatch for (credential, signature).
func (m *HealthMonitor) RecordSuccess(ctx context.Context, credentialID, signature string, latency time.Duration) {
	entry := m.getEntry(credentialID, signature)

	entry.Lock()

	now := m.now()

	m.appendOutcome(&entry.health, now, true)

	entry.health.Score = min(entry.health.Score+m.config.SuccessIncrement, 1.0)
	entry.health.ConsecutiveFailures = 0
	entry.health.LastFailureAt = nil

	switch entry.circuit.StateAt(now) {
	case objects.CircuitHalfOpen:
		entry.circuit.HalfOpenSuccesses++

		if entry.circuit.HalfOpenSuccesses >= m.config.HalfOpenSuccessThreshold {
			m.closeLocked(ctx, credentialID, signature, entry, "half-open verification succeeded")
		}

	case objects.CircuitOpen:
		// A success slipped through while open; treat it as the probe
		// signal and start a half-open session.
		m.enterHalfOpenLocked(ctx, credentialID, signature, entry, now)

	case objects.CircuitClosed:
	}

	entry.Unlock()

	stats := m.getStats(credentialID)

	stats.Lock()
	stats.stats.RequestCount++
	stats.stats.SuccessCount++
	stats.stats.TotalLatencyMS += latency.Milliseconds()
	stats.Unlock()

	m.markDirty(credentialID)
}

// RecordFailure records a failed dispatch for (credential, signature).
// errorKind is the classified failure kind, kept for logs and events.
func (m *HealthMonitor) RecordFailure(ctx context.Context, credentialID, signature string, errorKind string) {
	entry := m.getEntry(credentialID, signature)

	entry.Lock()

	now := m.now()

	m.appendOutcome(&entry.health, now, false)

	entry.health.Score = max(entry.health.Score-m.config.FailureDecrement, 0.0)
	entry.health.ConsecutiveFailures++
	entry.health.LastFailureAt = &now

	switch entry.circuit.StateAt(now) {
	case objects.CircuitHalfOpen:
		entry.circuit.HalfOpenFailures++

		if entry.circuit.HalfOpenFailures >= m.config.HalfOpenFailureThreshold {
			// Half-open is a sub-state of open, so the open gauge is
			// already counting this breaker.
			recovery := m.config.recovery(entry.health.ConsecutiveFailures)
			m.openLocked(ctx, credentialID, signature, entry, now, "half-open verification failed", recovery)
		}

	case objects.CircuitClosed:
		_, rate := m.windowStats(entry.health.Window, now)

		if len(entry.health.Window) >= m.config.MinSamples && rate >= m.config.ErrorRateThreshold {
			recovery := m.config.recovery(entry.health.ConsecutiveFailures)
			reason := fmt.Sprintf("error rate %.0f%% over threshold %.0f%%",
				rate*100, m.config.ErrorRateThreshold*100)

			metrics.OpenCircuitsAdd(ctx, 1)
			m.openLocked(ctx, credentialID, signature, entry, now, reason, recovery)
		}

	case objects.CircuitOpen:
		// Probe not due yet. Window, score, and counters were updated
		// above; the breaker state does not change.
	}

	score := entry.health.Score
	failures := entry.health.ConsecutiveFailures

	entry.Unlock()

	stats := m.getStats(credentialID)

	stats.Lock()
	stats.stats.RequestCount++
	stats.stats.ErrorCount++
	stats.stats.LastErrorAt = &now
	stats.Unlock()

	m.markDirty(credentialID)

	log.Debug(ctx, "credential health degraded",
		log.String("credential_id", credentialID),
		log.String("signature", signature),
		log.Float64("score", score),
		log.Int("consecutive_failures", failures),
		log.String("error_kind", errorKind),
	)
}

// ResetHealth restores one signature (or, with an empty signature, every
// signature) of a credential to closed and healthy, and persists the reset.
func (m *HealthMonitor) ResetHealth(ctx context.Context, credentialID, signature string) error {
	if _, ok := m.catalog.Credential(credentialID); !ok {
		return fmt.Errorf("%w: %s", ErrCredentialNotFound, credentialID)
	}

	if signature != "" {
		m.resetEntry(ctx, credentialID, signature)

		if err := m.flushCredential(ctx, credentialID); err != nil {
			return err
		}
	} else {
		for _, key := range m.keysFor(credentialID) {
			m.resetEntry(ctx, key.CredentialID, key.Signature)
		}

		if err := m.catalog.UpdateCredentialState(ctx, credentialID, nil, nil); err != nil {
			return err
		}
	}

	log.Info(ctx, "health state manually reset",
		log.String("credential_id", credentialID),
		log.String("signature", signature),
	)

	return nil
}

// ManualEnable reactivates a credential and wipes its health and breaker
// state, in memory and in the store.
func (m *HealthMonitor) ManualEnable(ctx context.Context, credentialID string) error {
	for _, key := range m.keysFor(credentialID) {
		m.resetEntry(ctx, key.CredentialID, key.Signature)
	}

	if err := m.catalog.EnableCredential(ctx, credentialID); err != nil {
		return err
	}

	log.Info(ctx, "credential manually enabled", log.String("credential_id", credentialID))

	return nil
}

// CircuitHistory returns the most recent breaker transitions, oldest first.
func (m *HealthMonitor) CircuitHistory(limit int) []objects.CircuitEvent {
	if limit <= 0 {
		return nil
	}

	items := m.events.GetAll()
	if len(items) > limit {
		items = items[len(items)-limit:]
	}

	events := make([]objects.CircuitEvent, 0, len(items))
	for _, item := range items {
		events = append(events, item.Value)
	}

	return events
}

func (m *HealthMonitor) getEntry(credentialID, signature string) *healthEntry {
	key := healthKey{CredentialID: credentialID, Signature: signature}

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if ok {
		return entry
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double check after acquiring the write lock.
	if entry, ok := m.entries[key]; ok {
		return entry
	}

	entry = &healthEntry{
		health: objects.HealthRecord{Score: 1.0},
	}

	// Seed from the persisted per-signature maps; missing keys read as
	// closed and healthy.
	if credential, found := m.catalog.Credential(credentialID); found {
		if record, has := credential.HealthBySignature[signature]; has {
			record.Window = slices.Clone(record.Window)
			entry.health = record
		}

		if state, has := credential.CircuitBySignature[signature]; has {
			entry.circuit = state
		}
	}

	m.entries[key] = entry

	return entry
}

func (m *HealthMonitor) getStats(credentialID string) *statsEntry {
	m.mu.RLock()
	entry, ok := m.stats[credentialID]
	m.mu.RUnlock()

	if ok {
		return entry
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.stats[credentialID]; ok {
		return entry
	}

	entry = &statsEntry{}
	if credential, found := m.catalog.Credential(credentialID); found {
		entry.stats = credential.Stats
	}

	m.stats[credentialID] = entry

	return entry
}

func (m *HealthMonitor) keysFor(credentialID string) []healthKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]healthKey, 0, 4)

	for key := range m.entries {
		if key.CredentialID == credentialID {
			keys = append(keys, key)
		}
	}

	return keys
}

func (m *HealthMonitor) resetEntry(ctx context.Context, credentialID, signature string) {
	entry := m.getEntry(credentialID, signature)

	entry.Lock()
	defer entry.Unlock()

	if entry.circuit.Open {
		metrics.OpenCircuitsAdd(ctx, -1)
	}

	entry.health = objects.HealthRecord{Score: 1.0}
	entry.circuit = objects.CircuitState{}
}

// appendOutcome appends one result, drops entries older than WindowSeconds,
// and trims to the newest WindowSize entries.
func (m *HealthMonitor) appendOutcome(h *objects.HealthRecord, now time.Time, ok bool) {
	h.Window = append(h.Window, objects.HealthOutcome{At: now, OK: ok})

	cutoff := now.Add(-time.Duration(m.config.WindowSeconds) * time.Second)
	valid := h.Window[:0]

	for _, r := range h.Window {
		if r.At.After(cutoff) {
			valid = append(valid, r)
		}
	}

	h.Window = valid

	if len(h.Window) > m.config.WindowSize {
		h.Window = h.Window[len(h.Window)-m.config.WindowSize:]
	}
}

func (m *HealthMonitor) enterHalfOpenLocked(ctx context.Context, credentialID, signature string, entry *healthEntry, now time.Time) {
	until := now.Add(m.config.HalfOpenDuration)
	entry.circuit.HalfOpenUntil = &until
	entry.circuit.HalfOpenSuccesses = 0
	entry.circuit.HalfOpenFailures = 0

	m.pushEvent(ctx, objects.CircuitEvent{
		Event:        objects.CircuitEventHalfOpen,
		CredentialID: credentialID,
		Signature:    signature,
		At:           now,
	})

	log.Info(ctx, "circuit entered half-open state",
		log.String("credential_id", credentialID),
		log.String("signature", signature),
		log.Int("success_threshold", m.config.HalfOpenSuccessThreshold),
	)

	m.markDirty(credentialID)
}

func (m *HealthMonitor) openLocked(ctx context.Context, credentialID, signature string, entry *healthEntry, now time.Time, reason string, recovery time.Duration) {
	probeAt := now.Add(recovery)

	entry.circuit.Open = true
	entry.circuit.OpenedAt = &now
	entry.circuit.NextProbeAt = &probeAt
	entry.circuit.HalfOpenUntil = nil
	entry.circuit.HalfOpenSuccesses = 0
	entry.circuit.HalfOpenFailures = 0

	m.pushEvent(ctx, objects.CircuitEvent{
		Event:           objects.CircuitEventOpened,
		CredentialID:    credentialID,
		Signature:       signature,
		Reason:          reason,
		RecoverySeconds: recovery.Seconds(),
		At:              now,
	})

	log.Warn(ctx, "circuit opened",
		log.String("credential_id", credentialID),
		log.String("signature", signature),
		log.String("reason", reason),
		log.Duration("recovery", recovery),
	)

	m.markDirty(credentialID)
}

func (m *HealthMonitor) closeLocked(ctx context.Context, credentialID, signature string, entry *healthEntry, reason string) {
	entry.circuit = objects.CircuitState{}

	// Restore enough score that the recovered key is picked up again
	// without a full climb.
	entry.health.Score = max(entry.health.Score, m.config.ProbeRecoveryScore)

	metrics.OpenCircuitsAdd(ctx, -1)

	m.pushEvent(ctx, objects.CircuitEvent{
		Event:        objects.CircuitEventClosed,
		CredentialID: credentialID,
		Signature:    signature,
		Reason:       reason,
		At:           m.now(),
	})

	log.Info(ctx, "circuit closed",
		log.String("credential_id", credentialID),
		log.String("signature", signature),
		log.String("reason", reason),
	)

	m.markDirty(credentialID)
}

func (m *HealthMonitor) pushEvent(ctx context.Context, event objects.CircuitEvent) {
	m.events.Push(event.At.Unix(), event)
	metrics.CircuitTransition(ctx, event.Event)
}

func (m *HealthMonitor) markDirty(credentialID string) {
	m.dirtyMu.Lock()
	m.dirty[credentialID] = struct{}{}
	m.dirtyMu.Unlock()
}

func (m *HealthMonitor) flushLoop() {
	ticker := time.NewTicker(m.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			err := m.executor.ExecuteFunc(m.flushDirty)
			if err != nil {
				log.Warn(context.Background(), "failed to submit health flush", log.Cause(err))
			}
		}
	}
}

// flushDirty writes every dirty credential's health, circuit, and stats
// state back to the store.
func (m *HealthMonitor) flushDirty(ctx context.Context) {
	m.dirtyMu.Lock()
	dirty := m.dirty
	m.dirty = make(map[string]struct{})
	m.dirtyMu.Unlock()

	if len(dirty) == 0 {
		return
	}

	var errs error

	for credentialID := range dirty {
		if err := m.flushCredential(ctx, credentialID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil {
		log.Warn(ctx, "failed to flush health state", log.Cause(errs))
	}
}

func (m *HealthMonitor) flushCredential(ctx context.Context, credentialID string) error {
	health := map[string]objects.HealthRecord{}
	circuit := map[string]objects.CircuitState{}

	for _, key := range m.keysFor(credentialID) {
		entry := m.getEntry(key.CredentialID, key.Signature)

		entry.Lock()
		record := entry.health
		record.Window = slices.Clone(entry.health.Window)
		health[key.Signature] = record
		circuit[key.Signature] = entry.circuit
		entry.Unlock()
	}

	if err := m.catalog.UpdateCredentialState(ctx, credentialID, health, circuit); err != nil {
		return fmt.Errorf("failed to persist health state for %s: %w", credentialID, err)
	}

	stats := m.getStats(credentialID)

	stats.Lock()
	snapshot := stats.stats
	stats.Unlock()

	if err := m.catalog.RecordCredentialStats(ctx, credentialID, snapshot); err != nil {
		return fmt.Errorf("failed to persist stats for %s: %w", credentialID, err)
	}

	m.updateEndpointScores(ctx, credentialID, health)

	return nil
}

// updateEndpointScores refreshes the aggregate health score of every
// endpoint whose signature this flush touched. The endpoint score is the
// mean live score of the provider's eligible credentials.
func (m *HealthMonitor) updateEndpointScores(ctx context.Context, credentialID string, health map[string]objects.HealthRecord) {
	credential, ok := m.catalog.Credential(credentialID)
	if !ok {
		return
	}

	for _, endpoint := range m.catalog.ActiveEndpoints(credential.ProviderID) {
		if _, touched := health[endpoint.Signature]; !touched {
			continue
		}

		siblings := m.catalog.CredentialsForEndpoint(endpoint.ID)
		if len(siblings) == 0 {
			continue
		}

		var total float64
		for _, c := range siblings {
			total += m.scoreFor(c.ID, endpoint.Signature)
		}

		score := total / float64(len(siblings))

		if err := m.catalog.UpdateEndpointHealthScore(ctx, endpoint.ID, score); err != nil {
			log.Warn(ctx, "failed to update endpoint health score",
				log.String("endpoint_id", endpoint.ID),
				log.Cause(err),
			)
		}
	}
}

// scoreFor reads a live score without creating an entry, falling back to the
// persisted record.
func (m *HealthMonitor) scoreFor(credentialID, signature string) float64 {
	m.mu.RLock()
	entry, ok := m.entries[healthKey{CredentialID: credentialID, Signature: signature}]
	m.mu.RUnlock()

	if !ok {
		if credential, found := m.catalog.Credential(credentialID); found {
			if record, has := credential.HealthBySignature[signature]; has {
				return record.Score
			}
		}

		return 1.0
	}

	entry.Lock()
	defer entry.Unlock()

	return entry.health.Score
}
