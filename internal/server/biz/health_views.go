package biz

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/switchyardai/switchyard/internal/objects"
)

// CircuitView is the breaker state of one (credential, signature) pair as
// reported on the admin surface. State is derived at read time.
type CircuitView struct {
	State             objects.CircuitStateName `json:"state"`
	Open              bool                     `json:"open"`
	OpenedAt          *time.Time               `json:"openedAt,omitempty"`
	NextProbeAt       *time.Time               `json:"nextProbeAt,omitempty"`
	HalfOpenUntil     *time.Time               `json:"halfOpenUntil,omitempty"`
	HalfOpenSuccesses int                      `json:"halfOpenSuccesses"`
	HalfOpenFailures  int                      `json:"halfOpenFailures"`
}

// SignatureHealthView is one signature's health snapshot.
type SignatureHealthView struct {
	Score               float64     `json:"score"`
	ErrorRate           float64     `json:"errorRate"`
	WindowSize          int         `json:"windowSize"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	LastFailureAt       *time.Time  `json:"lastFailureAt,omitempty"`
	Circuit             CircuitView `json:"circuitBreaker"`
}

// CredentialStatsView is the credential's lifetime counters with derived
// rates.
type CredentialStatsView struct {
	RequestCount int64   `json:"requestCount"`
	SuccessCount int64   `json:"successCount"`
	ErrorCount   int64   `json:"errorCount"`
	SuccessRate  float64 `json:"successRate"`
	AvgLatencyMS float64 `json:"avgLatencyMs"`
}

// KeyHealthView is the full health report for one credential.
type KeyHealthView struct {
	CredentialID   string                         `json:"credentialId"`
	Active         bool                           `json:"active"`
	Statistics     CredentialStatsView            `json:"statistics"`
	BySignature    map[string]SignatureHealthView `json:"bySignature"`
	MinScore       float64                        `json:"minScore"`
	AnyCircuitOpen bool                           `json:"anyCircuitOpen"`
}

// EndpointFleetView aggregates endpoint counts.
type EndpointFleetView struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Unhealthy int `json:"unhealthy"`
}

// CredentialFleetView aggregates credential counts.
type CredentialFleetView struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Unhealthy   int `json:"unhealthy"`
	CircuitOpen int `json:"circuitOpen"`
}

// FleetSummaryView is the dashboard roll-up of the whole catalog.
type FleetSummaryView struct {
	Endpoints   EndpointFleetView   `json:"endpoints"`
	Credentials CredentialFleetView `json:"credentials"`
}

// KeyHealth reports one credential's health. With a signature the report
// covers that signature only; otherwise it covers every signature the
// credential has declared or been observed on.
func (m *HealthMonitor) KeyHealth(ctx context.Context, credentialID, signature string) (*KeyHealthView, error) {
	credential, ok := m.catalog.Credential(credentialID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCredentialNotFound, credentialID)
	}

	now := m.now()

	var signatures []string
	if signature != "" {
		signatures = []string{signature}
	} else {
		signatures = m.signaturesOf(credential)
	}

	view := &KeyHealthView{
		CredentialID: credentialID,
		Active:       credential.Active,
		Statistics:   m.statsView(credentialID),
		BySignature:  make(map[string]SignatureHealthView, len(signatures)),
		MinScore:     1.0,
	}

	for _, sig := range signatures {
		record, circuit := m.stateOf(credential, sig)
		view.BySignature[sig] = m.signatureView(record, circuit, now)

		view.MinScore = min(view.MinScore, record.Score)

		if circuit.Open {
			view.AnyCircuitOpen = true
		}
	}

	return view, nil
}

// FleetSummary rolls up endpoint and credential health across the catalog.
func (m *HealthMonitor) FleetSummary(ctx context.Context) FleetSummaryView {
	var summary FleetSummaryView

	for _, endpoint := range m.catalog.Endpoints() {
		summary.Endpoints.Total++

		if endpoint.Active {
			summary.Endpoints.Active++
		}

		if endpoint.HealthScore < m.config.UnhealthyScore {
			summary.Endpoints.Unhealthy++
		}
	}

	for _, credential := range m.catalog.Credentials() {
		summary.Credentials.Total++

		if credential.Active {
			summary.Credentials.Active++
		}

		var unhealthy, open bool

		for _, sig := range m.signaturesOf(credential) {
			record, circuit := m.stateOf(credential, sig)

			if record.Score < m.config.UnhealthyScore {
				unhealthy = true
			}

			if circuit.Open {
				open = true
			}
		}

		if unhealthy {
			summary.Credentials.Unhealthy++
		}

		if open {
			summary.Credentials.CircuitOpen++
		}
	}

	return summary
}

// FleetSummaryCached serves the roll-up through the live cache so concurrent
// dashboard polls collapse into one recompute. Falls back to a direct
// computation when the monitor was never started.
func (m *HealthMonitor) FleetSummaryCached(ctx context.Context) FleetSummaryView {
	if m.summary == nil {
		return m.FleetSummary(ctx)
	}

	if err := m.summary.Load(ctx, false); err != nil {
		return m.FleetSummary(ctx)
	}

	return m.summary.GetData()
}

// signaturesOf returns the signatures worth reporting for a credential: the
// declared ones plus any the monitor has live or persisted state for.
func (m *HealthMonitor) signaturesOf(credential objects.Credential) []string {
	seen := make(map[string]struct{}, len(credential.Signatures))

	for _, sig := range credential.Signatures {
		seen[sig] = struct{}{}
	}

	for sig := range credential.HealthBySignature {
		seen[sig] = struct{}{}
	}

	for sig := range credential.CircuitBySignature {
		seen[sig] = struct{}{}
	}

	for _, key := range m.keysFor(credential.ID) {
		seen[key.Signature] = struct{}{}
	}

	signatures := make([]string, 0, len(seen))
	for sig := range seen {
		signatures = append(signatures, sig)
	}

	slices.Sort(signatures)

	return signatures
}

// stateOf reads the live state of (credential, signature) if the monitor has
// one, falling back to the persisted maps. It never creates an entry.
func (m *HealthMonitor) stateOf(credential objects.Credential, signature string) (objects.HealthRecord, objects.CircuitState) {
	m.mu.RLock()
	entry, ok := m.entries[healthKey{CredentialID: credential.ID, Signature: signature}]
	m.mu.RUnlock()

	if ok {
		entry.Lock()
		record := entry.health
		record.Window = slices.Clone(entry.health.Window)
		circuit := entry.circuit
		entry.Unlock()

		return record, circuit
	}

	record := objects.HealthRecord{Score: 1.0}
	if persisted, has := credential.HealthBySignature[signature]; has {
		record = persisted
	}

	circuit := credential.CircuitBySignature[signature]

	return record, circuit
}

func (m *HealthMonitor) signatureView(record objects.HealthRecord, circuit objects.CircuitState, now time.Time) SignatureHealthView {
	size, rate := m.windowStats(record.Window, now)

	return SignatureHealthView{
		Score:               record.Score,
		ErrorRate:           rate,
		WindowSize:          size,
		ConsecutiveFailures: record.ConsecutiveFailures,
		LastFailureAt:       record.LastFailureAt,
		Circuit: CircuitView{
			State:             circuit.StateAt(now),
			Open:              circuit.Open,
			OpenedAt:          circuit.OpenedAt,
			NextProbeAt:       circuit.NextProbeAt,
			HalfOpenUntil:     circuit.HalfOpenUntil,
			HalfOpenSuccesses: circuit.HalfOpenSuccesses,
			HalfOpenFailures:  circuit.HalfOpenFailures,
		},
	}
}

func (m *HealthMonitor) windowStats(window []objects.HealthOutcome, now time.Time) (int, float64) {
	cutoff := now.Add(-time.Duration(m.config.WindowSeconds) * time.Second)

	var valid, failures int

	for _, r := range window {
		if !r.At.After(cutoff) {
			continue
		}

		valid++

		if !r.OK {
			failures++
		}
	}

	if valid == 0 {
		return 0, 0
	}

	return valid, float64(failures) / float64(valid)
}

func (m *HealthMonitor) statsView(credentialID string) CredentialStatsView {
	entry := m.getStats(credentialID)

	entry.Lock()
	stats := entry.stats
	entry.Unlock()

	view := CredentialStatsView{
		RequestCount: stats.RequestCount,
		SuccessCount: stats.SuccessCount,
		ErrorCount:   stats.ErrorCount,
	}

	if stats.RequestCount > 0 {
		view.SuccessRate = float64(stats.SuccessCount) / float64(stats.RequestCount)
	}

	if stats.SuccessCount > 0 {
		avg := float64(stats.TotalLatencyMS) / float64(stats.SuccessCount)
		view.AvgLatencyMS = math.Round(avg*100) / 100
	}

	return view
}
