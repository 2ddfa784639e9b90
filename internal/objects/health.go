package objects

import "time"

// HealthOutcome is one dispatch outcome in a credential's sliding window.
type HealthOutcome struct {
	At time.Time `json:"at"`
	OK bool      `json:"ok"`
}

// HealthRecord is the per-(credential, signature) health state. Created
// lazily on the first outcome; reset, never deleted.
type HealthRecord struct {
	// Score is the health score in [0,1]. New records start at 1.0.
	Score               float64         `json:"score"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	LastFailureAt       *time.Time      `json:"lastFailureAt,omitempty"`
	Window              []HealthOutcome `json:"window,omitempty"`
}

// CircuitStateName is the derived breaker state.
type CircuitStateName string

const (
	CircuitClosed   CircuitStateName = "closed"
	CircuitOpen     CircuitStateName = "open"
	CircuitHalfOpen CircuitStateName = "half_open"
)

// Circuit transition event names.
const (
	CircuitEventOpened   = "opened"
	CircuitEventClosed   = "closed"
	CircuitEventHalfOpen = "half_open"
)

// CircuitEvent is one breaker transition, kept in a bounded in-memory history
// for the admin surface.
type CircuitEvent struct {
	Event           string    `json:"event"`
	CredentialID    string    `json:"credentialId"`
	Signature       string    `json:"signature"`
	Reason          string    `json:"reason,omitempty"`
	RecoverySeconds float64   `json:"recoverySeconds,omitempty"`
	At              time.Time `json:"at"`
}

// CircuitState is the per-(credential, signature) breaker state. The
// closed/open/half-open state is derived from these fields, never stored.
type CircuitState struct {
	Open              bool       `json:"open"`
	OpenedAt          *time.Time `json:"openedAt,omitempty"`
	NextProbeAt       *time.Time `json:"nextProbeAt,omitempty"`
	HalfOpenUntil     *time.Time `json:"halfOpenUntil,omitempty"`
	HalfOpenSuccesses int        `json:"halfOpenSuccesses"`
	HalfOpenFailures  int        `json:"halfOpenFailures"`
}

// StateAt derives the breaker state at a point in time.
//
// An open breaker whose probe is due reads as half-open; the monitor performs
// the actual promotion on its next eligibility check.
func (c CircuitState) StateAt(now time.Time) CircuitStateName {
	if !c.Open {
		return CircuitClosed
	}

	if c.HalfOpenUntil != nil && now.Before(*c.HalfOpenUntil) {
		return CircuitHalfOpen
	}

	if c.NextProbeAt != nil && !now.Before(*c.NextProbeAt) {
		return CircuitHalfOpen
	}

	return CircuitOpen
}
