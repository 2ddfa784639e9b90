package biz

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config carries the tuning knobs for the routing engine services.
type Config struct {
	Health   HealthConfig   `conf:"health" yaml:"health" json:"health"`
	Rate     RateConfig     `conf:"rate" yaml:"rate" json:"rate"`
	Affinity AffinityConfig `conf:"affinity" yaml:"affinity" json:"affinity"`
	Adaptive AdaptiveConfig `conf:"adaptive" yaml:"adaptive" json:"adaptive"`
	Catalog  CatalogConfig  `conf:"catalog" yaml:"catalog" json:"catalog"`
}

func (cfg Config) withDefaults() Config {
	cfg.Health = cfg.Health.withDefaults()
	cfg.Rate = cfg.Rate.withDefaults()
	cfg.Affinity = cfg.Affinity.withDefaults()
	cfg.Adaptive = cfg.Adaptive.withDefaults()
	cfg.Catalog = cfg.Catalog.withDefaults()

	return cfg
}

// Validate validates the engine configuration.
func (cfg Config) Validate() error {
	return multierr.Combine(
		cfg.Health.Validate(),
		cfg.Rate.Validate(),
		cfg.Adaptive.Validate(),
		cfg.Catalog.Validate(),
	)
}

// HealthConfig is the breaker policy applied to every (credential, signature)
// pair.
type HealthConfig struct {
	// [Window]
	// WindowSize caps how many outcomes the sliding window keeps (recommended: 20).
	WindowSize int `conf:"window_size" yaml:"window_size" json:"window_size"`

	// WindowSeconds caps how old a window entry may be (recommended: 300).
	WindowSeconds int `conf:"window_seconds" yaml:"window_seconds" json:"window_seconds"`

	// MinSamples is the minimum window population before the error rate can
	// open the breaker (recommended: 5).
	MinSamples int `conf:"min_samples" yaml:"min_samples" json:"min_samples"`

	// ErrorRateThreshold opens the breaker once the window error rate
	// reaches it (recommended: 0.5).
	ErrorRateThreshold float64 `conf:"error_rate_threshold" yaml:"error_rate_threshold" json:"error_rate_threshold"`

	// [Half-open]
	// HalfOpenDuration is how long a probe session lasts (recommended: 2m).
	HalfOpenDuration time.Duration `conf:"half_open_duration" yaml:"half_open_duration" json:"half_open_duration"`

	// HalfOpenSuccessThreshold closes the breaker after this many probe
	// successes (recommended: 3).
	HalfOpenSuccessThreshold int `conf:"half_open_success_threshold" yaml:"half_open_success_threshold" json:"half_open_success_threshold"`

	// HalfOpenFailureThreshold reopens the breaker after this many probe
	// failures (recommended: 2).
	HalfOpenFailureThreshold int `conf:"half_open_failure_threshold" yaml:"half_open_failure_threshold" json:"half_open_failure_threshold"`

	// [Recovery]
	// InitialRecovery is the first open period (recommended: 1m).
	InitialRecovery time.Duration `conf:"initial_recovery" yaml:"initial_recovery" json:"initial_recovery"`

	// BackoffMultiplier grows the open period with repeated failures
	// (recommended: 2.0).
	BackoffMultiplier float64 `conf:"backoff_multiplier" yaml:"backoff_multiplier" json:"backoff_multiplier"`

	// MaxRecovery caps the open period (recommended: 30m).
	MaxRecovery time.Duration `conf:"max_recovery" yaml:"max_recovery" json:"max_recovery"`

	// [Score]
	// SuccessIncrement raises the health score per success (recommended: 0.05).
	SuccessIncrement float64 `conf:"success_increment" yaml:"success_increment" json:"success_increment"`

	// FailureDecrement lowers the health score per failure (recommended: 0.1).
	FailureDecrement float64 `conf:"failure_decrement" yaml:"failure_decrement" json:"failure_decrement"`

	// ProbeRecoveryScore is the minimum score restored when a breaker closes
	// out of half-open (recommended: 0.5).
	ProbeRecoveryScore float64 `conf:"probe_recovery_score" yaml:"probe_recovery_score" json:"probe_recovery_score"`

	// UnhealthyScore is the reporting threshold below which a key counts as
	// unhealthy in summaries (recommended: 0.5).
	UnhealthyScore float64 `conf:"unhealthy_score" yaml:"unhealthy_score" json:"unhealthy_score"`

	// AutoRecover lets open breakers lazily enter half-open once the probe
	// time passes. When disabled, open breakers stay open until a manual
	// reset. Defaults to true.
	AutoRecover *bool `conf:"auto_recover" yaml:"auto_recover" json:"auto_recover"`

	// [Persistence]
	// FlushInterval is how often dirty health state is written back to the
	// store.
	FlushInterval time.Duration `conf:"flush_interval" yaml:"flush_interval" json:"flush_interval"`

	// EventHistorySize bounds the in-memory circuit event ring.
	EventHistorySize int `conf:"event_history_size" yaml:"event_history_size" json:"event_history_size"`
}

func (cfg HealthConfig) withDefaults() HealthConfig {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}

	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 300
	}

	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}

	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 0.5
	}

	if cfg.HalfOpenDuration <= 0 {
		cfg.HalfOpenDuration = 2 * time.Minute
	}

	if cfg.HalfOpenSuccessThreshold <= 0 {
		cfg.HalfOpenSuccessThreshold = 3
	}

	if cfg.HalfOpenFailureThreshold <= 0 {
		cfg.HalfOpenFailureThreshold = 2
	}

	if cfg.InitialRecovery <= 0 {
		cfg.InitialRecovery = time.Minute
	}

	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2.0
	}

	if cfg.MaxRecovery <= 0 {
		cfg.MaxRecovery = 30 * time.Minute
	}

	if cfg.SuccessIncrement <= 0 {
		cfg.SuccessIncrement = 0.05
	}

	if cfg.FailureDecrement <= 0 {
		cfg.FailureDecrement = 0.1
	}

	if cfg.ProbeRecoveryScore <= 0 {
		cfg.ProbeRecoveryScore = 0.5
	}

	if cfg.UnhealthyScore <= 0 {
		cfg.UnhealthyScore = 0.5
	}

	if cfg.AutoRecover == nil {
		autoRecover := true
		cfg.AutoRecover = &autoRecover
	}

	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	if cfg.EventHistorySize <= 0 {
		cfg.EventHistorySize = 200
	}

	return cfg
}

// Validate validates the breaker policy.
func (cfg HealthConfig) Validate() error {
	cfg = cfg.withDefaults()

	if cfg.ErrorRateThreshold > 1 {
		return fmt.Errorf("health: error_rate_threshold must be within (0,1], got %f", cfg.ErrorRateThreshold)
	}

	if cfg.SuccessIncrement > 1 || cfg.FailureDecrement > 1 {
		return fmt.Errorf("health: score steps must be within (0,1], got increment %f decrement %f",
			cfg.SuccessIncrement, cfg.FailureDecrement)
	}

	if cfg.ProbeRecoveryScore > 1 {
		return fmt.Errorf("health: probe_recovery_score must be within (0,1], got %f", cfg.ProbeRecoveryScore)
	}

	if cfg.MaxRecovery < cfg.InitialRecovery {
		return fmt.Errorf("health: max_recovery (%s) must be at least initial_recovery (%s)",
			cfg.MaxRecovery, cfg.InitialRecovery)
	}

	return nil
}

// recovery returns the open period for the given consecutive failure count,
// growing by BackoffMultiplier per five failures and capped at MaxRecovery.
func (cfg HealthConfig) recovery(consecutiveFailures int) time.Duration {
	steps := consecutiveFailures / 5
	if steps > 4 {
		steps = 4
	}

	d := cfg.InitialRecovery
	for range steps {
		d = time.Duration(float64(d) * cfg.BackoffMultiplier)
	}

	if d > cfg.MaxRecovery {
		d = cfg.MaxRecovery
	}

	return d
}

// RateConfig tunes the per-credential minute-window admission.
type RateConfig struct {
	// CacheReservationRatio is the share of each credential's RPM budget
	// reserved for affinity holders (recommended: 0.3). Callers without
	// affinity are capped at floor(limit * (1 - ratio)).
	CacheReservationRatio float64 `conf:"cache_reservation_ratio" yaml:"cache_reservation_ratio" json:"cache_reservation_ratio"`

	// CounterTTL is the expiry on window counters; it must cover at least
	// two windows so a straggling read never sees a vanished key.
	CounterTTL time.Duration `conf:"counter_ttl" yaml:"counter_ttl" json:"counter_ttl"`

	// MemoryMaxEntries bounds the in-process fallback table used when Redis
	// is unavailable.
	MemoryMaxEntries int `conf:"memory_max_entries" yaml:"memory_max_entries" json:"memory_max_entries"`
}

func (cfg RateConfig) withDefaults() RateConfig {
	if cfg.CacheReservationRatio <= 0 {
		cfg.CacheReservationRatio = 0.3
	}

	if cfg.CounterTTL < 2*time.Minute {
		cfg.CounterTTL = 2 * time.Minute
	}

	if cfg.MemoryMaxEntries <= 0 {
		cfg.MemoryMaxEntries = 100_000
	}

	return cfg
}

// Validate validates the rate admission configuration.
func (cfg RateConfig) Validate() error {
	cfg = cfg.withDefaults()

	if cfg.CacheReservationRatio >= 1 {
		return fmt.Errorf("rate: cache_reservation_ratio must be within (0,1), got %f", cfg.CacheReservationRatio)
	}

	return nil
}

// AffinityConfig tunes the cache affinity store.
type AffinityConfig struct {
	// DefaultTTL applies to credentials without their own affinity TTL.
	DefaultTTL time.Duration `conf:"default_ttl" yaml:"default_ttl" json:"default_ttl"`
}

func (cfg AffinityConfig) withDefaults() AffinityConfig {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}

	return cfg
}

// AdaptiveConfig tunes the learned RPM limit manager.
type AdaptiveConfig struct {
	// MinLimit floors any learned limit (recommended: 5).
	MinLimit int `conf:"min_limit" yaml:"min_limit" json:"min_limit"`

	// ObservationWindow is how recent rate-limit observations must be to
	// count toward a proposal (recommended: 10m).
	ObservationWindow time.Duration `conf:"observation_window" yaml:"observation_window" json:"observation_window"`

	// MinObservations is how many recent observations are needed before a
	// limit is proposed (recommended: 3).
	MinObservations int `conf:"min_observations" yaml:"min_observations" json:"min_observations"`

	// SafetyFactor scales the lowest observed usage down (recommended: 0.9).
	SafetyFactor float64 `conf:"safety_factor" yaml:"safety_factor" json:"safety_factor"`

	// HistorySize bounds the per-credential observation ring.
	HistorySize int `conf:"history_size" yaml:"history_size" json:"history_size"`
}

func (cfg AdaptiveConfig) withDefaults() AdaptiveConfig {
	if cfg.MinLimit <= 0 {
		cfg.MinLimit = 5
	}

	if cfg.ObservationWindow <= 0 {
		cfg.ObservationWindow = 10 * time.Minute
	}

	if cfg.MinObservations <= 0 {
		cfg.MinObservations = 3
	}

	if cfg.SafetyFactor <= 0 {
		cfg.SafetyFactor = 0.9
	}

	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 20
	}

	return cfg
}

// Validate validates the adaptive limit configuration.
func (cfg AdaptiveConfig) Validate() error {
	cfg = cfg.withDefaults()

	if cfg.SafetyFactor > 1 {
		return fmt.Errorf("adaptive: safety_factor must be within (0,1], got %f", cfg.SafetyFactor)
	}

	return nil
}

// Priority modes for ranking ties inside a signature bucket.
const (
	PriorityModeProvider   = "provider"
	PriorityModeCredential = "credential"
)

// CatalogConfig tunes catalog behavior and optionally seeds it.
type CatalogConfig struct {
	// PriorityMode picks the configured priority used to break ranking ties
	// inside a bucket: "provider" or "credential".
	PriorityMode string `conf:"priority_mode" yaml:"priority_mode" json:"priority_mode"`

	// Seed declaratively provisions the catalog when the store is empty.
	Seed SeedConfig `conf:"seed" yaml:"seed" json:"seed"`
}

func (cfg CatalogConfig) withDefaults() CatalogConfig {
	if cfg.PriorityMode == "" {
		cfg.PriorityMode = PriorityModeProvider
	}

	return cfg
}

// Validate validates the catalog configuration.
func (cfg CatalogConfig) Validate() error {
	cfg = cfg.withDefaults()

	if cfg.PriorityMode != PriorityModeProvider && cfg.PriorityMode != PriorityModeCredential {
		return fmt.Errorf("catalog: priority_mode must be %q or %q, got %q",
			PriorityModeProvider, PriorityModeCredential, cfg.PriorityMode)
	}

	return nil
}

// SeedConfig is a declarative catalog loaded on first start.
type SeedConfig struct {
	Providers    []SeedProvider    `conf:"providers" yaml:"providers" json:"providers"`
	ModelAliases map[string]string `conf:"model_aliases" yaml:"model_aliases" json:"model_aliases"`
}

// SeedProvider declares one provider with its endpoints and credentials.
// Seeded entries start active.
type SeedProvider struct {
	ID                string           `conf:"id" yaml:"id" json:"id"`
	Name              string           `conf:"name" yaml:"name" json:"name"`
	Family            string           `conf:"family" yaml:"family" json:"family"`
	Priority          int              `conf:"priority" yaml:"priority" json:"priority"`
	Tags              []string         `conf:"tags" yaml:"tags" json:"tags"`
	ConversionEnabled bool             `conf:"conversion_enabled" yaml:"conversion_enabled" json:"conversion_enabled"`
	Endpoints         []SeedEndpoint   `conf:"endpoints" yaml:"endpoints" json:"endpoints"`
	Credentials       []SeedCredential `conf:"credentials" yaml:"credentials" json:"credentials"`
}

// SeedEndpoint declares one protocol surface of a seeded provider.
type SeedEndpoint struct {
	ID        string            `conf:"id" yaml:"id" json:"id"`
	Name      string            `conf:"name" yaml:"name" json:"name"`
	URL       string            `conf:"url" yaml:"url" json:"url"`
	Signature string            `conf:"signature" yaml:"signature" json:"signature"`
	Priority  int               `conf:"priority" yaml:"priority" json:"priority"`
	Models    []string          `conf:"models" yaml:"models" json:"models"`
	Mappings  map[string]string `conf:"mappings" yaml:"mappings" json:"mappings"`

	// Format policy knobs. ConversionEnabled opts the endpoint into format
	// conversion even when its provider has it off.
	ConversionEnabled bool     `conf:"conversion_enabled" yaml:"conversion_enabled" json:"conversion_enabled"`
	AcceptFormats     []string `conf:"accept_formats" yaml:"accept_formats" json:"accept_formats"`
	RejectFormats     []string `conf:"reject_formats" yaml:"reject_formats" json:"reject_formats"`
	StreamConversion  *bool    `conf:"stream_conversion" yaml:"stream_conversion" json:"stream_conversion"`
}

// SeedCredential declares one credential of a seeded provider.
type SeedCredential struct {
	ID                 string   `conf:"id" yaml:"id" json:"id"`
	Name               string   `conf:"name" yaml:"name" json:"name"`
	AuthType           string   `conf:"auth_type" yaml:"auth_type" json:"auth_type"`
	Priority           int      `conf:"priority" yaml:"priority" json:"priority"`
	RPMLimit           *int     `conf:"rpm_limit" yaml:"rpm_limit" json:"rpm_limit"`
	Signatures         []string `conf:"signatures" yaml:"signatures" json:"signatures"`
	AffinityTTLSeconds int      `conf:"affinity_ttl_seconds" yaml:"affinity_ttl_seconds" json:"affinity_ttl_seconds"`
}

// AuthConfig configures admin API authentication.
type AuthConfig struct {
	// SecretKey is the HS256 secret admin JWTs must be signed with. Empty
	// disables the admin surface.
	SecretKey string `conf:"secret_key" yaml:"secret_key" json:"secret_key"`
}
