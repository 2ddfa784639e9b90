package orchestrator

import "fmt"

// Config tunes the candidate resolver.
type Config struct {
	// ConversionEnabled is the engine-wide format conversion default.
	// Providers and endpoints can still opt in individually when it is off.
	ConversionEnabled bool `conf:"conversion_enabled" yaml:"conversion_enabled" json:"conversion_enabled"`

	// MaxCandidates caps how many candidates a resolve returns when the
	// request does not set its own cap. Zero means uncapped.
	MaxCandidates int `conf:"max_candidates" yaml:"max_candidates" json:"max_candidates"`
}

// Validate validates the resolver configuration.
func (cfg Config) Validate() error {
	if cfg.MaxCandidates < 0 {
		return fmt.Errorf("resolver: max_candidates must not be negative, got %d", cfg.MaxCandidates)
	}

	return nil
}
