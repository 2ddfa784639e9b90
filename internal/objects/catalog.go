package objects

import (
	"time"

	"github.com/switchyardai/switchyard/internal/llm"
)

// Provider is an upstream account or tenant. It owns endpoints and
// credentials; the engine reads providers, configuration management writes
// them.
type Provider struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Family   string   `json:"family"`
	Active   bool     `json:"active"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags,omitempty"`

	// ConversionEnabled is the provider-wide format conversion toggle.
	// Endpoints can opt in individually via their format policy even when
	// this is off.
	ConversionEnabled bool `json:"conversionEnabled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ModelMapping rewrites a global model ID to the upstream model name an
// endpoint expects.
type ModelMapping struct {
	// From is the global model ID.
	From string `json:"from"`

	// To is the model name in the provider.
	To string `json:"to"`
}

// Endpoint is one exposed protocol surface of a provider.
// At most one active endpoint exists per (provider, signature).
type Endpoint struct {
	ID         string `json:"id"`
	ProviderID string `json:"providerId"`
	Name       string `json:"name"`
	URL        string `json:"url"`

	// Signature is the protocol surface in family:kind form.
	Signature string `json:"signature"`

	Active   bool `json:"active"`
	Priority int  `json:"priority"`

	// Models lists the global model IDs this endpoint serves.
	Models []string `json:"models,omitempty"`

	// ModelMappings rewrite global model IDs to upstream names. Unmapped
	// models are sent upstream under their global ID.
	ModelMappings []ModelMapping `json:"modelMappings,omitempty"`

	FormatPolicy llm.FormatPolicy `json:"formatPolicy"`

	// HealthScore is the aggregate health across the provider's credentials
	// for this endpoint's signature. Maintained by the health flusher.
	HealthScore float64 `json:"healthScore"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ParsedSignature parses the endpoint's signature string.
func (e Endpoint) ParsedSignature() (llm.Signature, error) {
	return llm.ParseSignature(e.Signature)
}

// UpstreamModel returns the upstream model name for a global model ID.
func (e Endpoint) UpstreamModel(globalModelID string) string {
	for _, m := range e.ModelMappings {
		if m.From == globalModelID {
			return m.To
		}
	}

	return globalModelID
}

// ServesModel reports whether the endpoint serves a global model ID.
func (e Endpoint) ServesModel(globalModelID string) bool {
	for _, m := range e.Models {
		if m == globalModelID {
			return true
		}
	}

	return false
}

// AuthType is a credential's authentication mode.
type AuthType string

const (
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeOAuth  AuthType = "oauth"
)

// CredentialStats are the global per-credential counters maintained by the
// health monitor.
type CredentialStats struct {
	RequestCount   int64      `json:"requestCount"`
	SuccessCount   int64      `json:"successCount"`
	ErrorCount     int64      `json:"errorCount"`
	TotalLatencyMS int64      `json:"totalLatencyMs"`
	LastErrorAt    *time.Time `json:"lastErrorAt,omitempty"`
}

// Credential is an upstream API key or OAuth identity owned by one provider.
// The health and circuit maps are keyed by signature string and mutated only
// by the health monitor and administrative resets.
type Credential struct {
	ID         string   `json:"id"`
	ProviderID string   `json:"providerId"`
	Name       string   `json:"name"`
	Active     bool     `json:"active"`
	Priority   int      `json:"priority"`
	AuthType   AuthType `json:"authType"`

	// RPMLimit is the per-minute request limit. Nil means unbounded; the
	// adaptive manager may install a learned limit.
	RPMLimit *int `json:"rpmLimit,omitempty"`

	// Signatures restricts which protocol surfaces the credential may
	// serve. Empty means no restriction.
	Signatures []string `json:"signatures,omitempty"`

	// AffinityTTLSeconds overrides the affinity entry TTL for this
	// credential. Zero means the configured default.
	AffinityTTLSeconds int `json:"affinityTtlSeconds,omitempty"`

	OAuthInvalidAt     *time.Time `json:"oauthInvalidAt,omitempty"`
	OAuthInvalidReason string     `json:"oauthInvalidReason,omitempty"`

	Stats CredentialStats `json:"stats"`

	HealthBySignature  map[string]HealthRecord `json:"healthBySignature,omitempty"`
	CircuitBySignature map[string]CircuitState `json:"circuitBySignature,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SupportsSignature reports whether the credential may serve a signature.
func (c Credential) SupportsSignature(signature string) bool {
	if len(c.Signatures) == 0 {
		return true
	}

	for _, s := range c.Signatures {
		if s == signature {
			return true
		}
	}

	return false
}

// ModelAlias maps a public model name to a global model ID. The name may be
// an exact string or a regex pattern; patterns are matched case-sensitively
// and anchored.
type ModelAlias struct {
	Name          string    `json:"name"`
	GlobalModelID string    `json:"globalModelId"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
