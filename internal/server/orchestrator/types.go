package orchestrator

import (
	"github.com/switchyardai/switchyard/internal/objects"
)

// NoCandidateReason explains an empty resolution. It is data, not an error:
// an exhausted candidate set is a normal outcome the caller reports upward.
type NoCandidateReason string

const (
	// NoModelAvailable means no active provider serves the requested model.
	NoModelAvailable NoCandidateReason = "no_model_available"

	// NoCompatibleEndpoint means endpoints serve the model but none accepts
	// the client's wire format.
	NoCompatibleEndpoint NoCandidateReason = "no_compatible_endpoint"

	// NoHealthyCredential means compatible endpoints exist but every
	// credential was excluded, tripped, or rate-saturated.
	NoHealthyCredential NoCandidateReason = "no_healthy_credential"
)

// ResolveRequest is one routing question: which (provider, endpoint,
// credential) tuples may serve this call, best first.
type ResolveRequest struct {
	// Signature is the client's protocol surface in family:kind form.
	Signature string `json:"signature"`

	// Model is the requested model name; it is resolved through the
	// catalog's alias table before matching.
	Model string `json:"model"`

	// AffinityKey, when set, is looked up in the affinity store and a
	// surviving sticky candidate is promoted.
	AffinityKey string `json:"affinityKey,omitempty"`

	// Stream marks streaming calls. Converted streaming traffic is dropped
	// on endpoints whose policy forbids stream conversion.
	Stream bool `json:"stream,omitempty"`

	// MaxCandidates caps the result size. Zero falls back to the configured
	// default.
	MaxCandidates int `json:"maxCandidates,omitempty"`

	// ExcludedCredentialIDs removes credentials already tried this request.
	ExcludedCredentialIDs []string `json:"excludedCredentialIds,omitempty"`

	// RequiredTags keeps only providers carrying at least one of the tags.
	RequiredTags []string `json:"requiredTags,omitempty"`

	// PreferExactMatch keeps exact-format candidates ahead of convertible
	// ones, affinity promotion included.
	PreferExactMatch bool `json:"preferExactMatch,omitempty"`

	// ConstraintExpr is an optional boolean expression evaluated per
	// candidate, e.g. `auth_type == "apikey" && "paid" in tags`.
	ConstraintExpr string `json:"constraintExpr,omitempty"`
}

// Candidate is one dispatchable (provider, endpoint, credential) tuple.
type Candidate struct {
	Provider   objects.Provider   `json:"provider"`
	Endpoint   objects.Endpoint   `json:"endpoint"`
	Credential objects.Credential `json:"credential"`

	// UpstreamModel is the model name the endpoint expects for the resolved
	// global model ID.
	UpstreamModel string `json:"upstreamModel"`

	// Bucket is the format-match rank: 0 exact, 1 same kind other family,
	// 2 same family other kind, 3 neither. Lower ranks first.
	Bucket int `json:"bucket"`

	NeedsConversion bool `json:"needsConversion"`
}

// TraceStage records one selector stage of a resolve.
type TraceStage struct {
	Stage string `json:"stage"`
	In    int    `json:"in"`
	Out   int    `json:"out"`
	Note  string `json:"note,omitempty"`
}

// ResolveTrace is the per-stage record of a resolve. The dry-run admin
// endpoint returns it, and the empty-result reason is derived from it.
type ResolveTrace struct {
	Stages []TraceStage `json:"stages"`
}

func (t *ResolveTrace) add(stage string, in, out int) {
	t.Stages = append(t.Stages, TraceStage{Stage: stage, In: in, Out: out})
}

func (t *ResolveTrace) addNote(stage string, in, out int, note string) {
	t.Stages = append(t.Stages, TraceStage{Stage: stage, In: in, Out: out, Note: note})
}

// ResolveResult is an ordered candidate list, or a reason when it is empty.
type ResolveResult struct {
	GlobalModelID string            `json:"globalModelId"`
	Candidates    []Candidate       `json:"candidates"`
	Reason        NoCandidateReason `json:"reason,omitempty"`
	Trace         ResolveTrace      `json:"trace"`
}
