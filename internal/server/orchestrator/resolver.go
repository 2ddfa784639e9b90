package orchestrator

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/samber/lo"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/llm"
	"github.com/switchyardai/switchyard/internal/log"
	"github.com/switchyardai/switchyard/internal/metrics"
	"github.com/switchyardai/switchyard/internal/objects"
	"github.com/switchyardai/switchyard/internal/server/biz"
)

type ResolverParams struct {
	fx.In

	Config   Config
	Catalog  *biz.CatalogService
	Health   *biz.HealthMonitor
	Rate     *biz.RateService
	Affinity *biz.AffinityService
	Registry llm.Registry `optional:"true"`
}

// Resolver answers routing questions against the live catalog, breaker, and
// rate state. Resolution never records outcomes, never counts admissions, and
// never writes affinity; the breaker check may lazily start a due probe
// session, which is part of the breaker's own admission semantics.
type Resolver struct {
	config   Config
	catalog  *biz.CatalogService
	health   *biz.HealthMonitor
	rate     *biz.RateService
	affinity *biz.AffinityService
	registry llm.Registry

	// tiebreak breaks ranking ties among equal-priority candidates. Tests
	// pin it to a seeded source for deterministic ordering.
	tiebreak func() float64
}

func NewResolver(params ResolverParams) *Resolver {
	registry := params.Registry
	if registry == nil {
		registry = llm.DefaultRegistry()
	}

	return &Resolver{
		config:   params.Config,
		catalog:  params.Catalog,
		health:   params.Health,
		rate:     params.Rate,
		affinity: params.Affinity,
		registry: registry,
		tiebreak: defaultTiebreak,
	}
}

// ResolveCandidates runs the selector chain and returns the ordered
// candidates for the request. An empty set is not an error; the result then
// carries the reason derived from whichever stage first emptied it.
func (r *Resolver) ResolveCandidates(ctx context.Context, req ResolveRequest) (ResolveResult, error) {
	client, err := llm.ParseSignature(req.Signature)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("invalid client signature: %w", err)
	}

	var program *vm.Program

	if req.ConstraintExpr != "" {
		program, err = expr.Compile(req.ConstraintExpr, expr.AsBool())
		if err != nil {
			return ResolveResult{}, fmt.Errorf("invalid constraint expression: %w", err)
		}
	}

	result := ResolveResult{GlobalModelID: r.catalog.ResolveModel(ctx, req.Model)}

	var (
		sticky   biz.AffinityEntry
		stickyOK bool
	)

	if req.AffinityKey != "" {
		sticky, stickyOK = r.affinity.Get(ctx, req.AffinityKey, client.String(), result.GlobalModelID)
	}

	providers := r.catalog.ActiveProviders()
	candidates := r.enumerate(providers, result.GlobalModelID)
	result.Trace.add("enumerate", len(providers), len(candidates))

	in := len(candidates)
	candidates = r.filterCompat(candidates, client, req.Stream)
	result.Trace.add("format", in, len(candidates))

	in = len(candidates)
	candidates = r.filterConstraints(ctx, candidates, req, program, result.GlobalModelID)
	result.Trace.add("constraints", in, len(candidates))

	in = len(candidates)
	candidates = lo.Filter(candidates, func(c Candidate, _ int) bool {
		return r.health.AllowRequest(ctx, c.Credential.ID, c.Endpoint.Signature)
	})
	result.Trace.add("health", in, len(candidates))

	in = len(candidates)
	candidates = lo.Filter(candidates, func(c Candidate, _ int) bool {
		affinity := stickyOK && sticky.EndpointID == c.Endpoint.ID && sticky.CredentialID == c.Credential.ID
		return r.rate.CheckAvailable(ctx, c.Credential.ID, c.Credential.RPMLimit, affinity)
	})
	result.Trace.add("rate", in, len(candidates))

	topK := req.MaxCandidates
	if topK <= 0 {
		topK = r.config.MaxCandidates
	}

	in = len(candidates)
	candidates = r.rank(candidates, topK)
	result.Trace.add("rank", in, len(candidates))

	if stickyOK {
		var promoted bool

		candidates, promoted = promoteAffinity(candidates, sticky, req.PreferExactMatch)
		if promoted {
			result.Trace.addNote("affinity", len(candidates), len(candidates), "promoted "+sticky.CredentialID)
		} else {
			result.Trace.add("affinity", len(candidates), len(candidates))
		}
	}

	if topK > 0 && len(candidates) > topK {
		in = len(candidates)
		candidates = candidates[:topK]
		result.Trace.add("truncate", in, len(candidates))
	}

	result.Candidates = candidates

	outcome := "ok"

	if len(candidates) == 0 {
		result.Reason = reasonFromTrace(result.Trace)
		outcome = string(result.Reason)
	}

	metrics.ResolveRecorded(ctx, outcome)

	if log.DebugEnabled(ctx) {
		log.Debug(ctx, "candidates resolved",
			log.String("signature", req.Signature),
			log.String("model", result.GlobalModelID),
			log.Int("candidates", len(candidates)),
			log.String("reason", string(result.Reason)),
		)
	}

	return result, nil
}

// enumerate walks active providers, their active endpoints serving the model,
// and each endpoint's usable credentials.
func (r *Resolver) enumerate(providers []objects.Provider, globalModelID string) []Candidate {
	var candidates []Candidate

	for _, provider := range providers {
		for _, endpoint := range r.catalog.ActiveEndpoints(provider.ID) {
			if !endpoint.ServesModel(globalModelID) {
				continue
			}

			for _, credential := range r.catalog.CredentialsForEndpoint(endpoint.ID) {
				candidates = append(candidates, Candidate{
					Provider:      provider,
					Endpoint:      endpoint,
					Credential:    credential,
					UpstreamModel: endpoint.UpstreamModel(globalModelID),
				})
			}
		}
	}

	return candidates
}

// filterCompat drops endpoints that cannot accept the client's wire format
// and stamps the surviving candidates with their bucket and conversion need.
func (r *Resolver) filterCompat(candidates []Candidate, client llm.Signature, stream bool) []Candidate {
	out := make([]Candidate, 0, len(candidates))

	for _, c := range candidates {
		endpointSig, err := c.Endpoint.ParsedSignature()
		if err != nil {
			continue
		}

		global := r.config.ConversionEnabled || c.Provider.ConversionEnabled

		compat := llm.CheckCompat(client, endpointSig, c.Endpoint.FormatPolicy, global, stream, r.registry)
		if !compat.Compatible {
			continue
		}

		c.NeedsConversion = compat.NeedsConversion
		c.Bucket = bucketFor(client, endpointSig)
		out = append(out, c)
	}

	return out
}

// filterConstraints applies the request's exclusions, provider tag filter,
// and optional constraint expression.
func (r *Resolver) filterConstraints(ctx context.Context, candidates []Candidate, req ResolveRequest, program *vm.Program, globalModelID string) []Candidate {
	excluded := make(map[string]struct{}, len(req.ExcludedCredentialIDs))
	for _, id := range req.ExcludedCredentialIDs {
		excluded[id] = struct{}{}
	}

	out := make([]Candidate, 0, len(candidates))

	for _, c := range candidates {
		if _, ok := excluded[c.Credential.ID]; ok {
			continue
		}

		if len(req.RequiredTags) > 0 && !lo.Some(c.Provider.Tags, req.RequiredTags) {
			continue
		}

		if program != nil && !r.evalConstraint(ctx, program, c, globalModelID) {
			continue
		}

		out = append(out, c)
	}

	return out
}

// evalConstraint evaluates the compiled expression against one candidate.
// Evaluation errors drop the candidate rather than failing the resolve.
func (r *Resolver) evalConstraint(ctx context.Context, program *vm.Program, c Candidate, globalModelID string) bool {
	env := map[string]any{
		"provider":         c.Provider.Name,
		"provider_id":      c.Provider.ID,
		"family":           c.Provider.Family,
		"tags":             c.Provider.Tags,
		"endpoint_id":      c.Endpoint.ID,
		"signature":        c.Endpoint.Signature,
		"credential_id":    c.Credential.ID,
		"auth_type":        string(c.Credential.AuthType),
		"priority":         c.Credential.Priority,
		"model":            globalModelID,
		"needs_conversion": c.NeedsConversion,
	}

	out, err := expr.Run(program, env)
	if err != nil {
		log.Debug(ctx, "constraint expression failed for candidate",
			log.String("credential_id", c.Credential.ID),
			log.Cause(err),
		)

		return false
	}

	ok, _ := out.(bool)

	return ok
}

// reasonFromTrace maps the first stage that emptied the set to a reason.
func reasonFromTrace(trace ResolveTrace) NoCandidateReason {
	for _, stage := range trace.Stages {
		if stage.Out > 0 {
			continue
		}

		switch stage.Stage {
		case "enumerate":
			return NoModelAvailable
		case "format":
			return NoCompatibleEndpoint
		default:
			return NoHealthyCredential
		}
	}

	return NoHealthyCredential
}
