package orchestrator

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/log"
	"github.com/switchyardai/switchyard/internal/objects"
	"github.com/switchyardai/switchyard/internal/pkg/xcontext"
	"github.com/switchyardai/switchyard/internal/pkg/xjson"
	"github.com/switchyardai/switchyard/internal/server/biz"
)

// sideEffectTimeout bounds the detached side-effect context. Outcomes must
// still land when the caller's context is already cancelled.
const sideEffectTimeout = 5 * time.Second

type ErrorHandlerParams struct {
	fx.In

	Catalog  *biz.CatalogService
	Health   *biz.HealthMonitor
	Rate     *biz.RateService
	Affinity *biz.AffinityService
	Adaptive *biz.AdaptiveService
}

// ErrorHandler applies the side effects of dispatch outcomes: affinity
// writes and invalidation, health records, adaptive limit feedback, and
// OAuth account blocking. Classification itself stays in Classify.
type ErrorHandler struct {
	catalog  *biz.CatalogService
	health   *biz.HealthMonitor
	rate     *biz.RateService
	affinity *biz.AffinityService
	adaptive *biz.AdaptiveService
}

func NewErrorHandler(params ErrorHandlerParams) *ErrorHandler {
	return &ErrorHandler{
		catalog:  params.Catalog,
		health:   params.Health,
		rate:     params.Rate,
		affinity: params.Affinity,
		adaptive: params.Adaptive,
	}
}

// HandleContext identifies the dispatch attempt an outcome belongs to.
// Affinity entries are keyed by the client's signature, health records by
// the endpoint's; the two differ on every converted dispatch.
type HandleContext struct {
	Candidate       Candidate
	ClientSignature string
	AffinityKey     string
	GlobalModelID   string
}

// RecordSuccess records a completed dispatch: a health success for the
// serving (credential, signature) pair and an affinity refresh so the
// caller keeps landing on the same upstream cache.
func (h *ErrorHandler) RecordSuccess(ctx context.Context, hctx HandleContext, latency time.Duration) {
	h.health.RecordSuccess(ctx, hctx.Candidate.Credential.ID, hctx.Candidate.Endpoint.Signature, latency)

	if hctx.AffinityKey == "" {
		return
	}

	h.affinity.Set(ctx, hctx.AffinityKey, hctx.ClientSignature, hctx.GlobalModelID, biz.AffinityEntry{
		EndpointID:   hctx.Candidate.Endpoint.ID,
		CredentialID: hctx.Candidate.Credential.ID,
	})
}

// ClassifyAndHandle classifies a dispatch failure and applies its side
// effects, then returns the classification so the caller can decide whether
// to retry the next candidate. Side effects run on a detached context.
func (h *ErrorHandler) ClassifyAndHandle(ctx context.Context, err error, hctx HandleContext) Classification {
	classification := Classify(err)

	dctx, cancel := xcontext.DetachWithTimeout(ctx, sideEffectTimeout)
	defer cancel()

	credential := hctx.Candidate.Credential

	switch classification.Class {
	case ClassClientError:
		// The caller's fault. The upstream pair keeps its health.
		log.Debug(dctx, "client error passed through",
			log.String("credential_id", credential.ID),
			log.Int("status", classification.StatusCode),
		)

	case ClassAuthError:
		h.invalidateAffinity(dctx, hctx)
		h.recordFailure(dctx, hctx, classification.Class)

		if classification.StatusCode == http.StatusForbidden &&
			credential.AuthType == objects.AuthTypeOAuth &&
			accountValidationRequired(classification.Body) {
			h.blockOAuthCredential(dctx, credential.ID)
		}

	case ClassRateLimitError:
		h.handleRateLimit(dctx, classification, hctx)
		h.invalidateAffinity(dctx, hctx)
		h.recordFailure(dctx, hctx, classification.Class)

	case ClassRetriableError:
		h.invalidateAffinity(dctx, hctx)
		h.recordFailure(dctx, hctx, classification.Class)

	case ClassFatalError:
		// A local failure. Never attributed to the upstream pair.
		log.Error(dctx, "fatal dispatch error",
			log.String("credential_id", credential.ID),
			log.String("endpoint_id", hctx.Candidate.Endpoint.ID),
			log.Cause(err),
		)
	}

	return classification
}

func (h *ErrorHandler) recordFailure(ctx context.Context, hctx HandleContext, class ErrorClass) {
	h.health.RecordFailure(ctx, hctx.Candidate.Credential.ID, hctx.Candidate.Endpoint.Signature, string(class))
}

func (h *ErrorHandler) invalidateAffinity(ctx context.Context, hctx HandleContext) {
	if hctx.AffinityKey == "" {
		return
	}

	h.affinity.Invalidate(ctx, hctx.AffinityKey, hctx.ClientSignature, hctx.GlobalModelID)
}

// handleRateLimit runs the detector and feeds the adaptive limiter. Only
// per-minute exhaustion tightens the learned limit; a concurrency ceiling
// says nothing about the right RPM and must not shrink it.
func (h *ErrorHandler) handleRateLimit(ctx context.Context, classification Classification, hctx HandleContext) {
	credentialID := hctx.Candidate.Credential.ID
	usage := h.rate.Count(ctx, credentialID)
	info := DetectRateLimit(classification.Headers, hctx.Candidate.Provider.Family, usage)

	if info.Kind == RateLimitConcurrent {
		log.Warn(ctx, "concurrent rate limit hit, rpm limit unchanged",
			log.String("credential_id", credentialID),
			log.Int("retry_after_seconds", lo.FromPtr(info.RetryAfter)),
		)

		return
	}

	newLimit := h.adaptive.Observe(ctx, credentialID, usage)

	log.Warn(ctx, "per-minute rate limit hit",
		log.String("credential_id", credentialID),
		log.String("kind", string(info.Kind)),
		log.Int("usage", usage),
		log.Int("learned_limit", lo.FromPtr(newLimit)),
	)
}

func (h *ErrorHandler) blockOAuthCredential(ctx context.Context, credentialID string) {
	err := h.catalog.BlockOAuthCredential(ctx, credentialID, "upstream requires account validation")
	if err != nil {
		log.Warn(ctx, "failed to block oauth credential",
			log.String("credential_id", credentialID),
			log.Cause(err),
		)
	}
}

// accountValidationRequired probes a 403 body for the upstream's
// account-verification demand. Bodies arrive as JSON of varying shape and
// occasionally truncated, so the payload is repaired before the structured
// probe and the raw text serves as fallback.
func accountValidationRequired(body []byte) bool {
	if len(body) == 0 {
		return false
	}

	repaired := xjson.SafeJSONRawMessage(string(body))

	for _, reason := range gjson.GetBytes(repaired, "error.details.#.reason").Array() {
		if strings.EqualFold(reason.String(), "validation_required") {
			return true
		}
	}

	text := strings.ToLower(string(body))

	if strings.Contains(text, "validation_required") {
		return true
	}

	return strings.Contains(text, "verify your account") && strings.Contains(text, "permission_denied")
}
