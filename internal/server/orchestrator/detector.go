package orchestrator

import (
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/switchyardai/switchyard/internal/pkg/xtime"
)

// RateLimitKind is the detector's reading of an upstream 429.
type RateLimitKind string

const (
	// RateLimitConcurrent means the upstream hit a concurrency ceiling.
	// The per-minute quota was not exhausted, so the adaptive limiter
	// must not tighten from it.
	RateLimitConcurrent RateLimitKind = "concurrent"

	// RateLimitPerMinute means the per-minute quota ran out.
	RateLimitPerMinute RateLimitKind = "per_minute"

	// RateLimitUnknown means the headers said nothing usable. Treated as
	// per-minute downstream: under-reacting to a real quota is the worse
	// failure mode.
	RateLimitUnknown RateLimitKind = "unknown"
)

// RateLimitInfo is everything the detector extracted from a 429 response.
type RateLimitInfo struct {
	Kind       RateLimitKind     `json:"kind"`
	RetryAfter *int              `json:"retryAfter,omitempty"`
	Limit      *int              `json:"limit,omitempty"`
	Remaining  *int              `json:"remaining,omitempty"`
	ResetAt    *time.Time        `json:"resetAt,omitempty"`
	Usage      int               `json:"usage"`
	Raw        map[string]string `json:"raw,omitempty"`
}

// DetectRateLimit reads a 429's headers and decides whether the upstream hit
// a concurrency ceiling or a per-minute quota. Each provider family spells
// its quota headers differently; the provider name picks the dialect.
func DetectRateLimit(headers http.Header, providerName string, usage int) RateLimitInfo {
	return detectRateLimitAt(headers, providerName, usage, xtime.UTCNow())
}

func detectRateLimitAt(headers http.Header, providerName string, usage int, now time.Time) RateLimitInfo {
	raw := lowercaseHeaders(headers)
	limitHeader, remainingHeader, resetHeader := quotaHeaderNames(providerName)

	info := RateLimitInfo{
		Kind:       RateLimitUnknown,
		RetryAfter: parseRetryAfter(raw["retry-after"], now),
		Limit:      parseIntHeader(raw[limitHeader]),
		Remaining:  parseIntHeader(raw[remainingHeader]),
		ResetAt:    parseResetHeader(raw[resetHeader]),
		Usage:      usage,
		Raw:        raw,
	}

	switch {
	case info.Remaining != nil && *info.Remaining == 0:
		info.Kind = RateLimitPerMinute
	case info.Remaining != nil && *info.Remaining > 0 && info.RetryAfter != nil && *info.RetryAfter <= 30:
		// Quota left but told to back off briefly: concurrency pressure.
		info.Kind = RateLimitConcurrent
	case info.Remaining == nil && info.RetryAfter != nil && *info.RetryAfter <= 5:
		info.Kind = RateLimitConcurrent
	case info.RetryAfter != nil || info.Limit != nil:
		info.Kind = RateLimitPerMinute
	}

	return info
}

// quotaHeaderNames returns the limit, remaining, and reset header names for
// the provider's dialect. Matching is substring-based so that names like
// "anthropic-oauth" or "openai-eu" land in the right family.
func quotaHeaderNames(providerName string) (string, string, string) {
	name := strings.ToLower(providerName)

	switch {
	case strings.Contains(name, "anthropic") || strings.Contains(name, "claude"):
		return "anthropic-ratelimit-requests-limit",
			"anthropic-ratelimit-requests-remaining",
			"anthropic-ratelimit-requests-reset"
	case strings.Contains(name, "openai"):
		return "x-ratelimit-limit-requests",
			"x-ratelimit-remaining-requests",
			"x-ratelimit-reset-requests"
	default:
		return "x-ratelimit-limit",
			"x-ratelimit-remaining",
			"x-ratelimit-reset"
	}
}

func lowercaseHeaders(headers http.Header) map[string]string {
	raw := make(map[string]string, len(headers))

	for key, values := range headers {
		if len(values) == 0 {
			continue
		}

		raw[strings.ToLower(key)] = values[0]
	}

	return raw
}

// parseRetryAfter handles both forms of Retry-After: delta seconds and an
// HTTP date. Dates in the past floor to zero.
func parseRetryAfter(value string, now time.Time) *int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if seconds, err := cast.ToIntE(value); err == nil {
		return &seconds
	}

	if at, err := http.ParseTime(value); err == nil {
		seconds := max(int(at.Sub(now).Seconds()), 0)
		return &seconds
	}

	return nil
}

func parseIntHeader(value string) *int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	n, err := cast.ToIntE(value)
	if err != nil {
		return nil
	}

	return &n
}

// parseResetHeader accepts RFC 3339 timestamps and unix seconds, covering
// both the anthropic dialect and the bare x-ratelimit-reset convention.
func parseResetHeader(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if at, err := time.Parse(time.RFC3339, value); err == nil {
		at = at.UTC()
		return &at
	}

	if unix, err := cast.ToInt64E(value); err == nil {
		at := time.Unix(unix, 0).UTC()
		return &at
	}

	return nil
}
