package llm

import "strings"

// FormatPolicy is an endpoint's format-acceptance policy. It only applies to
// converted traffic; exact and same-format passthrough traffic bypasses it.
// The zero value means: conversion opt-in off, no accept/reject restriction,
// stream conversion allowed.
type FormatPolicy struct {
	// Enabled opts the endpoint into format conversion even when the
	// provider-wide conversion toggle is off.
	Enabled bool `json:"enabled"`

	// AcceptFormats, when non-empty, allows only the listed client
	// signatures or families. Entries match either "family:kind" or "family".
	AcceptFormats []string `json:"acceptFormats,omitempty"`

	// RejectFormats always wins over AcceptFormats.
	RejectFormats []string `json:"rejectFormats,omitempty"`

	// StreamConversion controls whether converted streaming traffic is
	// accepted. Nil means allowed.
	StreamConversion *bool `json:"streamConversion,omitempty"`
}

func (p FormatPolicy) streamConversionAllowed() bool {
	return p.StreamConversion == nil || *p.StreamConversion
}

// Registry reports which directional format conversions are implemented.
// The engine never converts payloads itself; the dispatch layer owns that.
type Registry interface {
	CanConvert(from, to Signature, stream bool) bool
}

// Compat reject reasons.
const (
	ReasonConversionDisabled = "conversion_disabled"
	ReasonRejectedByPolicy   = "rejected_by_policy"
	ReasonNotAccepted        = "not_accepted"
	ReasonStreamUnsupported  = "stream_conversion_disabled"
	ReasonNoConverter        = "no_converter"
)

// Compat is the outcome of a compatibility check between a client signature
// and an endpoint signature.
type Compat struct {
	Compatible      bool   `json:"compatible"`
	Exact           bool   `json:"exact"`
	NeedsConversion bool   `json:"needsConversion"`
	Reason          string `json:"reason,omitempty"`
}

// CheckCompat decides whether an endpoint can serve a client signature.
//
// The ladder, first hit wins:
//  1. Exact signature match: passthrough.
//  2. Same data format (e.g. claude:chat vs claude:cli): passthrough.
//  3. Conversion gate: the provider-wide toggle or the endpoint's own
//     Enabled flag must be set.
//  4. Policy lists (reject first, then accept), then the stream flag.
//  5. A converter for the directional pair must exist in the registry.
func CheckCompat(client, endpoint Signature, policy FormatPolicy, global bool, stream bool, reg Registry) Compat {
	if client == endpoint {
		return Compat{Compatible: true, Exact: true}
	}

	if client.DataFormat() == endpoint.DataFormat() {
		return Compat{Compatible: true}
	}

	if !global && !policy.Enabled {
		return Compat{Reason: ReasonConversionDisabled}
	}

	if matchesFormatList(policy.RejectFormats, client) {
		return Compat{Reason: ReasonRejectedByPolicy}
	}

	if len(policy.AcceptFormats) > 0 && !matchesFormatList(policy.AcceptFormats, client) {
		return Compat{Reason: ReasonNotAccepted}
	}

	if stream && !policy.streamConversionAllowed() {
		return Compat{Reason: ReasonStreamUnsupported}
	}

	if reg == nil || !reg.CanConvert(client, endpoint, stream) {
		return Compat{Reason: ReasonNoConverter}
	}

	return Compat{Compatible: true, NeedsConversion: true}
}

// matchesFormatList reports whether the client signature or its family is in
// the list. Matching is case-insensitive.
func matchesFormatList(list []string, client Signature) bool {
	for _, entry := range list {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}

		if entry == client.String() || entry == client.Family {
			return true
		}
	}

	return false
}
