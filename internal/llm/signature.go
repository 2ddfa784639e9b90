package llm

import (
	"fmt"
	"strings"
)

// Known protocol families. Any other family string is accepted and ranked
// after these three.
const (
	FamilyOpenAI = "openai"
	FamilyClaude = "claude"
	FamilyGemini = "gemini"
)

// Protocol kinds.
const (
	KindChat = "chat"
	KindCLI  = "cli"
)

// Signature identifies a wire protocol surface as a family:kind pair,
// e.g. "openai:chat" or "claude:cli".
type Signature struct {
	Family string `json:"family"`
	Kind   string `json:"kind"`
}

// ParseSignature parses a "family:kind" string.
func ParseSignature(s string) (Signature, error) {
	family, kind, ok := strings.Cut(s, ":")
	if !ok {
		return Signature{}, fmt.Errorf("invalid signature %q: expected family:kind", s)
	}

	family = strings.ToLower(strings.TrimSpace(family))
	kind = strings.ToLower(strings.TrimSpace(kind))

	if family == "" || kind == "" {
		return Signature{}, fmt.Errorf("invalid signature %q: empty family or kind", s)
	}

	return Signature{Family: family, Kind: kind}, nil
}

// MustParseSignature is ParseSignature that panics on malformed input.
// Intended for constants in tests and seed data.
func MustParseSignature(s string) Signature {
	sig, err := ParseSignature(s)
	if err != nil {
		panic(err)
	}

	return sig
}

func (s Signature) String() string {
	return s.Family + ":" + s.Kind
}

func (s Signature) IsZero() bool {
	return s.Family == "" && s.Kind == ""
}

// DataFormat returns the wire payload format a signature speaks.
// The openai chat and cli surfaces use different payload shapes, so each kind
// is its own format. Every other family shares one format across kinds, which
// is what makes e.g. claude:chat -> claude:cli a passthrough.
func (s Signature) DataFormat() string {
	if s.Family == FamilyOpenAI {
		return s.String()
	}

	return s.Family
}

// familyRank orders families for ranking: openai, claude, gemini, then
// everything else alphabetically.
func familyRank(family string) int {
	switch family {
	case FamilyOpenAI:
		return 0
	case FamilyClaude:
		return 1
	case FamilyGemini:
		return 2
	default:
		return 3
	}
}

// CompareFamilies reports the ranking order of two families: negative when a
// ranks before b, zero when equal rank and equal name.
func CompareFamilies(a, b string) int {
	ra, rb := familyRank(a), familyRank(b)
	if ra != rb {
		return ra - rb
	}

	return strings.Compare(a, b)
}
