package llm

type formatPair struct {
	from string
	to   string
}

// StaticRegistry is a Registry backed by a fixed set of directional format
// pairs. Conversion is format-level, so pairs are keyed by DataFormat.
type StaticRegistry struct {
	pairs map[formatPair]bool
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{pairs: make(map[formatPair]bool)}
}

// Allow registers a directional conversion between two data formats.
func (r *StaticRegistry) Allow(from, to string) *StaticRegistry {
	r.pairs[formatPair{from: from, to: to}] = true
	return r
}

func (r *StaticRegistry) CanConvert(from, to Signature, stream bool) bool {
	return r.pairs[formatPair{from: from.DataFormat(), to: to.DataFormat()}]
}

// DefaultRegistry covers every directional pair among the well-known data
// formats. The dispatch layer owns the actual payload translation; this only
// declares which pairs it implements.
func DefaultRegistry() *StaticRegistry {
	formats := []string{
		Signature{Family: FamilyOpenAI, Kind: KindChat}.DataFormat(),
		Signature{Family: FamilyOpenAI, Kind: KindCLI}.DataFormat(),
		FamilyClaude,
		FamilyGemini,
	}

	r := NewStaticRegistry()

	for _, from := range formats {
		for _, to := range formats {
			if from != to {
				r.Allow(from, to)
			}
		}
	}

	return r
}
