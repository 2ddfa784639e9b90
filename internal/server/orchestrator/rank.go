package orchestrator

import (
	"math/rand"
	"strings"

	"github.com/samber/lo"
	"github.com/viterin/partial"

	"github.com/switchyardai/switchyard/internal/llm"
	"github.com/switchyardai/switchyard/internal/server/biz"
)

// defaultTiebreak uses the locked global source, safe under concurrent
// resolves.
func defaultTiebreak() float64 {
	return rand.Float64()
}

// bucketFor ranks an endpoint signature against the client's: exact match,
// then same kind, then same family, then neither.
func bucketFor(client, endpoint llm.Signature) int {
	sameFamily := client.Family == endpoint.Family
	sameKind := client.Kind == endpoint.Kind

	switch {
	case sameFamily && sameKind:
		return 0
	case sameKind:
		return 1
	case sameFamily:
		return 2
	default:
		return 3
	}
}

type rankedCandidate struct {
	candidate Candidate
	family    string
	tiebreak  float64
}

// rank orders candidates by bucket, family precedence, configured priority,
// and a random tiebreak. Only the best topK need a total order, so the sort
// is partial; topK <= 0 sorts everything.
func (r *Resolver) rank(candidates []Candidate, topK int) []Candidate {
	if len(candidates) <= 1 {
		return candidates
	}

	mode := r.catalog.PriorityMode()

	ranked := make([]rankedCandidate, len(candidates))
	for i, c := range candidates {
		family, _, _ := strings.Cut(c.Endpoint.Signature, ":")
		ranked[i] = rankedCandidate{candidate: c, family: family, tiebreak: r.tiebreak()}
	}

	if topK <= 0 || topK > len(ranked) {
		topK = len(ranked)
	}

	partial.SortFunc(ranked, topK, func(a, b rankedCandidate) int {
		return compareCandidates(a, b, mode)
	})

	return lo.Map(ranked, func(rc rankedCandidate, _ int) Candidate { return rc.candidate })
}

func compareCandidates(a, b rankedCandidate, priorityMode string) int {
	if a.candidate.Bucket != b.candidate.Bucket {
		return a.candidate.Bucket - b.candidate.Bucket
	}

	if c := llm.CompareFamilies(a.family, b.family); c != 0 {
		return c
	}

	pa1, pa2 := priorities(a.candidate, priorityMode)
	pb1, pb2 := priorities(b.candidate, priorityMode)

	// Higher configured priority ranks first.
	if pa1 != pb1 {
		return pb1 - pa1
	}

	if pa2 != pb2 {
		return pb2 - pa2
	}

	switch {
	case a.tiebreak < b.tiebreak:
		return -1
	case a.tiebreak > b.tiebreak:
		return 1
	default:
		return 0
	}
}

func priorities(c Candidate, priorityMode string) (int, int) {
	if priorityMode == biz.PriorityModeCredential {
		return c.Credential.Priority, c.Provider.Priority
	}

	return c.Provider.Priority, c.Credential.Priority
}

// promoteAffinity moves the sticky candidate to the front when it survived
// filtering. With preferExact set, a sticky candidate from a non-exact bucket
// is placed behind the surviving exact candidates instead.
func promoteAffinity(candidates []Candidate, sticky biz.AffinityEntry, preferExact bool) ([]Candidate, bool) {
	from := -1

	for i, c := range candidates {
		if c.Endpoint.ID == sticky.EndpointID && c.Credential.ID == sticky.CredentialID {
			from = i
			break
		}
	}

	if from < 0 {
		return candidates, false
	}

	to := 0

	if preferExact && candidates[from].Bucket != 0 {
		for to < len(candidates) && candidates[to].Bucket == 0 {
			to++
		}
	}

	if from > to {
		c := candidates[from]
		copy(candidates[to+1:from+1], candidates[to:from])
		candidates[to] = c
	}

	return candidates, true
}
