package domain

import (
	"net/url"
	"sort"
)

const (
	OriginStringExplicit     = "explicit"
	OriginStringOrchestrator = "orchestrator"
	OriginStringContainer    = "container"
	OriginStringHost         = "host"
)

// CandidateOrigin records how a candidate address was found
type CandidateOrigin string

const (
	OriginExplicitConfig      CandidateOrigin = OriginStringExplicit
	OriginOrchestratorManaged CandidateOrigin = OriginStringOrchestrator
	OriginContainerLocal      CandidateOrigin = OriginStringContainer
	OriginHostFallback        CandidateOrigin = OriginStringHost
)

// Rank breaks priority ties, lower ranks sort first
func (o CandidateOrigin) Rank() int {
	switch o {
	case OriginExplicitConfig:
		return 0
	case OriginOrchestratorManaged:
		return 1
	case OriginContainerLocal:
		return 2
	case OriginHostFallback:
		return 3
	default:
		return 4
	}
}

func (o CandidateOrigin) String() string {
	return string(o)
}

// Candidate is a possible address for the backend. Built fresh for every
// discovery run and never persisted.
type Candidate struct {
	Address       *url.URL
	AddressString string
	Origin        CandidateOrigin
	// Source names what produced the candidate, e.g. "env:services__ollama__http__0"
	Source   string
	Priority int
}

func (c Candidate) String() string {
	return c.AddressString
}

// Less reports whether c sorts before other
func (c Candidate) Less(other Candidate) bool {
	if c.Priority != other.Priority {
		return c.Priority < other.Priority
	}
	return c.Origin.Rank() < other.Origin.Rank()
}

// SortCandidates orders by (priority asc, origin rank) and keeps the
// original order for exact ties
func SortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Less(candidates[j])
	})
}
