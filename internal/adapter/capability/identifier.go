package capability

import (
	"strings"

	"github.com/thushan/olla-link/internal/core/domain"
)

// ComposeIdentifier builds namespace/name:version without doubling up parts
// the name already carries
func ComposeIdentifier(name, version, namespace string) string {
	return domain.OperationRequest{
		CapabilityName: name,
		Version:        version,
		Namespace:      namespace,
	}.Identifier()
}

// StripNamespace drops everything up to the last "/"
func StripNamespace(identifier string) string {
	if i := strings.LastIndex(identifier, "/"); i >= 0 {
		return identifier[i+1:]
	}
	return identifier
}

// StripVersion drops a trailing :tag, leaving registry ports alone
func StripVersion(identifier string) string {
	if !domain.HasVersion(identifier) {
		return identifier
	}
	return identifier[:strings.LastIndex(identifier, ":")]
}

func normalise(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// MatchIdentifier compares in three tiers: exact, then without namespace,
// then without namespace or version. Catalogs often report "repo/model:tag"
// where callers ask for "model". Two different pinned versions never match.
func MatchIdentifier(requested, installed string) bool {
	a, b := normalise(requested), normalise(installed)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	a, b = StripNamespace(a), StripNamespace(b)
	if a == b {
		return true
	}

	if domain.HasVersion(a) && domain.HasVersion(b) {
		return false
	}
	return StripVersion(a) == StripVersion(b)
}

// FindMatch returns the catalog entry that satisfies requested. An exact
// match is preferred over a looser one.
func FindMatch(requested string, catalog []domain.CapabilityDescriptor) (domain.CapabilityDescriptor, bool) {
	want := normalise(requested)
	for _, d := range catalog {
		if normalise(d.Name) == want {
			return d, true
		}
	}
	for _, d := range catalog {
		if MatchIdentifier(requested, d.Name) {
			return d, true
		}
	}
	return domain.CapabilityDescriptor{}, false
}

// Missing lists the required identifiers the catalog can't satisfy, in order
func Missing(required []string, catalog []domain.CapabilityDescriptor) []string {
	var missing []string
	for _, r := range required {
		if _, ok := FindMatch(r, catalog); !ok {
			missing = append(missing, r)
		}
	}
	return missing
}
