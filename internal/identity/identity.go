package identity

import (
	"fmt"
	"regexp"
	"strings"
)

// Known sentinel values that mean "no named instructor assigned". Callers
// must filter these out before resolving.
var sentinels = map[string]struct{}{
	"Staff": {},
	"TBA":   {},
}

// IsSentinel reports whether name is a placeholder rather than a person.
func IsSentinel(name string) bool {
	_, ok := sentinels[strings.TrimSpace(name)]
	return ok
}

var (
	parenRe = regexp.MustCompile(`\s*\([^)]*\)`)
	// title abbreviation leading the given-name token: glued with a period
	// ("Dr.Maria") or standing alone ("Dr"). The alternation never matches
	// mid-word, so "Drew" stays intact.
	givenTitleRe = regexp.MustCompile(`^(?:dr|prof|professor)(?:\.|$)`)
)

// Resolver maps a free-text person name to an inferred institutional
// email. The mapping is best-guess, not authoritative: two people sharing
// a given and family name collide, and only the last whitespace-delimited
// token is used as the family name, so multi-part family names are not
// specially handled.
type Resolver struct {
	domain string
	titles map[string]struct{}
}

// NewResolver builds a resolver for the given institution domain. Title
// tokens ("Dr.", "Ph.D.", ...) are matched case-insensitively and removed
// wherever they appear in a name.
func NewResolver(domain string, titleTokens []string) *Resolver {
	titles := make(map[string]struct{}, len(titleTokens))
	for _, t := range titleTokens {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		titles[t] = struct{}{}
	}
	return &Resolver{domain: domain, titles: titles}
}

// Resolve returns the inferred email for name, or ok=false when the name
// does not carry at least a given and a family token after stripping
// parentheticals and titles. Pure and deterministic, no I/O.
func (r *Resolver) Resolve(name string) (email string, ok bool) {
	clean := parenRe.ReplaceAllString(name, " ")
	clean = strings.ReplaceAll(clean, ",", " ")

	var parts []string
	for _, tok := range strings.Fields(clean) {
		if _, isTitle := r.titles[strings.ToLower(tok)]; isTitle {
			continue
		}
		parts = append(parts, tok)
	}
	if len(parts) < 2 {
		return "", false
	}

	// second, defensive pass: a title abbreviation that survived token
	// removal is stripped from the given-name candidate only, never the
	// family token
	given := normalizeToken(givenTitleRe.ReplaceAllString(strings.ToLower(parts[0]), ""))
	family := normalizeToken(parts[len(parts)-1])
	if given == "" || family == "" {
		return "", false
	}
	return fmt.Sprintf("%s.%s@%s", given, family, r.domain), true
}

// normalizeToken lowercases a name token and drops internal periods so
// initials like "A." become "a".
func normalizeToken(tok string) string {
	return strings.ReplaceAll(strings.ToLower(tok), ".", "")
}
