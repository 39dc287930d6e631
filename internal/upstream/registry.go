/*
Package upstream is the Upstream Registry. It parses and normalizes the configured list of upstream
DoH resolver URLs exactly once at process start.

Typical usage:

    list := upstream.Load(os.Getenv("DOH_UPSTREAMS"))
    for _, u := range list {
        fmt.Println(u)
    }

Load() is permissive by design - there is no error return. Malformed tokens are silently
normalized or dropped rather than rejected, and an empty/blank source falls back to a built-in
default list so the proxy always has something to dispatch against.
*/
package upstream

import (
	"strings"

	"github.com/dohrelay/dohrelay/internal/constants"
)

// Load splits raw on any combination of commas, newlines and whitespace, trims and discards empty
// tokens, normalizes each remaining token per normalize(), and returns the resulting ordered list.
// If the result is empty, the built-in default list is returned instead.
func Load(raw string) []string {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r' || r == '\t' || r == ' '
	})

	list := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if len(tok) == 0 {
			continue
		}
		list = append(list, normalize(tok))
	}

	if len(list) == 0 {
		return defaultList()
	}

	return list
}

// Union appends extra to base, normalizing each entry, and skips anything already present (by
// normalized value) so the same upstream supplied via both DOH_UPSTREAMS and a repeatable CLI flag
// doesn't end up dispatched to twice.
func Union(base []string, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(extra))
	for _, u := range base {
		n := normalize(u)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	for _, u := range extra {
		u = strings.TrimSpace(u)
		if len(u) == 0 {
			continue
		}
		n := normalize(u)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}

	return out
}

// normalize applies the Upstream URL normalization rule from the data model: strip a trailing
// slash, then if the result doesn't already end in /dns-query and carries no query string, append
// /dns-query. normalize is idempotent: normalize(normalize(x)) == normalize(x).
func normalize(rawURL string) string {
	u := strings.TrimRight(rawURL, "/")
	if strings.Contains(u, "?") {
		return u
	}
	if strings.HasSuffix(u, constants.Get().Rfc8484Path) {
		return u
	}

	return u + constants.Get().Rfc8484Path
}

// defaultList returns a copy of the built-in default upstream list so callers can't mutate the
// package-wide constant through the returned slice.
func defaultList() []string {
	src := constants.Get().DefaultUpstreams
	out := make([]string, len(src))
	copy(out, src)

	return out
}
