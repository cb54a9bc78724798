package linkcheck

import "strings"

var doiResolverPrefixes = []string{"http://doi.org", "https://doi.org"}

// CleanURL strips a trailing newline and then surrounding whitespace.
func CleanURL(raw string) string {
	return strings.TrimSpace(strings.TrimRight(raw, "\n"))
}

// SameResource reports whether finalURL is effectively the requested URL.
// Each test is a plain prefix test, so query strings, fragments and a single
// trailing slash added by the server do not count as a redirect. An empty
// finalURL never matches.
func SameResource(requested, finalURL string) bool {
	switch {
	case finalURL == "":
		return false
	case strings.HasPrefix(requested, finalURL):
		return true
	case strings.HasPrefix(requested+"/", finalURL):
		return true
	case strings.HasPrefix(requested+"/", finalURL+"/"):
		return true
	default:
		return false
	}
}

// IsDOIResolver reports whether u points at the doi.org resolver, whose
// links redirect by design.
func IsDOIResolver(u string) bool {
	for _, prefix := range doiResolverPrefixes {
		if strings.HasPrefix(u, prefix) {
			return true
		}
	}
	return false
}
