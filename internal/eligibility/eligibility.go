// Package eligibility implements the Eligibility Policy: the
// all-of gate deciding whether a response may be admitted to the
// cache.
package eligibility

import (
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/synthbox/capture-proxy/internal/cacheengine"
)

// Request carries the subset of the request needed for the decision.
type Request struct {
	Method       string
	CacheControl string
	Pragma       string
}

// Response carries the subset of the response needed for the decision.
type Response struct {
	StatusCode   int
	SetCookie    bool
	Vary         string
	CacheControl string
	ContentType  string
}

// Admissible is the all-of gate deciding whether a response may enter
// the cache. canonicalPath is the normalized path; normalizedURL is
// the full canonical string, checked against ignoreRules.
func Admissible(req Request, resp Response, canonicalPath, normalizedURL string, ignoreRules []string) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if resp.SetCookie {
		return false
	}
	if strings.Contains(strings.ToLower(resp.Vary), "cookie") {
		return false
	}
	if hasForbiddenDirective(req.CacheControl) || hasForbiddenDirective(req.Pragma) || hasForbiddenDirective(resp.CacheControl) {
		return false
	}
	if !hasResourceSuffix(canonicalPath) && !hasResourceContentType(resp.ContentType) {
		return false
	}
	if matchesAnyIgnoreRule(normalizedURL, ignoreRules) {
		return false
	}
	return true
}

func hasForbiddenDirective(headerValue string) bool {
	if headerValue == "" {
		return false
	}
	for _, tok := range strings.Split(headerValue, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if ForbiddenDirectives[tok] {
			return true
		}
	}
	return false
}

func hasResourceSuffix(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range ResourceSuffixes {
		if strings.HasSuffix(lower, "."+suffix) {
			return true
		}
	}
	return false
}

func hasResourceContentType(contentType string) bool {
	lower := strings.ToLower(strings.TrimSpace(contentType))
	for _, prefix := range ResourceContentTypePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// matchesAnyIgnoreRule matches a plain substring, or a regex when the
// rule is prefixed "re:".
func matchesAnyIgnoreRule(normalizedURL string, rules []string) bool {
	for _, rule := range rules {
		if strings.HasPrefix(rule, "re:") {
			pattern := rule[len("re:"):]
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			if re.MatchString(normalizedURL) {
				return true
			}
			continue
		}
		if rule != "" && strings.Contains(normalizedURL, rule) {
			return true
		}
	}
	return false
}

// SafeHeaderSubset filters a header set down to the safe set retained
// in cached meta, always dropping content-encoding regardless of the
// table. http.Header itself has no stable order, so names are sorted
// before filtering to give the resulting list a deterministic order
// instead of Go's randomized map iteration order.
func SafeHeaderSubset(h http.Header) cacheengine.Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var out cacheengine.Header
	for _, name := range names {
		lower := strings.ToLower(name)
		if lower == "content-encoding" {
			continue
		}
		if !SafeHeaders[lower] {
			continue
		}
		for _, v := range h[name] {
			out = append(out, cacheengine.HeaderField{Name: name, Value: v})
		}
	}
	return out
}
