// Package urlnorm computes the canonical URL string and cache-key
// digest used throughout the pipeline. Two URLs that differ only
// in query-parameter ordering normalize to the same canonical string
// and therefore the same digest.
package urlnorm

import (
	"crypto/md5"
	"net/url"
	"sort"
	"strings"
)

// Key is the 128-bit cache-key digest of a normalized URL.
type Key [16]byte

func (k Key) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range k {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// Result carries the path used for logging and the canonical URL the
// digest is derived from.
type Result struct {
	PathForLogging string
	Canonical      string
	Key            Key
}

// Normalize implements the exact algorithm the source uses: lowercase
// scheme and host, empty path becomes "/", query split on "&" with
// each raw token sorted as a string (not re-sorted key/value pairs),
// fragment and RFC 3986 params preserved, userinfo stripped.
//
// Userinfo stripping goes beyond the original Python normalized_url,
// which never saw credentials embedded in a URL; it is applied here
// so a cache key never collides on credentials alone.
func Normalize(rawURL string) (Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, err
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	query := ""
	if parsed.RawQuery != "" {
		tokens := strings.Split(parsed.RawQuery, "&")
		sort.Strings(tokens)
		query = strings.Join(tokens, "&")
	}

	host := strings.ToLower(parsed.Host)
	// url.Host includes userinfo only for opaque/odd forms; Hostname()+Port()
	// already excludes userinfo for normal URLs, but guard explicitly.
	if at := strings.LastIndex(host, "@"); at != -1 {
		host = host[at+1:]
	}

	canonical := (&url.URL{
		Scheme:     strings.ToLower(parsed.Scheme),
		Host:       host,
		Path:       path,
		Opaque:     "",
		RawQuery:   query,
		Fragment:   parsed.Fragment,
	}).String()

	// url.URL has no first-class "params" slot (the RFC 3986 ;params
	// segment on the last path element); Go folds it into Path, which
	// preserves it verbatim already.

	return Result{
		PathForLogging: path,
		Canonical:      canonical,
		Key:            md5.Sum([]byte(canonical)),
	}, nil
}
