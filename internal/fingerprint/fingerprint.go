// Package fingerprint implements the Fingerprint Resolver: it
// maps a client User-Agent to an impersonation profile carrying the
// JA3 TLS fingerprint and User-Agent string a session must present on
// the wire, drawn from a finite registry.
package fingerprint

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultProfile is the tag returned whenever UA parsing fails or no
// candidate profile exists for the parsed family.
const DefaultProfile = "chrome136"

// JA3 fingerprints grouped by rendering engine family. A JA3 string is
// dominated by the TLS stack's cipher/extension list, which stays
// constant across most point releases of one engine; curl_cffi and
// CycleTLS-Proxy's own profile tables group entries the same way.
const (
	ja3Chrome  = "771,4865-4866-4867-49195-49199-49196-49200-52393-52392-49171-49172-156-157-47-53,0-23-65281-10-11-35-16-5-13-18-51-45-43-21,29-23-24,0"
	ja3Firefox = "771,4865-4867-4866-49195-49199-52393-49196-49200-52392-49171-49172-156-157-47-53,0-23-65281-10-11-35-16-5-34-51-43-13-45-28-21,29-23-24-25-256-257,0"
	ja3Safari  = "771,4865-4866-4867-49196-49195-52393-49200-49199-52392-49162-49161-49172-49171-157-156-61-60-53-47,65281-0-23-13-5-18-16-11-51-45-43-10-21,29-23-24-25,0"
)

// Profile describes one entry in the impersonation registry: the
// parsed identity used for resolution plus the JA3/UA pair a Session
// must actually present upstream.
type Profile struct {
	Family    string
	Major     int
	Mobile    bool
	Tag       string
	JA3       string
	UserAgent string
}

// Registry is the finite, family-keyed set of known profiles. It is
// populated from the outbound HTTP client library's own capability
// set (see DESIGN.md) rather than invented ad hoc.
type Registry struct {
	byFamily map[string][]Profile
	byTag    map[string]Profile
}

// NewCycleTLSRegistry builds the registry from the profile tags the
// CycleTLS client actually exposes. The tag vocabulary (chromeNN[,a],
// firefoxNN, safariNN) mirrors the curl_cffi-style naming the original
// source's get_all_curl_impersonate enumerates.
func NewCycleTLSRegistry() *Registry {
	r := &Registry{byFamily: make(map[string][]Profile), byTag: make(map[string]Profile)}
	add := func(family string, major int, mobile bool, tag string) {
		p := Profile{
			Family:    family,
			Major:     major,
			Mobile:    mobile,
			Tag:       tag,
			JA3:       ja3For(family),
			UserAgent: userAgentFor(family, major, mobile),
		}
		r.byFamily[family] = append(r.byFamily[family], p)
		r.byTag[tag] = p
	}

	for _, major := range []int{99, 100, 101, 104, 107, 110, 116, 119, 120, 123, 124, 131, 132, 133, 136} {
		add("chrome", major, false, "chrome"+strconv.Itoa(major))
	}
	// chrome133 has a corrected variant tag; both are registered so the
	// resolver's own remap step (step 6) can still be exercised even if
	// a caller queries the registry directly.
	add("chrome", 133, false, "chrome133a")
	for _, major := range []int{99, 101, 104, 110, 117, 120, 124, 131} {
		add("chrome", major, true, "chrome"+strconv.Itoa(major)+"android")
	}

	for _, major := range []int{102, 104, 105, 106, 108, 109, 110, 117, 123, 133} {
		add("firefox", major, false, "firefox"+strconv.Itoa(major))
	}

	for _, major := range []int{15, 16, 17, 18} {
		add("safari", major, false, "safari"+strconv.Itoa(major))
		add("safari", major, true, "safari"+strconv.Itoa(major)+"_ios")
	}

	return r
}

func ja3For(family string) string {
	switch family {
	case "firefox":
		return ja3Firefox
	case "safari":
		return ja3Safari
	default:
		return ja3Chrome
	}
}

func userAgentFor(family string, major int, mobile bool) string {
	switch family {
	case "chrome":
		if mobile {
			return fmt.Sprintf("Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Mobile Safari/537.36", major)
		}
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36", major)
	case "firefox":
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:%d.0) Gecko/20100101 Firefox/%d.0", major, major)
	case "safari":
		if mobile {
			return fmt.Sprintf("Mozilla/5.0 (iPhone; CPU iPhone OS %d_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%d.0 Mobile/15E148 Safari/604.1", major+2, major)
		}
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%d.0 Safari/605.1.15", major)
	default:
		return ""
	}
}

func (r *Registry) candidates(family string, mobile bool) []Profile {
	var out []Profile
	for _, p := range r.byFamily[family] {
		if p.Mobile == mobile {
			out = append(out, p)
		}
	}
	return out
}

var uaChromeRe = regexp.MustCompile(`Chrome/(\d+)`)
var uaFirefoxRe = regexp.MustCompile(`Firefox/(\d+)`)
var uaSafariVersionRe = regexp.MustCompile(`Version/(\d+)`)
var uaSafariRe = regexp.MustCompile(`Safari/`)
var uaEdgeRe = regexp.MustCompile(`Edg/`)

// parsed is the (family, major_version, is_mobile) triple the source's
// segment_browser_version_and_type extracts.
type parsed struct {
	family string
	major  int
	mobile bool
	ok     bool
}

// parseUserAgent is a small hand-rolled scanner (see DESIGN.md for why
// no third-party UA-parsing library is used): it looks for the
// standard browser/version tokens Chrome/NN, Firefox/NN, and Safari's
// Version/NN, and treats an Edge UA as Chromium-family since Edge's
// engine reports as Chrome for impersonation purposes.
func parseUserAgent(ua string) parsed {
	if ua == "" {
		return parsed{}
	}
	mobile := strings.Contains(ua, "Mobile") || strings.Contains(ua, "Android") || strings.Contains(ua, "iPhone")

	if m := uaChromeRe.FindStringSubmatch(ua); m != nil {
		major, _ := strconv.Atoi(m[1])
		return parsed{family: "chrome", major: major, mobile: mobile, ok: true}
	}
	if m := uaFirefoxRe.FindStringSubmatch(ua); m != nil {
		major, _ := strconv.Atoi(m[1])
		return parsed{family: "firefox", major: major, mobile: mobile, ok: true}
	}
	if uaSafariRe.MatchString(ua) && !uaEdgeRe.MatchString(ua) {
		if m := uaSafariVersionRe.FindStringSubmatch(ua); m != nil {
			major, _ := strconv.Atoi(m[1])
			return parsed{family: "safari", major: major, mobile: mobile, ok: true}
		}
	}
	return parsed{}
}

// Resolve maps a client User-Agent to the impersonation profile a
// session should present upstream, JA3 and User-Agent included.
func (r *Registry) Resolve(userAgent string) Profile {
	p := parseUserAgent(userAgent)
	if !p.ok || p.family == "" {
		return r.byTag[DefaultProfile]
	}

	candidates := r.candidates(p.family, p.mobile)
	if len(candidates) == 0 {
		return r.byTag[DefaultProfile]
	}

	var fit []Profile
	for _, c := range candidates {
		if c.Major <= p.major {
			fit = append(fit, c)
		}
	}

	var chosen Profile
	if len(fit) > 0 {
		chosen = maxByMajor(fit)
	} else {
		chosen = minByMajor(candidates)
	}

	if chosen.Family == "chrome" && chosen.Major == 133 && chosen.Tag == "chrome133" {
		return r.byTag["chrome133a"]
	}
	return chosen
}

func maxByMajor(profiles []Profile) Profile {
	best := profiles[0]
	for _, p := range profiles[1:] {
		if p.Major > best.Major {
			best = p
		}
	}
	return best
}

func minByMajor(profiles []Profile) Profile {
	best := profiles[0]
	for _, p := range profiles[1:] {
		if p.Major < best.Major {
			best = p
		}
	}
	return best
}
