// Package session implements the Upstream Session Pool: one
// lazily-populated map per instance, keyed by impersonation profile
// tag, of reusable outbound HTTP clients.
package session

import (
	"fmt"
	"sync"

	"github.com/Danny-Dasilva/CycleTLS/cycletls"

	"github.com/synthbox/capture-proxy/internal/fingerprint"
)

// UpstreamCredentials names the instance-level upstream proxy, if any.
// A zero value means "direct" (no upstream proxy).
type UpstreamCredentials struct {
	Scheme string
	Host   string
	Port   string
	User   string
	Pass   string
}

func (c UpstreamCredentials) empty() bool { return c.Host == "" }

// ProxyString builds "{scheme}://[user:pass@]host:port", rewriting
// socks5 to socks5h to force remote DNS resolution, matching
// base_addon.py:create_session.
func (c UpstreamCredentials) ProxyString() string {
	if c.empty() {
		return ""
	}
	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if scheme == "socks5" {
		scheme = "socks5h"
	}
	auth := ""
	if c.User != "" {
		auth = c.User
		if c.Pass != "" {
			auth += ":" + c.Pass
		}
		auth += "@"
	}
	return fmt.Sprintf("%s://%s%s:%s", scheme, auth, c.Host, c.Port)
}

// Session wraps one CycleTLS client bound to exactly one impersonation
// profile and one upstream proxy configuration.
type Session struct {
	Profile fingerprint.Profile
	client  *cycletls.CycleTLS
	proxy   string
}

// Request is the minimal outbound request shape the pipeline issues.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Direct  bool // flow.metadata.direct: bypass the upstream proxy regardless of instance credentials
	Timeout int  // seconds
}

// Response mirrors the fields the pipeline needs from cycletls.Response.
type Response struct {
	Status  int
	Headers map[string]string
	Body    string
}

// Do issues the request through this session's impersonating client.
// The session's profile JA3 and User-Agent are what actually get
// impersonated on the wire; the outbound User-Agent header is forced
// to match so the two never disagree. Redirects are always disabled
// and certificate verification is always off, since the caller
// already terminated TLS locally in the MITM context.
func (s *Session) Do(req Request) (Response, error) {
	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers["User-Agent"] = s.Profile.UserAgent

	opts := cycletls.Options{
		Body:               req.Body,
		Headers:            headers,
		Ja3:                s.Profile.JA3,
		UserAgent:          s.Profile.UserAgent,
		Timeout:            req.Timeout,
		DisableRedirect:    true,
		InsecureSkipVerify: true,
	}
	if !req.Direct {
		opts.Proxy = s.proxy
	}

	resp, err := s.client.Do(req.URL, opts, req.Method)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: resp.Status, Headers: resp.Headers, Body: resp.Body}, nil
}

// Pool is the per-instance profile-tag-keyed session map.
type Pool struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	credentials UpstreamCredentials
}

func NewPool(credentials UpstreamCredentials) *Pool {
	return &Pool{sessions: make(map[string]*Session), credentials: credentials}
}

// Checkout returns the existing session for profile.Tag, creating one
// if absent. direct bypasses the instance's upstream proxy for
// sessions created by this call (matching the flow-level metadata
// flag); an already-existing session keeps whatever proxy and profile
// it was created with, since a session is bound to one upstream
// configuration and one impersonation profile for its lifetime.
func (p *Pool) Checkout(profile fingerprint.Profile, direct bool) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.sessions[profile.Tag]; ok {
		return existing
	}

	client := cycletls.Init()
	proxy := p.credentials.ProxyString()
	if direct {
		proxy = ""
	}
	s := &Session{Profile: profile, client: &client, proxy: proxy}
	p.sessions[profile.Tag] = s
	return s
}

// Size returns the number of distinct profile-tag sessions currently
// held, used by the "K distinct profile tags ⇒ K sessions" property.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close drops every session from the pool, the instance-teardown hook.
// It does not call any close method on the underlying CycleTLS clients.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.sessions {
		delete(p.sessions, k)
	}
}
