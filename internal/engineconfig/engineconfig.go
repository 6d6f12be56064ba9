// Package engineconfig implements the Config Surface: a read-only
// projection of the settings the engine consumes. Persistent storage
// of these values is a caller concern; callers construct a Config
// from whatever storage they use and the engine only reads it.
package engineconfig

import (
	"fmt"
	"strings"

	"github.com/synthbox/capture-proxy/internal/extract"
	"github.com/synthbox/capture-proxy/internal/session"
)

// InstanceConfig is the per-instance subset of the Config Surface.
type InstanceConfig struct {
	ListenHost string
	ListenPort int
	Upstream   session.UpstreamCredentials
}

// Config is the full read-only projection consumed by the engine.
// Mutations the caller makes to a live Config take effect on new
// flows only; in-flight flows keep whatever snapshot they were
// started with.
type Config struct {
	IgnoreRules     []string
	ExtractRules    []extract.Rule
	Instance        InstanceConfig
	CacheDir        string
	CacheTTLSeconds int
}

// DefaultCacheTTLSeconds is the 24h default applied when a Config
// leaves CacheTTLSeconds unset.
const DefaultCacheTTLSeconds = 24 * 60 * 60

// Snapshot returns a value copy of Config so a started flow can retain
// its own view even if the caller mutates the original afterward.
func (c Config) Snapshot() Config {
	cp := c
	cp.IgnoreRules = append([]string(nil), c.IgnoreRules...)
	cp.ExtractRules = append([]extract.Rule(nil), c.ExtractRules...)
	return cp
}

// ParseProxyString accepts the compact "host:port[:user:pass]" form
// from proxy.py:format_proxy, supplementing the structured field list
// with the shorthand the original source also accepts.
func ParseProxyString(raw string) (session.UpstreamCredentials, error) {
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 2:
		return session.UpstreamCredentials{Host: parts[0], Port: parts[1]}, nil
	case 4:
		return session.UpstreamCredentials{Host: parts[0], Port: parts[1], User: parts[2], Pass: parts[3]}, nil
	default:
		return session.UpstreamCredentials{}, fmt.Errorf("engineconfig: unrecognized proxy string %q", raw)
	}
}
