// Package proxy implements the Proxy Pipeline: the per-flow
// state machine that intercepts a client request, tries the cache,
// dispatches upstream through an impersonating session, and
// backgrounds cache admission and content extraction.
package proxy

import (
	"sync"

	"github.com/synthbox/capture-proxy/internal/cacheengine"
	"github.com/synthbox/capture-proxy/internal/certauthority"
	"github.com/synthbox/capture-proxy/internal/engineconfig"
	"github.com/synthbox/capture-proxy/internal/events"
	"github.com/synthbox/capture-proxy/internal/fingerprint"
	"github.com/synthbox/capture-proxy/internal/session"
	"github.com/synthbox/capture-proxy/internal/stats"
	"github.com/synthbox/capture-proxy/internal/urlnorm"
)

// Pipeline wires the leaf components together into the per-flow
// request/response path for one instance. It implements http.Handler
// and is the value an Instance Supervisor hands to its listener.
type Pipeline struct {
	InstanceID string

	Cache     cacheengine.Store
	Registry  *fingerprint.Registry
	Sessions  *session.Pool
	Counters  *stats.Counters
	Authority *certauthority.Authority

	// ConfigSnapshot returns the config a new flow should bind to;
	// in-flight flows keep whatever snapshot they started with even if
	// the caller mutates live config afterward.
	ConfigSnapshot func() engineconfig.Config

	// Emit publishes one event (log line, notification, ...) on the
	// instance's outbound channel.
	Emit func(events.Event)

	// inProgress is the per-instance admission-serialization guard:
	// the first writer for a key wins, later ones are dropped.
	inProgress sync.Map // urlnorm.Key -> struct{}
}

func (p *Pipeline) claimInProgress(key urlnorm.Key) bool {
	_, loaded := p.inProgress.LoadOrStore(key, struct{}{})
	return !loaded
}

func (p *Pipeline) releaseInProgress(key urlnorm.Key) {
	p.inProgress.Delete(key)
}
