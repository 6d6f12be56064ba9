// Package supervisor implements the instance lifecycle state machine
// owning one listener's port, upstream credentials, cache store,
// session pool, and stats ticker. Each instance runs its listener on
// its own goroutine, stopped by context cancellation and a bounded
// http.Server.Shutdown join, rather than as a separate OS process:
// a goroutine shares the parent's memory for cache/session reuse and
// avoids the bookkeeping a forked process would need to report state
// back over IPC.
package supervisor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/synthbox/capture-proxy/internal/cacheengine"
	"github.com/synthbox/capture-proxy/internal/certauthority"
	"github.com/synthbox/capture-proxy/internal/engineconfig"
	"github.com/synthbox/capture-proxy/internal/events"
	"github.com/synthbox/capture-proxy/internal/fingerprint"
	applog "github.com/synthbox/capture-proxy/internal/log"
	"github.com/synthbox/capture-proxy/internal/proxy"
	"github.com/synthbox/capture-proxy/internal/session"
	"github.com/synthbox/capture-proxy/internal/stats"
)

// State names one node of the TabStatus-derived lifecycle graph.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
	StateError
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

const (
	autoPortLow     = 30000
	autoPortHigh    = 40000
	userPortLow     = 5000
	userPortHigh    = 60000
	stopJoinTimeout = 1 * time.Second
	egressTimeout   = 5 * time.Second
	sweepInterval   = 10 * time.Minute
)

// Instance is one supervised listener and everything it owns.
type Instance struct {
	ID string

	mu     sync.RWMutex
	state  State
	cfg    engineconfig.Config
	ip     string
	delete bool

	listener net.Listener
	server   *http.Server
	pipeline *proxy.Pipeline

	counters  *stats.Counters
	cancel    context.CancelFunc
	emit      func(events.Event)
	serveDone chan struct{}
}

func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

func (i *Instance) snapshotConfig() engineconfig.Config {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg.Snapshot()
}

// UpdateConfig replaces the live config a new flow will bind to;
// in-flight flows keep whatever snapshot they already captured.
func (i *Instance) UpdateConfig(cfg engineconfig.Config) {
	i.mu.Lock()
	i.cfg = cfg
	i.mu.Unlock()
}

// Supervisor owns the set of live instances and the shared port
// registry that enforces "no two instances share a listen_port".
type Supervisor struct {
	mu        sync.Mutex
	instances map[string]*Instance
	ports     map[int]string // port -> instance ID

	CertsDir string
}

func New(certsDir string) *Supervisor {
	return &Supervisor{
		instances: make(map[string]*Instance),
		ports:     make(map[int]string),
		CertsDir:  certsDir,
	}
}

// Start drives an instance through Starting -> Running (or -> Error),
// matching MitmproxyWorker.run's sequencing: validate, probe egress,
// bind, then begin serving.
func (s *Supervisor) Start(id string, cfg engineconfig.Config, emit func(events.Event)) (*Instance, error) {
	emit(events.StatusChanged(id, StateStarting.String(), ""))

	if cfg.Instance.Upstream.Host != "" && cfg.Instance.Upstream.Port == "" {
		emit(events.StatusChanged(id, StateError.String(), "upstream host without port"))
		return nil, fmt.Errorf("supervisor: upstream host set without a port")
	}

	port, err := s.reservePort(id, cfg.Instance.ListenPort)
	if err != nil {
		emit(events.StatusChanged(id, StateError.String(), err.Error()))
		return nil, err
	}

	ip, err := probeEgressIP(cfg)
	if err != nil {
		s.releasePort(port)
		emit(events.InstanceIP(id, "", true))
		emit(events.StatusChanged(id, StateError.String(), err.Error()))
		return nil, err
	}
	emit(events.InstanceIP(id, ip, false))

	host := cfg.Instance.ListenHost
	if host == "" {
		host = "127.0.0.1"
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		s.releasePort(port)
		emit(events.StatusChanged(id, StateError.String(), err.Error()))
		return nil, err
	}

	authority, err := certauthority.Load(s.CertsDir)
	if err != nil {
		_ = listener.Close()
		s.releasePort(port)
		emit(events.StatusChanged(id, StateError.String(), err.Error()))
		return nil, err
	}

	cache, err := cacheengine.NewFileStore(cfg.CacheDir)
	if err != nil {
		_ = listener.Close()
		s.releasePort(port)
		emit(events.StatusChanged(id, StateError.String(), err.Error()))
		return nil, err
	}

	pool := session.NewPool(cfg.Instance.Upstream)
	counters := stats.NewCounters(id)

	cfg.Instance.ListenPort = port
	inst := &Instance{
		ID:        id,
		state:     StateStarting,
		cfg:       cfg,
		ip:        ip,
		listener:  listener,
		counters:  counters,
		emit:      emit,
		serveDone: make(chan struct{}),
	}

	inst.pipeline = &proxy.Pipeline{
		InstanceID:     id,
		Cache:          cache,
		Registry:       fingerprint.NewCycleTLSRegistry(),
		Sessions:       pool,
		Counters:       counters,
		Authority:      authority,
		ConfigSnapshot: inst.snapshotConfig,
		Emit:           emit,
	}
	inst.server = &http.Server{Handler: inst.pipeline}

	tickCtx, cancel := context.WithCancel(context.Background())
	inst.cancel = cancel
	go stats.Ticker(tickCtx, counters, emit)
	go sweepCache(tickCtx, id, cache, emit)

	go func() {
		err := inst.server.Serve(listener)
		close(inst.serveDone)
		if err != nil && err != http.ErrServerClosed {
			inst.setState(StateError)
			emit(events.StatusChanged(id, StateError.String(), err.Error()))
		}
	}()

	inst.setState(StateRunning)
	emit(events.StatusChanged(id, StateRunning.String(), ""))
	applog.Infof(id, "listening on %s:%d, egress ip %s", host, port, ip)

	s.mu.Lock()
	s.instances[id] = inst
	s.mu.Unlock()

	return inst, nil
}

// Stop drives an instance Running -> Stopping -> Stopped, joining the
// listener goroutine with a bounded wait before forcing it closed.
func (s *Supervisor) Stop(id string) error {
	s.mu.Lock()
	inst, ok := s.instances[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: unknown instance %q", id)
	}

	inst.setState(StateStopping)
	inst.emit(events.StatusChanged(id, StateStopping.String(), ""))

	inst.cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), stopJoinTimeout)
	defer shutdownCancel()
	if err := inst.server.Shutdown(shutdownCtx); err != nil {
		_ = inst.server.Close()
	}

	select {
	case <-inst.serveDone:
	case <-time.After(stopJoinTimeout):
		_ = inst.server.Close()
	}

	s.releasePort(inst.cfg.Instance.ListenPort)

	inst.mu.Lock()
	shouldDelete := inst.delete
	inst.mu.Unlock()

	if shouldDelete {
		inst.setState(StateDeleted)
		inst.emit(events.StatusChanged(id, StateDeleted.String(), ""))
		s.mu.Lock()
		delete(s.instances, id)
		s.mu.Unlock()
		return nil
	}

	inst.setState(StateStopped)
	inst.emit(events.StatusChanged(id, StateStopped.String(), ""))
	applog.Infof(id, "stopped, port released")
	return nil
}

// Delete marks an instance for removal once stopped; if it is already
// stopped, the transition to Deleted happens immediately.
func (s *Supervisor) Delete(id string) error {
	s.mu.Lock()
	inst, ok := s.instances[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: unknown instance %q", id)
	}

	inst.mu.Lock()
	inst.delete = true
	state := inst.state
	inst.mu.Unlock()

	if state == StateStopped {
		inst.setState(StateDeleted)
		inst.emit(events.StatusChanged(id, StateDeleted.String(), ""))
		s.mu.Lock()
		delete(s.instances, id)
		s.mu.Unlock()
		return nil
	}
	return nil
}

func (s *Supervisor) reservePort(id string, requested int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requested != 0 {
		if requested < userPortLow || requested > userPortHigh {
			return 0, fmt.Errorf("supervisor: port %d outside [%d,%d]", requested, userPortLow, userPortHigh)
		}
		if owner, taken := s.ports[requested]; taken && owner != id {
			return 0, fmt.Errorf("supervisor: port %d already held by instance %q", requested, owner)
		}
		s.ports[requested] = id
		return requested, nil
	}

	for port := autoPortLow; port <= autoPortHigh; port++ {
		if _, taken := s.ports[port]; taken {
			continue
		}
		if !portBindable(port) {
			continue
		}
		s.ports[port] = id
		return port, nil
	}
	return 0, fmt.Errorf("supervisor: no free port in [%d,%d]", autoPortLow, autoPortHigh)
}

func (s *Supervisor) releasePort(port int) {
	s.mu.Lock()
	delete(s.ports, port)
	s.mu.Unlock()
}

// portBindable mirrors check_port_using: a bind-then-close probe
// rather than trusting the registry alone, since some other process
// on the host may already hold the port.
func portBindable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// probeEgressIP mirrors _check_public_ip / NetworkIpWorker: an
// out-of-band probe through the instance's upstream proxy (if any),
// trying ipify's plain-text body first, then the "query" field of
// ip-api's JSON body if ipify fails.
func probeEgressIP(cfg engineconfig.Config) (string, error) {
	client := &http.Client{Timeout: egressTimeout}
	if proxyRaw := cfg.Instance.Upstream.ProxyString(); proxyRaw != "" {
		proxyURL, err := url.Parse(proxyRaw)
		if err != nil {
			return "", fmt.Errorf("supervisor: bad upstream proxy url: %w", err)
		}
		client.Transport = &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	if ip, err := fetchBody(client, "https://api.ipify.org"); err == nil {
		return ip, nil
	}
	if body, err := fetchBody(client, "http://ip-api.com/json/?fields=query"); err == nil {
		var parsed struct {
			Query string `json:"query"`
		}
		if json.Unmarshal([]byte(body), &parsed) == nil && parsed.Query != "" {
			return parsed.Query, nil
		}
	}
	return "", fmt.Errorf("supervisor: egress IP probe failed")
}

func fetchBody(client *http.Client, target string) (string, error) {
	resp, err := client.Get(target)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("supervisor: egress probe status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// sweepCache mirrors async_cache_backend.py's clear_timeout_cache: a
// periodic pass that removes cache entries past their expire_at,
// running on a timer since this engine has no UI surface to trigger
// it manually. It stops with the rest of the instance's background
// work when ctx is cancelled.
func sweepCache(ctx context.Context, id string, cache cacheengine.Store, emit func(events.Event)) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := cache.SweepExpired()
			if err != nil {
				applog.Warnf(id, "cache sweep failed: %v", err)
				continue
			}
			if n > 0 {
				applog.Debugf(id, "cache sweep removed %d expired entries", n)
				emit(events.LogMessage(id, "debug", fmt.Sprintf("cache sweep removed %d expired entries", n)))
			}
		}
	}
}
