package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/synthbox/capture-proxy/internal/cacheengine"
	"github.com/synthbox/capture-proxy/internal/eligibility"
	"github.com/synthbox/capture-proxy/internal/engineconfig"
	"github.com/synthbox/capture-proxy/internal/events"
	"github.com/synthbox/capture-proxy/internal/extract"
	applog "github.com/synthbox/capture-proxy/internal/log"
	"github.com/synthbox/capture-proxy/internal/metrics"
	"github.com/synthbox/capture-proxy/internal/session"
	"github.com/synthbox/capture-proxy/internal/urlnorm"
)

const (
	connectTimeout   = 15 * time.Second
	readTimeout      = 40 * time.Second
	headersWrapper   = 20 * time.Second
	recompressWrap   = 60 * time.Second
	retryMaxAttempts = 3
	retryDelay       = 5 * time.Second
)

// ServeHTTP routes CONNECT flows to TLS termination and everything
// else straight into the pipeline as a plain-HTTP flow.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.handleFlow(w, r, "http")
}

// handleFlow runs P1 through the upstream dispatch for one flow.
// scheme is "http" or "https" depending on whether this request
// arrived over a CONNECT-terminated tunnel.
func (p *Pipeline) handleFlow(w http.ResponseWriter, r *http.Request, scheme string) {
	start := time.Now()
	cfg := p.ConfigSnapshot()

	fullURL := resolveFullURL(r, scheme)
	norm, err := urlnorm.Normalize(fullURL)
	if err != nil {
		http.Error(w, "bad request url", http.StatusBadGateway)
		return
	}

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, _ = io.ReadAll(r.Body)
		_ = r.Body.Close()
	}

	// P1 -- cache lookup (GET only).
	if r.Method == http.MethodGet {
		if entry, ok := p.Cache.Get(norm.Key); ok {
			p.Counters.CreditDownloadSaved(entry.OriginContentLength)
			p.Counters.CreditUploadSaved(uint64(len(bodyBytes)))
			writeCachedResponse(w, entry)
			metrics.ObserveResponse(r.Method, entry.StatusCode, "HIT", time.Since(start))
			applog.Debugf(p.InstanceID, "cache hit %s", norm.PathForLogging)
			return
		}
	}
	p.Counters.CreditUpload(uint64(len(bodyBytes)))

	if isWebSocketUpgrade(r) {
		p.tunnelWebSocket(w, r, scheme, bodyBytes)
		return
	}

	p.dispatchUpstream(w, r, scheme, norm, bodyBytes, cfg, start)
}

// dispatchUpstream is P2-P4: resolve the impersonation profile,
// checkout a session, issue the request with retry, and write the
// client-facing response. P5 (extraction + cache admission) is
// kicked off in the background once the body is in hand.
func (p *Pipeline) dispatchUpstream(w http.ResponseWriter, r *http.Request, scheme string, norm urlnorm.Result, bodyBytes []byte, cfg engineconfig.Config, start time.Time) {
	profile := p.Registry.Resolve(r.Header.Get("User-Agent"))
	sess := p.Sessions.Checkout(profile, false)
	profileTag := profile.Tag

	req := session.Request{
		Method:  r.Method,
		URL:     norm.Canonical,
		Headers: flattenHeader(r.Header),
		Body:    string(bodyBytes),
		Direct:  false,
		Timeout: int(readTimeout.Seconds()),
	}

	resp, err := p.doWithRetry(sess, req, r.Method)
	if err != nil {
		applog.Errorf(p.InstanceID, "upstream dispatch failed for %s: %v", norm.PathForLogging, err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		metrics.ObserveResponse(r.Method, http.StatusBadGateway, "", time.Since(start))
		return
	}

	respHeader := headerFromMap(resp.Headers)
	respBody := []byte(resp.Body)

	clientHeader := respHeader.Clone()
	clientHeader.Del("Content-Encoding")
	clientHeader.Del("Content-Length")
	clientHeader.Del("Transfer-Encoding")
	clientHeader.Set("Content-Length", strconv.Itoa(len(respBody)))

	for name, values := range clientHeader {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(respBody)

	dur := time.Since(start)
	metrics.ObserveResponse(r.Method, resp.Status, "MISS", dur)
	metrics.ObserveUpstreamResponse(profileTag, r.Method, resp.Status, dur)

	go p.admitAndExtract(norm, cfg, r, resp.Status, respHeader, respBody)
}

// doWithRetry applies the upstream retry policy: up to 3 total
// attempts, 5 s between them, restricted to idempotent methods (a
// reimplementation choice recorded in DESIGN.md -- the source retries
// every method).
func (p *Pipeline) doWithRetry(sess *session.Session, req session.Request, method string) (session.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		resp, err := p.doWithHeadersTimeout(sess, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == retryMaxAttempts || !isIdempotentMethod(method) {
			break
		}
		metrics.RetryInc()
		time.Sleep(retryDelay)
	}
	return session.Response{}, lastErr
}

// doWithHeadersTimeout bounds the dispatch call to headersWrapper,
// approximating a "time to first byte" wait -- the impersonating
// client used here returns the full response from one blocking call,
// so headers and body arrive together rather than as separate await
// points.
func (p *Pipeline) doWithHeadersTimeout(sess *session.Session, req session.Request) (session.Response, error) {
	type result struct {
		resp session.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := sess.Do(req)
		ch <- result{resp, err}
	}()
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-time.After(headersWrapper):
		return session.Response{}, fmt.Errorf("proxy: headers timeout after %s", headersWrapper)
	}
}

func isIdempotentMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// admitAndExtract is P5: it never blocks the client path. It credits
// download bytes, runs extraction, and -- if eligible and not already
// in flight for this key -- writes the entry to the cache.
func (p *Pipeline) admitAndExtract(norm urlnorm.Result, cfg engineconfig.Config, r *http.Request, status int, respHeader http.Header, body []byte) {
	originLen := computeOriginContentLength(respHeader, body)
	p.Counters.CreditDownload(originLen)

	if result, ok := extract.Run(cfg.ExtractRules, norm.Canonical, body); ok {
		metrics.ExtractionInc()
		p.Emit(events.Notification(p.InstanceID, "extraction", result.Body))
	}

	admissible := eligibility.Admissible(
		eligibility.Request{
			Method:       r.Method,
			CacheControl: r.Header.Get("Cache-Control"),
			Pragma:       r.Header.Get("Pragma"),
		},
		eligibility.Response{
			StatusCode:   status,
			SetCookie:    respHeader.Get("Set-Cookie") != "",
			Vary:         respHeader.Get("Vary"),
			CacheControl: respHeader.Get("Cache-Control"),
			ContentType:  respHeader.Get("Content-Type"),
		},
		norm.PathForLogging,
		norm.Canonical,
		cfg.IgnoreRules,
	)
	if !admissible {
		return
	}
	if !p.claimInProgress(norm.Key) {
		return
	}
	defer p.releaseInProgress(norm.Key)

	safe := eligibility.SafeHeaderSubset(respHeader)
	entry := cacheengine.Entry{
		StatusCode:          status,
		Header:              safe,
		Body:                body,
		OriginContentLength: originLen,
	}
	ttlSeconds := cfg.CacheTTLSeconds
	if ttlSeconds <= 0 {
		ttlSeconds = engineconfig.DefaultCacheTTLSeconds
	}
	if err := p.Cache.Set(norm.Key, entry, time.Duration(ttlSeconds)*time.Second); err != nil {
		applog.Warnf(p.InstanceID, "cache admission failed for %s: %v", norm.PathForLogging, err)
	}
}

// computeOriginContentLength computes the origin_content_length
// recorded in cache metadata: prefer the upstream Content-Length,
// else recompress a known codec and measure that, else fall back to
// the decoded length.
func computeOriginContentLength(header http.Header, decodedBody []byte) uint64 {
	if cl := header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseUint(cl, 10, 64); err == nil {
			return n
		}
	}
	switch strings.ToLower(header.Get("Content-Encoding")) {
	case "gzip":
		if n, err := runWithTimeout(recompressWrap, func() (int, error) { return gzipRecompressedSize(decodedBody) }); err == nil {
			return uint64(n)
		}
	case "deflate":
		if n, err := runWithTimeout(recompressWrap, func() (int, error) { return flateRecompressedSize(decodedBody) }); err == nil {
			return uint64(n)
		}
		// br and zstd recompression have no suitable library in the
		// retrieved stack (see DESIGN.md); fall back to decoded length.
	}
	return uint64(len(decodedBody))
}

func runWithTimeout(d time.Duration, fn func() (int, error)) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := fn()
		ch <- result{n, err}
	}()
	select {
	case r := <-ch:
		return r.n, r.err
	case <-time.After(d):
		return 0, fmt.Errorf("proxy: recompression timed out")
	}
}

func gzipRecompressedSize(decoded []byte) (int, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(decoded); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}

func flateRecompressedSize(decoded []byte) (int, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(decoded); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}

// resolveFullURL builds the absolute URL string a flow is keyed on:
// CONNECT-terminated requests carry only a relative target, plain
// forward-proxy requests already carry an absolute URL.
func resolveFullURL(r *http.Request, scheme string) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		out[name] = values[0]
	}
	return out
}

func headerFromMap(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for name, value := range m {
		h.Set(name, value)
	}
	return h
}

func writeCachedResponse(w http.ResponseWriter, entry cacheengine.Entry) {
	for _, f := range entry.Header {
		w.Header().Add(f.Name, f.Value)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Body)))
	w.WriteHeader(entry.StatusCode)
	_, _ = w.Write(entry.Body)
}
