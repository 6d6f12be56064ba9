package proxy

import (
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"net/http"

	applog "github.com/synthbox/capture-proxy/internal/log"
)

// handleConnect terminates TLS for a CONNECT tunnel using the
// instance's root CA and re-enters the pipeline for every request the
// client sends over the decrypted connection.
func (p *Pipeline) handleConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connect unsupported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		applog.Errorf(p.InstanceID, "connect hijack failed: %v", err)
		return
	}
	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		_ = clientConn.Close()
		return
	}

	targetHost := r.URL.Host
	if targetHost == "" {
		targetHost = r.Host
	}

	tlsConn := tls.Server(clientConn, p.Authority.TLSConfig())
	ln := newSingleConnListener(tlsConn)

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r2 *http.Request) {
			if r2.Host == "" {
				r2.Host = targetHost
			}
			p.handleFlow(w, r2, "https")
		}),
		ReadTimeout:  readTimeout,
		WriteTimeout: readTimeout,
	}
	_ = server.Serve(ln)
}

// singleConnListener adapts one already-accepted net.Conn to the
// net.Listener shape http.Server.Serve expects, so the same pipeline
// handler can run over a CONNECT-terminated TLS connection.
type singleConnListener struct {
	conn net.Conn
	done chan struct{}
}

func newSingleConnListener(conn net.Conn) *singleConnListener {
	return &singleConnListener{conn: conn, done: make(chan struct{})}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	if l.conn != nil {
		c := l.conn
		l.conn = nil
		return c, nil
	}
	<-l.done
	return nil, io.EOF
}

func (l *singleConnListener) Close() error {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	return nil
}

func (l *singleConnListener) Addr() net.Addr {
	if l.conn != nil {
		return l.conn.LocalAddr()
	}
	return &net.TCPAddr{}
}

// tunnelWebSocket bypasses the pipeline entirely, per the WebSocket
// non-goal: it dials the origin directly and splices the connections,
// never touching the cache or the impersonating session pool.
func (p *Pipeline) tunnelWebSocket(w http.ResponseWriter, r *http.Request, scheme string, bodyBytes []byte) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "websocket passthrough unsupported", http.StatusBadGateway)
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer clientConn.Close()

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		if scheme == "https" {
			host = net.JoinHostPort(host, "443")
		} else {
			host = net.JoinHostPort(host, "80")
		}
	}

	var upstreamConn net.Conn
	if scheme == "https" {
		upstreamConn, err = tls.DialWithDialer(&net.Dialer{Timeout: connectTimeout}, "tcp", host, &tls.Config{InsecureSkipVerify: true})
	} else {
		upstreamConn, err = net.DialTimeout("tcp", host, connectTimeout)
	}
	if err != nil {
		applog.Warnf(p.InstanceID, "websocket dial failed for %s: %v", host, err)
		return
	}
	defer upstreamConn.Close()

	r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	if err := r.Write(upstreamConn); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstreamConn, clientBuf)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(clientConn, upstreamConn)
		done <- struct{}{}
	}()
	<-done
}
