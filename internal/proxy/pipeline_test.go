package proxy

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/synthbox/capture-proxy/internal/urlnorm"
)

func TestIsIdempotentMethod(t *testing.T) {
	cases := map[string]bool{
		http.MethodGet:    true,
		http.MethodHead:   true,
		http.MethodPut:    true,
		http.MethodDelete: true,
		http.MethodPost:   false,
		http.MethodPatch:  false,
	}
	for method, want := range cases {
		if got := isIdempotentMethod(method); got != want {
			t.Errorf("isIdempotentMethod(%q) = %v, want %v", method, got, want)
		}
	}
}

func TestIsWebSocketUpgrade(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	if !isWebSocketUpgrade(r) {
		t.Fatal("expected websocket upgrade to be detected")
	}

	plain := httptest.NewRequest(http.MethodGet, "http://example.com/a.js", nil)
	if isWebSocketUpgrade(plain) {
		t.Fatal("plain request should not be treated as websocket upgrade")
	}
}

func TestResolveFullURL_Absolute(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/a?b=1", nil)
	got := resolveFullURL(r, "http")
	if got != "http://example.com/a?b=1" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveFullURL_RelativeUsesSchemeAndHost(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/a.js?x=1", nil)
	r.URL.Scheme = ""
	r.URL.Host = ""
	r.Host = "example.com"
	got := resolveFullURL(r, "https")
	if got != "https://example.com/a.js?x=1" {
		t.Fatalf("got %q", got)
	}
}

func TestComputeOriginContentLength_PrefersContentLengthHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "12345")
	got := computeOriginContentLength(h, []byte("short"))
	if got != 12345 {
		t.Fatalf("got %d", got)
	}
}

func TestComputeOriginContentLength_GzipRecompress(t *testing.T) {
	decoded := bytes.Repeat([]byte("hello world "), 100)
	h := http.Header{}
	h.Set("Content-Encoding", "gzip")

	var want bytes.Buffer
	w := gzip.NewWriter(&want)
	_, _ = w.Write(decoded)
	_ = w.Close()

	got := computeOriginContentLength(h, decoded)
	if got != uint64(want.Len()) {
		t.Fatalf("got %d, want %d", got, want.Len())
	}
}

func TestComputeOriginContentLength_FallsBackForUnsupportedCodec(t *testing.T) {
	decoded := []byte("some decoded body")
	h := http.Header{}
	h.Set("Content-Encoding", "br")
	got := computeOriginContentLength(h, decoded)
	if got != uint64(len(decoded)) {
		t.Fatalf("got %d, want %d", got, len(decoded))
	}
}

func TestClaimInProgress_SecondClaimFails(t *testing.T) {
	p := &Pipeline{}
	key := urlnorm.Key{1, 2, 3}

	if !p.claimInProgress(key) {
		t.Fatal("first claim should succeed")
	}
	if p.claimInProgress(key) {
		t.Fatal("second concurrent claim for the same key should fail")
	}
	p.releaseInProgress(key)
	if !p.claimInProgress(key) {
		t.Fatal("claim should succeed again after release")
	}
}

func TestFlattenHeader_TakesFirstValue(t *testing.T) {
	h := http.Header{}
	h.Add("X-A", "one")
	h.Add("X-A", "two")
	flat := flattenHeader(h)
	if flat["X-A"] != "one" {
		t.Fatalf("got %q", flat["X-A"])
	}
}
