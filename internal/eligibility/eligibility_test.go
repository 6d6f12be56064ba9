package eligibility_test

import (
	"net/http"
	"testing"

	"github.com/synthbox/capture-proxy/internal/eligibility"
)

func baseReq() eligibility.Request { return eligibility.Request{Method: http.MethodGet} }

func TestAdmissible_HappyPath(t *testing.T) {
	resp := eligibility.Response{StatusCode: 200, ContentType: "application/javascript; charset=utf-8"}
	if !eligibility.Admissible(baseReq(), resp, "/a.js", "https://example.com/a.js", nil) {
		t.Fatal("expected admissible")
	}
}

func TestAdmissible_CookieVeto(t *testing.T) {
	resp := eligibility.Response{StatusCode: 200, ContentType: "application/javascript", SetCookie: true}
	if eligibility.Admissible(baseReq(), resp, "/a.js", "https://example.com/a.js", nil) {
		t.Fatal("expected veto on Set-Cookie")
	}
}

func TestAdmissible_VaryCookieVeto(t *testing.T) {
	resp := eligibility.Response{StatusCode: 200, ContentType: "application/javascript", Vary: "Accept-Encoding, Cookie"}
	if eligibility.Admissible(baseReq(), resp, "/a.js", "https://example.com/a.js", nil) {
		t.Fatal("expected veto on Vary: cookie")
	}
}

func TestAdmissible_ForbiddenDirective(t *testing.T) {
	resp := eligibility.Response{StatusCode: 200, ContentType: "application/javascript", CacheControl: "no-store"}
	if eligibility.Admissible(baseReq(), resp, "/a.js", "https://example.com/a.js", nil) {
		t.Fatal("expected veto on no-store")
	}
}

func TestAdmissible_NonGet(t *testing.T) {
	req := eligibility.Request{Method: http.MethodPost}
	resp := eligibility.Response{StatusCode: 200, ContentType: "application/javascript"}
	if eligibility.Admissible(req, resp, "/a.js", "https://example.com/a.js", nil) {
		t.Fatal("expected veto on non-GET")
	}
}

func TestAdmissible_NoResourceMatch(t *testing.T) {
	resp := eligibility.Response{StatusCode: 200, ContentType: "text/html"}
	if eligibility.Admissible(baseReq(), resp, "/page", "https://example.com/page", nil) {
		t.Fatal("expected veto, html is not a resource type")
	}
}

func TestAdmissible_ContentTypeOnlyMatch(t *testing.T) {
	resp := eligibility.Response{StatusCode: 200, ContentType: "application/pdf"}
	if !eligibility.Admissible(baseReq(), resp, "/download", "https://example.com/download", nil) {
		t.Fatal("expected admissible via content-type prefix even without matching suffix")
	}
}

func TestAdmissible_IgnoreRulePlain(t *testing.T) {
	resp := eligibility.Response{StatusCode: 200, ContentType: "application/javascript"}
	if eligibility.Admissible(baseReq(), resp, "/a.js", "https://ads.example.com/a.js", []string{"ads.example.com"}) {
		t.Fatal("expected veto via plain substring ignore rule")
	}
}

func TestAdmissible_IgnoreRuleRegex(t *testing.T) {
	resp := eligibility.Response{StatusCode: 200, ContentType: "application/javascript"}
	if eligibility.Admissible(baseReq(), resp, "/a.js", "https://track.example.com/a.js", []string{"re:^https://track\\."}) {
		t.Fatal("expected veto via regex ignore rule")
	}
}

func TestSafeHeaderSubset_DropsContentEncodingAlways(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Encoding", "gzip")
	h.Set("Content-Type", "application/javascript")
	h.Set("X-Internal-Debug", "1")
	out := eligibility.SafeHeaderSubset(h)
	if out.Get("Content-Encoding") != "" {
		t.Fatal("content-encoding must be dropped")
	}
	if out.Get("Content-Type") == "" {
		t.Fatal("content-type must be retained")
	}
	if out.Get("X-Internal-Debug") != "" {
		t.Fatal("non-safe header must be dropped")
	}
}
