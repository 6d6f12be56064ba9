package extract_test

import (
	"testing"

	"github.com/synthbox/capture-proxy/internal/extract"
)

func TestRun_JSONRuleFires(t *testing.T) {
	rules := []extract.Rule{
		{URLRule: "api.example.com/login", BodyRule: "json:token,expires_in", TemplateText: "result = join(' | ', data)"},
	}
	body := []byte(`{"token":"abc","expires_in":3600}`)
	res, ok := extract.Run(rules, "https://api.example.com/login", body)
	if !ok {
		t.Fatal("expected rule to fire")
	}
	if res.Body != "abc | 3600" {
		t.Fatalf("got %q", res.Body)
	}
}

func TestRun_NoMatchingURL(t *testing.T) {
	rules := []extract.Rule{
		{URLRule: "api.example.com/login", BodyRule: "json:token", TemplateText: "result = join(' | ', data)"},
	}
	_, ok := extract.Run(rules, "https://example.com/other", []byte(`{"token":"abc"}`))
	if ok {
		t.Fatal("expected no rule to fire")
	}
}

func TestRun_EmptyExtractionIsIgnored(t *testing.T) {
	rules := []extract.Rule{
		{URLRule: "example.com", BodyRule: "re:zzz-not-present", TemplateText: "result = join(', ', data)"},
	}
	_, ok := extract.Run(rules, "https://example.com/a", []byte("hello world"))
	if ok {
		t.Fatal("expected empty extraction to be skipped")
	}
}

func TestRun_StopsAtFirstMatchingRule(t *testing.T) {
	rules := []extract.Rule{
		{URLRule: "example.com", BodyRule: "re:hello", TemplateText: "result = 'first'"},
		{URLRule: "example.com", BodyRule: "re:hello", TemplateText: "result = 'second'"},
	}
	res, ok := extract.Run(rules, "https://example.com/a", []byte("hello world"))
	if !ok || res.Body != "first" {
		t.Fatalf("expected first rule to win, got %q ok=%v", res.Body, ok)
	}
}

func TestRun_CSSSelector(t *testing.T) {
	rules := []extract.Rule{
		{URLRule: "example.com", BodyRule: "bs4:.price", TemplateText: "result = join(',', data)"},
	}
	html := `<html><body><span class="price">9.99</span></body></html>`
	res, ok := extract.Run(rules, "https://example.com/item", []byte(html))
	if !ok || res.Body != "9.99" {
		t.Fatalf("got %q ok=%v", res.Body, ok)
	}
}
