package fingerprint_test

import (
	"testing"

	"github.com/synthbox/capture-proxy/internal/fingerprint"
)

func TestResolve_EmptyUA(t *testing.T) {
	r := fingerprint.NewCycleTLSRegistry()
	if got := r.Resolve(""); got.Tag != fingerprint.DefaultProfile {
		t.Fatalf("expected default, got %q", got.Tag)
	}
}

func TestResolve_UnknownFamily(t *testing.T) {
	r := fingerprint.NewCycleTLSRegistry()
	if got := r.Resolve("SomeCustomBot/1.0"); got.Tag != fingerprint.DefaultProfile {
		t.Fatalf("expected default, got %q", got.Tag)
	}
}

func TestResolve_Chrome133RemapsToVariant(t *testing.T) {
	r := fingerprint.NewCycleTLSRegistry()
	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
	if got := r.Resolve(ua); got.Tag != "chrome133a" {
		t.Fatalf("expected chrome133a, got %q", got.Tag)
	}
}

func TestResolve_NewerThanAnyKnownFallsBackToMax(t *testing.T) {
	r := fingerprint.NewCycleTLSRegistry()
	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/999.0.0.0 Safari/537.36"
	if got := r.Resolve(ua); got.Tag != "chrome136" {
		t.Fatalf("expected newest known chrome136, got %q", got.Tag)
	}
}

func TestResolve_OlderThanAnyKnownFallsBackToMin(t *testing.T) {
	r := fingerprint.NewCycleTLSRegistry()
	ua := "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/10.0.0.0 Safari/537.36"
	if got := r.Resolve(ua); got.Tag != "chrome99" {
		t.Fatalf("expected oldest known chrome99, got %q", got.Tag)
	}
}

func TestResolve_MobileUsesMobileCandidates(t *testing.T) {
	r := fingerprint.NewCycleTLSRegistry()
	ua := "Mozilla/5.0 (Linux; Android 10; SM-G960F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/104.0.0.0 Mobile Safari/537.36"
	got := r.Resolve(ua)
	if got.Tag != "chrome104android" {
		t.Fatalf("expected chrome104android, got %q", got.Tag)
	}
}

func TestResolve_ProfileCarriesJA3AndUserAgent(t *testing.T) {
	r := fingerprint.NewCycleTLSRegistry()
	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0"
	got := r.Resolve(ua)
	if got.JA3 == "" {
		t.Fatal("expected a non-empty JA3 fingerprint")
	}
	if got.UserAgent == "" {
		t.Fatal("expected a non-empty User-Agent")
	}
	if got.Family != "firefox" {
		t.Fatalf("expected firefox family, got %q", got.Family)
	}
}

func TestResolve_DifferentFamiliesGetDifferentJA3(t *testing.T) {
	r := fingerprint.NewCycleTLSRegistry()
	chrome := r.Resolve("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36")
	firefox := r.Resolve("Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0")
	if chrome.JA3 == firefox.JA3 {
		t.Fatal("expected distinct engine families to carry distinct JA3 fingerprints")
	}
}
