package certauthority_test

import (
	"testing"

	"github.com/synthbox/capture-proxy/internal/certauthority"
)

func TestLoad_GeneratesOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	auth, err := certauthority.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if auth == nil {
		t.Fatal("expected an authority")
	}
}

func TestLoad_ReloadsExistingCA(t *testing.T) {
	dir := t.TempDir()
	if _, err := certauthority.Load(dir); err != nil {
		t.Fatal(err)
	}
	// Second load must read the persisted PEM files rather than
	// regenerating -- if it failed to parse, Load would error.
	if _, err := certauthority.Load(dir); err != nil {
		t.Fatalf("expected reload to succeed: %v", err)
	}
}

func TestLeafFor_CachesPerHost(t *testing.T) {
	auth, err := certauthority.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	first, err := auth.LeafFor("example.com")
	if err != nil {
		t.Fatal(err)
	}
	second, err := auth.LeafFor("example.com")
	if err != nil {
		t.Fatal(err)
	}
	if string(first.Certificate[0]) != string(second.Certificate[0]) {
		t.Fatal("expected cached leaf for the same host")
	}
}

func TestLeafFor_DistinctHostsGetDistinctCerts(t *testing.T) {
	auth, err := certauthority.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a, err := auth.LeafFor("a.example.com")
	if err != nil {
		t.Fatal(err)
	}
	b, err := auth.LeafFor("b.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if string(a.Certificate[0]) == string(b.Certificate[0]) {
		t.Fatal("expected distinct certs for distinct hosts")
	}
}
