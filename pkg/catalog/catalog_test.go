package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
ISIM:
  canonical: İSİM
  aliases: ["ADI", "ADIM", "NAME"]
  enabled: true
  durability: LONG_TERM
  type: EXCLUSIVE
  category: identity

SEVER:
  canonical: SEVER
  aliases: ["LIKES", "BEGENIR"]
  enabled: true
  durability: LONG_TERM
  type: ADDITIVE
  category: preference

GECICI_DURUM:
  canonical: GECICI_DURUM
  aliases: []
  enabled: true
  durability: EPHEMERAL
  type: META
  category: state
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write sample catalog: %v", err)
	}
	return path
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"İsim", "ISIM"},
		{"  adı  ", "ADI"},
		{"ad im", "AD_IM"},
		{"şöyle-böyle", "SOYLEBOYLE"},
		{"a___b", "A_B"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLookupResolvesAliases(t *testing.T) {
	path := writeSample(t)
	c, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	entry, ok := c.Lookup("adım")
	if !ok {
		t.Fatal("expected alias ADIM to resolve")
	}
	if entry.Key != "ISIM" {
		t.Errorf("Lookup alias -> key = %q, want ISIM", entry.Key)
	}
	if entry.Type != CardinalityExclusive {
		t.Errorf("Type = %q, want EXCLUSIVE", entry.Type)
	}
}

func TestLookupUnknownFailsClosed(t *testing.T) {
	path := writeSample(t)
	c, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	if _, ok := c.Lookup("TAMAMEN_BILINMEYEN"); ok {
		t.Error("expected unknown predicate to fail closed")
	}
}

func TestNilCatalogFailsOpenToNotFound(t *testing.T) {
	var c *Catalog
	if _, ok := c.Lookup("ISIM"); ok {
		t.Error("nil catalog Lookup should report not-found, callers decide fail-open policy")
	}
	if c.Len() != 0 {
		t.Errorf("nil catalog Len() = %d, want 0", c.Len())
	}
}

func TestBridgeCategory(t *testing.T) {
	if got := BridgeCategory("identity"); got != "personal" {
		t.Errorf("BridgeCategory(identity) = %q, want personal", got)
	}
	if got := BridgeCategory("location"); got != "personal" {
		t.Errorf("BridgeCategory(location) = %q, want personal", got)
	}
	if got := BridgeCategory("state"); got != "general" {
		t.Errorf("BridgeCategory(state) = %q, want general", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("expected error loading missing catalog file")
	}
}
