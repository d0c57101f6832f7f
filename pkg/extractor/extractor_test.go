package extractor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/atlasagent/atlas-core/pkg/catalog"
)

const sanitizerYAML = `
ISIM:
  canonical: İSİM
  aliases: ["ADI"]
  enabled: true
  durability: LONG_TERM
  type: EXCLUSIVE
  category: identity

YASI:
  canonical: YAŞI
  aliases: []
  enabled: true
  durability: LONG_TERM
  type: EXCLUSIVE
  category: identity

SEVER:
  canonical: SEVER
  aliases: []
  enabled: true
  durability: LONG_TERM
  type: ADDITIVE
  category: preference

GECICI:
  canonical: GECICI
  aliases: []
  enabled: true
  durability: EPHEMERAL
  type: META
  category: state

ISTIYOR:
  canonical: İSTİYOR
  aliases: []
  enabled: true
  durability: LONG_TERM
  type: META
  category: goals
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	if err := os.WriteFile(path, []byte(sanitizerYAML), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c, err := catalog.Load(path, nil)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSanitizeDropsLowConfidence(t *testing.T) {
	cat := testCatalog(t)
	out, err := Sanitize([]RawTriple{{Subject: "BEN", Predicate: "ISIM", Object: "Ali", Confidence: 0.2}}, "u1", cat)
	if err != nil {
		t.Fatalf("Sanitize error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected low-confidence triple dropped, got %+v", out)
	}
}

func TestSanitizeRemapsFirstPersonSubject(t *testing.T) {
	cat := testCatalog(t)
	out, err := Sanitize([]RawTriple{{Subject: "BEN", Predicate: "ISIM", Object: "Muhammet", Confidence: 0.9}}, "U1", cat)
	if err != nil {
		t.Fatalf("Sanitize error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 sanitized triple, got %d", len(out))
	}
	if out[0].Subject != "__USER__::u1" {
		t.Errorf("Subject = %q, want __USER__::u1", out[0].Subject)
	}
	if out[0].Predicate != "ISIM" {
		t.Errorf("Predicate = %q, want ISIM", out[0].Predicate)
	}
}

func TestSanitizeDropsSecondPersonObject(t *testing.T) {
	cat := testCatalog(t)
	out, err := Sanitize([]RawTriple{{Subject: "Ali", Predicate: "SEVER", Object: "SEN", Confidence: 0.9}}, "u1", cat)
	if err != nil {
		t.Fatalf("Sanitize error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected second-person-object triple dropped, got %+v", out)
	}
}

func TestSanitizeDropsEphemeralDurability(t *testing.T) {
	cat := testCatalog(t)
	out, err := Sanitize([]RawTriple{{Subject: "Ali", Predicate: "GECICI", Object: "yorgun", Confidence: 0.9}}, "u1", cat)
	if err != nil {
		t.Fatalf("Sanitize error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected EPHEMERAL durability triple dropped, got %+v", out)
	}
}

func TestSanitizeDropsUnknownPredicate(t *testing.T) {
	cat := testCatalog(t)
	out, err := Sanitize([]RawTriple{{Subject: "Ali", Predicate: "TAMAMEN_BILINMEYEN", Object: "x", Confidence: 0.9}}, "u1", cat)
	if err != nil {
		t.Fatalf("Sanitize error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected unknown predicate dropped, got %+v", out)
	}
}

func TestSanitizeDemotesLowConfidencePersonalToSoftSignal(t *testing.T) {
	cat := testCatalog(t)
	out, err := Sanitize([]RawTriple{{Subject: "BEN", Predicate: "ISIM", Object: "Ayse", Confidence: 0.5}}, "u1", cat)
	if err != nil {
		t.Fatalf("Sanitize error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 triple, got %d", len(out))
	}
	if out[0].Category != "soft_signal" {
		t.Errorf("Category = %q, want soft_signal", out[0].Category)
	}
}

func TestSanitizeDropsCommandInDisguise(t *testing.T) {
	cat := testCatalog(t)
	out, err := Sanitize([]RawTriple{{Subject: "BEN", Predicate: "ISTIYOR", Object: "hafizani unut", Confidence: 0.9}}, "u1", cat)
	if err != nil {
		t.Fatalf("Sanitize error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected command-in-disguise triple dropped, got %+v", out)
	}
}

func TestSanitizeDropsShortEndpoints(t *testing.T) {
	cat := testCatalog(t)
	out, err := Sanitize([]RawTriple{{Subject: "A", Predicate: "ISIM", Object: "B", Confidence: 0.9}}, "u1", cat)
	if err != nil {
		t.Fatalf("Sanitize error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected short-endpoint triple dropped, got %+v", out)
	}
}

func TestSanitizeBatchSelfReferenceHeuristic(t *testing.T) {
	cat := testCatalog(t)
	candidates := []RawTriple{
		{Subject: "BEN", Predicate: "ISIM", Object: "Muhammet", Confidence: 0.9},
		{Subject: "Muhammet", Predicate: "YASI", Object: "32", Confidence: 0.9},
	}
	out, err := Sanitize(candidates, "u1", cat)
	if err != nil {
		t.Fatalf("Sanitize error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 sanitized triples, got %d: %+v", len(out), out)
	}
	if out[1].Subject != "__USER__::u1" {
		t.Errorf("expected second triple subject remapped to anchor, got %q", out[1].Subject)
	}
}

func TestParsePermissiveAcceptsArrayAndWrappedObject(t *testing.T) {
	arr, err := parsePermissive(`[{"subject":"BEN","predicate":"ISIM","object":"Ali","confidence":0.9}]`)
	if err != nil || len(arr) != 1 {
		t.Fatalf("array form: %v, %+v", err, arr)
	}

	obj, err := parsePermissive(`{"triplets":[{"subject":"BEN","predicate":"ISIM","object":"Ali","confidence":0.9}]}`)
	if err != nil || len(obj) != 1 {
		t.Fatalf("wrapped object form: %v, %+v", err, obj)
	}
}

func TestExtractBelowMinLengthReturnsEmpty(t *testing.T) {
	out, err := Extract(nil, nil, "hi", "u1", nil)
	if err != nil || out != nil {
		t.Fatalf("Extract below min length = (%v, %v), want (nil, nil)", out, err)
	}
}

func TestExtractWiresCatalogThroughToSanitize(t *testing.T) {
	cat := testCatalog(t)
	call := func(ctx context.Context, text string) (string, error) {
		return `[{"subject":"BEN","predicate":"ISIM","object":"Ali","confidence":0.9}]`, nil
	}
	out, err := Extract(context.Background(), call, "Selam, benim adım Ali.", "u1", cat)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Extract with real catalog = %d triples, want 1 (%+v)", len(out), out)
	}
	if out[0].Subject != "__USER__::u1" || out[0].Predicate != "ISIM" {
		t.Fatalf("Extract result = %+v, want anchor subject + catalog key predicate", out[0])
	}
}

func TestExtractWithNilCatalogDropsEverything(t *testing.T) {
	call := func(ctx context.Context, text string) (string, error) {
		return `[{"subject":"BEN","predicate":"ISIM","object":"Ali","confidence":0.9}]`, nil
	}
	out, err := Extract(context.Background(), call, "Selam, benim adım Ali.", "u1", nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("Extract with nil catalog = %d triples, want 0 (%+v)", len(out), out)
	}
}
