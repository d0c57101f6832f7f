// Package extractor implements the Triple Extractor + Sanitizer (C4):
// LLM-assisted (subject, predicate, object, confidence) extraction,
// catalog-enforced filtering, and anchor mapping.
package extractor

import (
	"context"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/atlasagent/atlas-core/pkg/catalog"
	"github.com/atlasagent/atlas-core/pkg/identity"
	"github.com/atlasagent/atlas-core/pkg/sharederrors"
)

// MinTextLength is the threshold below which extraction is skipped
// entirely (spec §4.3 step 1).
const MinTextLength = 4

// MinConfidence is the drop threshold for raw extracted confidence.
const MinConfidence = 0.4

// SoftThreshold demotes a personal-category triple to soft_signal when
// confidence falls below it (spec §4.3 step 3).
const SoftThreshold = 0.7

// RawTriple is the permissively-parsed shape of one extractor output
// item, before sanitization.
type RawTriple struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// Sanitized is a triple that survived every sanitizer rule, annotated
// with its resolved catalog entry and final category.
type Sanitized struct {
	Subject    string
	Predicate  string // canonical catalog key
	Object     string
	Confidence float64
	Category   string // bridged category: identity/personal/general/soft_signal
	Durability catalog.Durability
	Type       catalog.CardinalityType
}

// ModelCaller invokes the extractor model with a raw-text prompt and
// returns its raw text response. Implementations wrap pkg/keypool.
type ModelCaller func(ctx context.Context, text string) (string, error)

// intentVerbs and imperativeKeywords implement the "command in disguise"
// drop rule from spec §4.3 step 3: a wanting/planning predicate whose
// object carries an imperative like forget/clear/reset is a prompt
// injection attempt riding in as a fact, not a fact.
var intentVerbs = map[string]bool{
	"ISTIYOR":     true,
	"ISTER":       true,
	"PLANLIYOR":   true,
	"NIYETINDE":   true,
}

var imperativeKeywords = []string{"UNUT", "TEMIZLE", "SIFIRLA", "SIL"}

var placeholderValues = map[string]bool{
	"UNKNOWN":       true,
	"BILINMIYOR":    true,
	"NOT_SPECIFIED": true,
	"BELIRTILMEDI":  true,
	"N/A":           true,
	"NONE":          true,
}

// Extract calls the model, parses its output permissively, and returns
// the sanitized triple list. An unparseable response is treated as an
// empty extraction (spec §7 ExtractorParse: never poison the graph).
// cat resolves each candidate's predicate against the Predicate Catalog
// (C2); see Sanitize's doc comment for its nil behavior.
func Extract(ctx context.Context, call ModelCaller, text, userID string, cat *catalog.Catalog) ([]Sanitized, error) {
	if len([]rune(strings.TrimSpace(text))) < MinTextLength {
		return nil, nil
	}

	raw, err := call(ctx, text)
	if err != nil {
		return nil, sharederrors.FailedToWithDetails("extract triples", "extractor", "", err)
	}

	candidates, err := parsePermissive(raw)
	if err != nil {
		// ExtractorParse: swallow, return empty rather than propagate.
		return nil, nil
	}

	return Sanitize(candidates, userID, cat)
}

// parsePermissive accepts a bare JSON array, or an object with a
// "triplets"/"facts"/"items" key holding the array, using gojq so the
// shape doesn't need a strict Go struct on the wire.
func parsePermissive(raw string) ([]RawTriple, error) {
	query, err := gojq.Parse(`
		if type == "array" then .
		elif has("triplets") then .triplets
		elif has("facts") then .facts
		elif has("items") then .items
		else []
		end
	`)
	if err != nil {
		return nil, err
	}

	var decoded interface{}
	if err := unmarshalJSON(raw, &decoded); err != nil {
		return nil, err
	}

	iter := query.Run(decoded)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if jqErr, ok := v.(error); ok {
		return nil, jqErr
	}

	items, ok := v.([]interface{})
	if !ok {
		return nil, nil
	}

	out := make([]RawTriple, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		t := RawTriple{
			Subject:   stringField(m, "subject"),
			Predicate: stringField(m, "predicate"),
			Object:    stringField(m, "object"),
		}
		if c, ok := m["confidence"].(float64); ok {
			t.Confidence = c
		} else {
			t.Confidence = 0.7 // open question: unify default confidence at ingestion
		}
		out = append(out, t)
	}
	return out, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Sanitize applies the full sanitizer pipeline of spec §4.3 steps 3-4 to
// an already-decoded candidate list. cat should be the process's loaded
// Predicate Catalog; a nil cat makes every predicate resolve to unknown
// (catalog.Catalog.Lookup's nil-receiver behavior), so every candidate is
// dropped at the catalog gate below — callers must pass a real catalog to
// persist anything.
func Sanitize(candidates []RawTriple, userID string, cat *catalog.Catalog) ([]Sanitized, error) {
	out := make([]Sanitized, 0, len(candidates))

	// Batch-wide self-reference heuristic (step 3, bullet 6): detect
	// "<name> ISIM <name>" or "BEN ISIM <name>" and remember the name so
	// later triples whose subject equals it get remapped to the anchor.
	selfNames := map[string]bool{}
	for _, c := range candidates {
		pred := catalog.Normalize(c.Predicate)
		if pred != "ISIM" {
			continue
		}
		subjPerson := identity.Classify(c.Subject)
		if subjPerson == identity.PersonFirst || strings.EqualFold(c.Subject, c.Object) {
			selfNames[strings.ToUpper(c.Object)] = true
			selfNames[strings.ToUpper(firstToken(c.Object))] = true
		}
	}

	for _, c := range candidates {
		s, ok := sanitizeOne(c, userID, cat, selfNames)
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

func sanitizeOne(c RawTriple, userID string, cat *catalog.Catalog, selfNames map[string]bool) (Sanitized, bool) {
	subject := strings.TrimSpace(c.Subject)
	predicate := strings.TrimSpace(c.Predicate)
	object := strings.TrimSpace(c.Object)

	if subject == "" || predicate == "" || object == "" {
		return Sanitized{}, false
	}
	if len([]rune(subject)) < 2 || len([]rune(object)) < 2 {
		return Sanitized{}, false
	}

	if isCommandInDisguise(predicate, object) {
		return Sanitized{}, false
	}

	if c.Confidence < MinConfidence {
		return Sanitized{}, false
	}

	if selfNames[strings.ToUpper(subject)] || selfNames[strings.ToUpper(firstToken(subject))] {
		subject = identityAnchor(userID)
	} else {
		resolved, ok := identity.ResolveSubject(subject, userID)
		if !ok {
			return Sanitized{}, false
		}
		subject = resolved
	}

	if !identity.ResolveObject(object) {
		return Sanitized{}, false
	}

	entry, ok := cat.Lookup(predicate)
	if !ok {
		return Sanitized{}, false
	}
	if !entry.Enabled {
		return Sanitized{}, false
	}

	if entry.Durability == catalog.DurabilityEphemeral || entry.Durability == catalog.DurabilitySession {
		return Sanitized{}, false
	}

	category := string(catalog.BridgeCategory(entry.Category))
	if category == "personal" && placeholderValues[strings.ToUpper(object)] {
		return Sanitized{}, false
	}

	if c.Confidence < SoftThreshold && category == "personal" {
		category = "soft_signal"
	}

	return Sanitized{
		Subject:    subject,
		Predicate:  entry.Key,
		Object:     object,
		Confidence: c.Confidence,
		Category:   category,
		Durability: entry.Durability,
		Type:       entry.Type,
	}, true
}

func identityAnchor(userID string) string {
	return "__USER__::" + strings.ToLower(userID)
}

func isCommandInDisguise(predicate, object string) bool {
	if !intentVerbs[catalog.Normalize(predicate)] {
		return false
	}
	upperObj := strings.ToUpper(object)
	for _, kw := range imperativeKeywords {
		if strings.Contains(upperObj, kw) {
			return true
		}
	}
	return false
}
