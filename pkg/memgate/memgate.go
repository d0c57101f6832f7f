// Package memgate implements the Memory Write Gate (C5): per-triple
// decision between DISCARD/SESSION/EPHEMERAL/LONG_TERM/PROSPECTIVE.
package memgate

import (
	"strings"

	"github.com/atlasagent/atlas-core/pkg/catalog"
	"github.com/atlasagent/atlas-core/pkg/extractor"
)

// Decision is the MWG's output bucket for one triple.
type Decision string

const (
	DecisionDiscard     Decision = "DISCARD"
	DecisionSession     Decision = "SESSION"
	DecisionEphemeral   Decision = "EPHEMERAL"
	DecisionLongTerm    Decision = "LONG_TERM"
	DecisionProspective Decision = "PROSPECTIVE"
)

// Thresholds are the scoring cutoffs from spec §4.4.
type Thresholds struct {
	UtilityMin    float64 // θ_u
	StabilityMin  float64 // θ_s
	ConfidenceMin float64 // θ_c
}

// DefaultThresholds matches the values implied by spec §4.4's scoring
// table (a LONG_TERM write needs above-average utility/stability/conf).
var DefaultThresholds = Thresholds{UtilityMin: 0.6, StabilityMin: 0.6, ConfidenceMin: 0.6}

// TTL holds the policy-configured EPHEMERAL/SESSION lifetimes.
type TTL struct {
	EphemeralSeconds int
	SessionSeconds   int
}

// Policy is the per-user gate configuration.
type Policy struct {
	WriteEnabled bool
	TTL          TTL
}

// Result is the MWG's decision for one triple, with its TTL in seconds
// when applicable (0 otherwise).
type Result struct {
	Triple     extractor.Sanitized
	Decision   Decision
	TTLSeconds int
}

var categoryUtility = map[string]float64{
	"identity":     0.9,
	"preference":   0.8,
	"relationship": 0.8,
	"event":        0.7,
	"state":        0.3,
}

func utilityFor(category string) float64 {
	if u, ok := categoryUtility[strings.ToLower(category)]; ok {
		return u
	}
	return 0.5
}

func stabilityFor(d catalog.Durability) float64 {
	switch d {
	case catalog.DurabilityStatic:
		return 1.0
	case catalog.DurabilityLongTerm:
		return 0.8
	case catalog.DurabilitySession:
		return 0.4
	case catalog.DurabilityEphemeral:
		return 0.2
	default:
		return 0.5
	}
}

func confidenceFor(t extractor.Sanitized) float64 {
	if t.Confidence <= 0 {
		return 0.7
	}
	return t.Confidence
}

// RecurrenceChecker reports whether an identical ACTIVE
// (subject, predicate, object, user_id) fact already exists, per spec
// §4.4's recurrence score definition. Backed by pkg/graphstore.
type RecurrenceChecker func(subject, predicate, object, userID string) (bool, error)

// prospectiveKeywords triggers the write_enabled==false + prospective
// carve-out in spec §4.4's decision table.
var prospectiveKeywords = []string{"HATIRLAT", "ALARM", "REMIND"}

// HasProspectiveIntent reports whether rawText looks like a reminder
// request, independent of any extracted triple.
func HasProspectiveIntent(rawText string) bool {
	upper := strings.ToUpper(rawText)
	for _, kw := range prospectiveKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

// Evaluate runs the decision table of spec §4.4 for one sanitized
// triple. rawText is the original user text (for prospective-intent
// detection); recurrence may be nil if unavailable, in which case the
// recurrence-based LONG_TERM path is skipped (the outcome is then the
// utility/stability/confidence path, which is checked first, or the
// EPHEMERAL default).
func Evaluate(t extractor.Sanitized, policy Policy, rawText string, recurrence RecurrenceChecker, userID string, th Thresholds) (Result, error) {
	if !policy.WriteEnabled {
		if HasProspectiveIntent(rawText) {
			return Result{Triple: t, Decision: DecisionProspective}, nil
		}
		return Result{Triple: t, Decision: DecisionDiscard}, nil
	}

	switch t.Durability {
	case catalog.DurabilityEphemeral:
		return Result{Triple: t, Decision: DecisionEphemeral, TTLSeconds: policy.TTL.EphemeralSeconds}, nil
	case catalog.DurabilitySession:
		return Result{Triple: t, Decision: DecisionSession, TTLSeconds: policy.TTL.SessionSeconds}, nil
	case catalog.DurabilityProspective:
		return Result{Triple: t, Decision: DecisionProspective}, nil
	}

	utility := utilityFor(t.Category)
	stability := stabilityFor(t.Durability)
	confidence := confidenceFor(t)

	if utility >= th.UtilityMin && stability >= th.StabilityMin && confidence >= th.ConfidenceMin {
		return Result{Triple: t, Decision: DecisionLongTerm}, nil
	}

	if recurrence != nil {
		recurs, err := recurrence(t.Subject, t.Predicate, t.Object, userID)
		if err != nil {
			return Result{}, err
		}
		if recurs && utility >= th.UtilityMin {
			return Result{Triple: t, Decision: DecisionLongTerm}, nil
		}
	}

	return Result{Triple: t, Decision: DecisionEphemeral, TTLSeconds: policy.TTL.EphemeralSeconds}, nil
}

// EvaluateBatch runs Evaluate over every triple and returns only the
// LONG_TERM subset ready for the lifecycle engine, alongside the full
// result list for callers that need to act on SESSION/EPHEMERAL/
// PROSPECTIVE/DISCARD buckets too (spec §4.4 closing line: "Only
// LONG_TERM triples are forwarded to the lifecycle engine").
func EvaluateBatch(triples []extractor.Sanitized, policy Policy, rawText string, recurrence RecurrenceChecker, userID string, th Thresholds) (all []Result, longTerm []extractor.Sanitized, err error) {
	all = make([]Result, 0, len(triples))
	for _, t := range triples {
		r, evalErr := Evaluate(t, policy, rawText, recurrence, userID, th)
		if evalErr != nil {
			return nil, nil, evalErr
		}
		all = append(all, r)
		if r.Decision == DecisionLongTerm {
			longTerm = append(longTerm, t)
		}
	}
	return all, longTerm, nil
}

