// Package identity implements the Identity Resolver (C3): mapping
// first-person references in extracted triples to the user's anchor
// entity, and flagging second-person references so callers can drop
// them. Third-person pronouns are not recognized and pass through like
// any other token.
package identity

import (
	"strings"

	"github.com/atlasagent/atlas-core/pkg/catalog"
	"github.com/atlasagent/atlas-core/pkg/model"
)

// Person classifies a normalized token's grammatical person.
type Person int

const (
	PersonOther Person = iota
	PersonFirst
	PersonSecond
)

// firstPersonTokens covers BEN and its case/possessive forms, plus
// possessive-suffixed self-reference tokens like ADIM/YASIM that show up
// as the extractor's subject when the user says "adım Muhammet" or "32
// yaşındayım" without an explicit BEN.
var firstPersonTokens = map[string]bool{
	"BEN":     true,
	"BENIM":   true,
	"BANA":    true,
	"BENI":    true,
	"KENDIM":  true,
	"ADIM":    true,
	"YASIM":   true,
	"EVIM":    true,
	"AILEM":   true,
	"ISMIM":   true,
}

var secondPersonTokens = map[string]bool{
	"SEN":    true,
	"SENIN":  true,
	"SANA":   true,
	"SENI":   true,
	"SIZ":    true,
	"SIZIN":  true,
	"KENDIN": true,
}

// Classify normalizes tok (via catalog.Normalize) and classifies its
// grammatical person.
func Classify(tok string) Person {
	n := catalog.Normalize(tok)
	if firstPersonTokens[n] {
		return PersonFirst
	}
	if secondPersonTokens[n] {
		return PersonSecond
	}
	return PersonOther
}

// ResolveSubject rewrites a first-person subject to the user's anchor
// name. It returns ok=false when the subject is a second-person pronoun,
// for which the triple is dropped (spec §4.2). Third-person pronouns are
// not classified and are returned unchanged with ok=true.
//
// A subject that is not recognized as any pronoun form at all (an actual
// named entity, e.g. "Ali") passes through unchanged with ok=true.
func ResolveSubject(subject, userID string) (resolved string, ok bool) {
	switch Classify(subject) {
	case PersonFirst:
		return model.AnchorName(userID), true
	case PersonSecond:
		return "", false
	default:
		return subject, true
	}
}

// ResolveObject reports whether an object may remain in the triple. A
// second-person object (e.g. "(Ali, SEVER, SEN)") drops the triple
// entirely, per spec scenario 5.
func ResolveObject(object string) (ok bool) {
	return Classify(object) != PersonSecond
}

// IsAnchorName reports whether s is already a user anchor name.
func IsAnchorName(s string) bool {
	return strings.HasPrefix(s, "__USER__::")
}
