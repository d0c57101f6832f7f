package synthesizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// MoodPredicate is the catalog key written by the extractor for an
// emotional-state triple (catalog category "emotional", spec §4.1's
// category bridge), read back here for the synthesizer's emotional
// continuity directive.
const MoodPredicate = "MOOD"

// moodWindow is the 3-day lookback for emotional continuity (spec §4.9).
const moodWindow = 72 * time.Hour

// fatigueTokens / elationTokens are the keyword vocabularies the
// mirroring directive scans for, mirroring the identity resolver's
// small fixed-vocabulary matching style rather than a model call.
var fatigueTokens = []string{"yorgun", "bitkin", "uykusuz", "bıktım", "çok yorucu"}
var elationTokens = []string{"harika", "çok mutluyum", "inanılmaz sevindim", "müthiş"}

// Input is everything the synthesizer needs to assemble one combined
// prompt (spec §4.9).
type Input struct {
	SessionID        string
	UserID           string
	Intent           string
	UserMessage      string
	StyleKey         string
	Topic            string
	PreviousTopic    string
	SessionTurnCount int
	HasConflicts     bool
	ContextInjection string
	IdentityFacts    []model.Fact
	MoodFacts        []model.Fact
	Results          []model.TaskResult
	Now              time.Time
}

// memoryVoicePreamble renders identity facts as natural-language
// sentences, with a standing instruction never to surface the words
// "profile"/"records"/"database" (spec §4.9 bullet 1).
func memoryVoicePreamble(facts []model.Fact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Kullanıcı hakkında bildiklerin (bunları asla \"profil\", \"kayıt\" ya da \"veritabanı\" diye anma, doğal konuş):\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s: %s\n", f.Predicate, f.Object)
	}
	return b.String()
}

func styleDirectives(preset StylePreset) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", preset.Persona)
	fmt.Fprintf(&b, "Ton: %s. Uzunluk: %s. Detay seviyesi: %s.\n", preset.Tone, preset.MaxLength, preset.DetailLevel)
	if !preset.EmojiAllowed {
		b.WriteString("Emoji kullanma.\n")
	}
	return b.String()
}

func detectsFatigue(userMessage string) bool {
	return containsAny(strings.ToLower(userMessage), fatigueTokens)
}

func detectsElation(userMessage string) bool {
	return containsAny(strings.ToLower(userMessage), elationTokens)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// situationalInstructions builds the mirroring / conflict-resolution /
// topic-transition / emotional-continuity directives (spec §4.9 bullet 3).
func situationalInstructions(in Input) string {
	var b strings.Builder
	if detectsFatigue(in.UserMessage) {
		b.WriteString("Kullanıcı yorgun görünüyor; tonunu buna göre yumuşat, sabırlı ol.\n")
	}
	if detectsElation(in.UserMessage) {
		b.WriteString("Kullanıcı sevinçli görünüyor; bu enerjiye olumlu şekilde eşlik et.\n")
	}
	if in.HasConflicts {
		b.WriteString("Kullanıcının çelişen kayıtlı bilgileri var; yanıtlamadan önce ya da yanıt içinde kibarca netleştirici bir soru sor.\n")
	}
	if in.PreviousTopic != "" && in.Topic != "" && in.PreviousTopic != in.Topic {
		fmt.Fprintf(&b, "Konuşma konusu \"%s\"den \"%s\"ye geçti; geçişi doğal bir şekilde yansıt.\n", in.PreviousTopic, in.Topic)
	}
	if in.SessionTurnCount == 0 {
		if mood, ok := recentMood(in.MoodFacts, in.Now); ok {
			fmt.Fprintf(&b, "Önceki oturumda kullanıcının ruh hali \"%s\" idi; bu duygusal devamlılığı hissettir.\n", mood)
		}
	}
	return b.String()
}

// recentMood returns the most recent mood fact's object if it falls
// within the 3-day continuity window.
func recentMood(facts []model.Fact, now time.Time) (string, bool) {
	var best model.Fact
	var found bool
	for _, f := range facts {
		if f.Predicate != MoodPredicate {
			continue
		}
		if now.Sub(f.UpdatedAt) > moodWindow {
			continue
		}
		if !found || f.UpdatedAt.After(best.UpdatedAt) {
			best = f
			found = true
		}
	}
	if !found {
		return "", false
	}
	return best.Object, true
}

func renderResults(results []model.TaskResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("### Ara Sonuçlar\n")
	for _, r := range results {
		if r.Status != model.TaskResultOK {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.TaskID, r.Output)
	}
	return b.String()
}

// buildPrompt assembles the single combined prompt sent to the
// synthesizer model: memory-voice preamble, style directives,
// situational instructions, the injected context, intermediate task
// results, and the user's message (spec §4.9).
func buildPrompt(in Input, preset StylePreset) string {
	var b strings.Builder
	if pre := memoryVoicePreamble(in.IdentityFacts); pre != "" {
		b.WriteString(pre)
		b.WriteString("\n")
	}
	b.WriteString(styleDirectives(preset))
	b.WriteString("\n")
	if sit := situationalInstructions(in); sit != "" {
		b.WriteString(sit)
		b.WriteString("\n")
	}
	if in.ContextInjection != "" {
		b.WriteString(in.ContextInjection)
		b.WriteString("\n")
	}
	if res := renderResults(in.Results); res != "" {
		b.WriteString(res)
		b.WriteString("\n")
	}
	b.WriteString("### Kullanıcı Mesajı\n")
	b.WriteString(in.UserMessage)
	return b.String()
}
