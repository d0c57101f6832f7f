package synthesizer

import (
	"regexp"
	"strings"
)

// thoughtBlockRe strips any leaked [THOUGHT] reasoning block, up to its
// [/THOUGHT] or the end of the reply (<thought> tags are not matched),
// the model produced despite the prompt instructing it not to (spec
// §4.9 bullet 5).
var thoughtBlockRe = regexp.MustCompile(`(?is)\[THOUGHT\].*?(\[/THOUGHT\]|$)`)

// graphScoreTagRe strips debug-style score/trace tags such as
// "[score=0.83]" or "[graph:conf=0.91]" that occasionally leak from a
// model echoing its own context window back.
var graphScoreTagRe = regexp.MustCompile(`\[(?:score|graph|conf|debug)[^\]]*\]`)

// cjkRe matches CJK unified ideographs, hiragana, katakana, and hangul
// blocks; the synthesizer targets Turkish output only, and an
// occasional leaked CJK run is a known multilingual-model artifact.
var cjkRe = regexp.MustCompile(`[\x{4E00}-\x{9FFF}\x{3040}-\x{30FF}\x{AC00}-\x{D7A3}]+`)

// Sanitize strips CJK characters, leaked [THOUGHT]… blocks, graph-score
// tags, and debug markers from a synthesizer reply (spec §4.9 bullet 5).
func Sanitize(reply string) string {
	out := thoughtBlockRe.ReplaceAllString(reply, "")
	out = graphScoreTagRe.ReplaceAllString(out, "")
	out = cjkRe.ReplaceAllString(out, "")
	out = collapseBlankLines(out)
	return strings.TrimSpace(out)
}

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(s string) string {
	return blankLinesRe.ReplaceAllString(s, "\n\n")
}
