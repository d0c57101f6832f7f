package dag

import (
	"regexp"

	"github.com/atlasagent/atlas-core/pkg/model"
)

// placeholderRe matches `{tX.output}` references into prior task
// results, e.g. `{t1.output}`.
var placeholderRe = regexp.MustCompile(`\{(t[a-zA-Z0-9_]+)\.output\}`)

// SubstitutePlaceholders replaces every `{tX.output}` reference in
// prompt with the prior result's output, or the failure placeholder if
// that task errored or is absent.
func SubstitutePlaceholders(prompt string, results map[string]model.TaskResult) string {
	return placeholderRe.ReplaceAllStringFunc(prompt, func(match string) string {
		sub := placeholderRe.FindStringSubmatch(match)
		taskID := sub[1]
		res, ok := results[taskID]
		if !ok || res.Status != model.TaskResultOK {
			return "[Hata: " + taskID + " verisi alınamadı]"
		}
		return res.Output
	})
}

// thoughtRe extracts a leading `<thought>...</thought>` prefix from a
// generation's raw output so it can be split into its own stream event
// (spec §4.8: "Parse and split any `<thought>…</thought>` prefix into a
// separate stream event").
var thoughtRe = regexp.MustCompile(`(?s)^\s*<thought>(.*?)</thought>\s*(.*)$`)

// SplitThought returns (thought, rest). thought is empty if raw carries
// no leading thought block.
func SplitThought(raw string) (thought, rest string) {
	m := thoughtRe.FindStringSubmatch(raw)
	if m == nil {
		return "", raw
	}
	return m[1], m[2]
}
