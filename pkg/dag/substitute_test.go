package dag

import (
	"testing"

	"github.com/atlasagent/atlas-core/pkg/model"
)

func TestSubstitutePlaceholdersInjectsPriorOutput(t *testing.T) {
	prior := map[string]model.TaskResult{
		"t1": {TaskID: "t1", Status: model.TaskResultOK, Output: "İstanbul"},
	}
	got := SubstitutePlaceholders("Hava durumu: {t1.output}", prior)
	if got != "Hava durumu: İstanbul" {
		t.Fatalf("got %q", got)
	}
}

func TestSubstitutePlaceholdersFailedDepYieldsErrorMarker(t *testing.T) {
	prior := map[string]model.TaskResult{
		"t1": {TaskID: "t1", Status: model.TaskResultError, Error: "boom"},
	}
	got := SubstitutePlaceholders("{t1.output}", prior)
	if got != "[Hata: t1 verisi alınamadı]" {
		t.Fatalf("got %q", got)
	}
}

func TestSubstitutePlaceholdersMissingDepYieldsErrorMarker(t *testing.T) {
	got := SubstitutePlaceholders("{t9.output}", map[string]model.TaskResult{})
	if got != "[Hata: t9 verisi alınamadı]" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitThoughtExtractsLeadingBlock(t *testing.T) {
	thought, rest := SplitThought("<thought>reasoning here</thought>final reply")
	if thought != "reasoning here" {
		t.Fatalf("thought = %q", thought)
	}
	if rest != "final reply" {
		t.Fatalf("rest = %q", rest)
	}
}

func TestSplitThoughtNoBlockReturnsWholeString(t *testing.T) {
	thought, rest := SplitThought("just a reply")
	if thought != "" || rest != "just a reply" {
		t.Fatalf("thought=%q rest=%q", thought, rest)
	}
}
