package contextbuilder

import "strings"

// Intent is the context builder's coarse classification of a user turn.
type Intent string

const (
	IntentPersonal  Intent = "PERSONAL"
	IntentTask      Intent = "TASK"
	IntentFollowUp  Intent = "FOLLOWUP"
	IntentGeneral   Intent = "GENERAL"
	IntentMixed     Intent = "MIXED"
)

var personalTriggers = []string{"beni hatırlıyor musun", "adım", "yaşım", "kimim", "ben kimim"}
var taskTriggers = []string{"hatırlat", "yap", "oluştur", "planla", "görev"}
var followUpTriggers = []string{"peki", "ya", "devam et", "ayrıca", "bir de"}

// ClassifyIntent applies the heuristic keyword rules of spec §4.6 step 2,
// overriding to PERSONAL on an explicit self-reference trigger.
func ClassifyIntent(userMessage string) Intent {
	lower := strings.ToLower(userMessage)

	for _, trig := range personalTriggers {
		if strings.Contains(lower, trig) {
			return IntentPersonal
		}
	}

	hasTask := containsAny(lower, taskTriggers)
	hasFollowUp := containsAny(lower, followUpTriggers)

	switch {
	case hasTask && hasFollowUp:
		return IntentMixed
	case hasTask:
		return IntentTask
	case hasFollowUp:
		return IntentFollowUp
	default:
		return IntentGeneral
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// LayerWeights is the transcript/episodic/semantic budget split.
type LayerWeights struct {
	Transcript float64
	Episodic   float64
	Semantic   float64
}

var profiles = map[Intent]LayerWeights{
	IntentGeneral:  {Transcript: 0.80, Episodic: 0.20, Semantic: 0.00},
	IntentPersonal: {Transcript: 0.30, Episodic: 0.20, Semantic: 0.50},
	IntentTask:     {Transcript: 0.35, Episodic: 0.25, Semantic: 0.40},
	IntentFollowUp: {Transcript: 0.60, Episodic: 0.25, Semantic: 0.15},
	IntentMixed:    {Transcript: 0.40, Episodic: 0.30, Semantic: 0.30},
}

// WeightsFor returns the layer-weight profile for intent, redistributing
// proportionally when memoryOff forces semantic weight to 0 (spec §4.6
// step 3).
func WeightsFor(intent Intent, memoryOff bool) LayerWeights {
	w := profiles[intent]
	if !memoryOff || w.Semantic == 0 {
		return w
	}
	remaining := w.Transcript + w.Episodic
	if remaining == 0 {
		return LayerWeights{Transcript: 1.0}
	}
	scale := 1.0 / remaining
	return LayerWeights{
		Transcript: w.Transcript * scale,
		Episodic:   w.Episodic * scale,
		Semantic:   0,
	}
}
