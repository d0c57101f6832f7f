package synthesizer

// StylePreset is a named persona + tone/length/emoji/detail directive
// bundle selected per user or per deployment (spec §4.9).
type StylePreset struct {
	Name         string
	Persona      string
	Tone         string
	MaxLength    string
	EmojiAllowed bool
	DetailLevel  string
}

// DefaultStyleKey is used when a caller's style key is empty or unknown.
const DefaultStyleKey = "default"

var presets = map[string]StylePreset{
	DefaultStyleKey: {
		Name:         "default",
		Persona:      "Sen kullanıcının uzun süredir tanıdığı, güvenilir ve sıcak bir asistansın.",
		Tone:         "samimi ama profesyonel",
		MaxLength:    "2-4 cümle, gerekmedikçe uzatma",
		EmojiAllowed: false,
		DetailLevel:  "özlü",
	},
	"concise": {
		Name:         "concise",
		Persona:      "Sen doğrudan ve verimli bir asistansın.",
		Tone:         "kısa ve net",
		MaxLength:    "1-2 cümle",
		EmojiAllowed: false,
		DetailLevel:  "minimal",
	},
	"warm": {
		Name:         "warm",
		Persona:      "Sen kullanıcıyı iyi tanıyan, duygusal olarak destekleyici bir arkadaşsın.",
		Tone:         "sıcak ve empatik",
		MaxLength:    "3-5 cümle",
		EmojiAllowed: true,
		DetailLevel:  "detaylı",
	},
}

// ResolveStyle looks up a style preset by key, falling back to the
// default preset for an empty or unrecognized key rather than failing
// the request.
func ResolveStyle(key string) StylePreset {
	if p, ok := presets[key]; ok {
		return p
	}
	return presets[DefaultStyleKey]
}
