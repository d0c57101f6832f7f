// Package catalog implements the Predicate Catalog: a static,
// process-loaded registry of relation types read from YAML, with
// normalization-based alias resolution and hot reload via fsnotify.
package catalog

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/atlasagent/atlas-core/pkg/model"
	"github.com/atlasagent/atlas-core/pkg/sharedlogging"
	"go.uber.org/zap"
)

// Durability mirrors spec §3's PredicateCatalog entry durability enum.
type Durability string

const (
	DurabilityStatic      Durability = "STATIC"
	DurabilityLongTerm    Durability = "LONG_TERM"
	DurabilitySession     Durability = "SESSION"
	DurabilityEphemeral   Durability = "EPHEMERAL"
	DurabilityProspective Durability = "PROSPECTIVE"
)

// CardinalityType mirrors the entry's cardinality type.
type CardinalityType string

const (
	CardinalityExclusive CardinalityType = "EXCLUSIVE"
	CardinalityAdditive  CardinalityType = "ADDITIVE"
	CardinalityTemporal  CardinalityType = "TEMPORAL"
	CardinalityMeta      CardinalityType = "META"
)

// Entry is one predicate catalog row.
type Entry struct {
	Key        string          `yaml:"-"`
	Canonical  string          `yaml:"canonical"`
	Aliases    []string        `yaml:"aliases"`
	Enabled    bool            `yaml:"enabled"`
	Durability Durability      `yaml:"durability"`
	Type       CardinalityType `yaml:"type"`
	Category   string          `yaml:"category"`
}

// rawFile is the on-disk shape: a top-level map of KEY -> Entry.
type rawFile map[string]*Entry

// personalCategories maps a catalog category to the graph-facing FactCategory
// per spec §4.1's closing sentence.
var personalCategories = map[string]bool{
	"identity":     true,
	"relationship": true,
	"preference":   true,
	"ownership":    true,
	"goals":        true,
	"prospective":  true,
	"emotional":    true,
	"location":     true,
}

// registry is the compiled, queryable form of the catalog: a normalized
// alias map plus the keyed entries.
type registry struct {
	byKey        map[string]*Entry
	byNormalized map[string]string // normalized alias/key/canonical -> key
}

// Catalog is the process-wide handle. The compiled registry is stored in
// an atomic.Value so concurrent readers never block a hot reload.
type Catalog struct {
	path    string
	current atomic.Value // *registry
	logger  *zap.Logger
	watcher *fsnotify.Watcher
}

// Load reads path, compiles the registry, and starts an fsnotify watch so
// edits to the catalog file take effect without a process restart. If the
// file cannot be read or parsed, Load returns an error; callers that want
// fail-open-on-missing-catalog semantics (spec §4.1) should treat a Load
// error as "no catalog" and let Lookup calls on a nil *Catalog return
// ok=false without treating predicates as unknown-and-dropped — see
// Lookup's doc comment.
func Load(path string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{path: path, logger: logger}
	reg, err := compile(path)
	if err != nil {
		return nil, fmt.Errorf("load predicate catalog: %w", err)
	}
	c.current.Store(reg)

	w, err := fsnotify.NewWatcher()
	if err == nil {
		if watchErr := w.Add(path); watchErr == nil {
			c.watcher = w
			go c.watchLoop()
		} else {
			w.Close()
		}
	}
	return c, nil
}

func compile(path string) (*registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	reg := &registry{
		byKey:        make(map[string]*Entry, len(raw)),
		byNormalized: make(map[string]string, len(raw)*2),
	}
	for key, entry := range raw {
		entry.Key = key
		reg.byKey[key] = entry

		candidates := append([]string{key, entry.Canonical}, entry.Aliases...)
		for _, cand := range candidates {
			if cand == "" {
				continue
			}
			reg.byNormalized[Normalize(cand)] = key
		}
	}
	return reg, nil
}

func (c *Catalog) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reg, err := compile(c.path)
			if err != nil {
				c.logger.Warn("predicate catalog reload failed, keeping previous registry",
					sharedlogging.NewFields().Component("catalog").Operation("reload").Error(err).ToZap()...)
				continue
			}
			c.current.Store(reg)
			c.logger.Info("predicate catalog reloaded",
				sharedlogging.NewFields().Component("catalog").Operation("reload").Count(len(reg.byKey)).ToZap()...)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("predicate catalog watcher error",
				sharedlogging.NewFields().Component("catalog").Operation("watch").Error(err).ToZap()...)
		}
	}
}

// Close stops the fsnotify watch, if any.
func (c *Catalog) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// Normalize applies spec §4.1's normalization: strip, uppercase, replace
// spaces with underscores, fold Turkish diacritics to ASCII, keep
// [A-Z0-9_], collapse repeated underscores.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToUpper(foldTurkish(s))
	s = strings.ReplaceAll(s, " ", "_")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return strings.Trim(out, "_")
}

var turkishFold = map[rune]rune{
	'ç': 'c', 'Ç': 'C',
	'ğ': 'g', 'Ğ': 'G',
	'ı': 'i', 'I': 'I',
	'ö': 'o', 'Ö': 'O',
	'ş': 's', 'Ş': 'S',
	'ü': 'u', 'Ü': 'U',
	'İ': 'I',
}

func foldTurkish(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if f, ok := turkishFold[r]; ok {
			b.WriteRune(f)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Lookup resolves an incoming predicate string to its catalog Entry.
// ok=false with no error distinguishes "catalog present, predicate
// unknown" (fail-closed: caller should drop the triple) from the
// fail-open case handled by callers checking c == nil.
func (c *Catalog) Lookup(predicate string) (*Entry, bool) {
	if c == nil {
		return nil, false
	}
	reg := c.current.Load().(*registry)
	key, ok := reg.byNormalized[Normalize(predicate)]
	if !ok {
		return nil, false
	}
	return reg.byKey[key], true
}

// BridgeCategory maps a catalog category to the graph-facing FactCategory.
func BridgeCategory(catalogCategory string) model.FactCategory {
	if personalCategories[strings.ToLower(catalogCategory)] {
		return model.FactCategoryPersonal
	}
	return model.FactCategoryGeneral
}

// Len reports the number of loaded entries, mostly for tests/metrics.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.current.Load().(*registry).byKey)
}
