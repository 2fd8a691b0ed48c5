// Package registry grows a per-video character identity table from
// chunk dialogue output and formats it for subsequent prompts.
package registry

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Character is one registered identity.
type Character struct {
	CanonicalName       string   `json:"canonicalName"`
	Aliases             []string `json:"aliases,omitempty"`
	FirstSeenChunk      int      `json:"firstSeenChunk"`
	FirstSeenTimecode   string   `json:"firstSeenTimecode,omitempty"`
	Appearances         int      `json:"appearances"`
	IsGenericTerm       bool     `json:"isGenericTerm,omitempty"`
	PossibleScriptMatch string   `json:"possibleScriptMatch,omitempty"`
}

// Registry is the per-video character table. Not safe for concurrent
// use; the orchestrator serializes access.
type Registry struct {
	order      []string
	characters map[string]*Character // keyed by case-folded name
	script     []string
}

// New creates an empty registry. Script characters, when available, are
// used for best-effort matching of newly seen names.
func New(scriptCharacters []string) *Registry {
	return &Registry{
		characters: make(map[string]*Character),
		script:     scriptCharacters,
	}
}

// A speaker line is solely uppercase Cyrillic letters, 2-12 characters,
// optionally followed by the ЗК/ГЗ modifier.
var speakerLineRe = regexp.MustCompile(`^([А-ЯЁ]{2,12})(?:\s+(?:ЗК|ГЗ))?$`)

// Non-name uppercase words that show up on speaker-like lines: adverbs,
// verbs, places, interjections.
var stopWords = map[string]bool{
	"ЗАДУМЧИВО": true, "ГОВОРИТ": true, "КРИЧИТ": true, "ШЕПОТОМ": true,
	"ТИХО": true, "ГРОМКО": true, "ПАУЗА": true, "МУЗЫКА": true,
	"ТИТРЫ": true, "КОНЕЦ": true, "УЛИЦА": true, "КВАРТИРА": true,
	"ИНТ": true, "НАТ": true, "ДЕНЬ": true, "НОЧЬ": true,
	"ГОЛОС": true, "ВСЕ": true, "ОБА": true, "ХОР": true,
	"СМЕХ": true, "ПЛАЧ": true, "ШУМ": true, "ЗВОНОК": true,
}

// Generic role nouns: admitted, but flagged so the finalized sheet can
// distinguish them from named characters.
var genericTerms = map[string]bool{
	"ЖЕНЩИНА": true, "МУЖЧИНА": true, "ДЕВУШКА": true, "ПАРЕНЬ": true,
	"МАЛЬЧИК": true, "ДЕВОЧКА": true, "СТАРИК": true, "СТАРУХА": true,
	"ВРАЧ": true, "ПРОДАВЕЦ": true, "ВОДИТЕЛЬ": true, "ОФИЦИАНТ": true,
}

// ExtractNames returns candidate speaker names found in a dialogue
// block, in order of first appearance.
func ExtractNames(dialogues string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(dialogues, "\n") {
		m := speakerLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		name := m[1]
		if stopWords[name] || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Observe records speaker names from one scene's dialogues. The
// registry grows monotonically: names are never removed or renamed.
func (r *Registry) Observe(dialogues string, chunkIndex int, timecode string) {
	for _, name := range ExtractNames(dialogues) {
		key := strings.ToLower(name)
		if c, ok := r.characters[key]; ok {
			c.Appearances++
			continue
		}
		c := &Character{
			CanonicalName:     name,
			FirstSeenChunk:    chunkIndex,
			FirstSeenTimecode: timecode,
			Appearances:       1,
			IsGenericTerm:     genericTerms[name],
		}
		if match := r.matchScript(name); match != "" {
			c.PossibleScriptMatch = match
		}
		r.characters[key] = c
		r.order = append(r.order, key)
	}
}

// matchScript finds a script-supplied character resembling the name.
// The canonical name stays as observed; the match is advisory.
func (r *Registry) matchScript(name string) string {
	upper := strings.ToUpper(name)
	for _, sc := range r.script {
		scUpper := strings.ToUpper(sc)
		if strings.Contains(scUpper, upper) || strings.Contains(upper, scUpper) {
			return sc
		}
	}
	return ""
}

// Merge folds another registry into this one, preserving the earliest
// first-seen data. Used after a bounded-parallel batch.
func (r *Registry) Merge(other *Registry) {
	for _, key := range other.order {
		oc := other.characters[key]
		if c, ok := r.characters[key]; ok {
			c.Appearances += oc.Appearances
			if oc.FirstSeenChunk < c.FirstSeenChunk {
				c.FirstSeenChunk = oc.FirstSeenChunk
				c.FirstSeenTimecode = oc.FirstSeenTimecode
			}
			continue
		}
		cp := *oc
		r.characters[key] = &cp
		r.order = append(r.order, key)
	}
}

// Characters returns the registered characters in first-seen order.
func (r *Registry) Characters() []Character {
	out := make([]Character, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, *r.characters[key])
	}
	return out
}

// Len returns the number of registered characters.
func (r *Registry) Len() int {
	return len(r.characters)
}

// Clone returns an independent copy. The bounded-parallel profile
// freezes a clone per batch.
func (r *Registry) Clone() *Registry {
	c := New(r.script)
	c.Merge(r)
	return c
}

// Format renders the registry snapshot for prompt embedding: one name
// per line, generic terms annotated, sorted by first appearance.
func (r *Registry) Format() string {
	if len(r.order) == 0 {
		return ""
	}
	var b strings.Builder
	for i, key := range r.order {
		c := r.characters[key]
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.CanonicalName)
		if c.IsGenericTerm {
			b.WriteString(" (эпизодический персонаж)")
		}
	}
	return b.String()
}

// Load restores a registry from persisted characters.
func Load(characters []Character, scriptCharacters []string) *Registry {
	r := New(scriptCharacters)
	for i := range characters {
		c := characters[i]
		key := strings.ToLower(c.CanonicalName)
		if _, ok := r.characters[key]; ok {
			continue
		}
		r.characters[key] = &c
		r.order = append(r.order, key)
	}
	return r
}

// Summary returns a one-line description for logs.
func (r *Registry) Summary() string {
	names := make([]string, 0, len(r.order))
	for _, key := range r.order {
		names = append(names, r.characters[key].CanonicalName)
	}
	sort.Strings(names)
	return fmt.Sprintf("%d characters: %s", len(names), strings.Join(names, ", "))
}
