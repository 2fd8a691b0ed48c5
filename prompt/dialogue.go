package prompt

import (
	"regexp"
	"strings"
)

var (
	speakerModifierRe = regexp.MustCompile(`\s*\((ЗК|ГЗ)\)`)
	leadingNumberRe   = regexp.MustCompile(`^\s*\d+[.)]\s*`)
)

// NormalizeDialogue cleans a raw dialogue field: parenthetical speaker
// modifiers become space-separated suffixes, numbering artifacts are
// stripped, the literal "нет" collapses to a dash. The
// speaker-name-on-its-own-line layout passes through untouched.
func NormalizeDialogue(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.EqualFold(raw, "нет") {
		return "—"
	}

	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		line = leadingNumberRe.ReplaceAllString(line, "")
		line = speakerModifierRe.ReplaceAllString(line, " $1")
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
