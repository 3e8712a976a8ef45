package common

import (
	"strings"
	"unicode"
)

// NormalizeLabel folds case and collapses runs of whitespace so "Sam",
// " sam " and "SAM" name the same entity.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// NormalizeRelation turns a free-form relation label into lower snake_case:
// "Has Skill" and "has-skill" both become "has_skill".
func NormalizeRelation(relation string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(relation) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
	}
	return b.String()
}

func EntityNodeID(label string) string {
	return "entity:" + NormalizeLabel(label)
}

func DocumentNodeID(chunkID string) string {
	return "chunk:" + chunkID
}
