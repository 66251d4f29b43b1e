package plate

import (
	"regexp"
	"strings"
)

// Argentine vehicle plate grammars. The old format predates 2016, the new
// Mercosur format replaced it. Matching order is positional, not by grammar:
// the leftmost valid substring wins (see Extract).
var (
	oldFormat = regexp.MustCompile(`[A-Z]{3}[0-9]{3}`)
	newFormat = regexp.MustCompile(`[A-Z]{2}[0-9]{3}[A-Z]{2}`)
)

// Normalize uppercases s and strips every character outside [A-Z0-9].
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Extract normalizes noisy OCR text and returns the first substring that
// satisfies one of the plate grammars. The leftmost match wins regardless of
// which grammar it belongs to. The empty string means no match.
//
// Extract is pure and idempotent: Extract(Extract(s)) == Extract(s).
func Extract(text string) string {
	cleaned := Normalize(text)

	oldLoc := oldFormat.FindStringIndex(cleaned)
	newLoc := newFormat.FindStringIndex(cleaned)

	switch {
	case oldLoc == nil && newLoc == nil:
		return ""
	case newLoc == nil:
		return cleaned[oldLoc[0]:oldLoc[1]]
	case oldLoc == nil:
		return cleaned[newLoc[0]:newLoc[1]]
	case oldLoc[0] <= newLoc[0]:
		return cleaned[oldLoc[0]:oldLoc[1]]
	default:
		return cleaned[newLoc[0]:newLoc[1]]
	}
}

// IsValid reports whether s is exactly one plate in either grammar.
func IsValid(s string) bool {
	return Extract(s) == s && s != ""
}
