// Package identity mints stable per-row identifiers that survive renaming,
// reordering, merged-cell presentation and spreadsheet regeneration, plus
// the composite-key fallback scheme used when a UUID is absent.
package identity

import (
	"strings"

	"github.com/google/uuid"
	"github.com/sqlguardian/auditor/internal/core"
)

// NewUUID mints a fresh row identifier.
func NewUUID() string {
	return uuid.New().String()
}

// decorativeGlyphs are presentation icons collectors or operators might
// leave on a value (status emoji, bullets); ComposeKey strips them before
// keying so an icon-only cosmetic change never breaks identity.
var decorativeGlyphs = []rune{
	'✓', '✔', '✗', '✘', '⚠', '❌', '✅', '⭐', '★', '☆',
	'🔴', '🟡', '🟢', '🔵', '•', '▪', '▸', '►', '»',
}

func stripGlyphs(s string) string {
	var b strings.Builder
	for _, r := range s {
		skip := false
		for _, g := range decorativeGlyphs {
			if r == g {
				skip = true
				break
			}
		}
		if !skip {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizePart(s string) string {
	s = stripGlyphs(s)
	s = strings.TrimSpace(s)
	return strings.ToLower(s)
}

// ComposeKey builds the composite key grammar:
// `{finding_type}|{server}|{instance}|{...parts}`, lowercased, icon-stripped,
// joined with '|'. Empty parts are preserved as empty segments so column
// count stays stable across rows of the same finding_type.
func ComposeKey(findingType core.FindingType, parts ...string) string {
	segments := make([]string, 0, len(parts)+1)
	segments = append(segments, string(findingType))
	for _, p := range parts {
		segments = append(segments, normalizePart(p))
	}
	return strings.Join(segments, "|")
}

// NormalizeKey re-applies the same normalization ComposeKey uses, so keys
// read back from a workbook (which may carry inconsistent casing or stray
// icons introduced by manual editing) compare equal to keys computed fresh
// by the classifier. It never changes segment count.
func NormalizeKey(rawKey string) string {
	parts := strings.Split(rawKey, "|")
	for i, p := range parts {
		if i == 0 {
			// the finding_type segment is already a lowercase identifier
			parts[i] = strings.ToLower(strings.TrimSpace(p))
			continue
		}
		parts[i] = normalizePart(p)
	}
	return strings.Join(parts, "|")
}
