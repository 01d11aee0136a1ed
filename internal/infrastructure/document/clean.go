package document

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"TechNotesScanner/internal/domain"
)

const truncationMarker = "... [truncated]"

var (
	blankLinesExpr = regexp.MustCompile(`\n\s*\n\s*\n+`)
	spacesExpr     = regexp.MustCompile(` +`)
	controlExpr    = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F-\x9F]`)
)

// CleanText normalizes extracted text and caps it at limit characters.
func CleanText(text string, limit int) string {
	text = blankLinesExpr.ReplaceAllString(text, "\n\n")
	text = spacesExpr.ReplaceAllString(text, " ")
	text = controlExpr.ReplaceAllString(text, "")

	if limit > 0 && utf8.RuneCountInString(text) > limit {
		text = domain.TruncateRunes(text, limit) + truncationMarker
	}
	return strings.TrimSpace(text)
}
