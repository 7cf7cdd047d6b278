package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var plainText = bluemonday.StrictPolicy()

// SanitizePlain strips markup from customer or staff supplied free text, trims it and
// truncates it to maxRunes (when positive).
func SanitizePlain(s string, maxRunes int) string {
	cleaned := html.UnescapeString(plainText.Sanitize(s))
	cleaned = strings.TrimSpace(cleaned)
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		cleaned = string([]rune(cleaned)[:maxRunes])
	}
	return cleaned
}
