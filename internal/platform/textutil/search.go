package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxSearchTokens = 64
	minPrefixLength = 2
	maxPrefixLength = 12
)

var folder = cases.Fold()

// Fold normalises s for case and accent insensitive matching: NFKD decomposition,
// combining marks removed, Unicode case folding, whitespace collapsed.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(folder.String(out)), " ")
}

// Words splits folded text on anything that is not a letter or digit.
func Words(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// SearchTokens derives the index terms for a set of fields: every word plus its prefixes of
// length 2..12, deduplicated and capped. A query term matches a document when the term
// (folded) appears in its token set.
func SearchTokens(fields ...string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	add := func(token string) {
		if len(tokens) >= maxSearchTokens {
			return
		}
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	for _, field := range fields {
		for _, word := range Words(field) {
			add(word)
			r := []rune(word)
			for n := minPrefixLength; n < len(r) && n <= maxPrefixLength; n++ {
				add(string(r[:n]))
			}
		}
	}
	return tokens
}

// QueryTerm returns the single index term used to look up query, or "" when the query has no
// searchable word. Multi-word queries use their longest word; callers filter the rest in memory.
func QueryTerm(query string) string {
	var best string
	for _, word := range Words(query) {
		if len([]rune(word)) > len([]rune(best)) {
			best = word
		}
	}
	if r := []rune(best); len(r) > maxPrefixLength {
		best = string(r[:maxPrefixLength])
	}
	return best
}

// MatchesAll reports whether every query word is a prefix of some word in fields.
func MatchesAll(query string, fields ...string) bool {
	terms := Words(query)
	if len(terms) == 0 {
		return true
	}
	var words []string
	for _, field := range fields {
		words = append(words, Words(field)...)
	}
	for _, term := range terms {
		found := false
		for _, word := range words {
			if strings.HasPrefix(word, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
