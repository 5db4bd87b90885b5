package shared

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldSearchTerm lowercases a term and strips diacritics so that queries like
// "acido" match product names stored as "Ácido". Falls back to plain
// lowercasing when the transform fails on malformed input.
func FoldSearchTerm(term string) string {
	folded, _, err := transform.String(foldTransformer, term)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(term))
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
