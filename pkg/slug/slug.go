// Package slug turns product names into URL path segments.
package slug

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Letters that do not decompose into base letter plus mark.
var undecomposable = strings.NewReplacer(
	"ı", "i", "ß", "ss", "ø", "o", "æ", "ae", "œ", "oe", "ł", "l", "đ", "d", "þ", "th",
)

// Generate lowercases name, strips accents and joins the remaining
// alphanumeric runs with single hyphens:
//
//	"Pokémon Card: Charizard (1st Ed.)" -> "pokemon-card-charizard-1st-ed"
func Generate(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = undecomposable.Replace(s)

	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err == nil {
		s = folded
	}

	return strings.Trim(nonAlnum.ReplaceAllString(s, "-"), "-")
}

// WithID prefixes the slug with id so the segment stays unique and parseable,
// e.g. "42-charizard". A name with no usable characters yields just the id.
func WithID(id int64, name string) string {
	prefix := strconv.FormatInt(id, 10)
	if s := Generate(name); s != "" {
		return prefix + "-" + s
	}
	return prefix
}
