// Package identity normalizes the sender addresses carriers hand us so that
// the same handset always resolves to the same connection.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds compatibility forms (full-width digits and the like), drops
// everything that is not a letter or digit and lower-cases the letters.
// Shortcodes mapped to words survive, e.g. "asdfASDF" -> "asdfasdf".
func Normalize(raw string) string {
	folded := norm.NFKC.String(raw)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	// Casers keep state and must not be shared between goroutines.
	return cases.Lower(language.Und).String(b.String())
}
