package rowstore

import (
	"slices"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ASCIIFolder strips combining marks, so "café" becomes "cafe".
func ASCIIFolder() TermFilter {
	return func(terms []string) []string {
		t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		for i, s := range terms {
			if out, _, err := transform.String(t, s); err == nil {
				terms[i] = out
			}
		}
		return terms
	}
}

func Lowercase() TermFilter {
	return func(terms []string) []string {
		c := cases.Lower(language.Und)
		for i, s := range terms {
			terms[i] = c.String(s)
		}
		return terms
	}
}

// CaseFold applies Unicode case folding, which is more aggressive than
// lowercasing ("Straße" and "STRASSE" fold to the same term).
func CaseFold() TermFilter {
	return func(terms []string) []string {
		c := cases.Fold()
		for i, s := range terms {
			terms[i] = c.String(s)
		}
		return terms
	}
}

func StopWords(words ...string) TermFilter {
	stop := make(map[string]struct{}, len(words))
	for _, w := range words {
		stop[w] = struct{}{}
	}
	return func(terms []string) []string {
		return slices.DeleteFunc(terms, func(s string) bool {
			_, found := stop[s]
			return found
		})
	}
}

// MinLength drops terms shorter than n runes.
func MinLength(n int) TermFilter {
	return func(terms []string) []string {
		return slices.DeleteFunc(terms, func(s string) bool {
			return utf8.RuneCountInString(s) < n
		})
	}
}
