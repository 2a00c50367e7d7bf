package rowstore

import (
	"slices"
	"strings"
)

// Analyzer turns a piece of text into index terms.
type Analyzer interface {
	// Tokenize splits text into raw tokens.
	Tokenize(text string) []string

	// Analyze tokenizes text and runs the result through the term filters.
	Analyze(text string) []string

	// CollateKey returns a key whose byte order is the collation order of
	// term.
	CollateKey(term string) string
	CollateCmp(a, b string) int
}

// TermFilter rewrites a token list. Filters may modify and return the slice
// they are given.
type TermFilter func(terms []string) []string

// BaseAnalyzer uses the whole input as a single token and collates by bytes.
type BaseAnalyzer struct {
	filters []TermFilter
}

func NewBaseAnalyzer(filters ...TermFilter) *BaseAnalyzer {
	return &BaseAnalyzer{filters: slices.Clone(filters)}
}

// AddTermFilter appends a filter; filters run in the order they were added.
// Not safe to call while the analyzer is in use.
func (a *BaseAnalyzer) AddTermFilter(f TermFilter) {
	a.filters = append(a.filters, f)
}

func (a *BaseAnalyzer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return []string{text}
}

func (a *BaseAnalyzer) Analyze(text string) []string {
	return a.applyFilters(a.Tokenize(text))
}

func (a *BaseAnalyzer) CollateKey(term string) string {
	return term
}

func (a *BaseAnalyzer) CollateCmp(x, y string) int {
	return strings.Compare(x, y)
}

func (a *BaseAnalyzer) applyFilters(terms []string) []string {
	for _, f := range a.filters {
		if len(terms) == 0 {
			break
		}
		terms = f(terms)
	}
	return slices.DeleteFunc(terms, func(s string) bool { return s == "" })
}
