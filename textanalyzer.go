package rowstore

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const DefaultCollationCacheSize = 4096

// TextAnalyzer splits text into words, normalizes them to NFKC and lowercases
// them. Collation follows the rules of the configured language.
//
// A TextAnalyzer is safe for concurrent use once configured.
type TextAnalyzer struct {
	BaseAnalyzer

	lang      language.Tag
	cacheSize int

	mu       sync.Mutex
	caser    cases.Caser
	collator *collate.Collator
	buf      collate.Buffer

	keys *lru.Cache[string, string]
}

type TextOption func(a *TextAnalyzer)

// WithLanguage sets the language used for lowercasing and collation.
// Defaults to language.Und.
func WithLanguage(tag language.Tag) TextOption {
	return func(a *TextAnalyzer) { a.lang = tag }
}

func WithCollationCacheSize(n int) TextOption {
	return func(a *TextAnalyzer) { a.cacheSize = n }
}

func WithTermFilters(filters ...TermFilter) TextOption {
	return func(a *TextAnalyzer) { a.filters = append(a.filters, filters...) }
}

func NewTextAnalyzer(opts ...TextOption) *TextAnalyzer {
	a := &TextAnalyzer{
		lang:      language.Und,
		cacheSize: DefaultCollationCacheSize,
	}
	for _, o := range opts {
		o(a)
	}
	a.caser = cases.Lower(a.lang)
	a.collator = collate.New(a.lang)
	a.keys = must(lru.New[string, string](max(a.cacheSize, 1)))
	return a
}

func (a *TextAnalyzer) Language() language.Tag {
	return a.lang
}

// Tokenize returns the words of text. Invalid UTF-8 yields no tokens.
func (a *TextAnalyzer) Tokenize(text string) []string {
	if text == "" || !utf8.ValidString(text) {
		return nil
	}
	text = norm.NFKC.String(text)

	a.mu.Lock()
	text = a.caser.String(text)
	a.mu.Unlock()

	return strings.FieldsFunc(text, isWordSeparator)
}

func (a *TextAnalyzer) Analyze(text string) []string {
	return a.applyFilters(a.Tokenize(text))
}

func (a *TextAnalyzer) CollateKey(term string) string {
	if k, ok := a.keys.Get(term); ok {
		return k
	}
	a.mu.Lock()
	k := string(a.collator.KeyFromString(&a.buf, term))
	a.buf.Reset()
	a.mu.Unlock()

	a.keys.Add(term, k)
	return k
}

// CollateCmp compares two keys returned by CollateKey.
func (a *TextAnalyzer) CollateCmp(x, y string) int {
	return strings.Compare(x, y)
}

func isWordSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}
