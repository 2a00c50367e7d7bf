package rowstore

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// HashIndex keeps terms in a hash map. Exact lookups are O(1 + k).
//
// Prefix and range lookups still work, but sort all terms first, which costs
// O(t log t) in the number of distinct terms; SupportedMatchFlags reports
// only MatchExact.
type HashIndex struct {
	indexCore
}

var _ Index = (*HashIndex)(nil)

func NewHashIndex(m *Model, extractor KeyExtractor, opts ...IndexOption) *HashIndex {
	var o indexOptions
	for _, f := range opts {
		f(&o)
	}
	idx := &HashIndex{}
	idx.init("hash", m, extractor, hashTerms{}, MatchExact, &o)
	return idx
}

type hashTerms map[string]*roaring64.Bitmap

func (t hashTerms) add(term string, id RowID) {
	bm := t[term]
	if bm == nil {
		bm = roaring64.New()
		t[term] = bm
	}
	bm.Add(uint64(id))
}

func (t hashTerms) remove(term string, id RowID) {
	bm := t[term]
	if bm == nil {
		return
	}
	bm.Remove(uint64(id))
	if bm.IsEmpty() {
		delete(t, term)
	}
}

func (t hashTerms) rows(term string) *roaring64.Bitmap {
	return t[term]
}

func (t hashTerms) scan(rang *Range, f func(term string, rows *roaring64.Bitmap) bool) {
	terms := make([]string, 0, len(t))
	for term := range t {
		terms = append(terms, term)
	}
	slices.Sort(terms)
	i, _ := slices.BinarySearch(terms, rang.start())
	for _, term := range terms[i:] {
		ok, more := rang.match(term)
		if ok {
			if !f(term, t[term]) {
				return
			}
		} else if !more {
			return
		}
	}
}

func (t hashTerms) len() int {
	return len(t)
}

func (t hashTerms) clear() {
	clear(t)
}
