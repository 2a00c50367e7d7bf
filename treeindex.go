package rowstore

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/btree"
)

// TreeIndex keeps terms in a B-tree, so exact, prefix and range lookups all
// cost O(log n + k).
type TreeIndex struct {
	indexCore
}

var _ Index = (*TreeIndex)(nil)

// NewTreeIndex indexes every row of m and subscribes to its changes. It
// panics if called from a change handler.
func NewTreeIndex(m *Model, extractor KeyExtractor, opts ...IndexOption) *TreeIndex {
	o := indexOptions{degree: DefaultBTreeDegree}
	for _, f := range opts {
		f(&o)
	}
	idx := &TreeIndex{}
	idx.init("tree", m, extractor, newTreeTerms(max(o.degree, 2)), MatchExact|MatchPrefix, &o)
	return idx
}

type termEntry struct {
	term string
	rows *roaring64.Bitmap
}

func lessTermEntry(a, b *termEntry) bool {
	return a.term < b.term
}

type treeTerms struct {
	tree  *btree.BTreeG[*termEntry]
	probe termEntry
}

func newTreeTerms(degree int) *treeTerms {
	return &treeTerms{tree: btree.NewG(degree, lessTermEntry)}
}

func (t *treeTerms) get(term string) *termEntry {
	t.probe.term = term
	e, _ := t.tree.Get(&t.probe)
	return e
}

func (t *treeTerms) add(term string, id RowID) {
	e := t.get(term)
	if e == nil {
		e = &termEntry{term: term, rows: roaring64.New()}
		t.tree.ReplaceOrInsert(e)
	}
	e.rows.Add(uint64(id))
}

func (t *treeTerms) remove(term string, id RowID) {
	e := t.get(term)
	if e == nil {
		return
	}
	e.rows.Remove(uint64(id))
	if e.rows.IsEmpty() {
		t.tree.Delete(e)
	}
}

func (t *treeTerms) rows(term string) *roaring64.Bitmap {
	if e := t.get(term); e != nil {
		return e.rows
	}
	return nil
}

func (t *treeTerms) scan(rang *Range, f func(term string, rows *roaring64.Bitmap) bool) {
	t.tree.AscendGreaterOrEqual(&termEntry{term: rang.start()}, func(e *termEntry) bool {
		ok, more := rang.match(e.term)
		if ok {
			return f(e.term, e.rows)
		}
		return more
	})
}

func (t *treeTerms) len() int {
	return t.tree.Len()
}

func (t *treeTerms) clear() {
	t.tree.Clear(false)
}
