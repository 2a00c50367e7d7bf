package rowstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// termStore holds the (term, row) entries of an index. Implementations only
// need to keep postings; bookkeeping lives in indexCore.
type termStore interface {
	add(term string, id RowID)
	remove(term string, id RowID)

	// rows returns the posting set of term, or nil. Callers must not modify it.
	rows(term string) *roaring64.Bitmap

	// scan visits the terms within rang in ascending order until f returns
	// false.
	scan(rang *Range, f func(term string, rows *roaring64.Bitmap) bool)

	len() int
	clear()
}

type indexState int

const (
	indexUnbuilt indexState = iota
	indexReady
	indexClosed
)

func (s indexState) String() string {
	switch s {
	case indexUnbuilt:
		return "unbuilt"
	case indexReady:
		return "ready"
	case indexClosed:
		return "closed"
	default:
		return fmt.Sprintf("invalid state %d", int(s))
	}
}

// indexCore implements everything about an index except term storage: the
// model subscription, the reverse map from rows to their keys, and diffing
// of old and new keys on change.
type indexCore struct {
	kind      string
	name      string
	model     *Model
	extractor KeyExtractor
	terms     termStore
	flags     MatchFlags

	rowTerms  map[RowID][]string
	entries   int
	keyedRows int

	sub     SubscriptionID
	state   indexState
	logger  *slog.Logger
	verbose bool
}

func (c *indexCore) init(kind string, m *Model, extractor KeyExtractor, terms termStore, flags MatchFlags, o *indexOptions) {
	if m == nil {
		panic("nil model")
	}
	if extractor == nil {
		panic("nil key extractor")
	}
	if m.dispatching > 0 {
		panic(fmt.Errorf("%s: cannot create an index from a change handler", m.name))
	}
	c.kind = kind
	c.name = o.name
	if c.name == "" {
		c.name = m.name + "." + kind
	}
	c.model = m
	c.extractor = extractor
	c.terms = terms
	c.flags = flags
	c.rowTerms = make(map[RowID][]string, m.Len())
	c.logger = o.logger
	if c.logger == nil {
		c.logger = m.logger
	}
	c.verbose = o.verbose || m.verbose

	start := time.Now()
	for r := m.rows.head; r != nil; r = r.next {
		c.insertRow(r.id, c.extract(r))
	}
	c.sub = m.Subscribe(c, ChangeFlagsAll)
	c.state = indexReady

	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "index built",
		slog.String("index", c.name),
		slog.Int("rows", len(c.rowTerms)),
		slog.Int("terms", c.terms.len()),
		slog.Int("entries", c.entries),
		slog.Duration("elapsed", time.Since(start)))
}

func (c *indexCore) Name() string {
	return c.name
}

func (c *indexCore) Model() *Model {
	return c.model
}

func (c *indexCore) SupportedMatchFlags() MatchFlags {
	return c.flags
}

// HandleChange keeps the index in sync with the model. It is called by the
// model's bus and should not be called directly.
func (c *indexCore) HandleChange(chg *Change) {
	if c.state != indexReady {
		return
	}
	switch chg.op {
	case OpAdd:
		r := c.model.byID[chg.row]
		keys := c.extract(r)
		if c.verbose {
			c.model.logf("index: ADD %s/%v => %q", c.name, chg.row, keys)
		}
		c.insertRow(chg.row, keys)
	case OpRemove:
		if c.verbose {
			c.model.logf("index: REMOVE %s/%v => %q", c.name, chg.row, c.rowTerms[chg.row])
		}
		c.removeRow(chg.row)
	case OpChange:
		r := c.model.byID[chg.row]
		c.updateRow(chg.row, c.extract(r))
	case OpBeginChangeset, OpEndChangeset:
		if c.verbose {
			c.model.logf("index: %s %s seq=%d", strings.ToUpper(chg.op.String()), c.name, chg.seqnum)
		}
		return
	}
	if c.model.strict {
		var skip RowID
		if chg.op == OpRemove {
			skip = chg.row
		}
		ensure(c.verify(skip))
	}
}

// extract runs the extractor and returns sorted, deduplicated keys. A
// panicking extractor is logged and treated as producing no keys.
func (c *indexCore) extract(r *row) (keys []string) {
	defer func() {
		if e := recover(); e != nil {
			c.logger.LogAttrs(context.Background(), slog.LevelError, "key extractor panicked",
				slog.String("index", c.name),
				slog.String("row", r.id.String()),
				slog.Any("err", e))
			keys = nil
		}
	}()
	return normalizeKeys(c.extractor.ExtractKeys(rowView{c.model, r}))
}

func normalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	keys = slices.Clone(keys)
	slices.Sort(keys)
	return slices.Compact(keys)
}

func (c *indexCore) insertRow(id RowID, keys []string) {
	c.rowTerms[id] = keys
	for _, k := range keys {
		c.terms.add(k, id)
	}
	c.entries += len(keys)
	if len(keys) > 0 {
		c.keyedRows++
	}
}

func (c *indexCore) removeRow(id RowID) {
	keys, found := c.rowTerms[id]
	if !found {
		return
	}
	for _, k := range keys {
		c.terms.remove(k, id)
	}
	c.entries -= len(keys)
	if len(keys) > 0 {
		c.keyedRows--
	}
	delete(c.rowTerms, id)
}

func (c *indexCore) updateRow(id RowID, newKeys []string) {
	oldKeys := c.rowTerms[id]
	var removed, added int
	diffKeys(oldKeys, newKeys, func(k string) {
		c.terms.remove(k, id)
		removed++
	}, func(k string) {
		c.terms.add(k, id)
		added++
	})
	if c.verbose {
		c.model.logf("index: CHANGE %s/%v => %q (-%d +%d)", c.name, id, newKeys, removed, added)
	}
	c.entries += added - removed
	if len(oldKeys) == 0 && len(newKeys) > 0 {
		c.keyedRows++
	} else if len(oldKeys) > 0 && len(newKeys) == 0 {
		c.keyedRows--
	}
	c.rowTerms[id] = newKeys
}

// diffKeys merges two sorted, deduplicated key lists, reporting keys only in
// oldKeys as removed and keys only in newKeys as added. Shared keys are not
// reported.
func diffKeys(oldKeys, newKeys []string, removed, added func(k string)) {
	for len(oldKeys) > 0 && len(newKeys) > 0 {
		c := strings.Compare(oldKeys[0], newKeys[0])
		if c < 0 {
			removed(oldKeys[0])
			oldKeys = oldKeys[1:]
		} else if c > 0 {
			added(newKeys[0])
			newKeys = newKeys[1:]
		} else {
			oldKeys, newKeys = oldKeys[1:], newKeys[1:]
		}
	}
	for _, k := range oldKeys {
		removed(k)
	}
	for _, k := range newKeys {
		added(k)
	}
}

func (c *indexCore) requireOpen() {
	if c.state == indexClosed {
		panic(fmt.Errorf("%s: %w", c.name, ErrIndexClosed))
	}
}

func (c *indexCore) Lookup(term string, flags MatchFlags) *ResultSet {
	c.requireOpen()
	if flags.Contains(MatchPrefix) {
		return newResultSet(c.model, c.LookupRange(PrefixRange(term)))
	}
	return newResultSet(c.model, c.LookupAll(term))
}

func (c *indexCore) LookupOne(term string) (RowID, error) {
	c.requireOpen()
	bm := c.terms.rows(term)
	if bm == nil || bm.IsEmpty() {
		return 0, &RowError{Model: c.name, Op: "LOOKUP", Field: -1, Msg: fmt.Sprintf("no rows keyed by %q", term), Err: ErrNotFound}
	}
	return RowID(bm.Minimum()), nil
}

func (c *indexCore) LookupAll(term string) []RowID {
	c.requireOpen()
	bm := c.terms.rows(term)
	if bm == nil {
		return []RowID{}
	}
	return bitmapRows(bm)
}

func (c *indexCore) LookupRange(rang Range) []RowID {
	c.requireOpen()
	result := []RowID{}
	seen := roaring64.New()
	c.terms.scan(&rang, func(term string, rows *roaring64.Bitmap) bool {
		it := rows.Iterator()
		for it.HasNext() {
			id := it.Next()
			if !seen.Contains(id) {
				seen.Add(id)
				result = append(result, RowID(id))
			}
		}
		return true
	})
	return result
}

func (c *indexCore) Foreach(start string, f func(term string, rows *ResultSet) bool) {
	c.requireOpen()
	rang := RangeIO(start)
	c.terms.scan(&rang, func(term string, rows *roaring64.Bitmap) bool {
		return f(term, newResultSet(c.model, bitmapRows(rows)))
	})
}

func (c *indexCore) NumTerms() int {
	c.requireOpen()
	return c.terms.len()
}

func (c *indexCore) NumEntries() int {
	c.requireOpen()
	return c.entries
}

func (c *indexCore) NumRows() int {
	c.requireOpen()
	return c.keyedRows
}

func (c *indexCore) NumRowsForTerm(term string) int {
	c.requireOpen()
	if bm := c.terms.rows(term); bm != nil {
		return int(bm.GetCardinality())
	}
	return 0
}

func (c *indexCore) RowKeys(id RowID) []string {
	c.requireOpen()
	return slices.Clone(c.rowTerms[id])
}

func (c *indexCore) Verify() error {
	c.requireOpen()
	return c.verify(0)
}

// verify checks the index against the model, ignoring row skip, which is
// being removed.
func (c *indexCore) verify(skip RowID) error {
	want := c.model.Len()
	if skip != 0 {
		want--
	}
	if n := len(c.rowTerms); n != want {
		return fmt.Errorf("%s: index tracks %d rows, model has %d", c.name, n, want)
	}
	var entries, keyed int
	for r := c.model.rows.head; r != nil; r = r.next {
		if r.id == skip {
			continue
		}
		keys, found := c.rowTerms[r.id]
		if !found {
			return fmt.Errorf("%s: row %v is not indexed", c.name, r.id)
		}
		want := c.extract(r)
		if !slices.Equal(keys, want) {
			return fmt.Errorf("%s: row %v has keys %q, expected %q", c.name, r.id, keys, want)
		}
		for _, k := range keys {
			if bm := c.terms.rows(k); bm == nil || !bm.Contains(uint64(r.id)) {
				return fmt.Errorf("%s: entry (%q, %v) is missing", c.name, k, r.id)
			}
		}
		entries += len(keys)
		if len(keys) > 0 {
			keyed++
		}
	}

	var stored, terms int
	var err error
	c.terms.scan(&Range{}, func(term string, rows *roaring64.Bitmap) bool {
		terms++
		if rows.IsEmpty() {
			err = fmt.Errorf("%s: term %q has no rows", c.name, term)
			return false
		}
		stored += int(rows.GetCardinality())
		return true
	})
	if err != nil {
		return err
	}
	if terms != c.terms.len() {
		return fmt.Errorf("%s: scanned %d terms, store reports %d", c.name, terms, c.terms.len())
	}
	if stored != entries || c.entries != entries {
		return fmt.Errorf("%s: %d entries stored, %d counted, %d expected", c.name, stored, c.entries, entries)
	}
	if c.keyedRows != keyed {
		return fmt.Errorf("%s: %d keyed rows counted, %d expected", c.name, c.keyedRows, keyed)
	}
	return nil
}

// Close unsubscribes from the model and releases the entries. Closing twice
// is a no-op.
func (c *indexCore) Close() {
	if c.state == indexClosed {
		return
	}
	c.model.Unsubscribe(c.sub)
	c.terms.clear()
	c.rowTerms = nil
	c.entries, c.keyedRows = 0, 0
	c.state = indexClosed
	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "index closed", slog.String("index", c.name))
}

func bitmapRows(bm *roaring64.Bitmap) []RowID {
	ids := make([]RowID, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		ids = append(ids, RowID(it.Next()))
	}
	return ids
}
