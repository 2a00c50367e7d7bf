package rowstore

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"time"
)

// Filter decides which source rows a FilterModel holds, and in which order.
type Filter struct {
	// Match reports whether a source row belongs to the filtered model. A nil
	// Match accepts every row.
	Match func(row RowView) bool

	// Compare keeps the filtered rows sorted; rows comparing equal stay in
	// arrival order. A nil Compare keeps source order.
	Compare RowCompareFunc
}

// KeyFilter accepts rows whose string column col equals key.
func KeyFilter(col int, key string) Filter {
	return Filter{Match: func(row RowView) bool {
		s, err := FieldAs[string](row, col)
		return err == nil && s == key
	}}
}

// ValueFilter accepts rows whose column col equals value. The column may have
// any type; value is converted to it the way Append converts values.
func ValueFilter(col int, value any) Filter {
	return Filter{Match: func(row RowView) bool {
		want, ok := coerceValue(row.Type(col), value)
		if !ok {
			return false
		}
		v, err := row.Field(col)
		return err == nil && compareValues(v, want) == 0
	}}
}

// RegexFilter accepts rows whose string column col matches re.
func RegexFilter(col int, re *regexp.Regexp) Filter {
	return Filter{Match: func(row RowView) bool {
		s, err := FieldAs[string](row, col)
		return err == nil && re.MatchString(s)
	}}
}

// SortFilter accepts every row and keeps them sorted by cmp.
func SortFilter(cmp RowCompareFunc) Filter {
	return Filter{Compare: cmp}
}

// CollatorFilter accepts every row and sorts them by a text column in the
// analyzer's collation order.
func CollatorFilter(col int, an Analyzer) Filter {
	return SortFilter(CollatedColumn(col, an))
}

func CollatorFilterDesc(col int, an Analyzer) Filter {
	cmp := CollatedColumn(col, an)
	return SortFilter(func(a, b []any) int { return cmp(b, a) })
}

// SortedBy returns a copy of f that keeps its rows sorted by cmp.
func (f Filter) SortedBy(cmp RowCompareFunc) Filter {
	f.Compare = cmp
	return f
}

func (f Filter) match(v RowView) bool {
	return f.Match == nil || f.Match(v)
}

// FilterModel maintains a read-only model holding the rows of a source model
// accepted by a Filter. It follows the source through its change bus: rows
// are added, updated and dropped as the source changes, rows whose new values
// no longer match are removed, and changesets are forwarded. The filtered
// model is a regular *Model, so it can be indexed, dumped and subscribed to,
// but mutating it directly panics.
//
// Filtered rows get their own RowIDs. When a sorted filter has to move a
// changed row, the row is removed and added back under a new ID.
type FilterModel struct {
	src    *Model
	out    *Model
	filter Filter

	outIDs *Tag[RowID]
	srcIDs map[RowID]RowID

	sub    SubscriptionID
	closed bool
}

// NewFilterModel builds the filtered model from the current rows of src and
// subscribes to src. opt configures the filtered model; its name defaults to
// the source name plus ".filter", its loggers to those of src. It panics if
// called from a change handler of src.
func NewFilterModel(src *Model, f Filter, opt Options) *FilterModel {
	if src == nil {
		panic("nil model")
	}
	if src.dispatching > 0 {
		panic(fmt.Errorf("%s: cannot create a filter model from a change handler", src.name))
	}
	if opt.Name == "" {
		opt.Name = src.name + ".filter"
	}
	if opt.Logger == nil {
		opt.Logger = src.logger
	}
	if opt.Logf == nil {
		opt.Logf = src.logf
	}
	fm := &FilterModel{
		src:    src,
		out:    NewModel(src.schema, opt),
		filter: f,
		outIDs: RegisterTag[RowID](src),
		srcIDs: make(map[RowID]RowID),
	}
	fm.out.source = src

	start := time.Now()
	for r := src.rows.head; r != nil; r = r.next {
		if f.match(rowView{src, r}) {
			fm.insert(r, f.Compare == nil)
		}
	}
	fm.sub = src.Subscribe(fm, ChangeFlagsAll)

	fm.out.logger.LogAttrs(context.Background(), slog.LevelDebug, "filter model built",
		slog.String("model", fm.out.name),
		slog.String("source", src.name),
		slog.Int("rows", fm.out.Len()),
		slog.Int("source_rows", src.Len()),
		slog.Duration("elapsed", time.Since(start)))
	return fm
}

// Model returns the filtered model.
func (fm *FilterModel) Model() *Model {
	return fm.out
}

func (fm *FilterModel) Source() *Model {
	return fm.src
}

// SourceRow maps a filtered row to its source row.
func (fm *FilterModel) SourceRow(id RowID) (RowID, bool) {
	sid, ok := fm.srcIDs[id]
	return sid, ok
}

// FilteredRow maps a source row to its filtered row, if the filter holds it.
func (fm *FilterModel) FilteredRow(srcID RowID) (RowID, bool) {
	return fm.outIDs.Get(srcID)
}

// Close stops following the source. The filtered model keeps its rows, and
// a changeset left open by the source is closed.
func (fm *FilterModel) Close() {
	if fm.closed {
		return
	}
	fm.closed = true
	fm.src.Unsubscribe(fm.sub)
	fm.outIDs.Unregister()
	fm.sync(func() {
		for fm.out.changesetDepth > 0 {
			fm.out.EndChangeset()
		}
	})
}

// HandleChange applies a source change. It is called by the source's bus and
// should not be called directly.
func (fm *FilterModel) HandleChange(chg *Change) {
	if fm.closed {
		return
	}
	switch chg.op {
	case OpAdd:
		r := fm.src.byID[chg.row]
		if fm.filter.match(rowView{fm.src, r}) {
			fm.insert(r, false)
		}
	case OpRemove:
		fm.remove(chg.row)
	case OpChange:
		fm.update(fm.src.byID[chg.row], chg.fields)
	case OpBeginChangeset:
		fm.sync(fm.out.BeginChangeset)
	case OpEndChangeset:
		if fm.out.changesetDepth > 0 {
			fm.sync(fm.out.EndChangeset)
		}
	}
	if fm.out.strict {
		var skip RowID
		if chg.op == OpRemove {
			skip = chg.row
		}
		ensure(fm.verify(skip))
	}
}

func (fm *FilterModel) sync(f func()) {
	fm.out.syncing = true
	defer func() { fm.out.syncing = false }()
	f()
}

// insert adds source row sr at its place in the filtered model. Rows of an
// unsorted filter go in front of the next source row the filter holds, or at
// the end when tail is set.
func (fm *FilterModel) insert(sr *row, tail bool) {
	var mark *row
	if cmp := fm.filter.Compare; cmp != nil {
		for r := fm.out.rows.head; r != nil; r = r.next {
			if cmp(sr.values, r.values) < 0 {
				mark = r
				break
			}
		}
	} else if !tail {
		for n := sr.next; n != nil; n = n.next {
			if id, ok := fm.outIDs.Get(n.id); ok {
				mark = fm.out.byID[id]
				break
			}
		}
	}

	var id RowID
	fm.sync(func() {
		id = must(fm.out.insertBefore("FILTER_ADD", mark, sr.values))
	})
	ensure(fm.outIDs.Set(sr.id, id))
	fm.srcIDs[id] = sr.id
}

func (fm *FilterModel) remove(srcID RowID) {
	id, ok := fm.outIDs.Get(srcID)
	if !ok {
		return
	}
	fm.outIDs.Clear(srcID)
	delete(fm.srcIDs, id)
	fm.out.removeRow(fm.out.byID[id])
}

func (fm *FilterModel) update(sr *row, fields []int) {
	id, held := fm.outIDs.Get(sr.id)
	match := fm.filter.match(rowView{fm.src, sr})
	switch {
	case !held && match:
		fm.insert(sr, false)
	case held && !match:
		fm.remove(sr.id)
	case held:
		r := fm.out.byID[id]
		if !fm.inOrder(r, sr.values) {
			fm.remove(sr.id)
			fm.insert(sr, false)
			return
		}
		fm.out.setFields("FILTER_SET", r, sr.values, slices.Clone(fields))
	}
}

// inOrder reports whether r can take vals without leaving its place.
func (fm *FilterModel) inOrder(r *row, vals []any) bool {
	cmp := fm.filter.Compare
	if cmp == nil {
		return true
	}
	if r.prev != nil && cmp(r.prev.values, vals) > 0 {
		return false
	}
	if r.next != nil && cmp(vals, r.next.values) > 0 {
		return false
	}
	return true
}

// Verify checks the filtered model against a fresh run of the filter over the
// source.
func (fm *FilterModel) Verify() error {
	return fm.verify(0)
}

// verify ignores source row skip, which is being removed.
func (fm *FilterModel) verify(skip RowID) error {
	var want []*row
	for r := fm.src.rows.head; r != nil; r = r.next {
		if r.id != skip && fm.filter.match(rowView{fm.src, r}) {
			want = append(want, r)
		}
	}
	if n := fm.out.Len(); n != len(want) {
		return fmt.Errorf("%s: holds %d rows, filter accepts %d", fm.out.name, n, len(want))
	}
	if len(fm.srcIDs) != len(want) || fm.outIDs.Len() != len(want) {
		return fmt.Errorf("%s: row maps hold %d and %d entries, expected %d", fm.out.name, len(fm.srcIDs), fm.outIDs.Len(), len(want))
	}

	cmp := fm.filter.Compare
	i := 0
	for r := fm.out.rows.head; r != nil; r = r.next {
		sid, ok := fm.srcIDs[r.id]
		if !ok {
			return fmt.Errorf("%s: row %v has no source row", fm.out.name, r.id)
		}
		sr := fm.src.byID[sid]
		if sr == nil || sr.id == skip {
			return fmt.Errorf("%s: row %v maps to missing source row %v", fm.out.name, r.id, sid)
		}
		if cmp == nil && sr != want[i] {
			return fmt.Errorf("%s: row %v is at position %d, source row %v belongs there", fm.out.name, r.id, i, want[i].id)
		}
		if cmp != nil && r.prev != nil && cmp(r.prev.values, r.values) > 0 {
			return fmt.Errorf("%s: row %v sorts before %v", fm.out.name, r.id, r.prev.id)
		}
		if !slices.Equal(r.values, sr.values) {
			return fmt.Errorf("%s: row %v has %s, source row %v has %s", fm.out.name, r.id, loggableRow(fm.out, r.values), sid, loggableRow(fm.src, sr.values))
		}
		i++
	}
	return nil
}
