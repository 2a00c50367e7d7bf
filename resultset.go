package rowstore

import (
	"iter"
	"slices"
)

// ResultSet is an ordered list of matching rows with a read cursor.
//
// A ResultSet is a snapshot: later model changes do not affect it, and the
// rows it lists may have been removed by the time they are read.
type ResultSet struct {
	model *Model
	ids   []RowID
	pos   int
}

func newResultSet(m *Model, ids []RowID) *ResultSet {
	return &ResultSet{model: m, ids: ids}
}

func (rs *ResultSet) Model() *Model {
	return rs.model
}

func (rs *ResultSet) Len() int {
	return len(rs.ids)
}

func (rs *ResultSet) HasNext() bool {
	return rs.pos < len(rs.ids)
}

// Next returns the row under the cursor and advances it, or returns 0 when
// the set is exhausted.
func (rs *ResultSet) Next() RowID {
	if rs.pos >= len(rs.ids) {
		return 0
	}
	id := rs.ids[rs.pos]
	rs.pos++
	return id
}

// Peek returns the row under the cursor without advancing.
func (rs *ResultSet) Peek() RowID {
	if rs.pos >= len(rs.ids) {
		return 0
	}
	return rs.ids[rs.pos]
}

// Seek moves the cursor, clamped to [0, Len()].
func (rs *ResultSet) Seek(pos int) {
	rs.pos = max(0, min(pos, len(rs.ids)))
}

func (rs *ResultSet) Tell() int {
	return rs.pos
}

func (rs *ResultSet) IDs() []RowID {
	return slices.Clone(rs.ids)
}

// All yields every row regardless of the cursor.
func (rs *ResultSet) All() iter.Seq[RowID] {
	return slices.Values(rs.ids)
}
