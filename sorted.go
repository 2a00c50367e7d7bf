package rowstore

// RowCompareFunc orders two rows given their field values.
type RowCompareFunc func(a, b []any) int

// ColumnCompare orders rows by the natural order of a single column.
func ColumnCompare(col int) RowCompareFunc {
	return func(a, b []any) int {
		return compareValues(a[col], b[col])
	}
}

// CollatedColumn orders rows by a text column using the analyzer's collation.
// Columns that are not strings fall back to their natural order.
func CollatedColumn(col int, an Analyzer) RowCompareFunc {
	return func(a, b []any) int {
		as, aok := a[col].(string)
		bs, bok := b[col].(string)
		if !aok || !bok {
			return compareValues(a[col], b[col])
		}
		return an.CollateCmp(an.CollateKey(as), an.CollateKey(bs))
	}
}

// InsertSorted inserts a row in front of the first row that sorts after it,
// so equal rows keep insertion order. It assumes the model is already sorted
// by cmp. O(n).
func (m *Model) InsertSorted(cmp RowCompareFunc, values ...any) (RowID, error) {
	const op = "INSERT_SORTED"
	m.requireIdle(op)
	vals, err := m.coerceRow(op, 0, values)
	if err != nil {
		return 0, err
	}
	var mark *row
	for r := m.rows.head; r != nil; r = r.next {
		if cmp(vals, r.values) < 0 {
			mark = r
			break
		}
	}
	return m.insertBefore(op, mark, vals)
}

// FindSorted returns the first row comparing equal to the probe values,
// assuming the model is sorted by cmp. The scan stops at the first row that
// sorts after the probe. Returns ErrNotFound if there is no such row.
func (m *Model) FindSorted(cmp RowCompareFunc, values ...any) (RowID, error) {
	const op = "FIND_SORTED"
	vals, err := m.coerceRow(op, 0, values)
	if err != nil {
		return 0, err
	}
	for r := m.rows.head; r != nil; r = r.next {
		c := cmp(vals, r.values)
		if c == 0 {
			return r.id, nil
		} else if c < 0 {
			break
		}
	}
	return 0, rowErrf(m, op, 0, -1, ErrNotFound, "no matching row")
}
