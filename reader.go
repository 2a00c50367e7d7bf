package rowstore

// Reader extracts the text to analyze from a row. It returns false when the
// row has nothing to contribute.
type Reader interface {
	Read(row RowView) (string, bool)
}

type ReaderFunc func(row RowView) (string, bool)

func (f ReaderFunc) Read(row RowView) (string, bool) {
	return f(row)
}

// StringColumn reads a string column verbatim.
func StringColumn(col int) Reader {
	return columnReader[string](col)
}

// Int32Column and friends read a numeric column as its decimal text.
func Int32Column(col int) Reader {
	return columnReader[int32](col)
}

func Uint32Column(col int) Reader {
	return columnReader[uint32](col)
}

func Int64Column(col int) Reader {
	return columnReader[int64](col)
}

func Uint64Column(col int) Reader {
	return columnReader[uint64](col)
}

func columnReader[T any](col int) Reader {
	return ReaderFunc(func(row RowView) (string, bool) {
		v, err := FieldAs[T](row, col)
		if err != nil {
			return "", false
		}
		return formatValue(v), true
	})
}
