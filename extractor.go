package rowstore

// KeyExtractor computes the index keys of a row. It must be deterministic and
// must not mutate anything. A row may yield no keys, and duplicates are
// allowed; the index deduplicates them.
type KeyExtractor interface {
	ExtractKeys(row RowView) []string
}

type ExtractorFunc func(row RowView) []string

func (f ExtractorFunc) ExtractKeys(row RowView) []string {
	return f(row)
}

// AnalyzerExtractor reads text with r and turns it into keys with an.
func AnalyzerExtractor(r Reader, an Analyzer) KeyExtractor {
	return ExtractorFunc(func(row RowView) []string {
		text, ok := r.Read(row)
		if !ok {
			return nil
		}
		return an.Analyze(text)
	})
}

// ColumnExtractor keys each row by the exact contents of a string column.
func ColumnExtractor(col int) KeyExtractor {
	return AnalyzerExtractor(StringColumn(col), NewBaseAnalyzer())
}
