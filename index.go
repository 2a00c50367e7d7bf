package rowstore

import "log/slog"

// Index maps keys extracted from a model's rows back to those rows and keeps
// itself up to date as the model changes.
//
// Results tie-break by RowID, i.e. in row creation order. Using an index
// after Close panics.
type Index interface {
	Name() string
	Model() *Model

	// Lookup returns the rows matching term. With MatchPrefix, rows come
	// ordered by key, then by RowID, each row once.
	Lookup(term string, flags MatchFlags) *ResultSet

	// LookupOne returns the lowest RowID keyed by term, or ErrNotFound.
	LookupOne(term string) (RowID, error)

	// LookupAll returns all rows keyed by term in RowID order.
	LookupAll(term string) []RowID

	// LookupRange returns the rows having a key within rang, ordered by key
	// and then RowID. A row with several matching keys is reported once, at
	// its smallest matching key.
	LookupRange(rang Range) []RowID

	// Foreach visits terms in ascending order starting at the first term >=
	// start, until f returns false.
	Foreach(start string, f func(term string, rows *ResultSet) bool)

	NumTerms() int
	NumEntries() int

	// NumRows counts rows having at least one key.
	NumRows() int
	NumRowsForTerm(term string) int

	// RowKeys returns the deduplicated, sorted keys the index holds for a row.
	RowKeys(id RowID) []string

	SupportedMatchFlags() MatchFlags

	// Verify recomputes every row's keys and compares them with the index
	// contents, reporting the first discrepancy.
	Verify() error

	Stats() IndexStats

	Close()
}

type MatchFlags uint64

const (
	MatchExact MatchFlags = 1 << iota
	MatchPrefix

	MatchNone MatchFlags = 0
)

func (f MatchFlags) Contains(v MatchFlags) bool {
	return (f & v) == v
}

func (f MatchFlags) String() string {
	switch f {
	case MatchNone:
		return "none"
	case MatchExact:
		return "exact"
	case MatchPrefix:
		return "prefix"
	case MatchExact | MatchPrefix:
		return "exact|prefix"
	default:
		return "invalid"
	}
}

const DefaultBTreeDegree = 32

type indexOptions struct {
	name    string
	logger  *slog.Logger
	degree  int
	verbose bool
}

type IndexOption func(o *indexOptions)

// WithIndexName sets the name used in logs and dumps.
func WithIndexName(name string) IndexOption {
	return func(o *indexOptions) { o.name = name }
}

// WithIndexLogger overrides the logger inherited from the model.
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(o *indexOptions) { o.logger = logger }
}

// WithBTreeDegree sets the degree of a TreeIndex's B-tree. Ignored by other
// index kinds.
func WithBTreeDegree(degree int) IndexOption {
	return func(o *indexOptions) { o.degree = degree }
}

// WithIndexVerbose traces every index update through the model's Logf.
func WithIndexVerbose(verbose bool) IndexOption {
	return func(o *indexOptions) { o.verbose = verbose }
}
