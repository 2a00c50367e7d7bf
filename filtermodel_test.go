package rowstore

import (
	"math/rand"
	"regexp"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strictFilter(src *Model, f Filter) *FilterModel {
	return NewFilterModel(src, f, Options{Strict: true})
}

func allNames(t testing.TB, m *Model) []string {
	t.Helper()
	return names(t, m, rowIDs(m))
}

func TestFilterModel_KeyFilterFollowsSource(t *testing.T) {
	src := setupModel(t, []any{1, "a"}, []any{2, "b"}, []any{3, "a"})
	fm := strictFilter(src, KeyFilter(1, "a"))
	m := fm.Model()

	assert.Equal(t, "test.filter", m.Name())
	assert.Equal(t, []string{"a", "a"}, allNames(t, m))
	ids := rowIDs(m)
	sid, ok := fm.SourceRow(ids[1])
	require.True(t, ok)
	assert.Equal(t, RowID(3), sid)

	_, _ = src.Prepend(0, "a")
	_, _ = src.Append(4, "b")
	first, err := m.GetInt32(m.First(), 0)
	require.NoError(t, err)
	assert.Equal(t, int32(0), first)
	assert.Equal(t, 3, m.Len())

	// row 2 starts matching and takes its source position
	require.NoError(t, src.SetField(2, 1, "a"))
	var got []int32
	for id := range m.Rows() {
		v, err := m.GetInt32(id, 0)
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []int32{0, 1, 2, 3}, got)

	// row 1 stops matching
	require.NoError(t, src.SetField(1, 1, "z"))
	_, ok = fm.FilteredRow(1)
	assert.False(t, ok)
	assert.Equal(t, 3, m.Len())

	require.NoError(t, src.Remove(3))
	assert.Equal(t, 2, m.Len())
	require.NoError(t, fm.Verify())
}

func TestFilterModel_UpdatesInPlace(t *testing.T) {
	src := setupModel(t, []any{1, "a"}, []any{2, "a"})
	fm := strictFilter(src, KeyFilter(1, "a"))
	m := fm.Model()

	var log []string
	m.OnChange(func(chg *Change) { log = append(log, chg.String()) })
	require.NoError(t, src.SetField(2, 0, 20))

	id, ok := fm.FilteredRow(2)
	require.True(t, ok)
	v, err := m.GetInt32(id, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(20), v)
	assert.Equal(t, []string{"change #2 fields=[0] seq=3"}, log)
}

func TestFilterModel_ValueFilter(t *testing.T) {
	src := setupModel(t, []any{1, "a"}, []any{2, "b"}, []any{1, "c"})
	fm := strictFilter(src, ValueFilter(0, 1))
	assert.Equal(t, []string{"a", "c"}, allNames(t, fm.Model()))

	fm2 := strictFilter(src, ValueFilter(0, "one"))
	assert.Zero(t, fm2.Model().Len())
}

func TestFilterModel_RegexFilter(t *testing.T) {
	src := setupModel(t, []any{1, "apple"}, []any{2, "banana"}, []any{3, "apricot"})
	fm := strictFilter(src, RegexFilter(1, regexp.MustCompile(`^ap`)))
	assert.Equal(t, []string{"apple", "apricot"}, allNames(t, fm.Model()))

	require.NoError(t, src.SetField(2, 1, "apex"))
	assert.Equal(t, []string{"apple", "apex", "apricot"}, allNames(t, fm.Model()))
}

func TestFilterModel_Sorted(t *testing.T) {
	src := setupModel(t, []any{1, "pear"}, []any{2, "apple"}, []any{3, "fig"})
	fm := strictFilter(src, SortFilter(ColumnCompare(1)))
	m := fm.Model()
	assert.Equal(t, []string{"apple", "fig", "pear"}, allNames(t, m))

	_, _ = src.Append(4, "banana")
	assert.Equal(t, []string{"apple", "banana", "fig", "pear"}, allNames(t, m))

	// a change that keeps the order is applied in place
	before, _ := fm.FilteredRow(3)
	require.NoError(t, src.SetField(3, 1, "cherry"))
	after, _ := fm.FilteredRow(3)
	assert.Equal(t, before, after)

	// a change that breaks it moves the row
	require.NoError(t, src.SetField(2, 1, "zucchini"))
	assert.Equal(t, []string{"banana", "cherry", "pear", "zucchini"}, allNames(t, m))
	require.NoError(t, fm.Verify())
}

func TestFilterModel_Collator(t *testing.T) {
	src := setupModel(t, []any{1, "bär"}, []any{2, "Zebra"}, []any{3, "äpfel"})
	an := NewTextAnalyzer()

	asc := strictFilter(src, CollatorFilter(1, an))
	assert.Equal(t, []string{"äpfel", "bär", "Zebra"}, allNames(t, asc.Model()))

	desc := strictFilter(src, CollatorFilterDesc(1, an))
	assert.Equal(t, []string{"Zebra", "bär", "äpfel"}, allNames(t, desc.Model()))
}

func TestFilterModel_ForwardsChangesets(t *testing.T) {
	src := setupModel(t)
	fm := strictFilter(src, KeyFilter(1, "a"))

	var ops []Op
	fm.Model().OnChange(func(chg *Change) { ops = append(ops, chg.Op()) })
	src.BeginChangeset()
	_, _ = src.Append(1, "a")
	_, _ = src.Append(2, "b")
	src.EndChangeset()

	assert.Equal(t, []Op{OpBeginChangeset, OpAdd, OpEndChangeset}, ops)
}

func TestFilterModel_IsReadOnly(t *testing.T) {
	src := setupModel(t, []any{1, "a"})
	m := strictFilter(src, Filter{}).Model()

	assert.PanicsWithError(t, "test.filter: APPEND on a filtered model, mutate test instead", func() {
		_, _ = m.Append(2, "b")
	})
	assert.Panics(t, func() { _ = m.Remove(m.First()) })
	assert.Panics(t, func() { _ = m.SetField(m.First(), 1, "x") })
	assert.Panics(t, func() { m.BeginChangeset() })
}

func TestFilterModel_CanBeIndexedAndChained(t *testing.T) {
	src := setupModel(t, []any{1, "ant"}, []any{2, "bee"}, []any{3, "ape"})
	fm := strictFilter(src, RegexFilter(1, regexp.MustCompile(`^a`)))
	idx := NewTreeIndex(fm.Model(), ColumnExtractor(1))
	chained := strictFilter(fm.Model(), SortFilter(ColumnCompare(1)))

	_, _ = src.Append(4, "asp")
	require.NoError(t, src.Remove(1))

	assert.Len(t, idx.LookupRange(PrefixRange("a")), 2)
	require.NoError(t, idx.Verify())
	assert.Equal(t, []string{"ape", "asp"}, allNames(t, chained.Model()))
}

func TestFilterModel_Close(t *testing.T) {
	src := setupModel(t, []any{1, "a"})
	fm := strictFilter(src, Filter{})
	src.BeginChangeset()
	fm.Close()
	src.EndChangeset()

	_, _ = src.Append(2, "b")
	assert.Equal(t, []string{"a"}, allNames(t, fm.Model()))
	assert.Empty(t, src.tags)
	fm.Close()
}

func TestFilterModel_CreateFromHandlerPanics(t *testing.T) {
	src := setupModel(t)
	src.OnChange(func(chg *Change) {
		assert.Panics(t, func() { NewFilterModel(src, Filter{}, Options{}) })
	})
	_, _ = src.Append(1, "a")
}

func TestFilterModel_RandomMutations(t *testing.T) {
	filters := map[string]Filter{
		"source order": RegexFilter(1, regexp.MustCompile(`an`)),
		"sorted":       RegexFilter(1, regexp.MustCompile(`an`)).SortedBy(ColumnCompare(1)),
	}
	for name, f := range filters {
		t.Run(name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(7))
			src := setupModel(t)
			fm := strictFilter(src, f)
			var live []RowID

			for step := 0; step < 400; step++ {
				switch op := rnd.Intn(10); {
				case op < 4 || len(live) == 0:
					id, err := src.Append(step, randomWords(rnd))
					require.NoError(t, err)
					live = append(live, id)
				case op < 5:
					ref := live[rnd.Intn(len(live))]
					id, err := src.InsertBefore(ref, step, randomWords(rnd))
					require.NoError(t, err)
					live = append(live, id)
				case op < 7:
					i := rnd.Intn(len(live))
					require.NoError(t, src.Remove(live[i]))
					live = slices.Delete(live, i, i+1)
				default:
					id := live[rnd.Intn(len(live))]
					require.NoError(t, src.SetField(id, 1, randomWords(rnd)))
				}
			}
			require.NoError(t, fm.Verify())

			src.Clear()
			assert.Zero(t, fm.Model().Len())
		})
	}
}
