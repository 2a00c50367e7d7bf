package rowstore

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var peopleSchema = MustParseSchema("i", "s").WithColumnNames("id", "name")

func setupModel(t testing.TB, rows ...[]any) *Model {
	t.Helper()
	m := NewModel(MustParseSchema("i", "s"), Options{Name: "test", Strict: true})
	for _, r := range rows {
		_, err := m.Append(r...)
		require.NoError(t, err)
	}
	return m
}

func rowIDs(m *Model) []RowID {
	return slices.Collect(m.Rows())
}

func names(t testing.TB, m *Model, ids []RowID) []string {
	t.Helper()
	var result []string
	for _, id := range ids {
		s, err := m.GetString(id, 1)
		require.NoError(t, err)
		result = append(result, s)
	}
	return result
}

func TestModel_AppendAndGet(t *testing.T) {
	m := setupModel(t)
	id, err := m.Append(1, "one")
	require.NoError(t, err)
	assert.Equal(t, RowID(1), id)

	vals, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(1), "one"}, vals)

	n, err := m.GetInt32(id, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)

	_, err = m.GetString(id, 0)
	assert.ErrorIs(t, err, ErrInvalidFieldAccess)
	_, err = m.Field(id, 2)
	assert.ErrorIs(t, err, ErrInvalidFieldAccess)

	assert.Equal(t, 1, m.Len())
	assert.Equal(t, uint64(1), m.Seqnum())
}

func TestModel_SchemaMismatch(t *testing.T) {
	m := setupModel(t, []any{1, "one"})
	var notified int
	m.OnChange(func(*Change) { notified++ })

	_, err := m.Append(1)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	_, err = m.Append("one", 1)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	_, err = m.Append(1, "one", 2)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	err = m.SetRow(1, "x", "y")
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	assert.Equal(t, 1, m.Len())
	assert.Equal(t, uint64(1), m.Seqnum())
	assert.Zero(t, notified)
}

func TestModel_InsertBeforeAndPositions(t *testing.T) {
	m := setupModel(t)
	a, _ := m.Append(1, "a")
	c, _ := m.Append(3, "c")
	b, err := m.InsertBefore(c, 2, "b")
	require.NoError(t, err)
	z, err := m.Prepend(0, "z")
	require.NoError(t, err)
	d, err := m.InsertBefore(0, 4, "d")
	require.NoError(t, err)
	y, err := m.InsertAt(1, 9, "y")
	require.NoError(t, err)

	assert.Equal(t, []RowID{z, y, a, b, c, d}, rowIDs(m))
	assert.Equal(t, z, m.First())
	assert.Equal(t, d, m.Last())

	next, err := m.Next(a)
	require.NoError(t, err)
	assert.Equal(t, b, next)
	prev, err := m.Prev(z)
	require.NoError(t, err)
	assert.Zero(t, prev)

	pos, err := m.Position(c)
	require.NoError(t, err)
	assert.Equal(t, 4, pos)
	at, ok := m.RowAt(2)
	assert.True(t, ok)
	assert.Equal(t, a, at)
	_, ok = m.RowAt(6)
	assert.False(t, ok)

	require.NoError(t, m.Remove(b))
	_, err = m.InsertBefore(b, 5, "stale")
	assert.ErrorIs(t, err, ErrInvalidRow)
	assert.Equal(t, 5, m.Len())
}

func TestModel_RemoveInvalidatesID(t *testing.T) {
	m := setupModel(t, []any{1, "one"}, []any{2, "two"})
	require.NoError(t, m.Remove(1))

	assert.ErrorIs(t, m.Remove(1), ErrInvalidRow)
	_, err := m.Get(1)
	assert.ErrorIs(t, err, ErrInvalidRow)
	assert.ErrorIs(t, m.SetField(1, 1, "x"), ErrInvalidRow)
	assert.False(t, m.Contains(1))

	// IDs are never reused
	id, err := m.Append(3, "three")
	require.NoError(t, err)
	assert.Equal(t, RowID(3), id)
}

func TestModel_RemoveNotifiesWhileReadable(t *testing.T) {
	m := setupModel(t, []any{1, "one"})
	var seen string
	m.OnChange(func(chg *Change) {
		if chg.Op() == OpRemove {
			s, err := chg.Model().GetString(chg.Row(), 1)
			require.NoError(t, err)
			seen = s
		}
	})
	require.NoError(t, m.Remove(1))
	assert.Equal(t, "one", seen)
}

func TestModel_SetField(t *testing.T) {
	m := setupModel(t, []any{1, "one"})
	require.NoError(t, m.SetField(1, 1, "uno"))
	s, _ := m.GetString(1, 1)
	assert.Equal(t, "uno", s)

	assert.ErrorIs(t, m.SetField(1, 5, "x"), ErrInvalidFieldAccess)
	assert.ErrorIs(t, m.SetField(1, 0, "x"), ErrInvalidFieldAccess)
	assert.Equal(t, uint64(2), m.Seqnum())

	require.NoError(t, m.SetRow(1, 7, "seven"))
	vals, _ := m.Get(1)
	assert.Equal(t, []any{int32(7), "seven"}, vals)
}

func TestModel_View(t *testing.T) {
	m := setupModel(t, []any{1, "one"})
	v, err := m.View(1)
	require.NoError(t, err)
	assert.Equal(t, RowID(1), v.ID())
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, TypeString, v.Type(1))

	require.NoError(t, m.SetField(1, 1, "uno"))
	s, err := FieldAs[string](v, 1)
	require.NoError(t, err)
	assert.Equal(t, "uno", s)

	_, err = FieldAs[int64](v, 0)
	assert.ErrorIs(t, err, ErrInvalidFieldAccess)

	require.NoError(t, m.Remove(1))
	_, err = v.Field(1)
	assert.ErrorIs(t, err, ErrInvalidRow)
	_, err = v.Values()
	assert.ErrorIs(t, err, ErrInvalidRow)
}

func TestModel_RowsIsRestartable(t *testing.T) {
	m := setupModel(t, []any{1, "a"}, []any{2, "b"}, []any{3, "c"})
	seq := m.Rows()
	assert.Equal(t, []RowID{1, 2, 3}, slices.Collect(seq))
	assert.Equal(t, []RowID{1, 2, 3}, slices.Collect(seq))

	for id := range m.Rows() {
		if id == 2 {
			require.NoError(t, m.Remove(id))
		}
	}
	assert.Equal(t, []RowID{1, 3}, slices.Collect(seq))

	var got []string
	for _, row := range m.All() {
		s, _ := FieldAs[string](row, 1)
		got = append(got, s)
	}
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestModel_Clear(t *testing.T) {
	m := setupModel(t, []any{1, "a"}, []any{2, "b"})
	var removed []RowID
	m.OnChange(func(chg *Change) { removed = append(removed, chg.Row()) })
	m.Clear()
	assert.Equal(t, []RowID{1, 2}, removed)
	assert.Zero(t, m.Len())
	assert.Zero(t, m.First())
}

func TestModel_ReentrantMutationPanics(t *testing.T) {
	m := setupModel(t)
	m.OnChange(func(chg *Change) {
		if chg.Op() == OpAdd {
			_, _ = m.Append(2, "nested")
		}
	})
	assert.Panics(t, func() { _, _ = m.Append(1, "one") })
}

func TestModel_EndChangesetWithoutBegin(t *testing.T) {
	m := setupModel(t)
	assert.Panics(t, m.EndChangeset)
}

func TestModel_VerboseLogging(t *testing.T) {
	var lines []string
	m := NewModel(peopleSchema, Options{
		Name:    "people",
		Verbose: true,
		Logf:    func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) },
	})
	id, _ := m.Append(1, "one")
	_ = m.SetField(id, 1, "uno")
	_ = m.Remove(id)

	assert.Equal(t, []string{
		`model: APPEND people/#1 => [1,"one"]`,
		`model: SET people/#1.1 => [1,"uno"]`,
		`model: REMOVE people/#1`,
	}, lines)

	lines = nil
	m = NewModel(peopleSchema, Options{
		Name:            "secret",
		Verbose:         true,
		SuppressContent: true,
		Logf:            func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) },
	})
	_, _ = m.Append(1, "one")
	assert.Equal(t, []string{`model: APPEND secret/#1 => <suppressed>`}, lines)
}

func TestModel_Sorted(t *testing.T) {
	m := setupModel(t)
	byName := ColumnCompare(1)
	for _, s := range []string{"delta", "alpha", "charlie", "bravo", "alpha"} {
		_, err := m.InsertSorted(byName, len(s), s)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"alpha", "alpha", "bravo", "charlie", "delta"}, names(t, m, rowIDs(m)))

	// equal rows keep insertion order
	first, _ := m.RowAt(0)
	assert.Equal(t, RowID(2), first)

	id, err := m.FindSorted(byName, 0, "charlie")
	require.NoError(t, err)
	assert.Equal(t, RowID(3), id)

	id, err = m.FindSorted(byName, 0, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, id)

	byLen := func(a, b []any) int { return compareValues(a[0], b[0]) }
	m2 := setupModel(t, []any{1, "x"}, []any{3, "y"}, []any{5, "z"})
	id, err = m2.FindSorted(byLen, 3, "y")
	require.NoError(t, err)
	assert.Equal(t, RowID(2), id)
	_, err = m2.FindSorted(byLen, 4, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestModel_CollatedColumn(t *testing.T) {
	m := setupModel(t)
	cmp := CollatedColumn(1, NewTextAnalyzer())
	for _, s := range []string{"b", "Á", "a", "B"} {
		_, err := m.InsertSorted(cmp, 0, s)
		require.NoError(t, err)
	}
	got := names(t, m, rowIDs(m))
	// accented and uppercase variants sort next to their base letter
	assert.Equal(t, "b", strings.ToLower(got[2]))
	assert.Equal(t, "b", strings.ToLower(got[3]))
}

func TestRowError_Format(t *testing.T) {
	m := NewModel(peopleSchema, Options{Name: "people"})
	id, _ := m.Append(1, "one")
	err := m.SetField(id, 3, "x")
	assert.EqualError(t, err, "people/#1.3: SET: position out of range, schema has 2 fields: invalid field access")

	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, "SET", rowErr.Op)
	assert.Equal(t, id, rowErr.Row)
	assert.Equal(t, 3, rowErr.Field)

	_, err = m.Append("x")
	assert.EqualError(t, err, "people: APPEND: got 1 values for schema (id i, name s): schema mismatch")
}
