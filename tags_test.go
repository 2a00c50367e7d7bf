package rowstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTag_SetGetClear(t *testing.T) {
	m := setupModel(t, []any{1, "a"}, []any{2, "b"})
	tag := RegisterTag[string](m)
	seq := m.Seqnum()

	require.NoError(t, tag.Set(1, "first"))
	v, ok := tag.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "first", v)
	_, ok = tag.Get(2)
	assert.False(t, ok)
	assert.Equal(t, seq, m.Seqnum())

	err := tag.Set(9, "nope")
	assert.ErrorIs(t, err, ErrInvalidRow)

	tag.Clear(1)
	assert.Zero(t, tag.Len())
}

func TestTag_DroppedWithRow(t *testing.T) {
	m := setupModel(t, []any{1, "a"}, []any{2, "b"})
	count := RegisterTag[int](m)
	other := RegisterTag[bool](m)
	require.NoError(t, count.Set(1, 10))
	require.NoError(t, count.Set(2, 20))
	require.NoError(t, other.Set(1, true))

	// handlers still see the value of a row being removed
	var seen int
	m.OnChange(func(chg *Change) {
		if chg.Op() == OpRemove {
			seen, _ = count.Get(chg.Row())
		}
	})
	require.NoError(t, m.Remove(1))
	assert.Equal(t, 10, seen)
	_, ok := count.Get(1)
	assert.False(t, ok)
	assert.Zero(t, other.Len())
	assert.Equal(t, 1, count.Len())

	m.Clear()
	assert.Zero(t, count.Len())
}

func TestTag_SetFromHandler(t *testing.T) {
	m := setupModel(t)
	added := RegisterTag[uint64](m)
	m.OnChange(func(chg *Change) {
		if chg.Op() == OpAdd {
			require.NoError(t, added.Set(chg.Row(), chg.Seqnum()))
		}
	})
	id, err := m.Append(1, "a")
	require.NoError(t, err)
	v, ok := added.Get(id)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), v)
}

func TestTag_Unregister(t *testing.T) {
	m := setupModel(t, []any{1, "a"})
	tag := RegisterTag[int](m)
	keep := RegisterTag[int](m)
	require.NoError(t, tag.Set(1, 1))
	tag.Unregister()

	assert.Equal(t, []tagStore{keep}, m.tags)
	_, ok := tag.Get(1)
	assert.False(t, ok)
	assert.Panics(t, func() { _ = tag.Set(1, 2) })
	assert.Same(t, m, keep.Model())
}
