package rowstore

type tagStore interface {
	forget(id RowID)
}

// Tag attaches a value of type T to rows of one model. A value lives as long
// as its row: removing the row drops it.
//
// Setting a tag does not count as a mutation. It sends no notification, does
// not bump the sequence number, and is allowed from a change handler, so
// subscribers can keep per-row state next to the rows they follow.
type Tag[T any] struct {
	m      *Model
	values map[RowID]T
}

// RegisterTag creates a new tag on m. Tags are cheap; each caller should
// register its own.
func RegisterTag[T any](m *Model) *Tag[T] {
	if m == nil {
		panic("nil model")
	}
	t := &Tag[T]{m: m, values: make(map[RowID]T)}
	m.tags = append(m.tags, t)
	return t
}

func (t *Tag[T]) Model() *Model {
	return t.m
}

// Set stores v for row id. It fails with ErrInvalidRow if there is no such
// row. A row being removed can still be tagged while its OpRemove is being
// dispatched; the value is dropped right after.
func (t *Tag[T]) Set(id RowID, v T) error {
	if t.values == nil {
		panic("tag used after Unregister")
	}
	if _, err := t.m.lookup("SET_TAG", id); err != nil {
		return err
	}
	t.values[id] = v
	return nil
}

// Get returns the value stored for id and whether there was one.
func (t *Tag[T]) Get(id RowID) (T, bool) {
	v, ok := t.values[id]
	return v, ok
}

func (t *Tag[T]) Clear(id RowID) {
	delete(t.values, id)
}

// Len returns the number of tagged rows.
func (t *Tag[T]) Len() int {
	return len(t.values)
}

// Unregister detaches the tag from its model and drops all values.
func (t *Tag[T]) Unregister() {
	for i, s := range t.m.tags {
		if s == tagStore(t) {
			t.m.tags = append(t.m.tags[:i:i], t.m.tags[i+1:]...)
			break
		}
	}
	t.values = nil
}

func (t *Tag[T]) forget(id RowID) {
	delete(t.values, id)
}
