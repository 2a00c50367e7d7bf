package rowstore

import "slices"

// RowView reads the fields of a single row by position. Views are live: they
// observe later writes to the row, and fail with ErrInvalidRow once the row is
// gone.
type RowView interface {
	ID() RowID
	Len() int
	Type(pos int) FieldType
	Field(pos int) (any, error)
	Values() ([]any, error)
}

type rowView struct {
	m *Model
	r *row
}

func (v rowView) ID() RowID {
	return v.r.id
}

func (v rowView) Len() int {
	return v.m.schema.Len()
}

func (v rowView) Type(pos int) FieldType {
	return v.m.schema.Field(pos)
}

func (v rowView) Field(pos int) (any, error) {
	return v.m.field(v.r, pos)
}

func (v rowView) Values() ([]any, error) {
	if v.r.removed {
		return nil, rowErrf(v.m, "GET", v.r.id, -1, ErrInvalidRow, "row was removed")
	}
	return slices.Clone(v.r.values), nil
}

// FieldAs reads a field of a known Go type, e.g. FieldAs[string](row, 1).
func FieldAs[T any](v RowView, pos int) (T, error) {
	var zero T
	val, err := v.Field(pos)
	if err != nil {
		return zero, err
	}
	t, ok := val.(T)
	if !ok {
		return zero, rowErrf(nil, "GET", v.ID(), pos, ErrInvalidFieldAccess, "field is %v, not %T", v.Type(pos), zero)
	}
	return t, nil
}
