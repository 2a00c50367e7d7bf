package rowstore

import (
	"fmt"
	"iter"
	"log"
	"log/slog"
	"slices"
	"strconv"
)

// RowID identifies a row for the lifetime of its model. IDs are assigned in
// increasing order and never reused; zero is never a valid ID.
type RowID uint64

func (id RowID) String() string {
	return "#" + strconv.FormatUint(uint64(id), 10)
}

type Options struct {
	// Name is used in log lines, dumps and errors. Defaults to "model".
	Name string

	// Logf receives verbose mutation traces. Defaults to log.Printf.
	Logf    func(format string, args ...any)
	Verbose bool

	// SuppressContent hides row values from verbose logs.
	SuppressContent bool

	// Logger receives structured diagnostics (index builds, consistency
	// faults). Defaults to slog.Default().
	Logger *slog.Logger

	// Strict makes every index re-verify itself against the model after each
	// change and panic on a mismatch. Meant for tests.
	Strict bool
}

// Model is an ordered collection of rows sharing a fixed Schema.
//
// Every successful mutation notifies subscribers synchronously, before the
// mutating call returns. A Model is not safe for concurrent use; guard it
// together with its indexes by a single lock if it is shared.
type Model struct {
	schema  *Schema
	name    string
	rows    rowList
	byID    map[RowID]*row
	lastID  RowID
	seqnum  uint64
	bus     Bus
	logf    func(format string, args ...any)
	logger  *slog.Logger
	verbose bool
	strict  bool

	suppressContent bool

	dispatching    int
	changesetDepth int

	tags []tagStore

	// source is set on filtered models, which only change while syncing.
	source  *Model
	syncing bool
}

func NewModel(schema *Schema, opt Options) *Model {
	if schema == nil {
		panic("nil schema")
	}
	m := &Model{
		schema:  schema,
		name:    opt.Name,
		byID:    make(map[RowID]*row),
		logf:    opt.Logf,
		logger:  opt.Logger,
		verbose: opt.Verbose,
		strict:  opt.Strict,

		suppressContent: opt.SuppressContent,
	}
	if m.name == "" {
		m.name = "model"
	}
	if m.logf == nil {
		m.logf = log.Printf
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

func (m *Model) Schema() *Schema {
	return m.schema
}

func (m *Model) Name() string {
	return m.name
}

func (m *Model) Len() int {
	return m.rows.n
}

// Seqnum is incremented by every row mutation.
func (m *Model) Seqnum() uint64 {
	return m.seqnum
}

// SetSeqnum overrides the sequence number, e.g. when restoring a snapshot.
func (m *Model) SetSeqnum(seqnum uint64) {
	m.requireIdle("SET_SEQNUM")
	m.seqnum = seqnum
}

func (m *Model) Logger() *slog.Logger {
	return m.logger
}

func (m *Model) Subscribe(sub Subscriber, flags ChangeFlags) SubscriptionID {
	return m.bus.Subscribe(sub, flags)
}

func (m *Model) Unsubscribe(id SubscriptionID) bool {
	return m.bus.Unsubscribe(id)
}

// OnChange subscribes f to every change, including changeset markers.
func (m *Model) OnChange(f func(chg *Change)) SubscriptionID {
	return m.bus.Subscribe(SubscriberFunc(f), ChangeFlagsAll)
}

func (m *Model) Append(values ...any) (RowID, error) {
	return m.insertBefore("APPEND", nil, values)
}

func (m *Model) Prepend(values ...any) (RowID, error) {
	return m.insertBefore("PREPEND", m.rows.head, values)
}

// InsertBefore inserts a row in front of ref. A zero ref appends.
func (m *Model) InsertBefore(ref RowID, values ...any) (RowID, error) {
	const op = "INSERT_BEFORE"
	m.requireIdle(op)
	var mark *row
	if ref != 0 {
		r, err := m.lookup(op, ref)
		if err != nil {
			return 0, err
		}
		mark = r
	}
	return m.insertBefore(op, mark, values)
}

// InsertAt inserts a row at pos, clamped to [0, Len()].
func (m *Model) InsertAt(pos int, values ...any) (RowID, error) {
	pos = max(0, min(pos, m.rows.n))
	return m.insertBefore("INSERT", m.rows.at(pos), values)
}

func (m *Model) insertBefore(op string, mark *row, values []any) (RowID, error) {
	m.requireIdle(op)
	vals, err := m.coerceRow(op, 0, values)
	if err != nil {
		return 0, err
	}

	m.lastID++
	r := &row{id: m.lastID, values: vals}
	m.rows.insertBefore(r, mark)
	m.byID[r.id] = r
	m.seqnum++

	if m.verbose {
		m.logf("model: %s %s/%v => %s", op, m.name, r.id, loggableRow(m, vals))
	}
	m.emit(&Change{op: OpAdd, row: r.id})
	return r.id, nil
}

// Remove deletes a row. Subscribers are notified while the row is still
// readable; afterwards its ID is permanently invalid.
func (m *Model) Remove(id RowID) error {
	const op = "REMOVE"
	m.requireIdle(op)
	r, err := m.lookup(op, id)
	if err != nil {
		return err
	}
	m.removeRow(r)
	return nil
}

// Clear removes all rows in store order, one notification per row.
func (m *Model) Clear() {
	m.requireIdle("CLEAR")
	for m.rows.head != nil {
		m.removeRow(m.rows.head)
	}
}

func (m *Model) removeRow(r *row) {
	m.seqnum++
	if m.verbose {
		m.logf("model: REMOVE %s/%v", m.name, r.id)
	}
	m.emit(&Change{op: OpRemove, row: r.id})

	m.rows.remove(r)
	delete(m.byID, r.id)
	r.removed = true
	r.values = nil
	for _, t := range m.tags {
		t.forget(r.id)
	}
}

// SetField overwrites a single field. An out-of-range position or a value of
// the wrong type fails with ErrInvalidFieldAccess.
func (m *Model) SetField(id RowID, pos int, value any) error {
	const op = "SET"
	m.requireIdle(op)
	r, err := m.lookup(op, id)
	if err != nil {
		return err
	}
	ft := m.schema.Field(pos)
	if ft == TypeInvalid {
		return rowErrf(m, op, id, pos, ErrInvalidFieldAccess, "position out of range, schema has %d fields", m.schema.Len())
	}
	v, ok := coerceValue(ft, value)
	if !ok {
		return rowErrf(m, op, id, pos, ErrInvalidFieldAccess, "cannot store %T in %v field", value, ft)
	}

	r.values[pos] = v
	m.seqnum++
	if m.verbose {
		m.logf("model: SET %s/%v.%d => %s", m.name, id, pos, loggableRow(m, r.values))
	}
	m.emit(&Change{op: OpChange, row: id, fields: []int{pos}})
	return nil
}

// SetRow replaces all fields of a row.
func (m *Model) SetRow(id RowID, values ...any) error {
	const op = "SET_ROW"
	m.requireIdle(op)
	r, err := m.lookup(op, id)
	if err != nil {
		return err
	}
	vals, err := m.coerceRow(op, id, values)
	if err != nil {
		return err
	}

	r.values = vals
	m.seqnum++
	if m.verbose {
		m.logf("model: SET_ROW %s/%v => %s", m.name, id, loggableRow(m, vals))
	}
	fields := make([]int, len(vals))
	for i := range fields {
		fields[i] = i
	}
	m.emit(&Change{op: OpChange, row: id, fields: fields})
	return nil
}

// setFields copies the given fields of vals into r and sends one OpChange.
func (m *Model) setFields(op string, r *row, vals []any, fields []int) {
	for _, pos := range fields {
		r.values[pos] = vals[pos]
	}
	m.seqnum++
	if m.verbose {
		m.logf("model: %s %s/%v => %s", op, m.name, r.id, loggableRow(m, r.values))
	}
	m.emit(&Change{op: OpChange, row: r.id, fields: fields})
}

// BeginChangeset and EndChangeset bracket a group of mutations for
// subscribers that want to batch their work. They nest.
func (m *Model) BeginChangeset() {
	m.requireIdle("BEGIN_CHANGESET")
	m.changesetDepth++
	m.emit(&Change{op: OpBeginChangeset})
}

func (m *Model) EndChangeset() {
	m.requireIdle("END_CHANGESET")
	if m.changesetDepth == 0 {
		panic(fmt.Errorf("%s: EndChangeset without BeginChangeset", m.name))
	}
	m.changesetDepth--
	m.emit(&Change{op: OpEndChangeset})
}

func (m *Model) Contains(id RowID) bool {
	return m.byID[id] != nil
}

// Get returns a copy of the row's field values.
func (m *Model) Get(id RowID) ([]any, error) {
	r, err := m.lookup("GET", id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(r.values), nil
}

func (m *Model) Field(id RowID, pos int) (any, error) {
	r, err := m.lookup("GET", id)
	if err != nil {
		return nil, err
	}
	return m.field(r, pos)
}

func (m *Model) field(r *row, pos int) (any, error) {
	if r.removed {
		return nil, rowErrf(m, "GET", r.id, pos, ErrInvalidRow, "row was removed")
	}
	if pos < 0 || pos >= len(r.values) {
		return nil, rowErrf(m, "GET", r.id, pos, ErrInvalidFieldAccess, "position out of range, schema has %d fields", m.schema.Len())
	}
	return r.values[pos], nil
}

func getField[T any](m *Model, id RowID, pos int) (T, error) {
	var zero T
	v, err := m.Field(id, pos)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, rowErrf(m, "GET", id, pos, ErrInvalidFieldAccess, "field is %v, not %T", m.schema.Field(pos), zero)
	}
	return t, nil
}

func (m *Model) GetBool(id RowID, pos int) (bool, error)     { return getField[bool](m, id, pos) }
func (m *Model) GetByte(id RowID, pos int) (uint8, error)    { return getField[uint8](m, id, pos) }
func (m *Model) GetInt32(id RowID, pos int) (int32, error)   { return getField[int32](m, id, pos) }
func (m *Model) GetUint32(id RowID, pos int) (uint32, error) { return getField[uint32](m, id, pos) }
func (m *Model) GetInt64(id RowID, pos int) (int64, error)   { return getField[int64](m, id, pos) }
func (m *Model) GetUint64(id RowID, pos int) (uint64, error) { return getField[uint64](m, id, pos) }
func (m *Model) GetDouble(id RowID, pos int) (float64, error) {
	return getField[float64](m, id, pos)
}
func (m *Model) GetString(id RowID, pos int) (string, error) {
	return getField[string](m, id, pos)
}

// View returns a live read handle for the row.
func (m *Model) View(id RowID) (RowView, error) {
	r, err := m.lookup("VIEW", id)
	if err != nil {
		return nil, err
	}
	return rowView{m, r}, nil
}

// Rows yields live row IDs in store order. The sequence is lazy and can be
// iterated again. Removing the current row while iterating is allowed; other
// mutations during iteration are not.
func (m *Model) Rows() iter.Seq[RowID] {
	return func(yield func(RowID) bool) {
		for r := m.rows.head; r != nil; {
			next := r.next
			if !r.removed && !yield(r.id) {
				return
			}
			r = next
		}
	}
}

// All is like Rows but also yields a view of each row.
func (m *Model) All() iter.Seq2[RowID, RowView] {
	return func(yield func(RowID, RowView) bool) {
		for r := m.rows.head; r != nil; {
			next := r.next
			if !r.removed && !yield(r.id, rowView{m, r}) {
				return
			}
			r = next
		}
	}
}

// First returns the first row, or 0 if the model is empty.
func (m *Model) First() RowID {
	if m.rows.head == nil {
		return 0
	}
	return m.rows.head.id
}

// Last returns the last row, or 0 if the model is empty.
func (m *Model) Last() RowID {
	if m.rows.tail == nil {
		return 0
	}
	return m.rows.tail.id
}

// Next returns the row after id, or 0 at the end.
func (m *Model) Next(id RowID) (RowID, error) {
	r, err := m.lookup("NEXT", id)
	if err != nil {
		return 0, err
	}
	if r.next == nil {
		return 0, nil
	}
	return r.next.id, nil
}

// Prev returns the row before id, or 0 at the start.
func (m *Model) Prev(id RowID) (RowID, error) {
	r, err := m.lookup("PREV", id)
	if err != nil {
		return 0, err
	}
	if r.prev == nil {
		return 0, nil
	}
	return r.prev.id, nil
}

// Position returns the zero-based store position of id. O(n).
func (m *Model) Position(id RowID) (int, error) {
	r, err := m.lookup("POSITION", id)
	if err != nil {
		return 0, err
	}
	return m.rows.position(r), nil
}

// RowAt returns the row at a zero-based store position. O(n).
func (m *Model) RowAt(pos int) (RowID, bool) {
	r := m.rows.at(pos)
	if r == nil {
		return 0, false
	}
	return r.id, true
}

func (m *Model) lookup(op string, id RowID) (*row, error) {
	r := m.byID[id]
	if r == nil {
		return nil, rowErrf(m, op, id, -1, ErrInvalidRow, "no such row")
	}
	return r, nil
}

func (m *Model) coerceRow(op string, id RowID, values []any) ([]any, error) {
	n := m.schema.Len()
	if len(values) != n {
		return nil, rowErrf(m, op, id, -1, ErrSchemaMismatch, "got %d values for schema %v", len(values), m.schema)
	}
	out := make([]any, n)
	for i, v := range values {
		ft := m.schema.fields[i]
		c, ok := coerceValue(ft, v)
		if !ok {
			return nil, rowErrf(m, op, id, i, ErrSchemaMismatch, "cannot store %T in %v field", v, ft)
		}
		out[i] = c
	}
	return out, nil
}

func (m *Model) requireIdle(op string) {
	if m.dispatching > 0 {
		panic(fmt.Errorf("%s: %s called from a change handler, models do not support re-entrant mutation", m.name, op))
	}
	if m.source != nil && !m.syncing {
		panic(fmt.Errorf("%s: %s on a filtered model, mutate %s instead", m.name, op, m.source.name))
	}
}

func (m *Model) emit(chg *Change) {
	chg.model = m
	chg.seqnum = m.seqnum
	m.dispatching++
	defer func() { m.dispatching-- }()
	m.bus.Dispatch(chg)
}
