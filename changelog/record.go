package changelog

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/rowstore"
)

type recordKind uint8

const (
	kindCheckpoint recordKind = 1
	kindAdd        recordKind = 2
	kindChange     recordKind = 3
	kindRemove     recordKind = 4
)

func (k recordKind) String() string {
	switch k {
	case kindCheckpoint:
		return "checkpoint"
	case kindAdd:
		return "add"
	case kindChange:
		return "change"
	case kindRemove:
		return "remove"
	default:
		return fmt.Sprintf("kind%d", uint8(k))
	}
}

// changeRecord is one logged model change. Rows are identified by the IDs of
// the model the writer was attached to; a checkpoint maps those IDs onto the
// replay target positionally.
type changeRecord struct {
	Kind   recordKind `msgpack:"k"`
	Seqnum uint64     `msgpack:"seq,omitempty"`
	Row    uint64     `msgpack:"row,omitempty"`

	// Next is the row the added row was inserted in front of, 0 when it was
	// appended.
	Next   uint64 `msgpack:"next,omitempty"`
	Fields []int  `msgpack:"f,omitempty"`
	Values []any  `msgpack:"v,omitempty"`

	Schema []string `msgpack:"schema,omitempty"`
	Rows   []uint64 `msgpack:"rows,omitempty"`
}

func encodeRecord(rec *changeRecord) []byte {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	err := enc.Encode(rec)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %v record using MsgPack: %w", rec.Kind, err))
	}
	return buf.Bytes()
}

func decodeRecord(data []byte) (*changeRecord, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	rec := new(changeRecord)
	err := dec.Decode(rec)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, &rowstore.DataError{Data: data, Err: fmt.Errorf("%w: %w", ErrCorrupted, err), Msg: "invalid change record"}
	}
	return rec, nil
}

// Attach starts logging the changes of m. It writes a checkpoint listing the
// current rows, so a replay must start from a model holding the same rows,
// typically a snapshot saved right before attaching.
//
// A writer logs one model at a time. Attach must not be called from a change
// handler or inside a changeset.
func (w *Writer) Attach(m *rowstore.Model) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model != nil {
		return fmt.Errorf("%v: already attached to %s", w.debugName, w.model.Name())
	}

	rec := &changeRecord{
		Kind:   kindCheckpoint,
		Seqnum: m.Seqnum(),
		Schema: m.Schema().Signature(),
		Rows:   make([]uint64, 0, m.Len()),
	}
	for id := range m.Rows() {
		rec.Rows = append(rec.Rows, uint64(id))
	}
	if err := w.writeRecord_locked(0, encodeRecord(rec)); err != nil {
		return err
	}
	if err := w.commit_locked(); err != nil {
		return err
	}

	w.model = m
	w.depth = 0
	w.sub = m.Subscribe(w, rowstore.ChangeFlagsAll)
	w.logger.LogAttrs(w.context, slog.LevelInfo, "changelog: attached",
		slog.String("jrnl", w.debugName),
		slog.String("model", m.Name()),
		slog.Int("rows", len(rec.Rows)),
		slog.Uint64("seq", rec.Seqnum))
	return nil
}

// Detach stops logging. Records of an unfinished changeset are committed.
func (w *Writer) Detach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return
	}
	w.model.Unsubscribe(w.sub)
	w.model = nil
	w.depth = 0
	_ = w.commit_locked() // latched in w.err
}

// HandleChange logs a model change. Called by the model's bus; write errors
// are reported by Err and Close.
func (w *Writer) HandleChange(chg *rowstore.Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil || w.err != nil {
		return
	}
	m := chg.Model()

	var rec *changeRecord
	switch chg.Op() {
	case rowstore.OpBeginChangeset:
		w.depth++
		return
	case rowstore.OpEndChangeset:
		if w.depth > 0 {
			w.depth--
		}
		if w.depth == 0 {
			_ = w.commit_locked() // latched in w.err
		}
		return
	case rowstore.OpAdd:
		vals, err := m.Get(chg.Row())
		if err != nil {
			w.fail(err)
			return
		}
		next, _ := m.Next(chg.Row())
		rec = &changeRecord{Kind: kindAdd, Row: uint64(chg.Row()), Next: uint64(next), Values: vals}
	case rowstore.OpChange:
		rec = &changeRecord{Kind: kindChange, Row: uint64(chg.Row()), Fields: chg.ChangedFields()}
		for _, pos := range rec.Fields {
			v, err := m.Field(chg.Row(), pos)
			if err != nil {
				w.fail(err)
				return
			}
			rec.Values = append(rec.Values, v)
		}
	case rowstore.OpRemove:
		rec = &changeRecord{Kind: kindRemove, Row: uint64(chg.Row())}
	default:
		return
	}
	rec.Seqnum = chg.Seqnum()

	if err := w.writeRecord_locked(0, encodeRecord(rec)); err != nil {
		return
	}
	if w.verbose {
		w.logger.LogAttrs(w.context, slog.LevelDebug, "changelog: "+strings.ToUpper(rec.Kind.String()),
			slog.String("jrnl", w.debugName),
			slog.String("row", rowstore.RowID(rec.Row).String()),
			slog.Uint64("seq", rec.Seqnum))
	}
	if w.depth == 0 {
		_ = w.commit_locked() // latched in w.err
	}
}
