package rowstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaMismatch means the values passed to a row mutation do not match
	// the model schema in arity or type. The model is left unchanged.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrInvalidRow means the row identity is unknown or the row was removed.
	ErrInvalidRow = errors.New("invalid row")

	// ErrInvalidFieldAccess means a field position is out of range or the
	// field holds a different type than requested.
	ErrInvalidFieldAccess = errors.New("invalid field access")

	// ErrNotFound is returned by queries that matched nothing. It is a normal
	// outcome, not a fault.
	ErrNotFound = errors.New("not found")

	// ErrIndexClosed is the panic value (wrapped) for using a closed index.
	ErrIndexClosed = errors.New("index closed")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// RowError describes a failed row operation. Err is one of the sentinel
// errors above, so callers should test with errors.Is.
type RowError struct {
	Model string
	Op    string
	Row   RowID
	Field int // -1 when not field-specific
	Msg   string
	Err   error
}

func rowErrf(m *Model, op string, id RowID, field int, err error, format string, args ...any) error {
	var name string
	if m != nil {
		name = m.name
	}
	return &RowError{name, op, id, field, fmt.Sprintf(format, args...), err}
}

func (e *RowError) Unwrap() error {
	return e.Err
}

func (e *RowError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Model)
	if e.Row != 0 {
		buf.WriteByte('/')
		buf.WriteString(e.Row.String())
	}
	if e.Field >= 0 {
		fmt.Fprintf(&buf, ".%d", e.Field)
	}
	if e.Op != "" {
		if buf.Len() > 0 {
			buf.WriteString(": ")
		}
		buf.WriteString(e.Op)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
