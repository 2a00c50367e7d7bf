package rowstore

import (
	"fmt"
	"strings"
)

type (
	// Change describes one model mutation. Changes are only valid for the
	// duration of the HandleChange call that receives them.
	Change struct {
		model  *Model
		op     Op
		row    RowID
		fields []int
		seqnum uint64
	}

	// ChangeFlags select which changes a subscriber receives.
	ChangeFlags uint64

	Op int
)

const (
	OpNone           Op = 0
	OpAdd            Op = 1
	OpRemove         Op = 2
	OpChange         Op = 3
	OpBeginChangeset Op = 4
	OpEndChangeset   Op = 5
)

const (
	ChangeFlagRows ChangeFlags = 1 << iota
	ChangeFlagChangesets

	ChangeFlagsAll = ChangeFlagRows | ChangeFlagChangesets
)

func (chg *Change) Model() *Model {
	return chg.model
}
func (chg *Change) Op() Op {
	return chg.op
}

// Row returns the affected row, or 0 for changeset markers.
func (chg *Change) Row() RowID {
	return chg.row
}

// ChangedFields lists the field positions written by an OpChange.
func (chg *Change) ChangedFields() []int {
	return chg.fields
}

// Seqnum is the model sequence number after the mutation.
func (chg *Change) Seqnum() uint64 {
	return chg.seqnum
}

func (chg *Change) flag() ChangeFlags {
	switch chg.op {
	case OpBeginChangeset, OpEndChangeset:
		return ChangeFlagChangesets
	default:
		return ChangeFlagRows
	}
}

func (chg *Change) String() string {
	var buf strings.Builder
	buf.WriteString(chg.op.String())
	if chg.row != 0 {
		buf.WriteByte(' ')
		buf.WriteString(chg.row.String())
	}
	if len(chg.fields) > 0 {
		fmt.Fprintf(&buf, " fields=%v", chg.fields)
	}
	fmt.Fprintf(&buf, " seq=%d", chg.seqnum)
	return buf.String()
}

func (v ChangeFlags) Contains(f ChangeFlags) bool {
	return (v & f) == f
}
func (v ChangeFlags) ContainsAny(f ChangeFlags) bool {
	return (v & f) != 0
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	case OpChange:
		return "change"
	case OpBeginChangeset:
		return "begin-changeset"
	case OpEndChangeset:
		return "end-changeset"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}
