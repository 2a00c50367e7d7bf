package rowstore

import (
	"fmt"
	"strconv"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpTerms

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the model as text, one row per line in store order.
func (m *Model) Dump(f DumpFlags) string {
	var buf strings.Builder
	m.dump(&buf, f)
	return buf.String()
}

func (m *Model) dump(w *strings.Builder, f DumpFlags) {
	prefix := m.name
	if f.Contains(DumpHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s %v (%d rows)\n", prefix, m.schema, m.rows.n)
	}
	if f.Contains(DumpStats) {
		s := m.Stats()
		fmt.Fprintf(w, "%s.stats: seqnum = %d, last_id = %d, subscribers = %d\n", prefix, s.Seqnum, s.LastID, s.Subscribers)
	}
	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		var rowPos int
		for r := m.rows.head; r != nil; r = r.next {
			rowPos++
			fmt.Fprintf(w, "%s.%d = %v %s\n", prefix, rowPos, r.id, loggableRow(m, r.values))
		}
	}
}

// DumpIndex renders an index's terms in order, each with its rows.
func DumpIndex(idx Index, f DumpFlags) string {
	var buf strings.Builder
	w := &buf
	prefix := idx.Name()
	s := idx.Stats()

	if f.Contains(DumpHeaders) {
		fmt.Fprintln(w, rpadf('-', "-- %s ", prefix))
		fmt.Fprintf(w, "%s (%s, %s, %d terms)\n", prefix, s.Kind, s.State, s.Terms)
	}
	if s.State != indexReady.String() {
		return buf.String()
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: entries = %d, rows = %d, unkeyed_rows = %d, avg_keys = %.2f\n", prefix, s.Entries, s.Rows, s.UnkeyedRows, s.AvgKeysPerRow())
	}
	if f.Contains(DumpTerms) {
		var termPos int
		idx.Foreach("", func(term string, rows *ResultSet) bool {
			termPos++
			fmt.Fprintf(w, "%s.%d: %s =>", prefix, termPos, strconv.Quote(term))
			for id := range rows.All() {
				w.WriteByte(' ')
				w.WriteString(id.String())
			}
			w.WriteByte('\n')
			return true
		})
	}
	return buf.String()
}

func rpadf(pad rune, format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	return rpad(s, 80, pad)
}
