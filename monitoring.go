package rowstore

type ModelStats struct {
	Rows        int
	Fields      int
	Seqnum      uint64
	LastID      RowID
	Subscribers int
}

func (m *Model) Stats() ModelStats {
	return ModelStats{
		Rows:        m.rows.n,
		Fields:      m.schema.Len(),
		Seqnum:      m.seqnum,
		LastID:      m.lastID,
		Subscribers: m.bus.Len(),
	}
}

type IndexStats struct {
	Name    string
	Kind    string
	State   string
	Terms   int
	Entries int

	// Rows counts rows with at least one key, UnkeyedRows those with none.
	Rows        int
	UnkeyedRows int
}

func (s *IndexStats) AvgKeysPerRow() float64 {
	if s.Rows == 0 {
		return 0
	}
	return float64(s.Entries) / float64(s.Rows)
}

// Stats works on closed indexes too, reporting zero counts.
func (c *indexCore) Stats() IndexStats {
	s := IndexStats{
		Name:  c.name,
		Kind:  c.kind,
		State: c.state.String(),
	}
	if c.state != indexReady {
		return s
	}
	s.Terms = c.terms.len()
	s.Entries = c.entries
	s.Rows = c.keyedRows
	s.UnkeyedRows = len(c.rowTerms) - c.keyedRows
	return s
}
