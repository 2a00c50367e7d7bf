package rowstore

type row struct {
	id      RowID
	values  []any
	prev    *row
	next    *row
	removed bool
}

// rowList is an intrusive doubly-linked list keeping rows in store order.
// Insertion and removal are O(1) given the row; positions are O(n).
type rowList struct {
	head *row
	tail *row
	n    int
}

// insertBefore links r in front of mark, or at the tail if mark is nil.
func (l *rowList) insertBefore(r, mark *row) {
	if mark == nil {
		r.prev, r.next = l.tail, nil
		if l.tail != nil {
			l.tail.next = r
		} else {
			l.head = r
		}
		l.tail = r
	} else {
		r.prev, r.next = mark.prev, mark
		if mark.prev != nil {
			mark.prev.next = r
		} else {
			l.head = r
		}
		mark.prev = r
	}
	l.n++
}

func (l *rowList) remove(r *row) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		l.head = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	} else {
		l.tail = r.prev
	}
	r.prev, r.next = nil, nil
	l.n--
}

func (l *rowList) at(pos int) *row {
	if pos < 0 || pos >= l.n {
		return nil
	}
	if pos < l.n/2 {
		r := l.head
		for ; pos > 0; pos-- {
			r = r.next
		}
		return r
	}
	r := l.tail
	for pos = l.n - 1 - pos; pos > 0; pos-- {
		r = r.prev
	}
	return r
}

func (l *rowList) position(r *row) int {
	var pos int
	for p := r.prev; p != nil; p = p.prev {
		pos++
	}
	return pos
}
