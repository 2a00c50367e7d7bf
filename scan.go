package rowstore

import (
	"strconv"
	"strings"
)

// Range defines a range of terms. The constructors use mnemonics: O means
// open, I means inclusive, E means exclusive; the first letter is for the
// lower bound, the second for the upper bound.
//
// A non-empty Prefix further restricts the range to terms starting with it.
type Range struct {
	Prefix   string
	Lower    string
	Upper    string
	HasLower bool
	HasUpper bool
	LowerInc bool
	UpperInc bool
}

func RangeOO() Range          { return Range{} }
func RangeIO(l string) Range  { return Range{Lower: l, HasLower: true, LowerInc: true} }
func RangeEO(l string) Range  { return Range{Lower: l, HasLower: true} }
func RangeOI(u string) Range  { return Range{Upper: u, HasUpper: true, UpperInc: true} }
func RangeOE(u string) Range  { return Range{Upper: u, HasUpper: true} }
func RangeII(l, u string) Range {
	return Range{Lower: l, Upper: u, HasLower: true, HasUpper: true, LowerInc: true, UpperInc: true}
}
func RangeIE(l, u string) Range {
	return Range{Lower: l, Upper: u, HasLower: true, HasUpper: true, LowerInc: true}
}
func RangeEI(l, u string) Range {
	return Range{Lower: l, Upper: u, HasLower: true, HasUpper: true, UpperInc: true}
}
func RangeEE(l, u string) Range {
	return Range{Lower: l, Upper: u, HasLower: true, HasUpper: true}
}

// PrefixRange matches every term starting with p, expressed as the half-open
// range [p, succ(p)). When p has no successor (it is empty or all 0xFF bytes)
// the range has no upper bound.
func PrefixRange(p string) Range {
	if u, ok := succ(p); ok {
		return RangeIE(p, u)
	}
	return RangeIO(p)
}

func (rang Range) Prefixed(p string) Range { rang.Prefix = p; return rang }

// start returns the smallest term the range can contain, which is where an
// ordered scan should begin.
func (rang *Range) start() string {
	var s string
	if rang.HasLower {
		s = rang.Lower
	}
	if rang.Prefix > s {
		s = rang.Prefix
	}
	return s
}

// match reports whether term falls within the range, and whether an
// ascending scan can find further matches after term.
func (rang *Range) match(term string) (ok, more bool) {
	if rang.Prefix != "" && !strings.HasPrefix(term, rang.Prefix) {
		return false, term < rang.Prefix
	}
	if rang.HasUpper {
		c := strings.Compare(term, rang.Upper)
		if c > 0 || (c == 0 && !rang.UpperInc) {
			return false, false
		}
	}
	if rang.HasLower {
		c := strings.Compare(term, rang.Lower)
		if c < 0 || (c == 0 && !rang.LowerInc) {
			return false, true
		}
	}
	return true, true
}

func (rang Range) Contains(term string) bool {
	ok, _ := rang.match(term)
	return ok
}

func (rang Range) String() string {
	var buf strings.Builder
	if rang.HasLower {
		if rang.LowerInc {
			buf.WriteByte('[')
		} else {
			buf.WriteByte('(')
		}
		buf.WriteString(strconv.Quote(rang.Lower))
	} else {
		buf.WriteString("(-inf")
	}
	buf.WriteString(", ")
	if rang.HasUpper {
		buf.WriteString(strconv.Quote(rang.Upper))
		if rang.UpperInc {
			buf.WriteByte(']')
		} else {
			buf.WriteByte(')')
		}
	} else {
		buf.WriteString("+inf)")
	}
	if rang.Prefix != "" {
		buf.WriteString(" prefix ")
		buf.WriteString(strconv.Quote(rang.Prefix))
	}
	return buf.String()
}
