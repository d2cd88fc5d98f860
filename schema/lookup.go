package schema

// ============================================================
// Enum / Literal value lookup
// ============================================================

// Lookup maps a wire value to the index of the matching member value.
//
// Integer values use a dense offset table when their range is compact and a
// hash map otherwise. String values use a hash map. A Lookup is immutable
// once built.
type Lookup struct {
	offset int64
	dense  []int32 // index+1, 0 marks a hole
	ints   map[int64]int
	strs   map[string]int
}

// NewLookup compiles a lookup over int and str values. The index of an
// int value is its position in ints; the index of a str value its position
// in strs.
func NewLookup(ints []int64, strs []string) *Lookup {
	l := &Lookup{}
	if len(ints) > 0 {
		lo, hi := ints[0], ints[0]
		for _, v := range ints[1:] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		span := uint64(hi - lo)
		if span < uint64(2*len(ints)+16) {
			l.offset = lo
			l.dense = make([]int32, span+1)
			for i, v := range ints {
				if l.dense[v-lo] == 0 {
					l.dense[v-lo] = int32(i + 1)
				}
			}
		} else {
			l.ints = make(map[int64]int, len(ints))
			for i, v := range ints {
				if _, dup := l.ints[v]; !dup {
					l.ints[v] = i
				}
			}
		}
	}
	if len(strs) > 0 {
		l.strs = make(map[string]int, len(strs))
		for i, s := range strs {
			if _, dup := l.strs[s]; !dup {
				l.strs[s] = i
			}
		}
	}
	return l
}

// Int returns the index of v.
func (l *Lookup) Int(v int64) (int, bool) {
	if l.dense != nil {
		d := uint64(v - l.offset)
		if v < l.offset || d >= uint64(len(l.dense)) {
			return 0, false
		}
		i := l.dense[d]
		return int(i) - 1, i != 0
	}
	i, ok := l.ints[v]
	return i, ok
}

// Str returns the index of s.
func (l *Lookup) Str(s string) (int, bool) {
	i, ok := l.strs[s]
	return i, ok
}

// Dense reports whether integer values use the offset table.
func (l *Lookup) Dense() bool { return l.dense != nil }
