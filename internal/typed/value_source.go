package typed

import (
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// ValueSource
// ============================================================

// ValueSource walks an in-memory Go value as a token stream, so any
// descriptor can be validated against builtins (Convert) through the same
// decoder the wire formats use.
//
// Structs are not descended into; they surface as TokObject tokens read
// through a FieldGetter. Sets (map[T]struct{}) surface as arrays.
type ValueSource struct {
	root    reflect.Value
	started bool
	stack   []vframe
}

type vframe struct {
	v     reflect.Value
	keys  []reflect.Value // maps and sets
	isMap bool
	i     int
	inVal bool // map: the next value is the entry's value
}

// NewValueSource returns a source over v.
func NewValueSource(v any) *ValueSource {
	return &ValueSource{root: reflect.ValueOf(v)}
}

type vsnap struct {
	started bool
	stack   []vframe
}

// Save implements Source.
func (s *ValueSource) Save() Snapshot {
	return vsnap{started: s.started, stack: append([]vframe(nil), s.stack...)}
}

// Restore implements Source.
func (s *ValueSource) Restore(sn Snapshot) {
	v := sn.(vsnap)
	s.started = v.started
	s.stack = append(s.stack[:0], v.stack...)
}

// Pos implements Source; in-memory values have no byte offsets.
func (s *ValueSource) Pos() int { return -1 }

// More implements Source.
func (s *ValueSource) More() (bool, error) {
	if len(s.stack) == 0 {
		return false, &schema.DecodeError{Msg: "no open container", Pos: -1}
	}
	top := &s.stack[len(s.stack)-1]
	n := len(top.keys)
	if top.keys == nil {
		n = top.v.Len()
	}
	if top.i < n {
		return true, nil
	}
	s.stack = s.stack[:len(s.stack)-1]
	return false, nil
}

func (s *ValueSource) current() (reflect.Value, bool, error) {
	if len(s.stack) == 0 {
		if s.started {
			return reflect.Value{}, false, &schema.DecodeError{Msg: "no more values", Pos: -1}
		}
		s.started = true
		return s.root, false, nil
	}
	top := &s.stack[len(s.stack)-1]
	switch {
	case !top.isMap && top.keys != nil:
		v := top.keys[top.i]
		top.i++
		return v, false, nil
	case !top.isMap:
		v := top.v.Index(top.i)
		top.i++
		return v, false, nil
	case !top.inVal:
		top.inVal = true
		return top.keys[top.i], true, nil
	}
	v := top.v.MapIndex(top.keys[top.i])
	top.inVal = false
	top.i++
	return v, false, nil
}

// Next implements Source.
func (s *ValueSource) Next() (Token, error) {
	v, isKey, err := s.current()
	if err != nil {
		return Token{}, err
	}
	tok := s.token(v)
	if isKey && tok.Kind == TokStr {
		tok.IsKey = true
	}
	return tok, nil
}

// Skip implements Source.
func (s *ValueSource) Skip() error {
	depth := len(s.stack)
	tok, err := s.Next()
	if err != nil {
		return err
	}
	if tok.Kind == TokArray || tok.Kind == TokMap {
		s.stack = s.stack[:depth]
	}
	return nil
}

// Raw implements Source. Only values that already are schema.Raw qualify.
func (s *ValueSource) Raw() ([]byte, error) {
	depth := len(s.stack)
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if tok.Kind == TokNative && tok.Value.Type() == rawType {
		return tok.Value.Bytes(), nil
	}
	s.stack = s.stack[:depth]
	return nil, schema.Mismatch("raw", gotName(tok))
}

var fieldGetterType = reflect.TypeFor[FieldGetter]()

func (s *ValueSource) token(v reflect.Value) Token {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr) {
		if v.IsNil() {
			return Token{Kind: TokNull}
		}
		if v.Kind() == reflect.Ptr && v.Type().Implements(fieldGetterType) && v.Elem().Kind() == reflect.Struct {
			return Token{Kind: TokObject, Value: v.Elem(), Getter: v.Interface().(FieldGetter)}
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return Token{Kind: TokNull}
	}
	switch v.Type() {
	case timeType:
		return Token{Kind: TokDateTime, Time: v.Interface().(time.Time)}
	case dateType, timeOfDayType, durationType, uuidType, decimalType, rawType:
		return Token{Kind: TokNative, Value: v}
	case extType:
		return Token{Kind: TokExt, Ext: v.Interface().(schema.Ext)}
	}
	switch v.Kind() {
	case reflect.Bool:
		return Token{Kind: TokBool, Bool: v.Bool()}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Token{Kind: TokInt, Int: v.Int()}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if u := v.Uint(); u > math.MaxInt64 {
			return Token{Kind: TokUint, Uint: u}
		}
		return Token{Kind: TokInt, Int: int64(v.Uint())}
	case reflect.Float32, reflect.Float64:
		return Token{Kind: TokFloat, Float: v.Float()}
	case reflect.String:
		return Token{Kind: TokStr, Str: v.String()}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return Token{Kind: TokBytes, Bytes: v.Bytes()}
		}
		s.stack = append(s.stack, vframe{v: v})
		return Token{Kind: TokArray, Len: v.Len()}
	case reflect.Array:
		s.stack = append(s.stack, vframe{v: v})
		return Token{Kind: TokArray, Len: v.Len()}
	case reflect.Map:
		keys := sortedKeys(v)
		if isSetType(v.Type()) {
			s.stack = append(s.stack, vframe{v: v, keys: keys})
			return Token{Kind: TokArray, Len: len(keys)}
		}
		s.stack = append(s.stack, vframe{v: v, keys: keys, isMap: true})
		return Token{Kind: TokMap, Len: len(keys)}
	case reflect.Struct:
		if g, ok := v.Interface().(FieldGetter); ok {
			return Token{Kind: TokObject, Value: v, Getter: g}
		}
		return Token{Kind: TokObject, Value: v, Getter: structGetter{v}}
	}
	return Token{Kind: TokNative, Value: v}
}

func isSetType(t reflect.Type) bool {
	return t.Elem().Kind() == reflect.Struct && t.Elem().NumField() == 0
}

// sortedKeys returns map keys in a stable order so errors and tag scans
// are reproducible.
func sortedKeys(m reflect.Value) []reflect.Value {
	keys := m.MapKeys()
	sort.SliceStable(keys, func(i, j int) bool {
		c, ok := compareKeys(keys[i], keys[j])
		return ok && c < 0
	})
	if keys == nil {
		keys = []reflect.Value{}
	}
	return keys
}

// structGetter reads exported fields of a Go struct by Go name, falling
// back to the wire name of its layout.
type structGetter struct{ v reflect.Value }

func (g structGetter) GetField(name string) (any, bool) {
	if sf, ok := g.v.Type().FieldByName(name); ok && sf.IsExported() {
		return g.v.FieldByIndex(sf.Index).Interface(), true
	}
	t, err := schema.Of(g.v.Type())
	if err != nil || t.Struct == nil {
		return nil, false
	}
	if i, ok := t.Struct.FieldByWire(name); ok {
		return g.v.FieldByIndex(t.Struct.Fields[i].Index).Interface(), true
	}
	return nil, false
}
