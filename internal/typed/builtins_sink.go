package typed

import (
	"encoding/base64"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// BuiltinsSink
// ============================================================

// BuiltinsSink builds the generic representation of the values written to
// it: nil, bool, int64, uint64, float64, string, []any and map[string]any
// (map[any]any when a key is not a string). Types outside that set are
// written in their JSON string forms unless listed in Native.
type BuiltinsSink struct {
	Native  map[schema.Kind]bool
	StrKeys bool

	stack  []bframe
	result any
	err    error
}

type bframe struct {
	isMap   bool
	asKey   bool
	wantVal bool
	allStr  bool
	items   []any
	keys    []any
}

// Result returns the built value.
func (s *BuiltinsSink) Result() any { return s.result }

// Err implements Sink.
func (s *BuiltinsSink) Err() error { return s.err }

func (s *BuiltinsSink) fail(msg string) {
	if s.err == nil {
		s.err = &schema.EncodeError{Msg: msg, Err: schema.ErrUnsupported}
	}
}

func (s *BuiltinsSink) keyPos() bool {
	if len(s.stack) == 0 {
		return false
	}
	top := &s.stack[len(s.stack)-1]
	return top.isMap && !top.wantVal
}

func (s *BuiltinsSink) put(v any) {
	if len(s.stack) == 0 {
		s.result = v
		return
	}
	top := &s.stack[len(s.stack)-1]
	if !top.isMap {
		top.items = append(top.items, v)
		return
	}
	if top.wantVal {
		top.items = append(top.items, v)
		top.wantVal = false
		return
	}
	if v != nil && !reflect.ValueOf(v).Comparable() {
		s.fail("mapping keys must be hashable")
		v = nil
	}
	if _, ok := v.(string); !ok {
		top.allStr = false
	}
	top.keys = append(top.keys, v)
	top.wantVal = true
}

// putText writes the string form of a non-native value, or native when
// the kind is carried natively and the position is not a string key.
func (s *BuiltinsSink) putText(k schema.Kind, native any, text func() string) {
	if s.Native[k] && !(s.StrKeys && s.keyPos()) {
		s.put(native)
		return
	}
	s.put(text())
}

// Null implements Sink.
func (s *BuiltinsSink) Null() {
	if s.StrKeys && s.keyPos() {
		s.put("null")
		return
	}
	s.put(nil)
}

// Bool implements Sink.
func (s *BuiltinsSink) Bool(v bool) {
	if s.StrKeys && s.keyPos() {
		s.put(strconv.FormatBool(v))
		return
	}
	s.put(v)
}

// Int implements Sink.
func (s *BuiltinsSink) Int(v int64) {
	if s.StrKeys && s.keyPos() {
		s.put(strconv.FormatInt(v, 10))
		return
	}
	s.put(v)
}

// Uint implements Sink.
func (s *BuiltinsSink) Uint(v uint64) {
	switch {
	case s.StrKeys && s.keyPos():
		s.put(strconv.FormatUint(v, 10))
	case v <= 1<<63-1:
		s.put(int64(v))
	default:
		s.put(v)
	}
}

// Float implements Sink.
func (s *BuiltinsSink) Float(v float64) {
	if s.StrKeys && s.keyPos() {
		s.put(strconv.FormatFloat(v, 'g', -1, 64))
		return
	}
	s.put(v)
}

// Str implements Sink.
func (s *BuiltinsSink) Str(v string) { s.put(v) }

// Bytes implements Sink.
func (s *BuiltinsSink) Bytes(v []byte) {
	s.putText(schema.KindBytes, clone(v), func() string { return base64.StdEncoding.EncodeToString(v) })
}

// DateTime implements Sink.
func (s *BuiltinsSink) DateTime(v time.Time) {
	s.putText(schema.KindDateTime, v, func() string { return schema.FormatDateTime(v) })
}

// Date implements Sink.
func (s *BuiltinsSink) Date(v schema.Date) {
	s.putText(schema.KindDate, v, v.String)
}

// Time implements Sink.
func (s *BuiltinsSink) Time(v schema.TimeOfDay) {
	s.putText(schema.KindTime, v, v.String)
}

// Duration implements Sink.
func (s *BuiltinsSink) Duration(v time.Duration) {
	s.putText(schema.KindDuration, v, func() string { return schema.FormatDuration(v) })
}

// UUID implements Sink.
func (s *BuiltinsSink) UUID(v uuid.UUID) {
	s.putText(schema.KindUUID, v, v.String)
}

// Decimal implements Sink.
func (s *BuiltinsSink) Decimal(v schema.Decimal) {
	s.putText(schema.KindDecimal, v, v.String)
}

// Ext implements Sink.
func (s *BuiltinsSink) Ext(v schema.Ext) {
	s.put(schema.Ext{Code: v.Code, Data: clone(v.Data)})
}

// Raw implements Sink.
func (s *BuiltinsSink) Raw(v schema.Raw) { s.put(schema.Raw(clone(v))) }

// BeginArray implements Sink.
func (s *BuiltinsSink) BeginArray(n int) {
	s.stack = append(s.stack, bframe{asKey: s.keyPos(), items: make([]any, 0, initialCap(n))})
}

// EndArray implements Sink.
func (s *BuiltinsSink) EndArray() {
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	if !top.asKey {
		s.put(top.items)
		return
	}
	arr := reflect.New(reflect.ArrayOf(len(top.items), anyType)).Elem()
	for i, it := range top.items {
		if it != nil {
			arr.Index(i).Set(reflect.ValueOf(it))
		}
	}
	s.put(arr.Interface())
}

// BeginMap implements Sink.
func (s *BuiltinsSink) BeginMap(n int) {
	s.stack = append(s.stack, bframe{isMap: true, asKey: s.keyPos(), allStr: true,
		items: make([]any, 0, initialCap(n)), keys: make([]any, 0, initialCap(n))})
}

// EndMap implements Sink.
func (s *BuiltinsSink) EndMap() {
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	if top.asKey {
		s.fail("mapping keys must be hashable")
		s.put(nil)
		return
	}
	if top.allStr {
		m := make(map[string]any, len(top.keys))
		for i, k := range top.keys {
			m[k.(string)] = top.items[i]
		}
		s.put(m)
		return
	}
	m := make(map[any]any, len(top.keys))
	for i, k := range top.keys {
		m[k] = top.items[i]
	}
	s.put(m)
}
