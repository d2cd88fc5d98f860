package typed

import (
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Sink
// ============================================================

// Sink receives a value as a sequence of write calls. Inside a map, calls
// alternate between key and value. Sinks record the first error and
// ignore later calls; Err reports it.
type Sink interface {
	Null()
	Bool(v bool)
	Int(v int64)
	Uint(v uint64)
	Float(v float64)
	Str(v string)
	Bytes(v []byte)
	DateTime(v time.Time)
	Date(v schema.Date)
	Time(v schema.TimeOfDay)
	Duration(v time.Duration)
	UUID(v uuid.UUID)
	Decimal(v schema.Decimal)
	Ext(v schema.Ext)
	Raw(v schema.Raw)
	BeginArray(n int)
	EndArray()
	BeginMap(n int)
	EndMap()
	Err() error
}

// ============================================================
// Encoder
// ============================================================

// Order selects how mapping keys and set members are ordered on output.
type Order uint8

const (
	// OrderUnordered emits entries in Go map iteration order.
	OrderUnordered Order = iota
	// OrderDeterministic emits a consistent order, sorting keys of mixed
	// types by type first.
	OrderDeterministic
	// OrderSorted sorts keys and members; mixed types are an error.
	OrderSorted
)

// EncHook converts a value of an unsupported type into a supported one.
type EncHook func(v any) (any, error)

// cycleCheckAfter is the nesting level after which pointers are tracked to
// report cycles instead of recursing until MaxDepth.
const cycleCheckAfter = 64

var bigIntType = reflect.TypeFor[big.Int]()

// Encoder walks Go values by runtime type into a Sink. Encode works on a
// copy so one configured Encoder may be shared between goroutines.
type Encoder struct {
	Order    Order
	EncHook  EncHook
	MaxDepth int

	depth int
	seen  map[uintptr]struct{}
}

// Encode writes v to sink.
func (e Encoder) Encode(sink Sink, v any) error {
	if e.MaxDepth <= 0 {
		e.MaxDepth = DefaultMaxDepth
	}
	if err := e.value(sink, reflect.ValueOf(v)); err != nil {
		return err
	}
	return sink.Err()
}

func (e *Encoder) enter(v reflect.Value) error {
	e.depth++
	if e.depth > e.MaxDepth {
		return &schema.EncodeError{Msg: "maximum recursion depth exceeded", Err: schema.ErrRecursion}
	}
	if e.depth > cycleCheckAfter {
		switch v.Kind() {
		case reflect.Ptr, reflect.Map, reflect.Slice:
			if v.Kind() == reflect.Slice && v.Len() == 0 {
				return nil
			}
			p := v.Pointer()
			if e.seen == nil {
				e.seen = make(map[uintptr]struct{})
			}
			if _, dup := e.seen[p]; dup {
				return &schema.EncodeError{Msg: fmt.Sprintf("encountered a cycle via %s", v.Type()), Err: schema.ErrRecursion}
			}
			e.seen[p] = struct{}{}
		}
	}
	return nil
}

func (e *Encoder) leave(v reflect.Value) {
	if e.depth > cycleCheckAfter && e.seen != nil {
		switch v.Kind() {
		case reflect.Ptr, reflect.Map, reflect.Slice:
			if v.Kind() != reflect.Slice || v.Len() > 0 {
				delete(e.seen, v.Pointer())
			}
		}
	}
	e.depth--
}

func (e *Encoder) value(sink Sink, v reflect.Value) error {
	if !v.IsValid() {
		sink.Null()
		return nil
	}
	switch v.Type() {
	case timeType:
		sink.DateTime(v.Interface().(time.Time))
		return nil
	case durationType:
		sink.Duration(time.Duration(v.Int()))
		return nil
	case uuidType:
		sink.UUID(v.Interface().(uuid.UUID))
		return nil
	case decimalType:
		sink.Decimal(v.Interface().(schema.Decimal))
		return nil
	case dateType:
		sink.Date(v.Interface().(schema.Date))
		return nil
	case timeOfDayType:
		sink.Time(v.Interface().(schema.TimeOfDay))
		return nil
	case extType:
		sink.Ext(v.Interface().(schema.Ext))
		return nil
	case rawType:
		sink.Raw(schema.Raw(v.Bytes()))
		return nil
	case bigIntType:
		b := v.Interface().(big.Int)
		switch {
		case b.IsInt64():
			sink.Int(b.Int64())
		case b.IsUint64():
			sink.Uint(b.Uint64())
		default:
			return &schema.EncodeError{Msg: "Integer value out of range", Err: schema.ErrOverflow}
		}
		return nil
	}
	if isCustom(v.Type()) {
		return e.hook(sink, v)
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			sink.Null()
			return nil
		}
		return e.value(sink, v.Elem())
	case reflect.Ptr:
		if v.IsNil() {
			sink.Null()
			return nil
		}
		if err := e.enter(v); err != nil {
			return err
		}
		defer e.leave(v)
		return e.value(sink, v.Elem())
	case reflect.Bool:
		sink.Bool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sink.Int(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		sink.Uint(v.Uint())
	case reflect.Float32, reflect.Float64:
		sink.Float(v.Float())
	case reflect.String:
		sink.Str(v.String())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			sink.Bytes(v.Bytes())
			return nil
		}
		return e.array(sink, v)
	case reflect.Array:
		return e.array(sink, v)
	case reflect.Map:
		if isSetType(v.Type()) {
			return e.set(sink, v)
		}
		return e.mapping(sink, v)
	case reflect.Struct:
		return e.record(sink, v)
	default:
		return e.hook(sink, v)
	}
	return nil
}

var customCache sync.Map // reflect.Type -> bool

// isCustom reports named types registered for hook-only coding.
func isCustom(t reflect.Type) bool {
	if t.Name() == "" || t.PkgPath() == "" {
		return false
	}
	if v, ok := customCache.Load(t); ok {
		return v.(bool)
	}
	custom := false
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		custom = true
	case reflect.Interface:
	default:
		if d, err := schema.Of(t); err == nil {
			custom = d.Kind == schema.KindCustom
		}
	}
	customCache.Store(t, custom)
	return custom
}

func (e *Encoder) hook(sink Sink, v reflect.Value) error {
	if e.EncHook == nil {
		return &schema.EncodeError{Msg: fmt.Sprintf("Encoding objects of type %s is unsupported", v.Type()), Err: schema.ErrUnsupported}
	}
	res, err := e.EncHook(v.Interface())
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(res)
	if rv.IsValid() && rv.Type() == v.Type() {
		return &schema.EncodeError{Msg: fmt.Sprintf("encode hook returned an unsupported %s unchanged", v.Type()), Err: schema.ErrUnsupported}
	}
	// Hook results count as one level, so hooks mapping types onto each
	// other stop at MaxDepth.
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.MaxDepth {
		return &schema.EncodeError{Msg: "maximum recursion depth exceeded", Err: schema.ErrRecursion}
	}
	return e.value(sink, rv)
}

func (e *Encoder) array(sink Sink, v reflect.Value) error {
	if err := e.enter(v); err != nil {
		return err
	}
	defer e.leave(v)
	n := v.Len()
	sink.BeginArray(n)
	for i := 0; i < n; i++ {
		if err := e.value(sink, v.Index(i)); err != nil {
			return err
		}
	}
	sink.EndArray()
	return nil
}

func (e *Encoder) set(sink Sink, v reflect.Value) error {
	if err := e.enter(v); err != nil {
		return err
	}
	defer e.leave(v)
	keys, err := e.orderedKeys(v)
	if err != nil {
		return err
	}
	sink.BeginArray(len(keys))
	for _, k := range keys {
		if err := e.value(sink, k); err != nil {
			return err
		}
	}
	sink.EndArray()
	return nil
}

func (e *Encoder) mapping(sink Sink, v reflect.Value) error {
	if err := e.enter(v); err != nil {
		return err
	}
	defer e.leave(v)
	keys, err := e.orderedKeys(v)
	if err != nil {
		return err
	}
	sink.BeginMap(len(keys))
	for _, k := range keys {
		if err := e.value(sink, k); err != nil {
			return err
		}
		if err := e.value(sink, v.MapIndex(k)); err != nil {
			return err
		}
	}
	sink.EndMap()
	return nil
}

func (e *Encoder) orderedKeys(m reflect.Value) ([]reflect.Value, error) {
	keys := m.MapKeys()
	if e.Order == OrderUnordered || len(keys) < 2 {
		return keys, nil
	}
	var mixed bool
	sort.SliceStable(keys, func(i, j int) bool {
		c, ok := compareKeys(keys[i], keys[j])
		if !ok {
			mixed = true
			c = compareMixed(keys[i], keys[j])
		}
		return c < 0
	})
	if mixed && e.Order == OrderSorted {
		return nil, &schema.EncodeError{Msg: fmt.Sprintf("cannot sort keys of mixed types in %s", m.Type()), Err: schema.ErrUnsupported}
	}
	return keys, nil
}

func (e *Encoder) record(sink Sink, v reflect.Value) error {
	t, err := schema.Of(v.Type())
	if err != nil {
		return &schema.EncodeError{Msg: err.Error(), Err: err}
	}
	if t.Kind == schema.KindCustom {
		return e.hook(sink, v)
	}
	if err := e.enter(v); err != nil {
		return err
	}
	defer e.leave(v)
	si := t.Struct

	if si.ArrayLike {
		n := len(si.Fields)
		if si.Tagged() {
			n++
		}
		sink.BeginArray(n)
		if si.Tagged() {
			writeTag(sink, si.Tag)
		}
		for _, f := range si.Fields {
			if err := e.value(sink, v.FieldByIndex(f.Index)); err != nil {
				return err
			}
		}
		sink.EndArray()
		return nil
	}

	fields := si.Fields
	if si.OmitDefaults {
		kept := make([]*schema.Field, 0, len(fields))
		for _, f := range fields {
			if !f.IsDefault(v.FieldByIndex(f.Index)) {
				kept = append(kept, f)
			}
		}
		fields = kept
	}
	if e.Order == OrderSorted {
		fields = append([]*schema.Field(nil), fields...)
		sort.SliceStable(fields, func(i, j int) bool { return fields[i].WireName < fields[j].WireName })
	}
	n := len(fields)
	if si.Tagged() {
		n++
	}
	sink.BeginMap(n)
	if si.Tagged() {
		sink.Str(si.TagField)
		writeTag(sink, si.Tag)
	}
	for _, f := range fields {
		sink.Str(f.WireName)
		if err := e.value(sink, v.FieldByIndex(f.Index)); err != nil {
			return err
		}
	}
	sink.EndMap()
	return nil
}

func writeTag(sink Sink, tag any) {
	switch v := tag.(type) {
	case string:
		sink.Str(v)
	case int64:
		sink.Int(v)
	}
}

// Prefix prepares buf for EncodeInto: offset -1 appends, other negative
// offsets count back from the end, and offsets beyond the length pad
// with zero bytes. The message is then appended to the result. Padding
// within cap(buf) writes into buf's backing array, so callers encode
// first and call Prefix only once the message is complete.
func Prefix(buf []byte, offset int) ([]byte, error) {
	if offset < 0 {
		offset += len(buf) + 1
		if offset < 0 {
			return nil, &schema.EncodeError{Msg: "offset out of range", Err: schema.ErrUnsupported}
		}
	}
	if offset <= len(buf) {
		return buf[:offset], nil
	}
	if offset <= cap(buf) {
		n := len(buf)
		buf = buf[:offset]
		clear(buf[n:])
		return buf, nil
	}
	return append(buf, make([]byte, offset-len(buf))...), nil
}
