package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// ============================================================
// Type Descriptor
// ============================================================

// Kind identifies the variant of a type descriptor.
type Kind uint8

const (
	KindAny Kind = iota
	KindNone
	KindBool
	KindInt
	KindFloat
	KindStr
	KindBytes
	KindDateTime
	KindTime
	KindDate
	KindDuration
	KindUUID
	KindDecimal
	KindExt
	KindRaw
	KindEnum
	KindLiteral
	KindCustom
	KindUnion
	KindList
	KindSet
	KindFrozenSet
	KindVarTuple
	KindFixedTuple
	KindDict
	KindStruct
	KindTypedDict
	KindNamedTuple
	KindDataclass
	KindMetadata
)

var kindNames = [...]string{
	KindAny:        "any",
	KindNone:       "none",
	KindBool:       "bool",
	KindInt:        "int",
	KindFloat:      "float",
	KindStr:        "str",
	KindBytes:      "bytes",
	KindDateTime:   "datetime",
	KindTime:       "time",
	KindDate:       "date",
	KindDuration:   "duration",
	KindUUID:       "uuid",
	KindDecimal:    "decimal",
	KindExt:        "ext",
	KindRaw:        "raw",
	KindEnum:       "enum",
	KindLiteral:    "literal",
	KindCustom:     "custom",
	KindUnion:      "union",
	KindList:       "list",
	KindSet:        "set",
	KindFrozenSet:  "frozenset",
	KindVarTuple:   "vartuple",
	KindFixedTuple: "tuple",
	KindDict:       "dict",
	KindStruct:     "struct",
	KindTypedDict:  "typeddict",
	KindNamedTuple: "namedtuple",
	KindDataclass:  "dataclass",
	KindMetadata:   "metadata",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Format selects the wire format a descriptor is checked and dispatched for.
type Format uint8

const (
	FormatJSON Format = iota
	FormatMsgpack
	FormatBuiltins
	numFormats
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatMsgpack:
		return "MessagePack"
	case FormatBuiltins:
		return "builtins"
	}
	return fmt.Sprintf("format(%d)", f)
}

// Type is a node of the canonical descriptor tree.
//
// Type is IMMUTABLE once built. Lazily computed state (lookups, union
// dispatch tables, check results) is guarded internally and safe to share
// between goroutines.
type Type struct {
	Kind Kind

	// GoType is the Go representation decoded values take. Nil selects the
	// generic representation for the kind (int64, string, []any, ...).
	GoType reflect.Type

	// Constraints holds compiled numeric/length/pattern/tz constraints.
	Constraints *Constraints

	Item    *Type   // List, Set, FrozenSet, VarTuple
	Items   []*Type // FixedTuple
	Key     *Type   // Dict
	Value   *Type   // Dict
	Members []*Type // Union
	Inner   *Type   // Metadata wrapper target, pointer Optional element

	Enum    *EnumInfo
	Literal *LiteralInfo
	Struct  *StructInfo
	Meta    *Meta // Metadata annotations (title, description, examples, extra)

	err error // deferred construction error, reported by Check

	dispatch [numFormats]dispatchState
	checked  [numFormats]checkState
}

type dispatchState struct {
	once sync.Once
	d    *Dispatch
	err  error
}

type checkState struct {
	once sync.Once
	err  error
}

// Unwrap strips Metadata wrappers.
func (t *Type) Unwrap() *Type {
	for t != nil && t.Kind == KindMetadata {
		t = t.Inner
	}
	return t
}

// IsOptionalPointer reports whether t is the Optional form of a Go pointer.
func (t *Type) IsOptionalPointer() bool {
	return t.Kind == KindUnion && t.GoType != nil && t.GoType.Kind() == reflect.Ptr && t.Inner != nil
}

// WireName returns the name used for t in validation messages: the wire
// shape it expects (`int`, `str`, `array`, `object`, ...).
func (t *Type) WireName() string {
	t = t.Unwrap()
	switch t.Kind {
	case KindNone:
		return "null"
	case KindList, KindSet, KindFrozenSet, KindVarTuple, KindFixedTuple, KindNamedTuple:
		return "array"
	case KindDict, KindTypedDict, KindDataclass:
		return "object"
	case KindStruct:
		if t.Struct != nil && t.Struct.ArrayLike {
			return "array"
		}
		return "object"
	case KindEnum:
		if t.Enum.IsInt {
			return "int"
		}
		return "str"
	case KindLiteral:
		var parts []string
		if len(t.Literal.Ints) > 0 {
			parts = append(parts, "int")
		}
		if len(t.Literal.Strs) > 0 {
			parts = append(parts, "str")
		}
		if t.Literal.HasNone {
			parts = append(parts, "null")
		}
		return strings.Join(parts, " | ")
	case KindUnion:
		seen := make(map[string]bool)
		var parts []string
		for _, m := range t.UnionMembers() {
			for _, p := range strings.Split(m.WireName(), " | ") {
				if !seen[p] {
					seen[p] = true
					parts = append(parts, p)
				}
			}
		}
		return strings.Join(parts, " | ")
	case KindCustom:
		if t.GoType != nil {
			return t.GoType.String()
		}
		return "custom"
	}
	return t.Kind.String()
}

// String renders the descriptor in a compact annotation syntax.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindNone:
		return "None"
	case KindList:
		return "list[" + t.Item.String() + "]"
	case KindSet:
		return "set[" + t.Item.String() + "]"
	case KindFrozenSet:
		return "frozenset[" + t.Item.String() + "]"
	case KindVarTuple:
		return "tuple[" + t.Item.String() + ", ...]"
	case KindFixedTuple:
		parts := make([]string, len(t.Items))
		for i, it := range t.Items {
			parts[i] = it.String()
		}
		return "tuple[" + strings.Join(parts, ", ") + "]"
	case KindDict:
		return "dict[" + t.Key.String() + ", " + t.Value.String() + "]"
	case KindUnion:
		ms := t.UnionMembers()
		parts := make([]string, len(ms))
		for i, m := range ms {
			parts[i] = m.String()
		}
		return "Union[" + strings.Join(parts, ", ") + "]"
	case KindLiteral:
		var parts []string
		for _, v := range t.Literal.Ints {
			parts = append(parts, fmt.Sprint(v))
		}
		for _, s := range t.Literal.Strs {
			parts = append(parts, fmt.Sprintf("'%s'", s))
		}
		if t.Literal.HasNone {
			parts = append(parts, "None")
		}
		return "Literal[" + strings.Join(parts, ", ") + "]"
	case KindEnum:
		return t.Enum.Name
	case KindStruct, KindTypedDict, KindNamedTuple, KindDataclass:
		if t.Struct != nil && t.Struct.Name != "" {
			return t.Struct.Name
		}
	case KindCustom:
		if t.GoType != nil {
			return t.GoType.String()
		}
	case KindMetadata:
		return "Annotated[" + t.Inner.String() + "]"
	}
	return t.Kind.String()
}

// ============================================================
// Explicit constructors
// ============================================================

// AnyType returns the Any descriptor.
func AnyType() *Type { return &Type{Kind: KindAny} }

// NoneType returns the None descriptor.
func NoneType() *Type { return &Type{Kind: KindNone} }

// ExtType returns the MessagePack extension descriptor.
func ExtType() *Type { return &Type{Kind: KindExt, GoType: extType} }

// RawType returns the descriptor for undecoded wire bytes.
func RawType() *Type { return &Type{Kind: KindRaw, GoType: rawType} }

// Scalar returns a scalar descriptor (Bool, Int, Float, Str, Bytes,
// DateTime, Time, Date, Duration, UUID, Decimal) with optional constraints.
func Scalar(kind Kind, meta ...Meta) *Type {
	t := &Type{Kind: kind}
	switch kind {
	case KindBool, KindInt, KindFloat, KindStr, KindBytes, KindDateTime, KindTime,
		KindDate, KindDuration, KindUUID, KindDecimal:
	default:
		t.err = &SchemaError{Type: kind.String(), Msg: "not a scalar kind"}
		return t
	}
	return applyMeta(t, meta)
}

// ListOf returns list[item].
func ListOf(item *Type, meta ...Meta) *Type {
	return applyMeta(&Type{Kind: KindList, Item: item}, meta)
}

// SetOf returns set[item].
func SetOf(item *Type, meta ...Meta) *Type {
	return applyMeta(&Type{Kind: KindSet, Item: item}, meta)
}

// FrozenSetOf returns frozenset[item].
func FrozenSetOf(item *Type, meta ...Meta) *Type {
	return applyMeta(&Type{Kind: KindFrozenSet, Item: item}, meta)
}

// TupleOf returns the variadic tuple[item, ...].
func TupleOf(item *Type, meta ...Meta) *Type {
	return applyMeta(&Type{Kind: KindVarTuple, Item: item}, meta)
}

// FixedTupleOf returns tuple[items...].
func FixedTupleOf(items ...*Type) *Type {
	return &Type{Kind: KindFixedTuple, Items: items}
}

// DictOf returns dict[key, value].
func DictOf(key, value *Type, meta ...Meta) *Type {
	return applyMeta(&Type{Kind: KindDict, Key: key, Value: value}, meta)
}

// Optional returns Union[t, None].
func Optional(t *Type) *Type {
	return UnionOf(t, NoneType())
}

// UnionOf returns a union of members. Nested unions are flattened, Any
// absorbs the union, repeated members collapse and literal members are
// merged into one.
func UnionOf(members ...*Type) *Type {
	var flat []*Type
	var lits []*Type
	for _, m := range members {
		m2 := m.Unwrap()
		switch m2.Kind {
		case KindAny:
			return m2
		case KindUnion:
			for _, mm := range m2.UnionMembers() {
				if mm.Kind == KindLiteral {
					lits = append(lits, mm)
				} else {
					flat = append(flat, mm)
				}
			}
		case KindLiteral:
			lits = append(lits, m2)
		default:
			flat = append(flat, m)
		}
	}
	if len(lits) > 0 {
		flat = append(flat, mergeLiterals(lits))
	}
	flat = dedupeMembers(flat)
	if len(flat) == 1 {
		return flat[0]
	}
	return &Type{Kind: KindUnion, Members: flat}
}

// dedupeMembers drops repeated members: the same node twice, or None
// twice.
func dedupeMembers(ms []*Type) []*Type {
	out := ms[:0:0]
	seen := map[*Type]bool{}
	seenNone := false
	for _, m := range ms {
		if m.Kind == KindNone {
			if seenNone {
				continue
			}
			seenNone = true
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Annotated attaches constraints and schema metadata to t. Constraints are
// folded into a copy of the target node; title, description, examples and
// extra keys produce a Metadata wrapper.
func Annotated(t *Type, meta ...Meta) *Type {
	out := applyMeta(t, meta)
	var info *Meta
	for i := range meta {
		if meta[i].hasAnnotations() {
			if info == nil {
				info = &Meta{}
			}
			info.mergeAnnotations(&meta[i])
		}
	}
	if info != nil {
		return &Type{Kind: KindMetadata, Inner: out, Meta: info, GoType: out.GoType}
	}
	return out
}

// CustomType returns a descriptor for a Go type handled by user hooks.
func CustomType(goType reflect.Type) *Type {
	return &Type{Kind: KindCustom, GoType: goType}
}

// WithGoType returns a copy of t bound to a concrete Go representation.
func WithGoType(t *Type, goType reflect.Type) *Type {
	cp := t.shallowCopy()
	cp.GoType = goType
	return cp
}

func (t *Type) shallowCopy() *Type {
	return &Type{
		Kind:        t.Kind,
		GoType:      t.GoType,
		Constraints: t.Constraints,
		Item:        t.Item,
		Items:       t.Items,
		Key:         t.Key,
		Value:       t.Value,
		Members:     t.Members,
		Inner:       t.Inner,
		Enum:        t.Enum,
		Literal:     t.Literal,
		Struct:      t.Struct,
		Meta:        t.Meta,
		err:         t.err,
	}
}

// ============================================================
// Literal and Enum info
// ============================================================

// LiteralInfo is the value set of a Literal descriptor.
type LiteralInfo struct {
	Ints    []int64
	Strs    []string
	HasNone bool

	once   sync.Once
	lookup *Lookup
}

// Lookup returns the compiled value lookup, built on first use.
func (l *LiteralInfo) Lookup() *Lookup {
	l.once.Do(func() {
		l.lookup = NewLookup(l.Ints, l.Strs)
	})
	return l.lookup
}

// LiteralOf returns Literal[values...]. Accepted values are Go integers,
// strings and nil.
func LiteralOf(values ...any) *Type {
	info := &LiteralInfo{}
	t := &Type{Kind: KindLiteral, Literal: info}
	for _, v := range values {
		if v == nil {
			info.HasNone = true
			continue
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.String:
			info.Strs = append(info.Strs, rv.String())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			info.Ints = append(info.Ints, rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := rv.Uint()
			if u > 1<<63-1 {
				t.err = &SchemaError{Type: "Literal", Msg: fmt.Sprintf("literal value %d out of range", u)}
				continue
			}
			info.Ints = append(info.Ints, int64(u))
		default:
			t.err = &SchemaError{Type: "Literal", Msg: fmt.Sprintf("literal values must be ints, strs or None, got %T", v)}
		}
	}
	if len(info.Ints) == 0 && len(info.Strs) == 0 {
		if info.HasNone {
			return NoneType()
		}
		t.err = &SchemaError{Type: "Literal", Msg: "literal requires at least one value"}
	}
	return t
}

func mergeLiterals(lits []*Type) *Type {
	if len(lits) == 1 {
		return lits[0]
	}
	info := &LiteralInfo{}
	var err error
	seenI := map[int64]bool{}
	seenS := map[string]bool{}
	for _, l := range lits {
		if l.err != nil {
			err = l.err
		}
		for _, v := range l.Literal.Ints {
			if !seenI[v] {
				seenI[v] = true
				info.Ints = append(info.Ints, v)
			}
		}
		for _, s := range l.Literal.Strs {
			if !seenS[s] {
				seenS[s] = true
				info.Strs = append(info.Strs, s)
			}
		}
		info.HasNone = info.HasNone || l.Literal.HasNone
	}
	return &Type{Kind: KindLiteral, Literal: info, err: err}
}

// EnumInfo describes a registered enum type: a named Go integer or string
// type with a closed value set.
type EnumInfo struct {
	Name   string
	GoType reflect.Type
	IsInt  bool
	Values []reflect.Value

	once   sync.Once
	lookup *Lookup
}

// Lookup returns the compiled value lookup, built on first use.
func (e *EnumInfo) Lookup() *Lookup {
	e.once.Do(func() {
		var ints []int64
		var strs []string
		for _, v := range e.Values {
			if e.IsInt {
				ints = append(ints, intOf(v))
			} else {
				strs = append(strs, v.String())
			}
		}
		e.lookup = NewLookup(ints, strs)
	})
	return e.lookup
}

// Describe lists the enum values for error messages and schema output.
func (e *EnumInfo) Describe() []any {
	out := make([]any, len(e.Values))
	for i, v := range e.Values {
		if e.IsInt {
			out[i] = intOf(v)
		} else {
			out[i] = v.String()
		}
	}
	return out
}

func intOf(v reflect.Value) int64 {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(v.Uint())
	}
	return v.Int()
}

// sortedMemberKey returns an order-independent identity for a struct set.
func sortedMemberKey(infos []*StructInfo) string {
	keys := make([]string, len(infos))
	for i, s := range infos {
		keys[i] = fmt.Sprintf("%p", s)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
