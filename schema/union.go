package schema

import (
	"fmt"
)

// ============================================================
// Union dispatch
// ============================================================

// Dispatch routes a decoded wire category to the single union member that
// accepts it. At most one member may claim each category; several tagged
// Struct members may share the array or object category through a
// TagTable.
type Dispatch struct {
	Null     bool
	Bool     *Type
	Int      *Type
	Float    *Type
	Str      *Type
	Bytes    *Type
	DateTime *Type
	Date     *Type
	Time     *Type
	Duration *Type
	UUID     *Type
	Decimal  *Type
	Ext      *Type
	Array    *Type
	Object   *Type
	Custom   *Type

	// ArrayTags / ObjectTags are set when the slot holds a tagged struct
	// group rather than a single member.
	ArrayTags  *TagTable
	ObjectTags *TagTable
}

type slot uint8

const (
	slotNull slot = iota
	slotBool
	slotInt
	slotFloat
	slotStr
	slotBytes
	slotDateTime
	slotDate
	slotTime
	slotDuration
	slotUUID
	slotDecimal
	slotExt
	slotArray
	slotObject
	slotCustom
)

var slotDescriptions = map[slot]string{
	slotBool:     "bool",
	slotInt:      "int-like (`int`, int `Enum`, `Literal[int values]`)",
	slotFloat:    "float",
	slotStr:      "str-like (`str`, str `Enum`, `Literal[str values]`, and types encoded as strings)",
	slotBytes:    "bytes-like",
	slotDateTime: "datetime",
	slotDate:     "date",
	slotTime:     "time",
	slotDuration: "duration",
	slotUUID:     "uuid",
	slotDecimal:  "decimal",
	slotExt:      "ext",
	slotArray:    "array-like (`list`, `set`, `frozenset`, `tuple`, `NamedTuple`, array-like `Struct`)",
	slotObject:   "object-like (`dict`, `TypedDict`, `dataclass`, `Struct`)",
	slotCustom:   "custom",
}

func slotsOf(m *Type, f Format) ([]slot, error) {
	m = m.Unwrap()
	switch m.Kind {
	case KindNone:
		return []slot{slotNull}, nil
	case KindBool:
		return []slot{slotBool}, nil
	case KindInt:
		return []slot{slotInt}, nil
	case KindFloat:
		return []slot{slotFloat}, nil
	case KindStr:
		return []slot{slotStr}, nil
	case KindEnum:
		if m.Enum.IsInt {
			return []slot{slotInt}, nil
		}
		return []slot{slotStr}, nil
	case KindLiteral:
		var out []slot
		if len(m.Literal.Ints) > 0 {
			out = append(out, slotInt)
		}
		if len(m.Literal.Strs) > 0 {
			out = append(out, slotStr)
		}
		if m.Literal.HasNone {
			out = append(out, slotNull)
		}
		return out, nil
	case KindBytes:
		if f == FormatJSON {
			return []slot{slotStr}, nil
		}
		return []slot{slotBytes}, nil
	case KindDateTime:
		if f == FormatJSON {
			return []slot{slotStr}, nil
		}
		return []slot{slotDateTime}, nil
	case KindDate, KindTime, KindDuration, KindUUID, KindDecimal:
		if f != FormatBuiltins {
			return []slot{slotStr}, nil
		}
		return []slot{map[Kind]slot{KindDate: slotDate, KindTime: slotTime, KindDuration: slotDuration,
			KindUUID: slotUUID, KindDecimal: slotDecimal}[m.Kind]}, nil
	case KindExt:
		if f == FormatJSON {
			return nil, &SchemaError{Type: m.String(), Msg: "JSON does not support ext types"}
		}
		return []slot{slotExt}, nil
	case KindList, KindSet, KindFrozenSet, KindVarTuple, KindFixedTuple, KindNamedTuple:
		return []slot{slotArray}, nil
	case KindDict, KindTypedDict, KindDataclass:
		return []slot{slotObject}, nil
	case KindStruct:
		if m.Struct.ArrayLike {
			return []slot{slotArray}, nil
		}
		return []slot{slotObject}, nil
	case KindCustom:
		return []slot{slotCustom}, nil
	}
	return nil, &SchemaError{Type: m.String(), Msg: fmt.Sprintf("type `%s` may not be used in a union", m.Kind)}
}

// Dispatch returns the member dispatch table of union t for wire format f,
// computing and caching it on first use.
func (t *Type) Dispatch(f Format) (*Dispatch, error) {
	st := &t.dispatch[f]
	st.once.Do(func() {
		st.d, st.err = buildDispatch(t, f)
	})
	return st.d, st.err
}

// flattenMembers collects the non-union members reachable from t. A member
// listed twice, or a struct reached through two nodes, is kept once.
func flattenMembers(t *Type, out []*Type, seen map[*Type]bool, structs map[*StructInfo]bool) []*Type {
	for _, m := range t.UnionMembers() {
		u := m.Unwrap()
		if u.Kind == KindUnion {
			if !seen[u] {
				seen[u] = true
				out = flattenMembers(u, out, seen, structs)
			}
			continue
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		if u.Kind == KindStruct {
			if structs[u.Struct] {
				continue
			}
			structs[u.Struct] = true
		}
		out = append(out, m)
	}
	return out
}

func buildDispatch(t *Type, f Format) (*Dispatch, error) {
	members := flattenMembers(t, nil, map[*Type]bool{t: true}, map[*StructInfo]bool{})
	d := &Dispatch{}
	taken := map[slot]*Type{}
	var arrayStructs, objectStructs []*StructInfo
	var structTypes []*Type
	hasCustom := false
	nonNull := 0

	ambiguous := func(s slot) error {
		return &SchemaError{Type: t.String(), Msg: "type unions may not contain more than one " + slotDescriptions[s] + " type"}
	}

	for _, m := range members {
		slots, err := slotsOf(m, f)
		if err != nil {
			return nil, err
		}
		u := m.Unwrap()
		if u.Kind == KindStruct {
			structTypes = append(structTypes, m)
			if u.Struct.ArrayLike {
				arrayStructs = append(arrayStructs, u.Struct)
			} else {
				objectStructs = append(objectStructs, u.Struct)
			}
		}
		for _, s := range slots {
			switch s {
			case slotNull:
				d.Null = true
				continue
			case slotCustom:
				hasCustom = true
			}
			nonNull++
			if prev, dup := taken[s]; dup {
				bothStructs := prev.Unwrap().Kind == KindStruct && u.Kind == KindStruct
				if !bothStructs {
					return nil, ambiguous(s)
				}
			}
			taken[s] = m
		}
	}
	if hasCustom && nonNull > 1 {
		return nil, &SchemaError{Type: t.String(), Msg: "type unions containing a custom type may not contain any additional types other than None"}
	}

	if len(structTypes) > 1 {
		all := append(append([]*StructInfo(nil), arrayStructs...), objectStructs...)
		tt, err := tagCache.Get(all)
		if err != nil {
			return nil, err
		}
		if tt.ArrayLike {
			d.ArrayTags = tt
		} else {
			d.ObjectTags = tt
		}
	}

	d.Bool = taken[slotBool]
	d.Int = taken[slotInt]
	d.Float = taken[slotFloat]
	d.Str = taken[slotStr]
	d.Bytes = taken[slotBytes]
	d.DateTime = taken[slotDateTime]
	d.Date = taken[slotDate]
	d.Time = taken[slotTime]
	d.Duration = taken[slotDuration]
	d.UUID = taken[slotUUID]
	d.Decimal = taken[slotDecimal]
	d.Ext = taken[slotExt]
	d.Custom = taken[slotCustom]
	if d.ArrayTags == nil {
		d.Array = taken[slotArray]
	}
	if d.ObjectTags == nil {
		d.Object = taken[slotObject]
	}
	return d, nil
}

// StrFallback returns the member that parses string input when no str-like
// member claims it (builtins sources carry these types natively).
func (d *Dispatch) StrFallback() *Type {
	for _, m := range []*Type{d.DateTime, d.Date, d.Time, d.Duration, d.UUID, d.Decimal, d.Bytes} {
		if m != nil {
			return m
		}
	}
	return nil
}

// ============================================================
// Check
// ============================================================

// Check validates descriptor t for wire format f: deferred construction
// errors, union ambiguity, tag conflicts and per-format restrictions.
// Encoders and decoders call it at construction so no schema problem
// surfaces while coding. The result is cached per root node.
func Check(t *Type, f Format) error {
	st := &t.checked[f]
	st.once.Do(func() {
		st.err = check(t, f, map[*Type]bool{})
	})
	return st.err
}

func check(t *Type, f Format, seen map[*Type]bool) error {
	if t == nil {
		return &SchemaError{Msg: "nil type descriptor"}
	}
	if seen[t] {
		return nil
	}
	seen[t] = true
	if t.err != nil {
		return t.err
	}
	switch t.Kind {
	case KindMetadata:
		return check(t.Inner, f, seen)
	case KindExt:
		if f == FormatJSON {
			return &SchemaError{Type: t.String(), Msg: "JSON does not support ext types"}
		}
	case KindList, KindSet, KindFrozenSet, KindVarTuple:
		return check(t.Item, f, seen)
	case KindFixedTuple:
		for _, it := range t.Items {
			if err := check(it, f, seen); err != nil {
				return err
			}
		}
	case KindDict:
		if f == FormatJSON && !jsonKeyOK(t.Key) {
			return &SchemaError{Type: t.String(), Msg: fmt.Sprintf("JSON doesn't support dict keys of type `%s`", t.Key)}
		}
		if err := check(t.Key, f, seen); err != nil {
			return err
		}
		return check(t.Value, f, seen)
	case KindUnion:
		if t.IsOptionalPointer() {
			if err := check(t.Inner, f, seen); err != nil {
				return err
			}
		}
		for _, m := range t.Members {
			if err := check(m, f, seen); err != nil {
				return err
			}
		}
		if t.IsOptionalPointer() && t.Inner.Unwrap().Kind == KindAny {
			return nil
		}
		_, err := t.Dispatch(f)
		return err
	case KindStruct, KindDataclass, KindTypedDict, KindNamedTuple:
		for _, fld := range t.Struct.Fields {
			if err := check(fld.Type, f, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func jsonKeyOK(k *Type) bool {
	k = k.Unwrap()
	switch k.Kind {
	case KindAny, KindStr, KindInt, KindFloat, KindEnum, KindUUID, KindDateTime, KindDate,
		KindTime, KindDuration, KindDecimal:
		return true
	case KindLiteral:
		return !k.Literal.HasNone
	}
	return false
}
