package schema

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// ============================================================
// Descriptor cache
// ============================================================

var (
	descCache  sync.Map // reflect.Type -> *Type
	buildGroup singleflight.Group
)

// Of returns the descriptor for Go type t, building and memoizing it on
// first use. Concurrent first uses of the same type share one build.
//
// Recursive types are built in two phases: a placeholder node is registered
// under the type's identity before its fields are built, then filled in.
func Of(t reflect.Type) (*Type, error) {
	if t == nil {
		return AnyType(), nil
	}
	if v, ok := descCache.Load(t); ok {
		return v.(*Type), nil
	}
	v, err, _ := buildGroup.Do(fmt.Sprintf("%p", t), func() (any, error) {
		if v, ok := descCache.Load(t); ok {
			return v, nil
		}
		b := &builder{seen: make(map[reflect.Type]*Type)}
		typ, err := b.build(t)
		if err != nil {
			return nil, err
		}
		for gt, node := range b.seen {
			descCache.LoadOrStore(gt, node)
		}
		actual, _ := descCache.LoadOrStore(t, typ)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Type), nil
}

// For returns the descriptor for T.
func For[T any]() (*Type, error) {
	return Of(reflect.TypeFor[T]())
}

// MustFor is For that panics on error, for package-level descriptors.
func MustFor[T any]() *Type {
	t, err := For[T]()
	if err != nil {
		panic(err)
	}
	return t
}

// resetCache drops memoized descriptors after a registration change.
func resetCache() {
	descCache.Range(func(k, _ any) bool {
		descCache.Delete(k)
		return true
	})
}

// ============================================================
// Builder
// ============================================================

type builder struct {
	seen map[reflect.Type]*Type
}

// isExactType reports Go types with a dedicated descriptor kind.
func isExactType(t reflect.Type) bool {
	switch t {
	case timeType, durationType, uuidType, decimalType, dateType, timeOfDayTyp, extType, rawType:
		return true
	}
	return false
}

func (b *builder) build(t reflect.Type) (*Type, error) {
	if node, ok := b.seen[t]; ok {
		return node, nil
	}
	if v, ok := descCache.Load(t); ok {
		return v.(*Type), nil
	}

	switch t {
	case timeType:
		return b.leaf(t, &Type{Kind: KindDateTime, GoType: t}), nil
	case durationType:
		return b.leaf(t, &Type{Kind: KindDuration, GoType: t}), nil
	case uuidType:
		return b.leaf(t, &Type{Kind: KindUUID, GoType: t}), nil
	case decimalType:
		return b.leaf(t, &Type{Kind: KindDecimal, GoType: t}), nil
	case dateType:
		return b.leaf(t, &Type{Kind: KindDate, GoType: t}), nil
	case timeOfDayTyp:
		return b.leaf(t, &Type{Kind: KindTime, GoType: t}), nil
	case extType:
		return b.leaf(t, &Type{Kind: KindExt, GoType: t}), nil
	case rawType:
		return b.leaf(t, &Type{Kind: KindRaw, GoType: t}), nil
	}

	reg := lookupRegistration(t)
	switch {
	case reg.custom:
		return b.leaf(t, &Type{Kind: KindCustom, GoType: t}), nil
	case reg.enum != nil:
		return b.leaf(t, &Type{Kind: KindEnum, GoType: t, Enum: reg.enum}), nil
	case reg.union != nil:
		return b.buildUnion(t, reg.union)
	}

	switch t.Kind() {
	case reflect.Bool:
		return b.leaf(t, &Type{Kind: KindBool, GoType: t}), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return b.leaf(t, &Type{Kind: KindInt, GoType: t}), nil
	case reflect.Float32, reflect.Float64:
		return b.leaf(t, &Type{Kind: KindFloat, GoType: t}), nil
	case reflect.String:
		return b.leaf(t, &Type{Kind: KindStr, GoType: t}), nil

	case reflect.Interface:
		if t.NumMethod() == 0 {
			return b.leaf(t, &Type{Kind: KindAny, GoType: t}), nil
		}
		return b.leaf(t, &Type{Kind: KindCustom, GoType: t}), nil

	case reflect.Ptr:
		node := &Type{Kind: KindUnion, GoType: t}
		b.seen[t] = node
		elem, err := b.build(t.Elem())
		if err != nil {
			return nil, err
		}
		node.Inner = elem
		return node, nil

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return b.leaf(t, &Type{Kind: KindBytes, GoType: t}), nil
		}
		node := &Type{Kind: KindList, GoType: t}
		b.seen[t] = node
		item, err := b.build(t.Elem())
		if err != nil {
			return nil, errors.Wrapf(err, "building item type of '%v'", t)
		}
		node.Item = item
		return node, nil

	case reflect.Array:
		node := &Type{Kind: KindFixedTuple, GoType: t}
		b.seen[t] = node
		item, err := b.build(t.Elem())
		if err != nil {
			return nil, errors.Wrapf(err, "building item type of '%v'", t)
		}
		node.Items = make([]*Type, t.Len())
		for i := range node.Items {
			node.Items[i] = item
		}
		return node, nil

	case reflect.Map:
		if t.Elem().Kind() == reflect.Struct && t.Elem().NumField() == 0 {
			node := &Type{Kind: KindSet, GoType: t}
			b.seen[t] = node
			item, err := b.build(t.Key())
			if err != nil {
				return nil, errors.Wrapf(err, "building member type of '%v'", t)
			}
			node.Item = item
			return node, nil
		}
		node := &Type{Kind: KindDict, GoType: t}
		b.seen[t] = node
		key, err := b.build(t.Key())
		if err != nil {
			return nil, errors.Wrapf(err, "building key type of '%v'", t)
		}
		val, err := b.build(t.Elem())
		if err != nil {
			return nil, errors.Wrapf(err, "building value type of '%v'", t)
		}
		node.Key, node.Value = key, val
		return node, nil

	case reflect.Struct:
		kind := KindDataclass
		if t.Implements(configuredType) {
			kind = KindStruct
		}
		node := &Type{Kind: kind, GoType: t}
		b.seen[t] = node
		if err := b.buildStruct(t, node); err != nil {
			delete(b.seen, t)
			return nil, err
		}
		return node, nil

	case reflect.Complex64, reflect.Complex128:
		return b.leaf(t, &Type{Kind: KindCustom, GoType: t}), nil
	}
	return nil, &SchemaError{Type: t.String(), Msg: "no descriptor for this kind of Go type"}
}

func (b *builder) leaf(t reflect.Type, node *Type) *Type {
	b.seen[t] = node
	return node
}

func (b *builder) buildUnion(t reflect.Type, members []reflect.Type) (*Type, error) {
	node := &Type{Kind: KindUnion, GoType: t}
	b.seen[t] = node
	for _, mt := range members {
		if mt.Kind() == reflect.Ptr {
			mt = mt.Elem()
		}
		m, err := b.build(mt)
		if err != nil {
			return nil, errors.Wrapf(err, "building member '%v' of union '%v'", mt, t)
		}
		node.Members = append(node.Members, m)
	}
	return node, nil
}

// UnionMembers returns the flattened members of a union node. The Optional
// form of a Go pointer expands to its element's members plus None.
func (t *Type) UnionMembers() []*Type {
	if !t.IsOptionalPointer() {
		return t.Members
	}
	inner := t.Inner.Unwrap()
	var out []*Type
	if inner.Kind == KindUnion {
		out = append(out, inner.UnionMembers()...)
	} else {
		out = append(out, t.Inner)
	}
	for _, m := range out {
		if m.Kind == KindNone {
			return out
		}
	}
	return append(out, NoneType())
}

// ============================================================
// Registries
// ============================================================

type registration struct {
	union  []reflect.Type
	enum   *EnumInfo
	custom bool
}

var registry = struct {
	sync.RWMutex
	m map[reflect.Type]registration
}{m: make(map[reflect.Type]registration)}

func lookupRegistration(t reflect.Type) registration {
	registry.RLock()
	defer registry.RUnlock()
	return registry.m[t]
}

func register(t reflect.Type, r registration) {
	registry.Lock()
	registry.m[t] = r
	registry.Unlock()
	resetCache()
}

// RegisterUnion declares interface type iface as the union of members.
// Each member must implement iface. Register during initialization, before
// the interface is first described.
func RegisterUnion(iface reflect.Type, members ...reflect.Type) error {
	if iface.Kind() != reflect.Interface {
		return &SchemaError{Type: iface.String(), Msg: "union must be declared on an interface type"}
	}
	if len(members) == 0 {
		return &SchemaError{Type: iface.String(), Msg: "union requires at least one member"}
	}
	for _, m := range members {
		if !m.Implements(iface) && !reflect.PointerTo(m).Implements(iface) {
			return &SchemaError{Type: iface.String(), Msg: fmt.Sprintf("member %v does not implement the interface", m)}
		}
	}
	register(iface, registration{union: append([]reflect.Type(nil), members...)})
	return nil
}

// RegisterUnionOf declares I as the union of the dynamic types of members.
func RegisterUnionOf[I any](members ...I) error {
	types := make([]reflect.Type, len(members))
	for i, m := range members {
		types[i] = reflect.TypeOf(m)
		if types[i] == nil {
			return &SchemaError{Type: reflect.TypeFor[I]().String(), Msg: "nil union member"}
		}
	}
	return RegisterUnion(reflect.TypeFor[I](), types...)
}

// RegisterEnum declares the closed value set of a named integer or string
// type. Values decode only if they match a member.
func RegisterEnum[E comparable](values ...E) error {
	t := reflect.TypeFor[E]()
	info := &EnumInfo{Name: t.Name(), GoType: t}
	switch t.Kind() {
	case reflect.String:
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		info.IsInt = true
	default:
		return &SchemaError{Type: t.String(), Msg: "enum types must have an integer or string underlying type"}
	}
	if len(values) == 0 {
		return &SchemaError{Type: t.String(), Msg: "enum requires at least one value"}
	}
	for _, v := range values {
		info.Values = append(info.Values, reflect.ValueOf(v))
	}
	register(t, registration{enum: info})
	return nil
}

// RegisterCustom marks t as coded through user hooks only.
func RegisterCustom(t reflect.Type) {
	register(t, registration{custom: true})
}

// EnumOf returns the enum descriptor registered for t, if any.
func EnumOf(t reflect.Type) (*EnumInfo, bool) {
	r := lookupRegistration(t)
	return r.enum, r.enum != nil
}
