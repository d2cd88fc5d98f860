// Package structs operates on struct values through their schema layout:
// keyword construction, copies with replaced fields, conversion to dicts
// and tuples, structural equality, ordering and hashing.
package structs

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/pkg/errors"

	"github.com/Neumenon/typewire"
	"github.com/Neumenon/typewire/msgpack"
	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Layout access
// ============================================================

func layoutOf(t reflect.Type) (*schema.StructInfo, error) {
	if t.Kind() != reflect.Struct {
		return nil, &schema.SchemaError{Type: t.String(), Msg: "expected a struct type"}
	}
	d, err := schema.Of(t)
	if err != nil {
		return nil, err
	}
	d = d.Unwrap()
	if d.Struct == nil {
		return nil, &schema.SchemaError{Type: t.String(), Msg: "type has no struct layout"}
	}
	return d.Struct, nil
}

func structValue(v any) (reflect.Value, *schema.StructInfo, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}, nil, errors.New("structs: nil pointer")
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return reflect.Value{}, nil, errors.New("structs: nil value")
	}
	si, err := layoutOf(rv.Type())
	return rv, si, err
}

// FieldInfo describes one field of a struct layout.
type FieldInfo struct {
	Name       string // Go field name
	WireName   string
	Type       *schema.Type
	Required   bool
	KwOnly     bool
	Default    any // set when HasDefault
	HasDefault bool
	HasFactory bool
}

// Fields returns the layout of struct type T in field order.
func Fields[T any]() ([]FieldInfo, error) {
	si, err := layoutOf(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	out := make([]FieldInfo, len(si.Fields))
	for i, f := range si.Fields {
		out[i] = FieldInfo{
			Name:       f.Name,
			WireName:   f.WireName,
			Type:       f.Type,
			Required:   f.Required,
			KwOnly:     f.KwOnly,
			Default:    f.Default,
			HasDefault: f.HasDefault,
			HasFactory: f.Factory != nil,
		}
	}
	return out, nil
}

// ============================================================
// Construction
// ============================================================

// New builds a T from positional and keyword arguments, the way a
// generated constructor would: positional arguments fill the non
// keyword-only fields in order, keywords are matched by Go field name,
// and missing fields take their defaults.
func New[T any](positional []any, keywords map[string]any) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	si, err := layoutOf(rv.Type())
	if err != nil {
		return out, err
	}
	if limit := si.NumPositional(); len(positional) > limit {
		return out, fmt.Errorf("Extra positional arguments provided: %s takes at most %d, got %d", si.Name, limit, len(positional))
	}
	set := make([]bool, len(si.Fields))
	for i, arg := range positional {
		if err := setField(rv, si.Fields[i], arg); err != nil {
			return out, err
		}
		set[i] = true
	}
	for name, arg := range keywords {
		i, ok := si.FieldByName(name)
		if !ok {
			return out, fmt.Errorf("Unexpected keyword argument '%s'", name)
		}
		if set[i] {
			return out, fmt.Errorf("Argument '%s' given by name and position", name)
		}
		if err := setField(rv, si.Fields[i], arg); err != nil {
			return out, err
		}
		set[i] = true
	}
	for i, f := range si.Fields {
		if set[i] {
			continue
		}
		def, ok := f.NewDefault()
		if !ok {
			if f.Required {
				return out, fmt.Errorf("Missing required argument '%s'", f.Name)
			}
			continue
		}
		if err := setField(rv, f, def); err != nil {
			return out, err
		}
	}
	if si.PostInit {
		if err := rv.Addr().Interface().(schema.PostIniter).PostInit(); err != nil {
			return out, err
		}
	}
	return out, nil
}

func setField(rv reflect.Value, f *schema.Field, arg any) error {
	dst := rv.FieldByIndex(f.Index)
	if arg == nil {
		switch dst.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		return fmt.Errorf("Invalid type for argument '%s': got nil, expected %s", f.Name, dst.Type())
	}
	v := reflect.ValueOf(arg)
	switch {
	case v.Type().AssignableTo(dst.Type()):
		dst.Set(v)
	case v.Type().ConvertibleTo(dst.Type()) && sameFamily(v.Kind(), dst.Kind()):
		dst.Set(v.Convert(dst.Type()))
	default:
		return fmt.Errorf("Invalid type for argument '%s': got %s, expected %s", f.Name, v.Type(), dst.Type())
	}
	return nil
}

func sameFamily(a, b reflect.Kind) bool {
	family := func(k reflect.Kind) int {
		switch k {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return 1
		case reflect.Float32, reflect.Float64:
			return 2
		}
		return int(k) + 16
	}
	return family(a) == family(b)
}

// Replace returns a copy of v with the named fields (Go names) replaced.
// Fields not named keep their values; the post-init hook runs again.
func Replace[T any](v T, changes map[string]any) (T, error) {
	out := v
	rv := reflect.ValueOf(&out).Elem()
	si, err := layoutOf(rv.Type())
	if err != nil {
		return v, err
	}
	for name, arg := range changes {
		i, ok := si.FieldByName(name)
		if !ok {
			return v, fmt.Errorf("`%s` has no field '%s'", si.Name, name)
		}
		if err := setField(rv, si.Fields[i], arg); err != nil {
			return v, err
		}
	}
	if si.PostInit {
		if err := rv.Addr().Interface().(schema.PostIniter).PostInit(); err != nil {
			return v, err
		}
	}
	return out, nil
}

// ============================================================
// Conversion
// ============================================================

// AsDict returns the fields of struct v keyed by Go field name. Values
// are not converted recursively.
func AsDict(v any) (map[string]any, error) {
	rv, si, err := structValue(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(si.Fields))
	for _, f := range si.Fields {
		out[f.Name] = rv.FieldByIndex(f.Index).Interface()
	}
	return out, nil
}

// AsTuple returns the fields of struct v in layout order.
func AsTuple(v any) ([]any, error) {
	rv, si, err := structValue(v)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(si.Fields))
	for i, f := range si.Fields {
		out[i] = rv.FieldByIndex(f.Index).Interface()
	}
	return out, nil
}

// ============================================================
// Equality, ordering, hashing
// ============================================================

// Equal reports whether a and b are structs of the same type with equal
// layout fields.
func Equal(a, b any) bool {
	ra, sa, err := structValue(a)
	if err != nil {
		return false
	}
	rb, _, err := structValue(b)
	if err != nil || ra.Type() != rb.Type() {
		return false
	}
	for _, f := range sa.Fields {
		if !reflect.DeepEqual(ra.FieldByIndex(f.Index).Interface(), rb.FieldByIndex(f.Index).Interface()) {
			return false
		}
	}
	return true
}

// Compare orders a and b lexicographically by their field values. The
// struct type must enable Order.
func Compare[T any](a, b T) (int, error) {
	ra, si, err := structValue(a)
	if err != nil {
		return 0, err
	}
	if !si.Order {
		return 0, fmt.Errorf("'<' not supported between instances of '%s'", si.Name)
	}
	rb := reflect.ValueOf(b)
	for rb.Kind() == reflect.Ptr {
		rb = rb.Elem()
	}
	for _, f := range si.Fields {
		c, err := compareValues(ra.FieldByIndex(f.Index), rb.FieldByIndex(f.Index))
		if err != nil {
			return 0, errors.Wrapf(err, "comparing field '%s'", f.Name)
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

// Hash returns a structural hash of a frozen struct: the leading bytes of
// the SHA-256 of its deterministic MessagePack encoding.
func Hash(v any) (uint64, error) {
	rv, si, err := structValue(v)
	if err != nil {
		return 0, err
	}
	if !si.Frozen {
		return 0, fmt.Errorf("unhashable type: '%s'", si.Name)
	}
	b, err := msgpack.Encode(rv.Interface(), msgpack.WithOrder(typewire.OrderDeterministic))
	if err != nil {
		return 0, errors.Wrapf(err, "hashing '%s'", si.Name)
	}
	sum := sha256.Sum256(b)
	return binary.BigEndian.Uint64(sum[:8]), nil
}
