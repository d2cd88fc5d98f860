package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// ============================================================
// Struct options
// ============================================================

// StructOptions configures how a struct type is laid out and coded.
//
// A Go struct opts in by defining StructOptions on its value receiver.
// Options are inherited through embedding: a struct embedding a configured
// base gets the base's method unless it defines its own.
type StructOptions struct {
	// Tagged tags the struct with its Go type name. Tag sets an explicit
	// string or integer tag; TagFunc derives one from the type name.
	Tagged  bool
	Tag     any
	TagFunc func(typeName string) any
	// TagField names the tag field in object form (default "type").
	TagField string

	// ArrayLike encodes the struct as an array of field values.
	ArrayLike bool
	// ForbidUnknownFields rejects unknown object keys and extra array
	// elements while decoding.
	ForbidUnknownFields bool
	// OmitDefaults drops fields equal to their default while encoding.
	OmitDefaults bool
	// Frozen marks instances immutable; required for structs.Hash.
	Frozen bool
	// Order enables structs.Compare.
	Order bool
	// KwOnly makes every field keyword-only.
	KwOnly bool

	Rename     Rename
	RenameFunc func(goName string) string

	// Factories supplies per-instance defaults keyed by Go field name.
	Factories map[string]func() any
}

// Configured is implemented by struct types that carry StructOptions.
type Configured interface {
	StructOptions() StructOptions
}

// PostIniter is implemented by struct types that validate or derive state
// after being decoded or converted. A returned error becomes a
// ValidationError at the struct's path.
type PostIniter interface {
	PostInit() error
}

var (
	configuredType = reflect.TypeFor[Configured]()
	postIniterType = reflect.TypeFor[PostIniter]()
)

// DefaultTagField is the tag field name used when none is configured.
const DefaultTagField = "type"

// ============================================================
// Field
// ============================================================

// Field is one field of a struct-like descriptor.
type Field struct {
	Name     string // Go (or declared) name
	WireName string
	Type     *Type
	Index    []int // Go field index path; nil for explicit descriptors

	Required   bool
	KwOnly     bool
	Default    any
	HasDefault bool
	Factory    func() any
}

// NewField returns a required field.
func NewField(name string, t *Type) *Field {
	return &Field{Name: name, WireName: name, Type: t, Required: true}
}

// WithDefault makes the field optional with a default value.
func (f *Field) WithDefault(v any) *Field {
	f.Required, f.HasDefault, f.Default = false, true, v
	return f
}

// WithFactory makes the field optional with a per-instance default.
func (f *Field) WithFactory(fn func() any) *Field {
	f.Required, f.Factory = false, fn
	return f
}

// NotRequired makes a typed dict field optional without a default.
func (f *Field) NotRequired() *Field {
	f.Required = false
	return f
}

// Renamed sets the wire name.
func (f *Field) Renamed(wire string) *Field {
	f.WireName = wire
	return f
}

// HasDefaultValue reports whether a missing field can be filled in.
func (f *Field) HasDefaultValue() bool { return f.HasDefault || f.Factory != nil }

// NewDefault returns a fresh default value: the factory result, or a deep
// copy of the default so instances never share mutable state.
func (f *Field) NewDefault() (any, bool) {
	if f.Factory != nil {
		return f.Factory(), true
	}
	if !f.HasDefault {
		return nil, false
	}
	return DeepCopy(f.Default), true
}

// IsDefault reports whether v equals the field default. Nil and empty
// slices and maps compare equal.
func (f *Field) IsDefault(v reflect.Value) bool {
	var def any
	switch {
	case f.HasDefault:
		def = f.Default
	case f.Factory != nil:
		def = f.Factory()
	default:
		return false
	}
	dv := reflect.ValueOf(def)
	if !dv.IsValid() {
		return isNilish(v)
	}
	if isEmptyCollection(v) && isEmptyCollection(dv) {
		return true
	}
	if dv.Type() != v.Type() {
		if !dv.Type().ConvertibleTo(v.Type()) {
			return false
		}
		dv = dv.Convert(v.Type())
	}
	return reflect.DeepEqual(v.Interface(), dv.Interface())
}

func isNilish(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

func isEmptyCollection(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Map, reflect.Slice:
		return v.Len() == 0
	case reflect.Interface:
		if v.IsNil() {
			return false
		}
		return isEmptyCollection(v.Elem())
	}
	return false
}

// ============================================================
// StructInfo
// ============================================================

// StructInfo is the layout of a Struct, Dataclass, TypedDict or
// NamedTuple descriptor.
type StructInfo struct {
	Name   string
	GoType reflect.Type // nil for explicit TypedDict/NamedTuple
	Kind   Kind

	// Fields in canonical order: positional fields first, then
	// keyword-only fields.
	Fields []*Field

	Tag      any // nil, string or int64
	TagField string

	ArrayLike           bool
	ForbidUnknownFields bool
	OmitDefaults        bool
	Frozen              bool
	Order               bool
	PostInit            bool

	byWire map[string]int
	byName map[string]int
}

// Tagged reports whether the struct carries a tag.
func (s *StructInfo) Tagged() bool { return s.Tag != nil }

// TagText renders the tag for messages.
func (s *StructInfo) TagText() string {
	if v, ok := s.Tag.(string); ok {
		return "'" + v + "'"
	}
	return fmt.Sprint(s.Tag)
}

// FieldByWire returns the index of the field with the given wire name.
func (s *StructInfo) FieldByWire(name string) (int, bool) {
	i, ok := s.byWire[name]
	return i, ok
}

// FieldByName returns the index of the field with the given Go name.
func (s *StructInfo) FieldByName(name string) (int, bool) {
	i, ok := s.byName[name]
	return i, ok
}

// NumPositional counts the fields that are not keyword-only.
func (s *StructInfo) NumPositional() int {
	n := 0
	for _, f := range s.Fields {
		if !f.KwOnly {
			n++
		}
	}
	return n
}

func (s *StructInfo) index() error {
	s.byWire = make(map[string]int, len(s.Fields))
	s.byName = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		if _, dup := s.byWire[f.WireName]; dup {
			return &SchemaError{Type: s.Name, Msg: fmt.Sprintf("duplicate field name `%s`", f.WireName)}
		}
		s.byWire[f.WireName] = i
		s.byName[f.Name] = i
	}
	if s.Tag != nil {
		if _, clash := s.byWire[s.TagField]; clash {
			return &SchemaError{Type: s.Name, Msg: fmt.Sprintf("tag field `%s` conflicts with a field of the same name", s.TagField)}
		}
	}
	return nil
}

// TypedDictOf returns an explicit typed dict descriptor. Decoded values
// are map[string]any.
func TypedDictOf(name string, fields ...*Field) *Type {
	info := &StructInfo{Name: name, Kind: KindTypedDict, Fields: fields}
	t := &Type{Kind: KindTypedDict, Struct: info}
	t.err = info.index()
	return t
}

// NamedTupleOf returns an explicit named tuple descriptor. Decoded values
// are []any with missing trailing fields filled from defaults.
func NamedTupleOf(name string, fields ...*Field) *Type {
	info := &StructInfo{Name: name, Kind: KindNamedTuple, Fields: fields, ArrayLike: true}
	t := &Type{Kind: KindNamedTuple, Struct: info}
	t.err = info.index()
	if t.err == nil {
		t.err = checkDefaultOrder(info)
	}
	return t
}

// ============================================================
// Go struct layout
// ============================================================

func structOptionsOf(t reflect.Type) (StructOptions, bool) {
	if !t.Implements(configuredType) {
		return StructOptions{}, false
	}
	return reflect.Zero(t).Interface().(Configured).StructOptions(), true
}

// buildStruct lays out Go struct t into the placeholder node.
func (b *builder) buildStruct(t reflect.Type, node *Type) error {
	opts, configured := structOptionsOf(t)
	info := &StructInfo{Name: t.Name(), GoType: t, Kind: node.Kind}
	if info.Name == "" {
		info.Name = t.String()
	}

	fields, err := b.collectFields(t, nil, &opts)
	if err != nil {
		return err
	}
	if opts.KwOnly {
		for _, f := range fields {
			f.KwOnly = true
		}
	}
	// keyword-only fields move after the positional ones
	ordered := make([]*Field, 0, len(fields))
	for _, f := range fields {
		if !f.KwOnly {
			ordered = append(ordered, f)
		}
	}
	for _, f := range fields {
		if f.KwOnly {
			ordered = append(ordered, f)
		}
	}
	info.Fields = ordered

	if configured {
		info.ArrayLike = opts.ArrayLike
		info.ForbidUnknownFields = opts.ForbidUnknownFields
		info.OmitDefaults = opts.OmitDefaults
		info.Frozen = opts.Frozen
		info.Order = opts.Order
		if tag, ok, err := resolveTag(t, &opts); err != nil {
			return err
		} else if ok {
			info.Tag = tag
			info.TagField = opts.TagField
			if info.TagField == "" {
				info.TagField = DefaultTagField
			}
		}
		if err := checkDefaultOrder(info); err != nil {
			return err
		}
	}
	info.PostInit = reflect.PointerTo(t).Implements(postIniterType)
	if err := info.index(); err != nil {
		return err
	}
	node.Struct = info
	return nil
}

func checkDefaultOrder(info *StructInfo) error {
	defaulted := ""
	for _, f := range info.Fields {
		if f.KwOnly {
			continue
		}
		if !f.Required {
			defaulted = f.Name
		} else if defaulted != "" {
			return &SchemaError{Type: info.Name, Msg: fmt.Sprintf("required field `%s` cannot follow optional field `%s`", f.Name, defaulted)}
		}
	}
	return nil
}

func resolveTag(t reflect.Type, opts *StructOptions) (any, bool, error) {
	var tag any
	switch {
	case opts.Tag != nil:
		tag = opts.Tag
	case opts.TagFunc != nil:
		tag = opts.TagFunc(t.Name())
	case opts.Tagged:
		tag = t.Name()
	default:
		return nil, false, nil
	}
	rv := reflect.ValueOf(tag)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint()), true, nil
	}
	return nil, false, &SchemaError{Type: t.String(), Msg: fmt.Sprintf("tag must be a str or int, got %T", tag)}
}

func (b *builder) collectFields(t reflect.Type, prefix []int, opts *StructOptions) ([]*Field, error) {
	var out []*Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("tw")
		if tag == "-" {
			continue
		}
		name, flags := parseFieldTag(tag)
		idx := append(append([]int(nil), prefix...), i)

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Ptr && ft.Elem().Kind() == reflect.Struct {
				return nil, &SchemaError{Type: t.String(), Msg: fmt.Sprintf("embedded pointer `%s` is not supported", ft)}
			}
			if ft.Kind() == reflect.Struct && !isExactType(ft) {
				base, err := b.collectFields(ft, idx, opts)
				if err != nil {
					return nil, err
				}
				for _, bf := range base {
					out = overrideField(out, bf)
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		f, err := b.buildField(sf, idx, name, flags, opts)
		if err != nil {
			return nil, errors.Wrapf(err, "building field '%s' of '%s'", sf.Name, t)
		}
		out = overrideField(out, f)
	}
	return out, nil
}

// overrideField appends f, dropping an earlier field of the same name so
// the override takes its new position.
func overrideField(fields []*Field, f *Field) []*Field {
	for i, old := range fields {
		if old.Name == f.Name {
			fields = append(fields[:i:i], fields[i+1:]...)
			break
		}
	}
	return append(fields, f)
}

type fieldFlags struct {
	optional bool
	kwOnly   bool
}

func parseFieldTag(tag string) (string, fieldFlags) {
	var flags fieldFlags
	parts := strings.Split(tag, ",")
	for _, p := range parts[1:] {
		switch strings.TrimSpace(p) {
		case "optional":
			flags.optional = true
		case "kwonly":
			flags.kwOnly = true
		}
	}
	return strings.TrimSpace(parts[0]), flags
}

func (b *builder) buildField(sf reflect.StructField, idx []int, name string, flags fieldFlags, opts *StructOptions) (*Field, error) {
	ft, err := b.build(sf.Type)
	if err != nil {
		return nil, err
	}
	if mt, ok := sf.Tag.Lookup("meta"); ok {
		m, err := ParseMetaTag(mt)
		if err != nil {
			return nil, &SchemaError{Type: sf.Type.String(), Msg: err.Error()}
		}
		ft = Annotated(ft, m)
		if ft.err != nil {
			return nil, ft.err
		}
	}
	f := &Field{Name: sf.Name, Type: ft, Index: idx, Required: true, KwOnly: flags.kwOnly}
	switch {
	case name != "":
		f.WireName = name
	case opts.RenameFunc != nil:
		f.WireName = opts.RenameFunc(sf.Name)
	default:
		f.WireName = opts.Rename.Apply(sf.Name)
	}
	if flags.optional {
		f.WithDefault(reflect.Zero(sf.Type).Interface())
	}
	if lit, ok := sf.Tag.Lookup("default"); ok {
		v := reflect.New(sf.Type)
		if err := json.Unmarshal([]byte(lit), v.Interface()); err != nil {
			return nil, &SchemaError{Type: sf.Type.String(), Msg: fmt.Sprintf("invalid default %s: %v", lit, err)}
		}
		f.WithDefault(v.Elem().Interface())
	}
	if fn := opts.Factories[sf.Name]; fn != nil {
		f.WithFactory(fn)
	}
	return f, nil
}
