// Package jsonschema renders type descriptors as JSON Schema and OpenAPI
// 3 component schemas.
//
// Struct-like types (structs, typed dicts, named tuples) and enums become
// named components referenced through $ref, so recursive types terminate.
// Tagged struct unions render as oneOf with a discriminator.
package jsonschema

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/pkg/errors"

	"github.com/Neumenon/typewire"
	"github.com/Neumenon/typewire/schema"
)

// DefaultRefTemplate is the $ref template used by Generate.
const DefaultRefTemplate = "#/$defs/{name}"

// ComponentsRefTemplate points refs into an OpenAPI components section.
const ComponentsRefTemplate = "#/components/schemas/{name}"

// Hook renders a schema for a type the generator has no mapping for
// (custom types). Returning false falls through to the default error.
type Hook func(t *schema.Type) (*openapi3.Schema, bool)

// Options configures Generate.
type Options struct {
	RefTemplate string
	Hook        Hook
	Indent      string
}

// DefaultOptions returns the options Generate starts from.
func DefaultOptions() Options {
	return Options{RefTemplate: DefaultRefTemplate}
}

// Option mutates Options.
type Option func(*Options)

// WithRefTemplate sets the template refs are rendered with. "{name}" is
// replaced by the component name.
func WithRefTemplate(tmpl string) Option {
	return func(o *Options) { o.RefTemplate = tmpl }
}

// WithHook sets the hook consulted for custom types.
func WithHook(h Hook) Option {
	return func(o *Options) { o.Hook = h }
}

// WithIndent pretty prints the generated document.
func WithIndent(indent string) Option {
	return func(o *Options) { o.Indent = indent }
}

// ============================================================
// Entry points
// ============================================================

// Generate returns the JSON Schema document for t. Components referenced
// from the root are collected under "$defs".
func Generate(t *schema.Type, opts ...Option) ([]byte, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	g := newGenerator(o.RefTemplate, o.Hook)
	root, err := g.ref(t)
	if err != nil {
		return nil, err
	}

	doc := map[string]any{}
	if root.Ref != "" {
		doc["$ref"] = root.Ref
	} else {
		b, err := json.Marshal(root.Value)
		if err != nil {
			return nil, errors.Wrap(err, "marshalling root schema")
		}
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, errors.Wrap(err, "flattening root schema")
		}
	}
	if len(g.defs) > 0 {
		doc["$defs"] = g.defs
	}
	if o.Indent != "" {
		return json.MarshalIndent(doc, "", o.Indent)
	}
	return json.Marshal(doc)
}

// Components renders several types against one shared component set. The
// returned refs are in the order of types.
func Components(types []*schema.Type, refTemplate string) ([]*openapi3.SchemaRef, openapi3.Schemas, error) {
	if refTemplate == "" {
		refTemplate = ComponentsRefTemplate
	}
	g := newGenerator(refTemplate, nil)
	out := make([]*openapi3.SchemaRef, len(types))
	for i, t := range types {
		ref, err := g.ref(t)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "generating schema %d", i)
		}
		out[i] = ref
	}
	return out, g.defs, nil
}

// Document wraps the components of types in a minimal OpenAPI document.
func Document(title, version string, types ...*schema.Type) (*openapi3.T, error) {
	_, defs, err := Components(types, ComponentsRefTemplate)
	if err != nil {
		return nil, err
	}
	comp := openapi3.NewComponents()
	comp.Schemas = defs
	return &openapi3.T{
		OpenAPI:    "3.0.3",
		Info:       &openapi3.Info{Title: title, Version: version},
		Paths:      openapi3.Paths{},
		Components: comp,
	}, nil
}

// ============================================================
// Generator
// ============================================================

type generator struct {
	tmpl string
	hook Hook
	defs openapi3.Schemas

	// component names by descriptor identity; registered before the body
	// is generated so self references resolve
	names map[any]string
	taken map[string]bool
}

func newGenerator(tmpl string, hook Hook) *generator {
	return &generator{
		tmpl:  tmpl,
		hook:  hook,
		defs:  openapi3.Schemas{},
		names: map[any]string{},
		taken: map[string]bool{},
	}
}

func (g *generator) refTo(name string) string {
	return strings.ReplaceAll(g.tmpl, "{name}", name)
}

func (g *generator) claim(key any, base string) (string, bool) {
	if name, ok := g.names[key]; ok {
		return name, false
	}
	if base == "" {
		base = "Anonymous"
	}
	name := base
	for i := 2; g.taken[name]; i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	g.taken[name] = true
	g.names[key] = name
	return name, true
}

func (g *generator) ref(t *schema.Type) (*openapi3.SchemaRef, error) {
	if t == nil {
		return nil, errors.New("nil type descriptor")
	}
	switch t.Kind {
	case schema.KindMetadata:
		return g.annotated(t)
	case schema.KindStruct, schema.KindTypedDict, schema.KindNamedTuple, schema.KindDataclass:
		return g.component(t.Struct, t.Struct.Name, func(sc *openapi3.Schema) error {
			return g.structBody(t.Struct, sc)
		})
	case schema.KindEnum:
		return g.component(t.Enum, t.Enum.Name, func(sc *openapi3.Schema) error {
			sc.Title = t.Enum.Name
			sc.Enum = t.Enum.Describe()
			if t.Enum.IsInt {
				sc.Type = "integer"
			} else {
				sc.Type = "string"
			}
			return nil
		})
	}
	sc, err := g.inline(t)
	if err != nil {
		return nil, err
	}
	return openapi3.NewSchemaRef("", sc), nil
}

func (g *generator) component(key any, base string, body func(*openapi3.Schema) error) (*openapi3.SchemaRef, error) {
	name, fresh := g.claim(key, base)
	if fresh {
		sc := openapi3.NewSchema()
		g.defs[name] = openapi3.NewSchemaRef("", sc)
		if err := body(sc); err != nil {
			return nil, errors.Wrapf(err, "generating `%s`", name)
		}
	}
	return openapi3.NewSchemaRef(g.refTo(name), g.defs[name].Value), nil
}

func (g *generator) annotated(t *schema.Type) (*openapi3.SchemaRef, error) {
	inner, err := g.ref(t.Inner)
	if err != nil {
		return nil, err
	}
	sc := inner.Value
	if inner.Ref != "" {
		// siblings of $ref are ignored, so annotate a wrapper instead
		sc = openapi3.NewSchema()
		sc.AllOf = openapi3.SchemaRefs{inner}
	} else {
		cp := *sc
		sc = &cp
	}
	if m := t.Meta; m != nil {
		if m.Title != "" {
			sc.Title = m.Title
		}
		if m.Description != "" {
			sc.Description = m.Description
		}
		if len(m.Examples) > 0 {
			examples, err := builtins(m.Examples)
			if err != nil {
				return nil, err
			}
			sc.Example = examples.([]any)[0]
			extend(sc, "examples", examples)
		}
		for k, v := range m.ExtraJSONSchema {
			extend(sc, k, v)
		}
	}
	return openapi3.NewSchemaRef("", sc), nil
}

func extend(sc *openapi3.Schema, key string, v any) {
	if sc.Extensions == nil {
		sc.Extensions = map[string]any{}
	}
	sc.Extensions[key] = v
}

func builtins(v any) (any, error) {
	return typewire.ToBuiltins(v, typewire.WithStrKeys(true))
}

// ============================================================
// Inline schemas
// ============================================================

func (g *generator) inline(t *schema.Type) (*openapi3.Schema, error) {
	sc := openapi3.NewSchema()
	c := t.Constraints
	switch t.Kind {
	case schema.KindAny, schema.KindRaw:
	case schema.KindNone:
		sc.Type = "null"
	case schema.KindBool:
		sc.Type = "boolean"
	case schema.KindInt:
		sc.Type = "integer"
		numeric(sc, c)
	case schema.KindFloat:
		sc.Type = "number"
		numeric(sc, c)
	case schema.KindStr:
		sc.Type = "string"
		if c != nil {
			if c.MinLength >= 0 {
				sc.MinLength = uint64(c.MinLength)
			}
			if c.MaxLength >= 0 {
				sc.MaxLength = openapi3.Uint64Ptr(uint64(c.MaxLength))
			}
			if c.Pattern != nil {
				sc.Pattern = c.Pattern.String()
			}
		}
	case schema.KindBytes:
		sc.Type = "string"
		sc.Format = "byte"
		extend(sc, "contentEncoding", "base64")
		if c != nil {
			// bounds apply to the decoded bytes, the wire carries base64
			if c.MinLength >= 0 {
				sc.MinLength = uint64(base64Len(c.MinLength))
			}
			if c.MaxLength >= 0 {
				sc.MaxLength = openapi3.Uint64Ptr(uint64(base64Len(c.MaxLength)))
			}
		}
	case schema.KindDateTime:
		sc.Type, sc.Format = "string", "date-time"
	case schema.KindDate:
		sc.Type, sc.Format = "string", "date"
	case schema.KindTime:
		sc.Type, sc.Format = "string", "time"
	case schema.KindDuration:
		sc.Type, sc.Format = "string", "duration"
	case schema.KindUUID:
		sc.Type, sc.Format = "string", "uuid"
	case schema.KindDecimal:
		sc.Type, sc.Format = "string", "decimal"
	case schema.KindLiteral:
		return g.literal(t.Literal), nil
	case schema.KindUnion:
		return g.union(t)
	case schema.KindList, schema.KindVarTuple, schema.KindSet, schema.KindFrozenSet:
		item, err := g.ref(t.Item)
		if err != nil {
			return nil, err
		}
		sc.Type = "array"
		sc.Items = item
		sc.UniqueItems = t.Kind == schema.KindSet || t.Kind == schema.KindFrozenSet
		items(sc, c)
	case schema.KindFixedTuple:
		prefix := make(openapi3.SchemaRefs, len(t.Items))
		for i, it := range t.Items {
			r, err := g.ref(it)
			if err != nil {
				return nil, err
			}
			prefix[i] = r
		}
		sc.Type = "array"
		sc.MinItems = uint64(len(prefix))
		sc.MaxItems = openapi3.Uint64Ptr(uint64(len(prefix)))
		extend(sc, "prefixItems", prefix)
	case schema.KindDict:
		value, err := g.ref(t.Value)
		if err != nil {
			return nil, err
		}
		sc.Type = "object"
		sc.AdditionalProperties = value
		if c != nil {
			if c.MinLength >= 0 {
				sc.MinProps = uint64(c.MinLength)
			}
			if c.MaxLength >= 0 {
				sc.MaxProps = openapi3.Uint64Ptr(uint64(c.MaxLength))
			}
		}
	case schema.KindExt:
		return nil, &schema.SchemaError{Type: t.String(), Msg: "JSON schema does not support ext types"}
	case schema.KindCustom:
		if g.hook != nil {
			if hooked, ok := g.hook(t); ok {
				return hooked, nil
			}
		}
		return nil, &schema.SchemaError{Type: t.String(), Msg: "generating a JSON schema for custom types requires a hook"}
	default:
		return nil, &schema.SchemaError{Type: t.String(), Msg: "no JSON schema mapping"}
	}
	return sc, nil
}

func numeric(sc *openapi3.Schema, c *schema.Constraints) {
	if c == nil {
		return
	}
	if c.Ge != nil {
		sc.Min = openapi3.Float64Ptr(c.Ge.Float())
	}
	if c.Gt != nil {
		sc.Min = openapi3.Float64Ptr(c.Gt.Float())
		sc.ExclusiveMin = true
	}
	if c.Le != nil {
		sc.Max = openapi3.Float64Ptr(c.Le.Float())
	}
	if c.Lt != nil {
		sc.Max = openapi3.Float64Ptr(c.Lt.Float())
		sc.ExclusiveMax = true
	}
	if c.MultipleOf != nil {
		sc.MultipleOf = openapi3.Float64Ptr(c.MultipleOf.Float())
	}
}

func items(sc *openapi3.Schema, c *schema.Constraints) {
	if c == nil {
		return
	}
	if c.MinLength >= 0 {
		sc.MinItems = uint64(c.MinLength)
	}
	if c.MaxLength >= 0 {
		sc.MaxItems = openapi3.Uint64Ptr(uint64(c.MaxLength))
	}
}

func base64Len(n int) int {
	return 4 * int(math.Ceil(float64(n)/3))
}

func (g *generator) literal(l *schema.LiteralInfo) *openapi3.Schema {
	var values []any
	for _, v := range l.Ints {
		values = append(values, v)
	}
	for _, s := range l.Strs {
		values = append(values, s)
	}
	sc := openapi3.NewSchema()
	sc.Enum = values
	switch {
	case len(l.Strs) == 0:
		sc.Type = "integer"
	case len(l.Ints) == 0:
		sc.Type = "string"
	}
	if !l.HasNone {
		return sc
	}
	out := openapi3.NewSchema()
	out.AnyOf = openapi3.SchemaRefs{openapi3.NewSchemaRef("", sc), nullRef()}
	return out
}

func nullRef() *openapi3.SchemaRef {
	sc := openapi3.NewSchema()
	sc.Type = "null"
	return openapi3.NewSchemaRef("", sc)
}

// union renders members as anyOf. Tagged struct members sharing a tag
// field are grouped into a oneOf with a discriminator mapping each tag to
// its component.
func (g *generator) union(t *schema.Type) (*openapi3.Schema, error) {
	var tagged []*schema.Type
	var rest []*schema.Type
	tagField := ""
	for _, m := range t.UnionMembers() {
		u := m.Unwrap()
		if u.Struct != nil && u.Struct.Tagged() && !u.Struct.ArrayLike &&
			(tagField == "" || tagField == u.Struct.TagField) {
			tagField = u.Struct.TagField
			tagged = append(tagged, m)
			continue
		}
		rest = append(rest, m)
	}

	var anyOf openapi3.SchemaRefs
	if len(tagged) > 0 {
		group := openapi3.NewSchema()
		group.Discriminator = &openapi3.Discriminator{PropertyName: tagField, Mapping: map[string]string{}}
		for _, m := range tagged {
			r, err := g.ref(m)
			if err != nil {
				return nil, err
			}
			group.OneOf = append(group.OneOf, r)
			if r.Ref != "" {
				group.Discriminator.Mapping[fmt.Sprint(m.Unwrap().Struct.Tag)] = r.Ref
			}
		}
		if len(rest) == 0 {
			return group, nil
		}
		anyOf = append(anyOf, openapi3.NewSchemaRef("", group))
	}
	for _, m := range rest {
		r, err := g.ref(m)
		if err != nil {
			return nil, err
		}
		anyOf = append(anyOf, r)
	}
	sc := openapi3.NewSchema()
	sc.AnyOf = anyOf
	return sc, nil
}

// ============================================================
// Struct-like components
// ============================================================

func (g *generator) structBody(info *schema.StructInfo, sc *openapi3.Schema) error {
	sc.Title = info.Name
	if info.ArrayLike {
		return g.arrayBody(info, sc)
	}

	sc.Type = "object"
	sc.Properties = openapi3.Schemas{}
	if info.Tagged() {
		tag := openapi3.NewSchema()
		tag.Enum = []any{info.Tag}
		sc.Properties[info.TagField] = openapi3.NewSchemaRef("", tag)
		sc.Required = append(sc.Required, info.TagField)
	}
	var order []string
	for _, f := range info.Fields {
		r, err := g.field(f)
		if err != nil {
			return errors.Wrapf(err, "field `%s`", f.WireName)
		}
		sc.Properties[f.WireName] = r
		order = append(order, f.WireName)
		if f.Required && !f.HasDefaultValue() {
			sc.Required = append(sc.Required, f.WireName)
		}
	}
	if info.ForbidUnknownFields {
		sc.AdditionalPropertiesAllowed = openapi3.BoolPtr(false)
	}
	extend(sc, "x-order", order)
	return nil
}

func (g *generator) arrayBody(info *schema.StructInfo, sc *openapi3.Schema) error {
	var prefix openapi3.SchemaRefs
	required := 0
	if info.Tagged() {
		tag := openapi3.NewSchema()
		tag.Enum = []any{info.Tag}
		prefix = append(prefix, openapi3.NewSchemaRef("", tag))
		required++
	}
	for _, f := range info.Fields {
		r, err := g.field(f)
		if err != nil {
			return errors.Wrapf(err, "field `%s`", f.WireName)
		}
		prefix = append(prefix, r)
		if f.Required && !f.HasDefaultValue() {
			required++
		}
	}
	sc.Type = "array"
	sc.MinItems = uint64(required)
	if info.ForbidUnknownFields {
		sc.MaxItems = openapi3.Uint64Ptr(uint64(len(prefix)))
	}
	extend(sc, "prefixItems", prefix)
	return nil
}

func (g *generator) field(f *schema.Field) (*openapi3.SchemaRef, error) {
	r, err := g.ref(f.Type)
	if err != nil {
		return nil, err
	}
	if !f.HasDefault || f.Default == nil {
		return r, nil
	}
	def, err := builtins(f.Default)
	if err != nil {
		// defaults that have no JSON form are left out of the schema
		return r, nil
	}
	sc := r.Value
	if r.Ref != "" {
		sc = openapi3.NewSchema()
		sc.AllOf = openapi3.SchemaRefs{r}
	} else {
		cp := *sc
		sc = &cp
	}
	sc.Default = def
	return openapi3.NewSchemaRef("", sc), nil
}
