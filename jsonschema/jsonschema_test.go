package jsonschema

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Fixtures
// ============================================================

type Address struct {
	Street string `tw:"street" meta:"min_length=1"`
	Zip    string `tw:"zip,optional" meta:"pattern=^[0-9]{5}$"`
}

type Customer struct {
	ID      int64    `tw:"id" meta:"gt=0"`
	Name    string   `tw:"name"`
	Tags    []string `tw:"tags,optional" meta:"max_length=8"`
	Address *Address `tw:"address,optional"`
}

type Tree struct {
	Value    int     `tw:"value"`
	Children []*Tree `tw:"children,optional"`
}

type Shape interface{ isShape() }

type Circle struct {
	Radius float64 `tw:"radius" meta:"ge=0"`
}

func (Circle) StructOptions() schema.StructOptions {
	return schema.StructOptions{Tagged: true, TagField: "kind"}
}
func (Circle) isShape() {}

type Square struct {
	Side float64 `tw:"side"`
}

func (Square) StructOptions() schema.StructOptions {
	return schema.StructOptions{Tagged: true, TagField: "kind"}
}
func (Square) isShape() {}

type Level int

const (
	Low Level = iota + 1
	High
)

func init() {
	if err := schema.RegisterUnionOf[Shape](Circle{}, Square{}); err != nil {
		panic(err)
	}
	if err := schema.RegisterEnum(Low, High); err != nil {
		panic(err)
	}
}

func generate(t *testing.T, typ *schema.Type) map[string]any {
	t.Helper()
	b, err := Generate(typ)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	return doc
}

// ============================================================
// Scalars
// ============================================================

func TestGenerate_Scalars(t *testing.T) {
	tests := []struct {
		name string
		typ  *schema.Type
		want map[string]any
	}{
		{"bool", schema.Scalar(schema.KindBool), map[string]any{"type": "boolean"}},
		{"none", schema.NoneType(), map[string]any{"type": "null"}},
		{"any", schema.AnyType(), map[string]any{}},
		{"datetime", schema.Scalar(schema.KindDateTime), map[string]any{"type": "string", "format": "date-time"}},
		{"uuid", schema.Scalar(schema.KindUUID), map[string]any{"type": "string", "format": "uuid"}},
		{"int bounds", schema.Scalar(schema.KindInt, schema.Meta{Ge: schema.IntBound(1), Lt: schema.IntBound(10)}),
			map[string]any{"type": "integer", "minimum": 1.0, "maximum": 10.0, "exclusiveMaximum": true}},
		{"float multiple", schema.Scalar(schema.KindFloat, schema.Meta{MultipleOf: schema.FloatBound(0.5)}),
			map[string]any{"type": "number", "multipleOf": 0.5}},
		{"str", schema.Scalar(schema.KindStr, schema.Meta{MinLength: schema.Ptr(2), MaxLength: schema.Ptr(4)}),
			map[string]any{"type": "string", "minLength": 2.0, "maxLength": 4.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generate(t, tt.typ))
		})
	}
}

func TestGenerate_Bytes(t *testing.T) {
	refs, _, err := Components([]*schema.Type{schema.Scalar(schema.KindBytes, schema.Meta{MaxLength: schema.Ptr(4)})}, "")
	require.NoError(t, err)
	sc := refs[0].Value
	assert.Equal(t, "string", sc.Type)
	assert.Equal(t, "byte", sc.Format)
	require.NotNil(t, sc.MaxLength)
	assert.Equal(t, uint64(8), *sc.MaxLength)
}

func TestGenerate_Unsupported(t *testing.T) {
	_, err := Generate(schema.ExtType())
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrSchema)

	custom := schema.CustomType(reflect.TypeFor[complex128]())
	_, err = Generate(custom)
	require.Error(t, err)

	b, err := Generate(custom, WithHook(func(*schema.Type) (*openapi3.Schema, bool) {
		return openapi3.NewStringSchema(), true
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"string"}`, string(b))
}

// ============================================================
// Containers and unions
// ============================================================

func TestGenerate_Containers(t *testing.T) {
	doc := generate(t, schema.SetOf(schema.Scalar(schema.KindInt), schema.Meta{MinLength: schema.Ptr(1)}))
	assert.Equal(t, map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "integer"},
		"uniqueItems": true,
		"minItems":    1.0,
	}, doc)

	doc = generate(t, schema.DictOf(schema.Scalar(schema.KindStr), schema.Scalar(schema.KindFloat)))
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, map[string]any{"type": "number"}, doc["additionalProperties"])
}

func TestGenerate_Literal(t *testing.T) {
	doc := generate(t, schema.LiteralOf("a", "b"))
	assert.Equal(t, map[string]any{"type": "string", "enum": []any{"a", "b"}}, doc)

	doc = generate(t, schema.LiteralOf(1, nil))
	require.Len(t, doc["anyOf"], 2)
}

func TestGenerate_Optional(t *testing.T) {
	doc := generate(t, schema.Optional(schema.Scalar(schema.KindStr)))
	assert.Equal(t, map[string]any{"anyOf": []any{
		map[string]any{"type": "string"},
		map[string]any{"type": "null"},
	}}, doc)
}

func TestGenerate_TaggedUnion(t *testing.T) {
	typ := schema.MustFor[Shape]()
	refs, defs, err := Components([]*schema.Type{typ}, "")
	require.NoError(t, err)

	root := refs[0].Value
	require.NotNil(t, root.Discriminator)
	assert.Equal(t, "kind", root.Discriminator.PropertyName)
	assert.Equal(t, map[string]string{
		"Circle": "#/components/schemas/Circle",
		"Square": "#/components/schemas/Square",
	}, root.Discriminator.Mapping)
	require.Len(t, root.OneOf, 2)

	circle := defs["Circle"].Value
	assert.Equal(t, []string{"kind", "radius"}, circle.Required)
	assert.Equal(t, []any{"Circle"}, circle.Properties["kind"].Value.Enum)
	require.NotNil(t, circle.Properties["radius"].Value.Min)
	assert.Equal(t, 0.0, *circle.Properties["radius"].Value.Min)
}

func TestGenerate_MixedUnion(t *testing.T) {
	typ := schema.UnionOf(schema.MustFor[Shape](), schema.Scalar(schema.KindInt))
	refs, _, err := Components([]*schema.Type{typ}, "")
	require.NoError(t, err)
	root := refs[0].Value
	require.Len(t, root.AnyOf, 2)
	assert.NotNil(t, root.AnyOf[0].Value.Discriminator)
	assert.Equal(t, "integer", root.AnyOf[1].Value.Type)
}

// ============================================================
// Components
// ============================================================

func TestGenerate_Struct(t *testing.T) {
	doc := generate(t, schema.MustFor[Customer]())
	assert.Equal(t, "#/$defs/Customer", doc["$ref"])

	defs := doc["$defs"].(map[string]any)
	require.Contains(t, defs, "Customer")
	require.Contains(t, defs, "Address")

	customer := defs["Customer"].(map[string]any)
	assert.Equal(t, "object", customer["type"])
	assert.Equal(t, "Customer", customer["title"])
	assert.Equal(t, []any{"id", "name"}, customer["required"])

	props := customer["properties"].(map[string]any)
	id := props["id"].(map[string]any)
	assert.Equal(t, 0.0, id["minimum"])
	assert.Equal(t, true, id["exclusiveMinimum"])
	tags := props["tags"].(map[string]any)
	assert.Equal(t, 8.0, tags["maxItems"])

	address := defs["Address"].(map[string]any)
	street := address["properties"].(map[string]any)["street"].(map[string]any)
	assert.Equal(t, 1.0, street["minLength"])
	zip := address["properties"].(map[string]any)["zip"].(map[string]any)
	assert.Equal(t, "^[0-9]{5}$", zip["pattern"])
	assert.Equal(t, "", zip["default"])
}

func TestGenerate_Recursive(t *testing.T) {
	_, defs, err := Components([]*schema.Type{schema.MustFor[Tree]()}, "")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	children := defs["Tree"].Value.Properties["children"].Value
	if len(children.AllOf) == 1 {
		children = children.AllOf[0].Value
	}
	assert.Equal(t, "array", children.Type)
	var refs []string
	for _, m := range children.Items.Value.AnyOf {
		refs = append(refs, m.Ref)
	}
	assert.Contains(t, refs, "#/components/schemas/Tree")
}

func TestGenerate_Enum(t *testing.T) {
	doc := generate(t, schema.ListOf(schema.MustFor[Level]()))
	items := doc["items"].(map[string]any)
	assert.Equal(t, "#/$defs/Level", items["$ref"])
	level := doc["$defs"].(map[string]any)["Level"].(map[string]any)
	assert.Equal(t, []any{1.0, 2.0}, level["enum"])
	assert.Equal(t, "integer", level["type"])
}

func TestGenerate_NamedTuple(t *testing.T) {
	pair := schema.NamedTupleOf("Pair",
		schema.NewField("left", schema.Scalar(schema.KindInt)),
		schema.NewField("right", schema.Scalar(schema.KindInt)).WithDefault(int64(0)),
	)
	_, defs, err := Components([]*schema.Type{pair}, "")
	require.NoError(t, err)
	sc := defs["Pair"].Value
	assert.Equal(t, "array", sc.Type)
	assert.Equal(t, uint64(1), sc.MinItems)
	prefix, ok := sc.Extensions["prefixItems"].(openapi3.SchemaRefs)
	require.True(t, ok)
	require.Len(t, prefix, 2)
	assert.Equal(t, int64(0), prefix[1].Value.Default)
}

func TestGenerate_Metadata(t *testing.T) {
	typ := schema.Annotated(schema.Scalar(schema.KindInt), schema.Meta{
		Title:           "Port",
		Description:     "TCP port",
		Examples:        []any{8080},
		ExtraJSONSchema: map[string]any{"x-unit": "port"},
		Le:              schema.IntBound(65535),
	})
	refs, _, err := Components([]*schema.Type{typ}, "")
	require.NoError(t, err)
	sc := refs[0].Value
	assert.Equal(t, "Port", sc.Title)
	assert.Equal(t, "TCP port", sc.Description)
	assert.Equal(t, int64(8080), sc.Example)
	assert.Equal(t, "port", sc.Extensions["x-unit"])
	require.NotNil(t, sc.Max)
	assert.Equal(t, 65535.0, *sc.Max)

	// annotations on a component wrap its ref
	wrapped := schema.Annotated(schema.MustFor[Address](), schema.Meta{Description: "shipping"})
	refs, _, err = Components([]*schema.Type{wrapped}, "")
	require.NoError(t, err)
	require.Len(t, refs[0].Value.AllOf, 1)
	assert.Equal(t, "#/components/schemas/Address", refs[0].Value.AllOf[0].Ref)
	assert.Equal(t, "shipping", refs[0].Value.Description)
}

func TestComponents_SharedNames(t *testing.T) {
	a := schema.TypedDictOf("Item", schema.NewField("a", schema.Scalar(schema.KindInt)))
	b := schema.TypedDictOf("Item", schema.NewField("b", schema.Scalar(schema.KindStr)))
	refs, defs, err := Components([]*schema.Type{a, b, a}, "#/definitions/{name}")
	require.NoError(t, err)
	assert.Equal(t, "#/definitions/Item", refs[0].Ref)
	assert.Equal(t, "#/definitions/Item2", refs[1].Ref)
	assert.Equal(t, refs[0].Ref, refs[2].Ref)
	assert.Len(t, defs, 2)
}

func TestDocument(t *testing.T) {
	doc, err := Document("shop", "1.0.0", schema.MustFor[Customer]())
	require.NoError(t, err)
	assert.Equal(t, "shop", doc.Info.Title)
	assert.Contains(t, doc.Components.Schemas, "Customer")
	assert.Contains(t, doc.Components.Schemas, "Address")

	b, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"#/components/schemas/Address"`)
}
