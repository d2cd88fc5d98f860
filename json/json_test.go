package json

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neumenon/typewire"
	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Fixtures
// ============================================================

type Person struct {
	First   string `tw:"first"`
	Last    string `tw:"last"`
	Age     int    `tw:"age"`
	Retired bool   `tw:"retired,optional"`
}

func (Person) StructOptions() schema.StructOptions {
	return schema.StructOptions{OmitDefaults: true}
}

type Request interface{ isRequest() }

type Get struct {
	Key string `tw:"key"`
}

func (Get) StructOptions() schema.StructOptions { return schema.StructOptions{Tagged: true} }
func (Get) isRequest()                          {}

type Put struct {
	Key string `tw:"key"`
	Val int    `tw:"val"`
}

func (Put) StructOptions() schema.StructOptions { return schema.StructOptions{Tagged: true} }
func (Put) isRequest()                          {}

type Point struct {
	X int `tw:"x"`
	Y int `tw:"y"`
}

func (Point) StructOptions() schema.StructOptions {
	return schema.StructOptions{ArrayLike: true}
}

type Strict struct {
	A int `tw:"a"`
}

func (Strict) StructOptions() schema.StructOptions {
	return schema.StructOptions{ForbidUnknownFields: true}
}

type Order struct {
	ID    int      `tw:"id"`
	Items []Item   `tw:"items"`
	Notes []string `tw:"notes,optional"`
}

type Item struct {
	SKU   string `tw:"sku"`
	Count int    `tw:"count" meta:"ge=1"`
}

type Node struct {
	Value    int     `tw:"value"`
	Children []*Node `tw:"children,optional"`
}

func init() {
	if err := schema.RegisterUnionOf[Request](Get{}, Put{}); err != nil {
		panic(err)
	}
}

func mustEncode(t *testing.T, v any, opts ...Option) string {
	t.Helper()
	b, err := Encode(v, opts...)
	require.NoError(t, err)
	return string(b)
}

// ============================================================
// Encoding
// ============================================================

func TestEncode_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, "null"},
		{"true", true, "true"},
		{"int", -42, "-42"},
		{"uint", uint64(math.MaxUint64), "18446744073709551615"},
		{"float", 1.5, "1.5"},
		{"integral float", 2.0, "2.0"},
		{"large float", 1e20, "1e+20"},
		{"small float", 1e-7, "1e-7"},
		{"nan", math.NaN(), "null"},
		{"inf", math.Inf(1), "null"},
		{"string", "a\"b\\c\n", `"a\"b\\c\n"`},
		{"control", "\x01", `"\u0001"`},
		{"unicode", "héllo", `"héllo"`},
		{"bytes", []byte("hi"), `"aGk="`},
		{"datetime", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), `"2024-01-02T03:04:05Z"`},
		{"date", schema.Date{Year: 2024, Month: 2, Day: 29}, `"2024-02-29"`},
		{"duration", 90 * time.Second, `"PT90S"`},
		{"uuid", uuid.MustParse("7f4a1b52-7c8f-4c1e-9a61-1c2d3e4f5a6b"), `"7f4a1b52-7c8f-4c1e-9a61-1c2d3e4f5a6b"`},
		{"raw", schema.Raw(`{"pre":1}`), `{"pre":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustEncode(t, tt.in))
		})
	}
}

func TestEncode_Containers(t *testing.T) {
	assert.Equal(t, `[1,"a",null]`, mustEncode(t, []any{1, "a", nil}))
	assert.Equal(t, `[]`, mustEncode(t, []int{}))
	assert.Equal(t, `{"a":1,"b":2}`, mustEncode(t, map[string]int{"b": 2, "a": 1}, WithOrder(typewire.OrderDeterministic)))
	assert.Equal(t, `{"1":"x","2":"y"}`, mustEncode(t, map[int]string{2: "y", 1: "x"}, WithOrder(typewire.OrderSorted)))
	assert.Equal(t, `[1,2,3]`, mustEncode(t, map[int]struct{}{3: {}, 1: {}, 2: {}}, WithOrder(typewire.OrderSorted)))
}

func TestEncode_Structs(t *testing.T) {
	assert.Equal(t, `{"first":"harry","last":"potter","age":13}`,
		mustEncode(t, Person{First: "harry", Last: "potter", Age: 13}))
	assert.Equal(t, `{"first":"harry","last":"potter","age":13,"retired":true}`,
		mustEncode(t, Person{First: "harry", Last: "potter", Age: 13, Retired: true}))
	assert.Equal(t, `{"type":"Put","key":"k","val":3}`, mustEncode(t, Put{Key: "k", Val: 3}))
	assert.Equal(t, `[1,2]`, mustEncode(t, Point{X: 1, Y: 2}))
	assert.Equal(t, `{"age":13,"first":"harry","last":"potter"}`,
		mustEncode(t, Person{First: "harry", Last: "potter", Age: 13}, WithOrder(typewire.OrderSorted)))
}

func TestEncode_Formats(t *testing.T) {
	u := uuid.MustParse("7f4a1b52-7c8f-4c1e-9a61-1c2d3e4f5a6b")
	assert.Equal(t, `"7f4a1b527c8f4c1e9a611c2d3e4f5a6b"`, mustEncode(t, u, WithUUIDFormat(typewire.UUIDHex)))

	d, err := schema.ParseDecimal("1.250")
	require.NoError(t, err)
	assert.Equal(t, `"1.250"`, mustEncode(t, d))
	assert.Equal(t, `1.250`, mustEncode(t, d, WithDecimalFormat(typewire.DecimalNumber)))

	_, err = Encode(u, WithUUIDFormat(typewire.UUIDBytes))
	assert.ErrorIs(t, err, schema.ErrUnsupported)
}

func TestEncode_Errors(t *testing.T) {
	t.Run("unsupported type", func(t *testing.T) {
		_, err := Encode(make(chan int))
		require.Error(t, err)
		assert.ErrorIs(t, err, schema.ErrEncode)
		assert.Contains(t, err.Error(), "Encoding objects of type chan int is unsupported")
	})
	t.Run("enc hook", func(t *testing.T) {
		hook := func(v any) (any, error) {
			if c, ok := v.(complex128); ok {
				return []float64{real(c), imag(c)}, nil
			}
			return nil, errors.New("no")
		}
		assert.Equal(t, `[1.0,2.0]`, mustEncode(t, complex(1, 2), WithEncHook(hook)))
	})
	t.Run("ext", func(t *testing.T) {
		_, err := Encode(schema.Ext{Code: 1, Data: []byte{1}})
		assert.ErrorIs(t, err, schema.ErrUnsupported)
	})
	t.Run("bool key", func(t *testing.T) {
		_, err := Encode(map[bool]int{true: 1})
		assert.ErrorIs(t, err, schema.ErrEncode)
	})
	t.Run("cycle", func(t *testing.T) {
		m := map[string]any{}
		m["self"] = m
		_, err := Encode(m)
		require.Error(t, err)
		assert.ErrorIs(t, err, schema.ErrRecursion)
	})
	t.Run("mixed sorted keys", func(t *testing.T) {
		_, err := Encode(map[any]int{"a": 1, 2: 2}, WithOrder(typewire.OrderSorted))
		assert.ErrorIs(t, err, schema.ErrEncode)
	})
}

func TestEncodeInto(t *testing.T) {
	enc := NewEncoder()

	buf := []byte("xxxx")
	require.NoError(t, enc.EncodeInto(1, &buf, 0))
	assert.Equal(t, "1", string(buf))

	buf = []byte("ab")
	require.NoError(t, enc.EncodeInto(1, &buf, -1))
	assert.Equal(t, "ab1", string(buf))

	buf = []byte("ab")
	require.NoError(t, enc.EncodeInto("c", &buf, 4))
	assert.Equal(t, []byte{'a', 'b', 0, 0, '"', 'c', '"'}, buf)
	assert.Len(t, buf, 4+3)

	buf = []byte("abcdef")
	require.NoError(t, enc.EncodeInto(7, &buf, 2))
	assert.Equal(t, "ab7", string(buf))
}

func TestEncodeInto_Failure(t *testing.T) {
	enc := NewEncoder()
	backing := []byte("abcdefgh")
	for _, offset := range []int{-1, 1, 4} {
		buf := backing[:2]
		err := enc.EncodeInto([]any{1, "x", make(chan int)}, &buf, offset)
		require.Error(t, err)
		assert.Equal(t, "ab", string(buf))
		assert.Equal(t, "abcdefgh", string(backing), "offset %d", offset)
	}
}

func TestEncodeLines(t *testing.T) {
	out, err := NewEncoder().EncodeLines([]Point{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, "[1,2]\n[3,4]\n", string(out))

	pts, err := mustDecoder[Point](t).DecodeLines(out)
	require.NoError(t, err)
	assert.Equal(t, []Point{{1, 2}, {3, 4}}, pts)
}

// ============================================================
// Decoding
// ============================================================

func mustDecoder[T any](t *testing.T, opts ...Option) *Decoder[T] {
	t.Helper()
	d, err := NewDecoder[T](opts...)
	require.NoError(t, err)
	return d
}

func TestDecode_Any(t *testing.T) {
	v, err := Decode[any]([]byte(` {"a": [1, 2.5, "x", true, null], "b": {"c": -1}} `))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": []any{int64(1), 2.5, "x", true, nil},
		"b": map[string]any{"c": int64(-1)},
	}, v)

	v, err = Decode[any]([]byte(`18446744073709551615`))
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), v)

	v, err = Decode[any]([]byte(`123456789012345678901234567890`))
	require.NoError(t, err)
	assert.IsType(t, float64(0), v)
}

func TestDecode_NumberOutOfRange(t *testing.T) {
	for _, in := range []string{`1e400`, `-1e400`, "1" + strings.Repeat("0", 400), "-1" + strings.Repeat("0", 400)} {
		_, err := Decode[any]([]byte(in))
		require.Error(t, err, in[:5])
		var de *schema.DecodeError
		require.True(t, errors.As(err, &de), in[:5])
		assert.Equal(t, "Number out of range", de.Msg)
		assert.Equal(t, 0, de.Pos)
	}
}

func TestDecode_Strings(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"plain"`, "plain"},
		{`"a\nb\t\"c\"\\\/"`, "a\nb\t\"c\"\\/"},
		{`"é"`, "é"},
		{`"😀"`, "😀"},
	}
	for _, tt := range tests {
		got, err := Decode[string]([]byte(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
	_, err := Decode[string]([]byte(`"\ud83d"`))
	assert.ErrorIs(t, err, schema.ErrDecode)
	_, err = Decode[string]([]byte(`"\ude00x"`))
	assert.ErrorIs(t, err, schema.ErrDecode)
}

func TestDecode_Malformed(t *testing.T) {
	for _, in := range []string{``, `[1,`, `[1,]`, `{"a" 1}`, `{"a":1,}`, `01`, `1.`, `-`, `tru`, `[1] x`, `{1:2}`, `"abc`, `[1 2]`} {
		_, err := Decode[any]([]byte(in))
		require.Error(t, err, in)
		assert.ErrorIs(t, err, schema.ErrDecode, in)
		var de *schema.DecodeError
		assert.True(t, errors.As(err, &de), in)
	}
}

func TestDecode_ValidationPaths(t *testing.T) {
	d := mustDecoder[Order](t)

	_, err := d.Decode([]byte(`{"id":1,"items":[{"sku":"a","count":1},{"sku":"b","count":"2"}]}`))
	require.Error(t, err)
	assert.Equal(t, "Expected `int`, got `str` - at `$.items[1].count`", err.Error())
	assert.ErrorIs(t, err, schema.ErrValidation)
	assert.ErrorIs(t, err, schema.ErrDecode)

	_, err = d.Decode([]byte(`{"id":1,"items":[{"sku":"a","count":0}]}`))
	require.Error(t, err)
	assert.Equal(t, "Expected `int` >= 1 - at `$.items[0].count`", err.Error())

	_, err = d.Decode([]byte(`{"items":[]}`))
	require.Error(t, err)
	assert.Equal(t, "Object missing required field `id`", err.Error())

	_, err = Decode[map[string]int]([]byte(`{"a":1,"b":"x"}`))
	require.Error(t, err)
	assert.Equal(t, "Expected `int`, got `str` - at `$[...]`", err.Error())

	_, err = Decode[map[int]int]([]byte(`{"x":1}`))
	require.Error(t, err)
	assert.Equal(t, "Expected `int`, got `str` - at `key in $`", err.Error())
}

func TestDecode_Structs(t *testing.T) {
	p, err := mustDecoder[Person](t).Decode([]byte(`{"last":"potter","age":13,"first":"harry","extra":[1,{"x":2}]}`))
	require.NoError(t, err)
	assert.Equal(t, Person{First: "harry", Last: "potter", Age: 13}, p)
	assert.Equal(t, `{"first":"harry","last":"potter","age":13}`, mustEncode(t, p))

	_, err = mustDecoder[Strict](t).Decode([]byte(`{"a":1,"b":2}`))
	require.Error(t, err)
	assert.Equal(t, "Object contains unknown field `b`", err.Error())

	pt, err := mustDecoder[Point](t).Decode([]byte(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, Point{1, 2}, pt)

	_, err = mustDecoder[Point](t).Decode([]byte(`[1]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected `array` of at least length 2, got 1")
}

func TestDecode_TaggedUnion(t *testing.T) {
	d := mustDecoder[Request](t)

	for _, in := range []string{`{"type":"Put","key":"k","val":3}`, `{"key":"k","val":3,"type":"Put"}`, `{"key":"k","type":"Put","val":3}`} {
		r, err := d.Decode([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, Put{Key: "k", Val: 3}, r, in)
	}

	r, err := d.Decode([]byte(`{"key":"a","type":"Get"}`))
	require.NoError(t, err)
	assert.Equal(t, Get{Key: "a"}, r)

	_, err = d.Decode([]byte(`{"type":"Del","key":"a"}`))
	require.Error(t, err)
	assert.Equal(t, "Invalid value 'Del' - at `$.type`", err.Error())

	_, err = d.Decode([]byte(`{"type":1,"key":"a"}`))
	require.Error(t, err)
	assert.Equal(t, "Expected `str`, got `int` - at `$.type`", err.Error())

	_, err = d.Decode([]byte(`{"key":"a"}`))
	require.Error(t, err)
	assert.Equal(t, "Object missing required field `type`", err.Error())
}

func TestDecode_StrictAndLax(t *testing.T) {
	_, err := Decode[int]([]byte(`"1"`))
	require.Error(t, err)
	assert.Equal(t, "Expected `int`, got `str`", err.Error())

	n, err := Decode[int]([]byte(`"1"`), WithStrict(false))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := Decode[bool]([]byte(`"TRUE"`), WithStrict(false))
	require.NoError(t, err)
	assert.True(t, b)

	_, err = Decode[int]([]byte(`1e40`))
	require.Error(t, err)
	_, err = Decode[int]([]byte(`123456789012345678901234567890`))
	require.Error(t, err)
	assert.Equal(t, "Expected `int`, got `float`", err.Error())

	_, err = Decode[int8]([]byte(`200`))
	require.Error(t, err)
	assert.Equal(t, "Expected `int` <= 127", err.Error())
}

func TestDecode_Recursion(t *testing.T) {
	deep := strings.Repeat("[", 10000) + strings.Repeat("]", 10000)
	_, err := Decode[any]([]byte(deep))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrRecursion)

	_, err = Decode[any]([]byte(deep), WithMaxDepth(20000))
	require.NoError(t, err)

	tree, err := mustDecoder[Node](t).Decode([]byte(`{"value":1,"children":[{"value":2},{"value":3,"children":[]}]}`))
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, 3, tree.Children[1].Value)
}

func TestDecode_Raw(t *testing.T) {
	type envelope struct {
		Kind string     `tw:"kind"`
		Body schema.Raw `tw:"body"`
	}
	env, err := Decode[envelope]([]byte(`{"kind":"x","body": {"a":[1,2]} }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,2]}`, string(env.Body))

	out := mustEncode(t, env)
	assert.Equal(t, `{"kind":"x","body":{"a":[1,2]}}`, out)
}

func TestDecode_TimeKinds(t *testing.T) {
	tm, err := Decode[time.Time]([]byte(`"2024-01-02T03:04:05.5+02:00"`))
	require.NoError(t, err)
	assert.Equal(t, int64(1704157445), tm.Unix())

	_, err = Decode[time.Time]([]byte(`"2024-13-02T03:04:05Z"`))
	require.Error(t, err)
	assert.Equal(t, "Invalid RFC3339 encoded datetime", err.Error())

	dur, err := Decode[time.Duration]([]byte(`"PT1M30S"`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, dur)

	_, err = Decode[uuid.UUID]([]byte(`"nope"`))
	require.Error(t, err)
	assert.Equal(t, "Invalid UUID", err.Error())

	_, err = Decode[[]byte]([]byte(`"***"`))
	require.Error(t, err)
	assert.Equal(t, "Invalid base64 encoded string", err.Error())
}

// ============================================================
// Format
// ============================================================

func TestFormat(t *testing.T) {
	in := []byte(` { "a" : [1, 2.50, "x\n"], "b" : {} , "c": [] } `)

	out, err := Format(in, -1)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,2.50,"x\n"],"b":{},"c":[]}`, string(out))

	out, err = Format(in, 0)
	require.NoError(t, err)
	assert.Equal(t, `{"a": [1, 2.50, "x\n"], "b": {}, "c": []}`, string(out))

	out, err = Format(in, 2)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": [\n    1,\n    2.50,\n    \"x\\n\"\n  ],\n  \"b\": {},\n  \"c\": []\n}", string(out))

	_, err = Format([]byte(`{"a":}`), 2)
	assert.ErrorIs(t, err, schema.ErrDecode)
}

// ============================================================
// Hooks
// ============================================================

// Cents is coded only through hooks.
type Cents struct{ n int64 }

type Invoice struct {
	Total Cents `tw:"total"`
}

func init() {
	schema.RegisterCustom(reflect.TypeOf(Cents{}))
}

func TestDecode_DecHook(t *testing.T) {
	errLedger := errors.New("ledger offline")
	parse := func(typ reflect.Type, v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("cents must be a string: %w", schema.ErrTypeMismatch)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errLedger
		}
		return Cents{n: n}, nil
	}
	tests := []struct {
		name    string
		in      string
		want    Invoice
		wantErr string
		plain   error
	}{
		{name: "ok", in: `{"total":"1250"}`, want: Invoice{Total: Cents{n: 1250}}},
		{name: "type mismatch", in: `{"total":12}`, wantErr: "cents must be a string: type mismatch - at `$.total`"},
		{name: "other error", in: `{"total":"many"}`, plain: errLedger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode[Invoice]([]byte(tt.in), WithDecHook(parse))
			switch {
			case tt.wantErr != "":
				require.Error(t, err)
				assert.ErrorIs(t, err, schema.ErrValidation)
				assert.ErrorIs(t, err, schema.ErrTypeMismatch)
				assert.Equal(t, tt.wantErr, err.Error())
			case tt.plain != nil:
				require.Error(t, err)
				assert.Same(t, tt.plain, err)
				assert.NotErrorIs(t, err, schema.ErrValidation)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}

	_, err := Decode[Invoice]([]byte(`{"total":"1"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrValidation)
}
