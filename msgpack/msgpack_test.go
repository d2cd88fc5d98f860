package msgpack

import (
	"errors"
	"fmt"
	"math"
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

type Shape interface{ area() float64 }

type Circle struct {
	R float64 `tw:"r"`
}

func (Circle) StructOptions() schema.StructOptions {
	return schema.StructOptions{Tag: 1, ArrayLike: true}
}
func (c Circle) area() float64 { return math.Pi * c.R * c.R }

type Rect struct {
	W float64 `tw:"w"`
	H float64 `tw:"h"`
}

func (Rect) StructOptions() schema.StructOptions {
	return schema.StructOptions{Tag: 2, ArrayLike: true}
}
func (r Rect) area() float64 { return r.W * r.H }

type Event struct {
	ID   uuid.UUID         `tw:"id"`
	At   time.Time         `tw:"at"`
	Tags map[string]string `tw:"tags,optional"`
	Data []byte            `tw:"data,optional"`
}

func init() {
	if err := schema.RegisterUnionOf[Shape](Circle{}, Rect{}); err != nil {
		panic(err)
	}
}

func mustEncode(t *testing.T, v any, opts ...Option) []byte {
	t.Helper()
	b, err := Encode(v, opts...)
	require.NoError(t, err)
	return b
}

// ============================================================
// Encoding
// ============================================================

func TestEncode_SmallestForms(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []byte
	}{
		{"nil", nil, []byte{0xc0}},
		{"false", false, []byte{0xc2}},
		{"true", true, []byte{0xc3}},
		{"fixint", 5, []byte{0x05}},
		{"negfixint", -1, []byte{0xff}},
		{"int8", -100, []byte{0xd0, 0x9c}},
		{"uint8", 200, []byte{0xcc, 0xc8}},
		{"uint16", 1000, []byte{0xcd, 0x03, 0xe8}},
		{"int16", -1000, []byte{0xd1, 0xfc, 0x18}},
		{"uint32", 1 << 20, []byte{0xce, 0x00, 0x10, 0x00, 0x00}},
		{"uint64", uint64(math.MaxUint64), []byte{0xcf, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{"float", 1.5, []byte{0xcb, 0x3f, 0xf8, 0, 0, 0, 0, 0, 0}},
		{"fixstr", "abc", []byte{0xa3, 'a', 'b', 'c'}},
		{"bin", []byte{1, 2}, []byte{0xc4, 0x02, 1, 2}},
		{"fixarray", []int{1, 2}, []byte{0x92, 0x01, 0x02}},
		{"fixmap", map[string]int{"a": 1}, []byte{0x81, 0xa1, 'a', 0x01}},
		{"fixext1", schema.Ext{Code: 5, Data: []byte{9}}, []byte{0xd4, 0x05, 0x09}},
		{"ext8", schema.Ext{Code: 5, Data: []byte{1, 2, 3}}, []byte{0xc7, 0x03, 0x05, 1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustEncode(t, tt.in))
		})
	}
}

func TestEncode_LongForms(t *testing.T) {
	s := strings.Repeat("x", 40)
	b := mustEncode(t, s)
	assert.Equal(t, []byte{0xd9, 40}, b[:2])

	arr := make([]int, 20)
	b = mustEncode(t, arr)
	assert.Equal(t, []byte{0xdc, 0, 20}, b[:3])
}

func TestEncode_Timestamps(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		head []byte
		size int
	}{
		{"32-bit", time.Unix(1700000000, 0).UTC(), []byte{0xd6, 0xff}, 6},
		{"64-bit", time.Unix(1700000000, 500).UTC(), []byte{0xd7, 0xff}, 10},
		{"96-bit", time.Unix(-1, 0).UTC(), []byte{0xc7, 12, 0xff}, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustEncode(t, tt.in)
			assert.Len(t, b, tt.size)
			assert.Equal(t, tt.head, b[:len(tt.head)])

			got, err := Decode[time.Time](b)
			require.NoError(t, err)
			assert.True(t, tt.in.Equal(got), "got %v", got)
		})
	}

	naive := time.Date(2024, 1, 2, 3, 4, 5, 0, schema.Naive)
	b := mustEncode(t, naive)
	assert.Equal(t, byte(0xa0|19), b[0])
}

func TestEncode_UUIDFormats(t *testing.T) {
	u := uuid.MustParse("7f4a1b52-7c8f-4c1e-9a61-1c2d3e4f5a6b")

	b := mustEncode(t, u, WithUUIDFormat(typewire.UUIDBytes))
	assert.Equal(t, append([]byte{0xc4, 16}, u[:]...), b)
	got, err := Decode[uuid.UUID](b)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	b = mustEncode(t, u)
	got, err = Decode[uuid.UUID](b)
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestEncodeInto(t *testing.T) {
	enc := NewEncoder()
	buf := []byte{0xAA}
	require.NoError(t, enc.EncodeInto(1, &buf, -1))
	assert.Equal(t, []byte{0xAA, 0x01}, buf)

	require.NoError(t, enc.EncodeInto(2, &buf, 3))
	assert.Equal(t, []byte{0xAA, 0x01, 0x00, 0x02}, buf)
}

// ============================================================
// Decoding
// ============================================================

func TestRoundTrip_Struct(t *testing.T) {
	ev := Event{
		ID:   uuid.MustParse("7f4a1b52-7c8f-4c1e-9a61-1c2d3e4f5a6b"),
		At:   time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.UTC),
		Tags: map[string]string{"env": "prod"},
		Data: []byte{0, 1, 2},
	}
	b := mustEncode(t, ev)
	got, err := Decode[Event](b)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.True(t, ev.At.Equal(got.At))
	assert.Equal(t, ev.Tags, got.Tags)
	assert.Equal(t, ev.Data, got.Data)
}

func TestDecode_Any(t *testing.T) {
	b := mustEncode(t, []any{int64(1), "a", nil, true, 2.5, []byte{7}, map[string]any{"k": int64(-3)}})
	v, err := Decode[any](b)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "a", nil, true, 2.5, []byte{7}, map[string]any{"k": int64(-3)}}, v)

	// non-string keys
	b = mustEncode(t, map[int]string{1: "a"})
	v, err = Decode[any](b)
	require.NoError(t, err)
	assert.Equal(t, map[any]any{int64(1): "a"}, v)

	// array keys become Go arrays
	v, err = Decode[any]([]byte{0x81, 0x92, 0x01, 0x02, 0xc3})
	require.NoError(t, err)
	assert.Equal(t, map[any]any{[2]any{int64(1), int64(2)}: true}, v)
}

func TestDecode_Ext(t *testing.T) {
	raw := []byte{0xd4, 0x05, 0x09}
	v, err := Decode[any](raw)
	require.NoError(t, err)
	assert.Equal(t, schema.Ext{Code: 5, Data: []byte{9}}, v)

	hook := func(code int8, data []byte) (any, error) {
		return int(code) * 100, nil
	}
	v, err = Decode[any](raw, WithExtHook(hook))
	require.NoError(t, err)
	assert.Equal(t, 500, v)
}

func TestDecode_ExtHookErrors(t *testing.T) {
	// [ext(5, 0x09)]
	raw := []byte{0x91, 0xd4, 0x05, 0x09}
	errCodec := errors.New("codec not loaded")
	tests := []struct {
		name    string
		hookErr error
		wantErr string
	}{
		{"ok", nil, ""},
		{"type mismatch", fmt.Errorf("ext %d: %w", 5, schema.ErrTypeMismatch), "ext 5: type mismatch - at `$[0]`"},
		{"other error", errCodec, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := func(code int8, data []byte) (any, error) {
				if tt.hookErr != nil {
					return nil, tt.hookErr
				}
				return int(code), nil
			}
			v, err := Decode[[]any](raw, WithExtHook(hook))
			switch {
			case tt.wantErr != "":
				require.Error(t, err)
				assert.ErrorIs(t, err, schema.ErrValidation)
				assert.Equal(t, tt.wantErr, err.Error())
			case tt.hookErr != nil:
				require.Error(t, err)
				assert.Same(t, errCodec, err)
				assert.NotErrorIs(t, err, schema.ErrValidation)
			default:
				require.NoError(t, err)
				assert.Equal(t, []any{5}, v)
			}
		})
	}
}

func TestDecode_TaggedArrayUnion(t *testing.T) {
	d, err := NewDecoder[Shape]()
	require.NoError(t, err)

	b := mustEncode(t, Rect{W: 2, H: 3})
	assert.Equal(t, byte(0x93), b[0])
	assert.Equal(t, byte(0x02), b[1])

	s, err := d.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, Rect{W: 2, H: 3}, s)
	assert.InDelta(t, 6.0, s.area(), 1e-9)

	_, err = d.Decode([]byte{0x92, 0x07, 0xcb, 0, 0, 0, 0, 0, 0, 0, 0})
	require.Error(t, err)
	assert.Equal(t, "Invalid value 7 - at `$[0]`", err.Error())
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"reserved opcode", []byte{0xc1}},
		{"truncated str", []byte{0xa3, 'a'}},
		{"truncated array", []byte{0x92, 0x01}},
		{"huge array header", []byte{0xdd, 0xff, 0xff, 0xff, 0xff}},
		{"bad utf-8", []byte{0xa1, 0xff}},
		{"trailing", []byte{0x01, 0x02}},
		{"bad timestamp", []byte{0xd5, 0xff, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode[any](tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, schema.ErrDecode)
		})
	}

	_, err := Decode[string]([]byte{0x01})
	require.Error(t, err)
	assert.Equal(t, "Expected `str`, got `int`", err.Error())

	_, err = Decode[uint8]([]byte{0xff})
	require.Error(t, err)
	assert.Equal(t, "Expected `int` >= 0", err.Error())
}

func TestDecode_Recursion(t *testing.T) {
	deep := make([]byte, 0, 5000)
	for i := 0; i < 4999; i++ {
		deep = append(deep, 0x91)
	}
	deep = append(deep, 0xc0)
	_, err := Decode[any](deep)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrRecursion)
}
