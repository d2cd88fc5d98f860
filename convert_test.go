package typewire

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Fixtures
// ============================================================

type account struct {
	ID      int64     `tw:"id"`
	Owner   string    `tw:"owner"`
	Balance float64   `tw:"balance,optional"`
	Opened  time.Time `tw:"opened,optional"`
}

type accountRow struct {
	ID    int64
	Owner string
	Extra string
}

type lazyRow struct {
	vals map[string]any
}

func (r *lazyRow) GetField(name string) (any, bool) {
	v, ok := r.vals[name]
	return v, ok
}

// celsius is coded only through hooks.
type celsius struct{ deg float64 }

type reading struct {
	Temp celsius `tw:"temp"`
}

// ping and pong are hook-coded types whose encode hook maps each onto the
// other.
type ping struct{}
type pong struct{}

func init() {
	schema.RegisterCustom(reflect.TypeOf(celsius{}))
	schema.RegisterCustom(reflect.TypeOf(ping{}))
	schema.RegisterCustom(reflect.TypeOf(pong{}))
}

// ============================================================
// Convert
// ============================================================

func TestConvert_Mapping(t *testing.T) {
	got, err := Convert[account](map[string]any{"id": 7, "owner": "ada"})
	require.NoError(t, err)
	assert.Equal(t, account{ID: 7, Owner: "ada"}, got)

	_, err = Convert[account](map[string]any{"id": "7", "owner": "ada"})
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrValidation)
	assert.Equal(t, "Expected `int`, got `str` - at `$.id`", err.Error())

	_, err = Convert[account](map[string]any{"owner": "ada"})
	require.Error(t, err)
	assert.Equal(t, "Object missing required field `id`", err.Error())
}

func TestConvert_StrictAndLax(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int
	}{
		{"numeric string", "12", 12},
		{"integral float", 3.0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Convert[int](tt.in)
			require.Error(t, err)

			got, err := Convert[int](tt.in, WithStrict(false))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	b, err := Convert[bool]("true", WithStrict(false))
	require.NoError(t, err)
	assert.True(t, b)

	_, err = Convert[int]("twelve", WithStrict(false))
	require.Error(t, err)
}

func TestConvert_FromAttributes(t *testing.T) {
	row := accountRow{ID: 3, Owner: "bob", Extra: "ignored"}

	_, err := Convert[account](row)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrValidation)

	got, err := Convert[account](row, WithFromAttributes(true))
	require.NoError(t, err)
	assert.Equal(t, account{ID: 3, Owner: "bob"}, got)

	got, err = Convert[account](&lazyRow{vals: map[string]any{"ID": int64(4), "owner": "eve"}}, WithFromAttributes(true))
	require.NoError(t, err)
	assert.Equal(t, account{ID: 4, Owner: "eve"}, got)
}

func TestConvert_FromAttributesPaths(t *testing.T) {
	// the path names the attribute that was read
	_, err := Convert[account](&lazyRow{vals: map[string]any{"id": "oops"}}, WithFromAttributes(true))
	require.Error(t, err)
	assert.Equal(t, "Expected `int`, got `str` - at `$.id`", err.Error())

	_, err = Convert[account](&lazyRow{vals: map[string]any{"ID": "oops"}}, WithFromAttributes(true))
	require.Error(t, err)
	assert.Equal(t, "Expected `int`, got `str` - at `$.ID`", err.Error())
}

func TestConvert_DecHook(t *testing.T) {
	errBackend := errors.New("backend unavailable")
	tests := []struct {
		name    string
		hookErr error
		check   func(t *testing.T, err error)
	}{
		{"ok", nil, func(t *testing.T, err error) {
			require.NoError(t, err)
		}},
		{"type mismatch", fmt.Errorf("not a temperature: %w", schema.ErrTypeMismatch), func(t *testing.T, err error) {
			require.Error(t, err)
			assert.ErrorIs(t, err, schema.ErrValidation)
			assert.ErrorIs(t, err, schema.ErrTypeMismatch)
			assert.Equal(t, "not a temperature: type mismatch - at `$.temp`", err.Error())
		}},
		{"validation error", schema.Invalidf("too cold"), func(t *testing.T, err error) {
			require.Error(t, err)
			assert.Equal(t, "too cold - at `$.temp`", err.Error())
		}},
		{"other error", errBackend, func(t *testing.T, err error) {
			require.Error(t, err)
			assert.Equal(t, errBackend, err)
			assert.NotErrorIs(t, err, schema.ErrValidation)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := func(typ reflect.Type, v any) (any, error) {
				if tt.hookErr != nil {
					return nil, tt.hookErr
				}
				f, ok := v.(float64)
				if !ok {
					return nil, schema.ErrTypeMismatch
				}
				return celsius{deg: f}, nil
			}
			got, err := Convert[reading](map[string]any{"temp": 21.5}, WithDecHook(hook))
			tt.check(t, err)
			if err == nil {
				assert.Equal(t, reading{Temp: celsius{deg: 21.5}}, got)
			}
		})
	}
}

func TestConvert_BuiltinTypes(t *testing.T) {
	when := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	got, err := Convert[time.Time]("2024-03-04T05:06:07Z")
	require.NoError(t, err)
	assert.True(t, when.Equal(got))

	got, err = Convert[time.Time](when, WithBuiltinTypes(schema.KindDateTime))
	require.NoError(t, err)
	assert.True(t, when.Equal(got))

	_, err = Convert[time.Time]("2024-03-04T05:06:07Z", WithBuiltinTypes(schema.KindDateTime))
	require.Error(t, err)

	_, err = Convert[int](1, WithBuiltinTypes(schema.KindInt))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrSchema)
}

func TestConvertTo(t *testing.T) {
	td := schema.TypedDictOf("Pair",
		schema.NewField("a", schema.Scalar(schema.KindInt)),
		schema.NewField("b", schema.Scalar(schema.KindStr)).NotRequired(),
	)
	v, err := ConvertTo(map[string]any{"a": 1}, td)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1)}, v)
}

// ============================================================
// ToBuiltins
// ============================================================

func TestToBuiltins(t *testing.T) {
	id := uuid.MustParse("7f4a1b52-7c8f-4c1e-9a61-1c2d3e4f5a6b")
	in := map[string]any{
		"acct":  account{ID: 1, Owner: "ada", Balance: 2.5, Opened: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		"id":    id,
		"bytes": []byte("hi"),
	}
	got, err := ToBuiltins(in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"acct": map[string]any{
			"id":      int64(1),
			"owner":   "ada",
			"balance": 2.5,
			"opened":  "2024-01-02T03:04:05Z",
		},
		"id":    id.String(),
		"bytes": "aGk=",
	}, got)

	got, err = ToBuiltins(in, WithBuiltinTypes(schema.KindUUID, schema.KindBytes))
	require.NoError(t, err)
	m := got.(map[string]any)
	assert.Equal(t, id, m["id"])
	assert.Equal(t, []byte("hi"), m["bytes"])
}

func TestToBuiltins_Keys(t *testing.T) {
	got, err := ToBuiltins(map[int]string{1: "a"})
	require.NoError(t, err)
	assert.Equal(t, map[any]any{int64(1): "a"}, got)

	got, err = ToBuiltins(map[int]string{1: "a"}, WithStrKeys(true))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"1": "a"}, got)
}

func TestToBuiltins_Unsupported(t *testing.T) {
	_, err := ToBuiltins(make(chan int))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrEncode)

	hook := func(v any) (any, error) {
		if c, ok := v.(chan int); ok {
			return cap(c), nil
		}
		return nil, assert.AnError
	}
	got, err := ToBuiltins(make(chan int, 3), WithEncHook(hook))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}

func TestToBuiltins_EncHookCycle(t *testing.T) {
	hook := func(v any) (any, error) {
		switch v.(type) {
		case ping:
			return pong{}, nil
		case pong:
			return ping{}, nil
		}
		return nil, assert.AnError
	}
	_, err := ToBuiltins(ping{}, WithEncHook(hook))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrRecursion)
	assert.ErrorIs(t, err, schema.ErrEncode)

	_, err = ToBuiltins(ping{}, WithEncHook(hook), WithMaxDepth(8))
	assert.ErrorIs(t, err, schema.ErrRecursion)
}
