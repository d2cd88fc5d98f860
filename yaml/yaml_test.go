package yaml

import (
	"math"
	"strings"
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

type Service struct {
	Name     string            `tw:"name"`
	Replicas int               `tw:"replicas" meta:"ge=1"`
	Ports    []int             `tw:"ports,optional"`
	Labels   map[string]string `tw:"labels,optional"`
	Deployed time.Time         `tw:"deployed,optional"`
	Token    []byte            `tw:"token,optional"`
}

type Config struct {
	Version  int       `tw:"version"`
	Services []Service `tw:"services"`
}

// ============================================================
// Encoding
// ============================================================

func TestEncode_FieldOrder(t *testing.T) {
	type ordered struct {
		Zeta  int    `tw:"zeta"`
		Alpha string `tw:"alpha"`
		Mid   []int  `tw:"mid"`
	}
	b, err := Encode(ordered{Zeta: 1, Alpha: "a", Mid: []int{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, "zeta: 1\nalpha: a\nmid:\n  - 1\n  - 2\n", string(b))
}

func TestEncode_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, "null\n"},
		{"bool", true, "true\n"},
		{"int", -7, "-7\n"},
		{"float", 2.0, "2.0\n"},
		{"nan", math.NaN(), ".nan\n"},
		{"inf", math.Inf(-1), "-.inf\n"},
		{"numeric string", "123", "\"123\"\n"},
		{"bool string", "true", "\"true\"\n"},
		{"plain string", "hello", "hello\n"},
		{"date", schema.Date{Year: 2024, Month: time.May, Day: 1}, "2024-05-01\n"},
		{"aware datetime", time.Date(2024, 5, 1, 2, 3, 4, 0, time.UTC), "2024-05-01T02:03:04Z\n"},
		{"naive datetime", time.Date(2024, 5, 1, 2, 3, 4, 0, schema.Naive), "2024-05-01 02:03:04\n"},
		{"duration", 90 * time.Second, "PT90S\n"},
		{"uuid", uuid.MustParse("7f4a1b52-7c8f-4c1e-9a61-1c2d3e4f5a6b"), "7f4a1b52-7c8f-4c1e-9a61-1c2d3e4f5a6b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))
		})
	}
}

func TestEncode_Errors(t *testing.T) {
	_, err := Encode(schema.Ext{Code: 1, Data: []byte{1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrEncode)

	_, err = Encode(make(chan int))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrEncode)
}

func TestEncode_Raw(t *testing.T) {
	b, err := Encode(map[string]any{"payload": schema.Raw(`{"a": [1, 2]}`)})
	require.NoError(t, err)

	v, err := Decode[map[string]any](b)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"payload": map[string]any{"a": []any{int64(1), int64(2)}}}, v)
}

// ============================================================
// Decoding
// ============================================================

func TestRoundTrip(t *testing.T) {
	cfg := Config{
		Version: 2,
		Services: []Service{{
			Name:     "api",
			Replicas: 2,
			Ports:    []int{8080},
			Labels:   map[string]string{"tier": "web"},
			Deployed: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Token:    []byte{0xde, 0xad},
		}},
	}
	b, err := Encode(cfg)
	require.NoError(t, err)

	got, err := Decode[Config](b)
	require.NoError(t, err)
	require.Len(t, got.Services, 1)
	s := got.Services[0]
	assert.Equal(t, "api", s.Name)
	assert.Equal(t, []int{8080}, s.Ports)
	assert.Equal(t, map[string]string{"tier": "web"}, s.Labels)
	assert.True(t, cfg.Services[0].Deployed.Equal(s.Deployed))
	assert.Equal(t, []byte{0xde, 0xad}, s.Token)
}

func TestDecode_Any(t *testing.T) {
	doc := `
a: 1
b: 2.5
c: "x"
d: [true, null]
e: 2024-01-02T03:04:05Z
f: 2024-01-02
g: !!binary aGk=
1: int key
`
	v, err := Decode[any]([]byte(doc))
	require.NoError(t, err)
	m, ok := v.(map[any]any)
	require.True(t, ok, "got %T", v)
	assert.Equal(t, int64(1), m["a"])
	assert.Equal(t, 2.5, m["b"])
	assert.Equal(t, "x", m["c"])
	assert.Equal(t, []any{true, nil}, m["d"])
	assert.True(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Equal(m["e"].(time.Time)))
	assert.Equal(t, "2024-01-02", m["f"])
	assert.Equal(t, []byte("hi"), m["g"])
	assert.Equal(t, "int key", m[int64(1)])
}

func TestDecode_Validation(t *testing.T) {
	doc := `
version: 1
services:
  - name: api
    replicas: 0
`
	_, err := Decode[Config]([]byte(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrValidation)
	assert.Equal(t, "Expected `int` >= 1 - at `$.services[0].replicas`", err.Error())

	_, err = Decode[Config]([]byte("version: one\nservices: []\n"))
	require.Error(t, err)
	assert.Equal(t, "Expected `int`, got `str` - at `$.version`", err.Error())

	_, err = Decode[Config]([]byte("services: []\n"))
	require.Error(t, err)
	assert.Equal(t, "Object missing required field `version`", err.Error())
}

func TestDecode_StrictAndLax(t *testing.T) {
	_, err := Decode[int]([]byte(`"12"`))
	require.Error(t, err)

	n, err := Decode[int]([]byte(`"12"`), WithStrict(false))
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestDecode_AnchorsAndMerge(t *testing.T) {
	doc := `
defaults: &defaults
  replicas: 2
  labels: {tier: web}
services:
  - <<: *defaults
    name: api
  - <<: *defaults
    name: worker
    replicas: 5
`
	type file struct {
		Services []Service `tw:"services"`
	}
	got, err := Decode[file]([]byte(doc))
	require.NoError(t, err)
	require.Len(t, got.Services, 2)
	assert.Equal(t, 2, got.Services[0].Replicas)
	assert.Equal(t, map[string]string{"tier": "web"}, got.Services[0].Labels)
	assert.Equal(t, 5, got.Services[1].Replicas)
	assert.Equal(t, "worker", got.Services[1].Name)
}

func TestDecode_BigIntegers(t *testing.T) {
	u, err := Decode[uint64]([]byte("18446744073709551615"))
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), u)

	_, err = Decode[int64]([]byte("18446744073709551616"))
	require.Error(t, err)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode[any]([]byte("a: [1, 2\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrDecode)
	assert.True(t, strings.HasPrefix(err.Error(), "YAML is malformed: "))
}

func TestDecodeAll(t *testing.T) {
	d, err := NewDecoder[Service]()
	require.NoError(t, err)

	stream := "name: a\nreplicas: 1\n---\nname: b\nreplicas: 2\n"
	got, err := d.DecodeAll(strings.NewReader(stream))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Name)

	_, err = d.DecodeAll(strings.NewReader("name: a\nreplicas: 1\n---\nname: b\nreplicas: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document 1")
	assert.ErrorIs(t, err, schema.ErrValidation)
}
