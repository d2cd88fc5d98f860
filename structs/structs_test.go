package structs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Fixtures
// ============================================================

type Point struct {
	X int `tw:"x"`
	Y int `tw:"y"`
}

func (Point) StructOptions() schema.StructOptions {
	return schema.StructOptions{Order: true, Frozen: true}
}

type User struct {
	Name   string   `tw:"name"`
	Email  string   `tw:"email,optional"`
	Groups []string `tw:"groups"`
	Admin  bool     `tw:"admin,kwonly" default:"false"`
}

func (User) StructOptions() schema.StructOptions {
	return schema.StructOptions{
		Factories: map[string]func() any{
			"Groups": func() any { return []string{"users"} },
		},
	}
}

type Span struct {
	Start int `tw:"start"`
	End   int `tw:"end"`
}

func (s *Span) PostInit() error {
	if s.End < s.Start {
		return errors.New("end before start")
	}
	return nil
}

// ============================================================
// Construction
// ============================================================

func TestNew(t *testing.T) {
	u, err := New[User]([]any{"ada"}, map[string]any{"Admin": true})
	require.NoError(t, err)
	assert.Equal(t, User{Name: "ada", Groups: []string{"users"}, Admin: true}, u)

	// factories return fresh values per instance
	v, err := New[User]([]any{"bob"}, nil)
	require.NoError(t, err)
	v.Groups[0] = "changed"
	w, err := New[User]([]any{"eve"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, w.Groups)

	p, err := New[Point]([]any{int64(1)}, map[string]any{"Y": 2})
	require.NoError(t, err)
	assert.Equal(t, Point{X: 1, Y: 2}, p)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		pos  []any
		kw   map[string]any
		want string
	}{
		{"extra positional", []any{"a", "b", []string{}, true}, nil, "Extra positional arguments provided: User takes at most 3, got 4"},
		{"name and position", []any{"a"}, map[string]any{"Name": "b"}, "Argument 'Name' given by name and position"},
		{"missing", nil, nil, "Missing required argument 'Name'"},
		{"unexpected", []any{"a"}, map[string]any{"Nope": 1}, "Unexpected keyword argument 'Nope'"},
		{"wrong type", []any{1}, nil, "Invalid type for argument 'Name': got int, expected string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New[User](tt.pos, tt.kw)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}

	_, err := New[int](nil, nil)
	assert.ErrorIs(t, err, schema.ErrSchema)
}

func TestNew_PostInit(t *testing.T) {
	_, err := New[Span]([]any{5, 1}, nil)
	require.Error(t, err)
	assert.Equal(t, "end before start", err.Error())

	s, err := New[Span]([]any{1, 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, Span{Start: 1, End: 5}, s)
}

func TestReplace(t *testing.T) {
	p := Point{X: 1, Y: 2}
	q, err := Replace(p, map[string]any{"Y": 9})
	require.NoError(t, err)
	assert.Equal(t, Point{X: 1, Y: 9}, q)
	assert.Equal(t, Point{X: 1, Y: 2}, p)

	_, err = Replace(p, map[string]any{"Z": 1})
	require.Error(t, err)
	assert.Equal(t, "`Point` has no field 'Z'", err.Error())

	_, err = Replace(Span{Start: 1, End: 5}, map[string]any{"End": 0})
	require.Error(t, err)
}

// ============================================================
// Conversion
// ============================================================

func TestAsDictAndTuple(t *testing.T) {
	u := User{Name: "ada", Groups: []string{"x"}, Admin: true}

	d, err := AsDict(u)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Name": "ada", "Email": "", "Groups": []string{"x"}, "Admin": true}, d)

	tup, err := AsTuple(&u)
	require.NoError(t, err)
	assert.Equal(t, []any{"ada", "", []string{"x"}, true}, tup)

	_, err = AsDict((*User)(nil))
	require.Error(t, err)
}

func TestFields(t *testing.T) {
	fields, err := Fields[User]()
	require.NoError(t, err)
	require.Len(t, fields, 4)

	assert.Equal(t, "Name", fields[0].Name)
	assert.True(t, fields[0].Required)

	assert.Equal(t, "email", fields[1].WireName)
	assert.True(t, fields[1].HasDefault)
	assert.Equal(t, "", fields[1].Default)

	assert.True(t, fields[2].HasFactory)
	assert.False(t, fields[2].Required)

	assert.True(t, fields[3].KwOnly)
	assert.Equal(t, false, fields[3].Default)
}

// ============================================================
// Equality, ordering, hashing
// ============================================================

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Point{1, 2}, Point{1, 2}))
	assert.True(t, Equal(Point{1, 2}, &Point{1, 2}))
	assert.False(t, Equal(Point{1, 2}, Point{2, 1}))
	assert.False(t, Equal(Point{1, 2}, Span{1, 2}))
	assert.False(t, Equal(Point{1, 2}, 3))
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b Point
		want int
	}{
		{Point{1, 2}, Point{1, 2}, 0},
		{Point{1, 2}, Point{1, 3}, -1},
		{Point{2, 0}, Point{1, 9}, 1},
	}
	for _, tt := range tests {
		got, err := Compare(tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v vs %v", tt.a, tt.b)
	}

	_, err := Compare(Span{1, 2}, Span{1, 2})
	require.Error(t, err)
	assert.Equal(t, "'<' not supported between instances of 'Span'", err.Error())
}

func TestHash(t *testing.T) {
	h1, err := Hash(Point{1, 2})
	require.NoError(t, err)
	h2, err := Hash(&Point{1, 2})
	require.NoError(t, err)
	h3, err := Hash(Point{2, 1})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)

	_, err = Hash(Span{1, 2})
	require.Error(t, err)
	assert.Equal(t, "unhashable type: 'Span'", err.Error())
}
