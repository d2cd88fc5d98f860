package schema

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Fixtures
// ============================================================

type Color int

type Base struct {
	ID   int    `tw:"id"`
	Note string `tw:"note,optional"`
}

type Derived struct {
	Base
	ID    int64  `tw:"id"`
	Label string `tw:"label,optional"`
}

type Renamed struct {
	FirstName string
	LastName  string `tw:"surname"`
}

func (Renamed) StructOptions() StructOptions { return StructOptions{Rename: RenameKebab} }

type BadOrder struct {
	A int `tw:"a,optional"`
	B int `tw:"b"`
}

func (BadOrder) StructOptions() StructOptions { return StructOptions{} }

type WithMeta struct {
	Age  int    `tw:"age" meta:"ge=0,le=150"`
	Code string `tw:"code" meta:"min_length=2,pattern=^[A-Z]{2,3}$"`
}

type Pet interface{ isPet() }

type Cat struct {
	Name string `tw:"name"`
}

type Dog struct {
	Name string `tw:"name"`
}

func (Cat) StructOptions() StructOptions { return StructOptions{Tagged: true} }
func (Dog) StructOptions() StructOptions { return StructOptions{Tagged: true} }
func (Cat) isPet()                       {}
func (Dog) isPet()                       {}

func init() {
	if err := RegisterEnum(Color(1), Color(2), Color(3)); err != nil {
		panic(err)
	}
	if err := RegisterUnionOf[Pet](Cat{}, Dog{}, Cat{}); err != nil {
		panic(err)
	}
}

// ============================================================
// Struct layout
// ============================================================

func TestStructLayout_Override(t *testing.T) {
	d, err := For[Derived]()
	require.NoError(t, err)
	si := d.Struct
	require.NotNil(t, si)

	var names []string
	for _, f := range si.Fields {
		names = append(names, f.Name)
	}
	// the overriding field takes its new position
	assert.Equal(t, []string{"Note", "ID", "Label"}, names)

	i, ok := si.FieldByWire("id")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeFor[int64](), si.Fields[i].Type.GoType)
}

func TestStructLayout_Rename(t *testing.T) {
	d, err := For[Renamed]()
	require.NoError(t, err)
	assert.Equal(t, "first-name", d.Struct.Fields[0].WireName)
	assert.Equal(t, "surname", d.Struct.Fields[1].WireName)
}

func TestStructLayout_DefaultOrder(t *testing.T) {
	_, err := For[BadOrder]()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchema)
	assert.Contains(t, err.Error(), "required field `B` cannot follow optional field `A`")
}

func TestRenamePolicies(t *testing.T) {
	tests := []struct {
		r    Rename
		want string
	}{
		{RenameNone, "UserName"},
		{RenameLower, "username"},
		{RenameUpper, "USERNAME"},
		{RenameSnake, "user_name"},
		{RenameKebab, "user-name"},
		{RenameCamel, "userName"},
		{RenamePascal, "UserName"},
	}
	for _, tt := range tests {
		t.Run(tt.r.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Apply("UserName"))
		})
	}
}

// ============================================================
// Constraints
// ============================================================

func TestConstraints_IntBoundaries(t *testing.T) {
	typ := Scalar(KindInt, Meta{Ge: IntBound(1), Le: IntBound(10)})
	require.NoError(t, Check(typ, FormatJSON))

	c := typ.Constraints
	assert.Equal(t, "", c.CheckInt(1))
	assert.Equal(t, "", c.CheckInt(10))
	assert.Equal(t, "Expected `int` >= 1", c.CheckInt(0))
	assert.Equal(t, "Expected `int` <= 10", c.CheckInt(11))

	excl := Scalar(KindInt, Meta{Gt: IntBound(1), Lt: IntBound(10)}).Constraints
	assert.Equal(t, "Expected `int` > 1", excl.CheckInt(1))
	assert.Equal(t, "Expected `int` < 10", excl.CheckInt(10))

	mul := Scalar(KindInt, Meta{MultipleOf: IntBound(3)}).Constraints
	assert.Equal(t, "", mul.CheckInt(9))
	assert.Equal(t, "Expected `int` that's a multiple of 3", mul.CheckInt(10))
}

func TestConstraints_Float(t *testing.T) {
	c := Scalar(KindFloat, Meta{Gt: FloatBound(0.5), MultipleOf: FloatBound(0.25)}).Constraints
	assert.Equal(t, "", c.CheckFloat(0.75))
	assert.Equal(t, "Expected `float` > 0.5", c.CheckFloat(0.5))
	assert.Equal(t, "Expected `float` that's a multiple of 0.25", c.CheckFloat(0.8))
}

func TestConstraints_StrAndLength(t *testing.T) {
	c := Scalar(KindStr, Meta{MinLength: Ptr(2), MaxLength: Ptr(3), Pattern: "^[a-z]+$"}).Constraints
	assert.Equal(t, "", c.CheckStr("ab"))
	assert.Equal(t, "Expected `str` of length >= 2", c.CheckStr("a"))
	assert.Equal(t, "Expected `str` of length <= 3", c.CheckStr("abcd"))
	assert.Equal(t, "Expected `str` matching regex '^[a-z]+$'", c.CheckStr("AB"))

	// lengths count code points
	cp := Scalar(KindStr, Meta{MaxLength: Ptr(2)}).Constraints
	assert.Equal(t, "", cp.CheckStr("éé"))
}

func TestConstraints_Invalid(t *testing.T) {
	tests := []struct {
		name string
		typ  *Type
		want string
	}{
		{"gt and ge", Scalar(KindInt, Meta{Gt: IntBound(1), Ge: IntBound(1)}), "cannot set both `gt` and `ge`"},
		{"float bound on int", Scalar(KindInt, Meta{Ge: FloatBound(1.5)}), "numeric bounds on an int type must be integers"},
		{"bound on str", Scalar(KindStr, Meta{Ge: IntBound(1)}), "apply only to int and float types"},
		{"pattern on int", Scalar(KindInt, Meta{Pattern: "x"}), "`pattern` applies only to str types"},
		{"tz on date", Scalar(KindDate, Meta{TZ: Ptr(true)}), "`tz` applies only to datetime and time types"},
		{"multiple_of zero", Scalar(KindInt, Meta{MultipleOf: IntBound(0)}), "`multiple_of` must be > 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.typ, FormatJSON)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchema)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseMetaTag(t *testing.T) {
	m, err := ParseMetaTag("ge=0, le=150, title=Age")
	require.NoError(t, err)
	assert.Equal(t, "0", m.Ge.String())
	assert.Equal(t, "150", m.Le.String())
	assert.Equal(t, "Age", m.Title)

	m, err = ParseMetaTag("min_length=1,pattern=^a,b$")
	require.NoError(t, err)
	assert.Equal(t, "^a,b$", m.Pattern)

	_, err = ParseMetaTag("bogus=1")
	require.Error(t, err)
	_, err = ParseMetaTag("ge")
	require.Error(t, err)
}

func TestMetaTagOnField(t *testing.T) {
	d, err := For[WithMeta]()
	require.NoError(t, err)
	age := d.Struct.Fields[0].Type
	assert.Equal(t, "Expected `int` <= 150", age.Constraints.CheckInt(151))
	code := d.Struct.Fields[1].Type
	assert.Equal(t, "", code.Constraints.CheckStr("ABC"))
	assert.NotEqual(t, "", code.Constraints.CheckStr("abc"))
}

// ============================================================
// Unions
// ============================================================

func TestUnion_Slots(t *testing.T) {
	ok := UnionOf(Scalar(KindInt), Scalar(KindFloat), Scalar(KindStr), NoneType())
	require.NoError(t, Check(ok, FormatJSON))
	d, err := ok.Dispatch(FormatJSON)
	require.NoError(t, err)
	assert.True(t, d.Null)
	assert.Equal(t, KindInt, d.Int.Kind)
	assert.Equal(t, KindFloat, d.Float.Kind)

	enum, err := Of(reflect.TypeFor[Color]())
	require.NoError(t, err)
	bad := UnionOf(Scalar(KindInt), enum)
	err = Check(bad, FormatJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type unions may not contain more than one int-like")
}

func TestUnion_FormatDependentSlots(t *testing.T) {
	// bytes and datetime are strings in JSON but distinct in MessagePack
	u := UnionOf(Scalar(KindStr), Scalar(KindBytes))
	require.Error(t, Check(u, FormatJSON))
	require.NoError(t, Check(u, FormatMsgpack))

	ext := UnionOf(ExtType(), Scalar(KindInt))
	err := Check(ext, FormatJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON does not support ext types")
}

func TestUnion_Flatten(t *testing.T) {
	u := UnionOf(UnionOf(Scalar(KindInt), NoneType()), NoneType(), Scalar(KindStr))
	require.Equal(t, KindUnion, u.Kind)
	assert.Len(t, u.Members, 3)

	assert.Equal(t, KindAny, UnionOf(Scalar(KindInt), AnyType()).Kind)
	assert.Equal(t, KindInt, UnionOf(Scalar(KindInt)).Kind)
}

func TestUnion_RepeatedMembers(t *testing.T) {
	cat, err := For[Cat]()
	require.NoError(t, err)
	dog, err := For[Dog]()
	require.NoError(t, err)

	assert.Same(t, cat, UnionOf(cat, cat))

	u := UnionOf(cat, dog, cat)
	require.Equal(t, KindUnion, u.Kind)
	assert.Len(t, u.Members, 2)
	d, err := u.Dispatch(FormatJSON)
	require.NoError(t, err)
	si, ok := d.ObjectTags.LookupStr("Cat")
	require.True(t, ok)
	assert.Equal(t, "Cat", si.Name)

	pet, err := For[Pet]()
	require.NoError(t, err)
	d, err = pet.Dispatch(FormatJSON)
	require.NoError(t, err)
	assert.Len(t, d.ObjectTags.Members, 2)
}

// ============================================================
// Tag cache
// ============================================================

func taggedInfo(name string, tag any) *StructInfo {
	return &StructInfo{Name: name, Kind: KindStruct, Tag: tag, TagField: DefaultTagField}
}

func TestTagCache_Eviction(t *testing.T) {
	c := NewTagCache(DefaultTagCacheSize)

	groups := make([][]*StructInfo, DefaultTagCacheSize+1)
	tables := make([]*TagTable, len(groups))
	for i := range groups {
		groups[i] = []*StructInfo{
			taggedInfo(fmt.Sprintf("A%d", i), "a"),
			taggedInfo(fmt.Sprintf("B%d", i), int64(i)),
		}
		tt, err := c.Get(groups[i])
		require.NoError(t, err)
		tables[i] = tt
	}

	assert.Equal(t, DefaultTagCacheSize, c.Len())
	assert.False(t, c.Contains(groups[0]), "oldest entry is evicted")
	assert.True(t, c.Contains(groups[len(groups)-1]))

	// evicted tables stay usable by their holders
	si, ok := tables[0].LookupStr("a")
	require.True(t, ok)
	assert.Equal(t, "A0", si.Name)
	si, ok = tables[0].LookupInt(0)
	require.True(t, ok)
	assert.Equal(t, "B0", si.Name)

	// member order does not matter
	again, err := c.Get([]*StructInfo{groups[5][1], groups[5][0]})
	require.NoError(t, err)
	assert.Same(t, tables[5], again)

	c.SetSize(2)
	assert.Equal(t, 2, c.Len())
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestTagCache_Errors(t *testing.T) {
	c := NewTagCache(4)

	_, err := c.Get([]*StructInfo{taggedInfo("A", "x"), taggedInfo("B", "x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tag value 'x' is used by both A and B")

	_, err = c.Get([]*StructInfo{taggedInfo("A", "x"), {Name: "C", Kind: KindStruct}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all Struct types must be tagged")

	assert.Equal(t, 0, c.Len(), "failed builds are not cached")
}

// ============================================================
// Values
// ============================================================

func TestDecimal(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1.50", "1.50"},
		{"-0.001", "-0.001"},
		{"12e-2", "0.12"},
		{"5e3", "5E+3"},
		{"+7", "7"},
	}
	for _, tt := range tests {
		d, err := ParseDecimal(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, d.String(), tt.in)
	}

	a, _ := ParseDecimal("1.0")
	b, _ := ParseDecimal("1.00")
	c, _ := ParseDecimal("1.01")
	assert.True(t, a.Equal(b))
	assert.Equal(t, -1, b.Cmp(c))
	assert.InDelta(t, 1.01, c.Float64(), 1e-12)

	for _, bad := range []string{"", "abc", "1.2.3", "1e", "."} {
		_, err := ParseDecimal(bad)
		assert.ErrorIs(t, err, ErrInvalidDecimal, bad)
	}
}

func TestDateTimeText(t *testing.T) {
	dt, err := ParseDateTime("2024-02-29T12:30:00.5+02:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29T12:30:00.5+02:00", FormatDateTime(dt))

	naive, err := ParseDateTime("2024-02-29 12:30")
	require.NoError(t, err)
	assert.True(t, IsNaive(naive))
	assert.Equal(t, "2024-02-29T12:30:00", FormatDateTime(naive))

	_, err = ParseDate("2023-02-29")
	require.Error(t, err)

	d, err := ParseDate("2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: time.January, Day: 31}, d)
}

func TestDurationText(t *testing.T) {
	tests := []struct {
		d    time.Duration
		text string
	}{
		{0, "PT0S"},
		{90 * time.Second, "PT90S"},
		{36 * time.Hour, "P1DT43200S"},
		{-1500 * time.Millisecond, "-PT1.5S"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.text, FormatDuration(tt.d))
		back, err := ParseDuration(tt.text)
		require.NoError(t, err)
		assert.Equal(t, tt.d, back)
	}

	got, err := ParseDuration("P1W")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, got)

	_, err = ParseDuration("P1M")
	require.Error(t, err)
}

func TestDeepCopy(t *testing.T) {
	type inner struct{ Tags []string }
	src := map[string]*inner{"a": {Tags: []string{"x"}}}
	cp := DeepCopy(src).(map[string]*inner)
	cp["a"].Tags[0] = "y"
	assert.Equal(t, "x", src["a"].Tags[0])
	assert.Nil(t, DeepCopy(nil))
}

func TestLookup(t *testing.T) {
	dense := NewLookup([]int64{3, 4, 6}, nil)
	assert.True(t, dense.Dense())
	i, ok := dense.Int(6)
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	_, ok = dense.Int(5)
	assert.False(t, ok)

	sparse := NewLookup([]int64{1, 1 << 40}, []string{"a"})
	assert.False(t, sparse.Dense())
	i, ok = sparse.Int(1 << 40)
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	i, ok = sparse.Str("a")
	assert.True(t, ok)
	assert.Equal(t, 0, i)
}
