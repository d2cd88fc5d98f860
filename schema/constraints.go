package schema

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ============================================================
// Meta annotations
// ============================================================

// Meta annotates a type with value constraints and schema metadata.
//
// Numeric bounds apply to int and float types, length bounds to str, bytes
// and collections, Pattern to str and TZ to datetime and time.
type Meta struct {
	Gt, Ge, Lt, Le *Bound
	MultipleOf     *Bound
	Pattern        string
	MinLength      *int
	MaxLength      *int
	TZ             *bool

	Title           string
	Description     string
	Examples        []any
	ExtraJSONSchema map[string]any
	Extra           map[string]any
}

func (m *Meta) hasConstraints() bool {
	return m.Gt != nil || m.Ge != nil || m.Lt != nil || m.Le != nil || m.MultipleOf != nil ||
		m.Pattern != "" || m.MinLength != nil || m.MaxLength != nil || m.TZ != nil
}

func (m *Meta) hasAnnotations() bool {
	return m.Title != "" || m.Description != "" || len(m.Examples) > 0 ||
		len(m.ExtraJSONSchema) > 0 || len(m.Extra) > 0
}

func (m *Meta) mergeAnnotations(o *Meta) {
	if o.Title != "" {
		m.Title = o.Title
	}
	if o.Description != "" {
		m.Description = o.Description
	}
	m.Examples = append(m.Examples, o.Examples...)
	for k, v := range o.ExtraJSONSchema {
		if m.ExtraJSONSchema == nil {
			m.ExtraJSONSchema = map[string]any{}
		}
		m.ExtraJSONSchema[k] = v
	}
	for k, v := range o.Extra {
		if m.Extra == nil {
			m.Extra = map[string]any{}
		}
		m.Extra[k] = v
	}
}

// Ptr returns a pointer to v, for optional Meta fields.
func Ptr[T any](v T) *T { return &v }

// ============================================================
// Bound
// ============================================================

// Bound is an exact integer or IEEE float constraint operand.
type Bound struct {
	i *big.Int
	f float64
}

// IntBound returns an exact integer bound.
func IntBound(v int64) *Bound { return &Bound{i: big.NewInt(v)} }

// BigBound returns an exact integer bound of arbitrary size.
func BigBound(v *big.Int) *Bound { return &Bound{i: new(big.Int).Set(v)} }

// FloatBound returns a floating point bound.
func FloatBound(v float64) *Bound { return &Bound{f: v} }

// IsInt reports whether the bound is an exact integer.
func (b *Bound) IsInt() bool { return b.i != nil }

// Int returns the integer operand; nil for float bounds.
func (b *Bound) Int() *big.Int { return b.i }

// Float returns the operand as a float64.
func (b *Bound) Float() float64 {
	if b.i != nil {
		f, _ := new(big.Float).SetInt(b.i).Float64()
		return f
	}
	return b.f
}

func (b *Bound) String() string {
	if b.i != nil {
		return b.i.String()
	}
	return strconv.FormatFloat(b.f, 'g', -1, 64)
}

// ============================================================
// Compiled constraints
// ============================================================

// Constraints is the compiled, validated form of the Meta constraints
// attached to one descriptor.
type Constraints struct {
	Gt, Ge, Lt, Le *Bound
	MultipleOf     *Bound
	MinLength      int // -1 when unset
	MaxLength      int // -1 when unset
	Pattern        *regexp.Regexp
	TZ             *bool

	gt64, ge64, lt64, le64, mul64 int64
	fit64                         [5]bool
}

func (c *Constraints) hasNumeric() bool {
	return c.Gt != nil || c.Ge != nil || c.Lt != nil || c.Le != nil || c.MultipleOf != nil
}

func (c *Constraints) hasLength() bool { return c.MinLength >= 0 || c.MaxLength >= 0 }

func (c *Constraints) prepare() {
	for i, b := range []*Bound{c.Gt, c.Ge, c.Lt, c.Le, c.MultipleOf} {
		if b == nil || b.i == nil || !b.i.IsInt64() {
			continue
		}
		v := b.i.Int64()
		c.fit64[i] = true
		switch i {
		case 0:
			c.gt64 = v
		case 1:
			c.ge64 = v
		case 2:
			c.lt64 = v
		case 3:
			c.le64 = v
		case 4:
			c.mul64 = v
		}
	}
}

// applyMeta folds the constraints of meta into a copy of t. Conflicts and
// misapplied constraints are deferred to Check via the node error.
func applyMeta(t *Type, meta []Meta) *Type {
	has := false
	for i := range meta {
		if meta[i].hasConstraints() {
			has = true
		}
	}
	if !has {
		return t
	}
	out := t.shallowCopy()
	c := &Constraints{MinLength: -1, MaxLength: -1}
	if t.Constraints != nil {
		cp := *t.Constraints
		c = &cp
	}
	for i := range meta {
		if err := mergeConstraints(c, &meta[i], t); err != nil && out.err == nil {
			out.err = err
		}
	}
	if out.err == nil {
		out.err = validateConstraints(c, t)
	}
	c.prepare()
	out.Constraints = c
	return out
}

func mergeConstraints(c *Constraints, m *Meta, t *Type) error {
	dup := func(name string) error {
		return &SchemaError{Type: t.String(), Msg: fmt.Sprintf("multiple Meta annotations set `%s`", name)}
	}
	set := func(dst **Bound, src *Bound, name string) error {
		if src == nil {
			return nil
		}
		if *dst != nil {
			return dup(name)
		}
		*dst = src
		return nil
	}
	for _, s := range []struct {
		dst  **Bound
		src  *Bound
		name string
	}{{&c.Gt, m.Gt, "gt"}, {&c.Ge, m.Ge, "ge"}, {&c.Lt, m.Lt, "lt"}, {&c.Le, m.Le, "le"}, {&c.MultipleOf, m.MultipleOf, "multiple_of"}} {
		if err := set(s.dst, s.src, s.name); err != nil {
			return err
		}
	}
	if m.MinLength != nil {
		if c.MinLength >= 0 {
			return dup("min_length")
		}
		c.MinLength = *m.MinLength
	}
	if m.MaxLength != nil {
		if c.MaxLength >= 0 {
			return dup("max_length")
		}
		c.MaxLength = *m.MaxLength
	}
	if m.Pattern != "" {
		if c.Pattern != nil {
			return dup("pattern")
		}
		re, err := regexp.Compile(m.Pattern)
		if err != nil {
			return &SchemaError{Type: t.String(), Msg: fmt.Sprintf("invalid pattern %q: %v", m.Pattern, err)}
		}
		c.Pattern = re
	}
	if m.TZ != nil {
		if c.TZ != nil {
			return dup("tz")
		}
		c.TZ = m.TZ
	}
	return nil
}

func validateConstraints(c *Constraints, t *Type) error {
	base := t.Unwrap()
	bad := func(msg string) error { return &SchemaError{Type: t.String(), Msg: msg} }

	if c.Gt != nil && c.Ge != nil {
		return bad("cannot set both `gt` and `ge`")
	}
	if c.Lt != nil && c.Le != nil {
		return bad("cannot set both `lt` and `le`")
	}
	if c.hasNumeric() {
		switch base.Kind {
		case KindInt:
			for _, b := range []*Bound{c.Gt, c.Ge, c.Lt, c.Le, c.MultipleOf} {
				if b != nil && !b.IsInt() {
					return bad("numeric bounds on an int type must be integers")
				}
			}
		case KindFloat:
		default:
			return bad("`gt`, `ge`, `lt`, `le` and `multiple_of` apply only to int and float types")
		}
		if c.MultipleOf != nil {
			if (c.MultipleOf.IsInt() && c.MultipleOf.i.Sign() <= 0) || (!c.MultipleOf.IsInt() && !(c.MultipleOf.f > 0)) {
				return bad("`multiple_of` must be > 0")
			}
		}
	}
	if c.hasLength() {
		switch base.Kind {
		case KindStr, KindBytes, KindList, KindSet, KindFrozenSet, KindVarTuple, KindDict:
		default:
			return bad("`min_length` and `max_length` apply only to str, bytes and collection types")
		}
		if c.MinLength < -1 || c.MaxLength < -1 {
			return bad("length bounds must be >= 0")
		}
	}
	if c.Pattern != nil && base.Kind != KindStr {
		return bad("`pattern` applies only to str types")
	}
	if c.TZ != nil && base.Kind != KindDateTime && base.Kind != KindTime {
		return bad("`tz` applies only to datetime and time types")
	}
	return nil
}

// ============================================================
// Runtime checks
// ============================================================
//
// Each check returns "" when the value satisfies the constraints, otherwise
// the validation message.

// CheckInt validates a signed integer.
func (c *Constraints) CheckInt(v int64) string {
	if c == nil || !c.hasNumeric() {
		return ""
	}
	if c.allFit() {
		if c.Gt != nil && !(v > c.gt64) {
			return fmt.Sprintf("Expected `int` > %d", c.gt64)
		}
		if c.Ge != nil && !(v >= c.ge64) {
			return fmt.Sprintf("Expected `int` >= %d", c.ge64)
		}
		if c.Lt != nil && !(v < c.lt64) {
			return fmt.Sprintf("Expected `int` < %d", c.lt64)
		}
		if c.Le != nil && !(v <= c.le64) {
			return fmt.Sprintf("Expected `int` <= %d", c.le64)
		}
		if c.MultipleOf != nil && v%c.mul64 != 0 {
			return fmt.Sprintf("Expected `int` that's a multiple of %d", c.mul64)
		}
		return ""
	}
	return c.CheckBigInt(big.NewInt(v))
}

// CheckUint validates an unsigned integer.
func (c *Constraints) CheckUint(v uint64) string {
	if c == nil || !c.hasNumeric() {
		return ""
	}
	if v <= math.MaxInt64 {
		return c.CheckInt(int64(v))
	}
	return c.CheckBigInt(new(big.Int).SetUint64(v))
}

func (c *Constraints) allFit() bool {
	for i, b := range []*Bound{c.Gt, c.Ge, c.Lt, c.Le, c.MultipleOf} {
		if b != nil && !c.fit64[i] {
			return false
		}
	}
	return true
}

// CheckBigInt validates an integer of arbitrary size exactly.
func (c *Constraints) CheckBigInt(v *big.Int) string {
	if c == nil {
		return ""
	}
	if c.Gt != nil && v.Cmp(c.Gt.i) <= 0 {
		return "Expected `int` > " + c.Gt.String()
	}
	if c.Ge != nil && v.Cmp(c.Ge.i) < 0 {
		return "Expected `int` >= " + c.Ge.String()
	}
	if c.Lt != nil && v.Cmp(c.Lt.i) >= 0 {
		return "Expected `int` < " + c.Lt.String()
	}
	if c.Le != nil && v.Cmp(c.Le.i) > 0 {
		return "Expected `int` <= " + c.Le.String()
	}
	if c.MultipleOf != nil && new(big.Int).Rem(v, c.MultipleOf.i).Sign() != 0 {
		return "Expected `int` that's a multiple of " + c.MultipleOf.String()
	}
	return ""
}

// CheckFloat validates a float with IEEE comparison semantics.
func (c *Constraints) CheckFloat(v float64) string {
	if c == nil || !c.hasNumeric() {
		return ""
	}
	if c.Gt != nil && !(v > c.Gt.Float()) {
		return "Expected `float` > " + c.Gt.String()
	}
	if c.Ge != nil && !(v >= c.Ge.Float()) {
		return "Expected `float` >= " + c.Ge.String()
	}
	if c.Lt != nil && !(v < c.Lt.Float()) {
		return "Expected `float` < " + c.Lt.String()
	}
	if c.Le != nil && !(v <= c.Le.Float()) {
		return "Expected `float` <= " + c.Le.String()
	}
	if c.MultipleOf != nil && !isMultiple(v, c.MultipleOf.Float()) {
		return "Expected `float` that's a multiple of " + c.MultipleOf.String()
	}
	return ""
}

func isMultiple(v, m float64) bool {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return false
	}
	q := v / m
	return math.Abs(q-math.Round(q)) <= 1e-9*math.Max(1, math.Abs(q))
}

// CheckLen validates a length against min/max bounds; what names the wire
// shape (`str`, `bytes`, `array`, `object`).
func (c *Constraints) CheckLen(n int, what string) string {
	if c == nil {
		return ""
	}
	if c.MinLength >= 0 && n < c.MinLength {
		return fmt.Sprintf("Expected `%s` of length >= %d", what, c.MinLength)
	}
	if c.MaxLength >= 0 && n > c.MaxLength {
		return fmt.Sprintf("Expected `%s` of length <= %d", what, c.MaxLength)
	}
	return ""
}

// CheckStr validates code point length and pattern.
func (c *Constraints) CheckStr(s string) string {
	if c == nil {
		return ""
	}
	if c.hasLength() {
		if msg := c.CheckLen(utf8.RuneCountInString(s), "str"); msg != "" {
			return msg
		}
	}
	if c.Pattern != nil && !c.Pattern.MatchString(s) {
		return fmt.Sprintf("Expected `str` matching regex '%s'", c.Pattern.String())
	}
	return ""
}

// CheckTZ validates the presence or absence of a timezone component.
func (c *Constraints) CheckTZ(aware bool, what string) string {
	if c == nil || c.TZ == nil || *c.TZ == aware {
		return ""
	}
	if *c.TZ {
		return fmt.Sprintf("Expected `%s` with a timezone component", what)
	}
	return fmt.Sprintf("Expected `%s` with no timezone component", what)
}

// CheckTime validates a datetime's timezone constraint.
func (c *Constraints) CheckTime(t time.Time) string {
	if c == nil || c.TZ == nil {
		return ""
	}
	return c.CheckTZ(t.Location() != Naive, "datetime")
}

// ============================================================
// meta:"..." struct tag
// ============================================================

// ParseMetaTag parses a `meta` struct tag: comma separated key=value pairs
// (gt, ge, lt, le, multiple_of, min_length, max_length, tz, title,
// description, pattern). pattern consumes the remainder of the tag so it may
// contain commas.
func ParseMetaTag(tag string) (Meta, error) {
	var m Meta
	rest := strings.TrimSpace(tag)
	for rest != "" {
		var part string
		if strings.HasPrefix(rest, "pattern=") {
			part, rest = rest, ""
		} else if i := strings.IndexByte(rest, ','); i >= 0 {
			part, rest = rest[:i], strings.TrimSpace(rest[i+1:])
		} else {
			part, rest = rest, ""
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return m, fmt.Errorf("meta: expected key=value, got %q", part)
		}
		key, val := strings.TrimSpace(part[:eq]), part[eq+1:]
		switch key {
		case "gt", "ge", "lt", "le", "multiple_of":
			b, err := parseBound(strings.TrimSpace(val))
			if err != nil {
				return m, fmt.Errorf("meta: %s: %w", key, err)
			}
			switch key {
			case "gt":
				m.Gt = b
			case "ge":
				m.Ge = b
			case "lt":
				m.Lt = b
			case "le":
				m.Le = b
			default:
				m.MultipleOf = b
			}
		case "min_length", "max_length":
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return m, fmt.Errorf("meta: %s: %w", key, err)
			}
			if key == "min_length" {
				m.MinLength = &n
			} else {
				m.MaxLength = &n
			}
		case "tz":
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return m, fmt.Errorf("meta: tz: %w", err)
			}
			m.TZ = &b
		case "pattern":
			m.Pattern = val
		case "title":
			m.Title = val
		case "description":
			m.Description = val
		default:
			return m, fmt.Errorf("meta: unknown key %q", key)
		}
	}
	return m, nil
}

func parseBound(s string) (*Bound, error) {
	if i, ok := new(big.Int).SetString(s, 10); ok {
		return &Bound{i: i}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return FloatBound(f), nil
}
