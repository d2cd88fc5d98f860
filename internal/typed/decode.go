package typed

import (
	"encoding/base64"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Decoder
// ============================================================

// DefaultMaxDepth bounds container nesting while decoding and encoding.
const DefaultMaxDepth = 1024

// DecHook builds a value of a custom type from its generic decoded form.
type DecHook func(t reflect.Type, v any) (any, error)

// ExtHook converts a MessagePack extension decoded into an untyped position.
type ExtHook func(code int8, data []byte) (any, error)

// Decoder validates tokens from a Source against a descriptor and builds Go
// values. The zero value is strict with no hooks; Decode works on a copy so
// one configured Decoder may be shared between goroutines.
type Decoder struct {
	Format         schema.Format
	Strict         bool
	DecHook        DecHook
	ExtHook        ExtHook
	FromAttributes bool
	MaxDepth       int

	// Native lists kinds a builtins source carries as Go values. Their
	// string forms are rejected.
	Native map[schema.Kind]bool

	depth    int
	hashable bool
	pos      func() int
}

// Decode reads one value from src into out, which must be settable.
func (d Decoder) Decode(src Source, t *schema.Type, out reflect.Value) error {
	if d.MaxDepth <= 0 {
		d.MaxDepth = DefaultMaxDepth
	}
	d.pos = src.Pos
	return d.decode(src, t, out)
}

func (d *Decoder) enter() error {
	d.depth++
	if d.depth > d.MaxDepth {
		return &schema.DecodeError{Msg: "maximum recursion depth exceeded", Pos: d.pos(), Err: schema.ErrRecursion}
	}
	return nil
}

func (d *Decoder) leave() { d.depth-- }

func (d *Decoder) decode(src Source, t *schema.Type, out reflect.Value) error {
	if u := t.Unwrap(); u.Kind == schema.KindRaw {
		raw, err := src.Raw()
		if err != nil {
			return err
		}
		return assign(out, reflect.ValueOf(schema.Raw(clone(raw))))
	}
	tok, err := src.Next()
	if err != nil {
		return err
	}
	return d.decodeToken(src, tok, t, out)
}

// decodeToken decodes the value whose header tok was just read. Values of
// descriptors without a Go type take the generic representation; out may
// be of any type the result is assignable or convertible to.
func (d *Decoder) decodeToken(src Source, tok Token, t *schema.Type, out reflect.Value) error {
	t = t.Unwrap()
	want := t.GoType
	if want == nil {
		want = anyType
	}
	if out.Type() == want {
		return d.into(src, tok, t, out)
	}
	tmp := reflect.New(want).Elem()
	if err := d.into(src, tok, t, tmp); err != nil {
		return err
	}
	if want == anyType {
		return assign(out, tmp.Elem())
	}
	return assign(out, tmp)
}

func (d *Decoder) into(src Source, tok Token, t *schema.Type, out reflect.Value) error {
	if tok.Kind == TokObject && t.GoType != nil && tok.Value.Type() == t.GoType {
		out.Set(tok.Value)
		return nil
	}
	switch t.Kind {
	case schema.KindAny:
		return d.decodeAny(src, tok, out)
	case schema.KindNone:
		if tok.Kind == TokNull {
			out.Set(reflect.Zero(out.Type()))
			return nil
		}
	case schema.KindBool:
		return d.decodeBool(tok, t, out)
	case schema.KindInt:
		return d.decodeInt(tok, t, out)
	case schema.KindFloat:
		return d.decodeFloat(tok, t, out)
	case schema.KindStr:
		if tok.Kind == TokStr {
			if msg := t.Constraints.CheckStr(tok.Str); msg != "" {
				return schema.Invalidf("%s", msg)
			}
			setString(out, tok.Str)
			return nil
		}
	case schema.KindBytes:
		return d.decodeBytes(tok, t, out)
	case schema.KindDateTime:
		return d.decodeDateTime(tok, t, out)
	case schema.KindDate:
		return d.decodeDate(tok, t, out)
	case schema.KindTime:
		return d.decodeTime(tok, t, out)
	case schema.KindDuration:
		return d.decodeDuration(tok, t, out)
	case schema.KindUUID:
		return d.decodeUUID(tok, t, out)
	case schema.KindDecimal:
		return d.decodeDecimal(tok, t, out)
	case schema.KindExt:
		if tok.Kind == TokExt {
			return assign(out, reflect.ValueOf(schema.Ext{Code: tok.Ext.Code, Data: clone(tok.Ext.Data)}))
		}
	case schema.KindRaw:
		if tok.Kind == TokNative && tok.Value.Type() == rawType {
			return assign(out, reflect.ValueOf(schema.Raw(clone(tok.Value.Bytes()))))
		}
	case schema.KindEnum:
		return d.decodeEnum(tok, t, out)
	case schema.KindLiteral:
		return d.decodeLiteral(tok, t, out)
	case schema.KindCustom:
		return d.decodeCustom(src, tok, t, out)
	case schema.KindUnion:
		return d.decodeUnion(src, tok, t, out)
	case schema.KindList, schema.KindVarTuple:
		return d.decodeList(src, tok, t, out)
	case schema.KindSet, schema.KindFrozenSet:
		return d.decodeSet(src, tok, t, out)
	case schema.KindFixedTuple:
		return d.decodeTuple(src, tok, t, out)
	case schema.KindDict:
		return d.decodeDict(src, tok, t, out)
	case schema.KindStruct, schema.KindDataclass, schema.KindTypedDict, schema.KindNamedTuple:
		return d.decodeRecord(src, tok, t, out)
	}
	return mismatch(t, tok)
}

func mismatch(t *schema.Type, tok Token) *schema.ValidationError {
	return schema.Mismatch(t.WireName(), gotName(tok))
}

// ============================================================
// Scalars
// ============================================================

func (d *Decoder) lax(tok Token) bool { return !d.Strict && !tok.IsKey }

func (d *Decoder) decodeBool(tok Token, t *schema.Type, out reflect.Value) error {
	var v bool
	switch {
	case tok.Kind == TokBool:
		v = tok.Bool
	case tok.Kind == TokStr && (tok.IsKey || !d.Strict):
		switch strings.ToLower(tok.Str) {
		case "true", "1":
			v = true
		case "false", "0":
		default:
			return mismatch(t, tok)
		}
	case tok.Kind == TokInt && d.lax(tok) && (tok.Int == 0 || tok.Int == 1):
		v = tok.Int == 1
	default:
		return mismatch(t, tok)
	}
	if out.Kind() == reflect.Interface {
		out.Set(reflect.ValueOf(v))
	} else {
		out.SetBool(v)
	}
	return nil
}

// numericText parses key and lax-mode string tokens into number tokens.
func numericText(s string) (Token, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Token{Kind: TokInt, Int: i, Str: s}, true
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return Token{Kind: TokUint, Uint: u, Str: s}, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Token{Kind: TokFloat, Float: f, Str: s}, true
	}
	return Token{}, false
}

func (d *Decoder) decodeInt(tok Token, t *schema.Type, out reflect.Value) error {
	if tok.Kind == TokStr && (tok.IsKey || !d.Strict) {
		n, ok := numericText(tok.Str)
		if !ok || (n.Kind == TokFloat && tok.IsKey) {
			return mismatch(t, tok)
		}
		tok = n
	}
	switch tok.Kind {
	case TokInt:
		return storeInt(tok.Int, t, out)
	case TokUint:
		return storeUint(tok.Uint, t, out)
	case TokFloat:
		f := tok.Float
		if !d.Strict && f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63 {
			return storeInt(int64(f), t, out)
		}
	}
	return mismatch(t, tok)
}

func storeInt(v int64, t *schema.Type, out reflect.Value) error {
	if msg := t.Constraints.CheckInt(v); msg != "" {
		return schema.Invalidf("%s", msg)
	}
	switch out.Kind() {
	case reflect.Interface:
		out.Set(reflect.ValueOf(v))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if out.OverflowInt(v) {
			return rangeError(out.Type(), v < 0)
		}
		out.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if v < 0 {
			return schema.Invalidf("Expected `int` >= 0")
		}
		if out.OverflowUint(uint64(v)) {
			return rangeError(out.Type(), false)
		}
		out.SetUint(uint64(v))
	default:
		return schema.Mismatch(out.Type().String(), "int")
	}
	return nil
}

func storeUint(v uint64, t *schema.Type, out reflect.Value) error {
	if msg := t.Constraints.CheckUint(v); msg != "" {
		return schema.Invalidf("%s", msg)
	}
	switch out.Kind() {
	case reflect.Interface:
		out.Set(reflect.ValueOf(v))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rangeError(out.Type(), false)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if out.OverflowUint(v) {
			return rangeError(out.Type(), false)
		}
		out.SetUint(v)
	default:
		return schema.Mismatch(out.Type().String(), "int")
	}
	return nil
}

// rangeError reports a value outside the range of the Go integer type.
func rangeError(rt reflect.Type, low bool) *schema.ValidationError {
	bits := rt.Bits()
	switch rt.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if low {
			return schema.Invalidf("Expected `int` >= 0")
		}
		return schema.Invalidf("Expected `int` <= %d", uint64(math.MaxUint64)>>(64-bits))
	}
	if low {
		return schema.Invalidf("Expected `int` >= %d", int64(-1)<<(bits-1))
	}
	return schema.Invalidf("Expected `int` <= %d", int64(math.MaxInt64)>>(64-bits))
}

func (d *Decoder) decodeFloat(tok Token, t *schema.Type, out reflect.Value) error {
	var f float64
	switch tok.Kind {
	case TokFloat, TokBigInt:
		f = tok.Float
	case TokInt:
		f = float64(tok.Int)
	case TokUint:
		f = float64(tok.Uint)
	case TokStr:
		if !tok.IsKey && d.Strict {
			return mismatch(t, tok)
		}
		v, err := strconv.ParseFloat(tok.Str, 64)
		if err != nil {
			return mismatch(t, tok)
		}
		f = v
	default:
		return mismatch(t, tok)
	}
	if msg := t.Constraints.CheckFloat(f); msg != "" {
		return schema.Invalidf("%s", msg)
	}
	if out.Kind() == reflect.Interface {
		out.Set(reflect.ValueOf(f))
		return nil
	}
	if out.OverflowFloat(f) {
		return schema.Invalidf("Expected `float` <= %g", math.MaxFloat32)
	}
	out.SetFloat(f)
	return nil
}

func (d *Decoder) decodeBytes(tok Token, t *schema.Type, out reflect.Value) error {
	var b []byte
	switch {
	case tok.Kind == TokBytes:
		b = clone(tok.Bytes)
	case tok.Kind == TokStr && (d.Format == schema.FormatJSON || (d.Format == schema.FormatBuiltins && !d.Native[schema.KindBytes])):
		v, err := base64.StdEncoding.DecodeString(tok.Str)
		if err != nil {
			return schema.Invalidf("Invalid base64 encoded string")
		}
		b = v
	default:
		return mismatch(t, tok)
	}
	if msg := t.Constraints.CheckLen(len(b), "bytes"); msg != "" {
		return schema.Invalidf("%s", msg)
	}
	if out.Kind() == reflect.Interface {
		out.Set(reflect.ValueOf(b))
	} else {
		out.SetBytes(b)
	}
	return nil
}

// strForm reports whether a string token may be parsed as kind k.
func (d *Decoder) strForm(tok Token, k schema.Kind) bool {
	return tok.Kind == TokStr && !d.Native[k]
}

func (d *Decoder) decodeDateTime(tok Token, t *schema.Type, out reflect.Value) error {
	var tm time.Time
	switch {
	case tok.Kind == TokDateTime:
		tm = tok.Time
	case d.strForm(tok, schema.KindDateTime):
		v, err := schema.ParseDateTime(tok.Str)
		if err != nil {
			return schema.Invalidf("Invalid RFC3339 encoded datetime")
		}
		tm = v
	case (tok.Kind == TokInt || tok.Kind == TokFloat) && d.lax(tok):
		f := tok.Float
		if tok.Kind == TokInt {
			f = float64(tok.Int)
		}
		sec, frac := math.Modf(f)
		tm = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	default:
		return mismatch(t, tok)
	}
	if msg := t.Constraints.CheckTime(tm); msg != "" {
		return schema.Invalidf("%s", msg)
	}
	return assign(out, reflect.ValueOf(tm))
}

func (d *Decoder) decodeDate(tok Token, t *schema.Type, out reflect.Value) error {
	var v schema.Date
	switch {
	case tok.Kind == TokNative && tok.Value.Type() == dateType:
		v = tok.Value.Interface().(schema.Date)
	case d.strForm(tok, schema.KindDate):
		dt, err := schema.ParseDate(tok.Str)
		if err != nil {
			return schema.Invalidf("Invalid RFC3339 encoded date")
		}
		v = dt
	default:
		return mismatch(t, tok)
	}
	return assign(out, reflect.ValueOf(v))
}

func (d *Decoder) decodeTime(tok Token, t *schema.Type, out reflect.Value) error {
	var v schema.TimeOfDay
	switch {
	case tok.Kind == TokNative && tok.Value.Type() == timeOfDayType:
		v = tok.Value.Interface().(schema.TimeOfDay)
	case d.strForm(tok, schema.KindTime):
		tod, err := schema.ParseTimeOfDay(tok.Str)
		if err != nil {
			return schema.Invalidf("Invalid RFC3339 encoded time")
		}
		v = tod
	default:
		return mismatch(t, tok)
	}
	if msg := t.Constraints.CheckTZ(v.Zone != nil, "time"); msg != "" {
		return schema.Invalidf("%s", msg)
	}
	return assign(out, reflect.ValueOf(v))
}

func (d *Decoder) decodeDuration(tok Token, t *schema.Type, out reflect.Value) error {
	var v time.Duration
	switch {
	case tok.Kind == TokNative && tok.Value.Type() == durationType:
		v = time.Duration(tok.Value.Int())
	case d.strForm(tok, schema.KindDuration):
		dur, err := schema.ParseDuration(tok.Str)
		if err != nil {
			return schema.Invalidf("Invalid ISO8601 duration")
		}
		v = dur
	case tok.Kind == TokInt && d.lax(tok):
		if tok.Int > math.MaxInt64/int64(time.Second) || tok.Int < math.MinInt64/int64(time.Second) {
			return schema.Invalidf("Duration is out of range")
		}
		v = time.Duration(tok.Int) * time.Second
	case tok.Kind == TokFloat && d.lax(tok):
		ns := tok.Float * float64(time.Second)
		if ns >= math.MaxInt64 || ns <= math.MinInt64 {
			return schema.Invalidf("Duration is out of range")
		}
		v = time.Duration(ns)
	default:
		return mismatch(t, tok)
	}
	return assign(out, reflect.ValueOf(v))
}

func (d *Decoder) decodeUUID(tok Token, t *schema.Type, out reflect.Value) error {
	var v uuid.UUID
	switch {
	case tok.Kind == TokNative && tok.Value.Type() == uuidType:
		v = tok.Value.Interface().(uuid.UUID)
	case d.strForm(tok, schema.KindUUID):
		u, err := uuid.Parse(tok.Str)
		if err != nil {
			return schema.Invalidf("Invalid UUID")
		}
		v = u
	case tok.Kind == TokBytes && d.Format != schema.FormatJSON:
		u, err := uuid.FromBytes(tok.Bytes)
		if err != nil {
			return schema.Invalidf("Invalid UUID bytes")
		}
		v = u
	default:
		return mismatch(t, tok)
	}
	return assign(out, reflect.ValueOf(v))
}

func (d *Decoder) decodeDecimal(tok Token, t *schema.Type, out reflect.Value) error {
	var (
		v   schema.Decimal
		err error
	)
	switch {
	case tok.Kind == TokNative && tok.Value.Type() == decimalType:
		v = tok.Value.Interface().(schema.Decimal)
	case d.strForm(tok, schema.KindDecimal):
		if v, err = schema.ParseDecimal(tok.Str); err != nil {
			return schema.Invalidf("Invalid decimal string")
		}
	case tok.Kind == TokInt:
		v = schema.DecimalFromInt64(tok.Int)
	case tok.Kind == TokUint:
		v = schema.NewDecimal(new(big.Int).SetUint64(tok.Uint), 0)
	case tok.Kind == TokFloat || tok.Kind == TokBigInt:
		if tok.Str != "" {
			v, err = schema.ParseDecimal(tok.Str)
		} else {
			v, err = schema.DecimalFromFloat64(tok.Float)
		}
		if err != nil {
			return schema.Invalidf("Invalid decimal value")
		}
	default:
		return mismatch(t, tok)
	}
	return assign(out, reflect.ValueOf(v))
}

// ============================================================
// Enums, literals and custom types
// ============================================================

func (d *Decoder) decodeEnum(tok Token, t *schema.Type, out reflect.Value) error {
	e := t.Enum
	if e.IsInt {
		if tok.Kind == TokStr && tok.IsKey {
			n, err := strconv.ParseInt(tok.Str, 10, 64)
			if err != nil {
				return mismatch(t, tok)
			}
			tok = Token{Kind: TokInt, Int: n}
		}
		if tok.Kind != TokInt {
			return mismatch(t, tok)
		}
		i, ok := e.Lookup().Int(tok.Int)
		if !ok {
			return schema.Invalidf("Invalid enum value %d", tok.Int)
		}
		return assign(out, e.Values[i])
	}
	if tok.Kind != TokStr {
		return mismatch(t, tok)
	}
	i, ok := e.Lookup().Str(tok.Str)
	if !ok {
		return schema.Invalidf("Invalid enum value '%s'", tok.Str)
	}
	return assign(out, e.Values[i])
}

func (d *Decoder) decodeLiteral(tok Token, t *schema.Type, out reflect.Value) error {
	l := t.Literal
	switch tok.Kind {
	case TokNull:
		if l.HasNone {
			out.Set(reflect.Zero(out.Type()))
			return nil
		}
	case TokInt:
		if len(l.Ints) > 0 {
			i, ok := l.Lookup().Int(tok.Int)
			if !ok {
				return schema.Invalidf("Invalid enum value %d", tok.Int)
			}
			return assign(out, reflect.ValueOf(l.Ints[i]))
		}
	case TokStr:
		if len(l.Strs) > 0 {
			i, ok := l.Lookup().Str(tok.Str)
			if !ok {
				return schema.Invalidf("Invalid enum value '%s'", tok.Str)
			}
			return assign(out, reflect.ValueOf(l.Strs[i]))
		}
		if tok.IsKey && len(l.Ints) > 0 {
			if n, err := strconv.ParseInt(tok.Str, 10, 64); err == nil {
				return d.decodeLiteral(Token{Kind: TokInt, Int: n}, t, out)
			}
		}
	}
	return mismatch(t, tok)
}

func (d *Decoder) decodeCustom(src Source, tok Token, t *schema.Type, out reflect.Value) error {
	if (tok.Kind == TokNative || tok.Kind == TokObject) && tok.Value.Type().AssignableTo(out.Type()) {
		out.Set(tok.Value)
		return nil
	}
	generic := reflect.New(anyType).Elem()
	if err := d.decodeAny(src, tok, generic); err != nil {
		return err
	}
	if d.DecHook == nil {
		return mismatch(t, tok)
	}
	res, err := d.DecHook(t.GoType, generic.Interface())
	if err != nil {
		return hookError(err)
	}
	return assign(out, reflect.ValueOf(res))
}

// hookError normalizes an error returned by a user hook. Type mismatches
// become ValidationErrors so the path is attached while unwinding; any
// other error is returned as is.
func hookError(err error) error {
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	if errors.Is(err, schema.ErrTypeMismatch) {
		return &schema.ValidationError{Message: err.Error(), Err: err}
	}
	return err
}

// ============================================================
// Helpers
// ============================================================

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append([]byte(nil), b...)
}

func setString(out reflect.Value, s string) {
	if out.Kind() == reflect.Interface {
		out.Set(reflect.ValueOf(s))
	} else {
		out.SetString(s)
	}
}

// assign stores v into out. Interface targets receive v or, when only *T
// implements the interface, a pointer to a copy. Numeric, string and other
// same-kind values convert to the target's named type.
func assign(out, v reflect.Value) error {
	if !v.IsValid() {
		out.Set(reflect.Zero(out.Type()))
		return nil
	}
	vt, ot := v.Type(), out.Type()
	switch {
	case vt.AssignableTo(ot):
		out.Set(v)
	case ot.Kind() == reflect.Interface && reflect.PointerTo(vt).Implements(ot):
		p := reflect.New(vt)
		p.Elem().Set(v)
		out.Set(p)
	case vt.ConvertibleTo(ot) && sameFamily(vt.Kind(), ot.Kind()):
		cv := v.Convert(ot)
		if isInteger(ot.Kind()) && !reflect.DeepEqual(cv.Convert(vt).Interface(), v.Interface()) {
			return schema.Invalidf("Expected `%s`, got `%s` out of range", ot, vt)
		}
		out.Set(cv)
	case ot.Kind() == reflect.Ptr && vt.AssignableTo(ot.Elem()):
		p := reflect.New(vt)
		p.Elem().Set(v)
		out.Set(p)
	default:
		return schema.Mismatch(ot.String(), vt.String())
	}
	return nil
}

func isInteger(k reflect.Kind) bool { return k >= reflect.Int && k <= reflect.Uintptr }

func isNumber(k reflect.Kind) bool {
	return isInteger(k) || k == reflect.Float32 || k == reflect.Float64
}

func sameFamily(a, b reflect.Kind) bool {
	return a == b || (isNumber(a) && isNumber(b))
}

func atIndex(err error, i int) error {
	if ve, ok := err.(*schema.ValidationError); ok {
		return ve.AtIndex(i)
	}
	return err
}

func atField(err error, name string) error {
	if ve, ok := err.(*schema.ValidationError); ok {
		return ve.AtField(name)
	}
	return err
}

func atValue(err error) error {
	if ve, ok := err.(*schema.ValidationError); ok {
		return ve.AtValue()
	}
	return err
}

func atKey(err error) error {
	if ve, ok := err.(*schema.ValidationError); ok {
		return ve.AtKey()
	}
	return err
}
