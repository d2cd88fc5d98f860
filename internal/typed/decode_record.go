package typed

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/Neumenon/typewire/schema"
)

// ============================================================
// Unions
// ============================================================

func (d *Decoder) decodeUnion(src Source, tok Token, t *schema.Type, out reflect.Value) error {
	if t.IsOptionalPointer() {
		if tok.Kind == TokNull {
			out.Set(reflect.Zero(out.Type()))
			return nil
		}
		p := reflect.New(t.GoType.Elem())
		if err := d.decodeToken(src, tok, t.Inner, p.Elem()); err != nil {
			return err
		}
		return assign(out, p)
	}

	disp, err := t.Dispatch(d.Format)
	if err != nil {
		return err
	}
	switch tok.Kind {
	case TokNull:
		if disp.Null {
			out.Set(reflect.Zero(out.Type()))
			return nil
		}
		if disp.Custom == nil {
			return mismatch(t, tok)
		}
	case TokMap:
		if disp.ObjectTags != nil {
			return d.decodeTaggedObject(src, disp.ObjectTags, out)
		}
	case TokArray:
		if disp.ArrayTags != nil {
			return d.decodeTaggedArray(src, disp.ArrayTags, out)
		}
	case TokObject:
		for _, m := range t.UnionMembers() {
			if m.Unwrap().GoType == tok.Value.Type() {
				return assign(out, tok.Value)
			}
		}
		if disp.ObjectTags != nil && d.FromAttributes {
			return d.decodeTaggedAttrs(tok, disp.ObjectTags, out)
		}
	}
	m := d.pick(disp, tok)
	if m == nil {
		return mismatch(t, tok)
	}
	return d.decodeToken(src, tok, m, out)
}

// pick selects the member that accepts tok's wire category.
func (d *Decoder) pick(disp *schema.Dispatch, tok Token) *schema.Type {
	var m *schema.Type
	switch tok.Kind {
	case TokBool:
		m = disp.Bool
	case TokInt, TokUint:
		m = first(disp.Int, disp.Float, disp.Decimal, strKind(disp, schema.KindDecimal))
		if m == nil && !d.Strict {
			m = first(disp.DateTime, disp.Duration, strKind(disp, schema.KindDateTime), strKind(disp, schema.KindDuration))
		}
	case TokFloat, TokBigInt:
		m = first(disp.Float, disp.Decimal, strKind(disp, schema.KindDecimal))
		if m == nil && !d.Strict {
			m = first(disp.Int, disp.DateTime, disp.Duration)
		}
	case TokStr:
		m = disp.Str
		if m == nil {
			if fb := disp.StrFallback(); fb != nil && !d.Native[fb.Unwrap().Kind] {
				m = fb
			}
		}
		if m == nil && (!d.Strict || tok.IsKey) {
			if n, ok := numericText(tok.Str); ok {
				if n.Kind == TokFloat {
					m = first(disp.Float, disp.Int)
				} else {
					m = first(disp.Int, disp.Float)
				}
			}
			if m == nil {
				m = disp.Bool
			}
		}
	case TokBytes:
		m = disp.Bytes
		if m == nil && len(tok.Bytes) == 16 {
			m = disp.UUID
		}
	case TokDateTime:
		m = first(disp.DateTime, strKind(disp, schema.KindDateTime))
	case TokExt:
		m = disp.Ext
	case TokArray:
		m = disp.Array
	case TokMap:
		m = disp.Object
	case TokNative:
		var k schema.Kind
		switch tok.Value.Type() {
		case dateType:
			m, k = disp.Date, schema.KindDate
		case timeOfDayType:
			m, k = disp.Time, schema.KindTime
		case durationType:
			m, k = disp.Duration, schema.KindDuration
		case uuidType:
			m, k = disp.UUID, schema.KindUUID
		case decimalType:
			m, k = disp.Decimal, schema.KindDecimal
		}
		if m == nil && k != schema.KindAny {
			m = strKind(disp, k)
		}
	case TokObject:
		if d.FromAttributes {
			m = disp.Object
		}
	}
	if m == nil {
		m = disp.Custom
	}
	return m
}

func first(ts ...*schema.Type) *schema.Type {
	for _, t := range ts {
		if t != nil {
			return t
		}
	}
	return nil
}

// strKind returns the str-slot member when it is of kind k.
func strKind(disp *schema.Dispatch, k schema.Kind) *schema.Type {
	if disp.Str != nil && disp.Str.Unwrap().Kind == k {
		return disp.Str
	}
	return nil
}

// lookupTag resolves a tag value token against a tag table.
func lookupTag(tt *schema.TagTable, v Token) (*schema.StructInfo, *schema.ValidationError) {
	switch {
	case v.Kind == TokStr && tt.HasStrTags():
		if si, ok := tt.LookupStr(v.Str); ok {
			return si, nil
		}
		return nil, schema.Invalidf("Invalid value '%s'", v.Str)
	case v.Kind == TokInt && tt.HasIntTags():
		if si, ok := tt.LookupInt(v.Int); ok {
			return si, nil
		}
		return nil, schema.Invalidf("Invalid value %d", v.Int)
	case tt.HasStrTags():
		return nil, schema.Mismatch("str", gotName(v))
	}
	return nil, schema.Mismatch("int", gotName(v))
}

// checkTag validates the tag value of a directly decoded tagged struct.
func checkTag(si *schema.StructInfo, v Token) *schema.ValidationError {
	switch want := si.Tag.(type) {
	case string:
		if v.Kind != TokStr {
			return schema.Mismatch("str", gotName(v))
		}
		if v.Str != want {
			return schema.Invalidf("Invalid value '%s'", v.Str)
		}
	case int64:
		if v.Kind != TokInt {
			return schema.Mismatch("int", gotName(v))
		}
		if v.Int != want {
			return schema.Invalidf("Invalid value %d", v.Int)
		}
	}
	return nil
}

// decodeTaggedObject scans the open object for the tag field, which may
// appear at any position, then rewinds and decodes the selected member.
func (d *Decoder) decodeTaggedObject(src Source, tt *schema.TagTable, out reflect.Value) error {
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()
	snap := src.Save()
	var si *schema.StructInfo
	for si == nil {
		more, err := src.More()
		if err != nil {
			return err
		}
		if !more {
			return schema.Invalidf("Object missing required field `%s`", tt.Field)
		}
		k, err := src.Next()
		if err != nil {
			return err
		}
		if k.Kind != TokStr || k.Str != tt.Field {
			if err := src.Skip(); err != nil {
				return err
			}
			continue
		}
		v, err := src.Next()
		if err != nil {
			return err
		}
		var verr *schema.ValidationError
		if si, verr = lookupTag(tt, v); verr != nil {
			return verr.AtField(tt.Field)
		}
	}
	src.Restore(snap)
	return d.memberRecord(si, out, func(rec reflect.Value) error {
		return d.recordObject(src, si, rec)
	})
}

func (d *Decoder) decodeTaggedArray(src Source, tt *schema.TagTable, out reflect.Value) error {
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()
	more, err := src.More()
	if err != nil {
		return err
	}
	if !more {
		return schema.Invalidf("Expected `array` of at least length 1, got 0")
	}
	v, err := src.Next()
	if err != nil {
		return err
	}
	si, verr := lookupTag(tt, v)
	if verr != nil {
		return verr.AtIndex(0)
	}
	return d.memberRecord(si, out, func(rec reflect.Value) error {
		return d.recordArray(src, si, rec, true)
	})
}

func (d *Decoder) decodeTaggedAttrs(tok Token, tt *schema.TagTable, out reflect.Value) error {
	raw, ok := tok.Getter.GetField(tt.Field)
	if !ok {
		return schema.Invalidf("Object missing required field `%s`", tt.Field)
	}
	vs := NewValueSource(raw)
	v, err := vs.Next()
	if err != nil {
		return err
	}
	si, verr := lookupTag(tt, v)
	if verr != nil {
		return verr.AtField(tt.Field)
	}
	return d.memberRecord(si, out, func(rec reflect.Value) error {
		return d.recordAttrs(tok, si, rec)
	})
}

// memberRecord decodes a union member struct into a fresh value and stores
// it into the union-typed out.
func (d *Decoder) memberRecord(si *schema.StructInfo, out reflect.Value, fill func(reflect.Value) error) error {
	rec := reflect.New(si.GoType).Elem()
	if err := fill(rec); err != nil {
		return err
	}
	return assign(out, rec)
}

// ============================================================
// Records
// ============================================================

func (d *Decoder) decodeRecord(src Source, tok Token, t *schema.Type, out reflect.Value) error {
	si := t.Struct
	switch {
	case tok.Kind == TokMap && !si.ArrayLike:
		if err := d.enter(); err != nil {
			return err
		}
		defer d.leave()
		return d.recordObject(src, si, out)
	case tok.Kind == TokArray && si.ArrayLike:
		if err := d.enter(); err != nil {
			return err
		}
		defer d.leave()
		return d.recordArray(src, si, out, false)
	case tok.Kind == TokObject && d.FromAttributes && si.Kind != schema.KindNamedTuple:
		if err := d.enter(); err != nil {
			return err
		}
		defer d.leave()
		return d.recordAttrs(tok, si, out)
	}
	return mismatch(t, tok)
}

// record accumulates decoded fields. Go structs are filled in place;
// typed dicts and named tuples collect generic values.
type record struct {
	si   *schema.StructInfo
	out  reflect.Value
	vals []reflect.Value
	seen []bool
}

func newRecord(si *schema.StructInfo, out reflect.Value) *record {
	r := &record{si: si, out: out, seen: make([]bool, len(si.Fields))}
	if si.GoType == nil || out.Type() != si.GoType {
		r.vals = make([]reflect.Value, len(si.Fields))
		for i := range r.vals {
			r.vals[i] = reflect.New(anyType).Elem()
		}
	}
	return r
}

func (r *record) slot(i int) reflect.Value {
	if r.vals != nil {
		return r.vals[i]
	}
	return r.out.FieldByIndex(r.si.Fields[i].Index)
}

// finish fills defaults, reports missing required fields, builds generic
// values and runs the post-init hook. byName selects Go names for messages
// (from-attributes input).
func (d *Decoder) finish(r *record, byName bool) error {
	si := r.si
	for i, f := range si.Fields {
		if r.seen[i] {
			continue
		}
		def, ok := f.NewDefault()
		if !ok {
			if f.Required {
				name := f.WireName
				if byName {
					name = f.Name
				}
				return schema.Invalidf("Object missing required field `%s`", name)
			}
			continue
		}
		if err := assign(r.slot(i), reflect.ValueOf(def)); err != nil {
			return err
		}
		r.seen[i] = true
	}
	if r.vals != nil {
		if err := r.commit(); err != nil {
			return err
		}
	}
	if si.PostInit && r.out.CanAddr() && r.out.Type() == si.GoType {
		// PostInit errors are validation failures at the struct's path.
		if err := r.out.Addr().Interface().(schema.PostIniter).PostInit(); err != nil {
			var ve *schema.ValidationError
			if errors.As(err, &ve) {
				return ve
			}
			return &schema.ValidationError{Message: err.Error(), Err: err}
		}
	}
	return nil
}

func (r *record) commit() error {
	if r.si.ArrayLike {
		items := make([]any, 0, len(r.vals))
		for i, v := range r.vals {
			if r.seen[i] {
				items = append(items, v.Interface())
			}
		}
		return assign(r.out, reflect.ValueOf(items))
	}
	m := make(map[string]any, len(r.vals))
	for i, v := range r.vals {
		if r.seen[i] {
			m[r.si.Fields[i].WireName] = v.Interface()
		}
	}
	return assign(r.out, reflect.ValueOf(m))
}

// recordObject decodes the entries of an open object into a record.
func (d *Decoder) recordObject(src Source, si *schema.StructInfo, out reflect.Value) error {
	r := newRecord(si, out)
	for {
		more, err := src.More()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		k, err := src.Next()
		if err != nil {
			return err
		}
		if k.Kind != TokStr {
			return schema.Mismatch("str", gotName(k)).AtKey()
		}
		if si.Tagged() && k.Str == si.TagField {
			v, err := src.Next()
			if err != nil {
				return err
			}
			if verr := checkTag(si, v); verr != nil {
				return verr.AtField(k.Str)
			}
			continue
		}
		i, ok := si.FieldByWire(k.Str)
		if !ok {
			if si.ForbidUnknownFields {
				return schema.Invalidf("Object contains unknown field `%s`", k.Str)
			}
			if err := src.Skip(); err != nil {
				return err
			}
			continue
		}
		if err := d.decode(src, si.Fields[i].Type, r.slot(i)); err != nil {
			return atField(err, k.Str)
		}
		r.seen[i] = true
	}
	return d.finish(r, false)
}

// recordArray decodes the elements of an open array into a record. When
// tagDone is set the leading tag element was already consumed.
func (d *Decoder) recordArray(src Source, si *schema.StructInfo, out reflect.Value, tagDone bool) error {
	r := newRecord(si, out)
	offset := 0
	if si.Tagged() {
		offset = 1
	}
	pos := 0
	if si.Tagged() && !tagDone {
		more, err := src.More()
		if err != nil {
			return err
		}
		if !more {
			return arrayTooShort(si, offset, 0)
		}
		v, err := src.Next()
		if err != nil {
			return err
		}
		if verr := checkTag(si, v); verr != nil {
			return verr.AtIndex(0)
		}
	}
	pos = offset

	closed := false
	n := 0
	for n < len(si.Fields) {
		more, err := src.More()
		if err != nil {
			return err
		}
		if !more {
			closed = true
			break
		}
		if err := d.decode(src, si.Fields[n].Type, r.slot(n)); err != nil {
			return atIndex(err, pos)
		}
		r.seen[n] = true
		n++
		pos++
	}
	if !closed {
		extra, err := drain(src)
		if err != nil {
			return err
		}
		if extra > 0 && si.ForbidUnknownFields {
			return schema.Invalidf("Expected `array` of at most length %d, got %d", len(si.Fields)+offset, pos+extra)
		}
	}
	if n < len(si.Fields) {
		needed := 0
		for i, f := range si.Fields {
			if f.Required && !f.HasDefaultValue() {
				needed = i + 1
			}
		}
		if n < needed {
			return arrayTooShort(si, needed+offset, pos)
		}
	}
	return d.finish(r, false)
}

func arrayTooShort(si *schema.StructInfo, need, got int) *schema.ValidationError {
	return schema.Invalidf("Expected `array` of at least length %d, got %d", max(need, 1), got)
}

// recordAttrs reads fields through the token's FieldGetter. The Go field
// name is tried first, then the wire name; errors name whichever matched.
func (d *Decoder) recordAttrs(tok Token, si *schema.StructInfo, out reflect.Value) error {
	r := newRecord(si, out)
	for i, f := range si.Fields {
		name := f.Name
		v, ok := tok.Getter.GetField(name)
		if !ok && f.WireName != f.Name {
			name = f.WireName
			v, ok = tok.Getter.GetField(name)
		}
		if !ok {
			continue
		}
		if err := d.decode(NewValueSource(v), f.Type, r.slot(i)); err != nil {
			return atField(err, name)
		}
		r.seen[i] = true
	}
	return d.finish(r, true)
}
