package typed

import (
	"reflect"

	"github.com/Neumenon/typewire/schema"
)

var (
	anySliceType    = reflect.TypeFor[[]any]()
	anySetType      = reflect.TypeFor[map[any]struct{}]()
	strAnyMapType   = reflect.TypeFor[map[string]any]()
	anyAnyMapType   = reflect.TypeFor[map[any]any]()
	emptyStructZero = reflect.ValueOf(struct{}{})
)

// initialCap bounds preallocation from untrusted length headers.
func initialCap(n int) int { return min(max(n, 0), 1024) }

// ============================================================
// Untyped values
// ============================================================

// decodeAny builds the generic representation: nil, bool, int64 (uint64
// above MaxInt64), float64, string, []byte, time.Time, Ext, []any and
// map[string]any (map[any]any when a key is not a string). Arrays in a
// hashable position become Go arrays so they can be set members or keys.
func (d *Decoder) decodeAny(src Source, tok Token, out reflect.Value) error {
	var v any
	switch tok.Kind {
	case TokNull:
		out.Set(reflect.Zero(out.Type()))
		return nil
	case TokBool:
		v = tok.Bool
	case TokInt:
		v = tok.Int
	case TokUint:
		v = tok.Uint
	case TokFloat, TokBigInt:
		v = tok.Float
	case TokStr:
		v = tok.Str
	case TokBytes:
		v = clone(tok.Bytes)
	case TokDateTime:
		v = tok.Time
	case TokExt:
		data := clone(tok.Ext.Data)
		if d.ExtHook == nil {
			v = schema.Ext{Code: tok.Ext.Code, Data: data}
			break
		}
		res, err := d.ExtHook(tok.Ext.Code, data)
		if err != nil {
			return hookError(err)
		}
		v = res
	case TokNative, TokObject:
		return assign(out, tok.Value)
	case TokArray:
		return d.anyArray(src, out)
	case TokMap:
		return d.anyMap(src, out)
	}
	return assign(out, reflect.ValueOf(v))
}

func (d *Decoder) anyArray(src Source, out reflect.Value) error {
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()
	hashable := d.hashable
	var items []reflect.Value
	for i := 0; ; i++ {
		more, err := src.More()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		tok, err := src.Next()
		if err != nil {
			return err
		}
		el := reflect.New(anyType).Elem()
		if err := d.decodeAny(src, tok, el); err != nil {
			return atIndex(err, i)
		}
		items = append(items, el)
	}
	var res reflect.Value
	if hashable {
		res = reflect.New(reflect.ArrayOf(len(items), anyType)).Elem()
	} else {
		res = reflect.MakeSlice(anySliceType, len(items), len(items))
	}
	for i, el := range items {
		res.Index(i).Set(el)
	}
	return assign(out, res)
}

func (d *Decoder) anyMap(src Source, out reflect.Value) error {
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()
	prev := d.hashable
	d.hashable = false
	defer func() { d.hashable = prev }()

	var keys, vals []reflect.Value
	allStr := true
	for {
		more, err := src.More()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		ktok, err := src.Next()
		if err != nil {
			return err
		}
		k := reflect.New(anyType).Elem()
		d.hashable = true
		err = d.decodeAny(src, ktok, k)
		d.hashable = false
		if err != nil {
			return atKey(err)
		}
		if !k.Comparable() {
			return schema.Invalidf("Expected a hashable key, got `%s`", gotName(ktok)).AtKey()
		}
		if k.IsNil() || k.Elem().Kind() != reflect.String {
			allStr = false
		}
		vtok, err := src.Next()
		if err != nil {
			return err
		}
		v := reflect.New(anyType).Elem()
		if err := d.decodeAny(src, vtok, v); err != nil {
			return atValue(err)
		}
		keys, vals = append(keys, k), append(vals, v)
	}
	mt := strAnyMapType
	if !allStr {
		mt = anyAnyMapType
	}
	m := reflect.MakeMapWithSize(mt, len(keys))
	for i, k := range keys {
		if allStr {
			k = k.Elem()
		}
		m.SetMapIndex(k, vals[i])
	}
	return assign(out, m)
}

// decodeKey decodes a set member or mapping key.
func (d *Decoder) decodeKey(src Source, tok Token, t *schema.Type, out reflect.Value) error {
	prev := d.hashable
	d.hashable = true
	defer func() { d.hashable = prev }()
	if err := d.decodeToken(src, tok, t, out); err != nil {
		return err
	}
	if !out.Comparable() {
		return schema.Invalidf("Expected a hashable value, got `%s`", gotName(tok))
	}
	return nil
}

// ============================================================
// Typed collections
// ============================================================

func (d *Decoder) decodeList(src Source, tok Token, t *schema.Type, out reflect.Value) error {
	if tok.Kind != TokArray {
		return mismatch(t, tok)
	}
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()
	hashable := d.hashable
	d.hashable = false
	defer func() { d.hashable = hashable }()

	st := out.Type()
	if t.GoType == nil {
		st = anySliceType
	}
	sl := reflect.MakeSlice(st, 0, initialCap(tok.Len))
	zero := reflect.Zero(st.Elem())
	n := 0
	for {
		more, err := src.More()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		sl = reflect.Append(sl, zero)
		if err := d.decode(src, t.Item, sl.Index(n)); err != nil {
			return atIndex(err, n)
		}
		n++
	}
	if msg := t.Constraints.CheckLen(n, "array"); msg != "" {
		return schema.Invalidf("%s", msg)
	}
	if t.GoType == nil && hashable {
		arr := reflect.New(reflect.ArrayOf(n, anyType)).Elem()
		reflect.Copy(arr, sl)
		return assign(out, arr)
	}
	return assign(out, sl)
}

func (d *Decoder) decodeSet(src Source, tok Token, t *schema.Type, out reflect.Value) error {
	if tok.Kind != TokArray {
		return mismatch(t, tok)
	}
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()

	mt := out.Type()
	if t.GoType == nil {
		mt = anySetType
	}
	m := reflect.MakeMapWithSize(mt, initialCap(tok.Len))
	for i := 0; ; i++ {
		more, err := src.More()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		itok, err := src.Next()
		if err != nil {
			return err
		}
		k := reflect.New(mt.Key()).Elem()
		if err := d.decodeKey(src, itok, t.Item, k); err != nil {
			return atIndex(err, i)
		}
		m.SetMapIndex(k, emptyStructZero.Convert(mt.Elem()))
	}
	if msg := t.Constraints.CheckLen(m.Len(), "array"); msg != "" {
		return schema.Invalidf("%s", msg)
	}
	return assign(out, m)
}

func (d *Decoder) decodeTuple(src Source, tok Token, t *schema.Type, out reflect.Value) error {
	if tok.Kind != TokArray {
		return mismatch(t, tok)
	}
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()
	hashable := d.hashable
	d.hashable = false
	defer func() { d.hashable = hashable }()

	n := len(t.Items)
	holder := out
	if t.GoType == nil {
		holder = reflect.New(reflect.ArrayOf(n, anyType)).Elem()
	}
	i := 0
	for {
		more, err := src.More()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		if i == n {
			extra, err := drain(src)
			if err != nil {
				return err
			}
			return schema.Invalidf("Expected `array` of length %d, got %d", n, n+extra)
		}
		if err := d.decode(src, t.Items[i], holder.Index(i)); err != nil {
			return atIndex(err, i)
		}
		i++
	}
	if i < n {
		return schema.Invalidf("Expected `array` of length %d, got %d", n, i)
	}
	if t.GoType == nil {
		if hashable {
			return assign(out, holder)
		}
		return assign(out, holder.Slice(0, n))
	}
	return nil
}

// drain skips the remaining elements of the open array, counting them.
func drain(src Source) (int, error) {
	n := 0
	for {
		more, err := src.More()
		if err != nil || !more {
			return n, err
		}
		if err := src.Skip(); err != nil {
			return n, err
		}
		n++
	}
}

func (d *Decoder) decodeDict(src Source, tok Token, t *schema.Type, out reflect.Value) error {
	if tok.Kind != TokMap {
		return mismatch(t, tok)
	}
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()
	hashable := d.hashable
	d.hashable = false
	defer func() { d.hashable = hashable }()

	mt := out.Type()
	if t.GoType == nil {
		mt = anyAnyMapType
		if t.Key.Unwrap().Kind == schema.KindStr {
			mt = strAnyMapType
		}
	}
	m := reflect.MakeMapWithSize(mt, initialCap(tok.Len))
	for {
		more, err := src.More()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		ktok, err := src.Next()
		if err != nil {
			return err
		}
		k := reflect.New(mt.Key()).Elem()
		if err := d.decodeKey(src, ktok, t.Key, k); err != nil {
			return atKey(err)
		}
		v := reflect.New(mt.Elem()).Elem()
		if err := d.decode(src, t.Value, v); err != nil {
			return atValue(err)
		}
		m.SetMapIndex(k, v)
	}
	if msg := t.Constraints.CheckLen(m.Len(), "object"); msg != "" {
		return schema.Invalidf("%s", msg)
	}
	return assign(out, m)
}
