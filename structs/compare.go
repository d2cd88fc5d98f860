package structs

import (
	"bytes"
	"cmp"
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/Neumenon/typewire/schema"
)

var (
	timeType    = reflect.TypeFor[time.Time]()
	decimalType = reflect.TypeFor[schema.Decimal]()
	bigIntType  = reflect.TypeFor[big.Int]()
)

// compareValues orders two values of the same Go type. Nil pointers sort
// before non-nil ones; sequences compare element-wise, then by length.
func compareValues(a, b reflect.Value) (int, error) {
	switch a.Type() {
	case timeType:
		return a.Interface().(time.Time).Compare(b.Interface().(time.Time)), nil
	case decimalType:
		return a.Interface().(schema.Decimal).Cmp(b.Interface().(schema.Decimal)), nil
	case bigIntType:
		if a.CanAddr() && b.CanAddr() {
			return a.Addr().Interface().(*big.Int).Cmp(b.Addr().Interface().(*big.Int)), nil
		}
		x, y := new(big.Int), new(big.Int)
		reflect.ValueOf(x).Elem().Set(a)
		reflect.ValueOf(y).Elem().Set(b)
		return x.Cmp(y), nil
	}

	switch a.Kind() {
	case reflect.Bool:
		x, y := a.Bool(), b.Bool()
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		}
		return 1, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(a.Int(), b.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return cmp.Compare(a.Uint(), b.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(a.Float(), b.Float()), nil
	case reflect.String:
		return cmp.Compare(a.String(), b.String()), nil
	case reflect.Ptr, reflect.Interface:
		switch {
		case a.IsNil() && b.IsNil():
			return 0, nil
		case a.IsNil():
			return -1, nil
		case b.IsNil():
			return 1, nil
		}
		ea, eb := a.Elem(), b.Elem()
		if ea.Type() != eb.Type() {
			return 0, fmt.Errorf("cannot compare %s with %s", ea.Type(), eb.Type())
		}
		return compareValues(ea, eb)
	case reflect.Slice, reflect.Array:
		if a.Type().Elem().Kind() == reflect.Uint8 && a.Kind() == reflect.Slice {
			return bytes.Compare(a.Bytes(), b.Bytes()), nil
		}
		n := min(a.Len(), b.Len())
		for i := 0; i < n; i++ {
			c, err := compareValues(a.Index(i), b.Index(i))
			if err != nil || c != 0 {
				return c, err
			}
		}
		return cmp.Compare(a.Len(), b.Len()), nil
	case reflect.Struct:
		for i := 0; i < a.NumField(); i++ {
			if !a.Type().Field(i).IsExported() {
				continue
			}
			c, err := compareValues(a.Field(i), b.Field(i))
			if err != nil || c != 0 {
				return c, err
			}
		}
		return 0, nil
	}
	return 0, fmt.Errorf("values of type %s are not ordered", a.Type())
}
