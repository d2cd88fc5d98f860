package typed

import (
	"cmp"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/Neumenon/typewire/schema"
)

// compareKeys orders two mapping keys or set members of compatible types.
// ok is false when the values cannot be compared with each other.
func compareKeys(a, b reflect.Value) (int, bool) {
	a, b = derefKey(a), derefKey(b)
	if !a.IsValid() || !b.IsValid() {
		switch {
		case !a.IsValid() && !b.IsValid():
			return 0, true
		case !a.IsValid():
			return -1, true
		}
		return 1, true
	}
	if a.Type() != b.Type() {
		switch {
		case isInteger(a.Kind()) && isInteger(b.Kind()):
			return compareInts(a, b), true
		case isNumber(a.Kind()) && isNumber(b.Kind()):
			return cmp.Compare(asFloat(a), asFloat(b)), true
		case a.Kind() == reflect.String && b.Kind() == reflect.String:
			return strings.Compare(a.String(), b.String()), true
		}
		return 0, false
	}
	switch a.Type() {
	case timeType:
		return a.Interface().(time.Time).Compare(b.Interface().(time.Time)), true
	case dateType:
		return a.Interface().(schema.Date).Compare(b.Interface().(schema.Date)), true
	case decimalType:
		return a.Interface().(schema.Decimal).Cmp(b.Interface().(schema.Decimal)), true
	}
	switch a.Kind() {
	case reflect.String:
		return strings.Compare(a.String(), b.String()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return compareInts(a, b), true
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(a.Float(), b.Float()), true
	case reflect.Bool:
		return cmp.Compare(boolInt(a.Bool()), boolInt(b.Bool())), true
	case reflect.Array:
		for i := 0; i < a.Len(); i++ {
			c, ok := compareKeys(a.Index(i), b.Index(i))
			if !ok || c != 0 {
				return c, ok
			}
		}
		return 0, true
	}
	return 0, false
}

// compareMixed gives values of unrelated types a consistent order: by type
// name, then by their printed form.
func compareMixed(a, b reflect.Value) int {
	a, b = derefKey(a), derefKey(b)
	ta, tb := typeName(a), typeName(b)
	if c := strings.Compare(ta, tb); c != 0 {
		return c
	}
	return strings.Compare(fmt.Sprint(safeInterface(a)), fmt.Sprint(safeInterface(b)))
}

func derefKey(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func typeName(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	return v.Type().String()
}

func safeInterface(v reflect.Value) any {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

func compareInts(a, b reflect.Value) int {
	aNeg, bNeg := isNegative(a), isNegative(b)
	switch {
	case aNeg && !bNeg:
		return -1
	case !aNeg && bNeg:
		return 1
	case aNeg:
		return cmp.Compare(a.Int(), b.Int())
	}
	return cmp.Compare(asUint(a), asUint(b))
}

func isNegative(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() < 0
	}
	return false
}

func asUint(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(v.Int())
	}
	return v.Uint()
}

func asFloat(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	}
	return float64(v.Uint())
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
