package schema

import (
	"reflect"
)

// DeepCopy returns a copy of v sharing no mutable slices, maps or pointers
// with it. Unexported struct state is copied by value. Pointer cycles are
// preserved.
func DeepCopy(v any) any {
	if v == nil {
		return nil
	}
	s := reflect.ValueOf(v)
	d := reflect.New(s.Type()).Elem()
	deepCopy(d, s, map[uintptr]reflect.Value{})
	return d.Interface()
}

func deepCopy(d, s reflect.Value, seen map[uintptr]reflect.Value) {
	switch s.Kind() {
	case reflect.Struct:
		d.Set(s)
		for i, n := 0, s.NumField(); i < n; i++ {
			if !d.Field(i).CanSet() {
				continue // unexported, already copied by value
			}
			deepCopy(d.Field(i), s.Field(i), seen)
		}
	case reflect.Map:
		if s.IsNil() {
			d.Set(s)
			return
		}
		m := reflect.MakeMapWithSize(s.Type(), s.Len())
		iter := s.MapRange()
		for iter.Next() {
			v := reflect.New(s.Type().Elem()).Elem()
			deepCopy(v, iter.Value(), seen)
			m.SetMapIndex(iter.Key(), v)
		}
		d.Set(m)
	case reflect.Slice:
		if s.IsNil() {
			d.Set(s)
			return
		}
		sl := reflect.MakeSlice(s.Type(), s.Len(), s.Len())
		for i := 0; i < s.Len(); i++ {
			deepCopy(sl.Index(i), s.Index(i), seen)
		}
		d.Set(sl)
	case reflect.Array:
		for i := 0; i < s.Len(); i++ {
			deepCopy(d.Index(i), s.Index(i), seen)
		}
	case reflect.Ptr:
		if s.IsNil() {
			d.Set(s)
			return
		}
		if prev, cyclic := seen[s.Pointer()]; cyclic {
			d.Set(prev)
			return
		}
		p := reflect.New(s.Type().Elem())
		seen[s.Pointer()] = p
		deepCopy(p.Elem(), s.Elem(), seen)
		d.Set(p)
	case reflect.Interface:
		if s.IsNil() {
			d.Set(s)
			return
		}
		inner := reflect.New(s.Elem().Type()).Elem()
		deepCopy(inner, s.Elem(), seen)
		d.Set(inner)
	default:
		d.Set(s)
	}
}
