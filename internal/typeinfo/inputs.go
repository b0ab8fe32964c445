// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
	"strings"
)

// Inputs holds the validated input arguments of a statement and records which
// of them the statement referenced.
type Inputs struct {
	args []reflect.Value
	used []bool
}

// ValidateInputs takes the raw input arguments from the user and uses
// reflection to check that they are valid. Each argument must be a struct, a
// pointer to a struct or a map with string keys.
func ValidateInputs(args []any) (*Inputs, error) {
	in := &Inputs{}
	for i, arg := range args {
		v := reflect.ValueOf(arg)
		if isInvalidNil(v) {
			return nil, fmt.Errorf("argument %d: need struct or map, got nil", i)
		}
		v = reflect.Indirect(v)
		switch v.Kind() {
		case reflect.Struct:
		case reflect.Map:
			if v.Type().Key().Kind() != reflect.String {
				return nil, fmt.Errorf("argument %d: map keys must be strings, got %s", i, v.Type().Key().Kind())
			}
		default:
			return nil, fmt.Errorf("argument %d: need struct or map, got %s", i, v.Kind())
		}
		in.args = append(in.args, v)
	}
	in.used = make([]bool, len(in.args))
	return in, nil
}

// Locate returns the value named by a host variable path such as
// ["person", "name"]. The first element is looked up as a key or member in
// every argument and must be found in exactly one of them. The remaining
// elements select members of the value found.
func (in *Inputs) Locate(path []string) (reflect.Value, error) {
	if len(path) == 0 {
		return reflect.Value{}, fmt.Errorf("internal error: empty host variable path")
	}
	var found reflect.Value
	foundAt := -1
	for i, arg := range in.args {
		v, ok, err := Member(arg, path[0])
		if err != nil {
			return reflect.Value{}, err
		}
		if !ok {
			continue
		}
		if foundAt >= 0 {
			return reflect.Value{}, fmt.Errorf("%q is ambiguous: found in argument %d (%s) and argument %d (%s)",
				path[0], foundAt, describe(in.args[foundAt]), i, describe(arg))
		}
		found, foundAt = v, i
	}
	if foundAt < 0 {
		descs := make([]string, 0, len(in.args))
		for _, arg := range in.args {
			descs = append(descs, describe(arg))
		}
		if len(descs) == 0 {
			return reflect.Value{}, fmt.Errorf("%q not found: no arguments provided", path[0])
		}
		return reflect.Value{}, fmt.Errorf("%q not found in arguments: %s", path[0], strings.Join(descs, ", "))
	}
	in.used[foundAt] = true

	v := found
	for i, name := range path[1:] {
		m, ok, err := Member(v, name)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%s: %s", strings.Join(path[:i+1], "."), err)
		}
		if !ok {
			return reflect.Value{}, fmt.Errorf("%s has no member %q", strings.Join(path[:i+1], "."), name)
		}
		v = m
	}
	return v, nil
}

// CheckAllUsed returns an error naming the first argument that was never
// located.
func (in *Inputs) CheckAllUsed() error {
	for i, used := range in.used {
		if !used {
			return fmt.Errorf("argument %d (%s) not referenced in statement", i, describe(in.args[i]))
		}
	}
	return nil
}

// Member returns the member of a struct or map value with the given name.
// Struct members are found by db tag and then by Go field name. Pointers and
// interfaces are followed. The boolean result is false when the member does
// not exist.
func Member(v reflect.Value, name string) (reflect.Value, bool, error) {
	v, err := deref(v)
	if err != nil {
		return reflect.Value{}, false, err
	}
	switch v.Kind() {
	case reflect.Struct:
		info, err := getStructInfo(v.Type())
		if err != nil {
			return reflect.Value{}, false, err
		}
		f, ok := info.member(name)
		if !ok {
			return reflect.Value{}, false, nil
		}
		return v.Field(f.index), true, nil
	case reflect.Map:
		keyType := v.Type().Key()
		if keyType.Kind() != reflect.String {
			return reflect.Value{}, false, fmt.Errorf("map keys must be strings, got %s", keyType.Kind())
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(keyType))
		if !mv.IsValid() {
			return reflect.Value{}, false, nil
		}
		return mv, true, nil
	default:
		return reflect.Value{}, false, fmt.Errorf("cannot get member %q of %s", name, v.Kind())
	}
}

// Elements returns the elements of a slice or array value.
func Elements(v reflect.Value) ([]reflect.Value, error) {
	v, err := deref(v)
	if err != nil {
		return nil, err
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("need slice or array, got %s", v.Kind())
	}
	elems := make([]reflect.Value, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		elems = append(elems, v.Index(i))
	}
	return elems, nil
}

// Rows returns the rows held by a value: the elements of a slice or array, or
// the value itself when it is a single struct or map.
func Rows(v reflect.Value) ([]reflect.Value, error) {
	d, err := deref(v)
	if err != nil {
		return nil, err
	}
	switch d.Kind() {
	case reflect.Slice, reflect.Array:
		return Elements(d)
	case reflect.Struct, reflect.Map:
		return []reflect.Value{d}, nil
	default:
		return nil, fmt.Errorf("need struct, map or slice of them, got %s", d.Kind())
	}
}

// deref follows pointers and interfaces.
func deref(v reflect.Value) (reflect.Value, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("unexpected nil %s", v.Type())
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("unexpected invalid value")
	}
	return v, nil
}

func describe(v reflect.Value) string {
	t := v.Type()
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

func isInvalidNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Pointer, reflect.Map:
		return v.IsNil()
	}
	return false
}
