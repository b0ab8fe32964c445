// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"database/sql"
	"fmt"
	"reflect"
)

var scannerInterface = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// ScanProxy is a shim for scanning query results into targets that cannot be
// scanned into directly: map values and non-pointer struct fields that may
// receive NULL.
type ScanProxy struct {
	original reflect.Value
	scan     reflect.Value
	key      reflect.Value
}

// OnSuccess copies the scanned value into the original target. NULL zeroes
// struct fields.
func (sp ScanProxy) OnSuccess() {
	if sp.key.IsValid() {
		sp.original.SetMapIndex(sp.key, sp.scan)
	} else {
		var val reflect.Value
		if !sp.scan.IsNil() {
			val = sp.scan.Elem()
		} else {
			val = reflect.Zero(sp.original.Type())
		}
		sp.original.Set(val)
	}
}

// ValidateOutputs takes the raw output arguments from the user and uses
// reflection to check that they are valid. Outputs must be maps with string
// keys or pointers to structs.
func ValidateOutputs(args []any) ([]reflect.Value, error) {
	var outputs []reflect.Value
	for _, arg := range args {
		v := reflect.ValueOf(arg)
		if isInvalidNil(v) {
			return nil, fmt.Errorf("need map or pointer to struct, got nil")
		}
		k := v.Kind()
		if k != reflect.Map && k != reflect.Pointer {
			return nil, fmt.Errorf("need map or pointer to struct, got %s", k)
		}
		if k == reflect.Pointer {
			v = v.Elem()
			k = v.Kind()
			if k != reflect.Struct && k != reflect.Map {
				return nil, fmt.Errorf("need map or pointer to struct, got pointer to %s", k)
			}
		}
		if k == reflect.Map && v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map keys must be strings, got %s", v.Type().Key().Kind())
		}
		outputs = append(outputs, v)
	}
	return outputs, nil
}

// ScanTargets returns one scan target per result column. A column goes to
// the first struct output with a matching db tag or field name, otherwise to
// the first map output. Columns that cannot be placed are an error. The
// returned proxies must have OnSuccess called after a successful Scan.
func ScanTargets(outputs []reflect.Value, columns []string) ([]any, []*ScanProxy, error) {
	var ptrs []any
	var proxies []*ScanProxy
	for _, column := range columns {
		ptr, proxy, err := scanTarget(outputs, column)
		if err != nil {
			return nil, nil, err
		}
		ptrs = append(ptrs, ptr)
		if proxy != nil {
			proxies = append(proxies, proxy)
		}
	}
	return ptrs, proxies, nil
}

func scanTarget(outputs []reflect.Value, column string) (any, *ScanProxy, error) {
	for _, out := range outputs {
		if out.Kind() != reflect.Struct {
			continue
		}
		info, err := getStructInfo(out.Type())
		if err != nil {
			return nil, nil, err
		}
		f, ok := info.member(column)
		if !ok {
			continue
		}
		val := out.Field(f.index)
		if !val.CanSet() {
			return nil, nil, fmt.Errorf("internal error: cannot set field %s of struct %s", f.name, out.Type().Name())
		}
		pt := reflect.PointerTo(val.Type())
		if val.Kind() != reflect.Pointer && !pt.Implements(scannerInterface) {
			scanVal := reflect.New(pt).Elem()
			return scanVal.Addr().Interface(), &ScanProxy{original: val, scan: scanVal}, nil
		}
		return val.Addr().Interface(), nil, nil
	}
	for _, out := range outputs {
		if out.Kind() != reflect.Map {
			continue
		}
		key := reflect.ValueOf(column).Convert(out.Type().Key())
		scanVal := reflect.New(out.Type().Elem()).Elem()
		return scanVal.Addr().Interface(), &ScanProxy{original: out, scan: scanVal, key: key}, nil
	}
	return nil, nil, fmt.Errorf("no output argument has a member for column %q", column)
}
