// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

var cacheMutex sync.RWMutex
var cache = make(map[reflect.Type]*structInfo)

// structField is a member of a struct reachable by its db tag or its Go
// field name.
type structField struct {
	name  string
	tag   string
	index int
}

// structInfo holds the reflection information for a struct type.
type structInfo struct {
	structType reflect.Type
	// tags holds the db tags in field order.
	tags       []string
	tagToField map[string]*structField
	// nameToField also includes fields without a db tag.
	nameToField map[string]*structField
}

// member looks up a field first by db tag and then by Go field name.
func (si *structInfo) member(name string) (*structField, bool) {
	if f, ok := si.tagToField[name]; ok {
		return f, true
	}
	f, ok := si.nameToField[name]
	return f, ok
}

// getStructInfo returns the structInfo of a struct type, generating and
// caching it as required.
func getStructInfo(t reflect.Type) (*structInfo, error) {
	cacheMutex.RLock()
	info, found := cache[t]
	cacheMutex.RUnlock()
	if found {
		return info, nil
	}

	info, err := generate(t)
	if err != nil {
		return nil, err
	}

	cacheMutex.Lock()
	cache[t] = info
	cacheMutex.Unlock()

	return info, nil
}

// generate produces the reflection information for the struct type that is
// required by sqlgen.
func generate(t reflect.Type) (*structInfo, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("internal error: attempted to reflect %s as struct", t.Kind())
	}

	info := &structInfo{
		structType:  t,
		tagToField:  make(map[string]*structField),
		nameToField: make(map[string]*structField),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		f := &structField{name: field.Name, index: i}
		info.nameToField[field.Name] = f

		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		name, _, err := ParseTag(tag)
		if err != nil {
			return nil, fmt.Errorf("cannot parse tag for field %s.%s: %s", t.Name(), field.Name, err)
		}
		if _, ok := info.tagToField[name]; ok {
			return nil, fmt.Errorf("db tag %q appears in both field %s and field %s of struct %s",
				name, info.tagToField[name].name, field.Name, t.Name())
		}
		f.tag = name
		info.tagToField[name] = f
		info.tags = append(info.tags, name)
	}

	return info, nil
}

// This expression should be aligned with the bytes we allow in isNameChar in
// the parser.
var validColNameRx = regexp.MustCompile(`^([a-zA-Z_])+([a-zA-Z_0-9])*$`)

// ParseTag parses a db tag and returns the column name and the remaining
// comma separated options. The options are not interpreted.
func ParseTag(tag string) (string, []string, error) {
	options := strings.Split(tag, ",")

	name := options[0]
	if len(name) == 0 {
		return "", nil, fmt.Errorf("empty db tag")
	}
	if !validColNameRx.MatchString(name) {
		return "", nil, fmt.Errorf("invalid column name in 'db' tag: %q", name)
	}
	for _, opt := range options[1:] {
		if opt == "" {
			return "", nil, fmt.Errorf("empty option in 'db' tag %q", tag)
		}
	}

	return name, options[1:], nil
}
