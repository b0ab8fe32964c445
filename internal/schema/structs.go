// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package schema

import (
	"database/sql"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canonical/sqlgen/internal/typeinfo"
)

// TableNamer may be implemented by structs passed to [FromStructs] to set
// the table name.
type TableNamer interface {
	TableName() string
}

// FromStructs derives table declarations from struct types. Columns come
// from fields carrying a "db" tag:
//
//	db:"name[,pk][,autoincrement][,unique][,uniqueid][,nullable][,binary][,default=SQL][,fk=table.column][,type=logical]"
//
// Table level attributes go on a blank field:
//
//	_ struct{} `table:"person,version=2"`
//
// The table name defaults to the TableName method, then to the lower cased
// type name. The returned schema has only tables; callers add shapes before
// calling [Schema.Validate].
func FromStructs(samples ...any) (*Schema, error) {
	s := &Schema{}
	for _, sample := range samples {
		t, err := tableFromStruct(sample)
		if err != nil {
			return nil, err
		}
		s.Tables = append(s.Tables, t)
	}
	return s, nil
}

var (
	timeType            = reflect.TypeOf(time.Time{})
	uuidType            = reflect.TypeOf(uuid.UUID{})
	rawMessageType      = reflect.TypeOf(json.RawMessage{})
	binaryMarshalerType = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
)

var nullTypes = map[reflect.Type]string{
	reflect.TypeOf(sql.NullString{}):  "string",
	reflect.TypeOf(sql.NullInt16{}):   "int",
	reflect.TypeOf(sql.NullInt32{}):   "int",
	reflect.TypeOf(sql.NullInt64{}):   "bigint",
	reflect.TypeOf(sql.NullBool{}):    "bool",
	reflect.TypeOf(sql.NullFloat64{}): "float",
	reflect.TypeOf(sql.NullTime{}):    "datetime",
}

func tableFromStruct(sample any) (*Table, error) {
	if sample == nil {
		return nil, fmt.Errorf("cannot derive table from nil")
	}
	typ := reflect.TypeOf(sample)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot derive table from %s, need struct", typ.Kind())
	}

	t := &Table{Name: strings.ToLower(typ.Name())}
	if namer, ok := sample.(TableNamer); ok {
		t.Name = namer.TableName()
	}

	tableTagSeen := false
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if tag, ok := field.Tag.Lookup("table"); ok {
			if tableTagSeen {
				return nil, fmt.Errorf("struct %s: multiple table attributes", typ.Name())
			}
			tableTagSeen = true
			if err := applyTableTag(t, tag); err != nil {
				return nil, fmt.Errorf("struct %s: %w", typ.Name(), err)
			}
			continue
		}
		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		c, err := columnFromField(field, tag)
		if err != nil {
			return nil, fmt.Errorf("struct %s: field %s: %w", typ.Name(), field.Name, err)
		}
		t.Columns = append(t.Columns, c)
	}
	if t.Name == "" {
		return nil, fmt.Errorf("cannot derive table name from anonymous struct")
	}
	return t, nil
}

func applyTableTag(t *Table, tag string) error {
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		t.Name = parts[0]
	}
	versionSeen := false
	for _, opt := range parts[1:] {
		key, value, _ := strings.Cut(opt, "=")
		switch strings.ToLower(key) {
		case "version":
			if versionSeen {
				return fmt.Errorf("multiple version attributes")
			}
			versionSeen = true
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid version %q", value)
			}
			t.Version = n
		default:
			return fmt.Errorf("unexpected table attribute %q", opt)
		}
	}
	return nil
}

func columnFromField(field reflect.StructField, tag string) (*Column, error) {
	name, options, err := typeinfo.ParseTag(tag)
	if err != nil {
		return nil, err
	}
	c := &Column{Name: name}
	defaultSeen := false
	typeSet := false
	for _, opt := range options {
		key, value, hasValue := strings.Cut(opt, "=")
		switch strings.ToLower(key) {
		case "pk":
			c.PrimaryKey = true
		case "autoincrement":
			c.AutoIncrement = true
		case "unique":
			c.Unique = true
		case "uniqueid":
			c.UniqueID = true
		case "nullable":
			c.Nullable = true
		case "binary":
			c.Binary = true
		case "default":
			if defaultSeen {
				return nil, fmt.Errorf("duplicate default attribute")
			}
			defaultSeen = true
			if !hasValue || value == "" {
				return nil, fmt.Errorf("empty default attribute")
			}
			c.Default = value
		case "fk":
			c.References = value
		case "type":
			c.Type = value
			typeSet = true
		case "omitempty":
		default:
			return nil, fmt.Errorf("unexpected column attribute %q", opt)
		}
	}
	if !typeSet {
		logical, nullable, err := logicalType(field.Type)
		if err != nil {
			return nil, err
		}
		c.Type = logical
		c.Nullable = c.Nullable || nullable
		if logical == "bytes" && isBinaryMarshaler(field.Type) {
			c.Binary = true
		}
	}
	return c, nil
}

// logicalType maps a Go field type onto the logical column type.
func logicalType(typ reflect.Type) (string, bool, error) {
	nullable := false
	if typ.Kind() == reflect.Pointer {
		nullable = true
		typ = typ.Elem()
	}
	if logical, ok := nullTypes[typ]; ok {
		return logical, true, nil
	}
	switch typ {
	case timeType:
		return "datetime", nullable, nil
	case uuidType:
		return "uuid", nullable, nil
	case rawMessageType:
		return "json", nullable, nil
	}
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return "int", nullable, nil
	case reflect.Int64, reflect.Uint64:
		return "bigint", nullable, nil
	case reflect.String:
		return "string", nullable, nil
	case reflect.Bool:
		return "bool", nullable, nil
	case reflect.Float32, reflect.Float64:
		return "float", nullable, nil
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 {
			return "bytes", nullable, nil
		}
	}
	if isBinaryMarshaler(typ) {
		return "bytes", nullable, nil
	}
	return "", false, fmt.Errorf("cannot derive column type from %s, add a type attribute", typ)
}

func isBinaryMarshaler(typ reflect.Type) bool {
	return typ.Implements(binaryMarshalerType) || reflect.PointerTo(typ).Implements(binaryMarshalerType)
}
