// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlgen

import (
	"context"
	"fmt"

	"github.com/canonical/sqlgen/internal/backend"
	"github.com/canonical/sqlgen/internal/schema"
)

// Schema declarations. See the fields of each type for the attributes they
// carry.
type (
	Schema     = schema.Schema
	Table      = schema.Table
	Column     = schema.Column
	Join       = schema.Join
	JoinClause = schema.JoinClause
	Output     = schema.Output
	Field      = schema.Field
	Insert     = schema.Insert
	Update     = schema.Update
)

// Backend is the capability table of a database backend.
type Backend = backend.Backend

// LoadSchema reads a schema from a YAML or CUE file, chosen by extension,
// and validates it.
func LoadSchema(path string) (*Schema, error) {
	return schema.Load(path)
}

// ParseSchema parses and validates a YAML schema.
func ParseSchema(data []byte) (*Schema, error) {
	return schema.ParseYAML(data)
}

// SchemaFromStructs derives tables from the db tags of struct samples. The
// returned schema has no shapes and is not validated.
func SchemaFromStructs(samples ...any) (*Schema, error) {
	return schema.FromStructs(samples...)
}

// LookupBackend returns the registered backend with the given name. The
// built in backends are "sqlite", "postgres", "mysql" and "dqlite".
func LookupBackend(name string) (*Backend, error) {
	return backend.Lookup(name)
}

// RegisterBackend adds a backend, replacing any of the same name.
func RegisterBackend(b *Backend) error {
	return backend.Register(b)
}

// LoadBackends registers the backends declared in a YAML override file and
// returns their names.
func LoadBackends(path string) ([]string, error) {
	bs, err := backend.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, b := range bs {
		if err := backend.Register(b); err != nil {
			return nil, err
		}
		names = append(names, b.Name)
	}
	return names, nil
}

// CreateTables creates the tables of the schema that do not exist yet, in
// declaration order.
func (db *DB) CreateTables(ctx context.Context, s *Schema) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, t := range s.Tables {
		if _, err := db.sqldb.ExecContext(ctx, db.backend.CreateTable(t)); err != nil {
			return fmt.Errorf("cannot create table %s: %w", t.Name, err)
		}
	}
	return nil
}
