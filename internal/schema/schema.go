// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalid is wrapped by every error returned from [Schema.Validate].
var ErrInvalid = errors.New("invalid schema")

// Column describes a single column of a table.
type Column struct {
	Name string `yaml:"name" json:"name"`
	// Type is the logical type of the column, e.g. "int", "string", "bool",
	// "float", "datetime", "bytes", "json" or "uuid". Backends map logical
	// types to native ones.
	Type          string `yaml:"type" json:"type"`
	Nullable      bool   `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	PrimaryKey    bool   `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	AutoIncrement bool   `yaml:"auto_increment,omitempty" json:"auto_increment,omitempty"`
	Unique        bool   `yaml:"unique,omitempty" json:"unique,omitempty"`
	// UniqueID columns are filled with a fresh UUIDv7 on insert when the
	// supplied value is empty.
	UniqueID bool `yaml:"unique_id,omitempty" json:"unique_id,omitempty"`
	// Default is the SQL text of the column default.
	Default string `yaml:"default,omitempty" json:"default,omitempty"`
	// Binary columns accept values implementing encoding.BinaryMarshaler.
	Binary bool `yaml:"binary,omitempty" json:"binary,omitempty"`
	// References names the foreign key target as "table.column".
	References string `yaml:"references,omitempty" json:"references,omitempty"`
}

// Required reports whether an INSERT must supply a value for the column.
// Unique id columns are filled in by the generated INSERT when omitted.
func (c *Column) Required() bool {
	return !c.Nullable && c.Default == "" && !c.AutoIncrement && !c.UniqueID
}

// Reference splits References into its table and column.
func (c *Column) Reference() (table string, column string, ok bool) {
	table, column, ok = strings.Cut(c.References, ".")
	if !ok || table == "" || column == "" {
		return "", "", false
	}
	return table, column, true
}

// Table describes a database table.
type Table struct {
	Name    string    `yaml:"name" json:"name"`
	Version int       `yaml:"version,omitempty" json:"version,omitempty"`
	Columns []*Column `yaml:"columns" json:"columns"`
}

// Column returns the named column of the table.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// PrimaryKeys returns the names of the primary key columns in declaration
// order.
func (t *Table) PrimaryKeys() []string {
	var pks []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pks = append(pks, c.Name)
		}
	}
	return pks
}

// ColumnNames returns the names of every column of the table.
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// JoinKind is the flavour of a join clause.
type JoinKind string

const (
	InnerJoin JoinKind = "INNER"
	LeftJoin  JoinKind = "LEFT"
	RightJoin JoinKind = "RIGHT"
	CrossJoin JoinKind = "CROSS"
)

// JoinClause joins one more table onto a declared join. On holds the
// condition as query text; when it is empty the condition is derived from
// foreign keys.
type JoinClause struct {
	Kind  JoinKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	Table string   `yaml:"table" json:"table"`
	On    string   `yaml:"on,omitempty" json:"on,omitempty"`
}

// Join is a named table graph that statements may select from in place of
// a single table.
type Join struct {
	Name    string       `yaml:"name" json:"name"`
	Base    string       `yaml:"base" json:"base"`
	Clauses []JoinClause `yaml:"clauses" json:"clauses"`
}

// Tables returns the base table followed by every joined table.
func (j *Join) Tables() []string {
	names := []string{j.Base}
	for _, c := range j.Clauses {
		names = append(names, c.Table)
	}
	return names
}

// Field is one column of an output row.
type Field struct {
	// Name is the result column name. Rows are scanned into struct fields and
	// map keys with this name.
	Name string `yaml:"name" json:"name"`
	// Column is the source column, defaulting to Name.
	Column string `yaml:"column,omitempty" json:"column,omitempty"`
	// Table is the owning table for fields taken from a joined table. It
	// defaults to the output's table.
	Table string `yaml:"table,omitempty" json:"table,omitempty"`
	// Select is a custom select expression used instead of the column. It may
	// reference call-site arguments as {arg0}, {arg1} and so on.
	Select string `yaml:"select,omitempty" json:"select,omitempty"`
}

// SourceColumn returns the column the field reads.
func (f *Field) SourceColumn() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// Output is the shape of a row returned by SELECT or RETURNING.
type Output struct {
	Name string `yaml:"name" json:"name"`
	// Table is the table or declared join the row is read from.
	Table  string  `yaml:"table" json:"table"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// Insert is the shape of a row written by INSERT.
type Insert struct {
	Name   string   `yaml:"name" json:"name"`
	Table  string   `yaml:"table" json:"table"`
	Fields []string `yaml:"fields" json:"fields"`
}

// Update is the set of columns written by an UPDATE with a shape.
type Update struct {
	Name   string   `yaml:"name" json:"name"`
	Table  string   `yaml:"table" json:"table"`
	Fields []string `yaml:"fields" json:"fields"`
}

// Schema holds every declaration statements are checked against. A Schema
// must be validated before use and must not be modified afterwards; it is
// then safe to share between goroutines.
type Schema struct {
	Tables  []*Table  `yaml:"tables" json:"tables"`
	Joins   []*Join   `yaml:"joins,omitempty" json:"joins,omitempty"`
	Outputs []*Output `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Inserts []*Insert `yaml:"inserts,omitempty" json:"inserts,omitempty"`
	Updates []*Update `yaml:"updates,omitempty" json:"updates,omitempty"`

	validated bool
	tables    map[string]*Table
	joins     map[string]*Join
	outputs   map[string]*Output
	inserts   map[string]*Insert
	updates   map[string]*Update
}

// Table returns the named table.
func (s *Schema) Table(name string) (*Table, bool) {
	t, ok := s.tables[Normalize(name)]
	return t, ok
}

// Join returns the named join declaration.
func (s *Schema) Join(name string) (*Join, bool) {
	j, ok := s.joins[Normalize(name)]
	return j, ok
}

// Output returns the named output shape.
func (s *Schema) Output(name string) (*Output, bool) {
	o, ok := s.outputs[Normalize(name)]
	return o, ok
}

// Insert returns the named insert shape.
func (s *Schema) Insert(name string) (*Insert, bool) {
	i, ok := s.inserts[Normalize(name)]
	return i, ok
}

// Update returns the named update shape.
func (s *Schema) Update(name string) (*Update, bool) {
	u, ok := s.updates[Normalize(name)]
	return u, ok
}

// TableNames returns the sorted names of every table.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Normalize returns the canonical form of an identifier. Identifiers are
// compared after NFC normalisation so that visually identical names typed
// with different code point sequences match.
func Normalize(name string) string {
	return norm.NFC.String(name)
}

// Validate normalises every identifier, indexes the declarations and checks
// them for consistency. All problems are reported together. Validate is
// idempotent.
func (s *Schema) Validate() error {
	if s.validated {
		return nil
	}
	v := &validator{}

	s.tables = map[string]*Table{}
	for _, t := range s.Tables {
		t.Name = Normalize(t.Name)
		if _, ok := s.tables[t.Name]; ok {
			v.addProblem("table %q declared more than once", t.Name)
		}
		s.tables[t.Name] = t
		v.checkTable(t)
	}
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			if c.References == "" {
				continue
			}
			rt, rc, ok := c.Reference()
			if !ok {
				v.addProblem("column %q of table %q: foreign key %q must be of the form table.column", c.Name, t.Name, c.References)
				continue
			}
			target, ok := s.tables[Normalize(rt)]
			if !ok {
				v.addProblem("column %q of table %q references unknown table %q", c.Name, t.Name, rt)
				continue
			}
			if _, ok := target.Column(Normalize(rc)); !ok {
				v.addProblem("column %q of table %q references unknown column %q of table %q", c.Name, t.Name, rc, rt)
			}
		}
	}

	s.joins = map[string]*Join{}
	for _, j := range s.Joins {
		j.Name = Normalize(j.Name)
		j.Base = Normalize(j.Base)
		if _, ok := s.tables[j.Name]; ok {
			v.addProblem("join %q has the same name as a table", j.Name)
		}
		if _, ok := s.joins[j.Name]; ok {
			v.addProblem("join %q declared more than once", j.Name)
		}
		s.joins[j.Name] = j
		if _, ok := s.tables[j.Base]; !ok {
			v.addProblem("join %q: unknown base table %q", j.Name, j.Base)
		}
		for i := range j.Clauses {
			cl := &j.Clauses[i]
			cl.Table = Normalize(cl.Table)
			if cl.Kind == "" {
				cl.Kind = InnerJoin
			}
			cl.Kind = JoinKind(strings.ToUpper(string(cl.Kind)))
			switch cl.Kind {
			case InnerJoin, LeftJoin, RightJoin, CrossJoin:
			default:
				v.addProblem("join %q: unknown join kind %q", j.Name, cl.Kind)
			}
			if _, ok := s.tables[cl.Table]; !ok {
				v.addProblem("join %q: unknown table %q", j.Name, cl.Table)
			}
			if cl.Kind == CrossJoin && cl.On != "" {
				v.addProblem("join %q: CROSS JOIN of %q cannot have a condition", j.Name, cl.Table)
			}
		}
	}

	s.outputs = map[string]*Output{}
	for _, o := range s.Outputs {
		o.Name = Normalize(o.Name)
		o.Table = Normalize(o.Table)
		if _, ok := s.outputs[o.Name]; ok {
			v.addProblem("output %q declared more than once", o.Name)
		}
		s.outputs[o.Name] = o
		v.checkOutput(s, o)
	}

	s.inserts = map[string]*Insert{}
	for _, in := range s.Inserts {
		in.Name = Normalize(in.Name)
		in.Table = Normalize(in.Table)
		if _, ok := s.inserts[in.Name]; ok {
			v.addProblem("insert %q declared more than once", in.Name)
		}
		s.inserts[in.Name] = in
		v.checkInsert(s, in)
	}

	s.updates = map[string]*Update{}
	for _, up := range s.Updates {
		up.Name = Normalize(up.Name)
		up.Table = Normalize(up.Table)
		if _, ok := s.updates[up.Name]; ok {
			v.addProblem("update %q declared more than once", up.Name)
		}
		s.updates[up.Name] = up
		v.checkFieldList(s, "update", up.Name, up.Table, up.Fields)
	}

	if len(v.problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(v.problems, "; "))
	}
	s.validated = true
	return nil
}

type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) checkTable(t *Table) {
	if t.Name == "" {
		v.addProblem("table with empty name")
	}
	if len(t.Columns) == 0 {
		v.addProblem("table %q has no columns", t.Name)
	}
	seen := map[string]bool{}
	var uniqueIDs []string
	for _, c := range t.Columns {
		c.Name = Normalize(c.Name)
		if seen[c.Name] {
			v.addProblem("table %q: column %q declared more than once", t.Name, c.Name)
		}
		seen[c.Name] = true
		if c.UniqueID {
			uniqueIDs = append(uniqueIDs, c.Name)
		}
		if c.AutoIncrement && c.Default != "" {
			v.addProblem("table %q: auto increment column %q cannot have a default", t.Name, c.Name)
		}
	}
	if len(uniqueIDs) > 1 {
		v.addProblem("table %q has multiple unique id columns: %s", t.Name, strings.Join(uniqueIDs, ", "))
	}
}

// outputTables returns the tables an output may read from.
func outputTables(s *Schema, table string) (map[string]*Table, bool) {
	if t, ok := s.tables[table]; ok {
		return map[string]*Table{t.Name: t}, true
	}
	j, ok := s.joins[table]
	if !ok {
		return nil, false
	}
	tables := map[string]*Table{}
	for _, name := range j.Tables() {
		if t, ok := s.tables[name]; ok {
			tables[name] = t
		}
	}
	return tables, true
}

func (v *validator) checkOutput(s *Schema, o *Output) {
	tables, ok := outputTables(s, o.Table)
	if !ok {
		v.addProblem("output %q: unknown table %q", o.Name, o.Table)
		return
	}
	if len(o.Fields) == 0 {
		v.addProblem("output %q has no fields", o.Name)
	}
	seen := map[string]bool{}
	for i := range o.Fields {
		f := &o.Fields[i]
		f.Name = Normalize(f.Name)
		f.Column = Normalize(f.Column)
		f.Table = Normalize(f.Table)
		if seen[f.Name] {
			v.addProblem("output %q: field %q declared more than once", o.Name, f.Name)
		}
		seen[f.Name] = true
		if f.Select != "" {
			// Custom select expressions are checked when they are compiled.
			continue
		}
		tableName := f.Table
		if tableName == "" {
			if len(tables) > 1 {
				v.addProblem("output %q: field %q must name its table", o.Name, f.Name)
				continue
			}
			tableName = o.Table
		}
		t, ok := tables[tableName]
		if !ok {
			v.addProblem("output %q: field %q reads table %q which is not part of %q", o.Name, f.Name, tableName, o.Table)
			continue
		}
		if _, ok := t.Column(f.SourceColumn()); !ok {
			v.addProblem("output %q: table %q has no column %q", o.Name, t.Name, f.SourceColumn())
		}
	}
}

func (v *validator) checkFieldList(s *Schema, kind, name, table string, fields []string) *Table {
	t, ok := s.tables[table]
	if !ok {
		v.addProblem("%s %q: unknown table %q", kind, name, table)
		return nil
	}
	if len(fields) == 0 {
		v.addProblem("%s %q has no fields", kind, name)
	}
	seen := map[string]bool{}
	for i, f := range fields {
		f = Normalize(f)
		fields[i] = f
		if seen[f] {
			v.addProblem("%s %q: field %q listed more than once", kind, name, f)
		}
		seen[f] = true
		if _, ok := t.Column(f); !ok {
			v.addProblem("%s %q: table %q has no column %q", kind, name, table, f)
		}
	}
	return t
}

func (v *validator) checkInsert(s *Schema, in *Insert) {
	t := v.checkFieldList(s, "insert", in.Name, in.Table, in.Fields)
	if t == nil {
		return
	}
	set := map[string]bool{}
	for _, f := range in.Fields {
		set[f] = true
	}
	for _, c := range t.Columns {
		if c.Required() && !set[c.Name] {
			v.addProblem("insert %q does not set required column %q of table %q", in.Name, c.Name, t.Name)
		}
	}
}
