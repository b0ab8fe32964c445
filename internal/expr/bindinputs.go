// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/canonical/sqlgen/internal/schema"
	"github.com/canonical/sqlgen/internal/typeinfo"
)

// newUUID is replaced in tests.
var newUUID = uuid.NewV7

// newUniqueID returns a fresh UUIDv7 for a unique id column.
func newUniqueID() (string, error) {
	id, err := newUUID()
	if err != nil {
		return "", fmt.Errorf("cannot generate unique id: %w", err)
	}
	return id.String(), nil
}

// slot binds the parameters of one place in a statement.
type slot interface {
	// values returns the parameters bound to the slot.
	values(in *typeinfo.Inputs) ([]any, error)
	// dynamic reports whether the number of values is only known at bind
	// time.
	dynamic() bool
	// write writes the placeholders of n bound values, taking each one from
	// next.
	write(b *sqlBuilder, n int, next func() string)
	// String describes the slot in statement templates.
	String() string
}

// literalSlot binds a literal written in the statement.
type literalSlot struct {
	val any
}

func (s *literalSlot) values(*typeinfo.Inputs) ([]any, error) {
	return []any{s.val}, nil
}

func (s *literalSlot) dynamic() bool { return false }

func (s *literalSlot) write(b *sqlBuilder, _ int, next func() string) {
	b.write(next())
}

func (s *literalSlot) String() string {
	return (&Literal{Val: s.val}).text()
}

// varSlot binds a host variable. column is set when the variable is written
// to a column, so that the column attributes apply.
type varSlot struct {
	path   []string
	column *schema.Column
}

func (s *varSlot) values(in *typeinfo.Inputs) ([]any, error) {
	v, err := in.Locate(s.path)
	if err != nil {
		return nil, err
	}
	val, err := columnValue(s.column, v, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.Join(s.path, "."), err)
	}
	return []any{val}, nil
}

func (s *varSlot) dynamic() bool { return false }

func (s *varSlot) write(b *sqlBuilder, _ int, next func() string) {
	b.write(next())
}

func (s *varSlot) String() string {
	return "{" + strings.Join(s.path, ".") + "}"
}

// listSlot binds every element of a host collection used with IN. An empty
// collection is written as the backend's empty list.
type listSlot struct {
	path  []string
	empty string
}

func (s *listSlot) values(in *typeinfo.Inputs) ([]any, error) {
	v, err := in.Locate(s.path)
	if err != nil {
		return nil, err
	}
	elems, err := typeinfo.Elements(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.Join(s.path, "."), err)
	}
	vals := make([]any, len(elems))
	for i, e := range elems {
		vals[i] = e.Interface()
	}
	return vals, nil
}

func (s *listSlot) dynamic() bool { return true }

func (s *listSlot) write(b *sqlBuilder, n int, next func() string) {
	if n == 0 {
		b.write(s.empty)
		return
	}
	b.write("(")
	b.writeCommaSeperatedList(n, func(int) string { return next() })
	b.write(")")
}

func (s *listSlot) String() string {
	return "({" + strings.Join(s.path, ".") + "...})"
}

// insertColumn is a column written by INSERT. Generated columns are unique
// id columns missing from the insert shape.
type insertColumn struct {
	column    *schema.Column
	generated bool
}

// rowsSlot binds the rows of a multi-row INSERT, one parenthesized group
// per row.
type rowsSlot struct {
	path    []string
	columns []insertColumn
}

func (s *rowsSlot) values(in *typeinfo.Inputs) ([]any, error) {
	v, err := in.Locate(s.path)
	if err != nil {
		return nil, err
	}
	rows, err := typeinfo.Rows(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.Join(s.path, "."), err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: no rows to insert", strings.Join(s.path, "."))
	}
	vals := make([]any, 0, len(rows)*len(s.columns))
	for i, row := range rows {
		for _, ic := range s.columns {
			if ic.generated {
				id, err := newUniqueID()
				if err != nil {
					return nil, fmt.Errorf("%s row %d: column %q: %w", strings.Join(s.path, "."), i, ic.column.Name, err)
				}
				vals = append(vals, id)
				continue
			}
			m, ok, err := typeinfo.Member(row, ic.column.Name)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: %w", strings.Join(s.path, "."), i, err)
			}
			if !ok {
				return nil, fmt.Errorf("%s row %d: no member for column %q", strings.Join(s.path, "."), i, ic.column.Name)
			}
			val, err := columnValue(ic.column, m, true)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: column %q: %w", strings.Join(s.path, "."), i, ic.column.Name, err)
			}
			vals = append(vals, val)
		}
	}
	return vals, nil
}

func (s *rowsSlot) dynamic() bool { return true }

func (s *rowsSlot) write(b *sqlBuilder, n int, next func() string) {
	width := len(s.columns)
	for r := 0; r < n/width; r++ {
		if r > 0 {
			b.write(", ")
		}
		b.write("(")
		b.writeCommaSeperatedList(width, func(int) string { return next() })
		b.write(")")
	}
}

func (s *rowsSlot) String() string {
	return "({" + strings.Join(s.path, ".") + "...})"
}

// columnValue converts a host value written to a column. Unique id columns
// receive a fresh UUIDv7 on insert when the value is zero, and binary
// columns are encoded with encoding.BinaryMarshaler.
func columnValue(col *schema.Column, v reflect.Value, insert bool) (any, error) {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, nil
	}
	if col == nil {
		return v.Interface(), nil
	}
	if insert && col.UniqueID && v.IsZero() {
		return newUniqueID()
	}
	if col.Binary {
		if m, ok := v.Interface().(encoding.BinaryMarshaler); ok {
			return m.MarshalBinary()
		}
	}
	return v.Interface(), nil
}

// Primed is a statement with its parameters bound, ready to run.
type Primed struct {
	sql      string
	template string
	params   []any
	columns  []string
}

// SQL returns the statement text with backend placeholders.
func (pq *Primed) SQL() string {
	return pq.sql
}

// Template returns the statement text with backend independent markers
// {p0}, {p1} and so on in place of placeholders.
func (pq *Primed) Template() string {
	return pq.template
}

// Params returns the parameters in placeholder order.
func (pq *Primed) Params() []any {
	return pq.params
}

// Columns returns the names of the result columns.
func (pq *Primed) Columns() []string {
	return pq.columns
}

// Bind binds the input arguments of the statement. Each argument is a
// struct, a pointer to a struct or a map with string keys; host variables
// are looked up by name in all of them. Every argument must be used.
func (p *Prepared) Bind(args ...any) (pq *Primed, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("invalid input parameter: %s", err)
		}
	}()

	in, err := typeinfo.ValidateInputs(args)
	if err != nil {
		return nil, err
	}

	var params []any
	var counts []int
	for _, part := range p.parts {
		sp, ok := part.(*slotPart)
		if !ok {
			continue
		}
		vals, err := sp.slot.values(in)
		if err != nil {
			return nil, err
		}
		params = append(params, vals...)
		counts = append(counts, len(vals))
	}
	if err := in.CheckAllUsed(); err != nil {
		return nil, err
	}

	pq = &Primed{params: params, columns: p.columns}
	if p.static {
		pq.sql = p.sql
	} else {
		pq.sql = render(p.parts, counts, placeholders(p.backend))
	}
	pq.template = render(p.parts, counts, templateMarkers())
	return pq, nil
}
