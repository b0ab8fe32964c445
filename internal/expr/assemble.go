// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"sync"

	"github.com/canonical/sqlgen/internal/backend"
	"github.com/canonical/sqlgen/internal/schema"
)

// Compiler prepares statements against a schema for one backend. It is safe
// for concurrent use.
type Compiler struct {
	schema  *schema.Schema
	backend *backend.Backend

	mu sync.Mutex
	// outputs caches the rendered select lists of output shapes.
	outputs map[outputKey]*renderedOutput
}

// NewCompiler returns a Compiler for the schema and backend. The schema is
// validated if it was not already.
func NewCompiler(s *schema.Schema, b *backend.Backend) (*Compiler, error) {
	if s == nil {
		return nil, fmt.Errorf("nil schema")
	}
	if b == nil {
		return nil, fmt.Errorf("nil backend")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &Compiler{
		schema:  s,
		backend: b,
		outputs: map[outputKey]*renderedOutput{},
	}, nil
}

// Schema returns the schema statements are checked against.
func (c *Compiler) Schema() *schema.Schema {
	return c.schema
}

// Backend returns the backend SQL is generated for.
func (c *Compiler) Backend() *backend.Backend {
	return c.backend
}

// Prepare parses, validates and generates a statement. Lazy statements stream
// their rows and so must return some.
func (c *Compiler) Prepare(query string, lazy bool) (*Prepared, error) {
	stmt, err := NewParser().ParseStatement(query)
	if err != nil {
		return nil, err
	}
	pl, err := c.validate(stmt, lazy)
	if err != nil {
		return nil, err
	}
	return c.assemble(pl), nil
}

// Prepared is a validated and generated statement. Its parameters are bound
// with Bind.
type Prepared struct {
	kind    Kind
	lazy    bool
	backend *backend.Backend
	parts   []part
	columns []string
	// static is set when no slot changes size with the inputs. The SQL is
	// then rendered once, here.
	static bool
	sql    string
}

// Kind returns the kind of the statement.
func (p *Prepared) Kind() Kind {
	return p.kind
}

// Lazy reports whether the statement was prepared to stream its rows.
func (p *Prepared) Lazy() bool {
	return p.lazy
}

// Backend returns the backend the statement was generated for.
func (p *Prepared) Backend() *backend.Backend {
	return p.backend
}

// Columns returns the names of the result columns. It is empty for
// statements that return no rows.
func (p *Prepared) Columns() []string {
	return p.columns
}

// SQL returns the statement text when it does not depend on the inputs.
func (p *Prepared) SQL() (string, bool) {
	return p.sql, p.static
}

// Template returns the statement text with markers {p0}, {p1} and so on in
// place of fixed placeholders. Slots expanded at bind time are shown by the
// host variable they expand.
func (p *Prepared) Template() string {
	var b sqlBuilder
	next := templateMarkers()
	for _, pt := range p.parts {
		switch pt := pt.(type) {
		case textPart:
			b.write(string(pt))
		case *slotPart:
			if pt.slot.dynamic() {
				b.write(pt.slot.String())
			} else {
				pt.slot.write(&b, 1, next)
			}
		}
	}
	return b.getSQL()
}

// assemble generates a validated statement.
func (c *Compiler) assemble(pl *plan) *Prepared {
	g := newGenContext(c.backend, c.schema)
	p := &Prepared{kind: pl.stmt.Kind, lazy: pl.lazy, backend: c.backend}

	switch pl.stmt.Kind {
	case SelectKind:
		c.assembleSelect(g, pl)
		p.columns = pl.output.rendered.columns
	case ExistsKind:
		c.assembleExists(g, pl)
		p.columns = []string{"exists"}
	case InsertKind:
		c.assembleInsert(g, pl)
	case UpdateKind:
		c.assembleUpdate(g, pl)
	case DeleteKind:
		c.assembleDelete(g, pl)
	}
	if pl.returning != nil {
		g.write(" RETURNING ")
		g.addParts(pl.returning.rendered.parts, pl.returning.args)
		p.columns = pl.returning.rendered.columns
	}

	p.parts = g.finish()
	if !g.dynamic {
		p.static = true
		counts := make([]int, g.static)
		for i := range counts {
			counts[i] = 1
		}
		p.sql = render(p.parts, counts, placeholders(c.backend))
	}
	return p
}

func (c *Compiler) assembleSelect(g *genContext, pl *plan) {
	g.write("SELECT ")
	if pl.stmt.Distinct {
		g.write("DISTINCT ")
	}
	g.addParts(pl.output.rendered.parts, pl.output.args)
	g.write(" FROM ")
	c.genSource(g, pl)
	c.genQueryClauses(g, pl.stmt)
}

func (c *Compiler) assembleExists(g *genContext, pl *plan) {
	g.write("SELECT EXISTS(SELECT 1 FROM ")
	c.genSource(g, pl)
	c.genQueryClauses(g, pl.stmt)
	g.write(") AS " + g.quote("exists"))
}

func (c *Compiler) genSource(g *genContext, pl *plan) {
	g.write(g.quote(pl.base))
	for _, j := range pl.joins {
		g.write(" " + string(j.kind) + " JOIN " + g.quote(j.table))
		if j.on != nil {
			g.write(" ON ")
			g.genExpr(j.on)
		}
	}
}

func (c *Compiler) genQueryClauses(g *genContext, stmt *Statement) {
	c.genWhere(g, stmt)
	if len(stmt.GroupBy) > 0 {
		g.write(" GROUP BY ")
		for i, e := range stmt.GroupBy {
			if i > 0 {
				g.write(", ")
			}
			g.genExpr(e)
		}
	}
	if stmt.Having != nil {
		g.write(" HAVING ")
		g.genExpr(stmt.Having)
	}
	if len(stmt.OrderBy) > 0 {
		g.write(" ORDER BY ")
		for i, t := range stmt.OrderBy {
			if i > 0 {
				g.write(", ")
			}
			g.genExpr(t.Expr)
			if t.Direction != "" {
				g.write(" " + t.Direction)
			}
		}
	}
	if stmt.Limit != nil {
		g.write(" LIMIT ")
		g.genExpr(stmt.Limit)
	}
}

func (c *Compiler) genWhere(g *genContext, stmt *Statement) {
	if stmt.Where != nil {
		g.write(" WHERE ")
		g.genExpr(stmt.Where)
	}
}

// insertColumns returns the columns written by an insert shape. Unique id
// columns the shape leaves out are added at the end and generated.
func insertColumns(t *schema.Table, in *schema.Insert) []insertColumn {
	var cols []insertColumn
	listed := map[string]bool{}
	for _, f := range in.Fields {
		col, _ := t.Column(f)
		cols = append(cols, insertColumn{column: col})
		listed[f] = true
	}
	for _, col := range t.Columns {
		if col.UniqueID && !listed[col.Name] {
			cols = append(cols, insertColumn{column: col, generated: true})
		}
	}
	return cols
}

func (c *Compiler) assembleInsert(g *genContext, pl *plan) {
	cols := insertColumns(pl.table, pl.insert)
	g.write("INSERT INTO " + g.quote(pl.table.Name) + " (")
	for i, ic := range cols {
		if i > 0 {
			g.write(", ")
		}
		g.write(g.quote(ic.column.Name))
	}
	g.write(") VALUES ")
	g.addSlot(&rowsSlot{path: pl.stmt.Values.Path, columns: cols})
}

func (c *Compiler) assembleUpdate(g *genContext, pl *plan) {
	g.write("UPDATE " + g.quote(pl.table.Name) + " SET ")
	if pl.update != nil {
		for i, f := range pl.update.Fields {
			if i > 0 {
				g.write(", ")
			}
			col, _ := pl.table.Column(f)
			path := make([]string, 0, len(pl.stmt.Values.Path)+1)
			path = append(path, pl.stmt.Values.Path...)
			path = append(path, f)
			g.write(g.quote(f) + " = ")
			g.addSlot(&varSlot{path: path, column: col})
		}
	} else {
		for i, a := range pl.stmt.Set {
			if i > 0 {
				g.write(", ")
			}
			g.write(g.quote(a.Column) + " = ")
			g.genExpr(a.Expr)
		}
	}
	c.genWhere(g, pl.stmt)
}

func (c *Compiler) assembleDelete(g *genContext, pl *plan) {
	g.write("DELETE FROM " + g.quote(pl.table.Name))
	c.genWhere(g, pl.stmt)
}
