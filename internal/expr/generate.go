// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/canonical/sqlgen/internal/backend"
	"github.com/canonical/sqlgen/internal/schema"
)

// A part is a section of generated SQL. The generated statement is a list of
// parts.
type part interface {
	// part is a marker method.
	part()
}

// textPart is SQL text passed to the database verbatim.
type textPart string

func (textPart) part() {}

// slotPart is a place where parameters are bound. index is the number of
// fixed-size slots before it in the statement.
type slotPart struct {
	slot  slot
	index int
}

func (*slotPart) part() {}

// argPart stands for call-site argument n of a custom select expression. It
// only appears in rendered outputs and is replaced when the output is used
// in a statement.
type argPart int

func (argPart) part() {}

// genContext holds the state of generating one statement. It is never
// shared between statements.
type genContext struct {
	backend *backend.Backend
	schema  *schema.Schema
	// custom is set while rendering custom select expressions. Literals are
	// then written as SQL text and host variables become argParts.
	custom bool
	// qualifier is the table used to qualify bare column references.
	qualifier string

	pending strings.Builder
	parts   []part
	// static counts the fixed-size slots generated so far.
	static int
	// dynamic is set once a slot whose size is only known at bind time has
	// been generated.
	dynamic bool
}

func newGenContext(b *backend.Backend, s *schema.Schema) *genContext {
	return &genContext{backend: b, schema: s}
}

// write appends SQL text.
func (g *genContext) write(s string) {
	g.pending.WriteString(s)
}

func (g *genContext) flush() {
	if g.pending.Len() > 0 {
		g.parts = append(g.parts, textPart(g.pending.String()))
		g.pending.Reset()
	}
}

// addSlot appends a slot binding parameters.
func (g *genContext) addSlot(s slot) {
	g.flush()
	g.parts = append(g.parts, &slotPart{slot: s, index: g.static})
	if s.dynamic() {
		g.dynamic = true
	} else {
		g.static++
	}
}

// addParts appends pre-rendered parts, generating the call-site arguments in
// place of argParts.
func (g *genContext) addParts(parts []part, args []Expr) {
	for _, p := range parts {
		switch p := p.(type) {
		case textPart:
			g.write(string(p))
		case argPart:
			if int(p) < len(args) {
				g.genExpr(args[p])
			}
		case *slotPart:
			g.addSlot(p.slot)
		}
	}
}

// finish returns the generated parts.
func (g *genContext) finish() []part {
	g.flush()
	return g.parts
}

func (g *genContext) quote(name string) string {
	return g.backend.QuoteIdent(schema.Normalize(name))
}

func (g *genContext) quoteColumn(table, column string) string {
	if table == "" {
		return g.quote(column)
	}
	return g.quote(table) + "." + g.quote(column)
}

func (g *genContext) genExpr(e Expr) {
	switch e := e.(type) {
	case *ValueExpr:
		g.genValue(e.Value)
	case *Paren:
		g.write("(")
		g.genExpr(e.Expr)
		g.write(")")
	case *Chain:
		g.write(strings.Repeat("NOT ", e.Nots))
		g.genExpr(e.First)
		for _, l := range e.Tail {
			g.write(" " + l.Op.Token() + " ")
			g.write(strings.Repeat("NOT ", l.Nots))
			g.genExpr(l.Expr)
		}
	case *IsNull:
		g.genValue(e.Value)
		if e.Not {
			g.write(" IS NOT NULL")
		} else {
			g.write(" IS NULL")
		}
	case *In:
		g.genValue(e.Value)
		g.write(" IN ")
		g.genValueIn(e.In)
	case *Between:
		g.genValue(e.Value)
		g.write(" BETWEEN ")
		g.genValue(e.Low)
		g.write(" AND ")
		g.genValue(e.High)
	}
}

func (g *genContext) genValue(v Value) {
	switch v := v.(type) {
	case *Column:
		table := v.Table
		if table == "" {
			table = g.qualifier
		}
		g.write(g.quoteColumn(table, v.Name))
	case *Literal:
		if g.custom {
			// Custom select expressions are rendered once per output and
			// shared by every statement using it, so their literals are
			// written into the SQL text instead of being bound. Strings go
			// through the backend quoting; keep it that way if literal
			// handling is ever extended.
			g.write(g.literalSQL(v))
			return
		}
		g.addSlot(&literalSlot{val: v.Val})
	case *OutsideVariable:
		if g.custom {
			n, _ := v.argIndex()
			g.flush()
			g.parts = append(g.parts, argPart(n))
			return
		}
		g.addSlot(&varSlot{path: v.Path})
	case *FunctionCall:
		g.write(backend.FunctionName(v.Name))
		if v.Args == nil {
			return
		}
		g.write("(")
		for i, arg := range v.Args {
			if i > 0 {
				g.write(", ")
			}
			g.genExpr(arg)
		}
		g.write(")")
	case *Cast:
		native, ok := g.backend.CastType(v.Type)
		if !ok {
			native = v.Type
		}
		g.write("CAST(")
		g.genExpr(v.Expr)
		g.write(" AS " + native + ")")
	case *Star:
		g.write("*")
	}
}

func (g *genContext) genValueIn(in ValueIn) {
	switch in := in.(type) {
	case *InList:
		g.write("(")
		for i, e := range in.Exprs {
			if i > 0 {
				g.write(", ")
			}
			g.genExpr(e)
		}
		g.write(")")
	case *InColumn:
		column := in.Column
		if column == "" {
			if t, ok := g.schema.Table(in.Table); ok {
				if pks := t.PrimaryKeys(); len(pks) == 1 {
					column = pks[0]
				}
			}
		}
		g.write("(SELECT " + g.quote(column) + " FROM " + g.quote(in.Table) + ")")
	case *InVar:
		g.addSlot(&listSlot{path: in.Var.Path, empty: g.backend.EmptyList})
	}
}

// literalSQL returns a literal as SQL text.
func (g *genContext) literalSQL(l *Literal) string {
	switch v := l.Val.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return g.backend.QuoteLiteral(v)
	}
	return "NULL"
}

type outputKey struct {
	name      string
	qualified bool
}

// renderedOutput is the select list of an output shape. It is rendered once
// per output and reused by every statement selecting it.
type renderedOutput struct {
	def     *schema.Output
	parts   []part
	columns []string
	// args is the number of call-site arguments the custom select
	// expressions take.
	args     int
	problems []Problem
}

// renderOutput returns the rendered select list of an output. Columns are
// qualified with their table when qualified is set.
func (c *Compiler) renderOutput(def *schema.Output, qualified bool) *renderedOutput {
	key := outputKey{name: def.Name, qualified: qualified}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.outputs[key]; ok {
		return r
	}

	sc := newScope()
	for _, name := range c.outputTables(def) {
		if t, ok := c.schema.Table(name); ok {
			sc.add(t)
		}
	}
	v := &validator{schema: c.schema, backend: c.backend, scope: sc, args: map[int]bool{}}
	g := newGenContext(c.backend, c.schema)
	g.custom = true
	if qualified {
		if t := sc.implicit(); t != nil {
			g.qualifier = t.Name
		}
	}

	r := &renderedOutput{def: def}
	for i, f := range def.Fields {
		r.columns = append(r.columns, f.Name)
		if i > 0 {
			g.write(", ")
		}
		if f.Select != "" {
			e, err := ParseCustomSelect(f.Select)
			if err != nil {
				v.add(ErrSyntax, "field %q: %v", f.Name, err)
				continue
			}
			fv := &validator{schema: c.schema, backend: c.backend, scope: sc, args: v.args}
			fv.checkExpr(e)
			v.addPrefixed("field "+strconv.Quote(f.Name)+": ", fv.list)
			g.genExpr(e)
			g.write(" AS " + g.quote(f.Name))
			continue
		}
		column := f.SourceColumn()
		if qualified {
			table := f.Table
			if table == "" {
				table = def.Table
			}
			g.write(g.quoteColumn(table, column) + " AS " + g.quote(f.Name))
		} else if column != f.Name {
			g.write(g.quote(column) + " AS " + g.quote(f.Name))
		} else {
			g.write(g.quote(column))
		}
	}
	r.args = v.checkArgSequence()
	r.parts = g.finish()
	r.problems = v.list
	c.outputs[key] = r
	return r
}

// sqlBuilder is used to generate SQL string piece by piece using the struct
// methods.
type sqlBuilder struct {
	buf bytes.Buffer
}

// writeCommaSeperatedList writes out the provided list using the writer to
// write each element into the SQL.
func (b *sqlBuilder) writeCommaSeperatedList(n int, writer func(i int) string) {
	for i := 0; i < n; i++ {
		if i != 0 {
			b.buf.WriteString(", ")
		}
		b.buf.WriteString(writer(i))
	}
}

// write writes the SQL to the sqlBuilder.
func (b *sqlBuilder) write(sql string) {
	b.buf.WriteString(sql)
}

// getSQL returns the generated SQL string
func (b *sqlBuilder) getSQL() string {
	return b.buf.String()
}

// render writes the parts with the placeholders returned by next. counts
// holds the number of values bound to each slot, in order.
func render(parts []part, counts []int, next func() string) string {
	var b sqlBuilder
	i := 0
	for _, p := range parts {
		switch p := p.(type) {
		case textPart:
			b.write(string(p))
		case *slotPart:
			p.slot.write(&b, counts[i], next)
			i++
		}
	}
	return b.getSQL()
}

// placeholders returns a function that yields the placeholders of the
// backend in order.
func placeholders(b *backend.Backend) func() string {
	n := 0
	return func() string {
		ph := b.PlaceholderFor(n)
		n++
		return ph
	}
}

// templateMarkers returns a function that yields backend independent
// markers {p0}, {p1} and so on.
func templateMarkers() func() string {
	n := 0
	return func() string {
		m := "{p" + strconv.Itoa(n) + "}"
		n++
		return m
	}
}
