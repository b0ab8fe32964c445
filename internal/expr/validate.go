// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"strconv"
	"strings"

	"github.com/canonical/sqlgen/internal/backend"
	"github.com/canonical/sqlgen/internal/schema"
)

// scope is the set of tables a statement reads.
type scope struct {
	tables []*schema.Table
	byName map[string]*schema.Table
	// broken is set once the source of the statement failed to resolve.
	// Column checks are then skipped since every one would fail.
	broken bool
}

func newScope() *scope {
	return &scope{byName: map[string]*schema.Table{}}
}

// add adds a table to the scope. It returns false if the table is already
// in scope.
func (sc *scope) add(t *schema.Table) bool {
	if _, ok := sc.byName[t.Name]; ok {
		return false
	}
	sc.tables = append(sc.tables, t)
	sc.byName[t.Name] = t
	return true
}

// implicit returns the table of bare column references. There is none when
// more than one table is in scope.
func (sc *scope) implicit() *schema.Table {
	if len(sc.tables) == 1 {
		return sc.tables[0]
	}
	return nil
}

func (sc *scope) names() string {
	names := make([]string, len(sc.tables))
	for i, t := range sc.tables {
		names[i] = t.Name
	}
	return strings.Join(names, ", ")
}

// validator checks expressions against a scope and a backend. Problems are
// collected rather than returned so that a single pass reports all of them.
type validator struct {
	problems
	schema  *schema.Schema
	backend *backend.Backend
	scope   *scope
	// args records the argN indices used by custom select expressions.
	args map[int]bool
}

func (v *validator) checkExpr(e Expr) {
	switch e := e.(type) {
	case *ValueExpr:
		v.checkValue(e.Value)
	case *Paren:
		v.checkExpr(e.Expr)
	case *Chain:
		v.checkExpr(e.First)
		for _, l := range e.Tail {
			if !v.backend.SupportsOperator(l.Op.String()) {
				v.add(ErrCapability, "backend %q does not support operator %s (%s)", v.backend.Name, l.Op, l.Op.Token())
			}
			v.checkExpr(l.Expr)
		}
	case *IsNull:
		v.checkValue(e.Value)
	case *In:
		v.checkValue(e.Value)
		v.checkValueIn(e.In)
	case *Between:
		v.checkValue(e.Value)
		v.checkValue(e.Low)
		v.checkValue(e.High)
	}
}

func (v *validator) checkValue(val Value) {
	switch val := val.(type) {
	case *Column:
		v.checkColumn(val)
	case *OutsideVariable:
		if v.args != nil {
			if n, ok := val.argIndex(); ok {
				v.args[n] = true
			}
		}
	case *FunctionCall:
		v.checkFunction(val)
	case *Cast:
		v.checkExpr(val.Expr)
		if !v.backend.SupportsFunction("CAST", 1) {
			v.add(ErrCapability, "backend %q does not support CAST", v.backend.Name)
		} else if _, ok := v.backend.CastType(val.Type); !ok {
			v.add(ErrCapability, "backend %q cannot CAST to %s", v.backend.Name, val.Type)
		}
	case *Star:
		v.add(ErrSchema, "* is only allowed as the only argument of a function accepting it, such as COUNT(*)")
	}
}

func (v *validator) checkFunction(f *FunctionCall) {
	name := backend.FunctionName(f.Name)
	decl, ok := v.backend.Function(name)
	if !ok {
		v.add(ErrCapability, "backend %q does not support function %s", v.backend.Name, name)
	} else if !decl.Accepts(f.arity()) {
		v.add(ErrCapability, "backend %q does not support function %s with %s", v.backend.Name, name, describeArity(f.arity()))
	}
	if len(f.Args) == 1 && isStarExpr(f.Args[0]) {
		if ok && !decl.Star {
			v.add(ErrSchema, "function %s does not accept *", name)
		}
		return
	}
	for _, arg := range f.Args {
		v.checkExpr(arg)
	}
}

func describeArity(n int) string {
	switch n {
	case backend.NoParens:
		return "no parentheses"
	case 1:
		return "1 argument"
	}
	return strconv.Itoa(n) + " arguments"
}

func (v *validator) checkColumn(c *Column) {
	if v.scope.broken {
		return
	}
	name := schema.Normalize(c.Name)
	if c.Table != "" {
		t, ok := v.scope.byName[schema.Normalize(c.Table)]
		if !ok {
			v.add(ErrSchema, "table %q is not part of the statement", c.Table)
			return
		}
		if _, ok := t.Column(name); !ok {
			v.add(ErrSchema, "table %q has no column %q", t.Name, c.Name)
		}
		return
	}
	t := v.scope.implicit()
	if t == nil {
		v.add(ErrSchema, "column %q must be qualified with its table, the statement reads %s", c.Name, v.scope.names())
		return
	}
	if _, ok := t.Column(name); !ok {
		v.add(ErrSchema, "table %q has no column %q", t.Name, c.Name)
	}
}

func (v *validator) checkValueIn(in ValueIn) {
	switch in := in.(type) {
	case *InList:
		for _, e := range in.Exprs {
			v.checkExpr(e)
		}
	case *InColumn:
		t, ok := v.schema.Table(in.Table)
		if !ok {
			v.add(ErrSchema, "IN %s: unknown table %q", in.Table, in.Table)
			return
		}
		if in.Column != "" {
			if _, ok := t.Column(schema.Normalize(in.Column)); !ok {
				v.add(ErrSchema, "IN %s.%s: table %q has no column %q", in.Table, in.Column, t.Name, in.Column)
			}
			return
		}
		if pks := t.PrimaryKeys(); len(pks) != 1 {
			v.add(ErrSchema, "IN %s: table %q must have a single primary key column, name the column instead", in.Table, t.Name)
		}
	case *InVar:
	}
}

// checkArgSequence checks that the custom select arguments used are
// numbered from zero without gaps and returns how many there are.
func (v *validator) checkArgSequence() int {
	last := -1
	for n := range v.args {
		if n > last {
			last = n
		}
	}
	for n := 0; n < last; n++ {
		if !v.args[n] {
			v.add(ErrSchema, "custom select arguments must be numbered without gaps: arg%d is not used", n)
		}
	}
	return last + 1
}

// plan is a validated statement with every name resolved.
type plan struct {
	stmt  *Statement
	lazy  bool
	scope *scope
	// base and joins are the resolved FROM clause of SELECT and EXISTS.
	base      string
	joins     []planJoin
	output    *planOutput
	returning *planOutput
	// table is the table written by INSERT, UPDATE and DELETE.
	table  *schema.Table
	insert *schema.Insert
	update *schema.Update
}

type planJoin struct {
	kind  schema.JoinKind
	table string
	on    Expr
}

type planOutput struct {
	rendered *renderedOutput
	args     []Expr
}

// validate resolves and checks a parsed statement.
func (c *Compiler) validate(stmt *Statement, lazy bool) (*plan, error) {
	v := &validator{schema: c.schema, backend: c.backend, scope: newScope()}
	pl := &plan{stmt: stmt, lazy: lazy, scope: v.scope}

	switch stmt.Kind {
	case SelectKind, ExistsKind:
		c.resolveSource(v, pl)
		if stmt.Output != nil {
			pl.output = c.resolveOutput(v, stmt.Output, len(pl.scope.tables) > 1)
		}
		if stmt.Kind == ExistsKind && lazy {
			v.add(ErrStatementShape, "EXISTS cannot be prepared lazily since it returns a single boolean, prepare it eagerly instead")
		}
	case InsertKind, UpdateKind, DeleteKind:
		t, ok := c.schema.Table(stmt.Table)
		if !ok {
			v.add(ErrSchema, "unknown table %q", stmt.Table)
			v.scope.broken = true
		} else {
			pl.table = t
			v.scope.add(t)
		}
		if stmt.Returning != nil {
			if !c.backend.Returning {
				v.add(ErrCapability, "backend %q does not support RETURNING", c.backend.Name)
			}
			pl.returning = c.resolveOutput(v, stmt.Returning, false)
		} else if lazy {
			v.add(ErrStatementShape, "%s without RETURNING cannot be prepared lazily since there are no rows to stream, prepare it eagerly instead", stmt.Kind)
		}
	}

	switch stmt.Kind {
	case InsertKind:
		c.checkInsert(v, pl)
	case UpdateKind:
		c.checkUpdate(v, pl)
	}

	if stmt.Where != nil {
		v.checkExpr(stmt.Where)
	}
	for _, e := range stmt.GroupBy {
		v.checkExpr(e)
	}
	if stmt.Having != nil {
		v.checkExpr(stmt.Having)
	}
	for _, t := range stmt.OrderBy {
		v.checkExpr(t.Expr)
	}
	if stmt.Limit != nil {
		v.checkExpr(stmt.Limit)
	}

	if err := v.err(); err != nil {
		return nil, err
	}
	return pl, nil
}

// resolveSource expands the FROM clause into the statement scope. Join
// conditions are checked against the tables joined so far.
func (c *Compiler) resolveSource(v *validator, pl *plan) {
	src := pl.stmt.From
	var joins []planJoin
	if t, ok := c.schema.Table(src.Table); ok {
		pl.base = t.Name
		v.scope.add(t)
	} else if j, ok := c.schema.Join(src.Table); ok {
		pl.base = j.Base
		if t, ok := c.schema.Table(j.Base); ok {
			v.scope.add(t)
		}
		for _, cl := range j.Clauses {
			pj := planJoin{kind: cl.Kind, table: cl.Table}
			if cl.On != "" {
				on, err := NewParser().ParseExpr(cl.On)
				if err != nil {
					v.add(ErrSyntax, "join %q: condition for %q: %v", j.Name, cl.Table, err)
					v.scope.broken = true
					continue
				}
				pj.on = on
			}
			joins = append(joins, pj)
		}
	} else {
		v.add(ErrSchema, "unknown table or join %q", src.Table)
		v.scope.broken = true
		return
	}
	for _, jr := range src.Joins {
		joins = append(joins, planJoin{kind: jr.Kind, table: jr.Table, on: jr.On})
	}

	for _, pj := range joins {
		t, ok := c.schema.Table(pj.table)
		if !ok {
			v.add(ErrSchema, "JOIN: unknown table %q", pj.table)
			v.scope.broken = true
			continue
		}
		if pj.on == nil && pj.kind != schema.CrossJoin {
			on, ok := deriveJoin(v.scope, t)
			if !ok {
				v.add(ErrSchema, "cannot derive condition of JOIN %q: no foreign key links it to %s", t.Name, v.scope.names())
			}
			pj.on = on
		}
		if !v.scope.add(t) {
			v.add(ErrSchema, "table %q is joined more than once", t.Name)
		}
		if pj.on != nil {
			v.checkExpr(pj.on)
		}
		pj.table = t.Name
		pl.joins = append(pl.joins, pj)
	}
}

// deriveJoin builds the condition joining t to the tables in scope from the
// first foreign key linking them.
func deriveJoin(sc *scope, t *schema.Table) (Expr, bool) {
	equal := func(lt, lc, rt, rc string) Expr {
		return &Chain{
			First: &ValueExpr{Value: &Column{Table: lt, Name: lc}},
			Tail:  []Link{{Op: Equal, Expr: &ValueExpr{Value: &Column{Table: rt, Name: rc}}}},
		}
	}
	for _, col := range t.Columns {
		rt, rc, ok := col.Reference()
		if !ok {
			continue
		}
		if _, ok := sc.byName[schema.Normalize(rt)]; ok {
			return equal(t.Name, col.Name, schema.Normalize(rt), rc), true
		}
	}
	for _, st := range sc.tables {
		for _, col := range st.Columns {
			rt, rc, ok := col.Reference()
			if ok && schema.Normalize(rt) == t.Name {
				return equal(st.Name, col.Name, t.Name, rc), true
			}
		}
	}
	return nil, false
}

// resolveOutput finds an output shape, checks that it reads tables in scope
// and checks the call-site arguments of its custom select expressions.
func (c *Compiler) resolveOutput(v *validator, ref *OutputRef, qualified bool) *planOutput {
	def, ok := c.schema.Output(ref.Name)
	if !ok {
		v.add(ErrSchema, "unknown output %q", ref.Name)
		return nil
	}
	if !v.scope.broken {
		for _, name := range c.outputTables(def) {
			if _, ok := v.scope.byName[name]; !ok {
				v.add(ErrSchema, "output %q reads table %q which is not part of the statement", def.Name, name)
			}
		}
	}
	rendered := c.renderOutput(def, qualified)
	v.addPrefixed("output "+strconv.Quote(def.Name)+": ", rendered.problems)
	if len(ref.Args) != rendered.args {
		v.add(ErrSchema, "output %q takes %d arguments, got %d", def.Name, rendered.args, len(ref.Args))
	}
	for _, arg := range ref.Args {
		v.checkExpr(arg)
	}
	return &planOutput{rendered: rendered, args: ref.Args}
}

// outputTables returns the tables an output reads.
func (c *Compiler) outputTables(def *schema.Output) []string {
	if j, ok := c.schema.Join(def.Table); ok {
		return j.Tables()
	}
	return []string{def.Table}
}

func (c *Compiler) checkInsert(v *validator, pl *plan) {
	stmt := pl.stmt
	in, ok := c.schema.Insert(stmt.Shape)
	if !ok {
		v.add(ErrSchema, "unknown insert shape %q", stmt.Shape)
		return
	}
	pl.insert = in
	if pl.table != nil && in.Table != pl.table.Name {
		v.add(ErrSchema, "insert shape %q writes table %q, not %q", in.Name, in.Table, pl.table.Name)
	}
}

func (c *Compiler) checkUpdate(v *validator, pl *plan) {
	stmt := pl.stmt
	if stmt.Shape != "" {
		up, ok := c.schema.Update(stmt.Shape)
		if !ok {
			v.add(ErrSchema, "unknown update shape %q", stmt.Shape)
			return
		}
		pl.update = up
		if pl.table != nil && up.Table != pl.table.Name {
			v.add(ErrSchema, "update shape %q writes table %q, not %q", up.Name, up.Table, pl.table.Name)
		}
		return
	}
	seen := map[string]bool{}
	for _, a := range stmt.Set {
		name := schema.Normalize(a.Column)
		if seen[name] {
			v.add(ErrSchema, "column %q is set more than once", a.Column)
		}
		seen[name] = true
		if pl.table != nil {
			if _, ok := pl.table.Column(name); !ok {
				v.add(ErrSchema, "table %q has no column %q", pl.table.Name, a.Column)
			}
		}
		v.checkExpr(a.Expr)
	}
}
