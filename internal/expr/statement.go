// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"strings"

	"github.com/canonical/sqlgen/internal/schema"
)

// Kind is the kind of a statement.
type Kind int

const (
	SelectKind Kind = iota
	ExistsKind
	InsertKind
	UpdateKind
	DeleteKind
)

func (k Kind) String() string {
	switch k {
	case SelectKind:
		return "SELECT"
	case ExistsKind:
		return "EXISTS"
	case InsertKind:
		return "INSERT"
	case UpdateKind:
		return "UPDATE"
	case DeleteKind:
		return "DELETE"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// OutputRef names the output shape of a SELECT or RETURNING clause. Args are
// the call-site arguments of custom select expressions; they are nil when
// the output is named without parentheses.
type OutputRef struct {
	Name string
	Args []Expr
}

func (o *OutputRef) String() string {
	if o.Args == nil {
		return o.Name
	}
	return o.Name + "(" + joinStrings(o.Args) + ")"
}

// JoinRef is a join written in the FROM clause. On is nil when the
// condition is to be derived from foreign keys, and always for CROSS joins.
type JoinRef struct {
	Kind  schema.JoinKind
	Table string
	On    Expr
}

// Source is the FROM clause of a SELECT or EXISTS. Table names a table or a
// join declared in the schema.
type Source struct {
	Table string
	Joins []JoinRef
}

func (s *Source) String() string {
	var sb strings.Builder
	sb.WriteString(s.Table)
	for _, j := range s.Joins {
		sb.WriteString(" " + string(j.Kind) + " JOIN " + j.Table)
		if j.On != nil {
			sb.WriteString(" ON " + j.On.String())
		}
	}
	return sb.String()
}

// OrderTerm is one term of ORDER BY. Direction is "", "ASC" or "DESC".
type OrderTerm struct {
	Expr      Expr
	Direction string
}

// Assignment is "column = expr" in the SET clause of an UPDATE.
type Assignment struct {
	Column string
	Expr   Expr
}

// Statement is a parsed statement.
type Statement struct {
	Kind     Kind
	Distinct bool
	// Output is the row shape selected by SELECT.
	Output *OutputRef
	// From is the source of SELECT and EXISTS.
	From *Source
	// Table is the table written by INSERT, UPDATE and DELETE.
	Table string
	// Shape is the insert shape of an INSERT or the update shape of an
	// UPDATE written with a shape.
	Shape string
	// Values holds the rows of an INSERT or the value of a shaped UPDATE.
	Values *OutsideVariable
	// Set holds the assignments of an UPDATE written without a shape.
	Set       []Assignment
	Where     Expr
	GroupBy   []Expr
	Having    Expr
	OrderBy   []OrderTerm
	Limit     Expr
	Returning *OutputRef
}

func (s *Statement) String() string {
	var parts []string
	add := func(name string, v string) {
		parts = append(parts, name+"["+v+"]")
	}
	if s.Distinct {
		parts = append(parts, "DISTINCT")
	}
	if s.Output != nil {
		add("Output", s.Output.String())
	}
	if s.From != nil {
		add("From", s.From.String())
	}
	if s.Table != "" {
		add("Table", s.Table)
	}
	if s.Shape != "" {
		add("Shape", s.Shape)
	}
	if s.Values != nil {
		add("Values", s.Values.Name())
	}
	if s.Set != nil {
		sets := make([]string, len(s.Set))
		for i, a := range s.Set {
			sets[i] = a.Column + " = " + a.Expr.String()
		}
		add("Set", strings.Join(sets, ", "))
	}
	if s.Where != nil {
		add("Where", s.Where.String())
	}
	if s.GroupBy != nil {
		add("GroupBy", joinStrings(s.GroupBy))
	}
	if s.Having != nil {
		add("Having", s.Having.String())
	}
	if s.OrderBy != nil {
		terms := make([]string, len(s.OrderBy))
		for i, t := range s.OrderBy {
			terms[i] = t.Expr.String()
			if t.Direction != "" {
				terms[i] += " " + t.Direction
			}
		}
		add("OrderBy", strings.Join(terms, ", "))
	}
	if s.Limit != nil {
		add("Limit", s.Limit.String())
	}
	if s.Returning != nil {
		add("Returning", s.Returning.String())
	}
	return s.Kind.String() + "[" + strings.Join(parts, " ") + "]"
}

// ParseStatement parses a SELECT, EXISTS, INSERT, UPDATE or DELETE
// statement.
func (p *Parser) ParseStatement(input string) (s *Statement, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrSyntax, err)
		}
	}()
	p.init(input)
	p.skipBlanks()

	switch {
	case p.skipKeyword("SELECT"):
		s, err = p.parseSelect()
	case p.skipKeyword("EXISTS"):
		s, err = p.parseExists()
	case p.skipKeyword("INSERT"):
		s, err = p.parseInsert()
	case p.skipKeyword("UPDATE"):
		s, err = p.parseUpdate()
	case p.skipKeyword("DELETE"):
		s, err = p.parseDelete()
	default:
		return nil, p.errorf("expected SELECT, EXISTS, INSERT, UPDATE or DELETE")
	}
	if err != nil {
		return nil, err
	}

	p.skipBlanks()
	p.skipChar(';')
	p.skipBlanks()
	if !p.atEnd() {
		return nil, p.errorf("unexpected %q", p.rest())
	}
	return s, nil
}

// parseTableName parses a table name. Reserved words must be quoted.
func (p *Parser) parseTableName(after string) (string, error) {
	p.skipBlanks()
	name, quoted, ok, err := p.parseIdentifier()
	if err != nil {
		return "", err
	}
	if !ok || (!quoted && isReserved(name)) {
		return "", p.errorf("expected table name after %s", after)
	}
	return name, nil
}

// parseOutputRef parses an output name followed by optional arguments.
func (p *Parser) parseOutputRef(after string) (*OutputRef, error) {
	p.skipBlanks()
	name, quoted, ok, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	if !ok || (!quoted && isReserved(name)) {
		return nil, p.errorf("expected output name after %s", after)
	}
	out := &OutputRef{Name: name}
	if p.peekChar('(') {
		if out.Args, err = p.parseArgs(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Parser) parseSelect() (*Statement, error) {
	s := &Statement{Kind: SelectKind}
	p.skipBlanks()
	s.Distinct = p.skipKeyword("DISTINCT")
	var err error
	if s.Output, err = p.parseOutputRef("SELECT"); err != nil {
		return nil, err
	}
	p.skipBlanks()
	if !p.skipKeyword("FROM") {
		return nil, p.errorf("expected FROM after output %s", s.Output.Name)
	}
	if s.From, err = p.parseSource(); err != nil {
		return nil, err
	}
	if err := p.parseQueryClauses(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Parser) parseExists() (*Statement, error) {
	s := &Statement{Kind: ExistsKind}
	p.skipBlanks()
	if !p.skipKeyword("FROM") {
		return nil, p.errorf("expected FROM after EXISTS")
	}
	var err error
	if s.From, err = p.parseSource(); err != nil {
		return nil, err
	}
	if err := p.parseQueryClauses(s); err != nil {
		return nil, err
	}
	return s, nil
}

// parseSource parses a table or declared join followed by any number of
// inline joins.
func (p *Parser) parseSource() (*Source, error) {
	table, err := p.parseTableName("FROM")
	if err != nil {
		return nil, err
	}
	src := &Source{Table: table}
	for {
		cp := p.save()
		p.skipBlanks()
		kind, ok := p.parseJoinKind()
		if !ok {
			cp.restore()
			return src, nil
		}
		join := JoinRef{Kind: kind}
		if join.Table, err = p.parseTableName("JOIN"); err != nil {
			return nil, err
		}
		oncp := p.save()
		p.skipBlanks()
		if p.skipKeyword("ON") {
			if kind == schema.CrossJoin {
				return nil, oncp.errorf("CROSS JOIN cannot have an ON condition")
			}
			p.skipBlanks()
			if join.On, err = p.parseCondition("ON"); err != nil {
				return nil, err
			}
		} else {
			oncp.restore()
		}
		src.Joins = append(src.Joins, join)
	}
}

func (p *Parser) parseJoinKind() (schema.JoinKind, bool) {
	switch {
	case p.skipKeyword("JOIN"):
		return schema.InnerJoin, true
	case p.skipKeywords("INNER", "JOIN"):
		return schema.InnerJoin, true
	case p.skipKeywords("LEFT", "JOIN"), p.skipKeywords("LEFT", "OUTER", "JOIN"):
		return schema.LeftJoin, true
	case p.skipKeywords("RIGHT", "JOIN"), p.skipKeywords("RIGHT", "OUTER", "JOIN"):
		return schema.RightJoin, true
	case p.skipKeywords("CROSS", "JOIN"):
		return schema.CrossJoin, true
	}
	return "", false
}

// parseQueryClauses parses the optional WHERE, GROUP BY, HAVING, ORDER BY
// and LIMIT clauses, in that order.
func (p *Parser) parseQueryClauses(s *Statement) error {
	var err error
	if s.Where, err = p.parseWhere(); err != nil {
		return err
	}

	cp := p.save()
	p.skipBlanks()
	if p.skipKeywords("GROUP", "BY") {
		if s.GroupBy, err = p.parseExprList("GROUP BY"); err != nil {
			return err
		}
	} else {
		cp.restore()
	}

	cp = p.save()
	p.skipBlanks()
	if p.skipKeyword("HAVING") {
		p.skipBlanks()
		if s.Having, err = p.parseCondition("HAVING"); err != nil {
			return err
		}
	} else {
		cp.restore()
	}

	cp = p.save()
	p.skipBlanks()
	if p.skipKeywords("ORDER", "BY") {
		for {
			p.skipBlanks()
			e, ok, err := p.parseExpr()
			if err != nil {
				return err
			} else if !ok {
				return p.errorf("expected expression in ORDER BY")
			}
			term := OrderTerm{Expr: e}
			dcp := p.save()
			p.skipBlanks()
			switch {
			case p.skipKeyword("ASC"):
				term.Direction = "ASC"
			case p.skipKeyword("DESC"):
				term.Direction = "DESC"
			default:
				dcp.restore()
			}
			s.OrderBy = append(s.OrderBy, term)
			ccp := p.save()
			p.skipBlanks()
			if !p.skipChar(',') {
				ccp.restore()
				break
			}
		}
	} else {
		cp.restore()
	}

	cp = p.save()
	p.skipBlanks()
	if p.skipKeyword("LIMIT") {
		p.skipBlanks()
		e, ok, err := p.parseExpr()
		if err != nil {
			return err
		} else if !ok {
			return p.errorf("expected expression after LIMIT")
		}
		s.Limit = e
	} else {
		cp.restore()
	}
	return nil
}

// parseWhere parses an optional WHERE clause.
func (p *Parser) parseWhere() (Expr, error) {
	cp := p.save()
	p.skipBlanks()
	if !p.skipKeyword("WHERE") {
		cp.restore()
		return nil, nil
	}
	p.skipBlanks()
	return p.parseCondition("WHERE")
}

// parseExprList parses a comma separated list of at least one expression.
func (p *Parser) parseExprList(after string) ([]Expr, error) {
	var exprs []Expr
	for {
		p.skipBlanks()
		e, ok, err := p.parseExpr()
		if err != nil {
			return nil, err
		} else if !ok {
			return nil, p.errorf("expected expression in %s", after)
		}
		exprs = append(exprs, e)
		cp := p.save()
		p.skipBlanks()
		if !p.skipChar(',') {
			cp.restore()
			return exprs, nil
		}
	}
}

// parseReturning parses an optional RETURNING clause.
func (p *Parser) parseReturning() (*OutputRef, error) {
	cp := p.save()
	p.skipBlanks()
	if !p.skipKeyword("RETURNING") {
		cp.restore()
		return nil, nil
	}
	return p.parseOutputRef("RETURNING")
}

func (p *Parser) parseInsert() (*Statement, error) {
	s := &Statement{Kind: InsertKind}
	p.skipBlanks()
	if !p.skipKeyword("INTO") {
		return nil, p.errorf("expected INTO after INSERT")
	}
	var err error
	if s.Table, err = p.parseTableName("INSERT INTO"); err != nil {
		return nil, err
	}
	if s.Shape, err = p.parseShape("table name"); err != nil {
		return nil, err
	}
	p.skipBlanks()
	if !p.skipKeyword("VALUES") {
		return nil, p.errorf("expected VALUES after insert shape")
	}
	p.skipBlanks()
	rows, ok, err := p.parseOutsideVariable()
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, p.errorf("expected host variable after VALUES, such as {rows}")
	}
	s.Values = rows
	if s.Returning, err = p.parseReturning(); err != nil {
		return nil, err
	}
	return s, nil
}

// parseShape parses a parenthesized shape name, (Shape).
func (p *Parser) parseShape(after string) (string, error) {
	p.skipBlanks()
	cp := p.save()
	if !p.skipChar('(') {
		return "", p.errorf("expected (shape) after %s", after)
	}
	p.skipBlanks()
	name, _, ok, err := p.parseIdentifier()
	if err != nil {
		return "", err
	} else if !ok {
		return "", p.errorf("expected shape name")
	}
	p.skipBlanks()
	if !p.skipChar(')') {
		return "", cp.errorf("missing closing parenthesis after shape %s", name)
	}
	return name, nil
}

func (p *Parser) parseUpdate() (*Statement, error) {
	s := &Statement{Kind: UpdateKind}
	var err error
	if s.Table, err = p.parseTableName("UPDATE"); err != nil {
		return nil, err
	}
	p.skipBlanks()
	if !p.skipKeyword("SET") {
		return nil, p.errorf("expected SET after table name")
	}
	p.skipBlanks()
	if p.peekChar('(') {
		if s.Shape, err = p.parseShape("SET"); err != nil {
			return nil, err
		}
		p.skipBlanks()
		v, ok, err := p.parseOutsideVariable()
		if err != nil {
			return nil, err
		} else if !ok {
			return nil, p.errorf("expected host variable after shape %s, such as {value}", s.Shape)
		}
		s.Values = v
	} else {
		for {
			p.skipBlanks()
			column, quoted, ok, err := p.parseIdentifier()
			if err != nil {
				return nil, err
			}
			if !ok || (!quoted && isReserved(column)) {
				return nil, p.errorf("expected column name in SET")
			}
			p.skipBlanks()
			if !p.skipChar('=') {
				return nil, p.errorf("expected = after column %s", column)
			}
			p.skipBlanks()
			e, ok, err := p.parseExpr()
			if err != nil {
				return nil, err
			} else if !ok {
				return nil, p.errorf("expected expression after %s =", column)
			}
			s.Set = append(s.Set, Assignment{Column: column, Expr: e})
			cp := p.save()
			p.skipBlanks()
			if !p.skipChar(',') {
				cp.restore()
				break
			}
		}
	}
	if s.Where, err = p.parseWhere(); err != nil {
		return nil, err
	}
	if s.Returning, err = p.parseReturning(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Parser) parseDelete() (*Statement, error) {
	s := &Statement{Kind: DeleteKind}
	p.skipBlanks()
	if !p.skipKeyword("FROM") {
		return nil, p.errorf("expected FROM after DELETE")
	}
	var err error
	if s.Table, err = p.parseTableName("DELETE FROM"); err != nil {
		return nil, err
	}
	if s.Where, err = p.parseWhere(); err != nil {
		return nil, err
	}
	if s.Returning, err = p.parseReturning(); err != nil {
		return nil, err
	}
	return s, nil
}
