// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// reserved words end a value. They cannot be used as bare column names;
// quote them instead.
var reserved = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IS": true, "IN": true,
	"BETWEEN": true, "LIKE": true, "AS": true, "ASC": true, "DESC": true,
	"SELECT": true, "DISTINCT": true, "FROM": true, "WHERE": true,
	"GROUP": true, "BY": true, "HAVING": true, "ORDER": true, "LIMIT": true,
	"RETURNING": true, "JOIN": true, "INNER": true, "LEFT": true,
	"RIGHT": true, "CROSS": true, "ON": true, "SET": true, "VALUES": true,
	"INTO": true, "EXISTS": true,
}

func isReserved(name string) bool {
	return reserved[strings.ToUpper(name)]
}

// parenlessBuiltins are the functions that may be called without
// parentheses.
var parenlessBuiltins = map[string]bool{
	"CURRENT_TIMESTAMP": true,
	"CURRENT_DATE":      true,
	"CURRENT_TIME":      true,
}

// operatorTokens lists the symbolic operators, longest first so that "->>"
// is not read as "->" followed by ">".
var operatorTokens = []struct {
	token string
	op    Operator
}{
	{"->>", JsonExtractText},
	{"->", JsonExtract},
	{"<<", BitShiftLeft},
	{">>", BitShiftRight},
	{"<=", LessThanOrEqual},
	{">=", GreaterThanOrEqual},
	{"<>", NotEqual},
	{"!=", NotEqual},
	{"||", Concat},
	{"=", Equal},
	{"<", LessThan},
	{">", GreaterThan},
	{"+", Add},
	{"-", Sub},
	{"*", Mul},
	{"/", Div},
	{"%", Mod},
	{"&", BitAnd},
	{"|", BitOr},
}

var operatorKeywords = []struct {
	keyword string
	op      Operator
}{
	{"AND", And},
	{"OR", Or},
	{"LIKE", Like},
}

// ParseExpr parses a complete expression, such as a WHERE condition.
func (p *Parser) ParseExpr(input string) (e Expr, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrSyntax, err)
		}
	}()
	p.init(input)
	p.skipBlanks()
	e, err = p.parseCondition("")
	if err != nil {
		return nil, err
	}
	p.skipBlanks()
	if !p.atEnd() {
		return nil, p.errorf("unexpected %q", p.rest())
	}
	return e, nil
}

// ParseCustomSelect parses the custom select expression of an output field.
// Host variables must be named arg0, arg1 and so on.
func ParseCustomSelect(input string) (Expr, error) {
	p := &Parser{custom: true}
	return p.ParseExpr(input)
}

// rest returns a short excerpt of the unparsed input for error messages.
func (p *Parser) rest() string {
	rest := p.input[p.pos:]
	if i := strings.IndexAny(rest, " \t\r\n"); i > 0 {
		rest = rest[:i]
	}
	if len(rest) > 20 {
		rest = rest[:20] + "..."
	}
	return rest
}

// Functions with the prefix parse attempt to parse some construct. They return
// the construct, and an error and/or a bool that indicates if the construct
// was successfully parsed.
//
// Return cases:
//  - bool == true, err == nil
//		The construct was successfully parsed
//  - bool == false, err != nil
//		The construct was recognised but was not correctly formatted
//  - bool == false, err == nil
//		The construct was not the one we are looking for

// parseCondition parses an expression that must be present. An absent
// condition is reported with a hint to use true, which matches every row.
func (p *Parser) parseCondition(after string) (Expr, error) {
	e, ok, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !ok {
		if after == "" {
			return nil, p.errorf(`missing condition: use "true" to match every row`)
		}
		return nil, p.errorf(`missing condition after %s: use "true" to match every row`, after)
	}
	return e, nil
}

// parseExpr parses a chain of operands joined by operators. Each operand may
// be preceded by any number of NOTs, which are counted rather than toggled.
func (p *Parser) parseExpr() (Expr, bool, error) {
	cp := p.save()
	nots := p.parseNots()
	first, ok, err := p.parseOperand()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		if nots > 0 {
			return nil, false, p.errorf("expected expression after NOT")
		}
		cp.restore()
		return nil, false, nil
	}

	var tail []Link
	for {
		opcp := p.save()
		p.skipBlanks()
		op, ok := p.parseOperator()
		if !ok {
			if p.peekKeyword("NOT") {
				return nil, false, p.errorf("NOT must precede an operand: negate the whole comparison instead, as in NOT (name LIKE 'a%%')")
			}
			opcp.restore()
			break
		}
		p.skipBlanks()
		linkNots := p.parseNots()
		operand, ok, err := p.parseOperand()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, p.errorf("expected expression after %s", op.Token())
		}
		tail = append(tail, Link{Nots: linkNots, Op: op, Expr: operand})
	}

	if nots == 0 && len(tail) == 0 {
		return first, true, nil
	}
	return &Chain{Nots: nots, First: first, Tail: tail}, true, nil
}

// parseNots counts and skips NOT keywords.
func (p *Parser) parseNots() int {
	n := 0
	for p.skipKeyword("NOT") {
		n++
		p.skipBlanks()
	}
	return n
}

// parseOperator parses a binary operator.
func (p *Parser) parseOperator() (Operator, bool) {
	for _, ot := range operatorTokens {
		if p.skipString(ot.token) {
			return ot.op, true
		}
	}
	for _, kw := range operatorKeywords {
		if p.skipKeyword(kw.keyword) {
			return kw.op, true
		}
	}
	return 0, false
}

// parseOperand parses a parenthesized expression or a value followed by an
// optional IS NULL, IN or BETWEEN. The choice is made by looking ahead at the
// next keyword only.
func (p *Parser) parseOperand() (Expr, bool, error) {
	cp := p.save()
	if p.skipChar('(') {
		p.skipBlanks()
		e, ok, err := p.parseExpr()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, p.errorf("expected expression after (")
		}
		p.skipBlanks()
		if !p.skipChar(')') {
			return nil, false, cp.errorf("missing closing parenthesis")
		}
		return &Paren{Expr: e}, true, nil
	}

	v, ok, err := p.parseValue()
	if !ok {
		return nil, false, err
	}

	tcp := p.save()
	p.skipBlanks()
	switch {
	case p.skipKeyword("IS"):
		p.skipBlanks()
		not := p.skipKeyword("NOT")
		p.skipBlanks()
		if !p.skipKeyword("NULL") {
			return nil, false, p.errorf("expected NULL after IS")
		}
		return &IsNull{Value: v, Not: not}, true, nil
	case p.skipKeyword("IN"):
		p.skipBlanks()
		in, err := p.parseValueIn()
		if err != nil {
			return nil, false, err
		}
		return &In{Value: v, In: in}, true, nil
	case p.skipKeyword("BETWEEN"):
		p.skipBlanks()
		low, ok, err := p.parseValue()
		if err != nil {
			return nil, false, err
		} else if !ok {
			return nil, false, p.errorf("expected lower bound after BETWEEN")
		}
		p.skipBlanks()
		// The AND belongs to the BETWEEN, not to an enclosing chain.
		if !p.skipKeyword("AND") {
			return nil, false, p.errorf("expected AND after lower bound of BETWEEN")
		}
		p.skipBlanks()
		high, ok, err := p.parseValue()
		if err != nil {
			return nil, false, err
		} else if !ok {
			return nil, false, p.errorf("expected upper bound after BETWEEN ... AND")
		}
		return &Between{Value: v, Low: low, High: high}, true, nil
	}
	tcp.restore()
	return &ValueExpr{Value: v}, true, nil
}

// parseValueIn parses the three forms accepted after IN: a parenthesized
// list, a table optionally followed by a column, or a host variable.
func (p *Parser) parseValueIn() (ValueIn, error) {
	cp := p.save()
	if p.skipChar('(') {
		p.skipBlanks()
		if p.skipChar(')') {
			return nil, cp.errorf("empty IN list")
		}
		var exprs []Expr
		for {
			p.skipBlanks()
			e, ok, err := p.parseExpr()
			if err != nil {
				return nil, err
			} else if !ok {
				return nil, p.errorf("invalid expression in IN list")
			}
			exprs = append(exprs, e)
			p.skipBlanks()
			if p.skipChar(')') {
				return &InList{Exprs: exprs}, nil
			}
			if !p.skipChar(',') {
				return nil, cp.errorf("missing closing parenthesis in IN list")
			}
		}
	}

	if v, ok, err := p.parseOutsideVariable(); err != nil {
		return nil, err
	} else if ok {
		if p.custom {
			return nil, cp.errorf("custom select expressions cannot use IN with a host variable")
		}
		return &InVar{Var: v}, nil
	}

	table, quoted, ok, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	if !ok || (!quoted && isReserved(table)) {
		return nil, p.errorf("expected list, table or host variable after IN")
	}
	in := &InColumn{Table: table}
	if p.skipChar('.') {
		column, _, ok, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		} else if !ok {
			return nil, p.errorf("expected column name after %q", table+".")
		}
		in.Column = column
	}
	return in, nil
}

// parseValue parses a single value.
func (p *Parser) parseValue() (Value, bool, error) {
	if p.atEnd() {
		return nil, false, nil
	}
	if p.skipChar('*') {
		return &Star{}, true, nil
	}
	if v, ok, err := p.parseOutsideVariable(); err != nil {
		return nil, false, err
	} else if ok {
		return v, true, nil
	}
	if s, ok, err := p.skipQuoted('\''); err != nil {
		return nil, false, err
	} else if ok {
		return &Literal{Val: s}, true, nil
	}
	if lit, ok, err := p.parseNumber(); err != nil {
		return nil, false, err
	} else if ok {
		return lit, true, nil
	}
	if p.peekChar('?') || p.peekChar('$') {
		return nil, false, p.errorf("raw placeholder %q: use a host variable such as {name}", p.rest())
	}
	return p.parseNamedValue()
}

// parseNamedValue parses the values that start with a name: keywords
// literals, casts, function calls and columns.
func (p *Parser) parseNamedValue() (Value, bool, error) {
	cp := p.save()
	name, quoted, ok, err := p.parseIdentifier()
	if err != nil || !ok {
		return nil, false, err
	}
	if quoted {
		return p.parseColumnSuffix(name)
	}

	upper := strings.ToUpper(name)
	switch {
	case isReserved(name):
		cp.restore()
		return nil, false, nil
	case upper == "TRUE":
		return &Literal{Val: true}, true, nil
	case upper == "FALSE":
		return &Literal{Val: false}, true, nil
	case upper == "NULL":
		return &Literal{Val: nil}, true, nil
	}

	if p.peekChar('(') {
		if upper == "CAST" {
			return p.parseCast(cp)
		}
		args, err := p.parseArgs(name)
		if err != nil {
			return nil, false, err
		}
		return &FunctionCall{Name: name, Args: args}, true, nil
	}
	if parenlessBuiltins[upper] {
		return &FunctionCall{Name: name}, true, nil
	}
	return p.parseColumnSuffix(name)
}

// parseColumnSuffix completes a column whose first identifier has been
// parsed. A following dot makes the first identifier the table name.
func (p *Parser) parseColumnSuffix(name string) (Value, bool, error) {
	if !p.skipChar('.') {
		return &Column{Name: name}, true, nil
	}
	column, _, ok, err := p.parseIdentifier()
	if err != nil {
		return nil, false, err
	} else if !ok {
		return nil, false, p.errorf("expected column name after %q", name+".")
	}
	return &Column{Table: name, Name: column}, true, nil
}

// parseArgs parses the parenthesized argument list of a function call. A
// star must be the only argument.
func (p *Parser) parseArgs(name string) ([]Expr, error) {
	cp := p.save()
	if !p.skipChar('(') {
		return nil, p.errorf("expected ( after %s", name)
	}
	p.skipBlanks()
	args := []Expr{}
	if p.skipChar(')') {
		return args, nil
	}
	for {
		p.skipBlanks()
		argcp := p.save()
		e, ok, err := p.parseExpr()
		if err != nil {
			return nil, err
		} else if !ok {
			return nil, p.errorf("invalid argument to %s", name)
		}
		p.skipBlanks()
		isStar := isStarExpr(e)
		if isStar && len(args) > 0 {
			return nil, argcp.errorf("* must be the only argument of %s", name)
		}
		args = append(args, e)
		if p.skipChar(')') {
			return args, nil
		}
		if !p.skipChar(',') {
			return nil, cp.errorf("missing closing parenthesis in call to %s", name)
		}
		if isStar {
			return nil, argcp.errorf("* must be the only argument of %s", name)
		}
	}
}

func isStarExpr(e Expr) bool {
	ve, ok := e.(*ValueExpr)
	if !ok {
		return false
	}
	_, ok = ve.Value.(*Star)
	return ok
}

// parseCast parses CAST(expr AS Type). Nothing else may appear inside the
// parentheses.
func (p *Parser) parseCast(start *checkpoint) (Value, bool, error) {
	formErr := func() error {
		return start.errorf("CAST must be of the form CAST(expr AS type)")
	}
	p.skipChar('(')
	p.skipBlanks()
	e, ok, err := p.parseExpr()
	if err != nil {
		return nil, false, err
	} else if !ok {
		return nil, false, formErr()
	}
	p.skipBlanks()
	if !p.skipKeyword("AS") {
		return nil, false, formErr()
	}
	p.skipBlanks()
	// Type names may be more than one word, as in DOUBLE PRECISION.
	var words []string
	for {
		word, ok := p.parseName()
		if !ok {
			break
		}
		words = append(words, word)
		p.skipBlanks()
	}
	if len(words) == 0 || !p.skipChar(')') {
		return nil, false, formErr()
	}
	return &Cast{Expr: e, Type: strings.Join(words, " ")}, true, nil
}

// parseOutsideVariable parses a host variable in braces, {name} or
// {name.member}.
func (p *Parser) parseOutsideVariable() (*OutsideVariable, bool, error) {
	cp := p.save()
	if !p.skipChar('{') {
		return nil, false, nil
	}
	p.skipBlanks()
	var path []string
	for {
		name, ok := p.parseName()
		if !ok {
			if p.peekChar('}') && len(path) == 0 {
				return nil, false, cp.errorf("empty host variable")
			}
			return nil, false, p.errorf("invalid host variable name")
		}
		path = append(path, name)
		if !p.skipChar('.') {
			break
		}
	}
	p.skipBlanks()
	if !p.skipChar('}') {
		return nil, false, cp.errorf("missing closing brace after host variable")
	}
	v := &OutsideVariable{Path: path}
	if p.custom {
		if _, ok := v.argIndex(); !ok {
			return nil, false, cp.errorf("custom select expressions may only use arguments named arg0, arg1 and so on, got {%s}", v.Name())
		}
	}
	return v, true, nil
}

// parseNumber parses an integer or floating point literal with an optional
// leading minus sign.
func (p *Parser) parseNumber() (*Literal, bool, error) {
	cp := p.save()
	mark := p.pos
	p.skipChar('-')
	digits := 0
	for p.pos < len(p.input) && p.char >= '0' && p.char <= '9' {
		p.advanceChar()
		digits++
	}
	if digits == 0 {
		cp.restore()
		return nil, false, nil
	}
	float := false
	if p.peekChar('.') {
		float = true
		p.advanceChar()
		for p.pos < len(p.input) && p.char >= '0' && p.char <= '9' {
			p.advanceChar()
		}
	}
	if p.peekChar('e') || p.peekChar('E') {
		ecp := p.save()
		p.advanceChar()
		if !p.skipChar('+') {
			p.skipChar('-')
		}
		exp := 0
		for p.pos < len(p.input) && p.char >= '0' && p.char <= '9' {
			p.advanceChar()
			exp++
		}
		if exp == 0 {
			ecp.restore()
		} else {
			float = true
		}
	}
	if p.pos < len(p.input) && isNameChar(p.char) {
		return nil, false, cp.errorf("invalid number %q", p.input[mark:p.pos]+p.rest())
	}
	text := p.input[mark:p.pos]
	if !float {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return &Literal{Val: n}, true, nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, false, cp.errorf("invalid number %q", text)
	}
	return &Literal{Val: f}, true, nil
}
