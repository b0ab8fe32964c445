// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"strconv"
	"strings"
)

// Operator is a binary operator joining the operands of a Chain.
type Operator int

const (
	And Operator = iota
	Or
	Add
	Sub
	Mul
	Div
	Mod
	Concat
	JsonExtract
	JsonExtractText
	BitAnd
	BitOr
	BitShiftLeft
	BitShiftRight
	Equal
	NotEqual
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
	Like
)

var operatorInfo = []struct {
	name  string
	token string
}{
	And:                {"And", "AND"},
	Or:                 {"Or", "OR"},
	Add:                {"Add", "+"},
	Sub:                {"Sub", "-"},
	Mul:                {"Mul", "*"},
	Div:                {"Div", "/"},
	Mod:                {"Mod", "%"},
	Concat:             {"Concat", "||"},
	JsonExtract:        {"JsonExtract", "->"},
	JsonExtractText:    {"JsonExtractText", "->>"},
	BitAnd:             {"BitAnd", "&"},
	BitOr:              {"BitOr", "|"},
	BitShiftLeft:       {"BitShiftLeft", "<<"},
	BitShiftRight:      {"BitShiftRight", ">>"},
	Equal:              {"Equal", "="},
	NotEqual:           {"NotEqual", "<>"},
	GreaterThan:        {"GreaterThan", ">"},
	GreaterThanOrEqual: {"GreaterThanOrEqual", ">="},
	LessThan:           {"LessThan", "<"},
	LessThanOrEqual:    {"LessThanOrEqual", "<="},
	Like:               {"Like", "LIKE"},
}

// String returns the capability name of the operator, e.g. "BitShiftLeft".
func (op Operator) String() string {
	if int(op) < 0 || int(op) >= len(operatorInfo) {
		return "Operator(" + strconv.Itoa(int(op)) + ")"
	}
	return operatorInfo[op].name
}

// Token returns the SQL text of the operator.
func (op Operator) Token() string {
	return operatorInfo[op].token
}

// Value is a single SQL value.
type Value interface {
	// String returns a string representation of the value for debugging and
	// testing purposes.
	String() string

	// value is a marker method.
	value()
}

// Column is a column reference, optionally qualified by its table.
type Column struct {
	Table string
	Name  string
}

func (c *Column) String() string {
	if c.Table == "" {
		return "Column[" + c.Name + "]"
	}
	return "Column[" + c.Table + "." + c.Name + "]"
}

func (c *Column) value() {}

// Literal is a scalar written in the statement. Val holds an int64, a
// float64, a string, a bool or nil for NULL.
type Literal struct {
	Val any
}

func (l *Literal) String() string {
	return "Literal[" + l.text() + "]"
}

// text returns the literal as it would be written in SQL with standard
// quoting.
func (l *Literal) text() string {
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
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return "?"
}

func (l *Literal) value() {}

// OutsideVariable is a value supplied when the statement is executed,
// written {name} or {name.member}. In custom select expressions it names a
// positional argument of the output, {arg0}, {arg1} and so on.
type OutsideVariable struct {
	Path []string
}

func (v *OutsideVariable) String() string {
	return "Var[" + v.Name() + "]"
}

// Name returns the dotted form of the variable path.
func (v *OutsideVariable) Name() string {
	return strings.Join(v.Path, ".")
}

// argIndex returns N for a custom select argument named argN.
func (v *OutsideVariable) argIndex() (int, bool) {
	if len(v.Path) != 1 {
		return 0, false
	}
	return argIndex(v.Path[0])
}

func argIndex(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, "arg")
	if !ok || digits == "" {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (v *OutsideVariable) value() {}

// FunctionCall is a call of a named SQL function. Args is nil for builtins
// written without parentheses, such as CURRENT_TIMESTAMP, and empty for a
// call with empty parentheses.
type FunctionCall struct {
	Name string
	Args []Expr
}

func (f *FunctionCall) String() string {
	if f.Args == nil {
		return "Func[" + f.Name + "]"
	}
	return "Func[" + f.Name + "(" + joinStrings(f.Args) + ")]"
}

// arity returns the number of arguments of the call, or -1 for a call
// without parentheses.
func (f *FunctionCall) arity() int {
	if f.Args == nil {
		return -1
	}
	return len(f.Args)
}

func (f *FunctionCall) value() {}

// Cast converts an expression to a type, CAST(expr AS Type).
type Cast struct {
	Expr Expr
	Type string
}

func (c *Cast) String() string {
	return "Cast[" + c.Expr.String() + " AS " + c.Type + "]"
}

func (c *Cast) value() {}

// Star is *. It is only valid as the single argument of a function that
// accepts it, like COUNT(*).
type Star struct{}

func (s *Star) String() string {
	return "Star"
}

func (s *Star) value() {}

// Expr is a node of an expression tree.
type Expr interface {
	// String returns a string representation of the expression for
	// debugging and testing purposes.
	String() string

	// expr is a marker method.
	expr()
}

// ValueExpr is an expression made of a single value.
type ValueExpr struct {
	Value Value
}

func (e *ValueExpr) String() string {
	return e.Value.String()
}

func (e *ValueExpr) expr() {}

// Paren is a parenthesized expression.
type Paren struct {
	Expr Expr
}

func (e *Paren) String() string {
	return "Paren[" + e.Expr.String() + "]"
}

func (e *Paren) expr() {}

// Link is one operator and operand of a Chain. Nots counts the NOT prefixes
// of the operand.
type Link struct {
	Nots int
	Op   Operator
	Expr Expr
}

// Chain applies operators left to right with no precedence of its own; the
// SQL text is reproduced in order and the database applies its own
// precedence. Nots counts the NOT prefixes of the first operand.
type Chain struct {
	Nots  int
	First Expr
	Tail  []Link
}

func (e *Chain) String() string {
	var sb strings.Builder
	sb.WriteString("Chain[")
	sb.WriteString(strings.Repeat("NOT ", e.Nots))
	sb.WriteString(e.First.String())
	for _, l := range e.Tail {
		sb.WriteString(" " + l.Op.Token() + " ")
		sb.WriteString(strings.Repeat("NOT ", l.Nots))
		sb.WriteString(l.Expr.String())
	}
	sb.WriteString("]")
	return sb.String()
}

func (e *Chain) expr() {}

// IsNull is "value IS NULL", or "value IS NOT NULL" when Not is set.
type IsNull struct {
	Value Value
	Not   bool
}

func (e *IsNull) String() string {
	if e.Not {
		return "IsNotNull[" + e.Value.String() + "]"
	}
	return "IsNull[" + e.Value.String() + "]"
}

func (e *IsNull) expr() {}

// In is "value IN ...".
type In struct {
	Value Value
	In    ValueIn
}

func (e *In) String() string {
	return "In[" + e.Value.String() + " " + e.In.String() + "]"
}

func (e *In) expr() {}

// Between is "value BETWEEN low AND high".
type Between struct {
	Value Value
	Low   Value
	High  Value
}

func (e *Between) String() string {
	return "Between[" + e.Value.String() + " " + e.Low.String() + " " + e.High.String() + "]"
}

func (e *Between) expr() {}

// ValueIn is the right hand side of IN.
type ValueIn interface {
	String() string

	// valueIn is a marker method.
	valueIn()
}

// InList is an explicit list, IN (a, b, c).
type InList struct {
	Exprs []Expr
}

func (l *InList) String() string {
	return "List[" + joinStrings(l.Exprs) + "]"
}

func (l *InList) valueIn() {}

// InColumn selects a single column of a table, IN table.column. When Column
// is empty the primary key of the table is used.
type InColumn struct {
	Table  string
	Column string
}

func (c *InColumn) String() string {
	if c.Column == "" {
		return "Select[" + c.Table + "]"
	}
	return "Select[" + c.Table + "." + c.Column + "]"
}

func (c *InColumn) valueIn() {}

// InVar is a host collection, IN {ids}, expanded to one placeholder per
// element when the statement is executed.
type InVar struct {
	Var *OutsideVariable
}

func (v *InVar) String() string {
	return v.Var.String()
}

func (v *InVar) valueIn() {}

func joinStrings[T interface{ String() string }](xs []T) string {
	s := make([]string, len(xs))
	for i, x := range xs {
		s[i] = x.String()
	}
	return strings.Join(s, ", ")
}
