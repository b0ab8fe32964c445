// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package backend

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PlaceholderStyle is the syntax a backend uses for statement parameters.
type PlaceholderStyle int

const (
	// Numbered placeholders are written ?1, ?2, ...
	Numbered PlaceholderStyle = iota
	// Dollar placeholders are written $1, $2, ...
	Dollar
	// Question placeholders are all written ? and bound by position.
	Question
)

func (ps PlaceholderStyle) String() string {
	switch ps {
	case Numbered:
		return "numbered"
	case Dollar:
		return "dollar"
	case Question:
		return "question"
	}
	return "PlaceholderStyle(" + strconv.Itoa(int(ps)) + ")"
}

// Special arities for function declarations.
const (
	// NoParens is the arity of builtins written without parentheses, such as
	// CURRENT_TIMESTAMP.
	NoParens = -1
	// AnyArity accepts any number of arguments.
	AnyArity = -2
)

// Function declares the arities at which a backend supports a function.
type Function struct {
	Arities []int `yaml:"arities"`
	// Star is set for functions accepting * as their only argument.
	Star bool `yaml:"star,omitempty"`
}

// Accepts reports whether the function can be called with n arguments. A
// call without parentheses has arity NoParens.
func (f Function) Accepts(n int) bool {
	for _, a := range f.Arities {
		if a == n || (a == AnyArity && n >= 0) {
			return true
		}
	}
	return false
}

// Backend is the capability table of a database backend. A Backend must not
// be modified once registered.
type Backend struct {
	Name string
	// Driver is the database/sql driver name used by Open.
	Driver      string
	Placeholder PlaceholderStyle
	// IdentQuote delimits quoted identifiers.
	IdentQuote string
	// Operators holds the capability names of the supported operators, e.g.
	// "BitShiftLeft".
	Operators map[string]bool
	// Functions is keyed by upper case function name.
	Functions map[string]Function
	// Casts maps logical types onto the type names used in CAST.
	Casts map[string]string
	// ColumnTypes maps logical types onto the type names used in CREATE TABLE.
	ColumnTypes map[string]string
	// Returning is set when INSERT, UPDATE and DELETE accept RETURNING.
	Returning bool
	// EmptyList is written in place of an IN list with no elements.
	EmptyList string

	quoteIdent   func(string) string
	quoteLiteral func(string) string
}

// FunctionName returns the canonical form of a function name.
func FunctionName(name string) string {
	// A Caser holds state and cannot be shared between goroutines.
	return cases.Upper(language.Und).String(name)
}

// SupportsOperator reports whether the backend supports the operator with
// the given capability name.
func (b *Backend) SupportsOperator(name string) bool {
	return b.Operators[name]
}

// Function returns the declaration of the named function.
func (b *Backend) Function(name string) (Function, bool) {
	f, ok := b.Functions[FunctionName(name)]
	return f, ok
}

// SupportsFunction reports whether the backend supports the named function
// at the given arity.
func (b *Backend) SupportsFunction(name string, arity int) bool {
	f, ok := b.Function(name)
	return ok && f.Accepts(arity)
}

// CastType returns the native type name for a CAST to the given type. The
// type may be logical ("int") or already native to the backend ("INTEGER").
func (b *Backend) CastType(typ string) (string, bool) {
	if native, ok := b.Casts[strings.ToLower(typ)]; ok {
		return native, true
	}
	for _, native := range b.Casts {
		if strings.EqualFold(native, typ) {
			return native, true
		}
	}
	return "", false
}

// ColumnType returns the native type name of a column with the given logical
// type. Unknown logical types map to the backend's text type.
func (b *Backend) ColumnType(typ string) string {
	if native, ok := b.ColumnTypes[strings.ToLower(typ)]; ok {
		return native
	}
	return b.ColumnTypes["text"]
}

// PlaceholderFor returns the placeholder of the zero-based parameter index.
func (b *Backend) PlaceholderFor(i int) string {
	switch b.Placeholder {
	case Dollar:
		return "$" + strconv.Itoa(i+1)
	case Question:
		return "?"
	default:
		return "?" + strconv.Itoa(i+1)
	}
}

// QuoteIdent quotes an identifier.
func (b *Backend) QuoteIdent(name string) string {
	if b.quoteIdent != nil {
		return b.quoteIdent(name)
	}
	q := b.IdentQuote
	if q == "" {
		q = `"`
	}
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// QuoteLiteral quotes a string as an SQL literal.
func (b *Backend) QuoteLiteral(s string) string {
	if b.quoteLiteral != nil {
		return b.quoteLiteral(s)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Derive returns a deep copy of the backend under a new name.
func (b *Backend) Derive(name string) *Backend {
	d := *b
	d.Name = name
	d.Operators = make(map[string]bool, len(b.Operators))
	for k, v := range b.Operators {
		d.Operators[k] = v
	}
	d.Functions = make(map[string]Function, len(b.Functions))
	for k, v := range b.Functions {
		v.Arities = append([]int(nil), v.Arities...)
		d.Functions[k] = v
	}
	d.Casts = copyStrings(b.Casts)
	d.ColumnTypes = copyStrings(b.ColumnTypes)
	return &d
}

func copyStrings(m map[string]string) map[string]string {
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Validate checks that the backend is complete enough to generate SQL.
func (b *Backend) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("backend has no name")
	}
	for name, f := range b.Functions {
		if name != FunctionName(name) {
			return fmt.Errorf("backend %q: function name %q is not upper case", b.Name, name)
		}
		if len(f.Arities) == 0 {
			return fmt.Errorf("backend %q: function %s has no arities", b.Name, name)
		}
		for _, a := range f.Arities {
			if a < AnyArity {
				return fmt.Errorf("backend %q: function %s has invalid arity %d", b.Name, name, a)
			}
		}
	}
	if b.EmptyList == "" {
		return fmt.Errorf("backend %q: empty IN list replacement not set", b.Name)
	}
	return nil
}
