// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package backend

import (
	"strings"

	"github.com/lib/pq"
)

// allOperators lists the capability names of every operator.
var allOperators = []string{
	"And", "Or", "Add", "Sub", "Mul", "Div", "Mod", "Concat",
	"JsonExtract", "JsonExtractText", "BitAnd", "BitOr",
	"BitShiftLeft", "BitShiftRight", "Equal", "NotEqual",
	"GreaterThan", "GreaterThanOrEqual", "LessThan", "LessThanOrEqual", "Like",
}

func operators(except ...string) map[string]bool {
	ops := map[string]bool{}
	for _, op := range allOperators {
		ops[op] = true
	}
	for _, op := range except {
		delete(ops, op)
	}
	return ops
}

func fn(arities ...int) Function {
	return Function{Arities: arities}
}

func starFn(arities ...int) Function {
	return Function{Arities: arities, Star: true}
}

// commonFunctions are supported by every built-in backend.
func commonFunctions() map[string]Function {
	return map[string]Function{
		"COUNT":             starFn(1),
		"SUM":               fn(1),
		"AVG":               fn(1),
		"LOWER":             fn(1),
		"UPPER":             fn(1),
		"LENGTH":            fn(1),
		"ABS":               fn(1),
		"ROUND":             fn(1, 2),
		"COALESCE":          fn(AnyArity),
		"NULLIF":            fn(2),
		"SUBSTR":            fn(2, 3),
		"REPLACE":           fn(3),
		"TRIM":              fn(1),
		"CAST":              fn(1),
		"CURRENT_TIMESTAMP": fn(NoParens),
		"CURRENT_DATE":      fn(NoParens),
		"CURRENT_TIME":      fn(NoParens),
	}
}

func withFunctions(base map[string]Function, extra map[string]Function) map[string]Function {
	for name, f := range extra {
		base[name] = f
	}
	return base
}

// SQLite is the capability table of SQLite 3.38 and later.
func SQLite() *Backend {
	return &Backend{
		Name:        "sqlite",
		Driver:      "sqlite3",
		Placeholder: Numbered,
		IdentQuote:  `"`,
		Operators:   operators(),
		Functions: withFunctions(commonFunctions(), map[string]Function{
			"MIN":          fn(AnyArity),
			"MAX":          fn(AnyArity),
			"TOTAL":        fn(1),
			"IFNULL":       fn(2),
			"INSTR":        fn(2),
			"LTRIM":        fn(1, 2),
			"RTRIM":        fn(1, 2),
			"TRIM":         fn(1, 2),
			"RANDOM":       fn(0),
			"DATE":         fn(AnyArity),
			"TIME":         fn(AnyArity),
			"DATETIME":     fn(AnyArity),
			"JULIANDAY":    fn(AnyArity),
			"STRFTIME":     fn(AnyArity),
			"JSON_EXTRACT": fn(AnyArity),
			"GROUP_CONCAT": fn(1, 2),
			"TYPEOF":       fn(1),
		}),
		Casts: map[string]string{
			"int":      "INTEGER",
			"bigint":   "INTEGER",
			"string":   "TEXT",
			"text":     "TEXT",
			"bool":     "INTEGER",
			"float":    "REAL",
			"datetime": "TEXT",
			"date":     "TEXT",
			"time":     "TEXT",
			"bytes":    "BLOB",
			"json":     "TEXT",
			"uuid":     "TEXT",
		},
		ColumnTypes: map[string]string{
			"int":      "INTEGER",
			"bigint":   "INTEGER",
			"string":   "TEXT",
			"text":     "TEXT",
			"bool":     "INTEGER",
			"float":    "REAL",
			"datetime": "TEXT",
			"date":     "TEXT",
			"time":     "TEXT",
			"bytes":    "BLOB",
			"json":     "TEXT",
			"uuid":     "TEXT",
		},
		Returning: true,
		EmptyList: "()",
	}
}

// Postgres is the capability table of PostgreSQL. Identifiers and literals
// are quoted by lib/pq.
func Postgres() *Backend {
	return &Backend{
		Name:        "postgres",
		Driver:      "postgres",
		Placeholder: Dollar,
		IdentQuote:  `"`,
		Operators:   operators(),
		Functions: withFunctions(commonFunctions(), map[string]Function{
			"MIN":        fn(1),
			"MAX":        fn(1),
			"SUBSTRING":  fn(2, 3),
			"CONCAT":     fn(AnyArity),
			"NOW":        fn(0),
			"RANDOM":     fn(0),
			"GREATEST":   fn(AnyArity),
			"LEAST":      fn(AnyArity),
			"STRING_AGG": fn(2),
			"DATE_TRUNC": fn(2),
		}),
		Casts: map[string]string{
			"int":      "INTEGER",
			"bigint":   "BIGINT",
			"string":   "TEXT",
			"text":     "TEXT",
			"bool":     "BOOLEAN",
			"float":    "DOUBLE PRECISION",
			"datetime": "TIMESTAMP",
			"date":     "DATE",
			"time":     "TIME",
			"bytes":    "BYTEA",
			"json":     "JSONB",
			"uuid":     "UUID",
		},
		ColumnTypes: map[string]string{
			"int":      "INTEGER",
			"bigint":   "BIGINT",
			"string":   "TEXT",
			"text":     "TEXT",
			"bool":     "BOOLEAN",
			"float":    "DOUBLE PRECISION",
			"datetime": "TIMESTAMP",
			"date":     "DATE",
			"time":     "TIME",
			"bytes":    "BYTEA",
			"json":     "JSONB",
			"uuid":     "UUID",
		},
		Returning:    true,
		EmptyList:    "(SELECT NULL WHERE FALSE)",
		quoteIdent:   pq.QuoteIdentifier,
		quoteLiteral: pq.QuoteLiteral,
	}
}

// MySQL is the capability table of MySQL 8. It has no RETURNING and || is
// a logical operator, so Concat is not supported.
func MySQL() *Backend {
	return &Backend{
		Name:        "mysql",
		Driver:      "mysql",
		Placeholder: Question,
		IdentQuote:  "`",
		Operators:   operators("Concat"),
		Functions: withFunctions(commonFunctions(), map[string]Function{
			"MIN":          fn(1),
			"MAX":          fn(1),
			"SUBSTRING":    fn(2, 3),
			"CHAR_LENGTH":  fn(1),
			"CONCAT":       fn(AnyArity),
			"IFNULL":       fn(2),
			"NOW":          fn(0),
			"RAND":         fn(0, 1),
			"GREATEST":     fn(AnyArity),
			"LEAST":        fn(AnyArity),
			"GROUP_CONCAT": fn(1),
			"JSON_EXTRACT": fn(AnyArity),
		}),
		Casts: map[string]string{
			"int":      "SIGNED",
			"bigint":   "SIGNED",
			"string":   "CHAR",
			"text":     "CHAR",
			"float":    "DOUBLE",
			"datetime": "DATETIME",
			"date":     "DATE",
			"time":     "TIME",
			"bytes":    "BINARY",
			"json":     "JSON",
			"uuid":     "CHAR",
		},
		ColumnTypes: map[string]string{
			"int":      "INT",
			"bigint":   "BIGINT",
			"string":   "VARCHAR(255)",
			"text":     "TEXT",
			"bool":     "BOOLEAN",
			"float":    "DOUBLE",
			"datetime": "DATETIME",
			"date":     "DATE",
			"time":     "TIME",
			"bytes":    "BLOB",
			"json":     "JSON",
			"uuid":     "CHAR(36)",
		},
		Returning:    false,
		EmptyList:    "(SELECT NULL FROM DUAL WHERE FALSE)",
		quoteLiteral: mysqlQuoteLiteral,
	}
}

// mysqlQuoteLiteral escapes backslashes as well as quotes since MySQL treats
// backslash as an escape character by default.
func mysqlQuoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
