// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package backend

import (
	"strings"

	"github.com/canonical/sqlgen/internal/schema"
)

// CreateTable returns the CREATE TABLE statement for a schema table.
func (b *Backend) CreateTable(t *schema.Table) string {
	var columns []string
	pks := t.PrimaryKeys()
	inlinePK := len(pks) == 1
	for _, c := range t.Columns {
		parts := []string{b.QuoteIdent(c.Name), b.columnType(c)}
		if inlinePK && c.PrimaryKey {
			parts = append(parts, "PRIMARY KEY")
			if c.AutoIncrement {
				switch b.Driver {
				case "mysql":
					parts = append(parts, "AUTO_INCREMENT")
				case "sqlite3", "sqlite", "dqlite":
					parts = append(parts, "AUTOINCREMENT")
				}
			}
		}
		if !c.Nullable && !c.PrimaryKey {
			parts = append(parts, "NOT NULL")
		}
		if c.Unique && !c.PrimaryKey {
			parts = append(parts, "UNIQUE")
		}
		if c.Default != "" {
			parts = append(parts, "DEFAULT", c.Default)
		}
		if table, column, ok := c.Reference(); ok {
			parts = append(parts, "REFERENCES", b.QuoteIdent(table)+"("+b.QuoteIdent(column)+")")
		}
		columns = append(columns, strings.Join(parts, " "))
	}
	if len(pks) > 1 {
		quoted := make([]string, 0, len(pks))
		for _, pk := range pks {
			quoted = append(quoted, b.QuoteIdent(pk))
		}
		columns = append(columns, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}
	return "CREATE TABLE IF NOT EXISTS " + b.QuoteIdent(t.Name) + " (" + strings.Join(columns, ", ") + ")"
}

func (b *Backend) columnType(c *schema.Column) string {
	if c.AutoIncrement && c.PrimaryKey {
		switch b.Driver {
		case "postgres":
			if strings.EqualFold(c.Type, "bigint") {
				return "BIGSERIAL"
			}
			return "SERIAL"
		case "sqlite3", "sqlite", "dqlite":
			// Only INTEGER PRIMARY KEY aliases the rowid.
			return "INTEGER"
		}
	}
	return b.ColumnType(c.Type)
}
