/*
Package sqlgen checks SQL statements against a declared schema and generates
parameterized SQL for a database backend.

Statements are written in a small SQL dialect that names shapes declared in
the schema instead of listing columns. Preparing a statement parses it,
checks every table, column, operator and function it uses against the schema
and the capabilities of the backend, and generates the SQL once. Problems
are reported together, before the statement ever reaches a database.

# Schema

A schema declares tables and the shapes statements use:

  - outputs: the columns of rows returned by SELECT and RETURNING, read
    from a table or from a declared join. An output field may be a custom
    select expression such as "score + {arg0}", whose arguments are given
    where the output is used.
  - inserts: the columns written by INSERT.
  - updates: the columns written by UPDATE with a shape.
  - joins: named table graphs. Join conditions left out are derived from
    foreign keys.

Schemas are read from YAML or CUE files with [LoadSchema], or tables are
derived from tagged structs with [SchemaFromStructs].

# Syntax

	SELECT [DISTINCT] Output[(args)] FROM source [WHERE e] [GROUP BY e, ...] [HAVING e] [ORDER BY e [ASC|DESC], ...] [LIMIT e]
	EXISTS FROM source [WHERE e] ...
	INSERT INTO table (Insert) VALUES {rows} [RETURNING Output]
	UPDATE table SET (Update) {value} [WHERE e] [RETURNING Output]
	UPDATE table SET column = e, ... [WHERE e] [RETURNING Output]
	DELETE FROM table [WHERE e] [RETURNING Output]

A source is a table or declared join, optionally followed by
[INNER|LEFT|RIGHT|CROSS] JOIN table [ON e] clauses.

Host variables are written {name} or {name.member} and are bound as
parameters. They are looked up in the inputs given when the statement is
run: maps with string keys, and structs with db tags. A host variable
holding a slice may be used with IN, as in "id IN {ids}", and expands to one
placeholder per element. Literals are bound as parameters too.

# Running statements

A [Statement] is rendered to SQL with [Statement.Render] or run on a [DB]
with [DB.Query]. Statements whose SQL does not depend on their inputs are
prepared once per database and the driver statement is reused.

Statements prepared with [Generator.PrepareLazy] stream their rows and are
read with [Query.Iter].
*/
package sqlgen
