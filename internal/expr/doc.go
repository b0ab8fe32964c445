// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package expr turns statement text into SQL for a backend.

Preparing a statement has three stages:

  - Parsing: the text is parsed into a Statement holding expression trees
    built from Values (columns, literals, host variables, function calls,
    casts) joined by operators. Host variables are written as {name} or
    {name.member}.
  - Validation: every table, column, output shape, operator and function is
    checked against the schema and the capabilities of the backend. All the
    problems found are returned together in a *ValidationError.
  - Generation: the statement is turned into a list of parts, SQL text and
    slots where parameters are bound.

A Prepared statement is bound to its inputs with Bind. Most slots bind a
single parameter and their placeholders are numbered when the statement is
prepared. Slots that expand a host collection, IN {ids} and the rows of an
INSERT, bind one parameter per element, so the placeholders following them
are only numbered at bind time.
*/
package expr
