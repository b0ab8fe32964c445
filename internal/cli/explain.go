// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/canonical/sqlgen"

	_ "modernc.org/sqlite"
)

// ExplainResult is the output of the explain command.
type ExplainResult struct {
	SQL  string   `json:"sql"`
	Plan []string `json:"plan"`
}

type explainOptions struct {
	inputs string
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &explainOptions{}
	cmd := &cobra.Command{
		Use:   "explain <query>",
		Short: "Print the SQLite query plan of a statement",
		Long: `Create the tables of the schema in an in-memory SQLite database and print
the query plan of the statement.

The statement is always generated for the sqlite backend. Statements with
host variables need --inputs.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(rootOpts, opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.inputs, "inputs", "i", "", "YAML file of host variables")
	return cmd
}

func runExplain(rootOpts *RootOptions, opts *explainOptions, query string, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)

	if rootOpts.Backend != "sqlite" {
		formatter.VerboseLog("Ignoring backend %s: plans are explained with SQLite", rootOpts.Backend)
	}
	gen, err := loadGenerator(rootOpts, "sqlite")
	if err != nil {
		formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot load schema", err)
	}
	stmt, err := gen.Prepare(query)
	if err != nil {
		formatter.Error(ErrCodePrepare, err.Error(), problems(err))
		return WrapExitError(ExitFailure, "cannot prepare statement", err)
	}

	var inputs []any
	if opts.inputs != "" {
		m, err := loadInputs(opts.inputs)
		if err != nil {
			formatter.Error(ErrCodeLoad, err.Error(), nil)
			return WrapExitError(ExitCommandError, "cannot load inputs", err)
		}
		inputs = append(inputs, m)
	}
	sqlText, params, err := stmt.Render(inputs...)
	if err != nil {
		formatter.Error(ErrCodeBind, err.Error(), nil)
		return WrapExitError(ExitFailure, "cannot render statement", err)
	}

	plan, err := explainPlan(cmd.Context(), gen, sqlText, params)
	if err != nil {
		formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitFailure, "cannot explain statement", err)
	}

	result := ExplainResult{SQL: sqlText, Plan: plan}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "sql: %s\n", result.SQL)
		for _, line := range result.Plan {
			fmt.Fprintf(w, "  %s\n", line)
		}
	})
}

// explainPlan runs EXPLAIN QUERY PLAN on a fresh in-memory database holding
// the tables of the schema.
func explainPlan(ctx context.Context, gen *sqlgen.Generator, query string, params []any) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to :memory: opens a new database.
	sqldb.SetMaxOpenConns(1)
	db := sqlgen.NewDB(sqldb, gen.Backend())
	defer db.Close()

	if err := db.CreateTables(ctx, gen.Schema()); err != nil {
		return nil, err
	}
	rows, err := sqldb.QueryContext(ctx, "EXPLAIN QUERY PLAN "+query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var plan []string
	for rows.Next() {
		// The last column holds the description of the step.
		dest := make([]any, len(cols))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		switch detail := (*dest[len(dest)-1].(*any)).(type) {
		case []byte:
			plan = append(plan, string(detail))
		default:
			plan = append(plan, fmt.Sprint(detail))
		}
	}
	return plan, rows.Err()
}
