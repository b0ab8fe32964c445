// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// GenerateResult is the output of the generate command.
type GenerateResult struct {
	Kind     string   `json:"kind"`
	Backend  string   `json:"backend"`
	Lazy     bool     `json:"lazy,omitempty"`
	Columns  []string `json:"columns,omitempty"`
	Template string   `json:"template"`
	// SQL and Params are set when the statement could be rendered with the
	// inputs.
	SQL    string `json:"sql,omitempty"`
	Params []any  `json:"params,omitempty"`
}

type generateOptions struct {
	lazy   bool
	inputs string
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate <query>",
		Short: "Print the SQL generated for a statement",
		Long: `Prepare a statement and print its SQL template.

With --inputs the statement is rendered with the host variables read from a
YAML file, and the backend SQL and its parameters are printed too.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(rootOpts, opts, args[0], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.lazy, "lazy", false, "prepare the statement lazily")
	cmd.Flags().StringVarP(&opts.inputs, "inputs", "i", "", "YAML file of host variables")
	return cmd
}

func runGenerate(rootOpts *RootOptions, opts *generateOptions, query string, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)

	gen, err := loadGenerator(rootOpts, rootOpts.Backend)
	if err != nil {
		formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot load schema", err)
	}
	formatter.VerboseLog("Loaded schema %s for backend %s", rootOpts.Schema, gen.Backend().Name)

	prepare := gen.Prepare
	if opts.lazy {
		prepare = gen.PrepareLazy
	}
	stmt, err := prepare(query)
	if err != nil {
		formatter.Error(ErrCodePrepare, err.Error(), problems(err))
		return WrapExitError(ExitFailure, "cannot prepare statement", err)
	}

	result := GenerateResult{
		Kind:     stmt.Kind(),
		Backend:  gen.Backend().Name,
		Lazy:     stmt.Lazy(),
		Columns:  stmt.Columns(),
		Template: stmt.Template(),
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
	sql, params, err := stmt.Render(inputs...)
	switch {
	case err == nil:
		result.SQL = sql
		result.Params = params
	case opts.inputs != "":
		formatter.Error(ErrCodeBind, err.Error(), nil)
		return WrapExitError(ExitFailure, "cannot render statement", err)
	default:
		// Without inputs only statements without host variables render.
		formatter.VerboseLog("Not rendered: %v", err)
	}

	return formatter.Success(result, func(w io.Writer) {
		writeGenerateText(w, &result)
	})
}

func writeGenerateText(w io.Writer, r *GenerateResult) {
	fmt.Fprintf(w, "kind: %s\n", r.Kind)
	fmt.Fprintf(w, "backend: %s\n", r.Backend)
	if r.Lazy {
		fmt.Fprintln(w, "lazy: true")
	}
	if len(r.Columns) > 0 {
		fmt.Fprintf(w, "columns: %s\n", strings.Join(r.Columns, ", "))
	}
	fmt.Fprintf(w, "template: %s\n", r.Template)
	if r.SQL != "" {
		fmt.Fprintf(w, "sql: %s\n", r.SQL)
		ps := r.Params
		if ps == nil {
			ps = []any{}
		}
		params, err := json.Marshal(ps)
		if err != nil {
			params = []byte(fmt.Sprint(r.Params))
		}
		fmt.Fprintf(w, "params: %s\n", params)
	}
}
