// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// CheckResult is the output of the check command.
type CheckResult struct {
	Backend    string          `json:"backend"`
	Statements []CheckedResult `json:"statements"`
	Failed     int             `json:"failed"`
}

// CheckedResult reports the problems of one statement.
type CheckedResult struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind,omitempty"`
	OK       bool     `json:"ok"`
	Problems []string `json:"problems,omitempty"`
}

type checkOptions struct {
	queries string
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a file of statements against the schema",
		Long: `Prepare every statement of a YAML file and report all of their problems.

The file holds a list of statements:

  queries:
    - name: person-by-id
      query: SELECT PersonOut FROM person WHERE id = {id}
    - name: stream-people
      query: SELECT PersonOut FROM person
      lazy: true

The command fails if any statement has a problem.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, opts, cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.queries, "queries", "q", "queries.yaml", "YAML file of statements")
	return cmd
}

func runCheck(rootOpts *RootOptions, opts *checkOptions, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)

	gen, err := loadGenerator(rootOpts, rootOpts.Backend)
	if err != nil {
		formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot load schema", err)
	}
	queries, err := loadQueries(opts.queries)
	if err != nil {
		formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot load queries", err)
	}

	result := CheckResult{Backend: gen.Backend().Name}
	for _, q := range queries {
		prepare := gen.Prepare
		if q.Lazy {
			prepare = gen.PrepareLazy
		}
		checked := CheckedResult{Name: q.Name}
		stmt, err := prepare(q.Query)
		if err != nil {
			checked.Problems = problems(err)
			result.Failed++
		} else {
			checked.OK = true
			checked.Kind = stmt.Kind()
		}
		formatter.VerboseLog("Checked %s: %d problems", q.Name, len(checked.Problems))
		result.Statements = append(result.Statements, checked)
	}

	if err := formatter.Success(result, func(w io.Writer) {
		writeCheckText(w, &result)
	}); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d statements failed", result.Failed, len(result.Statements)))
	}
	return nil
}

func writeCheckText(w io.Writer, r *CheckResult) {
	for _, s := range r.Statements {
		if s.OK {
			fmt.Fprintf(w, "ok    %s (%s)\n", s.Name, s.Kind)
			continue
		}
		fmt.Fprintf(w, "FAIL  %s\n", s.Name)
		for _, p := range s.Problems {
			fmt.Fprintf(w, "      - %s\n", p)
		}
	}
	fmt.Fprintf(w, "%d statements checked for %s, %d failed\n", len(r.Statements), r.Backend, r.Failed)
}
