// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/canonical/sqlgen"
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadGenerator loads the schema and returns a generator for the named
// backend.
func loadGenerator(opts *RootOptions, backendName string) (*sqlgen.Generator, error) {
	sch, err := sqlgen.LoadSchema(opts.Schema)
	if err != nil {
		return nil, err
	}
	b, err := sqlgen.LookupBackend(backendName)
	if err != nil {
		return nil, err
	}
	return sqlgen.NewGenerator(sch, b)
}

// loadInputs reads host variables from a YAML mapping.
func loadInputs(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read inputs: %w", err)
	}
	inputs := map[string]any{}
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&inputs); err != nil {
		return nil, fmt.Errorf("cannot parse inputs %q: %w", path, err)
	}
	return inputs, nil
}

// QueryFile lists the statements checked by the check command.
type QueryFile struct {
	Queries []QueryEntry `yaml:"queries"`
}

type QueryEntry struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
	Lazy  bool   `yaml:"lazy,omitempty"`
}

func loadQueries(path string) ([]QueryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read queries: %w", err)
	}
	var qf QueryFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&qf); err != nil {
		return nil, fmt.Errorf("cannot parse queries %q: %w", path, err)
	}
	for i, q := range qf.Queries {
		if q.Name == "" {
			qf.Queries[i].Name = fmt.Sprintf("query %d", i+1)
		}
	}
	return qf.Queries, nil
}

// problems returns one message per problem of a prepare error.
func problems(err error) []string {
	var verr *sqlgen.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}
	msgs := make([]string, len(verr.Problems))
	for i, p := range verr.Problems {
		msgs[i] = p.Message
	}
	return msgs
}
