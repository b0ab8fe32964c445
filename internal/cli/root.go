// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/canonical/sqlgen"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	// Schema is the schema file statements are checked against.
	Schema  string
	Backend string
	// Backends is an optional file of backend capability overrides.
	Backends string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the sqlgen CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sqlgen",
		Short: "Check statements against a schema and generate SQL",
		Long: `sqlgen checks statements against a declared schema and the
capabilities of a database backend, and prints the SQL they generate.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Verbose {
				slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			if opts.Backends != "" {
				names, err := sqlgen.LoadBackends(opts.Backends)
				if err != nil {
					return WrapExitError(ExitCommandError, "cannot load backends", err)
				}
				slog.Debug("backends loaded", "file", opts.Backends, "names", names)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Schema, "schema", "s", "schema.yaml", "schema file (.yaml, .yml or .cue)")
	cmd.PersistentFlags().StringVarP(&opts.Backend, "backend", "b", "sqlite", "backend to generate SQL for")
	cmd.PersistentFlags().StringVar(&opts.Backends, "backends", "", "YAML file of backend overrides")

	cmd.AddCommand(NewGenerateCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
