// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Load reads a schema file and validates it. The format is chosen by the
// file extension: ".yaml" and ".yml" are read as YAML, ".cue" as CUE.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read schema: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".cue":
		return ParseCUE(data, path)
	default:
		return nil, fmt.Errorf("cannot read schema %q: unknown extension %q", path, ext)
	}
}

// ParseYAML decodes and validates a YAML schema. Unknown keys are rejected
// so that typos in attribute names are not silently ignored.
func ParseYAML(data []byte) (*Schema, error) {
	var s Schema
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("cannot parse schema YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseCUE evaluates a CUE schema and decodes its top level value. The CUE
// value may use constraints and references; only the concrete result is
// used.
func ParseCUE(data []byte, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("cannot build schema CUE: %w", err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("schema CUE is not concrete: %w", err)
	}

	var s Schema
	if tables := value.LookupPath(cue.ParsePath("tables")); tables.Exists() {
		if err := tables.Decode(&s.Tables); err != nil {
			return nil, fmt.Errorf("cannot decode tables: %w", err)
		}
	}
	if joins := value.LookupPath(cue.ParsePath("joins")); joins.Exists() {
		if err := joins.Decode(&s.Joins); err != nil {
			return nil, fmt.Errorf("cannot decode joins: %w", err)
		}
	}
	if outputs := value.LookupPath(cue.ParsePath("outputs")); outputs.Exists() {
		if err := outputs.Decode(&s.Outputs); err != nil {
			return nil, fmt.Errorf("cannot decode outputs: %w", err)
		}
	}
	if inserts := value.LookupPath(cue.ParsePath("inserts")); inserts.Exists() {
		if err := inserts.Decode(&s.Inserts); err != nil {
			return nil, fmt.Errorf("cannot decode inserts: %w", err)
		}
	}
	if updates := value.LookupPath(cue.ParsePath("updates")); updates.Exists() {
		if err := updates.Decode(&s.Updates); err != nil {
			return nil, fmt.Errorf("cannot decode updates: %w", err)
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
