// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package backend

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the YAML form of a set of derived backends.
type Config struct {
	Backends []Override `yaml:"backends"`
}

// Override derives a backend from a registered one.
type Override struct {
	Name             string              `yaml:"name"`
	Base             string              `yaml:"base"`
	Driver           string              `yaml:"driver,omitempty"`
	Placeholder      string              `yaml:"placeholder,omitempty"`
	Returning        *bool               `yaml:"returning,omitempty"`
	EmptyList        string              `yaml:"empty_list,omitempty"`
	EnableOperators  []string            `yaml:"enable_operators,omitempty"`
	DisableOperators []string            `yaml:"disable_operators,omitempty"`
	Functions        map[string]Function `yaml:"functions,omitempty"`
	DisableFunctions []string            `yaml:"disable_functions,omitempty"`
	Casts            map[string]string   `yaml:"casts,omitempty"`
	ColumnTypes      map[string]string   `yaml:"column_types,omitempty"`
}

// LoadConfig reads a backend configuration file and returns the backends it
// derives. The backends are not registered.
func LoadConfig(path string) ([]*Backend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read backend config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a backend configuration. Unknown keys are rejected.
func ParseConfig(data []byte) ([]*Backend, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("cannot parse backend config: %w", err)
	}

	derived := map[string]*Backend{}
	var backends []*Backend
	for _, o := range cfg.Backends {
		base, ok := derived[o.Base]
		if !ok {
			var err error
			base, err = Lookup(o.Base)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", o.Name, err)
			}
		}
		b, err := o.apply(base)
		if err != nil {
			return nil, err
		}
		derived[b.Name] = b
		backends = append(backends, b)
	}
	return backends, nil
}

func (o *Override) apply(base *Backend) (*Backend, error) {
	if o.Name == "" {
		return nil, fmt.Errorf("backend derived from %q has no name", base.Name)
	}
	b := base.Derive(o.Name)
	if o.Driver != "" {
		b.Driver = o.Driver
	}
	switch strings.ToLower(o.Placeholder) {
	case "":
	case "numbered":
		b.Placeholder = Numbered
	case "dollar":
		b.Placeholder = Dollar
	case "question":
		b.Placeholder = Question
	default:
		return nil, fmt.Errorf("backend %q: unknown placeholder style %q", o.Name, o.Placeholder)
	}
	if o.Returning != nil {
		b.Returning = *o.Returning
	}
	if o.EmptyList != "" {
		b.EmptyList = o.EmptyList
	}
	known := map[string]bool{}
	for _, op := range allOperators {
		known[op] = true
	}
	for _, op := range o.EnableOperators {
		if !known[op] {
			return nil, fmt.Errorf("backend %q: unknown operator %q", o.Name, op)
		}
		b.Operators[op] = true
	}
	for _, op := range o.DisableOperators {
		if !known[op] {
			return nil, fmt.Errorf("backend %q: unknown operator %q", o.Name, op)
		}
		delete(b.Operators, op)
	}
	for name, f := range o.Functions {
		b.Functions[FunctionName(name)] = f
	}
	for _, name := range o.DisableFunctions {
		delete(b.Functions, FunctionName(name))
	}
	for k, v := range o.Casts {
		b.Casts[strings.ToLower(k)] = v
	}
	for k, v := range o.ColumnTypes {
		b.ColumnTypes[strings.ToLower(k)] = v
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}
