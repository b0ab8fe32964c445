// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned while preparing a statement matches one
// of them with errors.Is.
var (
	// ErrSyntax is returned for malformed statement text.
	ErrSyntax = errors.New("syntax error")
	// ErrSchema is returned for references to tables, columns or shapes that
	// the schema does not declare, or that are not in scope.
	ErrSchema = errors.New("schema error")
	// ErrCapability is returned when the backend does not support an
	// operator, function, cast or clause used by the statement.
	ErrCapability = errors.New("unsupported by backend")
	// ErrStatementShape is returned for statements that cannot be prepared
	// in the requested mode.
	ErrStatementShape = errors.New("invalid statement shape")
)

// Problem is one failed check.
type Problem struct {
	Kind    error
	Message string
}

func (p Problem) String() string {
	return p.Message
}

// ValidationError reports every problem found in a statement.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0].Message
	}
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Message
	}
	return fmt.Sprintf("%d problems: %s", len(e.Problems), strings.Join(msgs, "; "))
}

// Is reports whether any problem is of the target kind.
func (e *ValidationError) Is(target error) bool {
	for _, p := range e.Problems {
		if p.Kind == target {
			return true
		}
	}
	return false
}

// problems collects validation failures.
type problems struct {
	list []Problem
}

func (ps *problems) add(kind error, format string, args ...any) {
	ps.list = append(ps.list, Problem{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// addPrefixed adds problems found elsewhere, prefixing their messages.
func (ps *problems) addPrefixed(prefix string, others []Problem) {
	for _, p := range others {
		ps.list = append(ps.list, Problem{Kind: p.Kind, Message: prefix + p.Message})
	}
}

// err returns a *ValidationError if there are any problems.
func (ps *problems) err() error {
	if len(ps.list) == 0 {
		return nil
	}
	return &ValidationError{Problems: ps.list}
}
