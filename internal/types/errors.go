package types

import (
	"fmt"
	"strings"
)

// =============================================================================
// PIPELINE ERRORS
// =============================================================================
// Every stage reports failures through one of these types so that callers can
// tell them apart with errors.As. Any of them aborts the whole run.

// LoadError reports an unreadable input table or a missing required column.
type LoadError struct {
	// Source is the path of the input table.
	Source string

	// MissingColumns is set when required headers were not found.
	MissingColumns []string

	Err error
}

func (e *LoadError) Error() string {
	if len(e.MissingColumns) > 0 {
		return fmt.Sprintf("load %s: missing required column(s): %s",
			e.Source, strings.Join(e.MissingColumns, ", "))
	}
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// TemplateError reports a template that is missing or cannot be opened.
type TemplateError struct {
	Path string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: %v", e.Path, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// StagingError reports a failure writing or reading a staging record or the
// staging manifest.
type StagingError struct {
	Op   string
	Path string
	Err  error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// ExitCodeConflictError is returned when one group holds more than one exit
// code and strict checking is enabled.
type ExitCodeConflictError struct {
	Key       GroupKey
	ExitCodes []string
}

func (e *ExitCodeConflictError) Error() string {
	return fmt.Sprintf("group %s has heterogeneous exit codes: %s",
		e.Key, strings.Join(e.ExitCodes, ", "))
}

// ValidationError reports invalid caller metadata or layout configuration.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// PublishError reports a failure moving finished artifacts out of the scratch
// directory.
type PublishError struct {
	Path string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Path, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
