package domain

import (
	"errors"
	"fmt"
)

// Sentinels for matching the error taxonomy with errors.Is.
var (
	ErrDataLoad = errors.New("data load error")
	ErrSchema   = errors.New("schema error")
	ErrData     = errors.New("data error")
)

// DataLoadError reports a source table that is missing or unreadable.
// It aborts the run.
type DataLoadError struct {
	Table string
	Path  string
	Err   error
}

func (e *DataLoadError) Error() string {
	return fmt.Sprintf("load %s table from %q: %v", e.Table, e.Path, e.Err)
}

func (e *DataLoadError) Unwrap() error { return e.Err }

func (e *DataLoadError) Is(target error) bool { return target == ErrDataLoad }

// SchemaError reports a required column absent from a source table.
type SchemaError struct {
	Table  string
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s table: required column %q is missing", e.Table, e.Column)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// DataError reports input a scoring stage cannot compute on, such as a
// claim whose policy has zero coverage.
type DataError struct {
	Stage    string
	RecordID string
	Reason   string
}

func (e *DataError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s: record %s: %s", e.Stage, e.RecordID, e.Reason)
}

func (e *DataError) Is(target error) bool { return target == ErrData }

// IsInputError reports whether err belongs to the input error taxonomy.
func IsInputError(err error) bool {
	return errors.Is(err, ErrDataLoad) || errors.Is(err, ErrSchema) || errors.Is(err, ErrData)
}

// InputErrorSummary describes an input error by category and table only.
// Paths, OS errors and cell values are left out so the text can be shown
// to callers who do not own the extracts.
func InputErrorSummary(err error) string {
	var loadErr *DataLoadError
	var schemaErr *SchemaError
	var dataErr *DataError
	switch {
	case errors.As(err, &loadErr):
		return fmt.Sprintf("%v: %s table could not be read", ErrDataLoad, loadErr.Table)
	case errors.As(err, &schemaErr):
		return fmt.Sprintf("%v: %s table is missing required column %q", ErrSchema, schemaErr.Table, schemaErr.Column)
	case errors.As(err, &dataErr):
		return fmt.Sprintf("%v: %s", ErrData, dataErr.Stage)
	default:
		return "run failed"
	}
}
