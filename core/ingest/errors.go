package ingest

import (
	"fmt"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
)

// ErrPersistence causes the fatal failures of an ingestion: nothing it wrote is kept.
var ErrPersistence = errors.New("persistence failure")

// conflicts with existing entities, reported as Referential row errors
var entityConflicts = []error{academics.ErrStudentEmailExists, academics.ErrSubjectCodeExists}

// RowErrorKind classifies the errors recorded against a row.
type RowErrorKind string

const (
	// RowValidation: a malformed or missing field, bad date, number or grade.
	RowValidation RowErrorKind = "validation"
	// Referential: an entity referenced by the row could not be resolved or created.
	Referential RowErrorKind = "referential"
)

// RowError is recorded when a row is rejected. It never aborts the ingestion.
type RowError struct {
	Row  int
	Kind RowErrorKind
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("Row %d: %s", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

func IsPersistenceFailure(err error) bool {
	return errors.Cause(err) == ErrPersistence
}

// classify turns the error of a row into a RowError; storage failures are returned as is.
func classify(line int, err error, translator ut.Translator) (*RowError, bool) {
	var rowErr *RowError
	if errors.As(err, &rowErr) {
		return rowErr, true
	}

	cause := errors.Cause(err)
	switch cerr := cause.(type) {
	case validator.ValidationErrors:
		return &RowError{Row: line, Kind: RowValidation, Err: errors.New(fieldsMessage(core.TranslateFieldErrors(cerr, translator)))}, true
	case *core.ValidationError:
		kind := RowValidation
		for _, conflict := range entityConflicts {
			if cerr.Err == conflict {
				kind = Referential
			}
		}
		return &RowError{Row: line, Kind: kind, Err: cerr}, true
	case *core.NotFoundError:
		return &RowError{Row: line, Kind: Referential, Err: cerr}, true
	}
	if academics.IsConstraintViolation(cause) {
		return &RowError{Row: line, Kind: Referential, Err: err}, true
	}
	return nil, false
}

func fieldsMessage(flds []core.FieldError) string {
	msgs := make([]string, 0, len(flds))
	for _, f := range flds {
		msgs = append(msgs, f.Field+": "+f.Error)
	}
	return strings.Join(msgs, "; ")
}
