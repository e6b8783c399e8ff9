// Package errors implements the analysis error taxonomy with classification
// and handling behavior. Per-subject failures skip the subject and keep the
// batch alive; run-level failures surface to the caller as typed results.
package errors

import (
	"errors"
	"fmt"
)

// Class is the classification for analysis errors. Each class has defined
// behavior for batch propagation and reporting.
type Class int

const (
	// ClassSchemaMismatch indicates vector dimensionality or feature name
	// inconsistency. Fatal to that subject in the current cycle; the
	// subject is logged and skipped, the batch continues.
	ClassSchemaMismatch Class = iota

	// ClassInsufficientData indicates too few labeled subjects or edges
	// for statistics, or too few samples for a trend. Reported as an
	// explicit "not computed" result, never as a silent zero.
	ClassInsufficientData

	// ClassDegenerateInput indicates a zero-norm feature vector. The
	// subject is isolated as a singleton, never compared.
	ClassDegenerateInput

	// ClassCancelled indicates cooperative cancellation honored mid-cycle.
	// The result is cleanly typed, never a partial mistaken for complete.
	ClassCancelled

	// ClassInternal indicates a defect in the core itself.
	ClassInternal
)

var classNames = map[Class]string{
	ClassSchemaMismatch:   "schema_mismatch",
	ClassInsufficientData: "insufficient_data",
	ClassDegenerateInput:  "degenerate_input",
	ClassCancelled:        "cancelled",
	ClassInternal:         "internal",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// Behavior defines how an error class propagates through a batch.
type Behavior struct {
	// SkipSubject: record against the subject, continue the batch.
	SkipSubject bool

	// AbortRun: surface to the caller, the whole cycle is void.
	AbortRun bool
}

// DefaultBehaviors returns the propagation behavior for each class.
func DefaultBehaviors() map[Class]Behavior {
	return map[Class]Behavior{
		ClassSchemaMismatch:   {SkipSubject: true, AbortRun: false},
		ClassInsufficientData: {SkipSubject: false, AbortRun: false},
		ClassDegenerateInput:  {SkipSubject: true, AbortRun: false},
		ClassCancelled:        {SkipSubject: false, AbortRun: true},
		ClassInternal:         {SkipSubject: false, AbortRun: true},
	}
}

// AnalysisError wraps an error with its class and the subject it was
// recorded against, if any.
type AnalysisError struct {
	Class      Class
	Message    string
	SubjectID  string
	Underlying error
}

// Error implements the error interface.
func (e *AnalysisError) Error() string {
	switch {
	case e.SubjectID != "" && e.Underlying != nil:
		return fmt.Sprintf("[%s] subject %s: %s: %v", e.Class, e.SubjectID, e.Message, e.Underlying)
	case e.SubjectID != "":
		return fmt.Sprintf("[%s] subject %s: %s", e.Class, e.SubjectID, e.Message)
	case e.Underlying != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Message, e.Underlying)
	default:
		return fmt.Sprintf("[%s] %s", e.Class, e.Message)
	}
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AnalysisError) Unwrap() error {
	return e.Underlying
}

// Is matches any AnalysisError of the same class.
func (e *AnalysisError) Is(target error) bool {
	var ae *AnalysisError
	if errors.As(target, &ae) {
		return e.Class == ae.Class
	}
	return false
}

// New creates a classified error.
func New(class Class, message string) *AnalysisError {
	return &AnalysisError{Class: class, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(class Class, format string, args ...any) *AnalysisError {
	return &AnalysisError{Class: class, Message: fmt.Sprintf(format, args...)}
}

// WithSubject records the subject the error applies to.
func (e *AnalysisError) WithSubject(id string) *AnalysisError {
	e.SubjectID = id
	return e
}

// Wrap classifies an underlying error. Already-classified errors keep their
// original class; nil passes through.
func Wrap(class Class, message string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return &AnalysisError{
			Class:      ae.Class,
			Message:    message,
			SubjectID:  ae.SubjectID,
			Underlying: err,
		}
	}
	return &AnalysisError{Class: class, Message: message, Underlying: err}
}

// GetClass extracts the class from an error, defaulting to Internal.
func GetClass(err error) Class {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Class
	}
	return ClassInternal
}

// ShouldSkipSubject reports whether the error only voids one subject.
func ShouldSkipSubject(err error) bool {
	return DefaultBehaviors()[GetClass(err)].SkipSubject
}

// Sentinel errors for each class.
var (
	ErrSchemaMismatch   = New(ClassSchemaMismatch, "schema mismatch")
	ErrInsufficientData = New(ClassInsufficientData, "insufficient data")
	ErrDegenerateInput  = New(ClassDegenerateInput, "degenerate input")
	ErrCancelled        = New(ClassCancelled, "analysis cancelled")
)
