// Package billerr defines the error taxonomy shared by every pipeline stage.
//
// Each failure class has a sentinel that callers match with errors.Is.
// Stage failures are wrapped in a ProcessingError that carries the document
// name, the stage, and the raw model text when there is one.
package billerr

import (
	"errors"
	"fmt"
	"strings"
)

// Failure classes
var (
	// ErrInput is returned for a missing, unreadable, non-PDF or empty document,
	// and for analysis results without any content.
	ErrInput = errors.New("invalid input document")

	// ErrClassificationAmbiguous is returned when the account identifier is not in the registry.
	ErrClassificationAmbiguous = errors.New("account identifier not mapped to a bill type")

	// ErrChunking is returned when a multi-location document has no location markers.
	ErrChunking = errors.New("no service location markers found")

	// ErrExtractionFormat is returned when model output is not valid JSON of the expected shape.
	ErrExtractionFormat = errors.New("model output does not match the extraction schema")

	// ErrValidationFailure marks a record that failed validation. It is an outcome, not a crash.
	ErrValidationFailure = errors.New("record failed validation")

	// ErrTransientService is returned for timeouts, rate limits and unavailable external services.
	ErrTransientService = errors.New("external service temporarily unavailable")

	// ErrArchiveIO is returned when the output write or the source move fails.
	ErrArchiveIO = errors.New("archive I/O failed")

	// ErrConfiguration is returned when a component is missing required settings.
	ErrConfiguration = errors.New("invalid configuration")
)

// Stage names a pipeline step.
type Stage string

const (
	StageInput    Stage = "input"
	StageAnalyze  Stage = "analyze"
	StageClassify Stage = "classify"
	StageChunk    Stage = "chunk"
	StageExtract  Stage = "extract"
	StageValidate Stage = "validate"
	StageArchive  Stage = "archive"
)

// ProcessingError wraps a failure with the context needed to report it.
type ProcessingError struct {
	// Op is the operation that failed (e.g., "ExtractMulti", "Analyze").
	Op string

	// Stage is the pipeline step the failure happened in.
	Stage Stage

	// Document is the source file name, if known.
	Document string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string

	// RawText is the raw model output for format failures.
	RawText string
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	var b strings.Builder
	if e.Document != "" {
		fmt.Fprintf(&b, "%s: ", e.Document)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, "[%s] ", e.Stage)
	}
	fmt.Fprintf(&b, "%s failed", e.Op)
	if e.Details != "" {
		fmt.Fprintf(&b, ": %s", e.Details)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Is implements error matching.
func (e *ProcessingError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a ProcessingError for the given operation.
func New(op string, err error, details string) *ProcessingError {
	return &ProcessingError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// Wrap wraps err as a ProcessingError unless it already is one.
func Wrap(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var pe *ProcessingError
	if errors.As(err, &pe) {
		return err
	}

	return New(op, err, details)
}

// Format returns an ErrExtractionFormat error carrying the raw model output.
func Format(op string, raw string, details string) *ProcessingError {
	return &ProcessingError{
		Op:      op,
		Stage:   StageExtract,
		Err:     ErrExtractionFormat,
		Details: details,
		RawText: raw,
	}
}

// Transient marks err as a retryable external service failure.
func Transient(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	return New(op, fmt.Errorf("%w: %w", ErrTransientService, err), details)
}

// Annotate sets the document and stage on err without hiding an inner
// ProcessingError. Fields already set are kept.
func Annotate(err error, document string, stage Stage) error {
	if err == nil {
		return nil
	}

	var pe *ProcessingError
	if errors.As(err, &pe) {
		if pe.Document == "" {
			pe.Document = document
		}
		if pe.Stage == "" {
			pe.Stage = stage
		}
		return err
	}

	return &ProcessingError{
		Op:       string(stage),
		Stage:    stage,
		Document: document,
		Err:      err,
	}
}

// StageOf returns the stage recorded on err, or "" if none.
func StageOf(err error) Stage {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// RawTextOf returns the raw model output recorded on err, or "" if none.
func RawTextOf(err error) string {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.RawText
	}
	return ""
}

// IsRetryable reports whether err is a transient service failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientService)
}

// ArchiveError reports which half of archiving succeeded.
type ArchiveError struct {
	Op            string
	Source        string
	OutputPath    string
	OutputWritten bool
	Moved         bool
	RolledBack    bool
	Err           error
}

// Error implements the error interface.
func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive: %s failed for %s (output_written=%t, moved=%t, rolled_back=%t): %v",
		e.Op, e.Source, e.OutputWritten, e.Moved, e.RolledBack, e.Err)
}

// Unwrap returns the underlying error.
func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Is matches ErrArchiveIO as well as the underlying error.
func (e *ArchiveError) Is(target error) bool {
	return target == ErrArchiveIO || errors.Is(e.Err, target)
}
