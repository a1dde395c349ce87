package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	errbuilder "github.com/ZanzyTHEbar/errbuilder-go"
)

// ErrorKind classifies calibration failures for callers that dispatch on
// the failure class rather than the message.
type ErrorKind string

const (
	KindFormat            ErrorKind = "format"
	KindCauseMismatch     ErrorKind = "cause_mismatch"
	KindUnmappedCause     ErrorKind = "unmapped_cause"
	KindNothingToEnsemble ErrorKind = "nothing_to_ensemble"
	KindInvalidMatrix     ErrorKind = "invalid_matrix"
	KindSampler           ErrorKind = "sampler"
	KindConfiguration     ErrorKind = "configuration"
	KindInternal          ErrorKind = "internal"
)

// CalibrationError wraps an errbuilder error with the calibration-level
// failure kind. Warning-kind errors are reportable but never abort a run.
type CalibrationError struct {
	*errbuilder.ErrBuilder
	Kind      ErrorKind `json:"kind"`
	Warning   bool      `json:"warning"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *CalibrationError) Error() string {
	codeStr := "UNKNOWN_ERROR"
	switch e.Kind {
	case KindFormat:
		codeStr = "FORMAT_ERROR"
	case KindCauseMismatch:
		codeStr = "CAUSE_MISMATCH"
	case KindUnmappedCause:
		codeStr = "UNMAPPED_CAUSE"
	case KindNothingToEnsemble:
		codeStr = "NOTHING_TO_ENSEMBLE"
	case KindInvalidMatrix:
		codeStr = "INVALID_MATRIX"
	case KindSampler:
		codeStr = "SAMPLER"
	case KindConfiguration:
		codeStr = "CONFIGURATION_ERROR"
	case KindInternal:
		codeStr = "INTERNAL_ERROR"
	}
	return fmt.Sprintf("[%s] %s", codeStr, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause.
func (e *CalibrationError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// New creates a CalibrationError from an errbuilder with a kind.
func New(builder *errbuilder.ErrBuilder, kind ErrorKind) *CalibrationError {
	return &CalibrationError{
		ErrBuilder: builder,
		Kind:       kind,
		Timestamp:  time.Now(),
	}
}

// NewFormatError flags input that does not match any accepted shape or
// whose contents fail structural validation.
func NewFormatError(message string, cause error) *CalibrationError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return New(builder, KindFormat)
}

// NewCauseMismatchError flags cause sets that cannot be aligned. Both
// sides of the mismatch are carried in the details so the caller can see
// exactly which labels disagree.
func NewCauseMismatchError(algorithm string, got, want []string) *CalibrationError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("got", errors.New(strings.Join(got, ", ")))
	errorMap.Set("want", errors.New(strings.Join(want, ", ")))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("algorithm %q: cause set cannot be aligned", algorithm)).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return New(builder, KindCauseMismatch)
}

// NewUnmappedCauseError flags specific-cause labels with no entry in the
// algorithm's cause taxonomy. The distinct offending labels are listed in
// the details, sorted for stable output.
func NewUnmappedCauseError(algorithm string, causes []string) *CalibrationError {
	distinct := make(map[string]struct{}, len(causes))
	for _, c := range causes {
		distinct[c] = struct{}{}
	}
	labels := make([]string, 0, len(distinct))
	for c := range distinct {
		labels = append(labels, c)
	}
	sort.Strings(labels)

	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("unmapped_causes", errors.New(strings.Join(labels, ", ")))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("algorithm %q: %d cause(s) missing from the cause map: %s", algorithm, len(labels), strings.Join(labels, ", "))).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return New(builder, KindUnmappedCause)
}

// NewNothingToEnsembleError flags an ensemble request backed by fewer
// than two algorithms.
func NewNothingToEnsembleError(n int) *CalibrationError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("ensemble requires at least two algorithms, got %d", n))

	return New(builder, KindNothingToEnsemble)
}

// NewInvalidMatrixError flags a misclassification matrix that fails
// structural or numeric validation.
func NewInvalidMatrixError(message string, details map[string]string) *CalibrationError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeOutOfRange).
		WithMsg(message)

	if len(details) > 0 {
		errorMap := errbuilder.ErrorMap{}
		for key, value := range details {
			errorMap.Set(key, errors.New(value))
		}
		builder = builder.WithDetails(errbuilder.NewErrDetails(errorMap))
	}

	return New(builder, KindInvalidMatrix)
}

// NewSamplerError flags a fatal sampler failure.
func NewSamplerError(message string, cause error) *CalibrationError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return New(builder, KindSampler)
}

// NewSamplerDivergenceWarning reports sampler trouble that does not
// invalidate the run. It is attached to results and logged, never
// returned as a fatal error.
func NewSamplerDivergenceWarning(algorithm string, divergences int, maxRHat float64) *CalibrationError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("divergences", fmt.Errorf("%d", divergences))
	errorMap.Set("max_rhat", fmt.Errorf("%.4f", maxRHat))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(fmt.Sprintf("algorithm %q: sampler reported divergent behaviour", algorithm)).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	warn := New(builder, KindSampler)
	warn.Warning = true
	return warn
}

// NewConfigurationError flags invalid run configuration.
func NewConfigurationError(message string, cause error) *CalibrationError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return New(builder, KindConfiguration)
}

// NewInternalError flags a failure that is not the caller's fault.
func NewInternalError(message string, cause error) *CalibrationError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return New(builder, KindInternal)
}

// KindOf returns the calibration kind of err, or KindInternal for errors
// from outside the taxonomy.
func KindOf(err error) ErrorKind {
	var calErr *CalibrationError
	if errors.As(err, &calErr) {
		return calErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given calibration kind.
func IsKind(err error, kind ErrorKind) bool {
	var calErr *CalibrationError
	return errors.As(err, &calErr) && calErr.Kind == kind
}

// IsWarning reports whether err is a non-fatal warning.
func IsWarning(err error) bool {
	var calErr *CalibrationError
	return errors.As(err, &calErr) && calErr.Warning
}

// ToCalibrationError converts any error into a CalibrationError, keeping
// it untouched when it already is one.
func ToCalibrationError(err error) *CalibrationError {
	if err == nil {
		return nil
	}
	var calErr *CalibrationError
	if errors.As(err, &calErr) {
		return calErr
	}
	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return New(ebErr, KindInternal)
	}
	return NewInternalError("unexpected error", err)
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	contextMsg := fmt.Sprintf(message, args...)
	return fmt.Errorf("%s: %w", contextMsg, err)
}
