package models

import "errors"

// Sentinel errors for segmentation jobs.
var (
	// Validation errors
	ErrMissingJobID     = errors.New("id is required")
	ErrMissingSourceURI = errors.New("uri is required")

	// Processing errors
	ErrJobParseFailed = errors.New("failed to parse job")
	ErrFetchFailed    = errors.New("failed to fetch source video")
	ErrProbeFailed    = errors.New("failed to probe video metadata")
	ErrExtractFailed  = errors.New("failed to extract frames")
	ErrUploadFailed   = errors.New("failed to upload segments")
	ErrBadFrameName   = errors.New("frame file name does not match index pattern")

	// Storage errors
	ErrJobNotFound = errors.New("job not found")
)

// PipelineError wraps a stage error with its retry classification.
// Fatal means redelivering the same job cannot succeed; everything
// else may be transient and is left to the queue to retry.
type PipelineError struct {
	Fatal bool
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Fatal {
		return "fatal: " + e.Err.Error()
	}
	return "transient: " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Fatal classifies err as permanent.
func Fatal(err error) error {
	return &PipelineError{Fatal: true, Err: err}
}

// Transient classifies err as retryable via redelivery.
func Transient(err error) error {
	return &PipelineError{Fatal: false, Err: err}
}

// IsFatal reports whether err carries a fatal classification anywhere in
// its chain. Unclassified errors are treated as transient.
func IsFatal(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Fatal
	}
	return false
}
