package enrich

import (
	"github.com/pkg/errors"
)

// AlignmentFailedError means the aligner timed out, exited with an error or produced unreadable output.
type AlignmentFailedError struct {
	Err error
}

func (e *AlignmentFailedError) Error() string {
	return "alignment failed: " + e.Err.Error()
}

func (e *AlignmentFailedError) Unwrap() error {
	return e.Err
}

// QcFailedError means the clade assigner timed out, exited with an error or produced unreadable output.
type QcFailedError struct {
	Err error
}

func (e *QcFailedError) Error() string {
	return "clade assignment failed: " + e.Err.Error()
}

func (e *QcFailedError) Unwrap() error {
	return e.Err
}

// IsBatchFailure reports whether err fails only the batch being enriched rather than the whole run.
func IsBatchFailure(err error) bool {
	var alignmentFailed *AlignmentFailedError
	var qcFailed *QcFailedError
	return errors.As(err, &alignmentFailed) || errors.As(err, &qcFailed)
}
