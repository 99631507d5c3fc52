package common

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrSchemaMismatch     = errors.New("schema mismatch")
	ErrNoFeasiblePlan     = errors.New("no feasible plan")
	ErrInsufficientData   = errors.New("insufficient data")
	ErrInvocationFailure  = errors.New("invocation failure")
	ErrExecutionAborted   = errors.New("execution aborted")
	ErrExecutionCancelled = errors.New("execution cancelled")
	ErrInvalidPlan        = errors.New("invalid plan")
	ErrSourceNotFound     = errors.New("source not found")
)

// NewStageError marks err with sentinel and names the offending stage
func NewStageError(sentinel error, stage int, opName string, format string, args ...interface{}) error {
	err := errors.Newf(format, args...)
	err = errors.Wrapf(err, "%s at stage %d (%s)", sentinel.Error(), stage, opName)
	return errors.Mark(err, sentinel)
}
