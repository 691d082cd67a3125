package uws

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownJob means the job id does not exist in the store.
	ErrUnknownJob = errors.New("unknown job")

	// ErrPermissionDenied means the caller is not the job's owner.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidPhase means the job's current phase forbids the requested
	// operation, e.g. starting an already-queued job.
	ErrInvalidPhase = errors.New("invalid job phase for operation")
)

// ParameterError reports invalid job parameters from policy validation.
type ParameterError struct {
	Msg string
}

func (e *ParameterError) Error() string { return e.Msg }

func NewParameterError(format string, args ...any) *ParameterError {
	return &ParameterError{Msg: fmt.Sprintf(format, args...)}
}

// IsParameterError reports whether err is (or wraps) a ParameterError.
func IsParameterError(err error) bool {
	var pe *ParameterError
	return errors.As(err, &pe)
}
