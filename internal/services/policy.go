package services

import (
	"context"
	"time"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// Policy is supplied by the embedding application. It owns parameter
// validation, the clamping of mutable job fields, and the construction of the
// backend dispatch payload.
type Policy interface {
	// Dispatch builds the backend-specific payload for the job and enqueues
	// it on the work queue, returning the message id. token is the delegated
	// credential forwarded to the backend, if any.
	Dispatch(ctx context.Context, job *uws.Job, token string) (string, error)

	// ValidateParams checks creation parameters, returning a
	// *uws.ParameterError on rejection.
	ValidateParams(params []uws.JobParameter) error

	// ValidateDestruction clamps a requested destruction time and returns the
	// value to store.
	ValidateDestruction(t time.Time, job *uws.Job) time.Time

	// ValidateExecutionDuration clamps a requested duration (seconds) and
	// returns the value to store.
	ValidateExecutionDuration(d int, job *uws.Job) int
}

// DefaultPolicyValidators rejects changes to mutable fields by returning the
// job's current values. Embedding applications compose it and override what
// they allow.
type DefaultPolicyValidators struct{}

func (DefaultPolicyValidators) ValidateDestruction(_ time.Time, job *uws.Job) time.Time {
	return job.DestructionTime
}

func (DefaultPolicyValidators) ValidateExecutionDuration(_ int, job *uws.Job) int {
	return job.ExecutionDuration
}
