package cutout

import (
	"context"
	"time"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/queue"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// TaskCutout is the task name carried on the work queue.
const TaskCutout = "cutout"

// PolicyConfig bounds the mutable job fields and names the work queue.
type PolicyConfig struct {
	WorkQueueName string
	// MaxLifetime caps destruction_time at creation + MaxLifetime.
	MaxLifetime time.Duration
	// MaxExecutionDuration caps the per-job budget, seconds. Requests for an
	// unlimited budget (0) are clamped to this value when it is positive.
	MaxExecutionDuration int
}

// Policy validates cutout parameters and builds the backend dispatch payload.
type Policy struct {
	log   *logger.Logger
	queue queue.JobQueue
	cfg   PolicyConfig
}

func NewPolicy(baseLog *logger.Logger, q queue.JobQueue, cfg PolicyConfig) *Policy {
	if cfg.WorkQueueName == "" {
		cfg.WorkQueueName = "work"
	}
	return &Policy{
		log:   baseLog.With("service", "CutoutPolicy"),
		queue: q,
		cfg:   cfg,
	}
}

// ValidateParams requires at least one dataset id and exactly one stencil.
func (p *Policy) ValidateParams(params []uws.JobParameter) error {
	ids := 0
	stencils := 0
	for _, param := range params {
		switch {
		case param.ID == "id":
			if param.Value == "" {
				return uws.NewParameterError("dataset id must not be empty")
			}
			ids++
		case isStencilParam(param.ID):
			if _, err := ParseStencil(param.ID, param.Value); err != nil {
				return err
			}
			stencils++
		default:
			return uws.NewParameterError("unknown parameter %q", param.ID)
		}
	}
	if ids == 0 {
		return uws.NewParameterError("at least one dataset id is required")
	}
	if stencils != 1 {
		return uws.NewParameterError("exactly one stencil is required, got %d", stencils)
	}
	return nil
}

// Dispatch enqueues the typed cutout invocation on the work queue.
func (p *Policy) Dispatch(ctx context.Context, job *uws.Job, token string) (string, error) {
	var datasetIDs []string
	var stencils []*Stencil
	for _, param := range job.Parameters {
		switch {
		case param.ID == "id":
			datasetIDs = append(datasetIDs, param.Value)
		case isStencilParam(param.ID):
			stencil, err := ParseStencil(param.ID, param.Value)
			if err != nil {
				return "", err
			}
			stencils = append(stencils, stencil)
		}
	}
	args := map[string]any{
		"job_id":      job.ID,
		"owner":       job.Owner,
		"dataset_ids": datasetIDs,
		"stencils":    stencils,
	}
	if token != "" {
		args["token"] = token
	}
	return p.queue.Enqueue(ctx, p.cfg.WorkQueueName, TaskCutout, args, job.ExecutionDuration)
}

// ValidateDestruction clamps the requested time to creation + MaxLifetime.
func (p *Policy) ValidateDestruction(t time.Time, job *uws.Job) time.Time {
	if p.cfg.MaxLifetime <= 0 {
		return t
	}
	max := job.CreationTime.Add(p.cfg.MaxLifetime)
	if t.After(max) {
		return max
	}
	return t
}

// ValidateExecutionDuration clamps the requested budget to
// MaxExecutionDuration.
func (p *Policy) ValidateExecutionDuration(d int, job *uws.Job) int {
	if p.cfg.MaxExecutionDuration > 0 && (d == 0 || d > p.cfg.MaxExecutionDuration) {
		return p.cfg.MaxExecutionDuration
	}
	return d
}
