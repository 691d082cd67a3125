package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/repos"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// GetOptions controls the long-poll behavior of JobService.Get. Wait of zero
// returns immediately; a negative Wait means "the configured maximum".
type GetOptions struct {
	Wait              time.Duration
	WaitPhase         uws.ExecutionPhase
	WaitForCompletion bool
}

// JobService is the front-end facade over the job store and the policy hook.
// Every method takes the calling user; access to another owner's job fails
// with uws.ErrPermissionDenied.
type JobService interface {
	Availability(ctx context.Context) uws.Availability
	Create(ctx context.Context, user, runID string, params []uws.JobParameter) (*uws.Job, error)
	Start(ctx context.Context, user, jobID, token string) (string, error)
	Get(ctx context.Context, user, jobID string, opts GetOptions) (*uws.Job, error)
	List(ctx context.Context, user string, phases []uws.ExecutionPhase, after *time.Time, count int) ([]uws.JobDescription, error)
	Delete(ctx context.Context, user, jobID string) error
	UpdateDestruction(ctx context.Context, user, jobID string, t time.Time) (time.Time, error)
	UpdateExecutionDuration(ctx context.Context, user, jobID string, d int) (int, error)
}

// JobServiceConfig carries the engine defaults applied at creation and the
// long-poll cap.
type JobServiceConfig struct {
	ExecutionDuration int
	Lifetime          time.Duration
	WaitTimeout       time.Duration
}

type jobService struct {
	store  repos.JobStore
	policy Policy
	log    *logger.Logger
	cfg    JobServiceConfig

	// pollStart and pollMultiplier shape the long-poll backoff.
	pollStart      time.Duration
	pollMultiplier float64
}

func NewJobService(store repos.JobStore, policy Policy, baseLog *logger.Logger, cfg JobServiceConfig) JobService {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 60 * time.Second
	}
	return &jobService{
		store:          store,
		policy:         policy,
		log:            baseLog.With("service", "JobService"),
		cfg:            cfg,
		pollStart:      100 * time.Millisecond,
		pollMultiplier: 1.5,
	}
}

func (s *jobService) Availability(ctx context.Context) uws.Availability {
	return s.store.Availability(ctx)
}

func (s *jobService) Create(ctx context.Context, user, runID string, params []uws.JobParameter) (*uws.Job, error) {
	normalized := make([]uws.JobParameter, 0, len(params))
	for _, p := range params {
		p.ID = strings.ToLower(p.ID)
		normalized = append(normalized, p)
	}
	if err := s.policy.ValidateParams(normalized); err != nil {
		return nil, err
	}
	job, err := s.store.Add(ctx, user, runID, normalized, s.cfg.ExecutionDuration, s.cfg.Lifetime)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.Info("Created job", "job_id", job.ID, "owner", user)
	return job, nil
}

// loadOwned fetches a job and rejects callers other than its owner.
func (s *jobService) loadOwned(ctx context.Context, user, jobID string) (*uws.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Owner != user {
		return nil, uws.ErrPermissionDenied
	}
	return job, nil
}

func (s *jobService) Start(ctx context.Context, user, jobID, token string) (string, error) {
	job, err := s.loadOwned(ctx, user, jobID)
	if err != nil {
		return "", err
	}
	switch job.Phase {
	case uws.PhasePending, uws.PhaseHeld:
	default:
		return "", fmt.Errorf("%w: cannot start job in phase %s", uws.ErrInvalidPhase, job.Phase)
	}
	messageID, err := s.policy.Dispatch(ctx, job, token)
	if err != nil {
		return "", fmt.Errorf("dispatch job %s: %w", jobID, err)
	}
	if err := s.store.MarkQueued(ctx, jobID, messageID); err != nil {
		return "", err
	}
	s.log.Info("Queued job", "job_id", jobID, "message_id", messageID)
	return messageID, nil
}

func (s *jobService) Get(ctx context.Context, user, jobID string, opts GetOptions) (*uws.Job, error) {
	job, err := s.loadOwned(ctx, user, jobID)
	if err != nil {
		return nil, err
	}
	if opts.Wait == 0 || !job.Phase.IsActive() {
		return job, nil
	}

	wait := opts.Wait
	if wait < 0 || wait > s.cfg.WaitTimeout {
		wait = s.cfg.WaitTimeout
	}
	deadline := time.Now().Add(wait)

	waitPhase := opts.WaitPhase
	if waitPhase == "" {
		waitPhase = job.Phase
	}
	done := func(j *uws.Job) bool {
		if opts.WaitForCompletion {
			return !j.Phase.IsActive()
		}
		return j.Phase != waitPhase
	}

	sleep := s.pollStart
	for !done(job) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		sleep = time.Duration(float64(sleep) * s.pollMultiplier)

		job, err = s.store.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (s *jobService) List(ctx context.Context, user string, phases []uws.ExecutionPhase, after *time.Time, count int) ([]uws.JobDescription, error) {
	return s.store.List(ctx, user, phases, after, count)
}

func (s *jobService) Delete(ctx context.Context, user, jobID string) error {
	if _, err := s.loadOwned(ctx, user, jobID); err != nil {
		return err
	}
	// The in-flight backend task, if any, is not aborted; the tracker
	// swallows UnknownJob when its reports arrive.
	if err := s.store.Delete(ctx, jobID); err != nil {
		return err
	}
	s.log.Info("Deleted job", "job_id", jobID, "owner", user)
	return nil
}

func (s *jobService) UpdateDestruction(ctx context.Context, user, jobID string, t time.Time) (time.Time, error) {
	job, err := s.loadOwned(ctx, user, jobID)
	if err != nil {
		return time.Time{}, err
	}
	validated := s.policy.ValidateDestruction(t, job).UTC()
	if !validated.Equal(job.DestructionTime) {
		if err := s.store.UpdateDestruction(ctx, jobID, validated); err != nil {
			return time.Time{}, err
		}
	}
	return validated, nil
}

func (s *jobService) UpdateExecutionDuration(ctx context.Context, user, jobID string, d int) (int, error) {
	job, err := s.loadOwned(ctx, user, jobID)
	if err != nil {
		return 0, err
	}
	validated := s.policy.ValidateExecutionDuration(d, job)
	if validated != job.ExecutionDuration {
		if err := s.store.UpdateExecutionDuration(ctx, jobID, validated); err != nil {
			return 0, err
		}
	}
	return validated, nil
}

// IsUsageError reports whether err should surface as a usage problem rather
// than an internal failure.
func IsUsageError(err error) bool {
	return errors.Is(err, uws.ErrUnknownJob) ||
		errors.Is(err, uws.ErrInvalidPhase) ||
		uws.IsParameterError(err)
}
