package repos

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// JobStore is the sole source of truth for job state. Guarded transitions
// serialize concurrent writers so the most-advanced phase on the forward path
// always wins, no matter the delivery order of queue messages.
type JobStore interface {
	Add(ctx context.Context, owner, runID string, params []uws.JobParameter, executionDuration int, lifetime time.Duration) (*uws.Job, error)
	Get(ctx context.Context, jobID string) (*uws.Job, error)
	List(ctx context.Context, owner string, phases []uws.ExecutionPhase, after *time.Time, count int) ([]uws.JobDescription, error)
	Delete(ctx context.Context, jobID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	MarkQueued(ctx context.Context, jobID, messageID string) error
	MarkExecuting(ctx context.Context, jobID string, startTime time.Time) error
	MarkCompleted(ctx context.Context, jobID string, results []uws.JobResult) error
	MarkFailed(ctx context.Context, jobID string, jobErr *uws.JobError) error

	UpdateDestruction(ctx context.Context, jobID string, t time.Time) error
	UpdateExecutionDuration(ctx context.Context, jobID string, d int) error

	Availability(ctx context.Context) uws.Availability
}

type jobStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobStore(db *gorm.DB, baseLog *logger.Logger) JobStore {
	return &jobStore{
		db:  db,
		log: baseLog.With("repo", "JobStore"),
	}
}

func parseJobID(jobID string) (int64, error) {
	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil || id <= 0 {
		return 0, uws.ErrUnknownJob
	}
	return id, nil
}

func formatJobID(id int64) string { return strconv.FormatInt(id, 10) }

func (r *jobStore) Add(ctx context.Context, owner, runID string, params []uws.JobParameter, executionDuration int, lifetime time.Duration) (*uws.Job, error) {
	now := time.Now().UTC()
	record := &JobRecord{
		Owner:             owner,
		Phase:             string(uws.PhasePending),
		RunID:             runID,
		CreationTime:      now,
		DestructionTime:   now.Add(lifetime),
		ExecutionDuration: executionDuration,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		for i, p := range params {
			row := &JobParameterRecord{
				JobID:          record.ID,
				InsertionIndex: i,
				ParameterID:    p.ID,
				Value:          p.Value,
				IsPost:         p.IsPost,
			}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, formatJobID(record.ID))
}

func (r *jobStore) Get(ctx context.Context, jobID string) (*uws.Job, error) {
	id, err := parseJobID(jobID)
	if err != nil {
		return nil, err
	}
	var record JobRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, uws.ErrUnknownJob
		}
		return nil, err
	}
	var params []JobParameterRecord
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", id).
		Order("insertion_index ASC").
		Find(&params).Error; err != nil {
		return nil, err
	}
	var results []JobResultRecord
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", id).
		Order("sequence ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return record.toDomain(formatJobID(id), params, results), nil
}

func (r *jobStore) List(ctx context.Context, owner string, phases []uws.ExecutionPhase, after *time.Time, count int) ([]uws.JobDescription, error) {
	q := r.db.WithContext(ctx).
		Model(&JobRecord{}).
		Where("owner = ?", owner).
		Order("creation_time DESC")
	if len(phases) > 0 {
		values := make([]string, 0, len(phases))
		for _, p := range phases {
			values = append(values, string(p))
		}
		q = q.Where("phase IN ?", values)
	}
	if after != nil {
		// Strictly after; equal timestamps are excluded.
		q = q.Where("creation_time > ?", after.UTC())
	}
	if count > 0 {
		q = q.Limit(count)
	}
	var records []JobRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]uws.JobDescription, 0, len(records))
	for _, rec := range records {
		out = append(out, uws.JobDescription{
			ID:           formatJobID(rec.ID),
			Owner:        rec.Owner,
			Phase:        uws.ExecutionPhase(rec.Phase),
			RunID:        rec.RunID,
			CreationTime: rec.CreationTime.UTC(),
		})
	}
	return out, nil
}

func (r *jobStore) Delete(ctx context.Context, jobID string) error {
	id, err := parseJobID(jobID)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteJobCascade(tx, id)
	})
}

func deleteJobCascade(tx *gorm.DB, id int64) error {
	if err := tx.Where("job_id = ?", id).Delete(&JobParameterRecord{}).Error; err != nil {
		return err
	}
	if err := tx.Where("job_id = ?", id).Delete(&JobResultRecord{}).Error; err != nil {
		return err
	}
	res := tx.Where("id = ?", id).Delete(&JobRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return uws.ErrUnknownJob
	}
	return nil
}

func (r *jobStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&JobRecord{}).
			Where("destruction_time <= ?", now.UTC()).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		for _, id := range ids {
			if err := deleteJobCascade(tx, id); err != nil && !errors.Is(err, uws.ErrUnknownJob) {
				return err
			}
		}
		deleted = int64(len(ids))
		return nil
	})
	return deleted, err
}

// transition runs fn inside a transaction that re-reads the job row, applies
// fn's guard and writes, and commits. On Postgres the transaction runs at
// REPEATABLE READ; a serialization failure is retried exactly once.
func (r *jobStore) transition(ctx context.Context, jobID string, fn func(tx *gorm.DB, row *JobRecord) error) error {
	id, err := parseJobID(jobID)
	if err != nil {
		return err
	}
	run := func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var row JobRecord
			if err := tx.First(&row, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return uws.ErrUnknownJob
				}
				return err
			}
			return fn(tx, &row)
		}, r.txOptions()...)
	}
	err = run()
	if isSerializationFailure(err) {
		r.log.Debug("Serialization failure, retrying transition once", "job_id", jobID)
		err = run()
	}
	return err
}

func (r *jobStore) txOptions() []*sql.TxOptions {
	// SQLite (tests) only supports the default isolation level.
	if r.db.Dialector.Name() != "postgres" {
		return nil
	}
	return []*sql.TxOptions{{Isolation: sql.LevelRepeatableRead}}
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// MarkQueued records the dispatch handle. The phase moves to QUEUED only from
// PENDING or HELD; a job already reported executing or finished keeps its
// later phase.
func (r *jobStore) MarkQueued(ctx context.Context, jobID, messageID string) error {
	return r.transition(ctx, jobID, func(tx *gorm.DB, row *JobRecord) error {
		updates := map[string]interface{}{"message_id": messageID}
		switch uws.ExecutionPhase(row.Phase) {
		case uws.PhasePending, uws.PhaseHeld:
			updates["phase"] = string(uws.PhaseQueued)
		}
		return tx.Model(&JobRecord{}).Where("id = ?", row.ID).Updates(updates).Error
	})
}

// MarkExecuting records the backend-reported start time. The start time is
// written unconditionally so a late job_started still lands after a terminal
// transition; the phase only advances from PENDING or QUEUED.
func (r *jobStore) MarkExecuting(ctx context.Context, jobID string, startTime time.Time) error {
	return r.transition(ctx, jobID, func(tx *gorm.DB, row *JobRecord) error {
		updates := map[string]interface{}{"start_time": startTime.UTC()}
		switch uws.ExecutionPhase(row.Phase) {
		case uws.PhasePending, uws.PhaseQueued:
			updates["phase"] = string(uws.PhaseExecuting)
		}
		return tx.Model(&JobRecord{}).Where("id = ?", row.ID).Updates(updates).Error
	})
}

// MarkCompleted is a terminal write and is unconditional.
func (r *jobStore) MarkCompleted(ctx context.Context, jobID string, results []uws.JobResult) error {
	return r.transition(ctx, jobID, func(tx *gorm.DB, row *JobRecord) error {
		now := time.Now().UTC()
		if err := tx.Where("job_id = ?", row.ID).Delete(&JobResultRecord{}).Error; err != nil {
			return err
		}
		for i, res := range results {
			rec := &JobResultRecord{
				JobID:    row.ID,
				Sequence: i,
				ResultID: res.ResultID,
				URL:      res.URL,
				Size:     res.Size,
				MimeType: res.MimeType,
			}
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
		}
		return tx.Model(&JobRecord{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"phase":         string(uws.PhaseCompleted),
			"end_time":      now,
			"error_type":    "",
			"error_code":    "",
			"error_message": "",
			"error_detail":  "",
		}).Error
	})
}

// MarkFailed is a terminal write and is unconditional.
func (r *jobStore) MarkFailed(ctx context.Context, jobID string, jobErr *uws.JobError) error {
	return r.transition(ctx, jobID, func(tx *gorm.DB, row *JobRecord) error {
		now := time.Now().UTC()
		if err := tx.Where("job_id = ?", row.ID).Delete(&JobResultRecord{}).Error; err != nil {
			return err
		}
		return tx.Model(&JobRecord{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"phase":         string(uws.PhaseError),
			"end_time":      now,
			"error_type":    string(jobErr.Type),
			"error_code":    string(jobErr.Code),
			"error_message": jobErr.Message,
			"error_detail":  jobErr.Detail,
		}).Error
	})
}

func (r *jobStore) UpdateDestruction(ctx context.Context, jobID string, t time.Time) error {
	return r.transition(ctx, jobID, func(tx *gorm.DB, row *JobRecord) error {
		return tx.Model(&JobRecord{}).Where("id = ?", row.ID).
			Update("destruction_time", t.UTC()).Error
	})
}

func (r *jobStore) UpdateExecutionDuration(ctx context.Context, jobID string, d int) error {
	return r.transition(ctx, jobID, func(tx *gorm.DB, row *JobRecord) error {
		return tx.Model(&JobRecord{}).Where("id = ?", row.ID).
			Update("execution_duration", d).Error
	})
}

func (r *jobStore) Availability(ctx context.Context) uws.Availability {
	var one int
	if err := r.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return uws.Availability{Available: false, Note: err.Error()}
	}
	return uws.Availability{Available: true}
}
