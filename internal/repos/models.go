package repos

import (
	"time"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// JobRecord is the storage shape of a job. Error fields are flattened onto
// the row; parameters and results live in their own relations so insertion
// order survives round-trips.
type JobRecord struct {
	ID                int64      `gorm:"primaryKey;autoIncrement"`
	Owner             string     `gorm:"not null;index:idx_job_owner_phase_creation,priority:1;index:idx_job_owner_creation,priority:1"`
	Phase             string     `gorm:"not null;index:idx_job_owner_phase_creation,priority:2"`
	RunID             string     `gorm:"column:run_id"`
	MessageID         string     `gorm:"column:message_id"`
	CreationTime      time.Time  `gorm:"not null;index:idx_job_owner_phase_creation,priority:3;index:idx_job_owner_creation,priority:2"`
	StartTime         *time.Time `gorm:"column:start_time"`
	EndTime           *time.Time `gorm:"column:end_time"`
	DestructionTime   time.Time  `gorm:"not null;index"`
	ExecutionDuration int        `gorm:"not null;default:0"`
	Quote             *time.Time
	ErrorType         string `gorm:"column:error_type"`
	ErrorCode         string `gorm:"column:error_code"`
	ErrorMessage      string `gorm:"column:error_message"`
	ErrorDetail       string `gorm:"column:error_detail"`
}

func (JobRecord) TableName() string { return "job" }

type JobParameterRecord struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	JobID          int64  `gorm:"not null;index"`
	InsertionIndex int    `gorm:"not null"`
	ParameterID    string `gorm:"column:parameter_id;not null"`
	Value          string `gorm:"not null"`
	IsPost         bool   `gorm:"not null;default:false"`
}

func (JobParameterRecord) TableName() string { return "job_parameter" }

type JobResultRecord struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	JobID    int64  `gorm:"not null;index"`
	Sequence int    `gorm:"not null"`
	ResultID string `gorm:"column:result_id;not null"`
	URL      string `gorm:"not null"`
	Size     *int64
	MimeType string `gorm:"column:mime_type"`
}

func (JobResultRecord) TableName() string { return "job_result" }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (r *JobRecord) toDomain(jobID string, params []JobParameterRecord, results []JobResultRecord) *uws.Job {
	job := &uws.Job{
		ID:                jobID,
		Owner:             r.Owner,
		RunID:             r.RunID,
		Phase:             uws.ExecutionPhase(r.Phase),
		MessageID:         r.MessageID,
		CreationTime:      r.CreationTime.UTC(),
		StartTime:         utcPtr(r.StartTime),
		EndTime:           utcPtr(r.EndTime),
		DestructionTime:   r.DestructionTime.UTC(),
		ExecutionDuration: r.ExecutionDuration,
		Quote:             utcPtr(r.Quote),
	}
	for _, p := range params {
		job.Parameters = append(job.Parameters, uws.JobParameter{
			ID:     p.ParameterID,
			Value:  p.Value,
			IsPost: p.IsPost,
		})
	}
	for _, res := range results {
		job.Results = append(job.Results, uws.JobResult{
			ResultID: res.ResultID,
			URL:      res.URL,
			Size:     res.Size,
			MimeType: res.MimeType,
		})
	}
	if r.ErrorMessage != "" || r.ErrorType != "" {
		job.Error = &uws.JobError{
			Type:    uws.ErrorType(r.ErrorType),
			Code:    uws.ErrorCode(r.ErrorCode),
			Message: r.ErrorMessage,
			Detail:  r.ErrorDetail,
		}
	}
	return job
}
