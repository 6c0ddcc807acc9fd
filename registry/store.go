package registry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no job exists for the requested id.
var ErrNotFound = errors.New("job not found")

// JobRecord is the durable row backing one submitted job. The submission
// fields are immutable after Create; runtime fields change only through the
// per-field update methods on Store.
type JobRecord struct {
	ID               uint   `gorm:"primarykey"`
	JobID            string `gorm:"uniqueIndex"`
	JobName          string `gorm:"index"`
	Description      string `gorm:"type:text"`
	ModelType        string `gorm:"index"`
	DatasetPath      string
	Hyperparameters  string `gorm:"type:jsonb"`
	TrainingConfig   string `gorm:"type:jsonb"`
	Metadata         string `gorm:"type:jsonb"`
	NumWorkers       int
	Epochs           int
	ModelBucket      string
	CheckpointBucket string

	TaskID          string `gorm:"index"`
	Status          string `gorm:"index"`
	Result          string `gorm:"type:text"`
	Error           string `gorm:"type:text"`
	CurrentLoss     float64
	CurrentAccuracy float64
	CompletedTasks  int
	TotalTasks      int
	ModelSaved      bool

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	CancelledAt *time.Time
}

// TableName overrides the table name
func (JobRecord) TableName() string {
	return "jobs"
}

// Store is the injected system of record for jobs. Listing is newest-first
// by creation time, ties broken by insertion order. Records are never
// deleted; terminal jobs are retained for audit and listing.
type Store interface {
	Create(ctx context.Context, rec *JobRecord) error
	Get(ctx context.Context, jobID string) (*JobRecord, error)
	List(ctx context.Context) ([]*JobRecord, error)
	UpdateStatus(ctx context.Context, jobID, status string) error
	MarkStarted(ctx context.Context, jobID string, at time.Time) error
	MarkCompleted(ctx context.Context, jobID, result string, at time.Time) error
	MarkFailed(ctx context.Context, jobID, errMsg string, at time.Time) error
	MarkCancelled(ctx context.Context, jobID string, at time.Time) error
	MarkModelSaved(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, loss, accuracy float64, completed, total int) error
}
