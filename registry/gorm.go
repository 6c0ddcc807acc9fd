package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tensorfleet/control-plane/models"
)

// GormStore persists job records through a GORM-backed database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store on an already-open database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, rec *JobRecord) error {
	if rec.Status == "" {
		rec.Status = models.StatusQueued
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	var rec JobRecord
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return &rec, nil
}

func (s *GormStore) List(ctx context.Context) ([]*JobRecord, error) {
	var recs []*JobRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return recs, nil
}

func (s *GormStore) UpdateStatus(ctx context.Context, jobID, status string) error {
	return s.updates(ctx, jobID, map[string]interface{}{"status": status})
}

func (s *GormStore) MarkStarted(ctx context.Context, jobID string, at time.Time) error {
	return s.updates(ctx, jobID, map[string]interface{}{
		"status":     models.StatusRunning,
		"started_at": at,
	})
}

func (s *GormStore) MarkCompleted(ctx context.Context, jobID, result string, at time.Time) error {
	return s.updates(ctx, jobID, map[string]interface{}{
		"status":       models.StatusCompleted,
		"result":       result,
		"completed_at": at,
	})
}

func (s *GormStore) MarkFailed(ctx context.Context, jobID, errMsg string, at time.Time) error {
	return s.updates(ctx, jobID, map[string]interface{}{
		"status":    models.StatusFailed,
		"error":     errMsg,
		"failed_at": at,
	})
}

func (s *GormStore) MarkCancelled(ctx context.Context, jobID string, at time.Time) error {
	return s.updates(ctx, jobID, map[string]interface{}{
		"status":       models.StatusCancelled,
		"cancelled_at": at,
	})
}

func (s *GormStore) MarkModelSaved(ctx context.Context, jobID string) error {
	return s.updates(ctx, jobID, map[string]interface{}{"model_saved": true})
}

func (s *GormStore) UpdateProgress(ctx context.Context, jobID string, loss, accuracy float64, completed, total int) error {
	return s.updates(ctx, jobID, map[string]interface{}{
		"current_loss":     loss,
		"current_accuracy": accuracy,
		"completed_tasks":  completed,
		"total_tasks":      total,
	})
}

// updates applies a per-field update; last writer wins per field.
func (s *GormStore) updates(ctx context.Context, jobID string, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&JobRecord{}).
		Where("job_id = ?", jobID).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
