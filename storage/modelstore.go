package storage

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrModelNotFound is returned when no model exists for the requested job.
var ErrModelNotFound = errors.New("model not found")

// manifestBucket holds the model manifests written at auto-save time.
const manifestBucket = "models"

// ModelRecord is the durable catalog row for one saved model. JobID carries
// a unique index so a job can never own two models, even if two save
// attempts race past the in-process guard.
type ModelRecord struct {
	ID            uint   `gorm:"primarykey"`
	ModelID       string `gorm:"uniqueIndex"`
	JobID         string `gorm:"uniqueIndex"`
	Name          string
	ModelType     string
	DatasetPath   string
	FinalLoss     float64
	FinalAccuracy float64
	BlobPath      string
	Checksum      string
	CreatedAt     time.Time
}

// TableName overrides the table name
func (ModelRecord) TableName() string {
	return "saved_models"
}

// manifestPutter is the slice of BlobStore the catalog needs.
type manifestPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, data []byte, contentType string) (string, error)
}

// ModelStore persists model catalog rows and uploads a JSON manifest
// alongside each one.
type ModelStore struct {
	db    *gorm.DB
	blobs manifestPutter
	log   *logrus.Entry
}

func NewModelStore(db *gorm.DB, blobs manifestPutter) *ModelStore {
	return &ModelStore{
		db:    db,
		blobs: blobs,
		log:   logrus.WithField("component", "modelstore"),
	}
}

// FindByJobID returns the saved model for a job, or ErrModelNotFound.
func (s *ModelStore) FindByJobID(ctx context.Context, jobID string) (*ModelRecord, error) {
	var rec ModelRecord
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to query model for job %s: %w", jobID, err)
	}
	return &rec, nil
}

// Save uploads the model manifest and inserts the catalog row. The manifest
// upload is retried with exponential backoff; transient object-store errors
// must not lose a completed model. The database insert is the commit point.
func (s *ModelStore) Save(ctx context.Context, rec *ModelRecord) error {
	if rec.ModelID == "" {
		rec.ModelID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	manifest, err := json.Marshal(map[string]interface{}{
		"model_id":       rec.ModelID,
		"job_id":         rec.JobID,
		"name":           rec.Name,
		"model_type":     rec.ModelType,
		"dataset_path":   rec.DatasetPath,
		"final_loss":     rec.FinalLoss,
		"final_accuracy": rec.FinalAccuracy,
		"created_at":     rec.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal model manifest: %w", err)
	}
	rec.Checksum = fmt.Sprintf("%x", md5.Sum(manifest))

	objectName := fmt.Sprintf("%s/manifest.json", rec.ModelID)
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err = backoff.Retry(func() error {
		path, putErr := s.blobs.PutObject(ctx, manifestBucket, objectName, manifest, "application/json")
		if putErr != nil {
			s.log.WithError(putErr).Warnf("Manifest upload failed for model %s, retrying", rec.ModelID)
			return putErr
		}
		rec.BlobPath = path
		return nil
	}, policy)
	if err != nil {
		return fmt.Errorf("failed to upload model manifest: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to insert model record: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"model_id": rec.ModelID,
		"job_id":   rec.JobID,
	}).Info("Saved model to catalog")
	return nil
}

// List returns all saved models, newest first.
func (s *ModelStore) List(ctx context.Context) ([]*ModelRecord, error) {
	var recs []*ModelRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC, id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return recs, nil
}
