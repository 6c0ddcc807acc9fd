package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// BlobConfig holds MinIO connection configuration
type BlobConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// BlobStore wraps the MinIO client with bucket management for job
// namespaces and model blobs.
type BlobStore struct {
	client *minio.Client
	log    *logrus.Entry
}

// NewBlobStore creates a blob store with explicit configuration
func NewBlobStore(cfg BlobConfig) (*BlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &BlobStore{
		client: client,
		log:    logrus.WithField("component", "blobstore"),
	}, nil
}

// EnsureBucket creates a bucket if it doesn't exist
func (s *BlobStore) EnsureBucket(ctx context.Context, bucketName string) error {
	exists, err := s.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		s.log.Infof("Creating bucket: %s", bucketName)
		if err := s.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ProvisionJobBuckets creates the model and checkpoint namespaces for a job.
// Both buckets must exist before the job is created; a failure here aborts
// the submission.
func (s *BlobStore) ProvisionJobBuckets(ctx context.Context, jobID string) (modelBucket, checkpointBucket string, err error) {
	modelBucket = "models-" + jobID
	checkpointBucket = "checkpoints-" + jobID

	if err := s.EnsureBucket(ctx, modelBucket); err != nil {
		return "", "", fmt.Errorf("failed to provision model bucket: %w", err)
	}
	if err := s.EnsureBucket(ctx, checkpointBucket); err != nil {
		return "", "", fmt.Errorf("failed to provision checkpoint bucket: %w", err)
	}

	s.log.WithField("job_id", jobID).Info("Provisioned job storage buckets")
	return modelBucket, checkpointBucket, nil
}

// PutObject uploads an object and returns its blob path.
func (s *BlobStore) PutObject(ctx context.Context, bucketName, objectName string, data []byte, contentType string) (string, error) {
	if err := s.EnsureBucket(ctx, bucketName); err != nil {
		return "", err
	}

	_, err := s.client.PutObject(ctx, bucketName, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", bucketName, objectName), nil
}

// GetObject retrieves an object's contents.
func (s *BlobStore) GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// DeleteObject deletes an object.
func (s *BlobStore) DeleteObject(ctx context.Context, bucketName, objectName string) error {
	if err := s.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// ListObjects lists objects in a bucket with a prefix
func (s *BlobStore) ListObjects(ctx context.Context, bucketName, prefix string) <-chan minio.ObjectInfo {
	return s.client.ListObjects(ctx, bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
}
