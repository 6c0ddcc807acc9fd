package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakePutter struct {
	mu       sync.Mutex
	failures int
	puts     int
	objects  map[string][]byte
}

func newFakePutter(failures int) *fakePutter {
	return &fakePutter{failures: failures, objects: make(map[string][]byte)}
}

func (p *fakePutter) PutObject(ctx context.Context, bucket, object string, data []byte, contentType string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.puts++
	if p.failures > 0 {
		p.failures--
		return "", errors.New("connection reset")
	}
	p.objects[bucket+"/"+object] = data
	return "s3://" + bucket + "/" + object, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ModelRecord{}))
	return db
}

func TestModelStoreSave(t *testing.T) {
	putter := newFakePutter(0)
	store := NewModelStore(newTestDB(t), putter)

	rec := &ModelRecord{
		JobID:         "job-1",
		Name:          "mnist-classifier",
		ModelType:     "cnn",
		DatasetPath:   "s3://datasets/mnist",
		FinalLoss:     0.03,
		FinalAccuracy: 0.97,
	}
	require.NoError(t, store.Save(context.Background(), rec))

	assert.NotEmpty(t, rec.ModelID)
	assert.NotEmpty(t, rec.Checksum)
	assert.Equal(t, "s3://models/"+rec.ModelID+"/manifest.json", rec.BlobPath)

	found, err := store.FindByJobID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ModelID, found.ModelID)
	assert.Equal(t, 0.97, found.FinalAccuracy)
}

func TestModelStoreSaveRetriesUpload(t *testing.T) {
	putter := newFakePutter(2)
	store := NewModelStore(newTestDB(t), putter)

	rec := &ModelRecord{JobID: "job-1", Name: "retrying"}
	require.NoError(t, store.Save(context.Background(), rec))
	assert.Equal(t, 3, putter.puts)
	assert.NotEmpty(t, rec.BlobPath)
}

func TestModelStoreSaveGivesUp(t *testing.T) {
	putter := newFakePutter(10)
	store := NewModelStore(newTestDB(t), putter)

	err := store.Save(context.Background(), &ModelRecord{JobID: "job-1"})
	require.Error(t, err)

	// No catalog row without a manifest.
	_, err = store.FindByJobID(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestModelStoreUniqueJob(t *testing.T) {
	store := NewModelStore(newTestDB(t), newFakePutter(0))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &ModelRecord{JobID: "job-1", Name: "first"}))
	err := store.Save(ctx, &ModelRecord{JobID: "job-1", Name: "second"})
	assert.Error(t, err, "second model for the same job violates the unique index")
}

func TestModelStoreFindMissing(t *testing.T) {
	store := NewModelStore(newTestDB(t), newFakePutter(0))
	_, err := store.FindByJobID(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestModelStoreList(t *testing.T) {
	store := NewModelStore(newTestDB(t), newFakePutter(0))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, &ModelRecord{JobID: "job-1", CreatedAt: base}))
	require.NoError(t, store.Save(ctx, &ModelRecord{JobID: "job-2", CreatedAt: base.Add(time.Minute)}))

	recs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "job-2", recs[0].JobID)
	assert.Equal(t, "job-1", recs[1].JobID)
}
