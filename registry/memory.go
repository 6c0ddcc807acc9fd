package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tensorfleet/control-plane/models"
)

// MemoryStore is an in-process Store used by tests and single-instance
// deployments without a database. It implements the same per-field update
// semantics as the durable store.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*JobRecord
	seq  uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*JobRecord)}
}

func (s *MemoryStore) Create(ctx context.Context, rec *JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Status == "" {
		rec.Status = models.StatusQueued
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.seq++
	rec.ID = s.seq
	cp := *rec
	s.recs[rec.JobID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]*JobRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		cp := *rec
		recs = append(recs, &cp)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	return recs, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, jobID, status string) error {
	return s.update(jobID, func(rec *JobRecord) {
		rec.Status = status
	})
}

func (s *MemoryStore) MarkStarted(ctx context.Context, jobID string, at time.Time) error {
	return s.update(jobID, func(rec *JobRecord) {
		rec.Status = models.StatusRunning
		rec.StartedAt = &at
	})
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, jobID, result string, at time.Time) error {
	return s.update(jobID, func(rec *JobRecord) {
		rec.Status = models.StatusCompleted
		rec.Result = result
		rec.CompletedAt = &at
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, jobID, errMsg string, at time.Time) error {
	return s.update(jobID, func(rec *JobRecord) {
		rec.Status = models.StatusFailed
		rec.Error = errMsg
		rec.FailedAt = &at
	})
}

func (s *MemoryStore) MarkCancelled(ctx context.Context, jobID string, at time.Time) error {
	return s.update(jobID, func(rec *JobRecord) {
		rec.Status = models.StatusCancelled
		rec.CancelledAt = &at
	})
}

func (s *MemoryStore) MarkModelSaved(ctx context.Context, jobID string) error {
	return s.update(jobID, func(rec *JobRecord) {
		rec.ModelSaved = true
	})
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, jobID string, loss, accuracy float64, completed, total int) error {
	return s.update(jobID, func(rec *JobRecord) {
		rec.CurrentLoss = loss
		rec.CurrentAccuracy = accuracy
		rec.CompletedTasks = completed
		rec.TotalTasks = total
	})
}

func (s *MemoryStore) update(jobID string, fn func(*JobRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[jobID]
	if !ok {
		return ErrNotFound
	}
	fn(rec)
	return nil
}
