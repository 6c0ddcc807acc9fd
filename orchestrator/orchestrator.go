package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tensorfleet/control-plane/metrics"
	"github.com/tensorfleet/control-plane/models"
	"github.com/tensorfleet/control-plane/queue"
	"github.com/tensorfleet/control-plane/registry"
	"github.com/tensorfleet/control-plane/storage"
)

// requiredHyperparameters are checked in order so the first missing key is
// the one reported.
var requiredHyperparameters = []string{"learning_rate", "batch_size", "optimizer"}

const (
	defaultNumWorkers = 1
	defaultEpochs     = 10
)

// Provisioner creates the per-job storage namespaces before the job record
// exists.
type Provisioner interface {
	ProvisionJobBuckets(ctx context.Context, jobID string) (modelBucket, checkpointBucket string, err error)
}

// ModelCatalog is the persisted catalog of saved models.
type ModelCatalog interface {
	FindByJobID(ctx context.Context, jobID string) (*storage.ModelRecord, error)
	Save(ctx context.Context, rec *storage.ModelRecord) error
}

// Orchestrator owns the job lifecycle: submission, status reconciliation,
// cancellation and the at-most-once auto-save of completed models.
type Orchestrator struct {
	store   registry.Store
	queue   queue.Queue
	blobs   Provisioner
	catalog ModelCatalog
	clock   clock.Clock
	log     *logrus.Entry

	saveMu    sync.Mutex
	saveLocks map[string]*sync.Mutex
}

func New(store registry.Store, q queue.Queue, blobs Provisioner, catalog ModelCatalog) *Orchestrator {
	return &Orchestrator{
		store:     store,
		queue:     q,
		blobs:     blobs,
		catalog:   catalog,
		clock:     clock.New(),
		log:       logrus.WithField("component", "orchestrator"),
		saveLocks: make(map[string]*sync.Mutex),
	}
}

// WithClock replaces the wall clock, for tests.
func (o *Orchestrator) WithClock(c clock.Clock) *Orchestrator {
	o.clock = c
	return o
}

func validate(req *models.JobSubmitRequest) error {
	if req.ModelType == "" {
		return missingField("model_type")
	}
	if req.DatasetPath == "" {
		return missingField("dataset_path")
	}
	if req.JobName == "" {
		return missingField("job_name")
	}
	if len(req.Hyperparameters) == 0 {
		return &ValidationError{Message: "Missing hyperparameters"}
	}
	for _, key := range requiredHyperparameters {
		if _, ok := req.Hyperparameters[key]; !ok {
			return missingHyperparameter(key)
		}
	}
	return nil
}

// Submit validates the request, provisions the job's storage namespaces,
// enqueues the training task and records the job as QUEUED. Validation
// failures leave no trace in any backend.
func (o *Orchestrator) Submit(ctx context.Context, req *models.JobSubmitRequest) (*models.JobView, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	numWorkers := req.NumWorkers
	if numWorkers <= 0 {
		numWorkers = defaultNumWorkers
	}
	epochs := req.Epochs
	if epochs <= 0 {
		epochs = defaultEpochs
	}

	jobID := uuid.New().String()

	modelBucket, checkpointBucket, err := o.blobs.ProvisionJobBuckets(ctx, jobID)
	if err != nil {
		return nil, &StorageError{Op: "provision buckets", Err: err}
	}

	taskID, err := o.queue.Enqueue(ctx, queue.TaskPayload{
		JobID:            jobID,
		JobName:          req.JobName,
		Description:      req.Description,
		ModelType:        req.ModelType,
		DatasetPath:      req.DatasetPath,
		NumWorkers:       numWorkers,
		Epochs:           epochs,
		Hyperparameters:  req.Hyperparameters,
		TrainingConfig:   req.TrainingConfig,
		Metadata:         req.Metadata,
		ModelBucket:      modelBucket,
		CheckpointBucket: checkpointBucket,
	})
	if err != nil {
		o.log.WithError(err).Error("Failed to enqueue training task")
		return nil, fmt.Errorf("%w: task queue unreachable", ErrServiceUnavailable)
	}

	rec := &registry.JobRecord{
		JobID:            jobID,
		JobName:          req.JobName,
		Description:      req.Description,
		ModelType:        req.ModelType,
		DatasetPath:      req.DatasetPath,
		Hyperparameters:  marshalJSON(req.Hyperparameters),
		TrainingConfig:   marshalJSON(req.TrainingConfig),
		Metadata:         marshalJSON(req.Metadata),
		NumWorkers:       numWorkers,
		Epochs:           epochs,
		ModelBucket:      modelBucket,
		CheckpointBucket: checkpointBucket,
		TaskID:           taskID,
		Status:           models.StatusQueued,
		CreatedAt:        o.clock.Now(),
	}
	if err := o.store.Create(ctx, rec); err != nil {
		return nil, &StorageError{Op: "create job record", Err: err}
	}

	metrics.JobSubmissions.Inc()
	o.log.WithFields(logrus.Fields{
		"job_id":  jobID,
		"task_id": taskID,
	}).Info("Submitted training job")

	return buildView(rec), nil
}

// Status returns the job's reconciled state.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*models.JobView, error) {
	rec, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	rec, err = o.reconcile(ctx, rec)
	if err != nil {
		return nil, err
	}
	return buildView(rec), nil
}

// List returns all jobs newest-first, each reconciled against the queue. A
// reconciliation failure on one job does not fail the listing; the job's
// last recorded state is returned instead.
func (o *Orchestrator) List(ctx context.Context) ([]*models.JobView, error) {
	recs, err := o.store.List(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list jobs", Err: err}
	}

	views := make([]*models.JobView, 0, len(recs))
	for _, rec := range recs {
		reconciled, err := o.reconcile(ctx, rec)
		if err != nil {
			o.log.WithError(err).WithField("job_id", rec.JobID).Warn("Failed to reconcile job during listing")
			reconciled = rec
		}
		views = append(views, buildView(reconciled))
	}
	return views, nil
}

// Cancel revokes the job's task and marks the job CANCELLED. Cancelling a
// job already in a terminal state changes nothing and reports the state it
// is in.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*models.JobView, error) {
	rec, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if models.IsTerminal(rec.Status) {
		return buildView(rec), nil
	}

	if rec.TaskID != "" {
		if err := o.queue.Revoke(ctx, rec.TaskID); err != nil {
			// Revocation is best-effort: the record still moves to
			// CANCELLED and a finished worker result is ignored.
			o.log.WithError(err).WithField("job_id", jobID).Warn("Failed to revoke task")
		}
	}

	if err := o.store.MarkCancelled(ctx, jobID, o.clock.Now()); err != nil {
		return nil, &StorageError{Op: "cancel job", Err: err}
	}

	o.log.WithField("job_id", jobID).Info("Cancelled training job")
	return o.Status(ctx, jobID)
}

// UpdateMetrics records worker-reported training progress for a running job.
func (o *Orchestrator) UpdateMetrics(ctx context.Context, jobID string, loss, accuracy float64, completed, total int) error {
	if err := o.store.UpdateProgress(ctx, jobID, loss, accuracy, completed, total); err != nil {
		return err
	}
	metrics.TrainingLoss.WithLabelValues(jobID).Set(loss)
	metrics.TrainingAccuracy.WithLabelValues(jobID).Set(accuracy)
	return nil
}

// reconcile folds the queue's view of the task into the job record. Terminal
// records are never modified again; the only follow-up work on a terminal
// record is retrying a pending auto-save.
func (o *Orchestrator) reconcile(ctx context.Context, rec *registry.JobRecord) (*registry.JobRecord, error) {
	if models.IsTerminal(rec.Status) {
		if rec.Status == models.StatusCompleted && !rec.ModelSaved {
			o.triggerAutoSave(rec.JobID)
		}
		return rec, nil
	}
	if rec.TaskID == "" {
		return rec, nil
	}

	st, err := o.queue.Status(ctx, rec.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task status: %w", err)
	}

	switch st.State {
	case queue.StatePending:
		if rec.Status != models.StatusQueued {
			if err := o.store.UpdateStatus(ctx, rec.JobID, models.StatusQueued); err != nil {
				return nil, err
			}
		}
		rec.Status = models.StatusQueued
	case queue.StateRunning:
		if rec.Status != models.StatusRunning {
			now := o.clock.Now()
			if err := o.store.MarkStarted(ctx, rec.JobID, now); err != nil {
				return nil, err
			}
			rec.StartedAt = &now
		}
		rec.Status = models.StatusRunning
	case queue.StateSuccess:
		now := o.clock.Now()
		if err := o.store.MarkCompleted(ctx, rec.JobID, st.Result, now); err != nil {
			return nil, err
		}
		rec.Status = models.StatusCompleted
		rec.Result = st.Result
		rec.CompletedAt = &now
		metrics.JobCompletions.Inc()
		o.triggerAutoSave(rec.JobID)
	case queue.StateFailure:
		now := o.clock.Now()
		if err := o.store.MarkFailed(ctx, rec.JobID, st.Error, now); err != nil {
			return nil, err
		}
		rec.Status = models.StatusFailed
		rec.Error = st.Error
		rec.FailedAt = &now
		metrics.JobFailures.Inc()
	case queue.StateRevoked:
		now := o.clock.Now()
		if err := o.store.MarkCancelled(ctx, rec.JobID, now); err != nil {
			return nil, err
		}
		rec.Status = models.StatusCancelled
		rec.CancelledAt = &now
	}
	return rec, nil
}

// AutoSaveModel persists the completed job's model to the catalog exactly
// once. The second and every later call returns the model created by the
// first, with created=false. Callers racing on the same job serialize on a
// per-job lock; the catalog's unique job index backstops races across
// processes.
func (o *Orchestrator) AutoSaveModel(ctx context.Context, jobID string) (*storage.ModelRecord, bool, error) {
	lock := o.saveLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if rec.Status != models.StatusCompleted {
		return nil, false, &ValidationError{Message: fmt.Sprintf("Job %s is not completed", jobID)}
	}

	existing, err := o.catalog.FindByJobID(ctx, jobID)
	if err == nil {
		if !rec.ModelSaved {
			if err := o.store.MarkModelSaved(ctx, jobID); err != nil {
				o.log.WithError(err).WithField("job_id", jobID).Warn("Failed to flag model as saved")
			}
		}
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrModelNotFound) {
		return nil, false, &StorageError{Op: "lookup model", Err: err}
	}

	model := &storage.ModelRecord{
		JobID:         jobID,
		Name:          rec.JobName,
		ModelType:     rec.ModelType,
		DatasetPath:   rec.DatasetPath,
		FinalLoss:     rec.CurrentLoss,
		FinalAccuracy: rec.CurrentAccuracy,
		CreatedAt:     o.clock.Now(),
	}
	if err := o.catalog.Save(ctx, model); err != nil {
		return nil, false, &StorageError{Op: "save model", Err: err}
	}
	if err := o.store.MarkModelSaved(ctx, jobID); err != nil {
		o.log.WithError(err).WithField("job_id", jobID).Warn("Failed to flag model as saved")
	}

	metrics.ModelsSaved.Inc()
	o.log.WithFields(logrus.Fields{
		"job_id":   jobID,
		"model_id": model.ModelID,
	}).Info("Auto-saved model for completed job")
	return model, true, nil
}

// triggerAutoSave kicks off the save in the background so the read path that
// observed completion does not block on the object store.
func (o *Orchestrator) triggerAutoSave(jobID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, _, err := o.AutoSaveModel(ctx, jobID); err != nil {
			o.log.WithError(err).WithField("job_id", jobID).Error("Background model auto-save failed")
		}
	}()
}

func (o *Orchestrator) saveLock(jobID string) *sync.Mutex {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()
	lock, ok := o.saveLocks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		o.saveLocks[jobID] = lock
	}
	return lock
}

func buildView(rec *registry.JobRecord) *models.JobView {
	view := &models.JobView{
		JobID:           rec.JobID,
		JobName:         rec.JobName,
		ModelType:       rec.ModelType,
		DatasetPath:     rec.DatasetPath,
		Status:          rec.Status,
		TaskID:          rec.TaskID,
		NumWorkers:      rec.NumWorkers,
		Epochs:          rec.Epochs,
		CompletedTasks:  rec.CompletedTasks,
		TotalTasks:      rec.TotalTasks,
		CurrentLoss:     rec.CurrentLoss,
		CurrentAccuracy: rec.CurrentAccuracy,
		Result:          rec.Result,
		Error:           rec.Error,
		CreatedAt:       rec.CreatedAt,
		StartedAt:       rec.StartedAt,
		CompletedAt:     rec.CompletedAt,
		FailedAt:        rec.FailedAt,
		CancelledAt:     rec.CancelledAt,
	}
	if rec.Hyperparameters != "" {
		var hp map[string]interface{}
		if err := json.Unmarshal([]byte(rec.Hyperparameters), &hp); err == nil {
			view.Hyperparameters = hp
		}
	}
	switch {
	case rec.Status == models.StatusCompleted:
		view.Progress = 100
	case rec.TotalTasks > 0:
		view.Progress = rec.CompletedTasks * 100 / rec.TotalTasks
	}
	return view
}

func marshalJSON(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}
