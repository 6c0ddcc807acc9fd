package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tensorfleet/control-plane/fleet"
	"github.com/tensorfleet/control-plane/models"
	"github.com/tensorfleet/control-plane/orchestrator"
	"github.com/tensorfleet/control-plane/queue"
	"github.com/tensorfleet/control-plane/registry"
	"github.com/tensorfleet/control-plane/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProvisioner struct{}

func (stubProvisioner) ProvisionJobBuckets(ctx context.Context, jobID string) (string, string, error) {
	return "models-" + jobID, "checkpoints-" + jobID, nil
}

type stubPutter struct{}

func (stubPutter) PutObject(ctx context.Context, bucket, object string, data []byte, contentType string) (string, error) {
	return "s3://" + bucket + "/" + object, nil
}

type stubScaler struct {
	err error
}

func (s *stubScaler) SetReplicas(ctx context.Context, n int) error {
	return s.err
}

type testEnv struct {
	router *gin.Engine
	queue  *queue.MemoryQueue
	fleet  *fleet.Manager
	clock  *clock.Mock
	scaler *stubScaler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&storage.ModelRecord{}))

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	store := registry.NewMemoryStore()
	q := queue.NewMemoryQueue()
	catalog := storage.NewModelStore(db, stubPutter{})
	orch := orchestrator.New(store, q, stubProvisioner{}, catalog).WithClock(clk)

	fleetMgr := fleet.NewManager(clk)
	scaler := &stubScaler{}
	autoscaler := fleet.NewAutoscaler(scaler, fleetMgr, clk)

	h := NewHandler(orch, fleetMgr, autoscaler, catalog)
	return &testEnv{
		router: NewRouter(h),
		queue:  q,
		fleet:  fleetMgr,
		clock:  clk,
		scaler: scaler,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func validSubmitBody() map[string]interface{} {
	return map[string]interface{}{
		"job_name":     "mnist-classifier",
		"model_type":   "cnn",
		"dataset_path": "s3://datasets/mnist",
		"hyperparameters": map[string]interface{}{
			"learning_rate": 0.001,
			"batch_size":    32,
			"optimizer":     "adam",
		},
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestSubmitJob(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", validSubmitBody())
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decode(t, w)
	assert.NotEmpty(t, resp["job_id"])
	assert.NotEmpty(t, resp["task_id"])
	assert.Equal(t, models.StatusQueued, resp["status"])
}

func TestSubmitJobValidation(t *testing.T) {
	env := newTestEnv(t)

	body := validSubmitBody()
	delete(body, "model_type")
	w := env.do(t, http.MethodPost, "/api/v1/jobs", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required field: model_type", decode(t, w)["error"])

	body = validSubmitBody()
	body["hyperparameters"] = map[string]interface{}{"learning_rate": 0.001}
	w = env.do(t, http.MethodPost, "/api/v1/jobs", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing hyperparameter: batch_size", decode(t, w)["error"])

	// A rejected submission never shows up in the listing.
	w = env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["total"])
}

func TestGetJobStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", validSubmitBody())
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode(t, w)["job_id"].(string)

	w = env.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, jobID, resp["job_id"])
	assert.Equal(t, models.StatusQueued, resp["status"])
}

func TestGetJobStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/jobs/no-such-job", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobsNewestFirst(t *testing.T) {
	env := newTestEnv(t)

	var ids []string
	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, "/api/v1/jobs", validSubmitBody())
		require.Equal(t, http.StatusAccepted, w.Code)
		ids = append(ids, decode(t, w)["job_id"].(string))
		env.clock.Add(time.Minute)
	}

	w := env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(3), resp["total"])

	jobs := resp["jobs"].([]interface{})
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].(map[string]interface{})["job_id"])
	assert.Equal(t, ids[0], jobs[2].(map[string]interface{})["job_id"])
}

func TestCancelJob(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", validSubmitBody())
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode(t, w)["job_id"].(string)

	w = env.do(t, http.MethodDelete, "/api/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusCancelled, decode(t, w)["status"])
}

func TestSaveModel(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", validSubmitBody())
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode(t, w)
	jobID := resp["job_id"].(string)
	taskID := resp["task_id"].(string)

	env.queue.Complete(taskID, "done")
	w = env.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The background save triggered by reconciliation may or may not win
	// the race with this call; either way a model exists afterwards.
	w = env.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/auto-save-model", nil)
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, w.Code)
	modelID := decode(t, w)["model_id"].(string)
	require.NotEmpty(t, modelID)

	// Repeating the call always reports the model saved first.
	w = env.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/auto-save-model", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, modelID, decode(t, w)["model_id"])

	w = env.do(t, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])
}

func TestSaveModelBeforeCompletion(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", validSubmitBody())
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode(t, w)["job_id"].(string)

	w = env.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/auto-save-model", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkerHeartbeatAndActivity(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/workers/worker-1/heartbeat", map[string]interface{}{
		"status": models.WorkerStatusBusy,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/workers/worker-2/heartbeat", map[string]interface{}{
		"status": models.WorkerStatusIdle,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/worker-activity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(2), resp["total_workers"])
	assert.Equal(t, float64(2), resp["active_workers"])
	assert.Equal(t, float64(1), resp["busy_workers"])
}

func TestWorkerHeartbeatPathIdentityWins(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/workers/worker-1/heartbeat", map[string]interface{}{
		"worker_id": "spoofed",
		"status":    models.WorkerStatusIdle,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "worker-1", decode(t, w)["worker_id"])

	view := env.fleet.Snapshot()
	require.Len(t, view.Workers, 1)
	assert.Equal(t, "worker-1", view.Workers[0].WorkerID)
}

func TestScalingEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/scaling", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["current_workers"])

	w = env.do(t, http.MethodPost, "/api/v1/scaling/scale-up", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["current_workers"])

	w = env.do(t, http.MethodPost, "/api/v1/scaling/scale-workers", map[string]interface{}{"worker_count": 7})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(7), resp["current_workers"])
	assert.Equal(t, float64(7), resp["desired_workers"])

	w = env.do(t, http.MethodPost, "/api/v1/scaling/scale-workers", map[string]interface{}{"worker_count": 50})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/scaling/auto-shrink", map[string]interface{}{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["auto_scale_enabled"])
}

func TestScalingBackendFailure(t *testing.T) {
	env := newTestEnv(t)
	env.scaler.err = errors.New("apiserver timeout")

	w := env.do(t, http.MethodPost, "/api/v1/scaling/scale-up", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	env.scaler.err = nil
	w = env.do(t, http.MethodGet, "/api/v1/scaling", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["current_workers"], "failed scale leaves config untouched")
}
