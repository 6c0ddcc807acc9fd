package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tensorfleet/control-plane/fleet"
	"github.com/tensorfleet/control-plane/metrics"
	"github.com/tensorfleet/control-plane/middleware"
	"github.com/tensorfleet/control-plane/models"
	"github.com/tensorfleet/control-plane/orchestrator"
	"github.com/tensorfleet/control-plane/registry"
	"github.com/tensorfleet/control-plane/storage"
)

// Handler holds the HTTP handler dependencies.
type Handler struct {
	orch       *orchestrator.Orchestrator
	fleet      *fleet.Manager
	autoscaler *fleet.Autoscaler
	catalog    *storage.ModelStore
	log        *logrus.Entry
}

func NewHandler(orch *orchestrator.Orchestrator, fm *fleet.Manager, as *fleet.Autoscaler, catalog *storage.ModelStore) *Handler {
	return &Handler{
		orch:       orch,
		fleet:      fm,
		autoscaler: as,
		catalog:    catalog,
		log:        logrus.WithField("component", "handlers"),
	}
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.UserIDMiddleware())
	router.Use(middleware.RequestLogger())

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", h.SubmitJob)
			jobs.GET("", h.ListJobs)
			jobs.GET("/:id", h.GetJobStatus)
			jobs.DELETE("/:id", h.CancelJob)
			jobs.POST("/:id/metrics", h.UpdateJobMetrics)
			jobs.POST("/:id/auto-save-model", h.SaveModel)
		}

		v1.GET("/models", h.ListModels)
		v1.GET("/worker-activity", h.WorkerActivity)
		v1.POST("/workers/:id/heartbeat", h.WorkerHeartbeat)

		scaling := v1.Group("/scaling")
		{
			scaling.GET("", h.GetScalingConfig)
			scaling.POST("/scale-up", h.ScaleUp)
			scaling.POST("/scale-down", h.ScaleDown)
			scaling.POST("/scale-workers", h.ScaleToTarget)
			scaling.POST("/auto-shrink", h.SetAutoScale)
		}
	}

	return router
}

// HealthCheck returns service liveness
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "tensorfleet-control-plane",
		"timestamp": time.Now().Unix(),
	})
}

// SubmitJob validates and enqueues a new training job.
func (h *Handler) SubmitJob(c *gin.Context) {
	var req models.JobSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	view, err := h.orch.Submit(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     view.JobID,
		"task_id":    view.TaskID,
		"job_name":   view.JobName,
		"model_type": view.ModelType,
		"status":     view.Status,
		"message":    "Training job submitted successfully",
	})
}

// ListJobs returns all jobs newest-first.
func (h *Handler) ListJobs(c *gin.Context) {
	views, err := h.orch.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  views,
		"total": len(views),
	})
}

// GetJobStatus returns one job's reconciled state.
func (h *Handler) GetJobStatus(c *gin.Context) {
	view, err := h.orch.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CancelJob revokes a job's task and marks it cancelled.
func (h *Handler) CancelJob(c *gin.Context) {
	view, err := h.orch.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":  view.JobID,
		"status":  view.Status,
		"message": "Job cancellation processed",
	})
}

type jobMetricsRequest struct {
	Loss           float64 `json:"loss"`
	Accuracy       float64 `json:"accuracy"`
	CompletedTasks int     `json:"completed_tasks"`
	TotalTasks     int     `json:"total_tasks"`
}

// UpdateJobMetrics records worker-reported training progress.
func (h *Handler) UpdateJobMetrics(c *gin.Context) {
	var req jobMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	jobID := c.Param("id")
	if err := h.orch.UpdateMetrics(c.Request.Context(), jobID, req.Loss, req.Accuracy, req.CompletedTasks, req.TotalTasks); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "message": "Metrics updated"})
}

// SaveModel persists the completed job's model. Returns 201 when this call
// created the model, 200 when it already existed.
func (h *Handler) SaveModel(c *gin.Context) {
	model, created, err := h.orch.AutoSaveModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	message := "Model already saved"
	if created {
		status = http.StatusCreated
		message = "Model saved"
	}

	c.JSON(status, gin.H{
		"model_id": model.ModelID,
		"job_id":   model.JobID,
		"message":  message,
	})
}

// ListModels returns the saved-model catalog.
func (h *Handler) ListModels(c *gin.Context) {
	recs, err := h.catalog.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	views := make([]models.ModelView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, models.ModelView{
			ModelID:       rec.ModelID,
			JobID:         rec.JobID,
			Name:          rec.Name,
			ModelType:     rec.ModelType,
			DatasetPath:   rec.DatasetPath,
			FinalLoss:     rec.FinalLoss,
			FinalAccuracy: rec.FinalAccuracy,
			BlobPath:      rec.BlobPath,
			CreatedAt:     rec.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"models": views,
		"total":  len(views),
	})
}

// WorkerActivity returns the aggregated fleet view.
func (h *Handler) WorkerActivity(c *gin.Context) {
	c.JSON(http.StatusOK, h.fleet.Snapshot())
}

// WorkerHeartbeat records a worker's activity report. The worker identity
// comes from the URL; a worker_id in the body is ignored.
func (h *Handler) WorkerHeartbeat(c *gin.Context) {
	var hb fleet.Heartbeat
	if err := c.ShouldBindJSON(&hb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	hb.WorkerID = c.Param("id")

	h.fleet.Heartbeat(hb)
	c.JSON(http.StatusOK, gin.H{"worker_id": hb.WorkerID, "message": "Heartbeat recorded"})
}

// GetScalingConfig returns the current fleet scaling state.
func (h *Handler) GetScalingConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.autoscaler.Config())
}

// ScaleUp adds one worker.
func (h *Handler) ScaleUp(c *gin.Context) {
	cfg, err := h.autoscaler.ScaleUp(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// ScaleDown removes one worker.
func (h *Handler) ScaleDown(c *gin.Context) {
	cfg, err := h.autoscaler.ScaleDown(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type scaleTargetRequest struct {
	WorkerCount int `json:"worker_count"`
}

// ScaleToTarget moves the fleet to an explicit worker count.
func (h *Handler) ScaleToTarget(c *gin.Context) {
	var req scaleTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	cfg, err := h.autoscaler.ScaleTo(c.Request.Context(), req.WorkerCount)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type autoScaleRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutoScale enables or disables background scaling.
func (h *Handler) SetAutoScale(c *gin.Context) {
	var req autoScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	h.autoscaler.SetAutoScale(req.Enabled)
	c.JSON(http.StatusOK, h.autoscaler.Config())
}

// respondError maps domain errors to HTTP status codes.
func (h *Handler) respondError(c *gin.Context, err error) {
	var valErr *orchestrator.ValidationError
	var scaleErr *fleet.ScaleError

	switch {
	case errors.As(err, &valErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": valErr.Message})
	case errors.Is(err, registry.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, storage.ErrModelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
	case errors.Is(err, fleet.ErrOutOfBounds):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &scaleErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": scaleErr.Error()})
	default:
		h.log.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
