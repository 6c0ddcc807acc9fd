package models

import "time"

// Job lifecycle statuses tracked by the orchestrator.
const (
	StatusQueued    = "QUEUED"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Worker statuses reported through heartbeats. OFFLINE is derived from
// staleness, never reported by a worker itself.
const (
	WorkerStatusActive  = "ACTIVE"
	WorkerStatusBusy    = "BUSY"
	WorkerStatusIdle    = "IDLE"
	WorkerStatusOffline = "OFFLINE"
)

// IsTerminal reports whether a job status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// JobSubmitRequest is the payload accepted by POST /api/v1/jobs.
// Hyperparameters is kept as a free-form map so validation can report the
// first missing key by name.
type JobSubmitRequest struct {
	JobName         string                 `json:"job_name"`
	Description     string                 `json:"description"`
	ModelType       string                 `json:"model_type"`
	DatasetPath     string                 `json:"dataset_path"`
	Hyperparameters map[string]interface{} `json:"hyperparameters"`
	NumWorkers      int                    `json:"num_workers"`
	Epochs          int                    `json:"epochs"`
	TrainingConfig  map[string]interface{} `json:"training_config"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// JobView is the reconciled job record returned to callers.
type JobView struct {
	JobID           string                 `json:"job_id"`
	JobName         string                 `json:"job_name"`
	ModelType       string                 `json:"model_type"`
	DatasetPath     string                 `json:"dataset_path"`
	Status          string                 `json:"status"`
	TaskID          string                 `json:"task_id"`
	NumWorkers      int                    `json:"num_workers"`
	Epochs          int                    `json:"epochs"`
	Hyperparameters map[string]interface{} `json:"hyperparameters,omitempty"`
	Progress        int                    `json:"progress"`
	CompletedTasks  int                    `json:"completed_tasks"`
	TotalTasks      int                    `json:"total_tasks"`
	CurrentLoss     float64                `json:"current_loss"`
	CurrentAccuracy float64                `json:"current_accuracy"`
	Result          string                 `json:"result,omitempty"`
	Error           string                 `json:"error,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	FailedAt        *time.Time             `json:"failed_at,omitempty"`
	CancelledAt     *time.Time             `json:"cancelled_at,omitempty"`
}

// WorkerView is one worker's entry in the fleet view.
type WorkerView struct {
	WorkerID         string  `json:"worker_id"`
	Status           string  `json:"status"`
	CurrentTaskID    string  `json:"current_task_id"`
	CurrentJobID     string  `json:"current_job_id"`
	TasksCompleted   int     `json:"tasks_completed"`
	CPUUsage         float64 `json:"cpu_usage"`
	MemoryUsage      float64 `json:"memory_usage"`
	LastActivityTime int64   `json:"last_activity_time"`
	IsActive         bool    `json:"is_active"`
}

// FleetView aggregates the worker table for /worker-activity.
type FleetView struct {
	Workers       []WorkerView `json:"workers"`
	TotalWorkers  int          `json:"total_workers"`
	ActiveWorkers int          `json:"active_workers"`
	BusyWorkers   int          `json:"busy_workers"`
	Timestamp     int64        `json:"timestamp"`
}

// ScalingConfig is the process-wide worker scaling state.
type ScalingConfig struct {
	CurrentWorkers     int     `json:"current_workers"`
	DesiredWorkers     int     `json:"desired_workers"`
	MinWorkers         int     `json:"min_workers"`
	MaxWorkers         int     `json:"max_workers"`
	AutoScaleEnabled   bool    `json:"auto_scale_enabled"`
	ScaleDownThreshold float64 `json:"scale_down_threshold"`
	ScaleUpThreshold   float64 `json:"scale_up_threshold"`
}

// ModelView describes a persisted model for API responses.
type ModelView struct {
	ModelID       string    `json:"model_id"`
	JobID         string    `json:"job_id"`
	Name          string    `json:"name"`
	ModelType     string    `json:"model_type"`
	DatasetPath   string    `json:"dataset_path"`
	FinalLoss     float64   `json:"final_loss"`
	FinalAccuracy float64   `json:"final_accuracy"`
	BlobPath      string    `json:"blob_path"`
	CreatedAt     time.Time `json:"created_at"`
}
