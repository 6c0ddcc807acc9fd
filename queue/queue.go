package queue

import "context"

// Task states reported by the queue backend. PENDING is also returned for
// unknown task ids: a task that was never picked up is indistinguishable
// from one that does not exist yet.
const (
	StatePending = "PENDING"
	StateRunning = "RUNNING"
	StateSuccess = "SUCCESS"
	StateFailure = "FAILURE"
	StateRevoked = "REVOKED"
)

// TaskPayload is the unit of work handed to a worker executor. It carries
// the full job spec plus the storage namespaces provisioned for the job.
type TaskPayload struct {
	TaskID           string                 `json:"task_id"`
	JobID            string                 `json:"job_id"`
	JobName          string                 `json:"job_name"`
	Description      string                 `json:"description"`
	ModelType        string                 `json:"model_type"`
	DatasetPath      string                 `json:"dataset_path"`
	NumWorkers       int                    `json:"num_workers"`
	Epochs           int                    `json:"epochs"`
	Hyperparameters  map[string]interface{} `json:"hyperparameters"`
	TrainingConfig   map[string]interface{} `json:"training_config"`
	Metadata         map[string]interface{} `json:"metadata"`
	ModelBucket      string                 `json:"model_bucket"`
	CheckpointBucket string                 `json:"checkpoint_bucket"`
}

// TaskStatus is the execution state of a task as last reported by a worker.
type TaskStatus struct {
	State  string `json:"state"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Queue decouples job submission from execution. Enqueue delivers each task
// to exactly one worker under normal operation; Revoke is a best-effort
// signal and the worker may finish the task regardless.
type Queue interface {
	Enqueue(ctx context.Context, payload TaskPayload) (string, error)
	Status(ctx context.Context, taskID string) (TaskStatus, error)
	Revoke(ctx context.Context, taskID string) error
}
