// Package metrics exposes the control plane's Prometheus instrumentation.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tensorfleet_job_submissions_total",
		Help: "Total number of training jobs submitted",
	})

	JobCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tensorfleet_job_completions_total",
		Help: "Total number of training jobs that completed successfully",
	})

	JobFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tensorfleet_job_failures_total",
		Help: "Total number of training jobs that failed",
	})

	ModelsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tensorfleet_models_saved_total",
		Help: "Total number of models auto-saved to the catalog",
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tensorfleet_active_jobs",
		Help: "Number of jobs currently queued or running",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tensorfleet_active_workers",
		Help: "Number of workers with a fresh heartbeat",
	})

	WorkerRegistrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tensorfleet_worker_registrations_total",
		Help: "Total number of workers seen for the first time",
	})

	ScaleOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorfleet_scale_operations_total",
		Help: "Total number of fleet scaling operations by direction",
	}, []string{"direction"})

	TrainingLoss = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tensorfleet_training_loss",
		Help: "Latest reported training loss per job",
	}, []string{"job_id"})

	TrainingAccuracy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tensorfleet_training_accuracy",
		Help: "Latest reported training accuracy per job",
	}, []string{"job_id"})
)

// Handler adapts the Prometheus scrape handler for gin routing.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
