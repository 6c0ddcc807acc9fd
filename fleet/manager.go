// Package fleet tracks the worker pool through heartbeats and drives its
// size through the autoscaler.
package fleet

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/tensorfleet/control-plane/metrics"
	"github.com/tensorfleet/control-plane/models"
)

// StalenessWindow is how long a worker may go silent before the fleet view
// reports it OFFLINE. The worker's record is kept; a late heartbeat brings
// it back with its reported status.
const StalenessWindow = 30 * time.Second

// Heartbeat is the activity report a worker posts periodically and on every
// task transition.
type Heartbeat struct {
	WorkerID       string  `json:"worker_id"`
	Status         string  `json:"status"`
	CurrentTaskID  string  `json:"current_task_id"`
	CurrentJobID   string  `json:"current_job_id"`
	TasksCompleted int     `json:"tasks_completed"`
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsage    float64 `json:"memory_usage"`
}

type worker struct {
	Heartbeat
	lastSeen time.Time
}

// Manager is the in-memory worker table. State is rebuilt from heartbeats
// after a restart; workers report every few seconds.
type Manager struct {
	mu      sync.RWMutex
	workers map[string]*worker
	clock   clock.Clock
	log     *logrus.Entry
}

func NewManager(c clock.Clock) *Manager {
	return &Manager{
		workers: make(map[string]*worker),
		clock:   c,
		log:     logrus.WithField("component", "fleet"),
	}
}

// Heartbeat upserts the worker's entry and stamps it with the current time.
func (m *Manager) Heartbeat(hb Heartbeat) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[hb.WorkerID]
	if !ok {
		w = &worker{}
		m.workers[hb.WorkerID] = w
		metrics.WorkerRegistrations.Inc()
		m.log.WithField("worker_id", hb.WorkerID).Info("Registered new worker")
	}
	if hb.Status == "" {
		hb.Status = models.WorkerStatusActive
	}
	w.Heartbeat = hb
	w.lastSeen = m.clock.Now()
}

// Snapshot returns the fleet view at this instant. A worker whose last
// heartbeat is older than StalenessWindow is reported OFFLINE regardless of
// the status it last claimed.
func (m *Manager) Snapshot() models.FleetView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	view := models.FleetView{
		Workers:   make([]models.WorkerView, 0, len(m.workers)),
		Timestamp: now.Unix(),
	}

	for _, w := range m.workers {
		status := w.Status
		stale := now.Sub(w.lastSeen) > StalenessWindow
		if stale {
			status = models.WorkerStatusOffline
		}

		view.Workers = append(view.Workers, models.WorkerView{
			WorkerID:         w.WorkerID,
			Status:           status,
			CurrentTaskID:    w.CurrentTaskID,
			CurrentJobID:     w.CurrentJobID,
			TasksCompleted:   w.TasksCompleted,
			CPUUsage:         w.CPUUsage,
			MemoryUsage:      w.MemoryUsage,
			LastActivityTime: w.lastSeen.Unix(),
			IsActive:         !stale,
		})

		view.TotalWorkers++
		if !stale {
			view.ActiveWorkers++
			if status == models.WorkerStatusBusy {
				view.BusyWorkers++
			}
		}
	}

	metrics.ActiveWorkers.Set(float64(view.ActiveWorkers))
	return view
}

// Utilization is the fraction of the fleet currently busy. An empty fleet
// has zero utilization.
func (m *Manager) Utilization() float64 {
	view := m.Snapshot()
	if view.TotalWorkers == 0 {
		return 0
	}
	return float64(view.BusyWorkers) / float64(view.TotalWorkers)
}
