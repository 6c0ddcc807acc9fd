// Package monitor drives background reconciliation so job records converge
// even when nobody is polling the API.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/tensorfleet/control-plane/metrics"
	"github.com/tensorfleet/control-plane/models"
)

const defaultInterval = 2 * time.Second

// StatusChecker reconciles every job against the task queue and returns the
// resulting views. Reconciliation of a completed job also retries any
// pending model auto-save.
type StatusChecker interface {
	List(ctx context.Context) ([]*models.JobView, error)
}

// JobMonitor periodically sweeps all jobs through reconciliation.
type JobMonitor struct {
	checker  StatusChecker
	clock    clock.Clock
	interval time.Duration
	log      *logrus.Entry

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewJobMonitor(checker StatusChecker, c clock.Clock) *JobMonitor {
	return &JobMonitor{
		checker:  checker,
		clock:    c,
		interval: defaultInterval,
		log:      logrus.WithField("component", "job-monitor"),
		stopChan: make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (m *JobMonitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := m.clock.Ticker(m.interval)
		defer ticker.Stop()
		m.log.Infof("Job monitor started, sweeping every %v", m.interval)

		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stopChan:
				m.log.Info("Job monitor stopped")
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for the current sweep to finish.
func (m *JobMonitor) Stop() {
	close(m.stopChan)
	m.wg.Wait()
}

func (m *JobMonitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval*5)
	defer cancel()

	views, err := m.checker.List(ctx)
	if err != nil {
		m.log.WithError(err).Warn("Reconciliation sweep failed")
		return
	}

	active := 0
	for _, v := range views {
		if !models.IsTerminal(v.Status) {
			active++
		}
	}
	metrics.ActiveJobs.Set(float64(active))
}
