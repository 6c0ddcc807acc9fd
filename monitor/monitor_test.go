package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorfleet/control-plane/models"
)

type fakeChecker struct {
	mu    sync.Mutex
	calls int
	views []*models.JobView
}

func (c *fakeChecker) List(ctx context.Context) ([]*models.JobView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.views, nil
}

func (c *fakeChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestMonitorSweeps(t *testing.T) {
	clk := clock.NewMock()
	checker := &fakeChecker{
		views: []*models.JobView{
			{JobID: "j1", Status: models.StatusRunning},
			{JobID: "j2", Status: models.StatusCompleted},
		},
	}

	m := NewJobMonitor(checker, clk)
	m.Start()
	defer m.Stop()

	// Let the loop install its ticker before advancing time.
	time.Sleep(10 * time.Millisecond)
	clk.Add(defaultInterval)

	require.Eventually(t, func() bool {
		return checker.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	clk.Add(defaultInterval)
	require.Eventually(t, func() bool {
		return checker.callCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitorStops(t *testing.T) {
	clk := clock.NewMock()
	checker := &fakeChecker{}

	m := NewJobMonitor(checker, clk)
	m.Start()
	m.Stop()

	before := checker.callCount()
	clk.Add(10 * defaultInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, checker.callCount())
}
