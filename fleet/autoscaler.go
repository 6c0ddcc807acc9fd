package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/tensorfleet/control-plane/metrics"
	"github.com/tensorfleet/control-plane/models"
)

// ErrOutOfBounds rejects a scale target outside [min, max].
var ErrOutOfBounds = errors.New("target worker count out of bounds")

// ScaleError wraps a backend failure while applying a new replica count.
// The scaling configuration is left unchanged when it occurs.
type ScaleError struct {
	Target int
	Err    error
}

func (e *ScaleError) Error() string {
	return fmt.Sprintf("failed to scale fleet to %d workers: %v", e.Target, e.Err)
}

func (e *ScaleError) Unwrap() error {
	return e.Err
}

// Scaler applies a desired replica count to the worker backend.
type Scaler interface {
	SetReplicas(ctx context.Context, n int) error
}

const (
	defaultMinWorkers         = 1
	defaultMaxWorkers         = 10
	defaultInitialWorkers     = 2
	defaultScaleUpThreshold   = 0.8
	defaultScaleDownThreshold = 0.3
	defaultEvaluateInterval   = 10 * time.Second
)

// Autoscaler sizes the worker fleet. Manual ScaleTo/ScaleUp/ScaleDown are
// always available; the background loop evaluates utilization against the
// thresholds when auto-scale is enabled.
type Autoscaler struct {
	mu     sync.Mutex
	cfg    models.ScalingConfig
	scaler Scaler
	fleet  *Manager
	clock  clock.Clock
	log    *logrus.Entry

	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewAutoscaler(scaler Scaler, fleet *Manager, c clock.Clock) *Autoscaler {
	return &Autoscaler{
		cfg: models.ScalingConfig{
			CurrentWorkers:     defaultInitialWorkers,
			DesiredWorkers:     defaultInitialWorkers,
			MinWorkers:         defaultMinWorkers,
			MaxWorkers:         defaultMaxWorkers,
			AutoScaleEnabled:   true,
			ScaleUpThreshold:   defaultScaleUpThreshold,
			ScaleDownThreshold: defaultScaleDownThreshold,
		},
		scaler:   scaler,
		fleet:    fleet,
		clock:    c,
		log:      logrus.WithField("component", "autoscaler"),
		interval: defaultEvaluateInterval,
		stopChan: make(chan struct{}),
	}
}

// Config returns a copy of the current scaling configuration.
func (a *Autoscaler) Config() models.ScalingConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// SetAutoScale turns the background evaluation on or off.
func (a *Autoscaler) SetAutoScale(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.AutoScaleEnabled = enabled
}

// ScaleTo moves the fleet to exactly target workers. On success current and
// desired both equal target. A backend failure leaves the configuration
// untouched.
func (a *Autoscaler) ScaleTo(ctx context.Context, target int) (models.ScalingConfig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if target < a.cfg.MinWorkers || target > a.cfg.MaxWorkers {
		return a.cfg, fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfBounds, target, a.cfg.MinWorkers, a.cfg.MaxWorkers)
	}

	if err := a.scaler.SetReplicas(ctx, target); err != nil {
		return a.cfg, &ScaleError{Target: target, Err: err}
	}

	direction := "none"
	switch {
	case target > a.cfg.CurrentWorkers:
		direction = "up"
	case target < a.cfg.CurrentWorkers:
		direction = "down"
	}
	if direction != "none" {
		metrics.ScaleOperations.WithLabelValues(direction).Inc()
	}

	a.log.WithFields(logrus.Fields{
		"from": a.cfg.CurrentWorkers,
		"to":   target,
	}).Info("Scaled worker fleet")

	a.cfg.CurrentWorkers = target
	a.cfg.DesiredWorkers = target
	return a.cfg, nil
}

// ScaleUp adds one worker. At max it is a no-op success.
func (a *Autoscaler) ScaleUp(ctx context.Context) (models.ScalingConfig, error) {
	cfg := a.Config()
	if cfg.CurrentWorkers >= cfg.MaxWorkers {
		return cfg, nil
	}
	return a.ScaleTo(ctx, cfg.CurrentWorkers+1)
}

// ScaleDown removes one worker. At min it is a no-op success.
func (a *Autoscaler) ScaleDown(ctx context.Context) (models.ScalingConfig, error) {
	cfg := a.Config()
	if cfg.CurrentWorkers <= cfg.MinWorkers {
		return cfg, nil
	}
	return a.ScaleTo(ctx, cfg.CurrentWorkers-1)
}

// decide returns the worker count the fleet should move to, or current when
// no change is warranted. Both thresholds are strict: utilization exactly at
// a threshold never triggers a move.
func decide(busy, total int, cfg models.ScalingConfig) int {
	if total == 0 {
		return cfg.CurrentWorkers
	}
	utilization := float64(busy) / float64(total)

	if utilization > cfg.ScaleUpThreshold && cfg.CurrentWorkers < cfg.MaxWorkers {
		return cfg.CurrentWorkers + 1
	}
	if utilization < cfg.ScaleDownThreshold && cfg.CurrentWorkers > cfg.MinWorkers {
		return cfg.CurrentWorkers - 1
	}
	return cfg.CurrentWorkers
}

// Start runs the evaluation loop until Stop is called.
func (a *Autoscaler) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := a.clock.Ticker(a.interval)
		defer ticker.Stop()
		a.log.Infof("Autoscaler started, evaluating every %v", a.interval)

		for {
			select {
			case <-ticker.C:
				a.evaluate()
			case <-a.stopChan:
				a.log.Info("Autoscaler stopped")
				return
			}
		}
	}()
}

// Stop terminates the evaluation loop and waits for it to exit.
func (a *Autoscaler) Stop() {
	close(a.stopChan)
	a.wg.Wait()
}

func (a *Autoscaler) evaluate() {
	cfg := a.Config()
	if !cfg.AutoScaleEnabled {
		return
	}

	view := a.fleet.Snapshot()
	target := decide(view.BusyWorkers, view.TotalWorkers, cfg)
	if target == cfg.CurrentWorkers {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := a.ScaleTo(ctx, target); err != nil {
		a.log.WithError(err).Warn("Autoscale evaluation failed to apply")
	}
}
