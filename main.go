package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/tensorfleet/control-plane/config"
	"github.com/tensorfleet/control-plane/fleet"
	"github.com/tensorfleet/control-plane/handlers"
	"github.com/tensorfleet/control-plane/k8s"
	"github.com/tensorfleet/control-plane/monitor"
	"github.com/tensorfleet/control-plane/orchestrator"
	"github.com/tensorfleet/control-plane/queue"
	"github.com/tensorfleet/control-plane/registry"
	"github.com/tensorfleet/control-plane/storage"
)

func main() {
	cfg := config.Load()
	cfg.SetupLogging()

	db, err := cfg.InitDB()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}

	redisClient := cfg.InitRedis()
	defer redisClient.Close()

	blobs, err := cfg.InitBlobStore()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize object storage")
	}

	store := registry.NewGormStore(db)
	taskQueue := queue.NewRedisQueue(redisClient)
	catalog := storage.NewModelStore(db, blobs)
	orch := orchestrator.New(store, taskQueue, blobs, catalog)

	clk := clock.New()
	fleetMgr := fleet.NewManager(clk)

	var scaler fleet.Scaler
	k8sClient, err := k8s.NewClient(cfg.WorkerNamespace, cfg.WorkerDeployment)
	if err != nil {
		logrus.WithError(err).Warn("Kubernetes unavailable, scaling operations will be recorded only")
		scaler = noopScaler{}
	} else {
		scaler = k8sClient
	}
	autoscaler := fleet.NewAutoscaler(scaler, fleetMgr, clk)
	autoscaler.Start()
	defer autoscaler.Stop()

	jobMonitor := monitor.NewJobMonitor(orch, clk)
	jobMonitor.Start()
	defer jobMonitor.Stop()

	h := handlers.NewHandler(orch, fleetMgr, autoscaler, catalog)
	router := handlers.NewRouter(h)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logrus.Infof("TensorFleet control plane listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Forced shutdown")
	}
	logrus.Info("Server exited")
}

// noopScaler accepts scale targets without a backend. Used when the process
// runs outside a cluster.
type noopScaler struct{}

func (noopScaler) SetReplicas(ctx context.Context, n int) error {
	logrus.WithField("replicas", n).Info("Recorded scale target without cluster backend")
	return nil
}
