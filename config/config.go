// Package config loads runtime configuration and initializes the backing
// services.
package config

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tensorfleet/control-plane/registry"
	"github.com/tensorfleet/control-plane/storage"
)

// Config holds all runtime configuration. Flags take precedence over
// environment variables; both fall back to development defaults.
type Config struct {
	Port string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	WorkerNamespace  string
	WorkerDeployment string

	LogLevel string
}

// Load parses flags and environment variables.
func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Port, "port", envOr("PORT", "8080"), "HTTP listen port")
	flag.StringVar(&cfg.DatabaseURL, "database-url", envOr("DATABASE_URL", "host=localhost user=tensorfleet password=tensorfleet dbname=tensorfleet port=5432 sslmode=disable"), "PostgreSQL DSN")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", envOr("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", envIntOr("REDIS_DB", 0), "Redis database number")
	flag.StringVar(&cfg.MinioEndpoint, "minio-endpoint", envOr("MINIO_ENDPOINT", "localhost:9000"), "MinIO endpoint")
	flag.StringVar(&cfg.MinioAccessKey, "minio-access-key", envOr("MINIO_ACCESS_KEY", "minioadmin"), "MinIO access key")
	flag.StringVar(&cfg.MinioSecretKey, "minio-secret-key", envOr("MINIO_SECRET_KEY", "minioadmin"), "MinIO secret key")
	flag.BoolVar(&cfg.MinioUseSSL, "minio-use-ssl", envOr("MINIO_USE_SSL", "false") == "true", "Use TLS for MinIO")
	flag.StringVar(&cfg.WorkerNamespace, "worker-namespace", envOr("WORKER_NAMESPACE", "tensorfleet"), "Kubernetes namespace of the worker deployment")
	flag.StringVar(&cfg.WorkerDeployment, "worker-deployment", envOr("WORKER_DEPLOYMENT", "training-worker"), "Name of the worker deployment")
	flag.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "Log level")
	flag.Parse()

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// SetupLogging configures the process-wide logrus settings.
func (c *Config) SetupLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
}

// InitDB opens the PostgreSQL connection, configures pooling and migrates
// the schema.
func (c *Config) InitDB() (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(c.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&registry.JobRecord{}, &storage.ModelRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logrus.Info("Connected to PostgreSQL")
	return db, nil
}

// InitRedis connects to Redis. An unreachable Redis is logged but not fatal
// at startup: the queue reconnects on first use.
func (c *Config) InitRedis() *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).Warn("Redis unreachable at startup")
	} else {
		logrus.Info("Connected to Redis")
	}
	return client
}

// InitBlobStore connects to MinIO.
func (c *Config) InitBlobStore() (*storage.BlobStore, error) {
	return storage.NewBlobStore(storage.BlobConfig{
		Endpoint:  c.MinioEndpoint,
		AccessKey: c.MinioAccessKey,
		SecretKey: c.MinioSecretKey,
		UseSSL:    c.MinioUseSSL,
	})
}
