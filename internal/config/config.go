package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all worker configuration.
type Config struct {
	Environment   string
	AWS           AWSConfig
	Worker        WorkerConfig
	Observability ObservabilityConfig
}

// AWSConfig holds AWS-specific configuration.
type AWSConfig struct {
	Region         string
	SegmentBucket  string
	JobsQueueURL   string
	EventsQueueURL string
	DynamoDBTable  string
}

// WorkerConfig holds worker-specific configuration.
type WorkerConfig struct {
	MaxConcurrentJobs int
	BatchSize         int
	FrameFormat       string
	TempDir           string
	MetricsPort       int
	DropFatalJobs     bool
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string
}

// Default values
const (
	DefaultMetricsPort       = 2112
	DefaultMaxConcurrentJobs = 1
	DefaultBatchSize         = 10
	DefaultFrameFormat       = "jpg"
	DefaultTempDir           = "/tmp/segmenter"
	DefaultOTLPEndpoint      = "localhost:4317"
	DefaultRegion            = "us-west-2"
)

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Environment: getEnv("ENV", "dev"),
		AWS: AWSConfig{
			Region:         getEnv("AWS_REGION", DefaultRegion),
			SegmentBucket:  os.Getenv("SEGMENT_BUCKET"),
			JobsQueueURL:   os.Getenv("JOBS_QUEUE_URL"),
			EventsQueueURL: os.Getenv("EVENTS_QUEUE_URL"),
			DynamoDBTable:  os.Getenv("DYNAMODB_TABLE"),
		},
		Worker: WorkerConfig{
			MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", DefaultMaxConcurrentJobs),
			BatchSize:         getEnvInt("UPLOAD_BATCH_SIZE", DefaultBatchSize),
			FrameFormat:       getEnv("FRAME_FORMAT", DefaultFrameFormat),
			TempDir:           getEnv("TEMP_DIR", DefaultTempDir),
			MetricsPort:       getEnvInt("METRICS_PORT", DefaultMetricsPort),
			DropFatalJobs:     getEnvBool("DROP_FATAL_JOBS", false),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
		},
	}
}

// LoadWorker loads and validates configuration required for the worker.
func LoadWorker() (*Config, error) {
	cfg := Load()
	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateWorker validates configuration required for the worker service.
func (c *Config) ValidateWorker() error {
	var errs []string

	if c.AWS.SegmentBucket == "" {
		errs = append(errs, "SEGMENT_BUCKET is required")
	}
	if c.AWS.JobsQueueURL == "" {
		errs = append(errs, "JOBS_QUEUE_URL is required")
	}
	if c.AWS.EventsQueueURL == "" {
		errs = append(errs, "EVENTS_QUEUE_URL is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
