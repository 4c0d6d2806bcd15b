package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Configuration constants
const (
	DefaultCacheTTL     = 10 * time.Second
	DefaultCheckTimeout = 5 * time.Second
)

// Status represents the health check response.
type Status struct {
	Status    string                    `json:"status"`
	Service   string                    `json:"service"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks,omitempty"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// S3Client defines the S3 operations needed for health checks.
type S3Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// SQSClient defines the SQS operations needed for health checks.
type SQSClient interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Config holds health checker configuration.
type Config struct {
	ServiceName    string
	S3Client       S3Client
	SQSClient      SQSClient
	SegmentBucket  string
	JobsQueueURL   string
	EventsQueueURL string
	Logger         *slog.Logger
	CacheTTL       time.Duration
	CheckTimeout   time.Duration
}

// Checker reports the worker's dependency health: the segment bucket and
// both queues.
type Checker struct {
	config     *Config
	mu         sync.RWMutex
	lastCheck  time.Time
	lastStatus *Status
}

// NewChecker creates a health checker with the given configuration.
func NewChecker(config *Config) *Checker {
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.CheckTimeout == 0 {
		config.CheckTimeout = DefaultCheckTimeout
	}
	return &Checker{config: config}
}

// Check performs health checks on all dependencies. If deep is false, a
// cached result may be returned and no AWS calls are made.
func (c *Checker) Check(ctx context.Context, deep bool) *Status {
	if !deep {
		c.mu.RLock()
		if c.lastStatus != nil && time.Since(c.lastCheck) < c.config.CacheTTL {
			status := c.lastStatus
			c.mu.RUnlock()
			return status
		}
		c.mu.RUnlock()
	}

	status := &Status{
		Status:    "healthy",
		Service:   c.config.ServiceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	if deep {
		if c.config.S3Client != nil && c.config.SegmentBucket != "" {
			check := c.checkBucket(ctx)
			status.Checks["s3"] = check
			if check.Status != "healthy" {
				status.Status = "degraded"
			}
		}
		if c.config.SQSClient != nil && c.config.JobsQueueURL != "" {
			check := c.checkQueue(ctx, c.config.JobsQueueURL)
			status.Checks["jobs_queue"] = check
			if check.Status != "healthy" {
				status.Status = "degraded"
			}
		}
		if c.config.SQSClient != nil && c.config.EventsQueueURL != "" {
			check := c.checkQueue(ctx, c.config.EventsQueueURL)
			status.Checks["events_queue"] = check
			if check.Status != "healthy" {
				status.Status = "degraded"
			}
		}
	}

	c.mu.Lock()
	c.lastCheck = time.Now()
	c.lastStatus = status
	c.mu.Unlock()

	return status
}

func (c *Checker) checkBucket(ctx context.Context) ComponentCheck {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.config.CheckTimeout)
	defer cancel()

	_, err := c.config.S3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.config.SegmentBucket),
	})

	return componentCheck(time.Since(start), err)
}

func (c *Checker) checkQueue(ctx context.Context, queueURL string) ComponentCheck {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.config.CheckTimeout)
	defer cancel()

	_, err := c.config.SQSClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
		},
	})

	return componentCheck(time.Since(start), err)
}

func componentCheck(latency time.Duration, err error) ComponentCheck {
	if err != nil {
		return ComponentCheck{
			Status:  "unhealthy",
			Latency: latency.String(),
			Error:   err.Error(),
		}
	}
	return ComponentCheck{
		Status:  "healthy",
		Latency: latency.String(),
	}
}

// Handler returns an HTTP handler for basic health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.writeResponse(w, c.Check(r.Context(), false))
	}
}

// DeepHandler returns an HTTP handler that verifies AWS dependencies.
func (c *Checker) DeepHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.writeResponse(w, c.Check(r.Context(), true))
	}
}

func (c *Checker) writeResponse(w http.ResponseWriter, status *Status) {
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil && c.config.Logger != nil {
		c.config.Logger.Error("Failed to encode health check response", "error", err)
	}
}
