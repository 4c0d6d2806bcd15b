package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/framelift/segmenter/internal/metrics"
	"github.com/framelift/segmenter/internal/pipeline"
	"github.com/framelift/segmenter/pkg/models"
)

// SQS configuration constants
const (
	SQSMaxMessages       = 1
	SQSWaitTimeSeconds   = 20
	SQSVisibilityTimeout = 900 // 15 minutes
	RetryBackoffPeriod   = 5 * time.Second
)

var tracer = otel.Tracer("segmenter-consumer")

// QueueAPI defines the SQS operations the consumer needs.
type QueueAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Runner drives the segmentation pipeline for one job.
type Runner interface {
	Run(ctx context.Context, job models.Job, obs pipeline.Observer) (models.Result, error)
}

// StatusStore records job status transitions. Implementations are
// best-effort: a failed write never changes the ack decision.
type StatusStore interface {
	MarkProcessing(ctx context.Context, jobID, sourceURI string) error
	MarkCompleted(ctx context.Context, jobID string, segmentCount int) error
	MarkFailed(ctx context.Context, jobID, errorMessage string) error
}

// Consumer pulls segmentation jobs from SQS, drives the pipeline, and
// publishes one segment-created event per uploaded frame.
type Consumer struct {
	queue          QueueAPI
	pipeline       Runner
	statusStore    StatusStore
	jobsQueueURL   string
	eventsQueueURL string
	maxConcurrent  int
	dropFatalJobs  bool
	log            *slog.Logger
}

// Config holds consumer dependencies.
type Config struct {
	Queue          QueueAPI
	Pipeline       Runner
	StatusStore    StatusStore
	JobsQueueURL   string
	EventsQueueURL string
	MaxConcurrent  int
	DropFatalJobs  bool
	Logger         *slog.Logger
}

// New creates a Consumer with the given configuration.
func New(cfg *Config) *Consumer {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Consumer{
		queue:          cfg.Queue,
		pipeline:       cfg.Pipeline,
		statusStore:    cfg.StatusStore,
		jobsQueueURL:   cfg.JobsQueueURL,
		eventsQueueURL: cfg.EventsQueueURL,
		maxConcurrent:  maxConcurrent,
		dropFatalJobs:  cfg.DropFatalJobs,
		log:            cfg.Logger,
	}
}

// Run starts polling the jobs queue and blocks until the context is
// cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.log.InfoContext(ctx, "Starting queue polling",
		"queueURL", c.jobsQueueURL,
		"maxConcurrent", c.maxConcurrent,
	)

	sem := make(chan struct{}, c.maxConcurrent)
	var wg sync.WaitGroup

messageLoop:
	for {
		select {
		case <-ctx.Done():
			c.log.InfoContext(ctx, "Waiting for in-progress jobs to complete...")
			wg.Wait()
			c.log.InfoContext(ctx, "All jobs completed, shutting down")
			return
		default:
		}

		result, err := c.queue.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.jobsQueueURL),
			MaxNumberOfMessages: SQSMaxMessages,
			WaitTimeSeconds:     SQSWaitTimeSeconds,
			VisibilityTimeout:   SQSVisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				continue // Shutting down
			}
			c.log.ErrorContext(ctx, "Failed to receive messages", "error", err)
			time.Sleep(RetryBackoffPeriod)
			continue
		}

		for _, msg := range result.Messages {
			select {
			case sem <- struct{}{}:
				wg.Add(1)
				go func(msg types.Message) {
					defer wg.Done()
					defer func() { <-sem }()

					metrics.ActiveJobs.Inc()
					defer metrics.ActiveJobs.Dec()

					c.handleMessage(ctx, msg)
				}(msg)
			case <-ctx.Done():
				c.log.InfoContext(ctx, "Context cancelled, stopping message processing")
				break messageLoop
			}
		}
	}
}

// handleMessage processes one message and makes the ack decision:
// delete on success, leave for redelivery on transient failure. A fatal
// failure is also left pending unless the consumer was configured to drop
// fatal jobs, which deletes the message to stop pointless redelivery.
func (c *Consumer) handleMessage(ctx context.Context, msg types.Message) {
	err := c.processMessage(ctx, msg)
	if err == nil {
		if delErr := c.deleteMessage(ctx, msg); delErr != nil {
			c.log.ErrorContext(ctx, "Failed to delete message", "error", delErr)
		}
		metrics.RecordSuccess()
		return
	}

	fatal := models.IsFatal(err)
	metrics.RecordFailure(fatal)

	if fatal {
		c.log.ErrorContext(ctx, "Job failed permanently",
			"error", err,
			"messageId", safeStringDeref(msg.MessageId),
			"dropped", c.dropFatalJobs,
		)
		if c.dropFatalJobs {
			if delErr := c.deleteMessage(ctx, msg); delErr != nil {
				c.log.ErrorContext(ctx, "Failed to delete fatal message", "error", delErr)
			}
		}
		return
	}

	c.log.ErrorContext(ctx, "Job failed, leaving message for redelivery",
		"error", err,
		"messageId", safeStringDeref(msg.MessageId),
	)
}

func (c *Consumer) deleteMessage(ctx context.Context, msg types.Message) error {
	_, err := c.queue.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.jobsQueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	return err
}

func safeStringDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (c *Consumer) processMessage(ctx context.Context, msg types.Message) error {
	ctx, span := tracer.Start(ctx, "process-message")
	defer span.End()

	if msg.Body == nil {
		return models.Fatal(fmt.Errorf("%w: empty message body", models.ErrJobParseFailed))
	}

	var job models.Job
	if err := json.Unmarshal([]byte(*msg.Body), &job); err != nil {
		return models.Fatal(fmt.Errorf("%w: %v", models.ErrJobParseFailed, err))
	}
	if err := job.Validate(); err != nil {
		return models.Fatal(fmt.Errorf("%w: %v", models.ErrJobParseFailed, err))
	}

	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.uri", job.URI),
	)
	c.log.InfoContext(ctx, "Processing job", "jobId", job.ID, "uri", job.URI)

	if c.statusStore != nil {
		if err := c.statusStore.MarkProcessing(ctx, job.ID, job.URI); err != nil {
			c.log.WarnContext(ctx, "Failed to mark job processing", "jobId", job.ID, "error", err)
		}
	}

	start := time.Now()
	result, err := c.pipeline.Run(ctx, job, &jobObserver{consumer: c, ctx: ctx, job: job})
	if err != nil {
		if c.statusStore != nil {
			if failErr := c.statusStore.MarkFailed(ctx, job.ID, err.Error()); failErr != nil {
				c.log.ErrorContext(ctx, "Failed to mark job failed", "jobId", job.ID, "error", failErr)
			}
		}
		return err
	}

	duration := time.Since(start).Seconds()
	metrics.ProcessingDuration.Observe(duration)

	if c.statusStore != nil {
		if err := c.statusStore.MarkCompleted(ctx, job.ID, len(result)); err != nil {
			c.log.ErrorContext(ctx, "Failed to mark job completed", "jobId", job.ID, "error", err)
		}
	}

	c.log.InfoContext(ctx, "Job processed successfully",
		"jobId", job.ID,
		"segments", len(result),
		"durationSeconds", duration,
	)
	return nil
}

// jobObserver bridges pipeline notifications to downstream events. Segment
// event publishing is best-effort: a publish failure is logged and counted
// but never alters the ack decision.
type jobObserver struct {
	consumer *Consumer
	ctx      context.Context
	job      models.Job
}

func (o *jobObserver) OnSegment(segment models.Segment) {
	event := models.SegmentEvent{
		VideoID:    o.job.ID,
		SegmentIdx: segment.Index,
		SegmentURI: segment.URI,
		FPS:        segment.FrameRate,
	}

	body, err := json.Marshal(event)
	if err != nil {
		o.consumer.log.ErrorContext(o.ctx, "Failed to encode segment event", "jobId", o.job.ID, "error", err)
		metrics.EventPublishFailures.Inc()
		return
	}

	_, err = o.consumer.queue.SendMessage(o.ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(o.consumer.eventsQueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		o.consumer.log.ErrorContext(o.ctx, "Failed to publish segment event",
			"jobId", o.job.ID,
			"segmentIdx", segment.Index,
			"error", err,
		)
		metrics.EventPublishFailures.Inc()
		return
	}

	o.consumer.log.DebugContext(o.ctx, "Published segment event",
		"jobId", o.job.ID,
		"segmentIdx", segment.Index,
	)
}

func (o *jobObserver) OnError(err error) {
	o.consumer.log.ErrorContext(o.ctx, "Pipeline error", "jobId", o.job.ID, "error", err)
}

func (o *jobObserver) OnEnd(result models.Result) {
	o.consumer.log.InfoContext(o.ctx, "Pipeline finished", "jobId", o.job.ID, "segments", len(result))
}
