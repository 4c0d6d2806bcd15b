package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/framelift/segmenter/internal/config"
	"github.com/framelift/segmenter/internal/consumer"
	"github.com/framelift/segmenter/internal/extract"
	"github.com/framelift/segmenter/internal/fetch"
	"github.com/framelift/segmenter/internal/health"
	"github.com/framelift/segmenter/internal/logger"
	"github.com/framelift/segmenter/internal/observability"
	"github.com/framelift/segmenter/internal/pipeline"
	"github.com/framelift/segmenter/internal/probe"
	"github.com/framelift/segmenter/internal/storage"
	"github.com/framelift/segmenter/internal/tempfs"
	"github.com/framelift/segmenter/internal/upload"
)

const (
	AWSConfigTimeout = 10 * time.Second
	ShutdownTimeout  = 5 * time.Second
)

func main() {
	log := logger.New()
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		logger.Info(context.Background(), log, "No .env file found, relying on system ENV variables")
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Error(context.Background(), log, "Invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer := observability.InitTracer(context.Background(), "segmenter-worker", cfg.Observability.OTLPEndpoint)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error(context.Background(), log, "Failed to shutdown tracer", "error", err)
		}
	}()

	awsCtx, awsCancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	defer awsCancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(awsCtx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error(context.Background(), log, "Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	s3Client := s3.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)

	var statusStore consumer.StatusStore
	if cfg.AWS.DynamoDBTable != "" {
		repo, err := storage.NewJobRepository(dynamodb.NewFromConfig(awsCfg), cfg.AWS.DynamoDBTable)
		if err != nil {
			logger.Error(context.Background(), log, "Failed to initialize job repository", "error", err)
			os.Exit(1)
		}
		statusStore = repo
	}

	pipe := pipeline.New(&pipeline.Config{
		Scope:       tempfs.NewScope(cfg.Worker.TempDir, log),
		Fetcher:     fetch.NewFetcher(nil, log),
		Prober:      probe.NewProber("", log),
		Extractor:   extract.NewExtractor("", log),
		Uploader:    upload.NewUploader(s3Client, cfg.AWS.SegmentBucket, cfg.Worker.BatchSize, log),
		FrameFormat: cfg.Worker.FrameFormat,
	})

	cons := consumer.New(&consumer.Config{
		Queue:          sqsClient,
		Pipeline:       pipe,
		StatusStore:    statusStore,
		JobsQueueURL:   cfg.AWS.JobsQueueURL,
		EventsQueueURL: cfg.AWS.EventsQueueURL,
		MaxConcurrent:  cfg.Worker.MaxConcurrentJobs,
		DropFatalJobs:  cfg.Worker.DropFatalJobs,
		Logger:         log,
	})

	checker := health.NewChecker(&health.Config{
		ServiceName:    "segmenter-worker",
		S3Client:       s3Client,
		SQSClient:      sqsClient,
		SegmentBucket:  cfg.AWS.SegmentBucket,
		JobsQueueURL:   cfg.AWS.JobsQueueURL,
		EventsQueueURL: cfg.AWS.EventsQueueURL,
		Logger:         log,
	})

	metricsServer := startMetricsServer(log, cfg.Worker.MetricsPort, checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info(context.Background(), log, "Shutting down worker...")
		cancel()
	}()

	cons.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), log, "Failed to shutdown metrics server", "error", err)
	}
}

func startMetricsServer(log *slog.Logger, port int, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", checker.Handler())
	mux.HandleFunc("/health/deep", checker.DeepHandler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(context.Background(), log, "Starting metrics server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), log, "Metrics server error", "error", err)
		}
	}()

	return server
}
