package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/framelift/segmenter/internal/metrics"
	"github.com/framelift/segmenter/pkg/models"
)

var tracer = otel.Tracer("segmenter-upload")

// ObjectStore defines the S3 operations needed by the uploader.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader pushes extracted frame files to object storage in bounded
// batches: every file inside a batch uploads concurrently, batches run
// strictly one after another. The batch size caps peak concurrency.
type Uploader struct {
	store     ObjectStore
	bucket    string
	batchSize int
	log       *slog.Logger
}

// NewUploader creates an Uploader writing to bucket with the given batch
// size. A batch size below 1 is clamped to 1.
func NewUploader(store ObjectStore, bucket string, batchSize int, log *slog.Logger) *Uploader {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Uploader{
		store:     store,
		bucket:    bucket,
		batchSize: batchSize,
		log:       log,
	}
}

type frameResult struct {
	index int
	uri   string
}

// UploadAll uploads every frame under the key <subdir>/<basename>,
// invoking onSegment once per completed upload, and returns the merged
// index-to-URI mapping. onSegment runs on upload goroutines and must be
// safe for concurrent use.
//
// If any upload fails, the whole call fails with that error: results from
// uploads that already completed in the failing batch are discarded and no
// further batches start.
func (u *Uploader) UploadAll(ctx context.Context, frames []models.Frame, frameRate float64, subdir string, onSegment func(models.Segment)) (models.Result, error) {
	ctx, span := tracer.Start(ctx, "upload-segments")
	defer span.End()

	start := time.Now()
	n := len(frames)
	batches := (n + u.batchSize - 1) / u.batchSize
	if batches == 0 {
		// A frameless job still resolves through one empty batch.
		batches = 1
	}

	result := make(models.Result, n)
	for b := 0; b < batches; b++ {
		lo := b * u.batchSize
		hi := min(lo+u.batchSize, n)

		batchResults, err := u.uploadBatch(ctx, frames[lo:hi], frameRate, subdir, onSegment)
		if err != nil {
			return nil, err
		}
		for _, r := range batchResults {
			result[r.index] = r.uri
		}
	}

	metrics.UploadDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("segments.count", n),
		attribute.Int("batches.count", batches),
	)
	u.log.InfoContext(ctx, "Segment upload complete",
		"segments", n,
		"batches", batches,
		"subdir", subdir,
	)

	return result, nil
}

// uploadBatch dispatches every frame of one batch concurrently and waits
// for all of them. The first error wins; later outcomes of the same batch
// are still allowed to finish but are discarded by the caller.
func (u *Uploader) uploadBatch(ctx context.Context, batch []models.Frame, frameRate float64, subdir string, onSegment func(models.Segment)) ([]frameResult, error) {
	results := make([]frameResult, len(batch))
	var firstErr atomic.Pointer[error]
	var wg sync.WaitGroup

	for i, frame := range batch {
		wg.Add(1)
		go func(slot int, frame models.Frame) {
			defer wg.Done()

			uri, err := u.uploadFrame(ctx, frame, subdir)
			if err != nil {
				firstErr.CompareAndSwap(nil, &err)
				return
			}

			metrics.SegmentsUploaded.Inc()
			if onSegment != nil {
				onSegment(models.Segment{
					Index:     frame.Index,
					URI:       uri,
					FrameRate: frameRate,
				})
			}
			results[slot] = frameResult{index: frame.Index, uri: uri}
		}(i, frame)
	}

	wg.Wait()

	if errPtr := firstErr.Load(); errPtr != nil {
		return nil, *errPtr
	}
	return results, nil
}

func (u *Uploader) uploadFrame(ctx context.Context, frame models.Frame, subdir string) (string, error) {
	key := fmt.Sprintf("%s/%s", subdir, filepath.Base(frame.Path))

	file, err := os.Open(frame.Path)
	if err != nil {
		// A missing or unreadable extracted file means the local naming
		// contract was violated.
		return "", models.Fatal(fmt.Errorf("%w: open %s: %v", models.ErrUploadFailed, frame.Path, err))
	}
	defer file.Close()

	_, err = u.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return "", models.Transient(fmt.Errorf("%w: put %s: %v", models.ErrUploadFailed, key, err))
	}

	u.log.DebugContext(ctx, "Uploaded segment", "key", key, "index", frame.Index)
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
