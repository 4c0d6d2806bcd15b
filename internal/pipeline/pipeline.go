// Package pipeline sequences the segmentation stages for one job: fetch,
// probe, extract, upload. It owns the job's temporary resources and
// forwards each stage's fatal/transient classification unchanged; retry
// is the consumer's responsibility via queue redelivery.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/framelift/segmenter/internal/metrics"
	"github.com/framelift/segmenter/pkg/models"
)

var tracer = otel.Tracer("segmenter-pipeline")

// Fetcher streams a remote source into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, uri, dest string) (string, error)
}

// Prober extracts video metadata from a local file.
type Prober interface {
	Probe(ctx context.Context, path string) (models.VideoMetadata, error)
}

// Extractor splits a local file into indexed frame files.
type Extractor interface {
	Extract(ctx context.Context, src, base, format, dir string) ([]models.Frame, error)
}

// Uploader pushes frame files to object storage in batches.
type Uploader interface {
	UploadAll(ctx context.Context, frames []models.Frame, frameRate float64, subdir string, onSegment func(models.Segment)) (models.Result, error)
}

// Scope provides per-job temporary files and directories.
type Scope interface {
	AcquireFile(ext string) (string, func(), error)
	AcquireDir() (string, func(), error)
}

// Observer receives pipeline notifications. OnSegment may be called from
// concurrent upload goroutines and must be safe for concurrent use.
type Observer interface {
	OnSegment(segment models.Segment)
	OnError(err error)
	OnEnd(result models.Result)
}

// Pipeline orchestrates the segmentation stages.
type Pipeline struct {
	scope       Scope
	fetcher     Fetcher
	prober      Prober
	extractor   Extractor
	uploader    Uploader
	frameFormat string
}

// Config holds pipeline dependencies.
type Config struct {
	Scope       Scope
	Fetcher     Fetcher
	Prober      Prober
	Extractor   Extractor
	Uploader    Uploader
	FrameFormat string
}

// New creates a Pipeline with the given dependencies.
func New(cfg *Config) *Pipeline {
	return &Pipeline{
		scope:       cfg.Scope,
		fetcher:     cfg.Fetcher,
		prober:      cfg.Prober,
		extractor:   cfg.Extractor,
		uploader:    cfg.Uploader,
		frameFormat: cfg.FrameFormat,
	}
}

// Run processes one job end to end, notifying obs of each uploaded
// segment, any failure, and the final result. The returned error carries
// the failing stage's classification.
func (p *Pipeline) Run(ctx context.Context, job models.Job, obs Observer) (models.Result, error) {
	ctx, span := tracer.Start(ctx, "run-pipeline")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.uri", job.URI),
	)

	result, err := p.run(ctx, job, obs)
	if err != nil {
		obs.OnError(err)
		return nil, err
	}
	obs.OnEnd(result)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, job models.Job, obs Observer) (models.Result, error) {
	base, ext := sourceName(job.URI)

	srcPath, releaseFile, err := p.scope.AcquireFile(ext)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("%w: %v", models.ErrFetchFailed, err))
	}
	defer releaseFile()

	fetchStart := time.Now()
	if _, err := p.fetcher.Fetch(ctx, job.URI, srcPath); err != nil {
		return nil, err
	}
	metrics.FetchDuration.Observe(time.Since(fetchStart).Seconds())

	md, err := p.prober.Probe(ctx, srcPath)
	if err != nil {
		return nil, err
	}

	frameDir, releaseDir, err := p.scope.AcquireDir()
	if err != nil {
		return nil, models.Transient(fmt.Errorf("%w: %v", models.ErrExtractFailed, err))
	}
	defer releaseDir()

	frames, extractErr := p.extractor.Extract(ctx, srcPath, base, p.frameFormat, frameDir)
	// The source file is no longer needed once extraction has resolved,
	// whatever the outcome. Release is idempotent, so the defer above
	// stays as a safety net.
	releaseFile()
	if extractErr != nil {
		return nil, extractErr
	}

	result, err := p.uploader.UploadAll(ctx, frames, md.FrameRate, base, obs.OnSegment)
	releaseDir()
	if err != nil {
		return nil, err
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int("segments.count", len(result)))
	return result, nil
}

// sourceName derives the base name (without extension) and the extension
// of the remote source from its URI. Frames and object keys are both
// named after the base.
func sourceName(uri string) (base, ext string) {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(p)
	ext = path.Ext(name)
	base = strings.TrimSuffix(name, ext)
	if base == "" || base == "." || base == "/" {
		base = "video"
	}
	return base, ext
}
