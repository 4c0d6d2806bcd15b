package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/framelift/segmenter/pkg/models"
)

var tracer = otel.Tracer("segmenter-fetch")

// Fetcher downloads remote source videos over HTTP.
type Fetcher struct {
	client *http.Client
	log    *slog.Logger
}

// NewFetcher creates a Fetcher. A nil client falls back to a default
// with no overall timeout; fetch lifetime is bounded by the caller's
// context instead, since source sizes vary widely.
func NewFetcher(client *http.Client, log *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, log: log}
}

// Fetch streams the resource at uri into the file at dest and returns the
// response content type. A non-2xx status is fatal: the same source will
// never succeed on retry. Connection-level failures are transient.
// Partially written content on failure is left for the owning scope to
// delete.
func (f *Fetcher) Fetch(ctx context.Context, uri, dest string) (string, error) {
	ctx, span := tracer.Start(ctx, "fetch-source")
	defer span.End()
	span.SetAttributes(attribute.String("source.uri", uri))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", models.Fatal(fmt.Errorf("%w: invalid uri %q: %v", models.ErrFetchFailed, uri, err))
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", models.Transient(fmt.Errorf("%w: %v", models.ErrFetchFailed, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", models.Fatal(fmt.Errorf("%w: unexpected status %d", models.ErrFetchFailed, resp.StatusCode))
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", models.Transient(fmt.Errorf("%w: open destination: %v", models.ErrFetchFailed, err))
	}

	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", models.Transient(fmt.Errorf("%w: %v", models.ErrFetchFailed, err))
	}

	span.SetAttributes(attribute.Int64("source.size_bytes", written))
	f.log.InfoContext(ctx, "Fetched source video",
		"uri", uri,
		"sizeBytes", written,
		"durationMs", time.Since(start).Milliseconds(),
	)

	return resp.Header.Get("Content-Type"), nil
}
