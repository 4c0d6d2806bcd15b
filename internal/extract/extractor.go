package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/framelift/segmenter/internal/metrics"
	"github.com/framelift/segmenter/pkg/models"
)

var tracer = otel.Tracer("segmenter-extract")

// frameIndexPattern matches the _<digits> suffix ffmpeg writes into each
// output file name, e.g. movie_3.jpg.
var frameIndexPattern = regexp.MustCompile(`_(\d+)\.[^.]+$`)

// Extractor splits a local video into individual frame files with ffmpeg.
type Extractor struct {
	ffmpegPath string
	log        *slog.Logger
}

// NewExtractor creates an Extractor using the given ffmpeg binary, or
// "ffmpeg" from PATH when empty.
func NewExtractor(ffmpegPath string, log *slog.Logger) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Extractor{ffmpegPath: ffmpegPath, log: log}
}

// OutputPattern builds the ffmpeg output name pattern
// <base>_%d.<format> inside dir. base is the source video's name without
// extension, so frames of movie.mp4 become movie_1.jpg, movie_2.jpg, ...
func OutputPattern(base, format, dir string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%%d.%s", base, format))
}

// Extract splits src into one file per frame inside dir, named after
// base, and returns the produced frames with their indices parsed from
// the file names. The returned list follows directory listing order, not
// index order. Any extraction failure is fatal.
func (e *Extractor) Extract(ctx context.Context, src, base, format, dir string) ([]models.Frame, error) {
	ctx, span := tracer.Start(ctx, "extract-frames")
	defer span.End()

	start := time.Now()
	pattern := OutputPattern(base, format, dir)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, "-i", src, "-y", pattern)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, models.Fatal(fmt.Errorf("%w: %v, output: %s", models.ErrExtractFailed, err, tail(output)))
	}

	frames, err := CollectFrames(dir)
	if err != nil {
		return nil, models.Fatal(fmt.Errorf("%w: %v", models.ErrExtractFailed, err))
	}
	if len(frames) == 0 {
		return nil, models.Fatal(fmt.Errorf("%w: no frames produced", models.ErrExtractFailed))
	}

	metrics.ExtractDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("frames.count", len(frames)))
	e.log.InfoContext(ctx, "Extracted frames",
		"source", src,
		"frames", len(frames),
		"durationSeconds", time.Since(start).Seconds(),
	)

	return frames, nil
}

// CollectFrames lists dir and parses the frame index out of every entry.
// An entry that does not carry the _<digits> suffix means the naming
// contract was violated and is an error.
func CollectFrames(dir string) ([]models.Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	frames := make([]models.Frame, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		idx, err := ParseFrameIndex(entry.Name())
		if err != nil {
			return nil, err
		}
		frames = append(frames, models.Frame{
			Path:  filepath.Join(dir, entry.Name()),
			Index: idx,
		})
	}
	return frames, nil
}

// ParseFrameIndex extracts the numeric suffix from a frame file name.
func ParseFrameIndex(name string) (int, error) {
	m := frameIndexPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", models.ErrBadFrameName, name)
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", models.ErrBadFrameName, name)
	}
	return idx, nil
}

// tail returns the last portion of ffmpeg output for error messages.
func tail(b []byte) string {
	const max = 512
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
