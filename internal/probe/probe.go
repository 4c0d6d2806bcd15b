package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/framelift/segmenter/pkg/models"
)

var tracer = otel.Tracer("segmenter-probe")

// Prober inspects local video files with ffprobe.
type Prober struct {
	ffprobePath string
	log         *slog.Logger
}

// NewProber creates a Prober using the given ffprobe binary, or "ffprobe"
// from PATH when empty.
func NewProber(ffprobePath string, log *slog.Logger) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath, log: log}
}

// ffprobeOutput represents the JSON output from ffprobe.
type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Name     string `json:"format_name"`
	} `json:"format"`
}

// Probe runs ffprobe on path and extracts container and video stream
// metadata. Every failure is fatal: a source that cannot be probed cannot
// be segmented either.
func (p *Prober) Probe(ctx context.Context, path string) (models.VideoMetadata, error) {
	ctx, span := tracer.Start(ctx, "probe-metadata")
	defer span.End()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	output, err := exec.CommandContext(ctx, p.ffprobePath, args...).Output()
	if err != nil {
		return models.VideoMetadata{}, models.Fatal(fmt.Errorf("%w: %v", models.ErrProbeFailed, err))
	}

	md, err := parseOutput(output)
	if err != nil {
		return models.VideoMetadata{}, models.Fatal(fmt.Errorf("%w: %v", models.ErrProbeFailed, err))
	}

	span.SetAttributes(
		attribute.Float64("video.frame_rate", md.FrameRate),
		attribute.Float64("video.duration_seconds", md.Duration),
	)
	p.log.InfoContext(ctx, "Probed video metadata",
		"frameRate", md.FrameRate,
		"width", md.Width,
		"height", md.Height,
		"durationSeconds", md.Duration,
	)

	return md, nil
}

func parseOutput(output []byte) (models.VideoMetadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return models.VideoMetadata{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	md := models.VideoMetadata{}

	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			md.Duration = d
		}
	}
	if probe.Format.Name != "" {
		md.Container = strings.Split(probe.Format.Name, ",")[0]
	}

	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		md.Width = stream.Width
		md.Height = stream.Height
		rate, err := ParseFrameRate(stream.RFrameRate)
		if err != nil {
			return models.VideoMetadata{}, err
		}
		md.FrameRate = rate
		return md, nil
	}

	return models.VideoMetadata{}, fmt.Errorf("no video stream found")
}

// ParseFrameRate parses an ffprobe rational frame rate such as "30/1" or
// "30000/1001".
func ParseFrameRate(s string) (float64, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	return num / den, nil
}
