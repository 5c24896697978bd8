package worker

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"time"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

// MediaInfo is the subset of container/stream metadata the pipeline needs
// out of the Analyze stage (spec §4.H).
type MediaInfo struct {
	DurationSeconds float64
	Width           int
	Height          int
	Format          string
}

// MediaAnalyzer probes a media file for container/stream info.
type MediaAnalyzer interface {
	Analyze(ctx context.Context, path string) (MediaInfo, error)
}

// FFProbeAnalyzer shells out to ffprobe for container/stream info.
type FFProbeAnalyzer struct {
	FFprobePath string
}

type ffprobeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Analyze runs `ffprobe -print_format json -show_format -show_streams` and
// extracts duration, the first video stream's dimensions, and the
// container format name.
func (a *FFProbeAnalyzer) Analyze(ctx context.Context, path string) (MediaInfo, error) {
	ffprobe := a.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	out, err := exec.CommandContext(ctx, ffprobe, "-v", "quiet",
		"-print_format", "json", "-show_format", "-show_streams", path).Output()
	if err != nil {
		return MediaInfo{}, apperrors.NewProcessingError("probing input media failed", err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return MediaInfo{}, apperrors.NewProcessingError("parsing probe output failed", err)
	}

	info := MediaInfo{Format: probe.Format.FormatName}
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.DurationSeconds = d
		}
	}
	for _, s := range probe.Streams {
		if s.CodecType == "video" {
			info.Width, info.Height = s.Width, s.Height
			break
		}
	}
	return info, nil
}

const (
	minProcessTimeout = 300 * time.Second
	maxProcessTimeout = 14400 * time.Second
	timeoutMultiplier = 10
)

// operationSurcharge adds fixed seconds to the process timeout for
// operations that run materially slower than a plain transcode: watermark
// compositing, filter graphs, and multi-variant stream packaging all add
// real wall-clock time beyond the source duration.
func operationSurcharge(kind string) time.Duration {
	switch kind {
	case "watermark":
		return 60 * time.Second
	case "filter":
		return 30 * time.Second
	case "stream_map":
		return 120 * time.Second
	default:
		return 0
	}
}

// ClampTimeout computes the Process-stage deadline from spec §4.H:
// clamp(10×duration_sec + operation_surcharges, 300, 14400).
func ClampTimeout(durationSeconds float64, surcharges time.Duration) time.Duration {
	t := time.Duration(durationSeconds*float64(timeoutMultiplier))*time.Second + surcharges
	if t < minProcessTimeout {
		return minProcessTimeout
	}
	if t > maxProcessTimeout {
		return maxProcessTimeout
	}
	return t
}
