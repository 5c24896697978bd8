package worker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fluxcode/transcoder/pkg/progress"
)

var ffmpegProgressPattern = regexp.MustCompile(
	`frame=\s*(\d+)\s+fps=\s*([\d.]+)\s+q=\S+\s+(?:size|Lsize)=\s*\S+\s+time=(\d+:\d+:\d+\.\d+)\s+bitrate=\s*(\S+)\s+speed=\s*([\d.]+)x`)

// parseFFmpegProgressLine extracts a progress.Stats snapshot from one line
// of ffmpeg's periodic stderr status output ("frame= ... speed=...x"). ok is
// false for lines
// that don't match (banner, warnings, codec negotiation chatter).
func parseFFmpegProgressLine(line string) (stats progress.Stats, ok bool) {
	m := ffmpegProgressPattern.FindStringSubmatch(line)
	if m == nil {
		return progress.Stats{}, false
	}
	frame, _ := strconv.ParseInt(m[1], 10, 64)
	fps, _ := strconv.ParseFloat(m[2], 64)
	elapsed, err := parseFFmpegTimecode(m[3])
	if err != nil {
		return progress.Stats{}, false
	}
	speed, _ := strconv.ParseFloat(m[5], 64)
	return progress.Stats{
		CurrentFrame:  frame,
		FPS:           fps,
		Bitrate:       m[4],
		Speed:         speed,
		TimeProcessed: elapsed,
	}, true
}

// parseFFmpegTimecode converts ffmpeg's HH:MM:SS.ms progress timecode into
// seconds.
func parseFFmpegTimecode(raw string) (float64, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return strconv.ParseFloat(raw, 64)
	}
	h, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	min, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, err
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, err
	}
	return h*3600 + min*60 + s, nil
}

// mapProcessPercentage maps elapsed/total encode time onto the Process
// stage's 20→90% share of the overall job progress (spec §4.H).
func mapProcessPercentage(elapsedSeconds, totalSeconds float64) float64 {
	if totalSeconds <= 0 {
		return 20
	}
	ratio := elapsedSeconds / totalSeconds
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return 20 + ratio*70
}
