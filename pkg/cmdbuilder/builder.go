package cmdbuilder

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildRequest bundles the inputs to Build.
type BuildRequest struct {
	Input      string
	Output     string
	Operations []Operation
	Options    Options
	Whitelist  *Whitelist
	Available  []Accelerator
}

// Build validates request and produces the argv for the external media
// tool, per spec §4.F. It never spawns a process; Validate errors are
// returned before any argv is assembled.
func Build(req BuildRequest) ([]string, error) {
	if err := validatePath(req.Input); err != nil {
		return nil, err
	}
	if err := validatePath(req.Output); err != nil {
		return nil, err
	}
	if req.Whitelist == nil {
		req.Whitelist = NewDefaultWhitelist()
	}
	for _, op := range req.Operations {
		if err := ValidateOperation(op, req.Whitelist); err != nil {
			return nil, err
		}
	}

	var argv []string

	hwaccel, videoArgs := buildHardwareAndVideoArgs(req)
	argv = append(argv, hwaccel...)
	argv = append(argv, "-i", req.Input)
	argv = append(argv, videoArgs...)
	argv = append(argv, buildAudioArgs(req)...)
	argv = append(argv, buildTrimArgs(req)...)
	argv = append(argv, buildFilterArgs(req)...)
	argv = append(argv, buildGlobalArgs(req)...)
	argv = append(argv, req.Output)

	return argv, nil
}

func findOp(req BuildRequest, kind OperationKind) (Operation, bool) {
	for _, op := range req.Operations {
		if op.Kind == kind {
			return op, true
		}
	}
	return Operation{}, false
}

// buildHardwareAndVideoArgs builds the -hwaccel prefix (only when an
// accelerator is actually selected) and the video-codec arguments.
func buildHardwareAndVideoArgs(req BuildRequest) (hwaccel []string, video []string) {
	transcode, ok := findOp(req, OpTranscode)
	if !ok || transcode.VideoCodec == "" {
		return nil, nil
	}

	encoder, accel := SelectEncoder(transcode.VideoCodec, req.Available)
	if accel != "" {
		hwaccel = append(hwaccel, "-hwaccel", accel)
	}

	video = append(video, "-c:v", encoder)
	if transcode.CRF != 0 {
		video = append(video, "-crf", fmt.Sprintf("%d", transcode.CRF))
	}
	if transcode.VideoBitrate != "" {
		video = append(video, "-b:v", transcode.VideoBitrate)
	}
	if transcode.Width != 0 && transcode.Height != 0 {
		video = append(video, "-s", fmt.Sprintf("%dx%d", transcode.Width, transcode.Height))
	}
	if transcode.FPS != 0 {
		video = append(video, "-r", fmt.Sprintf("%d", transcode.FPS))
	}
	if transcode.Preset != "" {
		video = append(video, "-preset", transcode.Preset)
	}
	return hwaccel, video
}

func buildAudioArgs(req BuildRequest) []string {
	transcode, ok := findOp(req, OpTranscode)
	if !ok || transcode.AudioCodec == "" {
		return nil
	}
	args := []string{"-c:a", softwareEncoderName(transcode.AudioCodec)}
	if transcode.AudioBitrate != "" {
		args = append(args, "-b:a", transcode.AudioBitrate)
	}
	return args
}

func buildTrimArgs(req BuildRequest) []string {
	trim, ok := findOp(req, OpTrim)
	if !ok {
		return nil
	}
	var args []string
	if trim.Start != "" {
		if secs, err := parseTimecode(trim.Start); err == nil {
			args = append(args, "-ss", formatSeconds(secs))
		}
	}
	if trim.Duration != 0 {
		args = append(args, "-t", formatSeconds(trim.Duration))
	} else if trim.End != 0 {
		args = append(args, "-to", formatSeconds(trim.End))
	}
	return args
}

func formatSeconds(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// parseTimecode accepts either a bare seconds value ("10", "1.5") or an
// HH:MM:SS[.ms] timecode, returning the equivalent number of seconds.
func parseTimecode(raw string) (float64, error) {
	if !strings.Contains(raw, ":") {
		return strconv.ParseFloat(raw, 64)
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timecode %q", raw)
	}
	hours, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, err
	}
	return hours*3600 + minutes*60 + seconds, nil
}

// buildFilterArgs assembles the video and audio filter chains separately
// and combines them, per spec §4.F's output format rule.
func buildFilterArgs(req BuildRequest) []string {
	var videoFilters, audioFilters []string

	if wm, ok := findOp(req, OpWatermark); ok {
		pos := wm.Position
		if pos == "" {
			pos = "bottom-right"
		}
		videoFilters = append(videoFilters, fmt.Sprintf("movie=%s[wm];[in][wm]overlay=%s[out]", wm.Image, overlayExpr(pos)))
	}

	for _, op := range req.Operations {
		if op.Kind != OpFilter {
			continue
		}
		videoFilters = append(videoFilters, renderFilter(op.FilterName, op.FilterParams))
	}

	var args []string
	if len(videoFilters) > 0 {
		args = append(args, "-vf", strings.Join(videoFilters, ","))
	}
	if len(audioFilters) > 0 {
		args = append(args, "-af", strings.Join(audioFilters, ","))
	}
	return args
}

func overlayExpr(position string) string {
	switch position {
	case "top-left":
		return "10:10"
	case "top-right":
		return "main_w-overlay_w-10:10"
	case "bottom-left":
		return "10:main_h-overlay_h-10"
	default: // bottom-right
		return "main_w-overlay_w-10:main_h-overlay_h-10"
	}
}

func renderFilter(name string, params map[string]interface{}) string {
	if len(params) == 0 {
		return name
	}
	var pairs []string
	for k, v := range params {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
	}
	return name + "=" + strings.Join(pairs, ":")
}

// buildGlobalArgs appends container/metadata/thread options last, per spec
// §4.F's output format rule ("global options ... appended last").
func buildGlobalArgs(req BuildRequest) []string {
	var args []string
	if container, ok := req.Options["container"].(string); ok && container != "" {
		args = append(args, "-f", container)
	}
	if threads, ok := req.Options["threads"].(int); ok && threads > 0 {
		args = append(args, "-threads", fmt.Sprintf("%d", threads))
	}
	if meta, ok := req.Options["metadata"].(map[string]interface{}); ok {
		for k, v := range meta {
			args = append(args, "-metadata", fmt.Sprintf("%s=%v", k, v))
		}
	}
	args = append(args, "-y")
	return args
}
