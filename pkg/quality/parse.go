package quality

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// vmafLog mirrors the JSON log libvmaf writes with -of json, trimmed to
// the fields this package consumes.
type vmafLog struct {
	Frames []struct {
		Metrics map[string]float64 `json:"metrics"`
	} `json:"frames"`
}

// ParseVMAFLog parses the JSON temp file libvmaf wrote and aggregates its
// per-frame scores (spec §4.I: mean, min, max, 1/5/95/99 percentiles, and
// the first 100 raw scores for inspection).
func ParseVMAFLog(data []byte, model string) (*VMAFReport, error) {
	var log vmafLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("parsing vmaf log: %w", err)
	}
	if len(log.Frames) == 0 {
		return nil, fmt.Errorf("vmaf log contains no frames")
	}

	scores := make([]float64, 0, len(log.Frames))
	for _, f := range log.Frames {
		if v, ok := f.Metrics["vmaf"]; ok {
			scores = append(scores, v)
		}
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("vmaf log frames carry no vmaf metric")
	}

	min, max := minMax(scores)
	raw := scores
	if len(raw) > 100 {
		raw = raw[:100]
	}
	return &VMAFReport{
		Mean:      mean(scores),
		Min:       min,
		Max:       max,
		P1:        Percentile(scores, 1),
		P5:        Percentile(scores, 5),
		P95:       Percentile(scores, 95),
		P99:       Percentile(scores, 99),
		RawScores: raw,
		ModelUsed: model,
	}, nil
}

var (
	psnrPattern = regexp.MustCompile(`psnr_avg:([\d.]+)\s+psnr_y:([\d.]+)\s+psnr_u:([\d.]+)\s+psnr_v:([\d.]+)`)
	ssimPattern = regexp.MustCompile(`Y:([\d.]+)\s+U:([\d.]+)\s+V:([\d.]+)\s+All:([\d.]+)`)
)

// ParsePSNR scans ffmpeg's stderr text for the psnr filter's summary line,
// using the last match (the final cumulative summary).
func ParsePSNR(stderr string) (*PSNRReport, error) {
	matches := psnrPattern.FindAllStringSubmatch(stderr, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no psnr summary line found in output")
	}
	m := matches[len(matches)-1]
	avg, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, err
	}
	y, _ := strconv.ParseFloat(m[2], 64)
	u, _ := strconv.ParseFloat(m[3], 64)
	v, _ := strconv.ParseFloat(m[4], 64)
	return &PSNRReport{Average: avg, Y: y, U: u, V: v}, nil
}

// ParseSSIM scans ffmpeg's stderr text for the ssim filter's summary line,
// using the last match.
func ParseSSIM(stderr string) (*SSIMReport, error) {
	matches := ssimPattern.FindAllStringSubmatch(stderr, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no ssim summary line found in output")
	}
	m := matches[len(matches)-1]
	y, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, err
	}
	u, _ := strconv.ParseFloat(m[2], 64)
	v, _ := strconv.ParseFloat(m[3], 64)
	all, _ := strconv.ParseFloat(m[4], 64)
	return &SSIMReport{Average: all, Y: y, U: u, V: v}, nil
}
