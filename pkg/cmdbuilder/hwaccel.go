package cmdbuilder

import (
	"context"
	"os/exec"
	"strings"
	"sync"
)

// Accelerator is a hardware encoder backend, in the preference order from
// the glossary: nvenc > qsv > vaapi > videotoolbox > amf > software.
type Accelerator string

const (
	AccelNVENC        Accelerator = "nvenc"
	AccelQSV          Accelerator = "qsv"
	AccelVAAPI        Accelerator = "vaapi"
	AccelVideoToolbox Accelerator = "videotoolbox"
	AccelAMF          Accelerator = "amf"
	AccelSoftware     Accelerator = "software"
)

// preferenceOrder is the encoder selection order from the glossary.
var preferenceOrder = []Accelerator{AccelNVENC, AccelQSV, AccelVAAPI, AccelVideoToolbox, AccelAMF}

// encoderSuffix maps an accelerator onto the ffmpeg encoder suffix used to
// build a codec-specific encoder name (e.g. "h264_nvenc").
var encoderSuffix = map[Accelerator]string{
	AccelNVENC:        "nvenc",
	AccelQSV:          "qsv",
	AccelVAAPI:        "vaapi",
	AccelVideoToolbox: "videotoolbox",
	AccelAMF:          "amf",
}

// Prober enumerates the hardware accelerators available on the current
// host. The real implementation spawns the media tool with an encoder-list
// query; it is probed once per process and cached (SPEC_FULL.md §C).
type Prober interface {
	AvailableAccelerators(ctx context.Context) ([]Accelerator, error)
}

// ExecProber probes availability by invoking ffmpeg's encoder listing.
type ExecProber struct {
	FFmpegPath string
}

// AvailableAccelerators runs `ffmpeg -hide_banner -encoders` and greps for
// known hardware encoder suffixes.
func (p *ExecProber) AvailableAccelerators(ctx context.Context) ([]Accelerator, error) {
	ffmpeg := p.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	out, err := exec.CommandContext(ctx, ffmpeg, "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		return nil, err
	}
	text := strings.ToLower(string(out))
	var found []Accelerator
	for accel, suffix := range encoderSuffix {
		if strings.Contains(text, suffix) {
			found = append(found, accel)
		}
	}
	return found, nil
}

// CachedProber wraps a Prober, invoking it at most once per process
// lifetime, since the accelerator set is stable for a given host and the
// underlying probe spawns a process (SPEC_FULL.md §C).
type CachedProber struct {
	inner  Prober
	once   sync.Once
	result []Accelerator
	err    error
}

// NewCachedProber wraps inner.
func NewCachedProber(inner Prober) *CachedProber {
	return &CachedProber{inner: inner}
}

func (c *CachedProber) AvailableAccelerators(ctx context.Context) ([]Accelerator, error) {
	c.once.Do(func() {
		c.result, c.err = c.inner.AvailableAccelerators(ctx)
	})
	return c.result, c.err
}

// SelectEncoder picks the preferred available accelerator for codec,
// falling back to the software encoder name when none match.
func SelectEncoder(codec string, available []Accelerator) (encoder string, hwaccelFlag string) {
	availSet := make(map[Accelerator]bool, len(available))
	for _, a := range available {
		availSet[a] = true
	}
	for _, accel := range preferenceOrder {
		if availSet[accel] {
			return codec + "_" + encoderSuffix[accel], string(accel)
		}
	}
	return softwareEncoderName(codec), ""
}

// softwareEncoderName maps a whitelisted codec identifier onto its software
// encoder name.
func softwareEncoderName(codec string) string {
	switch codec {
	case "h264":
		return "libx264"
	case "h265", "hevc":
		return "libx265"
	case "av1":
		return "libaom-av1"
	case "vp8":
		return "libvpx"
	case "vp9":
		return "libvpx-vp9"
	case "aac":
		return "aac"
	case "opus":
		return "libopus"
	case "mp3":
		return "libmp3lame"
	case "flac":
		return "flac"
	case "pcm":
		return "pcm_s16le"
	default:
		return codec
	}
}
