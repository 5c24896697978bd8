package httpapi

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/cmdbuilder"
)

// wireOperation is the discriminated-union wire shape from spec §6's
// "Operation schema": one `type` field selects which of the other fields
// apply. This is the HTTP Surface's own translation layer between the wire
// schema and cmdbuilder.Operation's flattened internal representation.
type wireOperation struct {
	Type string `json:"type"`

	// trim
	Start    string  `json:"start,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	End      float64 `json:"end,omitempty"`

	// watermark
	Image    string  `json:"image,omitempty"`
	Position string  `json:"position,omitempty"`
	Opacity  float64 `json:"opacity,omitempty"`
	Scale    float64 `json:"scale,omitempty"`

	// filter
	Name   string                 `json:"name,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`

	// stream
	Format          string   `json:"format,omitempty"`
	Variants        []string `json:"variants,omitempty"`
	SegmentDuration int      `json:"segment_duration,omitempty"`

	// transcode
	VideoCodec   string `json:"video_codec,omitempty"`
	AudioCodec   string `json:"audio_codec,omitempty"`
	VideoBitrate string `json:"video_bitrate,omitempty"`
	AudioBitrate string `json:"audio_bitrate,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	FPS          int    `json:"fps,omitempty"`
	CRF          int    `json:"crf,omitempty"`
	Preset       string `json:"preset,omitempty"`
}

func (w wireOperation) toOperation() (cmdbuilder.Operation, error) {
	switch w.Type {
	case "trim":
		return cmdbuilder.Operation{Kind: cmdbuilder.OpTrim, Start: w.Start, Duration: w.Duration, End: w.End}, nil
	case "watermark":
		return cmdbuilder.Operation{Kind: cmdbuilder.OpWatermark, Image: w.Image, Position: w.Position, Opacity: w.Opacity, Scale: w.Scale}, nil
	case "filter":
		return cmdbuilder.Operation{Kind: cmdbuilder.OpFilter, FilterName: w.Name, FilterParams: w.Params}, nil
	case "stream":
		return cmdbuilder.Operation{Kind: cmdbuilder.OpStreamMap, StreamFormat: w.Format, Variants: w.Variants, SegmentDuration: w.SegmentDuration}, nil
	case "transcode":
		return cmdbuilder.Operation{
			Kind:         cmdbuilder.OpTranscode,
			VideoCodec:   w.VideoCodec,
			AudioCodec:   w.AudioCodec,
			VideoBitrate: w.VideoBitrate,
			AudioBitrate: w.AudioBitrate,
			Width:        w.Width,
			Height:       w.Height,
			FPS:          w.FPS,
			CRF:          w.CRF,
			Preset:       w.Preset,
		}, nil
	default:
		return cmdbuilder.Operation{}, apperrors.NewValidationError(fmt.Sprintf("unknown operation type %q", w.Type))
	}
}

func decodeOperations(raw []wireOperation) ([]cmdbuilder.Operation, error) {
	ops := make([]cmdbuilder.Operation, 0, len(raw))
	for _, w := range raw {
		op, err := w.toOperation()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// decodeJSON decodes body into v, reporting a VALIDATION_FAILED error on
// malformed JSON rather than letting json's own error text (which may
// quote raw request bytes) reach the client.
func decodeJSON(dec *json.Decoder, v interface{}) error {
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError("malformed request body")
	}
	return nil
}
