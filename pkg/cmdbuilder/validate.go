package cmdbuilder

import (
	"regexp"
	"strings"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

// buildError returns the error kind surfaced for any validation failure, before
// any process spawn — spec §4.F's CommandBuildError.
func buildError(msg string) error {
	return apperrors.NewValidationError(msg)
}

func securityError(msg string) error {
	return apperrors.NewSecurityError(msg)
}

var controlCharPattern = regexp.MustCompile(`[\x00-\x1f\x7f]`)

const shellMetaChars = ";&|$`\n\r"

// validatePath rejects control characters, shell metacharacters, and path
// traversal/null-byte injection attempts, per spec §4.F and §8's boundary
// behavior ("a path containing '..' or null byte must be rejected with
// SECURITY_VIOLATION").
func validatePath(path string) error {
	if path == "" {
		return buildError("path must not be empty")
	}
	if strings.ContainsAny(path, shellMetaChars) {
		return securityError("path contains disallowed shell metacharacters")
	}
	if controlCharPattern.MatchString(path) {
		return securityError("path contains control characters")
	}
	if strings.Contains(path, "\x00") {
		return securityError("path contains a null byte")
	}
	if strings.Contains(path, "..") {
		return securityError("path contains a parent-directory traversal segment")
	}
	return nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return buildError(name + " out of range")
	}
	return nil
}

// ValidateOperation applies spec §4.F/§8's per-operation checks. Returns
// nil when ok, a SECURITY_VIOLATION-kind error for injection attempts, or a
// VALIDATION_FAILED-kind error for out-of-range/unknown values.
func ValidateOperation(op Operation, whitelist *Whitelist) error {
	if !whitelist.AllowsOperation(op.Kind) {
		return buildError("operation not permitted: " + string(op.Kind))
	}

	switch op.Kind {
	case OpTrim:
		if op.Duration == 0 && op.End == 0 {
			return buildError("trim requires a non-zero duration or end")
		}
	case OpWatermark:
		if err := validatePath(op.Image); err != nil {
			return err
		}
	case OpFilter:
		if !whitelist.AllowsFilter(op.FilterName) {
			return buildError("filter not permitted: " + op.FilterName)
		}
	case OpStreamMap:
		if op.StreamFormat != "hls" && op.StreamFormat != "dash" {
			return buildError("stream format must be hls or dash")
		}
	case OpTranscode:
		if op.VideoCodec != "" && !whitelist.AllowsCodec(op.VideoCodec) {
			return buildError("video codec not permitted: " + op.VideoCodec)
		}
		if op.AudioCodec != "" && !whitelist.AllowsCodec(op.AudioCodec) {
			return buildError("audio codec not permitted: " + op.AudioCodec)
		}
		if op.CRF != 0 {
			if err := validateRange("crf", op.CRF, 0, 51); err != nil {
				return err
			}
		}
		if op.FPS != 0 {
			if err := validateRange("fps", op.FPS, 1, 240); err != nil {
				return err
			}
		}
		if op.Width != 0 {
			if err := validateRange("width", op.Width, 1, 8192); err != nil {
				return err
			}
		}
		if op.Height != 0 {
			if err := validateRange("height", op.Height, 1, 8192); err != nil {
				return err
			}
		}
	}
	return nil
}
