package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/internal/sanitize"
	"github.com/fluxcode/transcoder/pkg/breaker"
)

// errorBody is the `error` object of spec §4.L's structured envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Level   string `json:"level"`
	Details string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// warningKinds surface to the caller as a routine condition rather than a
// server fault — the rate limiter and circuit breaker already carry their
// own retry hints.
var warningKinds = map[apperrors.Kind]bool{
	apperrors.KindValidation: true,
	apperrors.KindRateLimit:  true,
}

func errorLevel(kind apperrors.Kind) string {
	switch {
	case apperrors.IsHighSeverity(kind):
		return "critical"
	case warningKinds[kind]:
		return "warning"
	default:
		return "error"
	}
}

// writeError renders err as the standard envelope, sanitizing the message
// per §7 before it ever reaches the wire. debug additionally exposes
// sanitized Details for non-high-severity kinds.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperrors.GetStatusCode(err)
	code := apperrors.GetCode(err)
	kind := apperrors.GetType(err)

	if errors.Is(err, breaker.ErrCircuitOpen) {
		status = http.StatusServiceUnavailable
		code = "CIRCUIT_OPEN"
	}

	body := errorEnvelope{Error: errorBody{
		Code:    code,
		Message: sanitize.String(apperrors.SafeErrorMessage(err, s.debug)),
		Type:    string(kind),
		Level:   errorLevel(kind),
	}}
	if ae, ok := err.(*apperrors.AppError); ok && s.debug && ae.Details != "" && !apperrors.IsHighSeverity(kind) {
		body.Error.Details = sanitize.String(ae.Details)
	}
	if s.logger.Enabled() {
		fields := apperrors.LogFields(err)
		s.logger.V(1).Info("request failed", "status", status, "code", code, "error_type", fields["error_type"])
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSON renders v as a 200 (or the given status) JSON body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
