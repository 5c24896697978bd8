// Package errors defines the tagged-error vocabulary used across the
// transcoder core: every subsystem reports failures as an AppError carrying
// a Kind, never a bare error, so the HTTP surface can map it to a status
// code and a sanitized envelope without inspecting message text.
package errors

import (
	"fmt"
	"net/http"
)

// Kind is the error category from spec §7. Kinds drive HTTP status mapping,
// logging severity, and whether details may be included in debug mode.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindSecurity       Kind = "security"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindRateLimit      Kind = "rate_limit"
	KindProcessing     Kind = "processing"
	KindStorage        Kind = "storage"
	KindNetwork        Kind = "network"
	KindTimeout        Kind = "timeout"
	KindConfiguration  Kind = "configuration"
	KindInternal       Kind = "internal"
)

// statusByKind mirrors the standard codes listed in spec §6.
var statusByKind = map[Kind]int{
	KindValidation:     http.StatusBadRequest,
	KindSecurity:       http.StatusForbidden,
	KindAuthentication: http.StatusUnauthorized,
	KindAuthorization:  http.StatusForbidden,
	KindRateLimit:      http.StatusTooManyRequests,
	KindProcessing:     http.StatusUnprocessableEntity,
	KindStorage:        http.StatusInternalServerError,
	KindNetwork:        http.StatusBadGateway,
	KindTimeout:        http.StatusGatewayTimeout,
	KindConfiguration:  http.StatusInternalServerError,
	KindInternal:       http.StatusInternalServerError,
}

// codeByKind maps a Kind onto one of the standard error codes from spec §6.
var codeByKind = map[Kind]string{
	KindValidation:     "VALIDATION_FAILED",
	KindSecurity:       "SECURITY_VIOLATION",
	KindAuthentication: "ACCESS_DENIED",
	KindAuthorization:  "ACCESS_DENIED",
	KindRateLimit:      "RATE_LIMIT_EXCEEDED",
	KindProcessing:     "PROCESSING_FAILED",
	KindStorage:        "INTERNAL_ERROR",
	KindNetwork:        "INTERNAL_ERROR",
	KindTimeout:        "INTERNAL_ERROR",
	KindConfiguration:  "INTERNAL_ERROR",
	KindInternal:       "INTERNAL_ERROR",
}

// AppError is the single error type every subsystem in this repository
// returns across its public API boundary.
type AppError struct {
	Kind    Kind
	Message string
	Details string
	Cause   error
}

// New creates an AppError with no wrapped cause.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap attaches a Kind and message to an existing error, preserving it for
// Unwrap.
func Wrap(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetails returns a copy of e carrying additional, non-sensitive detail
// text (surfaced only in debug mode for low/medium severity kinds).
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithDetailsf is WithDetails with a formatted string.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsType reports whether err is an *AppError of the given kind.
func IsType(err error, kind Kind) bool {
	ae, ok := err.(*AppError)
	if !ok {
		return false
	}
	return ae.Kind == kind
}

// GetType extracts the Kind from err, defaulting to KindInternal when err is
// not an *AppError.
func GetType(err error) Kind {
	ae, ok := err.(*AppError)
	if !ok {
		return KindInternal
	}
	return ae.Kind
}

// GetStatusCode maps err onto an HTTP status code.
func GetStatusCode(err error) int {
	ae, ok := err.(*AppError)
	if !ok {
		return http.StatusInternalServerError
	}
	status, found := statusByKind[ae.Kind]
	if !found {
		return http.StatusInternalServerError
	}
	return status
}

// GetCode maps err onto one of the standard error codes from spec §6.
func GetCode(err error) string {
	ae, ok := err.(*AppError)
	if !ok {
		return "INTERNAL_ERROR"
	}
	code, found := codeByKind[ae.Kind]
	if !found {
		return "INTERNAL_ERROR"
	}
	return code
}

// highSeverity kinds never include details on an external surface, even in
// debug mode — spec §7.
var highSeverity = map[Kind]bool{
	KindSecurity:       true,
	KindAuthentication: true,
	KindAuthorization:  true,
	KindInternal:       true,
	KindStorage:        true,
}

// IsHighSeverity reports whether kind is high/critical severity per §7.
func IsHighSeverity(kind Kind) bool {
	return highSeverity[kind]
}

// SafeErrorMessage returns the message safe to place on an external surface.
// debug enables details for non-high-severity kinds; sanitize is applied by
// the caller (internal/sanitize) before this ever reaches a wire payload.
func SafeErrorMessage(err error, debug bool) string {
	ae, ok := err.(*AppError)
	if !ok {
		return "an internal error occurred"
	}
	if !debug || IsHighSeverity(ae.Kind) {
		return ae.Message
	}
	if ae.Details != "" {
		return fmt.Sprintf("%s (%s)", ae.Message, ae.Details)
	}
	return ae.Message
}

// LogFields renders err as a flat map suitable for structured log calls.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	ae, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(ae.Kind)
	fields["status_code"] = GetStatusCode(err)
	if ae.Details != "" {
		fields["error_details"] = ae.Details
	}
	if ae.Cause != nil {
		fields["underlying_error"] = ae.Cause.Error()
	}
	return fields
}

// Chain joins the non-nil errors in errs into a single message separated by
// " -> ", returning nil if every entry is nil or errs is empty.
func Chain(errs ...error) error {
	var msgs []string
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	joined := msgs[0]
	for _, m := range msgs[1:] {
		joined += " -> " + m
	}
	return New(KindInternal, joined)
}

// Constructors for the most common kinds, matching the teacher's surface.

func NewValidationError(message string) *AppError {
	return New(KindValidation, message)
}

func NewDatabaseError(message string, cause error) *AppError {
	return Wrap(KindStorage, message, cause)
}

func NewNotFoundError(resource string) *AppError {
	return New(KindValidation, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError {
	return New(KindAuthentication, message)
}

func NewTimeoutError(message string) *AppError {
	return New(KindTimeout, message)
}

func NewSecurityError(message string) *AppError {
	return New(KindSecurity, message)
}

func NewRateLimitError(message string) *AppError {
	return New(KindRateLimit, message)
}

func NewProcessingError(message string, cause error) *AppError {
	return Wrap(KindProcessing, message, cause)
}

func NewConfigurationError(message string) *AppError {
	return New(KindConfiguration, message)
}
