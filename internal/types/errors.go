package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All components MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidLat      ErrorCode = "validation_invalid_latitude"
	ErrCodeValidationInvalidLon      ErrorCode = "validation_invalid_longitude"
	ErrCodeValidationInvalidAccuracy ErrorCode = "validation_invalid_accuracy"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidKind     ErrorCode = "validation_invalid_checkin_kind"
	ErrCodeValidationInvalidRequest  ErrorCode = "validation_invalid_request"
	ErrCodeValidationInvalidJSON     ErrorCode = "validation_invalid_json"

	// Auth (401)
	ErrCodeAuthMissingCredentials ErrorCode = "auth_missing_credentials"

	// Not Found (404)
	ErrCodeNotFoundSession ErrorCode = "not_found_session"
	ErrCodeNotFoundAttempt ErrorCode = "not_found_attempt"

	// Sensor (client-detected, never reach the attendance API)
	ErrCodeSensorUnsupported         ErrorCode = "sensor_unsupported"
	ErrCodeSensorPermissionDenied    ErrorCode = "sensor_permission_denied"
	ErrCodeSensorPositionUnavailable ErrorCode = "sensor_position_unavailable"
	ErrCodeSensorTimeout             ErrorCode = "sensor_timeout"
	ErrCodeSensorCancelled           ErrorCode = "sensor_cancelled"

	// Server rejections (authoritative, post-submission)
	ErrCodeServerDuplicateCheckIn    ErrorCode = "server_duplicate_checkin"
	ErrCodeServerForbiddenDistance   ErrorCode = "server_forbidden_distance"
	ErrCodeServerInvalidCoordinates  ErrorCode = "server_invalid_coordinates"
	ErrCodeServerMissionUnknown      ErrorCode = "server_mission_unknown"
	ErrCodeServerUnauthorized        ErrorCode = "server_unauthorized"
	ErrCodeServerRejected            ErrorCode = "server_rejected"

	// Internal/Upstream (500/502)
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamTransport   ErrorCode = "upstream_transport_failure"
	ErrCodeUpstreamDecode      ErrorCode = "upstream_invalid_response"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case c == ErrCodeSensorUnsupported:
		return http.StatusNotImplemented // 501
	case c == ErrCodeSensorPermissionDenied:
		return http.StatusForbidden // 403
	case c == ErrCodeSensorTimeout:
		return http.StatusGatewayTimeout // 504
	case strings.HasPrefix(s, "sensor_"):
		return http.StatusServiceUnavailable // 503
	case c == ErrCodeServerDuplicateCheckIn:
		return http.StatusConflict // 409
	case c == ErrCodeServerForbiddenDistance:
		return http.StatusForbidden // 403
	case c == ErrCodeServerInvalidCoordinates:
		return http.StatusBadRequest // 400
	case c == ErrCodeServerMissionUnknown:
		return http.StatusNotFound // 404
	case c == ErrCodeServerUnauthorized:
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "server_"):
		return http.StatusUnprocessableEntity // 422
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// IsSensor reports whether the code belongs to the sensor family.
func (c ErrorCode) IsSensor() bool {
	return strings.HasPrefix(string(c), "sensor_")
}

// IsRetryable reports whether a failure with this code is transient: the
// same attempt may succeed later without any user correction.
func (c ErrorCode) IsRetryable() bool {
	return strings.HasPrefix(string(c), "upstream_")
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) an *AppError.
// Returns the empty code otherwise.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
