package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// GatewayError represents an error that can be returned to clients.
// Code is the HTTP status; Reason is a stable machine-readable identifier.
type GatewayError struct {
	Code       int    `json:"code"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	underlying error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response.
// For base errors (no details/requestID), uses pre-serialized JSON to avoid allocations.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Common errors
var (
	ErrBadRequest = &GatewayError{
		Code:    http.StatusBadRequest,
		Reason:  "bad_request",
		Message: "Bad Request",
	}

	ErrUnauthorized = &GatewayError{
		Code:    http.StatusUnauthorized,
		Reason:  "unauthorized",
		Message: "Unauthorized",
	}

	ErrForbidden = &GatewayError{
		Code:    http.StatusForbidden,
		Reason:  "forbidden",
		Message: "Forbidden",
	}

	ErrNotFound = &GatewayError{
		Code:    http.StatusNotFound,
		Reason:  "not_found",
		Message: "Not Found",
	}

	ErrTooManyRequests = &GatewayError{
		Code:    http.StatusTooManyRequests,
		Reason:  "rate_limited",
		Message: "Too Many Requests",
	}

	ErrInternalServer = &GatewayError{
		Code:    http.StatusInternalServerError,
		Reason:  "internal",
		Message: "Internal Server Error",
	}

	ErrBadGateway = &GatewayError{
		Code:    http.StatusBadGateway,
		Reason:  "bad_gateway",
		Message: "Bad Gateway",
	}

	ErrDependencyUnavailable = &GatewayError{
		Code:    http.StatusServiceUnavailable,
		Reason:  "dependency_unavailable",
		Message: "Dependency Unavailable",
	}
)

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*GatewayError][]byte

func init() {
	bases := []*GatewayError{
		ErrBadRequest, ErrUnauthorized, ErrForbidden, ErrNotFound,
		ErrTooManyRequests, ErrInternalServer, ErrBadGateway,
		ErrDependencyUnavailable,
	}
	preSerialized = make(map[*GatewayError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a new GatewayError.
func New(code int, reason, message string) *GatewayError {
	return &GatewayError{
		Code:    code,
		Reason:  reason,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, code int, reason, message string) *GatewayError {
	return &GatewayError{
		Code:       code,
		Reason:     reason,
		Message:    message,
		underlying: err,
	}
}

// WithDetails adds details to the error.
func (e *GatewayError) WithDetails(details string) *GatewayError {
	return &GatewayError{
		Code:       e.Code,
		Reason:     e.Reason,
		Message:    e.Message,
		Details:    details,
		RequestID:  e.RequestID,
		underlying: e.underlying,
	}
}

// WithRequestID adds a request ID to the error.
func (e *GatewayError) WithRequestID(requestID string) *GatewayError {
	return &GatewayError{
		Code:       e.Code,
		Reason:     e.Reason,
		Message:    e.Message,
		Details:    e.Details,
		RequestID:  requestID,
		underlying: e.underlying,
	}
}

// IsGatewayError checks if an error is a GatewayError.
func IsGatewayError(err error) (*GatewayError, bool) {
	if ge, ok := err.(*GatewayError); ok {
		return ge, true
	}
	return nil, false
}
