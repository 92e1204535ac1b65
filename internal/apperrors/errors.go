// Package apperrors is the engine's error taxonomy: an ErrorCode enum
// and *AppError carrying the category, a message, and the HTTP status
// internal/api reports it as.
package apperrors

// ErrorCode identifies which category an error belongs to.
type ErrorCode string

const (
	// ErrorCodeConnection covers initial connect failures or a
	// mid-flight disconnect from the device.
	ErrorCodeConnection ErrorCode = "CONNECTION"
	// ErrorCodeInvalidMapping covers a projector unable to place a
	// layer (e.g. a port id with no prior mapping entry).
	ErrorCodeInvalidMapping ErrorCode = "INVALID_MAPPING"
	// ErrorCodeProtocol covers the device replying with an unexpected
	// status.
	ErrorCodeProtocol ErrorCode = "PROTOCOL"
	// ErrorCodeNetwork covers a transient, retryable socket-class
	// error.
	ErrorCodeNetwork ErrorCode = "NETWORK"
	// ErrorCodeStateCorruption covers tracked state missing where the
	// executor expected it to exist.
	ErrorCodeStateCorruption ErrorCode = "STATE_CORRUPTION"
	// ErrorCodeUnsupportedCommand is the future-proof default for a
	// command kind the executor does not recognize.
	ErrorCodeUnsupportedCommand ErrorCode = "UNSUPPORTED_COMMAND"
	// ErrorCodeInternal is the catch-all for errors not originating
	// from the taxonomy above (e.g. programmer errors).
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorType categorizes errors following Stripe API conventions, for
// response-shape parity with internal/api.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAPIError       ErrorType = "api_error"
	ErrorTypeAuthError      ErrorType = "authentication_error"
)

// StripeErrorBody is the wire error payload:
// {"type": "...", "code": "...", "message": "..."}.
type StripeErrorBody struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// AppError is the taxonomy's concrete error type, carrying the
// category (Code) and the HTTP status internal/api should report it
// as.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
}

func (err *AppError) Error() string {
	return err.Message
}

// StripeErrorBody returns the error in the wire format internal/api
// serializes.
func (err *AppError) StripeErrorBody() StripeErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == 401 || err.StatusCode == 403:
		errType = ErrorTypeAuthError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	}
	return StripeErrorBody{
		Type:    errType,
		Code:    string(err.Code),
		Message: err.Message,
	}
}

func newAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode, Details: details}
}

// NewConnectionError reports CONNECTION: bubbles via the façade's
// error signal.
func NewConnectionError(message string) *AppError {
	return newAppError(ErrorCodeConnection, message, 502, nil)
}

// NewInvalidMappingError reports INVALID_MAPPING: the projector
// could not place a layer. handleState must abort the pass without
// storing state when this is returned.
func NewInvalidMappingError(message string) *AppError {
	return newAppError(ErrorCodeInvalidMapping, message, 400, nil)
}

// NewProtocolError reports PROTOCOL: surfaces via commandError, the
// queue continues.
func NewProtocolError(message string, details map[string]any) *AppError {
	return newAppError(ErrorCodeProtocol, message, 502, details)
}

// NewNetworkError reports NETWORK: a transient, possibly retryable
// socket-class error.
func NewNetworkError(message string) *AppError {
	return newAppError(ErrorCodeNetwork, message, 503, nil)
}

// NewStateCorruptionError reports STATE_CORRUPTION: bubbles via the
// façade's error signal.
func NewStateCorruptionError(message string) *AppError {
	return newAppError(ErrorCodeStateCorruption, message, 500, nil)
}

// NewUnsupportedCommandError reports UNSUPPORTED_COMMAND.
func NewUnsupportedCommandError(kind string) *AppError {
	return newAppError(ErrorCodeUnsupportedCommand, "unsupported command kind: "+kind, 501, nil)
}

// NewValidationError reports a caller/config validation failure, used
// by internal/api request handling.
func NewValidationError(message string, details map[string]any) *AppError {
	return newAppError(ErrorCodeInvalidMapping, message, 400, details)
}

// NewUnauthorizedError reports a missing/invalid bearer token.
func NewUnauthorizedError(message string) *AppError {
	return newAppError(ErrorCodeConnection, message, 401, nil)
}

// NewNotFoundError reports a missing resource (e.g. unknown device id).
func NewNotFoundError(message string) *AppError {
	return newAppError(ErrorCodeInvalidMapping, message, 404, nil)
}

// NewInternalError reports an unclassified internal failure.
func NewInternalError(message string) *AppError {
	return newAppError(ErrorCodeInternal, message, 500, nil)
}

// EnsureAppError converts an arbitrary error into an *AppError, so
// internal/api can always serialize a response.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("unknown error")
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalError(err.Error())
}
