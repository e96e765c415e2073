package common

import "errors"

// Error codes shared across the gateway. They map the failure taxonomy onto the
// wire: configuration problems stay server-side, provider/transport failures are
// surfaced generically, webhook validation failures name the offending field.
const (
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeTransportError   = "TRANSPORT_ERROR"
	CodeProviderError    = "PROVIDER_ERROR"
	CodeSignatureInvalid = "SIGNATURE_INVALID"
	CodeValidationError  = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL"
)

// AppError carries an error code and the HTTP status it should surface as.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// AsAppError extracts an AppError from the chain, if present.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
