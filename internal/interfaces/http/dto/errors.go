package dto

import "net/http"

// Error codes of the operator API. Format: ERR_<CATEGORY>_<DESCRIPTION>
const (
	ErrCodeInternal     = "ERR_INTERNAL"
	ErrCodeValidation   = "ERR_VALIDATION"
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeNotFound     = "ERR_NOT_FOUND"
	ErrCodeConflict     = "ERR_CONFLICT"
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeRateLimited  = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeConflict:     http.StatusConflict,
	ErrCodeInvalidState: http.StatusUnprocessableEntity,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeRateLimited:  http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status for an error code, 500 when unknown
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainCodeMapping maps domain error codes to API codes
var domainCodeMapping = map[string]string{
	"NOT_FOUND":           ErrCodeNotFound,
	"INVALID_INPUT":       ErrCodeInvalidInput,
	"INVALID_STATE":       ErrCodeInvalidState,
	"INVALID_TRANSITION":  ErrCodeInvalidState,
	"INVALID_IMPORT_TYPE": ErrCodeInvalidInput,
	"UNAUTHORIZED":        ErrCodeUnauthorized,
	"FORBIDDEN":           ErrCodeForbidden,
	"VALIDATION_ERROR":    ErrCodeValidation,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Unknown codes are returned as-is.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := domainCodeMapping[code]; ok {
		return apiCode
	}
	return code
}
