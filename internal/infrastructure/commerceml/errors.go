package commerceml

import (
	"errors"
	"fmt"
)

// Parse error codes
const (
	ErrCodeRequiredField = "ERR_CML_REQUIRED_FIELD"
	ErrCodeInvalidNumber = "ERR_CML_INVALID_NUMBER"
	ErrCodeInvalidDate   = "ERR_CML_INVALID_DATE"
)

var (
	// ErrEmptyFile is returned for zero-length documents
	ErrEmptyFile = errors.New("xml file is empty")

	// ErrFileTooLarge is returned when a document exceeds the configured ceiling
	ErrFileTooLarge = errors.New("xml file exceeds maximum allowed size")

	// ErrInvalidStructure is returned for malformed XML or an unexpected root element.
	// It is always wrapped with the file name.
	ErrInvalidStructure = errors.New("invalid xml structure")
)

// Warning is a non-fatal problem with one record. The record was skipped.
type Warning struct {
	File     string `json:"file"`
	RecordID string `json:"record_id,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Error implements the error interface
func (w Warning) Error() string {
	if w.RecordID != "" {
		return fmt.Sprintf("%s, record '%s': %s", w.File, w.RecordID, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.File, w.Message)
}

// Result summarizes one parsed document
type Result struct {
	File     string
	Records  int
	Skipped  int
	Warnings []Warning
}

func (r *Result) warn(recordID, code, message string) {
	r.Skipped++
	r.Warnings = append(r.Warnings, Warning{File: r.File, RecordID: recordID, Code: code, Message: message})
}
