package exchange

import (
	"strings"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/google/uuid"
)

// ImportSessionResponse is the operator view of an import session
type ImportSessionResponse struct {
	ID              uuid.UUID            `json:"id"`
	ImportType      string               `json:"import_type"`
	Status          string               `json:"status"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
	DurationSeconds float64              `json:"duration_seconds"`
	Stats           exchange.ImportStats `json:"stats"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	FailureCategory string               `json:"failure_category,omitempty"`
	TaskHandle      string               `json:"task_handle,omitempty"`
	SessionKey      string               `json:"session_key"`
	ArchiveName     string               `json:"archive_name,omitempty"`
	Attempt         int                  `json:"attempt"`
	RetryOf         *uuid.UUID           `json:"retry_of,omitempty"`
	Report          []string             `json:"report,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// ToImportSessionResponse converts a session. The report is only included in detail views.
func ToImportSessionResponse(s *exchange.ImportSession, withReport bool) ImportSessionResponse {
	resp := ImportSessionResponse{
		ID:              s.ID,
		ImportType:      string(s.ImportType),
		Status:          string(s.Status),
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt,
		DurationSeconds: s.Duration().Seconds(),
		Stats:           s.Stats,
		ErrorMessage:    s.ErrorMessage,
		FailureCategory: string(s.FailureCategory),
		TaskHandle:      s.TaskHandle,
		SessionKey:      s.SessionKey,
		ArchiveName:     s.ArchiveName,
		Attempt:         s.Attempt,
		RetryOf:         s.RetryOf,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if withReport && s.Report != "" {
		resp.Report = strings.Split(s.Report, "\n")
	}
	return resp
}
