package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/google/uuid"
)

// ImportType identifies which feed an import session processes
type ImportType string

const (
	ImportTypeCatalog   ImportType = "catalog"
	ImportTypeImages    ImportType = "images"
	ImportTypeStocks    ImportType = "stocks"
	ImportTypePrices    ImportType = "prices"
	ImportTypeCustomers ImportType = "customers"
)

// IsValid checks if the import type is valid
func (t ImportType) IsValid() bool {
	switch t {
	case ImportTypeCatalog, ImportTypeImages, ImportTypeStocks, ImportTypePrices, ImportTypeCustomers:
		return true
	}
	return false
}

// ImportTypeFromFilename derives the import type from the filename 1C sends with mode=import.
func ImportTypeFromFilename(filename string) ImportType {
	name := strings.ToLower(filename)
	switch {
	case strings.Contains(name, "contragents"):
		return ImportTypeCustomers
	case strings.Contains(name, "rests"):
		return ImportTypeStocks
	case strings.Contains(name, "prices") || strings.Contains(name, "pricelists"):
		return ImportTypePrices
	case strings.Contains(name, "import_files") || strings.Contains(name, "images"):
		return ImportTypeImages
	default:
		return ImportTypeCatalog
	}
}

// SessionStatus represents the lifecycle state of an import session
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusStarted    SessionStatus = "started"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// IsTerminal returns true if this is a terminal state
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// IsActive returns true while a worker owns the session
func (s SessionStatus) IsActive() bool {
	return s == SessionStatusStarted || s == SessionStatusInProgress
}

// ActiveStatuses are the statuses counted by the exclusivity check
var ActiveStatuses = []SessionStatus{SessionStatusStarted, SessionStatusInProgress}

const reportTimeLayout = "2006-01-02 15:04:05"

// ImportSession is the persisted record of one import run
type ImportSession struct {
	shared.BaseAggregateRoot
	ImportType      ImportType
	Status          SessionStatus
	StartedAt       *time.Time
	FinishedAt      *time.Time
	Report          string
	Stats           ImportStats
	ErrorMessage    string
	FailureCategory FailureCategory
	TaskHandle      string
	SessionKey      string
	DataDir         string
	ArchiveName     string
	Attempt         int
	RetryOf         *uuid.UUID
}

// NewImportSession creates a pending session for the given feed
func NewImportSession(importType ImportType, sessionKey, dataDir, archiveName string) (*ImportSession, error) {
	if !importType.IsValid() {
		return nil, shared.NewDomainError("INVALID_IMPORT_TYPE", fmt.Sprintf("Invalid import type: %s", importType))
	}
	if dataDir == "" {
		return nil, shared.NewDomainError("INVALID_DATA_DIR", "Data directory cannot be empty")
	}

	s := &ImportSession{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		ImportType:        importType,
		Status:            SessionStatusPending,
		Stats:             NewImportStats(),
		SessionKey:        sessionKey,
		DataDir:           dataDir,
		ArchiveName:       archiveName,
		Attempt:           1,
	}
	s.AppendReport(fmt.Sprintf("session created for %s import", importType))
	return s, nil
}

// AppendReport adds one timestamped line to the report. The report is never rewritten.
func (s *ImportSession) AppendReport(message string) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format(reportTimeLayout), message)
	if s.Report == "" {
		s.Report = line
	} else {
		s.Report += "\n" + line
	}
	s.Touch()
}

// MarkQueued records the handle of the task that will run this session
func (s *ImportSession) MarkQueued(taskHandle string) error {
	if s.Status != SessionStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot queue session in state: %s", s.Status))
	}
	s.TaskHandle = taskHandle
	s.AppendReport(fmt.Sprintf("queued as task %s (attempt %d)", taskHandle, s.Attempt))
	return nil
}

// Start marks the session as picked up by a worker
func (s *ImportSession) Start() error {
	if s.Status != SessionStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot start session from state: %s", s.Status))
	}
	now := time.Now()
	s.Status = SessionStatusStarted
	s.StartedAt = &now
	s.AppendReport("picked up by worker")
	s.IncrementVersion()
	return nil
}

// BeginProcessing moves a started session into record processing
func (s *ImportSession) BeginProcessing() error {
	if s.Status != SessionStatusStarted {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot begin processing from state: %s", s.Status))
	}
	s.Status = SessionStatusInProgress
	s.AppendReport("processing started")
	s.IncrementVersion()
	return nil
}

// RecordProgress replaces the running stats and notes a milestone in the report
func (s *ImportSession) RecordProgress(stats ImportStats, milestone string) error {
	if s.Status != SessionStatusInProgress {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot record progress in state: %s", s.Status))
	}
	s.Stats = stats.Clone()
	if milestone != "" {
		s.AppendReport(milestone)
	} else {
		s.Touch()
	}
	return nil
}

// Complete marks the session as successfully finished
func (s *ImportSession) Complete(stats ImportStats) error {
	if s.Status != SessionStatusInProgress {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot complete session from state: %s", s.Status))
	}
	now := time.Now()
	s.Status = SessionStatusCompleted
	s.Stats = stats.Clone()
	s.FinishedAt = &now
	s.AppendReport(fmt.Sprintf("completed: %s", stats.Summary()))
	s.IncrementVersion()
	s.AddDomainEvent(NewImportSessionFinishedEvent(s))
	return nil
}

// Fail marks the session as failed. Allowed from any non-terminal state.
func (s *ImportSession) Fail(category FailureCategory, message string) error {
	if s.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot fail session from terminal state: %s", s.Status))
	}
	now := time.Now()
	s.Status = SessionStatusFailed
	s.FailureCategory = category
	s.ErrorMessage = message
	s.FinishedAt = &now
	s.AppendReport(fmt.Sprintf("failed (%s): %s", category, message))
	s.IncrementVersion()
	s.AddDomainEvent(NewImportSessionFinishedEvent(s))
	return nil
}

// IsStale reports whether an active session has not been touched within staleAfter
func (s *ImportSession) IsStale(now time.Time, staleAfter time.Duration) bool {
	return s.Status.IsActive() && now.Sub(s.UpdatedAt) > staleAfter
}

// NewRetry creates the follow-up session for a failed run. The failed record stays untouched.
func (s *ImportSession) NewRetry() (*ImportSession, error) {
	if s.Status != SessionStatusFailed {
		return nil, shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Only failed sessions can be retried, got: %s", s.Status))
	}
	next, err := NewImportSession(s.ImportType, s.SessionKey, s.DataDir, s.ArchiveName)
	if err != nil {
		return nil, err
	}
	id := s.ID
	next.RetryOf = &id
	next.Attempt = s.Attempt + 1
	next.AppendReport(fmt.Sprintf("retry of session %s", s.ID))
	return next, nil
}

// Duration returns how long the session has been running or ran
func (s *ImportSession) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if s.FinishedAt != nil {
		end = *s.FinishedAt
	}
	return end.Sub(*s.StartedAt)
}

// Task builds the queue payload for this session
func (s *ImportSession) Task() ImportTask {
	return ImportTask{
		SessionID:   s.ID,
		ImportType:  s.ImportType,
		DataDir:     s.DataDir,
		ArchiveName: s.ArchiveName,
		Attempt:     s.Attempt,
	}
}

// ImportTask is the payload handed to the async worker
type ImportTask struct {
	SessionID   uuid.UUID  `json:"session_id"`
	ImportType  ImportType `json:"import_type"`
	DataDir     string     `json:"data_dir"`
	ArchiveName string     `json:"archive_name,omitempty"`
	Attempt     int        `json:"attempt"`
}
