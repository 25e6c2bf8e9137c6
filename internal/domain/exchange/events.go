package exchange

import (
	"github.com/erp/exchange/internal/domain/shared"
)

const (
	// AggregateTypeImportSession is the aggregate type for import sessions
	AggregateTypeImportSession = "ImportSession"
	// EventTypeImportSessionFinished is emitted when a session reaches a terminal status
	EventTypeImportSessionFinished = "ImportSessionFinished"
)

// ImportSessionFinishedEvent is published when a session completes or fails
type ImportSessionFinishedEvent struct {
	shared.BaseDomainEvent
	ImportType      ImportType      `json:"import_type"`
	Status          SessionStatus   `json:"status"`
	FailureCategory FailureCategory `json:"failure_category,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Stats           ImportStats     `json:"stats"`
	Attempt         int             `json:"attempt"`
}

// NewImportSessionFinishedEvent snapshots the session into an event
func NewImportSessionFinishedEvent(s *ImportSession) *ImportSessionFinishedEvent {
	return &ImportSessionFinishedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeImportSessionFinished, AggregateTypeImportSession, s.ID),
		ImportType:      s.ImportType,
		Status:          s.Status,
		FailureCategory: s.FailureCategory,
		ErrorMessage:    s.ErrorMessage,
		Stats:           s.Stats.Clone(),
		Attempt:         s.Attempt,
	}
}
