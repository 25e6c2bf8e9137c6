package models

import (
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ImportSessionModel is the persistence model for the ImportSession aggregate.
type ImportSessionModel struct {
	AggregateModel
	ImportType      exchange.ImportType                `gorm:"type:varchar(20);not null;index:idx_import_sessions_type_status,priority:1"`
	Status          exchange.SessionStatus             `gorm:"type:varchar(20);not null;index:idx_import_sessions_type_status,priority:2"`
	StartedAt       *time.Time
	FinishedAt      *time.Time
	Report          string                             `gorm:"type:text;not null;default:''"`
	Stats           datatypes.JSONType[map[string]int] `gorm:"not null"`
	ErrorMessage    string                             `gorm:"type:text;not null;default:''"`
	FailureCategory exchange.FailureCategory           `gorm:"type:varchar(20);not null;default:''"`
	TaskHandle      string                             `gorm:"type:varchar(64);not null;default:''"`
	SessionKey      string                             `gorm:"type:varchar(64);not null;default:'';index"`
	DataDir         string                             `gorm:"type:varchar(500);not null"`
	ArchiveName     string                             `gorm:"type:varchar(255);not null;default:''"`
	Attempt         int                                `gorm:"not null;default:1"`
	RetryOf         *uuid.UUID                         `gorm:"type:uuid;index"`
}

// TableName returns the table name for GORM
func (ImportSessionModel) TableName() string {
	return "import_sessions"
}

// ToDomain converts the persistence model to a domain ImportSession.
func (m *ImportSessionModel) ToDomain() *exchange.ImportSession {
	stats := exchange.NewImportStats()
	for k, v := range m.Stats.Data() {
		stats[k] = v
	}
	return &exchange.ImportSession{
		BaseAggregateRoot: m.ToDomainAggregate(),
		ImportType:        m.ImportType,
		Status:            m.Status,
		StartedAt:         m.StartedAt,
		FinishedAt:        m.FinishedAt,
		Report:            m.Report,
		Stats:             stats,
		ErrorMessage:      m.ErrorMessage,
		FailureCategory:   m.FailureCategory,
		TaskHandle:        m.TaskHandle,
		SessionKey:        m.SessionKey,
		DataDir:           m.DataDir,
		ArchiveName:       m.ArchiveName,
		Attempt:           m.Attempt,
		RetryOf:           m.RetryOf,
	}
}

// FromDomain populates the persistence model from a domain ImportSession.
func (m *ImportSessionModel) FromDomain(s *exchange.ImportSession) {
	m.FromDomainAggregateRoot(s.BaseAggregateRoot)
	m.ImportType = s.ImportType
	m.Status = s.Status
	m.StartedAt = s.StartedAt
	m.FinishedAt = s.FinishedAt
	m.Report = s.Report
	m.Stats = datatypes.NewJSONType(map[string]int(s.Stats.Clone()))
	m.ErrorMessage = s.ErrorMessage
	m.FailureCategory = s.FailureCategory
	m.TaskHandle = s.TaskHandle
	m.SessionKey = s.SessionKey
	m.DataDir = s.DataDir
	m.ArchiveName = s.ArchiveName
	m.Attempt = s.Attempt
	m.RetryOf = s.RetryOf
}

// ImportSessionModelFromDomain creates a new persistence model from a domain ImportSession.
func ImportSessionModelFromDomain(s *exchange.ImportSession) *ImportSessionModel {
	m := &ImportSessionModel{}
	m.FromDomain(s)
	return m
}
