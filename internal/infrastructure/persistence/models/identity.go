package models

import (
	"time"

	"github.com/erp/exchange/internal/domain/identity"
	"gorm.io/datatypes"
)

// AccountModel is the persistence model for storefront accounts.
type AccountModel struct {
	AggregateModel
	Username     string                      `gorm:"type:varchar(150);not null;uniqueIndex"`
	Email        string                      `gorm:"type:varchar(255);not null;default:'';index"`
	PasswordHash string                      `gorm:"type:varchar(255);not null;default:''"`
	FullName     string                      `gorm:"type:varchar(255);not null;default:''"`
	Phone        string                      `gorm:"type:varchar(50);not null;default:''"`
	ExternalID   *string                     `gorm:"type:varchar(100);uniqueIndex"`
	IsActive     bool                        `gorm:"not null"`
	IsStaff      bool                        `gorm:"not null;default:false"`
	Permissions  datatypes.JSONSlice[string] `gorm:"not null"`
	LastLoginAt  *time.Time
}

// TableName returns the table name for GORM
func (AccountModel) TableName() string {
	return "accounts"
}

// ToDomain converts the persistence model to a domain Account.
func (m *AccountModel) ToDomain() *identity.Account {
	perms := []string(m.Permissions)
	if perms == nil {
		perms = []string{}
	}
	return &identity.Account{
		BaseAggregateRoot: m.ToDomainAggregate(),
		Username:          m.Username,
		Email:             m.Email,
		PasswordHash:      m.PasswordHash,
		FullName:          m.FullName,
		Phone:             m.Phone,
		ExternalID:        m.ExternalID,
		IsActive:          m.IsActive,
		IsStaff:           m.IsStaff,
		Permissions:       perms,
		LastLoginAt:       m.LastLoginAt,
	}
}

// AccountModelFromDomain creates a persistence model from a domain Account.
func AccountModelFromDomain(a *identity.Account) *AccountModel {
	m := &AccountModel{
		Username:     a.Username,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		FullName:     a.FullName,
		Phone:        a.Phone,
		ExternalID:   a.ExternalID,
		IsActive:     a.IsActive,
		IsStaff:      a.IsStaff,
		Permissions:  datatypes.JSONSlice[string](a.Permissions),
		LastLoginAt:  a.LastLoginAt,
	}
	m.FromDomainAggregateRoot(a.BaseAggregateRoot)
	return m
}
