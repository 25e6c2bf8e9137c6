package identity

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// PermissionExchange grants access to the 1C exchange endpoint.
// It is independent of IsStaff.
const PermissionExchange = "exchange_1c"

const bcryptCost = 12

// Account is a storefront account. 1C contragents are matched to accounts by ExternalID.
type Account struct {
	shared.BaseAggregateRoot
	Username     string
	Email        string
	PasswordHash string
	FullName     string
	Phone        string
	ExternalID   *string
	IsActive     bool
	IsStaff      bool
	Permissions  []string
	LastLoginAt  *time.Time
}

// NewAccount creates an active account with the given password
func NewAccount(username, email, password string) (*Account, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 {
		return nil, shared.NewDomainError("INVALID_USERNAME", "Username must be at least 3 characters")
	}
	if len(password) < 8 {
		return nil, shared.NewDomainError("INVALID_PASSWORD", "Password must be at least 8 characters")
	}
	a := &Account{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Username:          username,
		IsActive:          true,
		Permissions:       []string{},
	}
	if err := a.SetEmail(email); err != nil {
		return nil, err
	}
	if err := a.SetPassword(password); err != nil {
		return nil, err
	}
	return a, nil
}

// NewImportedAccount creates an account for a 1C contragent. It has no usable password.
func NewImportedAccount(externalID, fullName, email, phone string) (*Account, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, shared.NewDomainError("INVALID_EXTERNAL_ID", "Contragent id cannot be empty")
	}
	a := &Account{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Username:          "1c-" + externalID,
		FullName:          strings.TrimSpace(fullName),
		Phone:             strings.TrimSpace(phone),
		ExternalID:        &externalID,
		IsActive:          true,
		Permissions:       []string{},
	}
	if email != "" {
		if err := a.SetEmail(email); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// SetEmail validates and stores a lowercased email
func (a *Account) SetEmail(email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		a.Email = ""
		return nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return shared.NewDomainError("INVALID_EMAIL", "Invalid email address")
	}
	a.Email = email
	a.Touch()
	return nil
}

// SetPassword hashes and stores a password
func (a *Account) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return err
	}
	a.PasswordHash = string(hash)
	a.Touch()
	return nil
}

// VerifyPassword checks a password against the stored hash
func (a *Account) VerifyPassword(password string) bool {
	if a.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// HasPermission checks a named permission
func (a *Account) HasPermission(permission string) bool {
	for _, p := range a.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Grant adds a permission
func (a *Account) Grant(permission string) {
	if a.HasPermission(permission) {
		return
	}
	a.Permissions = append(a.Permissions, permission)
	a.Touch()
}

// CanUseExchange reports whether the account may call the exchange endpoint
func (a *Account) CanUseExchange() bool {
	return a.IsActive && a.HasPermission(PermissionExchange)
}

// LinkExternalID binds the account to a 1C contragent
func (a *Account) LinkExternalID(externalID string) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return
	}
	a.ExternalID = &externalID
	a.Touch()
}

// ApplyContragent updates contact fields from 1C. Blank values keep the stored ones.
func (a *Account) ApplyContragent(fullName, phone string) bool {
	changed := false
	if fullName = strings.TrimSpace(fullName); fullName != "" && fullName != a.FullName {
		a.FullName = fullName
		changed = true
	}
	if phone = strings.TrimSpace(phone); phone != "" && phone != a.Phone {
		a.Phone = phone
		changed = true
	}
	if changed {
		a.Touch()
	}
	return changed
}

// AccountRepository persists accounts
type AccountRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByExternalID(ctx context.Context, externalID string) (*Account, error)
	Save(ctx context.Context, account *Account) error
}
