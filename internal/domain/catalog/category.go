package catalog

import (
	"context"
	"strings"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/google/uuid"
)

// Category is a classifier group from 1C
type Category struct {
	shared.BaseEntity
	ExternalID       string
	ParentExternalID string
	ParentID         *uuid.UUID
	Name             string
	Slug             string
}

// NewCategory creates a category
func NewCategory(externalID, name, parentExternalID string) (*Category, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, shared.NewDomainError("INVALID_CATEGORY_ID", "Category id cannot be empty")
	}
	return &Category{
		BaseEntity:       shared.NewBaseEntity(),
		ExternalID:       strings.TrimSpace(externalID),
		ParentExternalID: strings.TrimSpace(parentExternalID),
		Name:             strings.TrimSpace(name),
		Slug:             Slugify(name),
	}, nil
}

// CategoryRepository persists categories
type CategoryRepository interface {
	FindByExternalID(ctx context.Context, externalID string) (*Category, error)
	FindAll(ctx context.Context) ([]Category, error)
	Save(ctx context.Context, category *Category) error
}

// CategoryIndex maps external category ids to internal ids
type CategoryIndex map[string]uuid.UUID

// Resolve looks up a category id
func (i CategoryIndex) Resolve(externalID string) (*uuid.UUID, bool) {
	if externalID == "" {
		return nil, false
	}
	id, ok := i[externalID]
	if !ok {
		return nil, false
	}
	return &id, true
}
