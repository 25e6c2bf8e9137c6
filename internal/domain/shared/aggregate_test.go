package shared

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseAggregateRoot(t *testing.T) {
	a := NewBaseAggregateRoot()
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", a.ID.String())
	assert.Equal(t, 1, a.GetVersion())
	a.IncrementVersion()
	assert.Equal(t, 2, a.GetVersion())
	assert.False(t, a.CreatedAt.IsZero())
}

func TestBaseAggregateRoot_Events(t *testing.T) {
	a := NewBaseAggregateRoot()
	assert.Empty(t, a.GetDomainEvents())

	ev := NewBaseDomainEvent("thing.happened", "thing", a.ID)
	a.AddDomainEvent(&ev)
	require.Len(t, a.GetDomainEvents(), 1)
	assert.Equal(t, a.ID, a.GetDomainEvents()[0].AggregateID())

	a.ClearDomainEvents()
	assert.Empty(t, a.GetDomainEvents())
}

func TestBaseEntity_Touch(t *testing.T) {
	e := NewBaseEntity()
	e.UpdatedAt = e.UpdatedAt.Add(-time.Hour)
	before := e.UpdatedAt

	e.Touch()
	assert.True(t, e.UpdatedAt.After(before))
	assert.True(t, e.UpdatedAt.After(e.CreatedAt) || e.UpdatedAt.Equal(e.CreatedAt))
}

func TestDomainError_IsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("loading product: %w", NewDomainError("NOT_FOUND", "product not found"))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrInvalidState))
}

func TestFilter_Paging(t *testing.T) {
	f := DefaultFilter()
	assert.Equal(t, 0, f.Offset())
	assert.Equal(t, 20, f.Limit())

	f.Page = 3
	f.PageSize = 50
	assert.Equal(t, 100, f.Offset())

	f.PageSize = 10000
	assert.Equal(t, 200, f.Limit())
}
