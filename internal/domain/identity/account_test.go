package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccount(t *testing.T) {
	a, err := NewAccount("exchange", "Ops@Example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", a.Email)
	assert.True(t, a.IsActive)
	assert.True(t, a.VerifyPassword("s3cret-pass"))
	assert.False(t, a.VerifyPassword("wrong"))

	_, err = NewAccount("ab", "", "s3cret-pass")
	assert.Error(t, err)
	_, err = NewAccount("exchange", "", "short")
	assert.Error(t, err)
	_, err = NewAccount("exchange", "not-an-email", "s3cret-pass")
	assert.Error(t, err)
}

func TestAccount_ExchangePermissionIsNotStaff(t *testing.T) {
	a, err := NewAccount("manager", "", "s3cret-pass")
	require.NoError(t, err)
	a.IsStaff = true
	assert.False(t, a.CanUseExchange())

	a.Grant(PermissionExchange)
	a.Grant(PermissionExchange)
	assert.Len(t, a.Permissions, 1)
	assert.True(t, a.CanUseExchange())

	a.IsActive = false
	assert.False(t, a.CanUseExchange())
}

func TestNewImportedAccount(t *testing.T) {
	a, err := NewImportedAccount("c-1", "ООО Ромашка", "", "+7 900")
	require.NoError(t, err)
	assert.Equal(t, "1c-c-1", a.Username)
	assert.False(t, a.VerifyPassword(""), "imported accounts cannot log in")
	require.NotNil(t, a.ExternalID)

	assert.False(t, a.ApplyContragent("", ""))
	assert.True(t, a.ApplyContragent("ООО Ромашка+", ""))
	assert.Equal(t, "+7 900", a.Phone)

	_, err = NewImportedAccount(" ", "", "", "")
	assert.Error(t, err)
}
