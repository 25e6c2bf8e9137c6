// Package testutil holds helpers shared by the package tests: an in-memory
// database with the exchange schema and a gin request driver.
package testutil

import (
	"testing"

	"github.com/erp/exchange/internal/infrastructure/config"
	"github.com/erp/exchange/internal/infrastructure/persistence"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// NewTestDB opens an in-memory sqlite database with the exchange schema,
// closed when the test ends
func NewTestDB(t *testing.T) *persistence.Database {
	t.Helper()

	db, err := persistence.Open(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err, "Failed to open sqlite database")
	require.NoError(t, db.AutoMigrate(), "Failed to migrate sqlite database")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func NewTestLogger() *zap.Logger {
	return zap.NewNop()
}
