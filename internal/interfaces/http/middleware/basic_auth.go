package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/erp/exchange/internal/domain/identity"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StaffUserKey holds the username of the authenticated operator
const StaffUserKey = "staff_user"

// AccountFinder loads accounts by username
type AccountFinder interface {
	FindByUsername(ctx context.Context, username string) (*identity.Account, error)
}

// StaffBasicAuth protects the operator API. Only active staff accounts pass;
// the exchange permission alone does not grant access.
func StaffBasicAuth(accounts AccountFinder, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok || username == "" {
			c.Header("WWW-Authenticate", `Basic realm="exchange"`)
			abortJSON(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Authentication required")
			return
		}

		account, err := accounts.FindByUsername(c.Request.Context(), username)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			abortJSON(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Invalid credentials")
			return
		case err != nil:
			logger.Error("failed to load operator account", zap.String("username", username), zap.Error(err))
			abortJSON(c, http.StatusInternalServerError, dto.ErrCodeInternal, "An unexpected error occurred")
			return
		}
		if !account.VerifyPassword(password) || !account.IsActive {
			abortJSON(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Invalid credentials")
			return
		}
		if !account.IsStaff {
			abortJSON(c, http.StatusForbidden, dto.ErrCodeForbidden, "Staff access required")
			return
		}

		c.Set(StaffUserKey, account.Username)
		c.Next()
	}
}

func abortJSON(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.Failure(code, message, getRequestID(c)))
}
