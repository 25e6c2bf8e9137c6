package handler

import (
	"errors"
	"net/http"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/interfaces/http/dto"
	"github.com/erp/exchange/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.OK(data))
}

func respondPage(c *gin.Context, data any, total int64, filter shared.Filter) {
	c.JSON(http.StatusOK, dto.Paged(data, total, filter.Page, filter.PageSize))
}

// respondError maps domain errors onto their API codes. Anything else is
// attached to the gin context for the request log and answered with a 500.
func respondError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.RequestIDKey)

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		c.JSON(dto.GetHTTPStatus(code), dto.Failure(code, domainErr.Message, requestID))
		return
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, dto.Failure(dto.ErrCodeInternal, "An unexpected error occurred", requestID))
}
