package middleware

import (
	"net/http"

	"github.com/erp/exchange/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BodyLimit returns a middleware that limits request body size
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return BodyLimitWith(maxBytes, func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.Failure(
			dto.ErrCodeBadRequest,
			"Request body exceeds maximum allowed size",
			c.GetString(RequestIDKey),
		))
	})
}

// BodyLimitWith is BodyLimit with a caller supplied rejection.
// Chunked uploads without Content-Length are cut off by the MaxBytesReader.
func BodyLimitWith(maxBytes int64, reject gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			reject(c)
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
