package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDKey is the gin context key and header carrying the request id
const RequestIDKey = "X-Request-ID"

// requestIDContextKey is the key logger.GinMiddleware reads
const requestIDContextKey = "request_id"

// RequestID adds a unique request ID to each request.
// An id sent by the client is kept when it looks sane.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDKey)
		if requestID == "" || len(requestID) > 64 {
			requestID = generateRequestID()
		}
		c.Set(requestIDContextKey, requestID)
		c.Set(RequestIDKey, requestID)
		c.Writer.Header().Set(RequestIDKey, requestID)
		c.Next()
	}
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return time.Now().UTC().Format("20060102150405") + "-" + uuid.NewString()[:8]
	}
	return hex.EncodeToString(bytes)
}

// Secure adds the response headers every endpoint carries.
// The exchange endpoint serves plain text and zip archives only, so no CSP.
func Secure() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}
