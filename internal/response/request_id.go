package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextKeyRequestID is the Gin context key for the request ID.
const ContextKeyRequestID = "request_id"

// maxRequestIDLength caps inbound X-Request-ID values; anything longer is
// replaced rather than reflected back in the response header.
const maxRequestIDLength = 64

// RequestIDMiddleware attaches a request ID to every request, honoring a
// caller-supplied X-Request-ID so clients can correlate retries, and echoes
// it on the response. The same ID lands in the envelope metadata.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" || len(reqID) > maxRequestIDLength {
			reqID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	}
}
