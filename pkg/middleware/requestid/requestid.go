package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// Header is the propagated request ID header.
	Header = "X-Request-ID"

	ctxKey = "request_id"
)

// Middleware propagates the caller's request ID, minting one when absent.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(ctxKey, id)
		c.Writer.Header().Set(Header, id)

		c.Next()
	}
}

// Value returns the request ID stored in the gin context, if any.
func Value(c *gin.Context) string {
	if v, ok := c.Get(ctxKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
