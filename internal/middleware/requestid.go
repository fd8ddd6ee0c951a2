package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID string is
	// stored so handlers and other middleware can retrieve it without reading
	// the response header.
	RequestIDKey = "request_id"

	// maxRequestIDLength caps an inbound X-Request-ID. Anything longer is
	// replaced rather than truncated; an oversized value is more likely log
	// injection than a real correlation id.
	maxRequestIDLength = 128
)

// RequestIDMiddleware ensures every request carries a unique identifier,
// reusing an inbound X-Request-ID from an upstream proxy when present and
// generating a UUID v4 otherwise. The id is stored under RequestIDKey, echoed
// back in the response header, and picked up by the request logger, so an
// investigator can follow one request from the client's record through the
// structured logs to the audit entries it produced.
//
// Register this before the logging middleware so every log line carries the id.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)

		// Echo back to the caller for correlation with server-side logs.
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
