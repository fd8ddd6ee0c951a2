// actor.go extracts the audit actor from a request context. Every handler that
// writes an audit record goes through here so actor identity and client
// metadata are captured uniformly.
package middleware

import (
	"github.com/gin-gonic/gin"
)

// Actor is the request identity and client metadata an audit record carries.
type Actor struct {
	ID        *int64
	Name      string
	ClientIP  *string
	UserAgent *string
	SessionID *string
}

// ActorFromContext builds the Actor for the current request from the values
// AuthMiddleware stored. It works on unauthenticated requests too (login), in
// which case ID and SessionID are nil and the caller supplies the name.
func ActorFromContext(c *gin.Context) Actor {
	actor := Actor{}

	if v, ok := c.Get(UserIDKey); ok {
		if id, ok := v.(int64); ok {
			actor.ID = &id
		}
	}
	if v, ok := c.Get(FullNameKey); ok {
		if name, ok := v.(string); ok {
			actor.Name = name
		}
	}
	if v, ok := c.Get(SessionIDKey); ok {
		if sid, ok := v.(string); ok && sid != "" {
			actor.SessionID = &sid
		}
	}

	if ip := c.ClientIP(); ip != "" {
		actor.ClientIP = &ip
	}
	if ua := c.Request.UserAgent(); ua != "" {
		actor.UserAgent = &ua
	}

	return actor
}
