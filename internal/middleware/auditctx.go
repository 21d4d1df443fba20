package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/pkg/middleware/requestid"
)

// AuditContext opens the ambient audit scope for the request. It must
// run after the request ID middleware and before authentication, so the
// JWT layer can enrich the same scope with the actor identity.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		rc := audit.NewRequestContext(audit.RequestMeta{
			ForwardedFor: c.GetHeader("X-Forwarded-For"),
			RemoteAddr:   c.Request.RemoteAddr,
			UserAgent:    c.Request.UserAgent(),
			RequestID:    requestid.Value(c),
			Method:       c.Request.Method,
			Path:         path,
		})
		c.Request = c.Request.WithContext(audit.WithContext(c.Request.Context(), rc))
		c.Next()
	}
}
