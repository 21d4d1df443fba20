package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/internal/models"
	"github.com/foliohq/folio-api/internal/service"
	appErrors "github.com/foliohq/folio-api/pkg/errors"
	"github.com/foliohq/folio-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// JWT protects routes by requiring a valid access token.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		enrichAuditActor(c, claims)
		c.Next()
	}
}

// enrichAuditActor fills the ambient audit context with the
// authenticated identity, so every event logged later in the request
// attributes correctly without explicit plumbing.
func enrichAuditActor(c *gin.Context, claims *models.JWTClaims) {
	actorType := audit.ActorTypeUser
	if claims.Role == models.RoleSuperAdmin {
		actorType = audit.ActorTypeSuperadmin
	}
	id := claims.UserID
	email := claims.Email
	audit.UpdateActor(c.Request.Context(), audit.ActorUpdate{
		ActorID:    &id,
		ActorEmail: &email,
		ActorType:  actorType,
	})
}

// OptionalJWT attaches claims when present but does not block.
func OptionalJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.Next()
			return
		}

		c.Set(ContextUserKey, claims)
		enrichAuditActor(c, claims)
		c.Next()
	}
}
