package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/sigae-edu/sigae-api/internal/models"
	appErrors "github.com/sigae-edu/sigae-api/pkg/errors"
	"github.com/sigae-edu/sigae-api/pkg/response"
)

// AuthorizationPort is the yes/no permission oracle consulted before
// dispatching mutating operations. Grant management lives in the
// surrounding platform.
type AuthorizationPort interface {
	Can(ctx context.Context, actorID, permissionCode string) (bool, error)
}

// AuthorizationPortFunc allows using plain functions as oracles.
type AuthorizationPortFunc func(ctx context.Context, actorID, permissionCode string) (bool, error)

// Can implements AuthorizationPort.
func (f AuthorizationPortFunc) Can(ctx context.Context, actorID, permissionCode string) (bool, error) {
	return f(ctx, actorID, permissionCode)
}

// AllowAll grants every permission. Used until the platform oracle is
// wired in deployment configuration.
func AllowAll() AuthorizationPort {
	return AuthorizationPortFunc(func(context.Context, string, string) (bool, error) {
		return true, nil
	})
}

// RequirePermission gates a route on the oracle's decision for the
// authenticated actor.
func RequirePermission(oracle AuthorizationPort, permissionCode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		allowed, err := oracle.Can(c.Request.Context(), claims.UserID, permissionCode)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "authorization check failed"))
			c.Abort()
			return
		}
		if !allowed {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
