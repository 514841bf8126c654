package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/buildops/backend/internal/interfaces/http/dto"
)

// RequirePermission admits requests whose token grants permission
func RequirePermission(permission string) gin.HandlerFunc {
	return RequireAnyPermission(permission)
}

// RequireAnyPermission admits requests whose token grants at least one of permissions.
// It must run after JWTAuthMiddleware; a request without claims is refused the same way.
// The 403 body lists what would have been accepted.
func RequireAnyPermission(permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := GetJWTClaims(c); claims != nil && claims.HasAnyPermission(permissions...) {
			c.Next()
			return
		}
		resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeForbidden,
			"Access denied: insufficient permissions", GetRequestID(c)).WithDetails(permissions...)
		c.AbortWithStatusJSON(http.StatusForbidden, resp)
	}
}
