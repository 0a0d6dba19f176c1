package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/storefront_backend/utils"
)

// SessionMiddleware verifies the session token issued by the auth layer and
// puts the user's identity into the request context. Requests without a token
// pass through unauthenticated; per-route handlers decide whether a session
// is required.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			if auth := c.Request.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if token == "" {
			c.Next()
			return
		}

		validated, err := utils.JwtValidate(token)
		if err != nil || !validated.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claims, ok := validated.Claims.(*utils.JwtCustomClaim)
		if !ok || claims.ID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUserIdInContext(ctx, claims.ID)
		ctx = utils.SetUserEmailInContext(ctx, claims.Email)
		ctx = utils.SetUserNameInContext(ctx, claims.Name)
		ctx = utils.SetIsAdminInContext(ctx, claims.Role == "admin")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
