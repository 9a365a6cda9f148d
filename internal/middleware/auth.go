package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nauuaf/image-service/internal/auth"
	"github.com/nauuaf/image-service/internal/identity"
)

// userIDKey is the gin context key carrying the verified raw user id.
const userIDKey = "user_id"

// Verifier is the outbound auth dependency, satisfied by auth.Client.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (*auth.Identity, error)
}

// RequireAuth rejects requests without a valid bearer token. Verification
// failure of any kind, including an unreachable auth service, yields 401 and
// never a fabricated identity.
func RequireAuth(verifier Verifier, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		ident, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			log.Warn("Token verification failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(userIDKey, ident.ID)
		c.Next()
	}
}

// OptionalAuth resolves an identity when a bearer token is present and falls
// back to the demo handle only when the request carries no Authorization
// header at all. A token that fails verification is still a hard 401.
func OptionalAuth(verifier Verifier, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Set(userIDKey, identity.DemoHandle)
			c.Next()
			return
		}

		ident, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			log.Warn("Token verification failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(userIDKey, ident.ID)
		c.Next()
	}
}

// UserID returns the raw user id set by the auth middleware.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}
