package auth

import (
	"net/http"
	"strings"

	"github.com/abduss/storage-emulator/internal/rules"
	"github.com/gin-gonic/gin"
)

type contextKey string

const authContextKey contextKey = "storageAuth"

// Middleware resolves the caller from the Authorization header. Requests
// without the header continue as anonymous; malformed or invalid tokens are
// rejected with 401.
func Middleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": http.StatusUnauthorized, "message": "invalid authorization header"}})
			return
		}

		authCtx, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": http.StatusUnauthorized, "message": "invalid or expired token"}})
			return
		}

		c.Set(string(authContextKey), authCtx)
		c.Next()
	}
}

// Current returns the caller identity stored by Middleware, or nil for an
// anonymous request.
func Current(c *gin.Context) *rules.AuthContext {
	value, exists := c.Get(string(authContextKey))
	if !exists {
		return nil
	}
	authCtx, _ := value.(*rules.AuthContext)
	return authCtx
}

func extractBearerToken(header string) string {
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
