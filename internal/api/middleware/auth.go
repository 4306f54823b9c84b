package middleware

import (
	"net/http"
	"strings"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxOperatorID = "operatorID"
	CtxRole       = "role"
)

// ──────────────────────────────────────────────────────────────────────────────
// AdminJWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// AdminJWTMiddleware validates the Bearer token in the Authorization header
// against the shared admin signing secret. Tokens are provisioned out of band
// by ops tooling; there is no user store behind this surface. On success the
// operator UUID and role claim land in the gin context.
func AdminJWTMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": domain.ErrUnauthorized.Error(),
			})
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})
		if err != nil || !tok.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": domain.ErrTokenInvalid.Error(),
			})
			return
		}

		claims, ok := tok.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": domain.ErrTokenInvalid.Error(),
			})
			return
		}
		sub, _ := claims.GetSubject()
		operatorID, err := uuid.Parse(sub)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": domain.ErrTokenInvalid.Error(),
			})
			return
		}

		role, _ := claims["role"].(string)
		c.Set(CtxOperatorID, operatorID)
		c.Set(CtxRole, role)
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers — extract claims from context (for use in handlers)
// ──────────────────────────────────────────────────────────────────────────────

// GetOperatorID retrieves the authenticated operator's UUID from the gin
// context. Returns uuid.Nil if the middleware was not applied.
func GetOperatorID(c *gin.Context) uuid.UUID {
	v, exists := c.Get(CtxOperatorID)
	if !exists {
		return uuid.Nil
	}
	id, _ := v.(uuid.UUID)
	return id
}

// GetRole retrieves the authenticated operator's role string from the gin context.
func GetRole(c *gin.Context) string {
	v, _ := c.Get(CtxRole)
	r, _ := v.(string)
	return r
}
