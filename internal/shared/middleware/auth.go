package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"notification-service/internal/infrastructure/audit"
	"notification-service/internal/shared/response"
)

// AuthMiddleware verifies the Bearer JWT and puts the caller identity
// into the gin context. Failures land on the audit stream.
func AuthMiddleware(jwtSecret string, auditLog *audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			auditLog.AuthFailure("", c.ClientIP(), "missing authorization header")
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			auditLog.AuthFailure("", c.ClientIP(), "malformed authorization header")
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}
		token := parts[1]

		claims := jwt.MapClaims{}
		parsedToken, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(jwtSecret), nil
		})

		if err != nil || !parsedToken.Valid {
			auditLog.AuthFailure(audit.MaskToken(token), c.ClientIP(), "invalid token")
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		userIDStr, ok := claims["user_id"].(string)
		if !ok {
			auditLog.AuthFailure(audit.MaskToken(token), c.ClientIP(), "missing user_id claim")
			response.Unauthorized(c, "invalid user ID in token")
			c.Abort()
			return
		}

		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			auditLog.AuthFailure(audit.MaskToken(token), c.ClientIP(), "user_id is not a UUID")
			response.Unauthorized(c, "invalid UUID format")
			c.Abort()
			return
		}

		if role, ok := claims["role"].(string); ok {
			c.Set("role", role)
		}

		auditLog.AuthSuccess(userID.String(), c.ClientIP())
		c.Set("userID", userID)
		c.Next()
	}
}
